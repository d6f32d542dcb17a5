package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Abdullah1738/juno-alt/offchain/alt"
	"github.com/Abdullah1738/juno-alt/offchain/solana"
	"github.com/Abdullah1738/juno-alt/offchain/tables"
)

const (
	defaultTableName     = "default"
	defaultTransferIndex = 2
	defaultLamports      = 10_000
)

func cmdCreate(ctx context.Context, argv []string, stdout io.Writer) error {
	fs := newFlagSet("create")
	var common commonFlags
	common.register(fs)
	var name string
	fs.StringVar(&name, "name", defaultTableName, "Registry name for the new table")
	if err := fs.Parse(argv); err != nil {
		return err
	}
	if len(fs.Args()) != 0 {
		return fmt.Errorf("unexpected args: %v", fs.Args())
	}

	cfg, err := common.resolve(fs, os.Getenv)
	if err != nil {
		return err
	}
	s, err := startSession(cfg, "create")
	if err != nil {
		return err
	}
	defer s.close()

	table, err := s.manager.Create(ctx, s.authority, s.payer)
	if err != nil {
		return err
	}
	if err := s.saveTable(name, table); err != nil {
		return err
	}
	fmt.Fprintln(stdout, table.Address.Base58())
	return nil
}

func cmdExtend(ctx context.Context, argv []string, stdout io.Writer) error {
	fs := newFlagSet("extend")
	var common commonFlags
	common.register(fs)
	var (
		name      string
		addresses []string
		generate  int
	)
	fs.StringVar(&name, "name", defaultTableName, "Registry name of the table")
	fs.StringSliceVar(&addresses, "address", nil, "Address to append (repeatable, comma separated)")
	fs.IntVar(&generate, "generate", 0, "Append this many freshly generated addresses")
	if err := fs.Parse(argv); err != nil {
		return err
	}

	addrs, err := collectAddresses(addresses, fs.Args(), generate)
	if err != nil {
		return err
	}
	cfg, err := common.resolve(fs, os.Getenv)
	if err != nil {
		return err
	}
	s, err := startSession(cfg, "extend")
	if err != nil {
		return err
	}
	defer s.close()

	table, err := s.loadTable(name)
	if err != nil {
		return err
	}
	table, extendErr := s.manager.Extend(ctx, table, s.authority, s.payer, addrs)
	// Partial progress is recorded even when a later batch failed.
	if err := s.saveTable(name, table); err != nil {
		return errors.Join(extendErr, err)
	}
	if extendErr != nil {
		return extendErr
	}
	return printAddresses(stdout, table)
}

func cmdAwait(ctx context.Context, argv []string, stdout io.Writer) error {
	fs := newFlagSet("await")
	var common commonFlags
	common.register(fs)
	var (
		name         string
		timeout      time.Duration
		pollInterval time.Duration
	)
	fs.StringVar(&name, "name", defaultTableName, "Registry name of the table")
	fs.DurationVar(&timeout, "timeout", 0, "Activation timeout (defaults to activation_timeout)")
	fs.DurationVar(&pollInterval, "poll-interval", 0, "Ledger poll interval (defaults to poll_interval)")
	if err := fs.Parse(argv); err != nil {
		return err
	}
	if len(fs.Args()) != 0 {
		return fmt.Errorf("unexpected args: %v", fs.Args())
	}

	cfg, err := common.resolve(fs, os.Getenv)
	if err != nil {
		return err
	}
	s, err := startSession(cfg, "await")
	if err != nil {
		return err
	}
	defer s.close()

	table, err := s.loadTable(name)
	if err != nil {
		return err
	}
	table, err = s.manager.AwaitActive(ctx, table, pollInterval, timeout)
	if err != nil {
		return err
	}
	if err := s.saveTable(name, table); err != nil {
		return err
	}
	return printAddresses(stdout, table)
}

func cmdShow(ctx context.Context, argv []string, stdout io.Writer) error {
	fs := newFlagSet("show")
	var common commonFlags
	common.register(fs)
	var name, address string
	fs.StringVar(&name, "name", "", "Registry name of the table")
	fs.StringVar(&address, "table", "", "Table address (base58)")
	if err := fs.Parse(argv); err != nil {
		return err
	}
	if (name == "") == (address == "") {
		return errors.New("exactly one of --name or --table is required")
	}

	cfg, err := common.resolve(fs, os.Getenv)
	if err != nil {
		return err
	}
	s, err := startSession(cfg, "show")
	if err != nil {
		return err
	}
	defer s.close()

	var pk solana.Pubkey
	if address != "" {
		if pk, err = solana.ParsePubkey(address); err != nil {
			return fmt.Errorf("parse --table: %w", err)
		}
	} else {
		local, err := s.loadTable(name)
		if err != nil {
			return err
		}
		pk = local.Address
	}

	table, err := s.manager.Fetch(ctx, pk)
	if err != nil {
		return err
	}
	rec := tables.NewRecord(name, table)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

// cmdRun drives a table through its whole lifecycle and finishes with a
// transfer that loads its recipient from the table.
func cmdRun(ctx context.Context, argv []string, stdout io.Writer) error {
	fs := newFlagSet("run")
	var common commonFlags
	common.register(fs)
	var (
		name          string
		addresses     []string
		generate      int
		lamports      uint64
		transferIndex uint8
	)
	fs.StringVar(&name, "name", defaultTableName, "Registry name for the table")
	fs.StringSliceVar(&addresses, "address", nil, "Address to append (repeatable; defaults to system program, rent sysvar and generated addresses)")
	fs.IntVar(&generate, "generate", 3, "Freshly generated addresses to append")
	fs.Uint64Var(&lamports, "lamports", defaultLamports, "Lamports to transfer in the final transaction")
	fs.Uint8Var(&transferIndex, "transfer-index", defaultTransferIndex, "Table index of the transfer recipient")
	if err := fs.Parse(argv); err != nil {
		return err
	}

	var addrs []solana.Pubkey
	if len(addresses) == 0 && len(fs.Args()) == 0 {
		addrs = []solana.Pubkey{solana.SystemProgramID, solana.RentSysvarID}
	}
	extra, err := collectAddresses(addresses, fs.Args(), generate)
	if err != nil {
		return err
	}
	addrs = append(addrs, extra...)
	if int(transferIndex) >= len(addrs) {
		return fmt.Errorf("--transfer-index %d is out of range for %d addresses", transferIndex, len(addrs))
	}

	cfg, err := common.resolve(fs, os.Getenv)
	if err != nil {
		return err
	}
	s, err := startSession(cfg, "run")
	if err != nil {
		return err
	}
	defer s.close()

	commitment := s.manager.Config().Commitment
	balance, err := s.rpc.BalanceLamports(ctx, s.payer.PublicKey(), commitment)
	if err != nil {
		return fmt.Errorf("get payer balance: %w", err)
	}
	if balance < lamports {
		return fmt.Errorf("payer %s holds %d lamports, the transfer needs %d", s.payer.PublicKey().Base58(), balance, lamports)
	}
	s.log.Debug("payer balance", zap.Uint64("lamports", balance))

	table, err := s.manager.Create(ctx, s.authority, s.payer)
	if err != nil {
		return err
	}
	if err := s.saveTable(name, table); err != nil {
		return err
	}

	table, err = s.manager.Extend(ctx, table, s.authority, s.payer, addrs)
	if saveErr := s.saveTable(name, table); saveErr != nil {
		return errors.Join(err, saveErr)
	}
	if err != nil {
		return err
	}

	table, err = s.manager.AwaitActive(ctx, table, 0, 0)
	if err != nil {
		return err
	}
	if err := s.saveTable(name, table); err != nil {
		return err
	}

	recipient := table.Addresses[transferIndex]
	ix := solana.SystemTransfer(s.payer.PublicKey(), recipient, lamports)
	conf, err := s.manager.Execute(ctx, s.payer, []solana.Instruction{ix}, []alt.Table{table})
	if err != nil {
		return err
	}
	fields := []zap.Field{
		zap.String("recipient", recipient.Base58()),
		zap.Uint64("lamports", lamports),
		zap.String("signature", conf.Signature.Base58()),
	}
	if after, err := s.rpc.BalanceLamports(ctx, recipient, commitment); err == nil {
		fields = append(fields, zap.Uint64("recipient_balance", after))
	}
	s.log.Info("transfer confirmed", fields...)
	fmt.Fprintln(stdout, conf.Signature.Base58())
	return nil
}

// collectAddresses merges flag and positional addresses and appends n
// generated ones.
func collectAddresses(flagValues, positional []string, n int) ([]solana.Pubkey, error) {
	if n < 0 || n > solana.LookupTableMaxAddresses {
		return nil, fmt.Errorf("--generate must be in [0, %d]", solana.LookupTableMaxAddresses)
	}
	out := make([]solana.Pubkey, 0, len(flagValues)+len(positional)+n)
	for _, s := range append(append([]string(nil), flagValues...), positional...) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		pk, err := solana.ParsePubkey(s)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", s, err)
		}
		out = append(out, pk)
	}
	for i := 0; i < n; i++ {
		kp, err := solana.NewKeypair()
		if err != nil {
			return nil, err
		}
		out = append(out, kp.PublicKey())
	}
	return out, nil
}

func printAddresses(w io.Writer, t alt.Table) error {
	if _, err := fmt.Fprintf(w, "%s %s\n", t.Address.Base58(), t.State); err != nil {
		return err
	}
	for i, pk := range t.Addresses {
		if _, err := fmt.Fprintf(w, "  %3d %s\n", i, pk.Base58()); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) loadTable(name string) (alt.Table, error) {
	reg, err := tables.Load(s.cfg.RegistryPath)
	if err != nil {
		return alt.Table{}, fmt.Errorf("load table registry %q: %w", s.cfg.RegistryPath, err)
	}
	rec, err := reg.FindByName(name)
	if err != nil {
		return alt.Table{}, fmt.Errorf("find table %q in %q: %w", name, s.cfg.RegistryPath, err)
	}
	return rec.Table()
}

func (s *session) saveTable(name string, t alt.Table) error {
	if t.State == alt.StateUninitialized {
		return nil
	}
	reg, err := tables.LoadOrEmpty(s.cfg.RegistryPath)
	if err != nil {
		return fmt.Errorf("load table registry %q: %w", s.cfg.RegistryPath, err)
	}
	rec := tables.NewRecord(name, t)
	rec.RPCURL = s.cfg.RPCURL
	rec.Cluster = s.cfg.cluster()
	if err := reg.Upsert(rec); err != nil {
		return err
	}
	if err := reg.Save(s.cfg.RegistryPath); err != nil {
		return fmt.Errorf("save table registry %q: %w", s.cfg.RegistryPath, err)
	}
	s.log.Debug("table saved", zap.String("name", name), zap.String("state", t.State.String()))
	return nil
}
