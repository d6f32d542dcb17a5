package alt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Abdullah1738/juno-alt/offchain/solana"
	"github.com/Abdullah1738/juno-alt/offchain/solanarpc"
)

const (
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultActivationTimeout = 60 * time.Second
	DefaultMaxExtendBatch    = 20

	// MaxExtendBatchLimit is the largest extension that fits one packet
	// with distinct authority and payer and both compute budget
	// instructions.
	MaxExtendBatchLimit = 26
)

type Config struct {
	// Commitment used for slot reads, table reads and confirmations.
	Commitment        solanarpc.Commitment
	PollInterval      time.Duration
	ActivationTimeout time.Duration
	// MaxExtendBatch bounds the addresses appended per transaction.
	MaxExtendBatch int

	// Zero leaves the runtime defaults in place.
	ComputeUnitLimit uint32
	// ComputeUnitPrice is the priority fee in micro-lamports per unit.
	ComputeUnitPrice uint64
}

func DefaultConfig() Config {
	return Config{
		Commitment:        solanarpc.CommitmentProcessed,
		PollInterval:      DefaultPollInterval,
		ActivationTimeout: DefaultActivationTimeout,
		MaxExtendBatch:    DefaultMaxExtendBatch,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Commitment == "" {
		c.Commitment = d.Commitment
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ActivationTimeout == 0 {
		c.ActivationTimeout = d.ActivationTimeout
	}
	if c.MaxExtendBatch == 0 {
		c.MaxExtendBatch = d.MaxExtendBatch
	}
	return c
}

func (c Config) Validate() error {
	if _, err := solanarpc.ParseCommitment(string(c.Commitment)); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrConfiguration)
	}
	if c.ActivationTimeout <= 0 {
		return fmt.Errorf("%w: activation timeout must be positive", ErrConfiguration)
	}
	if c.MaxExtendBatch <= 0 || c.MaxExtendBatch > MaxExtendBatchLimit {
		return fmt.Errorf("%w: max extend batch must be in [1, %d]", ErrConfiguration, MaxExtendBatchLimit)
	}
	return nil
}

// Manager drives a lookup table through creation, extension and
// activation. It holds no per-table state and can serve several tables
// concurrently; a single table must only be driven by one caller at a time.
type Manager struct {
	ledger    Ledger
	cfg       Config
	log       *zap.Logger
	metrics   *Metrics
	submitter *Submitter
}

func NewManager(ledger Ledger, cfg Config, logger *zap.Logger, metrics *Metrics) (*Manager, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: nil ledger", ErrConfiguration)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		ledger:    ledger,
		cfg:       cfg,
		log:       logger,
		metrics:   metrics,
		submitter: NewSubmitter(ledger, cfg.Commitment, logger, metrics).withComputeUnits(cfg.ComputeUnitLimit, cfg.ComputeUnitPrice),
	}, nil
}

func (m *Manager) Config() Config { return m.cfg }

// Create submits CreateLookupTable for authority at the current slot and
// returns the new, empty table once the ledger confirms it. A stale
// blockhash fails with ErrStaleFreshnessToken and the caller may simply
// call Create again.
func (m *Manager) Create(ctx context.Context, authority, feePayer solana.Signer) (Table, error) {
	if feePayer == nil {
		return Table{}, ErrNoSignerSpecified
	}
	if authority == nil {
		return Table{}, fmt.Errorf("%w: authority", ErrMissingSignature)
	}
	auth := authority.PublicKey()

	slot, err := m.ledger.Slot(ctx, m.cfg.Commitment)
	if err != nil {
		return Table{}, fmt.Errorf("get slot: %w", err)
	}
	addr, bump, err := solana.DeriveLookupTableAddress(auth, slot)
	if err != nil {
		return Table{}, fmt.Errorf("derive lookup table address: %w", err)
	}
	if check, err := solana.LookupTableAddressWithBump(auth, slot, bump); err != nil || check != addr {
		return Table{}, fmt.Errorf("%w: %s (slot %d, bump %d)", ErrDerivationMismatch, addr.Base58(), slot, bump)
	}

	log := m.log.With(zap.String("table", addr.Base58()), zap.String("authority", auth.Base58()), zap.Uint64("recent_slot", slot))
	log.Info("creating lookup table", zap.Uint8("bump", bump))

	ix := solana.CreateLookupTableInstruction(addr, auth, feePayer.PublicKey(), slot, bump)
	if _, err := m.send(ctx, "create", feePayer, []solana.Instruction{ix}, authority); err != nil {
		return Table{}, err
	}

	log.Info("lookup table created")
	return Table{
		Address:      addr,
		Authority:    auth,
		CreationSlot: slot,
		Bump:         bump,
		State:        StateCreated,
	}, nil
}

// Extend appends addresses to table in order. Batches larger than
// Config.MaxExtendBatch are split across transactions. When a later batch
// fails the returned table holds exactly the confirmed addresses, along
// with the error.
func (m *Manager) Extend(ctx context.Context, table Table, authority, feePayer solana.Signer, addresses []solana.Pubkey) (Table, error) {
	if table.State == StateUninitialized {
		return table, fmt.Errorf("%w: table %s has not been created", ErrInvalidState, table.Address.Base58())
	}
	if feePayer == nil {
		return table, ErrNoSignerSpecified
	}
	if authority == nil || authority.PublicKey() != table.Authority {
		return table, fmt.Errorf("%w: table authority %s", ErrMissingSignature, table.Authority.Base58())
	}
	if len(addresses) == 0 {
		return table, ErrNoAddresses
	}
	if n := len(table.Addresses) + len(addresses); n > solana.LookupTableMaxAddresses {
		return table, fmt.Errorf("%w: %d addresses (max %d)", ErrTableFull, n, solana.LookupTableMaxAddresses)
	}
	seen := make(map[solana.Pubkey]struct{}, len(addresses))
	for _, pk := range addresses {
		if _, dup := seen[pk]; dup || table.contains(pk) {
			return table, fmt.Errorf("%w: %s", ErrDuplicateAddress, pk.Base58())
		}
		seen[pk] = struct{}{}
	}

	log := m.log.With(zap.String("table", table.Address.Base58()))
	out := table.clone()
	for start := 0; start < len(addresses); start += m.cfg.MaxExtendBatch {
		end := min(start+m.cfg.MaxExtendBatch, len(addresses))
		batch := addresses[start:end]

		ix := solana.ExtendLookupTableInstruction(out.Address, out.Authority, feePayer.PublicKey(), batch)
		conf, err := m.send(ctx, "extend", feePayer, []solana.Instruction{ix}, authority)
		if err != nil {
			if len(out.Addresses) > len(table.Addresses) {
				log.Warn("extension stopped early",
					zap.Int("confirmed", len(out.Addresses)-len(table.Addresses)),
					zap.Int("requested", len(addresses)))
			}
			return out, err
		}
		out.Addresses = append(out.Addresses, batch...)
		out.LastExtendedSlot = conf.Slot
		out.State = StateExtended
		log.Info("lookup table extended",
			zap.Int("added", len(batch)),
			zap.Int("total", len(out.Addresses)),
			zap.Uint64("slot", conf.Slot))
	}
	return out, nil
}

// AwaitActive polls the ledger until the table's on-chain contents start
// with the local addresses and every on-chain address is usable. It returns
// the canonical table in StateActive.
//
// A zero pollInterval or timeout falls back to the manager's Config. On
// timeout the input table is returned unchanged with ErrActivationTimeout;
// caller cancellation returns ctx.Err().
func (m *Manager) AwaitActive(ctx context.Context, table Table, pollInterval, timeout time.Duration) (Table, error) {
	if table.State == StateUninitialized {
		return table, fmt.Errorf("%w: table %s has not been created", ErrInvalidState, table.Address.Base58())
	}
	if pollInterval <= 0 {
		pollInterval = m.cfg.PollInterval
	}
	if timeout <= 0 {
		timeout = m.cfg.ActivationTimeout
	}

	log := m.log.With(zap.String("table", table.Address.Base58()), zap.Int("addresses", len(table.Addresses)))
	started := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		m.metrics.poll()
		active, ready, err := m.poll(waitCtx, table)
		switch {
		case err != nil && waitCtx.Err() != nil:
			// The read was cut short by the deadline or by the caller.
		case err != nil:
			return table, err
		case ready:
			wait := time.Since(started)
			m.metrics.activated(wait, len(active.Addresses))
			log.Info("lookup table active", zap.Duration("wait", wait), zap.Uint64("last_extended_slot", active.LastExtendedSlot))
			return active, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return table, ctx.Err()
			}
			log.Warn("lookup table did not become active", zap.Duration("timeout", timeout))
			return table, fmt.Errorf("%w: %s after %s", ErrActivationTimeout, table.Address.Base58(), timeout)
		case <-ticker.C:
		}
	}
}

// poll reads the table once. ready is false while the account or its latest
// addresses have not propagated yet.
func (m *Manager) poll(ctx context.Context, table Table) (Table, bool, error) {
	st, err := m.readState(ctx, table.Address, table.Authority)
	if errors.Is(err, solanarpc.ErrAccountNotFound) {
		return Table{}, false, nil
	}
	if err != nil {
		return Table{}, false, err
	}
	if !st.IsActive() {
		return Table{}, false, fmt.Errorf("%w: %s at slot %d", ErrTableDeactivated, table.Address.Base58(), st.DeactivationSlot)
	}
	if len(st.Addresses) < len(table.Addresses) {
		return Table{}, false, nil
	}
	for i, pk := range table.Addresses {
		if st.Addresses[i] != pk {
			return Table{}, false, fmt.Errorf("%w: index %d is %s on-chain, %s locally", ErrTableConflict, i, st.Addresses[i].Base58(), pk.Base58())
		}
	}

	slot, err := m.ledger.Slot(ctx, m.cfg.Commitment)
	if err != nil {
		return Table{}, false, fmt.Errorf("get slot: %w", err)
	}
	if len(st.UsableAddresses(slot)) < len(st.Addresses) {
		return Table{}, false, nil
	}

	out := tableFromState(table.Address, st)
	out.CreationSlot = table.CreationSlot
	out.Bump = table.Bump
	out.State = StateActive
	return out, true, nil
}

// Fetch reads the canonical table at address from the ledger. The
// returned State is StateActive when every address is usable at the
// current slot.
func (m *Manager) Fetch(ctx context.Context, address solana.Pubkey) (Table, error) {
	st, err := m.readState(ctx, address, solana.Pubkey{})
	if err != nil {
		return Table{}, err
	}
	out := tableFromState(address, st)
	if !st.IsActive() {
		return out, fmt.Errorf("%w: %s at slot %d", ErrTableDeactivated, address.Base58(), st.DeactivationSlot)
	}
	slot, err := m.ledger.Slot(ctx, m.cfg.Commitment)
	if err != nil {
		return Table{}, fmt.Errorf("get slot: %w", err)
	}
	switch {
	case len(st.UsableAddresses(slot)) == len(st.Addresses):
		out.State = StateActive
	case len(st.Addresses) > 0:
		out.State = StateExtended
	default:
		out.State = StateCreated
	}
	return out, nil
}

// Execute compiles instructions against tables with a fresh blockhash and
// submits them. feePayer and extraSigners must cover exactly the required
// signers.
func (m *Manager) Execute(ctx context.Context, feePayer solana.Signer, instructions []solana.Instruction, tables []Table, extraSigners ...solana.Signer) (solanarpc.Confirmation, error) {
	if feePayer == nil {
		return solanarpc.Confirmation{}, ErrNoSignerSpecified
	}
	bh, err := m.ledger.LatestBlockhash(ctx)
	if err != nil {
		return solanarpc.Confirmation{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	msg, err := Compile(feePayer.PublicKey(), m.withBudget(instructions), tables, bh)
	if err != nil {
		return solanarpc.Confirmation{}, err
	}
	return m.submitter.submit(ctx, "execute", msg, append([]solana.Signer{feePayer}, extraSigners...)...)
}

func (m *Manager) send(ctx context.Context, step string, feePayer solana.Signer, ixs []solana.Instruction, extraSigners ...solana.Signer) (solanarpc.Confirmation, error) {
	bh, err := m.ledger.LatestBlockhash(ctx)
	if err != nil {
		return solanarpc.Confirmation{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	msg, err := Compile(feePayer.PublicKey(), m.withBudget(ixs), nil, bh)
	if err != nil {
		return solanarpc.Confirmation{}, err
	}
	return m.submitter.submit(ctx, step, msg, append([]solana.Signer{feePayer}, extraSigners...)...)
}

// withBudget prepends the configured compute budget instructions.
func (m *Manager) withBudget(ixs []solana.Instruction) []solana.Instruction {
	var out []solana.Instruction
	if m.cfg.ComputeUnitLimit != 0 {
		out = append(out, solana.ComputeBudgetSetComputeUnitLimit(m.cfg.ComputeUnitLimit))
	}
	if m.cfg.ComputeUnitPrice != 0 {
		out = append(out, solana.ComputeBudgetSetComputeUnitPrice(m.cfg.ComputeUnitPrice))
	}
	if len(out) == 0 {
		return ixs
	}
	return append(out, ixs...)
}

// readState fetches and decodes the table account. A non-zero authority
// must match the on-chain one.
func (m *Manager) readState(ctx context.Context, address, authority solana.Pubkey) (solana.AddressLookupTableState, error) {
	acct, err := m.ledger.AccountInfo(ctx, address, m.cfg.Commitment)
	if err != nil {
		return solana.AddressLookupTableState{}, fmt.Errorf("get table account: %w", err)
	}
	if acct.Owner != solana.AddressLookupTableProgramID {
		return solana.AddressLookupTableState{}, fmt.Errorf("%w: %s is owned by %s", ErrDerivationMismatch, address.Base58(), acct.Owner.Base58())
	}
	st, err := solana.ParseAddressLookupTable(acct.Data)
	if err != nil {
		return solana.AddressLookupTableState{}, fmt.Errorf("decode table %s: %w", address.Base58(), err)
	}
	if !authority.IsZero() && (st.Authority == nil || *st.Authority != authority) {
		return solana.AddressLookupTableState{}, fmt.Errorf("%w: %s has a different authority", ErrDerivationMismatch, address.Base58())
	}
	return st, nil
}

func tableFromState(address solana.Pubkey, st solana.AddressLookupTableState) Table {
	out := Table{
		Address:          address,
		Addresses:        append([]solana.Pubkey(nil), st.Addresses...),
		LastExtendedSlot: st.LastExtendedSlot,
	}
	if st.Authority != nil {
		out.Authority = *st.Authority
	}
	return out
}
