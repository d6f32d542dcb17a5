package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/Abdullah1738/juno-alt/offchain/alt"
	"github.com/Abdullah1738/juno-alt/offchain/solana"
	"github.com/Abdullah1738/juno-alt/offchain/solanarpc"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(os.Stdout)
			return
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, argv []string, stdout io.Writer) error {
	if len(argv) == 0 || argv[0] == "-h" || argv[0] == "--help" || argv[0] == "help" {
		printUsage(stdout)
		return nil
	}

	switch argv[0] {
	case "create":
		return cmdCreate(ctx, argv[1:], stdout)
	case "extend":
		return cmdExtend(ctx, argv[1:], stdout)
	case "await":
		return cmdAwait(ctx, argv[1:], stdout)
	case "show":
		return cmdShow(ctx, argv[1:], stdout)
	case "run":
		return cmdRun(ctx, argv[1:], stdout)
	default:
		return fmt.Errorf("unknown command: %s", argv[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "alt-lifecycle: address lookup table tooling")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  alt-lifecycle create [common flags] --name <name>")
	fmt.Fprintln(w, "  alt-lifecycle extend [common flags] --name <name> [--address <base58>...] [--generate <n>]")
	fmt.Fprintln(w, "  alt-lifecycle await  [common flags] --name <name> [--timeout <duration>]")
	fmt.Fprintln(w, "  alt-lifecycle show   [common flags] (--name <name> | --table <base58>)")
	fmt.Fprintln(w, "  alt-lifecycle run    [common flags] [--name <name>] [--address <base58>...] [--generate <n>] [--lamports <u64>] [--transfer-index <u8>]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Common flags:")
	fmt.Fprintln(w, "  --config <path>  --rpc-url <url>  --keypair <path>  --authority-keypair <path>")
	fmt.Fprintln(w, "  --commitment processed|confirmed|finalized  --registry <path>")
	fmt.Fprintln(w, "  --compute-unit-limit <u32>  --compute-unit-price <microLamports>")
	fmt.Fprintln(w, "  --log-level <level>  --log-format json|console  --metrics-address <host:port>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  SOLANA_RPC_URL, RPC_URL   RPC endpoint")
	fmt.Fprintln(w, "  SOLANA_KEYPAIR            payer keypair path (Solana CLI JSON format)")
	fmt.Fprintln(w, "  DEV_KEY                   payer keypair as base58 secret (overrides the keypair path)")
}

// commonFlags are shared by every subcommand. Set flags override the config
// file and environment.
type commonFlags struct {
	configPath       string
	rpcURL           string
	keypair          string
	authorityKeypair string
	commitment       string
	registry         string
	logLevel         string
	logFormat        string
	metricsAddress   string
	computeUnitLimit uint32
	computeUnitPrice uint64
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML config file")
	fs.StringVar(&c.rpcURL, "rpc-url", "", "Solana JSON-RPC endpoint")
	fs.StringVar(&c.keypair, "keypair", "", "Payer keypair path (Solana CLI JSON format)")
	fs.StringVar(&c.authorityKeypair, "authority-keypair", "", "Table authority keypair path (defaults to the payer)")
	fs.StringVar(&c.commitment, "commitment", "", "Commitment level: processed|confirmed|finalized")
	fs.StringVar(&c.registry, "registry", "", "Table registry file")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	fs.StringVar(&c.logFormat, "log-format", "", "Log format (json|console)")
	fs.StringVar(&c.metricsAddress, "metrics-address", "", "Serve Prometheus metrics on this address")
	fs.Uint32Var(&c.computeUnitLimit, "compute-unit-limit", 0, "Compute unit limit per transaction (0 keeps the runtime default)")
	fs.Uint64Var(&c.computeUnitPrice, "compute-unit-price", 0, "Priority fee in micro-lamports per compute unit")
}

func (c *commonFlags) resolve(fs *pflag.FlagSet, getenv func(string) string) (config, error) {
	cfg, err := loadConfig(c.configPath, getenv)
	if err != nil {
		return config{}, err
	}
	override := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = strings.TrimSpace(v)
		}
	}
	override("rpc-url", &cfg.RPCURL, c.rpcURL)
	override("keypair", &cfg.KeypairPath, c.keypair)
	override("authority-keypair", &cfg.AuthorityKeypairPath, c.authorityKeypair)
	override("commitment", &cfg.Commitment, c.commitment)
	override("registry", &cfg.RegistryPath, c.registry)
	override("log-level", &cfg.Log.Level, c.logLevel)
	override("log-format", &cfg.Log.Format, c.logFormat)
	override("metrics-address", &cfg.Metrics.Address, c.metricsAddress)
	if fs.Changed("compute-unit-limit") {
		cfg.ComputeUnitLimit = c.computeUnitLimit
	}
	if fs.Changed("compute-unit-price") {
		cfg.ComputeUnitPrice = c.computeUnitPrice
	}
	if fs.Changed("keypair") {
		// An explicit keypair file wins over DEV_KEY.
		cfg.devKey = ""
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// session is everything a subcommand needs once configuration is resolved.
type session struct {
	cfg       config
	log       *zap.Logger
	manager   *alt.Manager
	rpc       *solanarpc.Client
	payer     *solana.Keypair
	authority *solana.Keypair
	close     func()
}

func newLogger(level, format string) (*zap.Logger, error) {
	var zcfg zap.Config
	if format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: log.level: %w", alt.ErrConfiguration, err)
	}
	zcfg.Level = lvl
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func startSession(cfg config, command string) (*session, error) {
	logger, err := newLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("run_id", uuid.NewString()), zap.String("command", command))

	payer, err := cfg.payer()
	if err != nil {
		return nil, err
	}
	authority, err := cfg.authority(payer)
	if err != nil {
		return nil, err
	}
	lc, err := cfg.lifecycle()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := alt.NewMetrics(reg)

	rpc := solanarpc.New(cfg.RPCURL, nil)
	manager, err := alt.NewManager(rpc, lc, logger, metrics)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:       cfg,
		log:       logger,
		manager:   manager,
		rpc:       rpc,
		payer:     payer,
		authority: authority,
	}
	stopMetrics := serveMetrics(cfg.Metrics.Address, reg, logger)
	s.close = func() {
		stopMetrics()
		_ = logger.Sync()
	}

	logger.Info("session started",
		zap.String("payer", payer.PublicKey().Base58()),
		zap.String("authority", authority.PublicKey().Base58()),
		zap.String("commitment", string(lc.Commitment)))
	return s, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	if strings.TrimSpace(addr) == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("address", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
