package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"net/url"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Abdullah1738/juno-alt/offchain/alt"
	"github.com/Abdullah1738/juno-alt/offchain/solana"
	"github.com/Abdullah1738/juno-alt/offchain/solanarpc"
)

const defaultRegistryPath = "tables.json"

type logConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type metricsConfig struct {
	Address string `yaml:"address"`
}

type config struct {
	RPCURL               string        `yaml:"rpc_url"`
	Cluster              string        `yaml:"cluster"`
	KeypairPath          string        `yaml:"keypair_path"`
	AuthorityKeypairPath string        `yaml:"authority_keypair_path"`
	Commitment           string        `yaml:"commitment"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	ActivationTimeout    time.Duration `yaml:"activation_timeout"`
	MaxExtendBatch       int           `yaml:"max_extend_batch"`
	ComputeUnitLimit     uint32        `yaml:"compute_unit_limit"`
	ComputeUnitPrice     uint64        `yaml:"compute_unit_price"`
	RegistryPath         string        `yaml:"registry_path"`
	Log                  logConfig     `yaml:"log"`
	Metrics              metricsConfig `yaml:"metrics"`

	// devKey is a base58 keypair secret. Only ever read from DEV_KEY.
	devKey string
}

func defaultConfig() config {
	d := alt.DefaultConfig()
	return config{
		KeypairPath:       solana.DefaultKeypairPath(),
		Commitment:        string(d.Commitment),
		PollInterval:      d.PollInterval,
		ActivationTimeout: d.ActivationTimeout,
		MaxExtendBatch:    d.MaxExtendBatch,
		RegistryPath:      defaultRegistryPath,
		Log:               logConfig{Level: "info", Format: "console"},
	}
}

// loadConfig layers defaults, the optional YAML file at path and the
// environment, in that order.
func loadConfig(path string, getenv func(string) string) (config, error) {
	cfg := defaultConfig()
	if path = strings.TrimSpace(path); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return config{}, fmt.Errorf("%w: open config: %w", alt.ErrConfiguration, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("%w: parse %s: %w", alt.ErrConfiguration, path, err)
		}
	}

	for _, k := range []string{"SOLANA_RPC_URL", "RPC_URL"} {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			cfg.RPCURL = v
			break
		}
	}
	if v := strings.TrimSpace(getenv("SOLANA_KEYPAIR")); v != "" {
		cfg.KeypairPath = v
	}
	cfg.devKey = strings.TrimSpace(getenv("DEV_KEY"))
	return cfg, nil
}

func (c config) lifecycle() (alt.Config, error) {
	commitment, err := solanarpc.ParseCommitment(c.Commitment)
	if err != nil {
		return alt.Config{}, fmt.Errorf("%w: %w", alt.ErrConfiguration, err)
	}
	return alt.Config{
		Commitment:        commitment,
		PollInterval:      c.PollInterval,
		ActivationTimeout: c.ActivationTimeout,
		MaxExtendBatch:    c.MaxExtendBatch,
		ComputeUnitLimit:  c.ComputeUnitLimit,
		ComputeUnitPrice:  c.ComputeUnitPrice,
	}, nil
}

func (c config) validate() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return fmt.Errorf("%w: rpc_url is required (or set SOLANA_RPC_URL / RPC_URL)", alt.ErrConfiguration)
	}
	if c.devKey == "" && strings.TrimSpace(c.KeypairPath) == "" {
		return fmt.Errorf("%w: keypair_path or DEV_KEY is required", alt.ErrConfiguration)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log.format must be json or console, got %q", alt.ErrConfiguration, c.Log.Format)
	}
	lc, err := c.lifecycle()
	if err != nil {
		return err
	}
	return lc.Validate()
}

// cluster names the network tables are recorded under. Unless set
// explicitly it is inferred from well-known RPC hosts.
func (c config) cluster() string {
	if v := strings.TrimSpace(c.Cluster); v != "" {
		return v
	}
	u, err := url.Parse(strings.TrimSpace(c.RPCURL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "localhost" || host == "127.0.0.1" || host == "::1":
		return "localnet"
	case strings.Contains(host, "devnet"):
		return "devnet"
	case strings.Contains(host, "testnet"):
		return "testnet"
	case strings.Contains(host, "mainnet"):
		return "mainnet-beta"
	}
	return ""
}

// payer loads the fee payer. DEV_KEY takes precedence over keypair_path.
func (c config) payer() (*solana.Keypair, error) {
	if c.devKey != "" {
		kp, err := solana.ParseKeypairBase58(c.devKey)
		if err != nil {
			return nil, fmt.Errorf("%w: DEV_KEY: %w", alt.ErrConfiguration, err)
		}
		return kp, nil
	}
	kp, err := solana.LoadKeypairFile(c.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load keypair %q: %w", alt.ErrConfiguration, c.KeypairPath, err)
	}
	return kp, nil
}

// authority loads the table authority, defaulting to the payer.
func (c config) authority(payer *solana.Keypair) (*solana.Keypair, error) {
	if strings.TrimSpace(c.AuthorityKeypairPath) == "" {
		return payer, nil
	}
	kp, err := solana.LoadKeypairFile(c.AuthorityKeypairPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load authority keypair %q: %w", alt.ErrConfiguration, c.AuthorityKeypairPath, err)
	}
	return kp, nil
}
