package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root settlement-core configuration, split into
// sub-structs per concern the way the node configuration it is
// adapted from does.
type Config struct {
	NodeType string `yaml:"node_type"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	Discovery DiscoveryConfig `yaml:"discovery"`
	Batch     BatchConfig     `yaml:"batch"`
	Chain     ChainConfig     `yaml:"chain"`
	Prover    ProverConfig    `yaml:"prover"`
	Storage   StorageConfig   `yaml:"storage"`
	Operator  OperatorConfig  `yaml:"operator"`
}

// DiscoveryConfig tunes the matching engine's promotion and
// lock-reclaim ticker (§4.3, §4.5).
type DiscoveryConfig struct {
	IntervalSec   int `yaml:"discovery_interval_sec"`
	LockTimeoutSec int `yaml:"lock_timeout_sec"`
}

// BatchConfig tunes the batch worker (§4.6).
type BatchConfig struct {
	IntervalSec       int `yaml:"batch_interval_sec"`
	MaxOrdersPerBatch int `yaml:"max_orders_per_batch"`
}

// ChainConfig points the chain adapter (C8) at the bridge/verifier
// contracts and the RPC endpoint it watches and submits to.
type ChainConfig struct {
	RPCURL          string `yaml:"chain_rpc_url"`
	WebsocketURL    string `yaml:"chain_ws_url"`
	BridgeAddress   string `yaml:"bridge_address"`
	VerifierAddress string `yaml:"verifier_address"`
	OperatorKey     string `yaml:"operator_key"`
	ChainID         int64  `yaml:"chain_id"`
}

// ProverConfig selects between the bundled MVP prover and an external
// prover service reached over JSON-RPC.
type ProverConfig struct {
	Mode       string `yaml:"prover_mode"` // "mvp" or "external"
	ExternalURL string `yaml:"prover_url,omitempty"`
}

// StorageConfig names the persistence backend. The in-memory store is
// the only one implemented; DatabaseURL is carried through per §6 so
// an operator-facing durable backend can be wired later without a
// config shape change.
type StorageConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// OperatorConfig carries the RPC surface's own listen settings.
type OperatorConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a configuration populated with the defaults
// named in §6: 5s discovery interval, 30 minute lock timeout, 100
// orders per batch, MVP prover.
func DefaultConfig() *Config {
	return &Config{
		NodeType: "settlement",
		DataDir:  "./data",
		LogLevel: "info",
		Discovery: DiscoveryConfig{
			IntervalSec:    5,
			LockTimeoutSec: 1800,
		},
		Batch: BatchConfig{
			IntervalSec:       10,
			MaxOrdersPerBatch: 100,
		},
		Prover: ProverConfig{
			Mode: "mvp",
		},
		Operator: OperatorConfig{
			ListenAddr: "127.0.0.1:8551",
		},
	}
}

// Load reads and parses a configuration file on top of DefaultConfig,
// so keys absent from the file keep their defaults (a key set
// explicitly to zero stays zero), and then validates the result.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks that required fields are present and internally
// consistent.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Discovery.IntervalSec <= 0 {
		return fmt.Errorf("discovery.discovery_interval_sec must be positive")
	}
	if c.Discovery.LockTimeoutSec <= 0 {
		return fmt.Errorf("discovery.lock_timeout_sec must be positive")
	}
	if c.Batch.MaxOrdersPerBatch <= 0 {
		return fmt.Errorf("batch.max_orders_per_batch must be positive")
	}

	switch c.Prover.Mode {
	case "mvp":
	case "external":
		if c.Prover.ExternalURL == "" {
			return fmt.Errorf("prover.prover_url is required when prover_mode is external")
		}
	default:
		return fmt.Errorf("invalid prover.prover_mode: %s", c.Prover.Mode)
	}

	if c.Chain.RPCURL != "" && c.Chain.VerifierAddress == "" {
		return fmt.Errorf("chain.verifier_address is required when chain.chain_rpc_url is set")
	}

	return nil
}

// DiscoveryInterval returns the discovery ticker period as a Duration.
func (d DiscoveryConfig) DiscoveryInterval() time.Duration {
	return time.Duration(d.IntervalSec) * time.Second
}

// LockTimeout returns the lock-reclaim threshold as a Duration.
func (d DiscoveryConfig) LockTimeout() time.Duration {
	return time.Duration(d.LockTimeoutSec) * time.Second
}

// BatchInterval returns the batch worker ticker period as a Duration.
func (b BatchConfig) BatchInterval() time.Duration {
	return time.Duration(b.IntervalSec) * time.Second
}
