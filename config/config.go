// Package config loads the upload daemon configuration.
//
// Example:
//
//	{
//	  "listen": "127.0.0.1:8080",
//	  "store": {"backend": "bolt", "bolt_path": "/var/lib/3send/control.db"},
//	  "blob_root": "/var/lib/3send/blobs",
//	  "chain": {"rpc_url": "http://127.0.0.1:8545", "chain_id": 8453,
//	            "contract_address": "0x9f8e7d6c5b4a39281706f5e4d3c2b1a098765432"},
//	  "retention_days": 7,
//	  "monthly_free_limit": 3,
//	  "sweep_interval": "1h",
//	  "max_upload_bytes": 2147483648
//	}
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"3send.xyz/send/chain"
	"3send.xyz/send/tier"
)

// StoreConfig selects the control-plane store backend.
//
// Backend values:
//   - "bolt" (default): embedded bbolt file at BoltPath
//   - "grpc": remote control-plane daemon at GRPCTarget
type StoreConfig struct {
	Backend    string `json:"backend,omitempty"`
	BoltPath   string `json:"bolt_path,omitempty"`
	GRPCTarget string `json:"grpc_target,omitempty"`
}

// ChainConfig points at the payment chain. ContractAddress, when set, pins
// burn-event verification to the fee contract at that address.
type ChainConfig struct {
	RPCURL          string `json:"rpc_url"`
	ChainID         uint64 `json:"chain_id"`
	ContractAddress string `json:"contract_address,omitempty"`
}

type Config struct {
	Listen           string        `json:"listen,omitempty"`
	Store            StoreConfig   `json:"store"`
	BlobRoot         string        `json:"blob_root"`
	Chain            ChainConfig   `json:"chain"`
	Tiers            tier.Schedule `json:"tiers,omitempty"`
	RetentionDays    int           `json:"retention_days,omitempty"`
	MonthlyFreeLimit int           `json:"monthly_free_limit,omitempty"`
	SweepInterval    string        `json:"sweep_interval,omitempty"`
	MaxUploadBytes   int64         `json:"max_upload_bytes,omitempty"`
}

// Defaults applied by LoadFile for omitted fields.
const (
	DefaultListen           = "127.0.0.1:8080"
	DefaultRetentionDays    = 7
	DefaultMonthlyFreeLimit = 3
	DefaultSweepInterval    = time.Hour
)

func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("config: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "bolt"
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = DefaultRetentionDays
	}
	if c.MonthlyFreeLimit == 0 {
		c.MonthlyFreeLimit = DefaultMonthlyFreeLimit
	}
	if len(c.Tiers) == 0 {
		c.Tiers = tier.Default()
	}
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case "bolt":
		if c.Store.BoltPath == "" {
			return errors.New("config: store.bolt_path is required for the bolt backend")
		}
	case "grpc":
		if c.Store.GRPCTarget == "" {
			return errors.New("config: store.grpc_target is required for the grpc backend")
		}
	default:
		return fmt.Errorf("config: invalid store backend %q", c.Store.Backend)
	}
	if c.BlobRoot == "" {
		return errors.New("config: blob_root is required")
	}
	if c.Chain.RPCURL == "" {
		return errors.New("config: chain.rpc_url is required")
	}
	if c.Chain.ContractAddress != "" {
		if _, ok := chain.NormalizeAddress(c.Chain.ContractAddress); !ok {
			return errors.New("config: chain.contract_address is not a valid address")
		}
	}
	if c.RetentionDays < 0 {
		return errors.New("config: retention_days cannot be negative")
	}
	if c.MonthlyFreeLimit < 0 {
		return errors.New("config: monthly_free_limit cannot be negative")
	}
	if _, err := c.SweepIntervalDuration(); err != nil {
		return err
	}
	if err := c.Tiers.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Retention returns the configured blob lifetime.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SweepIntervalDuration parses the sweep interval, defaulting when omitted.
func (c Config) SweepIntervalDuration() (time.Duration, error) {
	if c.SweepInterval == "" {
		return DefaultSweepInterval, nil
	}
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil {
		return 0, fmt.Errorf("config: invalid sweep_interval: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("config: sweep_interval must be positive")
	}
	return d, nil
}
