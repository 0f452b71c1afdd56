package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	path := writeConfig(t, `{
		"store": {"bolt_path": "/tmp/control.db"},
		"blob_root": "/tmp/blobs",
		"chain": {"rpc_url": "http://127.0.0.1:8545", "chain_id": 8453}
	}`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Listen != DefaultListen {
		t.Fatalf("Listen = %s", cfg.Listen)
	}
	if cfg.Store.Backend != "bolt" {
		t.Fatalf("Backend = %s", cfg.Store.Backend)
	}
	if cfg.RetentionDays != DefaultRetentionDays {
		t.Fatalf("RetentionDays = %d", cfg.RetentionDays)
	}
	if cfg.MonthlyFreeLimit != DefaultMonthlyFreeLimit {
		t.Fatalf("MonthlyFreeLimit = %d", cfg.MonthlyFreeLimit)
	}
	if len(cfg.Tiers) != 3 {
		t.Fatalf("Tiers = %d entries", len(cfg.Tiers))
	}
	if cfg.Retention() != 7*24*time.Hour {
		t.Fatalf("Retention = %v", cfg.Retention())
	}
	interval, err := cfg.SweepIntervalDuration()
	if err != nil || interval != DefaultSweepInterval {
		t.Fatalf("SweepIntervalDuration = %v, %v", interval, err)
	}
}

func TestLoadFile_GRPCBackend(t *testing.T) {
	path := writeConfig(t, `{
		"store": {"backend": "grpc", "grpc_target": "127.0.0.1:7878"},
		"blob_root": "/tmp/blobs",
		"chain": {"rpc_url": "http://127.0.0.1:8545", "chain_id": 8453},
		"sweep_interval": "15m"
	}`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Store.Backend != "grpc" || cfg.Store.GRPCTarget != "127.0.0.1:7878" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	interval, err := cfg.SweepIntervalDuration()
	if err != nil || interval != 15*time.Minute {
		t.Fatalf("SweepIntervalDuration = %v, %v", interval, err)
	}
}

func TestLoadFile_Rejections(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing bolt path",
			body: `{"blob_root": "/tmp/blobs", "chain": {"rpc_url": "http://x"}}`,
			want: "bolt_path",
		},
		{
			name: "missing grpc target",
			body: `{"store": {"backend": "grpc"}, "blob_root": "/tmp/blobs", "chain": {"rpc_url": "http://x"}}`,
			want: "grpc_target",
		},
		{
			name: "unknown backend",
			body: `{"store": {"backend": "redis"}, "blob_root": "/tmp/blobs", "chain": {"rpc_url": "http://x"}}`,
			want: "backend",
		},
		{
			name: "missing blob root",
			body: `{"store": {"bolt_path": "/tmp/db"}, "chain": {"rpc_url": "http://x"}}`,
			want: "blob_root",
		},
		{
			name: "missing rpc url",
			body: `{"store": {"bolt_path": "/tmp/db"}, "blob_root": "/tmp/blobs"}`,
			want: "rpc_url",
		},
		{
			name: "negative retention",
			body: `{"store": {"bolt_path": "/tmp/db"}, "blob_root": "/tmp/blobs", "chain": {"rpc_url": "http://x"}, "retention_days": -1}`,
			want: "retention_days",
		},
		{
			name: "bad sweep interval",
			body: `{"store": {"bolt_path": "/tmp/db"}, "blob_root": "/tmp/blobs", "chain": {"rpc_url": "http://x"}, "sweep_interval": "soon"}`,
			want: "sweep_interval",
		},
		{
			name: "zero sweep interval",
			body: `{"store": {"bolt_path": "/tmp/db"}, "blob_root": "/tmp/blobs", "chain": {"rpc_url": "http://x"}, "sweep_interval": "0s"}`,
			want: "sweep_interval",
		},
		{
			name: "bad contract address",
			body: `{"store": {"bolt_path": "/tmp/db"}, "blob_root": "/tmp/blobs", "chain": {"rpc_url": "http://x", "contract_address": "0x123"}}`,
			want: "contract_address",
		},
		{
			name: "not json",
			body: `listen = ":8080"`,
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			_, err := LoadFile(path)
			if err == nil {
				t.Fatalf("LoadFile accepted %s", tc.name)
			}
			if tc.want != "" && !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadFile_MissingFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("LoadFile accepted a missing file")
	}
	if _, err := LoadFile(""); err == nil {
		t.Fatalf("LoadFile accepted an empty path")
	}
}
