package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func indexFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("index", pflag.ContinueOnError)
	fs.String("rpc", "", "")
	fs.StringSlice("address", nil, "")
	fs.Uint64("batch-size", 2000, "")
	fs.Duration("retry-backoff", 500*time.Millisecond, "")
	return fs
}

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("PEGKEEPER_RPC", "http://localhost:8545")
	t.Setenv("PEGKEEPER_TOPIC0", "Provide, Withdraw,,")

	cfg, err := Load("", indexFlags())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://localhost:8545" {
		t.Fatalf("rpc mismatch: %s", cfg.RPCURL)
	}
	if len(cfg.Topic0) != 2 || cfg.Topic0[0] != "Provide" || cfg.Topic0[1] != "Withdraw" {
		t.Fatalf("topic0 mismatch: %v", cfg.Topic0)
	}
	if cfg.BatchSize != 2000 || cfg.RetryBackoff != 500*time.Millisecond || !cfg.CheckpointEnabled {
		t.Fatalf("defaults mismatch: %+v", cfg)
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pegkeeper.yaml")
	content := "rpc: http://file:8545\nbatch-size: 50\naddress:\n  - 0x1111111111111111111111111111111111111111\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fs := indexFlags()
	if err := fs.Parse([]string{"--batch-size", "10"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := Load(path, fs)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "http://file:8545" {
		t.Fatalf("rpc mismatch: %s", cfg.RPCURL)
	}
	if cfg.BatchSize != 10 {
		t.Fatalf("batch size mismatch: %d", cfg.BatchSize)
	}
	if len(cfg.Addresses) != 1 {
		t.Fatalf("addresses mismatch: %v", cfg.Addresses)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Fatalf("expected missing config error")
	}
}

func TestLoadDecodeTopicMap(t *testing.T) {
	t.Setenv("PEGKEEPER_TOPIC0_MAP", "0xaa=Withdraw, bad, 0xbb= ,0xcc=Provide")

	cfg, err := LoadDecode("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Topic0Map) != 2 || cfg.Topic0Map["0xaa"] != "Withdraw" || cfg.Topic0Map["0xcc"] != "Provide" {
		t.Fatalf("topic0 map mismatch: %v", cfg.Topic0Map)
	}
	if cfg.Out != "./data/typed_events.jsonl" || cfg.IncludeLiveState {
		t.Fatalf("defaults mismatch: %+v", cfg)
	}
}

func TestLoadCheckDefaults(t *testing.T) {
	t.Setenv("PEGKEEPER_PROPERTY", "bounded-withdrawal,atomicity")

	cfg, err := LoadCheck("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Variants != "template,pluggable-optimized" || cfg.Runs != 50 || cfg.Seed != 1 {
		t.Fatalf("defaults mismatch: %+v", cfg)
	}
	if len(cfg.Properties) != 2 {
		t.Fatalf("properties mismatch: %v", cfg.Properties)
	}
}

func TestParseWindow(t *testing.T) {
	if got, err := ParseWindow("1h"); err != nil || got != 3600 {
		t.Fatalf("1h: %d %v", got, err)
	}
	for _, input := range []string{"", "0s", "-5m", "500ms", "soon"} {
		if _, err := ParseWindow(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	if got, err := ParseTimestamp("1700000000"); err != nil || got != 1700000000 {
		t.Fatalf("unix: %d %v", got, err)
	}
	if got, err := ParseTimestamp("2023-11-14T22:13:20Z"); err != nil || got != 1700000000 {
		t.Fatalf("rfc3339: %d %v", got, err)
	}
	if got, err := ParseTimestamp(""); err != nil || got != 0 {
		t.Fatalf("empty: %d %v", got, err)
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected parse error")
	}
}
