package config

import (
	"github.com/spf13/pflag"

	"github.com/seanpm2001/curve-stable-peg/internal/harness"
	"github.com/seanpm2001/curve-stable-peg/internal/pegkeeper"
)

// SimulateConfig holds configuration for the simulate command.
type SimulateConfig struct {
	Scenario     string
	Variant      string
	Out          string
	TypedOut     string
	Errors       string
	PGDSN        string
	EnsureSchema bool
	Window       string
	LogLevel     string
}

// LoadSimulate merges config file, environment variables, and flags into SimulateConfig.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (SimulateConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"out":       "./data/sim_logs.jsonl",
		"typed-out": "./data/sim_typed_events.jsonl",
		"errors":    "./data/sim_decode_errors.jsonl",
		"window":    "1h",
		"log-level": "info",
	})
	if err != nil {
		return SimulateConfig{}, err
	}

	return SimulateConfig{
		Scenario:     v.GetString("scenario"),
		Variant:      v.GetString("type"),
		Out:          v.GetString("out"),
		TypedOut:     v.GetString("typed-out"),
		Errors:       v.GetString("errors"),
		PGDSN:        v.GetString("pg-dsn"),
		EnsureSchema: v.GetBool("ensure-schema"),
		Window:       v.GetString("window"),
		LogLevel:     v.GetString("log-level"),
	}, nil
}

// CheckConfig holds configuration for the check command.
type CheckConfig struct {
	Variants   string
	Runs       int
	Seed       int64
	Properties []string
	LogLevel   string
}

// LoadCheck merges config file, environment variables, and flags into CheckConfig.
func LoadCheck(cfgFile string, flags *pflag.FlagSet) (CheckConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"type":      pegkeeper.DefaultVariants,
		"runs":      harness.DefaultRuns,
		"seed":      int64(1),
		"log-level": "warn",
	})
	if err != nil {
		return CheckConfig{}, err
	}

	return CheckConfig{
		Variants:   v.GetString("type"),
		Runs:       v.GetInt("runs"),
		Seed:       v.GetInt64("seed"),
		Properties: getStringSlice(v, "property"),
		LogLevel:   v.GetString("log-level"),
	}, nil
}

// SnapshotConfig holds configuration for the snapshot command.
type SnapshotConfig struct {
	RPCURL   string
	Scenario string
	Pool     string
	Keeper   string
	Block    uint64
	LogLevel string
}

// LoadSnapshot merges config file, environment variables, and flags into SnapshotConfig.
func LoadSnapshot(cfgFile string, flags *pflag.FlagSet) (SnapshotConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"log-level": "info",
	})
	if err != nil {
		return SnapshotConfig{}, err
	}

	return SnapshotConfig{
		RPCURL:   v.GetString("rpc"),
		Scenario: v.GetString("scenario"),
		Pool:     v.GetString("pool"),
		Keeper:   v.GetString("keeper"),
		Block:    v.GetUint64("block"),
		LogLevel: v.GetString("log-level"),
	}, nil
}
