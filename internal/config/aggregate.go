package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// AggregateConfig holds configuration for aggregation.
type AggregateConfig struct {
	RPCURL        string
	Input         string
	Window        string
	PGDSN         string
	EnsureSchema  bool
	BatchSize     int
	StateFile     string
	RecomputeFrom string
	LogLevel      string
}

// LoadAggregate merges config file, environment variables, and flags into AggregateConfig.
func LoadAggregate(cfgFile string, flags *pflag.FlagSet) (AggregateConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"batch-size": 1000,
		"log-level":  "info",
		"window":     "1h",
	})
	if err != nil {
		return AggregateConfig{}, err
	}

	cfg := AggregateConfig{
		RPCURL:        v.GetString("rpc"),
		Input:         v.GetString("in"),
		Window:        v.GetString("window"),
		PGDSN:         v.GetString("pg-dsn"),
		EnsureSchema:  v.GetBool("ensure-schema"),
		BatchSize:     v.GetInt("batch-size"),
		StateFile:     v.GetString("state-file"),
		RecomputeFrom: v.GetString("recompute-from"),
		LogLevel:      v.GetString("log-level"),
	}

	return cfg, nil
}

// ParseWindow parses an aggregation window such as 5m or 1h into whole
// seconds.
func ParseWindow(input string) (uint64, error) {
	d, err := time.ParseDuration(strings.TrimSpace(input))
	if err != nil {
		return 0, fmt.Errorf("invalid window: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}
	seconds := uint64(d / time.Second)
	if seconds == 0 {
		return 0, fmt.Errorf("window must be at least 1s")
	}
	return seconds, nil
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (uint64, error) {
	if strings.TrimSpace(input) == "" {
		return 0, nil
	}

	if isNumeric(input) {
		val, err := strconv.ParseUint(input, 10, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	return uint64(tm.Unix()), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}
