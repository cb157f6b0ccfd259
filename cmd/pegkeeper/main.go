package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seanpm2001/curve-stable-peg/internal/chain"
	"github.com/seanpm2001/curve-stable-peg/internal/config"
	"github.com/seanpm2001/curve-stable-peg/internal/harness"
	"github.com/seanpm2001/curve-stable-peg/internal/indexer"
	"github.com/seanpm2001/curve-stable-peg/internal/pegkeeper"
	"github.com/seanpm2001/curve-stable-peg/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:          "pegkeeper",
		Short:        "Peg keeper simulator, checker and event indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Fetch keeper and pool logs into JSONL",
		RunE:  runIndex,
	}

	indexCmd.Flags().String("rpc", "", "RPC URL")
	indexCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	indexCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	indexCmd.Flags().StringSlice("address", nil, "keeper and pool addresses (comma-separated)")
	indexCmd.Flags().StringSlice("topic0", nil, "topic0 hashes or event names (comma-separated), default Provide,Withdraw,Profit")
	indexCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	indexCmd.Flags().String("out", "./data/logs.jsonl", "output JSONL path")
	indexCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	indexCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	indexCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	indexCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	indexCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(indexCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw logs into typed events",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("rpc", "", "RPC URL, needed with --include-live-state")
	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/typed_events.jsonl", "output typed events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	decodeCmd.Flags().Bool("include-live-state", false, "read keeper debt at each event block (requires archive RPC for historical accuracy)")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	aggregateCmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate typed events into keeper window metrics",
		RunE:  runAggregate,
	}

	aggregateCmd.Flags().String("rpc", "", "RPC URL for debt and decimals reads")
	aggregateCmd.Flags().String("in", "", "input typed events JSONL")
	aggregateCmd.Flags().String("window", "1h", "aggregation window (e.g. 5m, 1h, 24h)")
	aggregateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	aggregateCmd.Flags().Bool("ensure-schema", false, "create missing tables before writing")
	aggregateCmd.Flags().Int("batch-size", 1000, "batch size for DB writes")
	aggregateCmd.Flags().String("state-file", "", "optional local state file for progress tracking")
	aggregateCmd.Flags().String("recompute-from", "", "recompute from timestamp (unix seconds or RFC3339)")
	aggregateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(aggregateCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scenario on a simulated pool and export its events",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().String("scenario", "", "scenario file (yaml, json or toml)")
	simulateCmd.Flags().String("type", "", "override the scenario keeper variant")
	simulateCmd.Flags().String("out", "./data/sim_logs.jsonl", "output raw logs JSONL")
	simulateCmd.Flags().String("typed-out", "./data/sim_typed_events.jsonl", "output typed events JSONL")
	simulateCmd.Flags().String("errors", "./data/sim_decode_errors.jsonl", "decode errors JSONL")
	simulateCmd.Flags().String("pg-dsn", "", "optional Postgres DSN for window metrics")
	simulateCmd.Flags().Bool("ensure-schema", false, "create missing tables before writing")
	simulateCmd.Flags().String("window", "1h", "aggregation window when --pg-dsn is set")
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(simulateCmd)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check keeper properties on randomized pools",
		RunE:  runCheck,
	}

	checkCmd.Flags().String("type", pegkeeper.DefaultVariants, "keeper variants (comma-separated)")
	checkCmd.Flags().Int("runs", harness.DefaultRuns, "runs per sampled property")
	checkCmd.Flags().Int64("seed", 1, "random seed")
	checkCmd.Flags().StringSlice("property", nil, "limit to these properties (comma-separated)")
	checkCmd.Flags().String("log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(checkCmd)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Show pool and keeper state and the next update decision",
		RunE:  runSnapshot,
	}

	snapshotCmd.Flags().String("rpc", "", "RPC URL")
	snapshotCmd.Flags().String("keeper", "", "peg keeper address")
	snapshotCmd.Flags().String("pool", "", "pool address, default keeper.pool()")
	snapshotCmd.Flags().Uint64("block", 0, "block number, 0 means latest")
	snapshotCmd.Flags().String("scenario", "", "read state after running this scenario instead of RPC")
	snapshotCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(snapshotCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runIndex(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	addresses, err := indexer.ParseAddresses(cfg.Addresses)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return fmt.Errorf("address list is required")
	}

	topic0, err := indexer.ParseTopic0(cfg.Topic0)
	if err != nil {
		return err
	}
	if len(topic0) == 0 {
		topic0 = indexer.DefaultTopic0()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	runner := indexer.NewRunner(indexer.RunConfig{
		FromBlock:         cfg.FromBlock,
		ToBlock:           cfg.ToBlock,
		Addresses:         addresses,
		Topic0:            topic0,
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		Retry:             indexer.RetryPolicy{MaxRetries: cfg.MaxRetries, Backoff: cfg.RetryBackoff},
	}, chainClient, storage.NewJsonlStorage(cfg.Out), logger)

	logger.Info("index start",
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Int("addresses", len(addresses)),
		zap.Int("topic0", len(topic0)),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	stats, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("index complete",
		zap.Uint64("chain_id", stats.ChainID),
		zap.Uint64("from", stats.From),
		zap.Uint64("to", stats.To),
		zap.Int("batches", stats.Batches),
		zap.Int("logs", stats.Logs),
		zap.Int("duplicates", stats.Duplicates),
	)
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
