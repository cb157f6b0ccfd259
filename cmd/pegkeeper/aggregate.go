package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/aggregate"
	"github.com/seanpm2001/curve-stable-peg/internal/chain"
	"github.com/seanpm2001/curve-stable-peg/internal/config"
	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
	"github.com/seanpm2001/curve-stable-peg/internal/storage/postgres"
)

func runAggregate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadAggregate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Input == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.PGDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}

	windowSeconds, err := config.ParseWindow(cfg.Window)
	if err != nil {
		return err
	}

	recomputeFrom, err := config.ParseTimestamp(cfg.RecomputeFrom)
	if err != nil {
		return fmt.Errorf("parse recompute-from: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var caller contracts.Caller
	if cfg.RPCURL != "" {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		caller = chainClient
	} else {
		logger.Warn("no rpc url, debt at window end comes from events only")
	}

	store, err := openStore(ctx, cfg.PGDSN, cfg.EnsureSchema)
	if err != nil {
		return err
	}
	defer store.Close()

	var stateStore aggregate.StateStore
	if cfg.StateFile != "" {
		stateStore = &aggregate.FileStateStore{Path: cfg.StateFile, Name: stateName(windowSeconds)}
	} else {
		stateStore = &aggregate.DBStateStore{Store: store, Name: stateName(windowSeconds)}
	}

	agg := aggregate.NewAggregator(aggregate.Config{
		WindowSeconds: windowSeconds,
		BatchSize:     cfg.BatchSize,
		RecomputeFrom: recomputeFrom,
		StateStore:    stateStore,
	}, store, caller, logger)

	logger.Info("aggregate start",
		zap.String("input", cfg.Input),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Uint64("window_seconds", windowSeconds),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Uint64("recompute_from", recomputeFrom),
	)

	_, err = agg.Run(ctx, cfg.Input)
	return err
}

func openStore(ctx context.Context, dsn string, ensureSchema bool) (*postgres.Store, error) {
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if ensureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

func stateName(windowSeconds uint64) string {
	return fmt.Sprintf("keeper_aggregator:%d", windowSeconds)
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
