package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/model"
	"github.com/seanpm2001/curve-stable-peg/internal/storage"
)

// RunConfig holds runtime settings for the indexer.
type RunConfig struct {
	FromBlock         uint64
	ToBlock           uint64
	Addresses         []common.Address
	Topic0            []common.Hash
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	Retry             RetryPolicy
}

// RunStats summarizes one run.
type RunStats struct {
	ChainID    uint64
	From       uint64
	To         uint64
	Batches    int
	Logs       int
	Duplicates int
}

// Runner streams logs from a source and writes them to storage.
type Runner struct {
	cfg        RunConfig
	source     LogSource
	storage    storage.Storage
	logger     *zap.Logger
	seen       map[string]struct{}
	checkpoint *CheckpointStore
	now        func() time.Time
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, source LogSource, storageSink storage.Storage, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		source:     source,
		storage:    storageSink,
		logger:     logger,
		seen:       make(map[string]struct{}),
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
		now:        time.Now,
	}
}

// Run executes the indexing loop. A zero ToBlock means the latest block.
func (r *Runner) Run(ctx context.Context) (RunStats, error) {
	var stats RunStats
	if r.source == nil {
		return stats, fmt.Errorf("log source is nil")
	}
	if r.storage == nil {
		return stats, fmt.Errorf("storage is nil")
	}
	if r.cfg.BatchSize == 0 {
		return stats, fmt.Errorf("batch size must be greater than zero")
	}
	if len(r.cfg.Addresses) == 0 {
		return stats, fmt.Errorf("at least one address is required")
	}

	chainID, err := Retry(ctx, r.cfg.Retry, r.source.ChainID)
	if err != nil {
		return stats, fmt.Errorf("get chain id: %w", err)
	}
	stats.ChainID = chainID

	from := r.cfg.FromBlock
	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := Retry(ctx, r.cfg.Retry, r.source.LatestBlockNumber)
		if err != nil {
			return stats, fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	cp, ok, err := r.checkpoint.Load(chainID)
	if err != nil {
		return stats, err
	}
	if ok && cp.LastProcessedBlock >= from {
		from = cp.LastProcessedBlock + 1
		r.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp.LastProcessedBlock), zap.Uint64("from", from))
	}
	stats.From, stats.To = from, to

	if from > to {
		r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return stats, nil
	}

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return stats, err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		r.logger.Debug("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To), zap.Uint64("blocks", blockRange.Len()))

		logs, err := r.filterLogsWithRetry(ctx, blockRange)
		if err != nil {
			return stats, fmt.Errorf("filter logs: %w", err)
		}

		ingestedAt := r.now().UTC()
		records := make([]model.LogRecord, 0, len(logs))
		for _, log := range logs {
			if r.isDuplicate(log) {
				stats.Duplicates++
				continue
			}

			ts, err := r.blockTimestampWithRetry(ctx, log.BlockNumber)
			if err != nil {
				return stats, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
			}
			records = append(records, model.NewLogRecord(chainID, log, ts, ingestedAt))
		}

		if err := r.storage.PutLogBatch(records); err != nil {
			return stats, fmt.Errorf("store logs: %w", err)
		}

		if err := r.checkpoint.Save(chainID, blockRange.To); err != nil {
			return stats, err
		}

		stats.Batches++
		stats.Logs += len(records)
		r.logger.Info("batch complete", zap.Int("logs", len(records)), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	}

	return stats, nil
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, blockRange BlockRange) ([]types.Log, error) {
	return Retry(ctx, r.cfg.Retry, func(ctx context.Context) ([]types.Log, error) {
		logs, err := r.source.FilterLogs(ctx, blockRange.From, blockRange.To, r.cfg.Addresses, r.cfg.Topic0)
		if err != nil {
			r.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		}
		return logs, err
	})
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	return Retry(ctx, r.cfg.Retry, func(ctx context.Context) (uint64, error) {
		ts, err := r.source.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return ts, err
	})
}

func (r *Runner) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}
