package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
	"github.com/seanpm2001/curve-stable-peg/internal/model"
	"github.com/seanpm2001/curve-stable-peg/internal/storage"
)

// Config controls aggregation behavior.
type Config struct {
	WindowSeconds uint64
	BatchSize     int
	RecomputeFrom uint64
	StateStore    StateStore
}

// MetricsStore is where keepers, their actions and window metrics go.
// postgres.Store satisfies it.
type MetricsStore interface {
	UpsertKeepers(ctx context.Context, keepers []model.Keeper) error
	InsertKeeperActions(ctx context.Context, actions []model.KeeperAction) error
	UpsertKeeperWindowMetrics(ctx context.Context, metrics []model.KeeperWindowMetrics) error
}

// Stats summarizes one aggregation run.
type Stats struct {
	Total   int
	Windows int
	Actions int
	Skipped int
	Failed  int
}

// Aggregator folds typed keeper events into per-window metrics.
type Aggregator struct {
	cfg          Config
	store        MetricsStore
	caller       contracts.Caller
	logger       *zap.Logger
	decimals     *DecimalsCache
	accumulators map[string]*Accumulator
	keepers      map[string]model.Keeper
}

// NewAggregator builds an aggregator. caller may be nil, in which case the
// debt at window end is unavailable and amounts use 18 decimals.
func NewAggregator(cfg Config, store MetricsStore, caller contracts.Caller, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Aggregator{
		cfg:          cfg,
		store:        store,
		caller:       caller,
		logger:       logger,
		decimals:     NewDecimalsCache(),
		accumulators: make(map[string]*Accumulator),
		keepers:      make(map[string]model.Keeper),
	}
}

// Run executes aggregation over a typed events JSONL file.
func (a *Aggregator) Run(ctx context.Context, inputPath string) (Stats, error) {
	file, err := os.Open(inputPath)
	if err != nil {
		return Stats{}, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()
	return a.Aggregate(ctx, file)
}

// Aggregate reads typed events as JSON lines from r.
func (a *Aggregator) Aggregate(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	if a.store == nil {
		return stats, fmt.Errorf("store is nil")
	}
	if a.cfg.WindowSeconds == 0 {
		return stats, fmt.Errorf("window seconds must be > 0")
	}
	if a.cfg.BatchSize <= 0 {
		a.cfg.BatchSize = 1000
	}

	startTs, err := a.loadStartTimestamp(ctx)
	if err != nil {
		return stats, err
	}

	batch := make([]model.KeeperWindowMetrics, 0, a.cfg.BatchSize)
	actions := make([]model.KeeperAction, 0, a.cfg.BatchSize)
	maxTs := startTs

	flush := func() error {
		if err := a.flushBatches(ctx, batch, actions); err != nil {
			return err
		}
		batch = batch[:0]
		actions = actions[:0]
		return a.saveState(ctx)
	}

	err = storage.ScanJSONL(r, func(line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Total++

		var record model.TypedEventRecord
		if err := json.Unmarshal(line, &record); err != nil {
			stats.Failed++
			a.logger.Warn("decode typed event", zap.Error(err))
			return nil
		}
		if record.Contract != model.ContractPegKeeper || record.Timestamp <= startTs {
			stats.Skipped++
			return nil
		}

		windowStart := windowStart(record.Timestamp, a.cfg.WindowSeconds)
		windowEnd := windowStart + a.cfg.WindowSeconds

		accKey := keeperKey(record.Address)
		acc := a.accumulators[accKey]
		if acc == nil {
			acc = NewAccumulator(record, windowStart, windowEnd)
			a.accumulators[accKey] = acc
		} else if acc.WindowStart != windowStart {
			batch = append(batch, a.flushAccumulator(ctx, acc))
			stats.Windows++
			acc = NewAccumulator(record, windowStart, windowEnd)
			a.accumulators[accKey] = acc
		}

		action, err := acc.AddEvent(record)
		if err != nil {
			stats.Failed++
			a.logger.Warn("aggregate event", zap.Error(err), zap.String("keeper", record.Address), zap.String("event", record.EventName))
			return nil
		}
		if action != nil {
			actions = append(actions, *action)
			stats.Actions++
		}

		if record.Timestamp > maxTs {
			maxTs = record.Timestamp
		}

		if len(batch) >= a.cfg.BatchSize || len(actions) >= a.cfg.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	for _, acc := range a.accumulators {
		batch = append(batch, a.flushAccumulator(ctx, acc))
		stats.Windows++
	}
	a.accumulators = make(map[string]*Accumulator)

	a.cfg.RecomputeFrom = maxTs
	if err := flush(); err != nil {
		return stats, err
	}

	a.logger.Info("aggregate complete",
		zap.Int("total", stats.Total),
		zap.Int("windows", stats.Windows),
		zap.Int("actions", stats.Actions),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)

	return stats, nil
}

func (a *Aggregator) loadStartTimestamp(ctx context.Context) (uint64, error) {
	if a.cfg.RecomputeFrom > 0 {
		return a.cfg.RecomputeFrom - 1, nil
	}
	if a.cfg.StateStore == nil {
		return 0, nil
	}
	last, ok, err := a.cfg.StateStore.Load(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last, nil
}

func (a *Aggregator) saveState(ctx context.Context) error {
	if a.cfg.StateStore == nil {
		return nil
	}

	if len(a.accumulators) == 0 {
		return a.cfg.StateStore.Save(ctx, a.cfg.RecomputeFrom)
	}

	safeTs := minOpenWindowStart(a.accumulators)
	if safeTs > 0 {
		safeTs = safeTs - 1
	}
	if safeTs == 0 {
		safeTs = a.cfg.RecomputeFrom
	}
	return a.cfg.StateStore.Save(ctx, safeTs)
}

func (a *Aggregator) flushBatches(ctx context.Context, batch []model.KeeperWindowMetrics, actions []model.KeeperAction) error {
	if keepers := a.pendingKeepers(); len(keepers) > 0 {
		if err := a.store.UpsertKeepers(ctx, keepers); err != nil {
			return fmt.Errorf("upsert keepers: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := a.store.InsertKeeperActions(ctx, actions); err != nil {
			return fmt.Errorf("insert keeper actions: %w", err)
		}
	}
	if len(batch) > 0 {
		if err := a.store.UpsertKeeperWindowMetrics(ctx, batch); err != nil {
			return fmt.Errorf("upsert window metrics: %w", err)
		}
	}
	return nil
}

func (a *Aggregator) flushAccumulator(ctx context.Context, acc *Accumulator) model.KeeperWindowMetrics {
	a.registerKeeper(acc)
	decimals := a.getPeggedDecimals(ctx, acc.KeeperAddress)

	var (
		debt       *big.Int
		debtMethod string
	)
	switch {
	case acc.DebtAfter != nil:
		debt, debtMethod = acc.DebtAfter, debtMethodEvent
	default:
		var err error
		debt, debtMethod, err = a.fetchDebt(ctx, acc.KeeperAddress, acc.LastBlock)
		if err != nil {
			a.logger.Warn("debt fetch failed", zap.String("keeper", acc.KeeperAddress), zap.Error(err))
		}
	}

	var debtStr *string
	if debt != nil {
		val := formatTokenAmount(debt, decimals)
		debtStr = &val
	}

	return model.KeeperWindowMetrics{
		ChainID:        acc.ChainID,
		KeeperAddress:  acc.KeeperAddress,
		WindowSizeSecs: int64(a.cfg.WindowSeconds),
		WindowStart:    unixTime(acc.WindowStart),
		WindowEnd:      unixTime(acc.WindowEnd),
		ProvideCount:   acc.ProvideCount,
		WithdrawCount:  acc.WithdrawCount,
		Provided:       formatTokenAmount(acc.Provided, decimals),
		Withdrawn:      formatTokenAmount(acc.Withdrawn, decimals),
		NetDebtChange:  formatTokenAmount(acc.NetDebtChange(), decimals),
		ProfitLP:       formatTokenAmount(acc.ProfitLP, defaultDecimals),
		DebtAtEnd:      debtStr,
		TurnoverRate:   computeTurnover(acc.Provided, acc.Withdrawn, debt),
		DebtMethod:     debtMethod,
	}
}

func (a *Aggregator) registerKeeper(acc *Accumulator) {
	key := keeperKey(acc.KeeperAddress)
	existing, ok := a.keepers[key]
	if !ok {
		existing = model.Keeper{ChainID: acc.ChainID, Address: acc.KeeperAddress, FirstSeenBlock: acc.FirstBlock}
	}
	if acc.FirstBlock < existing.FirstSeenBlock {
		existing.FirstSeenBlock = acc.FirstBlock
	}
	if acc.LastBlock > existing.LastSeenBlock {
		existing.LastSeenBlock = acc.LastBlock
	}
	a.keepers[key] = existing
}

func (a *Aggregator) pendingKeepers() []model.Keeper {
	out := make([]model.Keeper, 0, len(a.keepers))
	for _, keeper := range a.keepers {
		out = append(out, keeper)
	}
	a.keepers = make(map[string]model.Keeper)
	return out
}

func (a *Aggregator) getPeggedDecimals(ctx context.Context, keeperAddr string) uint8 {
	if !common.IsHexAddress(keeperAddr) {
		return defaultDecimals
	}
	keeper := common.HexToAddress(keeperAddr)
	if decimals, ok := a.decimals.Get(keeper); ok {
		return decimals
	}
	decimals, err := FetchPeggedDecimals(ctx, a.caller, keeper)
	if err != nil {
		a.logger.Warn("pegged decimals", zap.String("keeper", keeperAddr), zap.Error(err))
		decimals = defaultDecimals
	}
	a.decimals.Set(keeper, decimals)
	return decimals
}

func windowStart(ts uint64, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}

func keeperKey(address string) string {
	return strings.ToLower(address)
}

func minOpenWindowStart(acc map[string]*Accumulator) uint64 {
	var min uint64
	for _, entry := range acc {
		if entry == nil {
			continue
		}
		if min == 0 || entry.WindowStart < min {
			min = entry.WindowStart
		}
	}
	return min
}
