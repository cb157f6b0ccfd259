package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
	"github.com/seanpm2001/curve-stable-peg/internal/harness"
	"github.com/seanpm2001/curve-stable-peg/internal/model"
)

type memStorage struct {
	batches [][]model.LogRecord
}

func (m *memStorage) PutLogBatch(logs []model.LogRecord) error {
	batch := make([]model.LogRecord, len(logs))
	copy(batch, logs)
	m.batches = append(m.batches, batch)
	return nil
}

func (m *memStorage) records() []model.LogRecord {
	out := make([]model.LogRecord, 0)
	for _, batch := range m.batches {
		out = append(out, batch...)
	}
	return out
}

func withdrawingFixture(t *testing.T) *harness.Fixture {
	t.Helper()
	f, err := harness.NewFixture(harness.FixtureConfig{})
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	if err := f.Attach(); err != nil {
		t.Fatalf("attach: %v", err)
	}
	add := new(uint256.Int).Set(harness.DefaultInitialAmount)
	if _, err := f.AddLiquidity(f.Accounts.Alice, [2]*uint256.Int{new(uint256.Int), add}); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	return f
}

func countKeeperLogs(logs []types.Log, keeper common.Address, topics []common.Hash) int {
	n := 0
	for _, log := range logs {
		if log.Address == keeper && len(log.Topics) > 0 && containsHash(topics, log.Topics[0]) {
			n++
		}
	}
	return n
}

func TestRunnerExportsKeeperLogs(t *testing.T) {
	f := withdrawingFixture(t)
	sink := &memStorage{}
	topics := DefaultTopic0()

	runner := NewRunner(RunConfig{
		Addresses: []common.Address{f.Keeper.Address()},
		Topic0:    topics,
		BatchSize: 3,
	}, NewLedgerSource(f.Chain), sink, nil)

	stats, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := countKeeperLogs(f.Chain.Logs(), f.Keeper.Address(), topics)
	if want < 2 {
		t.Fatalf("fixture produced %d keeper logs", want)
	}
	if stats.Logs != want || stats.ChainID != f.Chain.ChainID() || stats.To != f.Chain.BlockNumber() {
		t.Fatalf("stats mismatch: %+v, want %d logs", stats, want)
	}

	withdrawID := contracts.MustPegKeeperABI().Events["Withdraw"].ID.Hex()
	var withdrawals int
	for _, record := range sink.records() {
		ts, _ := f.Chain.BlockTimestamp(record.BlockNumber)
		if record.Timestamp != ts || record.ChainID != f.Chain.ChainID() {
			t.Fatalf("record mismatch: %+v", record)
		}
		if record.Address != f.Keeper.Address().Hex() {
			t.Fatalf("unexpected address %s", record.Address)
		}
		if record.Topic0() == withdrawID {
			withdrawals++
		}
	}
	if withdrawals != 1 {
		t.Fatalf("withdrawals: %d", withdrawals)
	}
}

func TestRunnerResumesFromCheckpoint(t *testing.T) {
	f := withdrawingFixture(t)
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cfg := RunConfig{
		Addresses:         []common.Address{f.Keeper.Address(), f.Pool.Address()},
		BatchSize:         2,
		CheckpointPath:    path,
		CheckpointEnabled: true,
	}

	first := &memStorage{}
	stats, err := NewRunner(cfg, NewLedgerSource(f.Chain), first, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if stats.Logs == 0 {
		t.Fatalf("first run stored nothing")
	}
	head := f.Chain.BlockNumber()

	second := &memStorage{}
	stats, err = NewRunner(cfg, NewLedgerSource(f.Chain), second, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stats.Batches != 0 || len(second.records()) != 0 || stats.From != head+1 {
		t.Fatalf("second run should be a no-op: %+v", stats)
	}

	remove := [2]*uint256.Int{new(uint256.Int), uint256.NewInt(1_000_000)}
	if _, err := f.RemoveLiquidityImbalance(f.Accounts.Alice, remove, nil); err != nil {
		t.Fatalf("remove liquidity: %v", err)
	}

	third := &memStorage{}
	stats, err = NewRunner(cfg, NewLedgerSource(f.Chain), third, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if stats.From != head+1 || stats.Logs == 0 {
		t.Fatalf("third run stats: %+v", stats)
	}
	for _, record := range third.records() {
		if record.BlockNumber <= head {
			t.Fatalf("replayed block %d", record.BlockNumber)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read checkpoint: %v", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		t.Fatalf("parse checkpoint: %v", err)
	}
	if cp.ChainID != f.Chain.ChainID() || cp.LastProcessedBlock != f.Chain.BlockNumber() {
		t.Fatalf("checkpoint mismatch: %+v", cp)
	}
}

func TestRunnerRejectsForeignCheckpoint(t *testing.T) {
	f := withdrawingFixture(t)
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := NewCheckpointStore(path, true).Save(f.Chain.ChainID()+1, 3); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := NewRunner(RunConfig{
		Addresses:         []common.Address{f.Keeper.Address()},
		BatchSize:         10,
		CheckpointPath:    path,
		CheckpointEnabled: true,
	}, NewLedgerSource(f.Chain), &memStorage{}, nil).Run(context.Background())
	if !errors.Is(err, ErrChainMismatch) {
		t.Fatalf("expected chain mismatch, got %v", err)
	}
}

func TestRunnerValidatesConfig(t *testing.T) {
	f := withdrawingFixture(t)
	source := NewLedgerSource(f.Chain)
	if _, err := NewRunner(RunConfig{BatchSize: 10}, source, &memStorage{}, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected missing address error")
	}
	if _, err := NewRunner(RunConfig{Addresses: []common.Address{f.Keeper.Address()}}, source, &memStorage{}, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected batch size error")
	}
	if _, err := NewRunner(RunConfig{Addresses: []common.Address{f.Keeper.Address()}, BatchSize: 1}, source, nil, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected storage error")
	}
}

type flakySource struct {
	LogSource
	failures int
	calls    int
}

func (s *flakySource) FilterLogs(ctx context.Context, from, to uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("rpc unavailable")
	}
	return s.LogSource.FilterLogs(ctx, from, to, addresses, topic0)
}

func TestRunnerRetriesFilterLogs(t *testing.T) {
	f := withdrawingFixture(t)
	addresses := []common.Address{f.Keeper.Address()}

	source := &flakySource{LogSource: NewLedgerSource(f.Chain), failures: 2}
	stats, err := NewRunner(RunConfig{
		Addresses: addresses,
		BatchSize: 1000,
		Retry:     RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond},
	}, source, &memStorage{}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if source.calls != 3 || stats.Logs == 0 {
		t.Fatalf("calls %d, stats %+v", source.calls, stats)
	}

	source = &flakySource{LogSource: NewLedgerSource(f.Chain), failures: 5}
	_, err = NewRunner(RunConfig{
		Addresses: addresses,
		BatchSize: 1000,
		Retry:     RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond},
	}, source, &memStorage{}, nil).Run(context.Background())
	if err == nil || source.calls != 2 {
		t.Fatalf("expected exhausted retries after 2 calls, got %d: %v", source.calls, err)
	}
}
