package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
	"github.com/seanpm2001/curve-stable-peg/internal/harness"
	"github.com/seanpm2001/curve-stable-peg/internal/indexer"
	"github.com/seanpm2001/curve-stable-peg/internal/model"
	"github.com/seanpm2001/curve-stable-peg/internal/storage"
)

type typedLine struct {
	EventName string `json:"event_name"`
	Contract  string `json:"contract"`
	Decoded   struct {
		Amount    string `json:"amount"`
		DebtAfter string `json:"debt_after"`
	} `json:"decoded"`
}

func TestExportAndDecodeTracksDebt(t *testing.T) {
	f, err := harness.NewFixture(harness.FixtureConfig{})
	require.NoError(t, err)
	require.NoError(t, f.Attach())
	add := new(uint256.Int).Set(harness.DefaultInitialAmount)
	_, err = f.AddLiquidity(f.Accounts.Alice, [2]*uint256.Int{new(uint256.Int), add})
	require.NoError(t, err)

	dir := t.TempDir()
	rawPath := filepath.Join(dir, "logs.jsonl")
	typedPath := filepath.Join(dir, "typed.jsonl")
	errPath := filepath.Join(dir, "errors.jsonl")

	runner := indexer.NewRunner(indexer.RunConfig{
		Addresses: []common.Address{f.Keeper.Address(), f.Pool.Address()},
		BatchSize: 1000,
	}, indexer.NewLedgerSource(f.Chain), storage.NewJsonlStorage(rawPath), nil)
	_, err = runner.Run(context.Background())
	require.NoError(t, err)

	decoder, err := contracts.NewEventDecoder(contracts.DecoderConfig{})
	require.NoError(t, err)
	stats, err := decodeFile(rawPath, typedPath, errPath, newDebtTracker(decoder), contracts.DecodeContext{
		Context: context.Background(),
		Caller:  f.Caller(),
	})
	require.NoError(t, err)
	require.Zero(t, stats.failed)
	require.Positive(t, stats.decoded)

	var keeperEvents []typedLine
	require.NoError(t, storage.ScanJSONLFile(typedPath, func(line []byte) error {
		var ev typedLine
		if err := json.Unmarshal(line, &ev); err != nil {
			return err
		}
		if ev.Contract == model.ContractPegKeeper {
			keeperEvents = append(keeperEvents, ev)
		}
		return nil
	}))

	require.Len(t, keeperEvents, 2)
	require.Equal(t, "Provide", keeperEvents[0].EventName)
	require.Equal(t, harness.DefaultInitialAmount.Dec(), keeperEvents[0].Decoded.DebtAfter)
	require.Equal(t, "Withdraw", keeperEvents[1].EventName)
	require.Equal(t, f.Keeper.Debt().Dec(), keeperEvents[1].Decoded.DebtAfter)
}

func TestDebtTrackerRejectsNegativeDebt(t *testing.T) {
	f, err := harness.NewFixture(harness.FixtureConfig{})
	require.NoError(t, err)
	require.NoError(t, f.Attach())
	receipt, err := f.AddLiquidity(f.Accounts.Alice, [2]*uint256.Int{new(uint256.Int), new(uint256.Int).Set(harness.DefaultInitialAmount)})
	require.NoError(t, err)

	decoder, err := contracts.NewEventDecoder(contracts.DecoderConfig{})
	require.NoError(t, err)
	tracker := newDebtTracker(decoder)

	withdrawID := contracts.MustPegKeeperABI().Events["Withdraw"].ID
	logs := receipt.Filter(f.Keeper.Address(), withdrawID)
	require.Len(t, logs, 1)

	// Decoding starts after the Provide, so the running debt goes negative.
	ts, _ := f.Chain.BlockTimestamp(logs[0].BlockNumber)
	record := model.NewLogRecord(f.Chain.ChainID(), logs[0], ts, time.Now())
	_, err = tracker.Decode(record, contracts.DecodeContext{})
	require.Error(t, err)
}
