package model

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestNewLogRecord(t *testing.T) {
	log := types.Log{
		Address:     common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Topics:      []common.Hash{common.HexToHash("0xaa"), common.HexToHash("0xbb")},
		Data:        []byte{0xde, 0xad, 0xbe, 0xef},
		BlockNumber: 36000000,
		TxHash:      common.HexToHash("0xdef456"),
		TxIndex:     7,
		BlockHash:   common.HexToHash("0xabc123"),
		Index:       12,
	}
	ingested := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	got := NewLogRecord(1, log, 1700000000, ingested)
	want := LogRecord{
		ChainID:     1,
		BlockNumber: 36000000,
		BlockHash:   common.HexToHash("0xabc123").Hex(),
		TxHash:      common.HexToHash("0xdef456").Hex(),
		TxIndex:     7,
		LogIndex:    12,
		Address:     "0x1111111111111111111111111111111111111111",
		Topics:      []string{common.HexToHash("0xaa").Hex(), common.HexToHash("0xbb").Hex()},
		Data:        "0xdeadbeef",
		Timestamp:   1700000000,
		IngestedAt:  "2024-01-01T00:00:00Z",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("record mismatch: %+v != %+v", got, want)
	}
	if got.Topic0() != want.Topics[0] {
		t.Fatalf("topic0 mismatch: %s", got.Topic0())
	}
	if (LogRecord{}).Topic0() != "" {
		t.Fatalf("anonymous log should have empty topic0")
	}
}

func TestLogRecordJSONFieldNames(t *testing.T) {
	b, err := json.Marshal(LogRecord{ChainID: 1, BlockNumber: 2, LogIndex: 3})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(b, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, key := range []string{"chain_id", "block_number", "log_index", "tx_hash", "topics", "ingested_at"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing field %s in %s", key, b)
		}
	}
}
