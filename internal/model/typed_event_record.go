package model

import (
	"encoding/json"
	"fmt"
)

// TypedEventRecord is the JSON representation used for aggregation.
type TypedEventRecord struct {
	ChainID     uint64          `json:"chain_id"`
	BlockNumber uint64          `json:"block_number"`
	BlockHash   string          `json:"block_hash"`
	TxHash      string          `json:"tx_hash"`
	LogIndex    uint64          `json:"log_index"`
	Address     string          `json:"address"`
	Contract    string          `json:"contract"`
	EventName   string          `json:"event_name"`
	Timestamp   uint64          `json:"timestamp"`
	Decoded     json.RawMessage `json:"decoded"`
	Raw         *RawLogRef      `json:"raw,omitempty"`
}

// Amount decodes the payload of a Provide or Withdraw record.
func (r TypedEventRecord) Amount() (AmountEventData, error) {
	var data AmountEventData
	if err := json.Unmarshal(r.Decoded, &data); err != nil {
		return data, fmt.Errorf("decode %s: %w", r.EventName, err)
	}
	return data, nil
}

// Profit decodes the payload of a Profit record.
func (r TypedEventRecord) Profit() (ProfitEventData, error) {
	var data ProfitEventData
	if err := json.Unmarshal(r.Decoded, &data); err != nil {
		return data, fmt.Errorf("decode %s: %w", r.EventName, err)
	}
	return data, nil
}
