package model

// DecodeError records a decode failure for a log line.
type DecodeError struct {
	ChainID     uint64 `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Error       string `json:"error"`
}

// NewDecodeError ties err to the log it came from.
func NewDecodeError(record LogRecord, err error) DecodeError {
	return DecodeError{
		ChainID:     record.ChainID,
		BlockNumber: record.BlockNumber,
		TxHash:      record.TxHash,
		LogIndex:    record.LogIndex,
		Address:     record.Address,
		Topic0:      record.Topic0(),
		Error:       err.Error(),
	}
}
