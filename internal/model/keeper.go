package model

import "time"

// Keeper is a peg keeper registry row.
type Keeper struct {
	ChainID        uint64 `json:"chain_id"`
	Address        string `json:"address"`
	FirstSeenBlock uint64 `json:"first_seen_block"`
	LastSeenBlock  uint64 `json:"last_seen_block"`
}

// KeeperAction is one Provide or Withdraw, as persisted.
type KeeperAction struct {
	ChainID     uint64
	Keeper      string
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
	Action      string
	Amount      string
	Timestamp   time.Time
}

// KeeperWindowMetrics stores aggregated keeper activity for a window.
// Amounts are decimal strings scaled by the pegged asset decimals.
type KeeperWindowMetrics struct {
	ChainID        uint64
	KeeperAddress  string
	WindowSizeSecs int64
	WindowStart    time.Time
	WindowEnd      time.Time
	ProvideCount   uint64
	WithdrawCount  uint64
	Provided       string
	Withdrawn      string
	NetDebtChange  string
	ProfitLP       string
	DebtAtEnd      *string
	TurnoverRate   *string
	DebtMethod     string
}
