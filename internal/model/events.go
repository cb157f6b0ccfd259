package model

// AmountEventData is the payload of the keeper Provide and Withdraw events.
type AmountEventData struct {
	Amount string `json:"amount"`
	// DebtAfter is the keeper debt read at the event block, when requested.
	DebtAfter string `json:"debt_after,omitempty"`
}

// ProfitEventData is the payload of the keeper Profit event.
type ProfitEventData struct {
	LPAmount string `json:"lp_amount"`
}

// LiquidityEventData is the payload of the pool AddLiquidity,
// RemoveLiquidity and RemoveLiquidityImbalance events.
type LiquidityEventData struct {
	Provider     string    `json:"provider"`
	TokenAmounts [2]string `json:"token_amounts"`
	Fees         [2]string `json:"fees"`
	Invariant    string    `json:"invariant,omitempty"`
	TokenSupply  string    `json:"token_supply"`
}

// SetPegKeeperEventData is the payload of the pool SetPegKeeper event.
type SetPegKeeperEventData struct {
	PegKeeper string `json:"peg_keeper"`
}
