package model

// PoolState is a read of the pool contract at one block.
type PoolState struct {
	Address      string    `json:"address"`
	BlockNumber  uint64    `json:"block_number,omitempty"`
	Coins        [2]string `json:"coins"`
	Balances     [2]string `json:"balances"`
	A            string    `json:"a"`
	Fee          string    `json:"fee"`
	VirtualPrice string    `json:"virtual_price,omitempty"`
}

// KeeperState is a read of the peg keeper contract at one block.
type KeeperState struct {
	Address      string `json:"address"`
	BlockNumber  uint64 `json:"block_number,omitempty"`
	Pool         string `json:"pool"`
	Receiver     string `json:"receiver"`
	Debt         string `json:"debt"`
	MinAsymmetry string `json:"min_asymmetry"`
	LastChange   uint64 `json:"last_change"`
	// ActionDelay is zero for keepers without the view.
	ActionDelay uint64 `json:"action_delay,omitempty"`
}

// TokenMeta captures ERC20 metadata.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}
