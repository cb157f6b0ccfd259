package contracts

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const stableSwapABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "provider", "type": "address"},
      {"indexed": false, "name": "token_amounts", "type": "uint256[2]"},
      {"indexed": false, "name": "fees", "type": "uint256[2]"},
      {"indexed": false, "name": "invariant", "type": "uint256"},
      {"indexed": false, "name": "token_supply", "type": "uint256"}
    ],
    "name": "AddLiquidity",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "provider", "type": "address"},
      {"indexed": false, "name": "token_amounts", "type": "uint256[2]"},
      {"indexed": false, "name": "fees", "type": "uint256[2]"},
      {"indexed": false, "name": "token_supply", "type": "uint256"}
    ],
    "name": "RemoveLiquidity",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "provider", "type": "address"},
      {"indexed": false, "name": "token_amounts", "type": "uint256[2]"},
      {"indexed": false, "name": "fees", "type": "uint256[2]"},
      {"indexed": false, "name": "invariant", "type": "uint256"},
      {"indexed": false, "name": "token_supply", "type": "uint256"}
    ],
    "name": "RemoveLiquidityImbalance",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "peg_keeper", "type": "address"}
    ],
    "name": "SetPegKeeper",
    "type": "event"
  },
  {
    "inputs": [{"name": "i", "type": "uint256"}],
    "name": "balances",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"name": "i", "type": "uint256"}],
    "name": "coins",
    "outputs": [{"name": "", "type": "address"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "A",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "fee",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "get_virtual_price",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

const pegKeeperABIJSON = `[
  {
    "anonymous": false,
    "inputs": [{"indexed": false, "name": "amount", "type": "uint256"}],
    "name": "Provide",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [{"indexed": false, "name": "amount", "type": "uint256"}],
    "name": "Withdraw",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [{"indexed": false, "name": "lp_amount", "type": "uint256"}],
    "name": "Profit",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "debt",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "min_asymmetry",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "last_change",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "action_delay",
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "pool",
    "outputs": [{"name": "", "type": "address"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "receiver",
    "outputs": [{"name": "", "type": "address"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

const erc20ABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "from", "type": "address"},
      {"indexed": true, "name": "to", "type": "address"},
      {"indexed": false, "name": "value", "type": "uint256"}
    ],
    "name": "Transfer",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "name": "owner", "type": "address"},
      {"indexed": true, "name": "spender", "type": "address"},
      {"indexed": false, "name": "value", "type": "uint256"}
    ],
    "name": "Approval",
    "type": "event"
  },
  {"inputs": [{"name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`

var (
	stableSwapABI     abi.ABI
	stableSwapABIOnce sync.Once
	stableSwapABIErr  error

	pegKeeperABI     abi.ABI
	pegKeeperABIOnce sync.Once
	pegKeeperABIErr  error

	erc20ABI     abi.ABI
	erc20ABIOnce sync.Once
	erc20ABIErr  error
)

// StableSwapABI returns the parsed two-coin StableSwap pool ABI.
func StableSwapABI() (abi.ABI, error) {
	stableSwapABIOnce.Do(func() {
		stableSwapABI, stableSwapABIErr = abi.JSON(strings.NewReader(stableSwapABIJSON))
	})
	return stableSwapABI, stableSwapABIErr
}

// PegKeeperABI returns the parsed peg keeper ABI.
func PegKeeperABI() (abi.ABI, error) {
	pegKeeperABIOnce.Do(func() {
		pegKeeperABI, pegKeeperABIErr = abi.JSON(strings.NewReader(pegKeeperABIJSON))
	})
	return pegKeeperABI, pegKeeperABIErr
}

// ERC20ABI returns the parsed ERC20 subset used here.
func ERC20ABI() (abi.ABI, error) {
	erc20ABIOnce.Do(func() {
		erc20ABI, erc20ABIErr = abi.JSON(strings.NewReader(erc20ABIJSON))
	})
	return erc20ABI, erc20ABIErr
}

// MustStableSwapABI panics if the embedded ABI does not parse.
func MustStableSwapABI() abi.ABI {
	parsed, err := StableSwapABI()
	if err != nil {
		panic(err)
	}
	return parsed
}

// MustPegKeeperABI panics if the embedded ABI does not parse.
func MustPegKeeperABI() abi.ABI {
	parsed, err := PegKeeperABI()
	if err != nil {
		panic(err)
	}
	return parsed
}

// MustERC20ABI panics if the embedded ABI does not parse.
func MustERC20ABI() abi.ABI {
	parsed, err := ERC20ABI()
	if err != nil {
		panic(err)
	}
	return parsed
}
