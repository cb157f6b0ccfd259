// Package token implements the ERC20-like assets held by the pool: the
// reference asset, the pegged asset and the pool's LP token.
package token

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
	"github.com/seanpm2001/curve-stable-peg/internal/ledger"
)

var (
	// ErrInsufficientBalance is returned when a transfer or burn exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientAllowance is returned when TransferFrom exceeds the allowance.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	// ErrOverflow is returned when a mint would overflow a balance or the supply.
	ErrOverflow = errors.New("amount overflow")
	// ErrZeroAddress is returned when minting or transferring to the zero address.
	ErrZeroAddress = errors.New("zero address")
)

// Config describes a token deployment.
type Config struct {
	Name     string
	Symbol   string
	Decimals uint8
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Token is a mintable and burnable fungible asset. The deployer is its
// admin; minting is limited to the minter role set.
type Token struct {
	address  common.Address
	name     string
	symbol   string
	decimals uint8
	abi      abi.ABI
	roles    *ledger.Roles

	totalSupply uint256.Int
	balances    map[common.Address]uint256.Int
	allowances  map[allowanceKey]uint256.Int
}

// Deploy creates a token owned by the transaction caller.
func Deploy(tx *ledger.Tx, cfg Config) (*Token, error) {
	parsed, err := contracts.ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = 18
	}

	t := &Token{
		address:    tx.CreateAddress(),
		name:       cfg.Name,
		symbol:     cfg.Symbol,
		decimals:   cfg.Decimals,
		abi:        parsed,
		roles:      tx.Roles(),
		balances:   make(map[common.Address]uint256.Int),
		allowances: make(map[allowanceKey]uint256.Int),
	}
	tx.Roles().Grant(tx, t.address, ledger.RoleAdmin, tx.Caller())
	return t, nil
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

// TotalSupply returns a copy of the total supply.
func (t *Token) TotalSupply() *uint256.Int {
	return t.totalSupply.Clone()
}

// BalanceOf returns a copy of the balance of account.
func (t *Token) BalanceOf(account common.Address) *uint256.Int {
	bal := t.balances[account]
	return bal.Clone()
}

// Allowance returns how much spender may move on behalf of owner.
func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	val := t.allowances[allowanceKey{owner: owner, spender: spender}]
	return val.Clone()
}

// IsMinter reports whether account may mint.
func (t *Token) IsMinter(account common.Address) bool {
	return t.roles.Has(t.address, ledger.RoleMinter, account)
}

// Transfer moves amount from the caller to to.
func (t *Token) Transfer(tx *ledger.Tx, to common.Address, amount *uint256.Int) error {
	return t.move(tx, tx.Caller(), to, amount)
}

// TransferFrom moves amount from from to to using the caller's allowance.
func (t *Token) TransferFrom(tx *ledger.Tx, from, to common.Address, amount *uint256.Int) error {
	key := allowanceKey{owner: from, spender: tx.Caller()}
	allowed := t.allowances[key]
	if !allowed.Eq(maxUint256) {
		if allowed.Lt(amount) {
			return fmt.Errorf("%w: %s allows %s, need %s", ErrInsufficientAllowance, from.Hex(), allowed.Dec(), amount.Dec())
		}
		var left uint256.Int
		left.Sub(&allowed, amount)
		ledger.SetMapValue(tx, t.allowances, key, left)
	}
	return t.move(tx, from, to, amount)
}

// Approve sets the caller's allowance for spender.
func (t *Token) Approve(tx *ledger.Tx, spender common.Address, amount *uint256.Int) error {
	key := allowanceKey{owner: tx.Caller(), spender: spender}
	ledger.SetMapValue(tx, t.allowances, key, *amount)
	return contracts.EmitEvent(tx, t.address, t.abi, "Approval", tx.Caller(), spender, amount.ToBig())
}

// AddMinter grants the minter role. Admin only.
func (t *Token) AddMinter(tx *ledger.Tx, minter common.Address) error {
	if err := tx.Roles().Require(t.address, ledger.RoleAdmin, tx.Caller()); err != nil {
		return err
	}
	if minter == (common.Address{}) {
		return ErrZeroAddress
	}
	tx.Roles().Grant(tx, t.address, ledger.RoleMinter, minter)
	return nil
}

// RemoveMinter revokes the minter role. Admin only.
func (t *Token) RemoveMinter(tx *ledger.Tx, minter common.Address) error {
	if err := tx.Roles().Require(t.address, ledger.RoleAdmin, tx.Caller()); err != nil {
		return err
	}
	tx.Roles().Revoke(tx, t.address, ledger.RoleMinter, minter)
	return nil
}

// Mint creates amount for to. Minters only.
func (t *Token) Mint(tx *ledger.Tx, to common.Address, amount *uint256.Int) error {
	if err := tx.Roles().Require(t.address, ledger.RoleMinter, tx.Caller()); err != nil {
		return err
	}
	return t.mint(tx, to, amount)
}

// MintForTesting creates amount for to without any role check.
func (t *Token) MintForTesting(tx *ledger.Tx, to common.Address, amount *uint256.Int) error {
	return t.mint(tx, to, amount)
}

// Burn destroys amount of the caller's balance.
func (t *Token) Burn(tx *ledger.Tx, amount *uint256.Int) error {
	return t.burn(tx, tx.Caller(), amount)
}

// BurnFrom destroys amount of from's balance. Minters only; the pool uses
// it to burn LP tokens on withdrawal.
func (t *Token) BurnFrom(tx *ledger.Tx, from common.Address, amount *uint256.Int) error {
	if err := tx.Roles().Require(t.address, ledger.RoleMinter, tx.Caller()); err != nil {
		return err
	}
	return t.burn(tx, from, amount)
}

func (t *Token) mint(tx *ledger.Tx, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	var supply uint256.Int
	if _, overflow := supply.AddOverflow(&t.totalSupply, amount); overflow {
		return ErrOverflow
	}
	bal := t.balances[to]
	var next uint256.Int
	next.Add(&bal, amount)

	ledger.SetValue(tx, &t.totalSupply, supply)
	ledger.SetMapValue(tx, t.balances, to, next)
	return contracts.EmitEvent(tx, t.address, t.abi, "Transfer", common.Address{}, to, amount.ToBig())
}

func (t *Token) burn(tx *ledger.Tx, from common.Address, amount *uint256.Int) error {
	bal := t.balances[from]
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, burn %s", ErrInsufficientBalance, from.Hex(), bal.Dec(), amount.Dec())
	}
	var next, supply uint256.Int
	next.Sub(&bal, amount)
	supply.Sub(&t.totalSupply, amount)

	ledger.SetMapValue(tx, t.balances, from, next)
	ledger.SetValue(tx, &t.totalSupply, supply)
	return contracts.EmitEvent(tx, t.address, t.abi, "Transfer", from, common.Address{}, amount.ToBig())
}

func (t *Token) move(tx *ledger.Tx, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	fromBal := t.balances[from]
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s, transfer %s", ErrInsufficientBalance, from.Hex(), fromBal.Dec(), amount.Dec())
	}
	var nextFrom uint256.Int
	nextFrom.Sub(&fromBal, amount)
	ledger.SetMapValue(tx, t.balances, from, nextFrom)

	toBal := t.balances[to]
	var nextTo uint256.Int
	nextTo.Add(&toBal, amount)
	ledger.SetMapValue(tx, t.balances, to, nextTo)

	return contracts.EmitEvent(tx, t.address, t.abi, "Transfer", from, to, amount.ToBig())
}

var maxUint256 = new(uint256.Int).SetAllOne()

// MaxUint256 returns 2**256 - 1, the "unlimited" allowance.
func MaxUint256() *uint256.Int {
	return maxUint256.Clone()
}
