// Package pegkeeper implements the debt-tracked peg keeper attached to a
// two-coin StableSwap pool. An update provides freshly minted pegged asset
// when the pool is short of it and withdraws and burns previously provided
// pegged asset when the pool holds too much.
package pegkeeper

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
	"github.com/seanpm2001/curve-stable-peg/internal/ledger"
	"github.com/seanpm2001/curve-stable-peg/internal/stableswap"
	"github.com/seanpm2001/curve-stable-peg/internal/token"
)

var (
	// ErrUnknownVariant is returned for a variant name outside the registry.
	ErrUnknownVariant = errors.New("unknown peg keeper variant")
	// ErrInvalidParams is returned by Deploy for incomplete or conflicting params.
	ErrInvalidParams = errors.New("invalid peg keeper params")
)

// DefaultMinAsymmetry is the threshold used when Params leaves it unset.
const DefaultMinAsymmetry = 2

// Params describes a keeper deployment.
type Params struct {
	Pool     *stableswap.Pool
	Receiver common.Address
	// MinAsymmetry defaults to DefaultMinAsymmetry when nil.
	MinAsymmetry *uint256.Int
	// ActionDelay is the minimum number of seconds between two actions.
	ActionDelay uint64
	// Updater restricts who may call a pluggable keeper.
	Updater common.Address
	Logger  *zap.Logger
}

// Keeper is the capability shared by every variant.
type Keeper interface {
	Address() common.Address
	Variant() Variant
	Pool() common.Address
	Receiver() common.Address
	Debt() *uint256.Int
	TotalMinted() *uint256.Int
	MinAsymmetry() *uint256.Int
	LastChange() uint64
	// ActionDelay is the minimum number of seconds between two actions.
	ActionDelay() uint64
	// Update rebalances the pool when it is asymmetric enough. It reports
	// whether an action happened; the error is reserved for callers that
	// may not update.
	Update(tx *ledger.Tx) (bool, error)
	// Profit is the LP balance not needed to repay the debt.
	Profit() (*uint256.Int, error)
	// WithdrawProfit sends the profit to the receiver.
	WithdrawProfit(tx *ledger.Tx) (*uint256.Int, error)
}

// core holds the state and provide/withdraw mechanics common to all variants.
// Variants decide who may call update.
type core struct {
	address      common.Address
	receiver     common.Address
	pool         *stableswap.Pool
	pegged       *token.Token
	minAsymmetry uint256.Int
	actionDelay  uint64
	abi          abi.ABI
	logger       *zap.Logger

	debt        uint256.Int
	totalMinted uint256.Int
	lastChange  uint64
}

func newCore(tx *ledger.Tx, params Params) (*core, error) {
	if params.Pool == nil {
		return nil, fmt.Errorf("%w: pool is required", ErrInvalidParams)
	}
	if params.Receiver == (common.Address{}) {
		return nil, fmt.Errorf("%w: receiver is required", ErrInvalidParams)
	}
	parsed, err := contracts.PegKeeperABI()
	if err != nil {
		return nil, fmt.Errorf("parse peg keeper abi: %w", err)
	}
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}

	k := &core{
		address:     tx.CreateAddress(),
		receiver:    params.Receiver,
		pool:        params.Pool,
		pegged:      params.Pool.Coins()[1],
		actionDelay: params.ActionDelay,
		abi:         parsed,
		logger:      params.Logger,
	}
	if params.MinAsymmetry != nil {
		k.minAsymmetry.Set(params.MinAsymmetry)
	} else {
		k.minAsymmetry.SetUint64(DefaultMinAsymmetry)
	}

	tx.Roles().Grant(tx, k.address, ledger.RoleAdmin, tx.Caller())
	if err := k.pegged.Approve(tx.As(k.address), k.pool.Address(), token.MaxUint256()); err != nil {
		return nil, fmt.Errorf("approve pool: %w", err)
	}
	return k, nil
}

func (k *core) Address() common.Address  { return k.address }
func (k *core) Pool() common.Address     { return k.pool.Address() }
func (k *core) Receiver() common.Address { return k.receiver }
func (k *core) LastChange() uint64       { return k.lastChange }
func (k *core) ActionDelay() uint64      { return k.actionDelay }

func (k *core) Debt() *uint256.Int         { return k.debt.Clone() }
func (k *core) TotalMinted() *uint256.Int  { return k.totalMinted.Clone() }
func (k *core) MinAsymmetry() *uint256.Int { return k.minAsymmetry.Clone() }

// Delayed reports whether an action at now falls inside the delay that
// follows lastChange.
func Delayed(lastChange, actionDelay, now uint64) bool {
	return actionDelay > 0 && now < lastChange+actionDelay
}

// update plans and executes one action. Any failure inside the action is
// rolled back and reported as false.
func (k *core) update(tx *ledger.Tx) bool {
	if Delayed(k.lastChange, k.actionDelay, tx.Timestamp()) {
		k.logDecision(Decision{Reason: ReasonDelay})
		return false
	}

	d := Plan(k.pool.Balances(), &k.debt, &k.minAsymmetry)
	if d.Action == ActionNone {
		k.logDecision(d)
		return false
	}

	self := tx.As(k.address)
	err := self.Try(func(tx *ledger.Tx) error {
		if d.Action == ActionProvide {
			return k.provide(tx, d.Amount)
		}
		return k.withdraw(tx, d.Amount)
	})
	if err != nil {
		k.logger.Debug("peg keeper action rejected",
			zap.String("keeper", k.address.Hex()),
			zap.Stringer("action", d.Action),
			zap.String("amount", d.Amount.Dec()),
			zap.String("reason", ReasonRejected),
			zap.Error(err),
		)
		return false
	}

	ledger.SetValue(tx, &k.lastChange, tx.Timestamp())
	k.logDecision(d)
	return true
}

func (k *core) provide(tx *ledger.Tx, amount *uint256.Int) error {
	if err := k.pegged.Mint(tx, k.address, amount); err != nil {
		return fmt.Errorf("mint pegged: %w", err)
	}
	if _, err := k.pool.AddLiquidity(tx, [2]*uint256.Int{new(uint256.Int), amount}, nil); err != nil {
		return fmt.Errorf("add liquidity: %w", err)
	}

	var debt, minted uint256.Int
	debt.Add(&k.debt, amount)
	minted.Add(&k.totalMinted, amount)
	ledger.SetValue(tx, &k.debt, debt)
	ledger.SetValue(tx, &k.totalMinted, minted)
	return contracts.EmitEvent(tx, k.address, k.abi, "Provide", amount.ToBig())
}

func (k *core) withdraw(tx *ledger.Tx, amount *uint256.Int) error {
	lpBalance := k.pool.LPToken().BalanceOf(k.address)
	if _, err := k.pool.RemoveLiquidityImbalance(tx, [2]*uint256.Int{new(uint256.Int), amount}, lpBalance); err != nil {
		return fmt.Errorf("remove liquidity: %w", err)
	}
	if err := k.pegged.Burn(tx, amount); err != nil {
		return fmt.Errorf("burn pegged: %w", err)
	}

	var debt uint256.Int
	debt.Sub(&k.debt, amount)
	ledger.SetValue(tx, &k.debt, debt)
	return contracts.EmitEvent(tx, k.address, k.abi, "Withdraw", amount.ToBig())
}

func (k *core) Profit() (*uint256.Int, error) {
	lpBalance := k.pool.LPToken().BalanceOf(k.address)
	if k.debt.IsZero() {
		return lpBalance, nil
	}
	needed, err := k.pool.CalcTokenAmount([2]*uint256.Int{new(uint256.Int), k.debt.Clone()}, false)
	if err != nil {
		return nil, fmt.Errorf("lp needed for debt: %w", err)
	}
	if !lpBalance.Gt(needed) {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Sub(lpBalance, needed), nil
}

func (k *core) WithdrawProfit(tx *ledger.Tx) (*uint256.Int, error) {
	profit, err := k.Profit()
	if err != nil {
		return nil, err
	}
	if profit.IsZero() {
		return profit, nil
	}
	if err := k.pool.LPToken().Transfer(tx.As(k.address), k.receiver, profit); err != nil {
		return nil, fmt.Errorf("transfer profit: %w", err)
	}
	if err := contracts.EmitEvent(tx, k.address, k.abi, "Profit", profit.ToBig()); err != nil {
		return nil, err
	}
	return profit, nil
}

func (k *core) logDecision(d Decision) {
	if ce := k.logger.Check(zap.DebugLevel, "peg keeper update"); ce != nil {
		fields := []zap.Field{
			zap.String("keeper", k.address.Hex()),
			zap.Stringer("action", d.Action),
		}
		if d.Amount != nil {
			fields = append(fields, zap.String("amount", d.Amount.Dec()))
		}
		if d.Imbalance != nil {
			fields = append(fields, zap.String("imbalance", d.Imbalance.String()))
		}
		if d.Reason != "" {
			fields = append(fields, zap.String("reason", d.Reason))
		}
		ce.Write(fields...)
	}
}
