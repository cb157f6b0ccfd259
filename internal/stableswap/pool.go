// Package stableswap implements the liquidity side of a two-coin Curve
// StableSwap pool: deposits, proportional and imbalanced withdrawals, and the
// hook that lets an attached peg keeper rebalance after every liquidity
// operation. Swaps are not supported.
package stableswap

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
	"github.com/seanpm2001/curve-stable-peg/internal/ledger"
	"github.com/seanpm2001/curve-stable-peg/internal/token"
)

var (
	// ErrSlippage is returned when a mint or burn crosses the caller's bound.
	ErrSlippage = errors.New("slippage screwed you")
	// ErrInitialDeposit is returned when the first deposit leaves a coin out.
	ErrInitialDeposit = errors.New("initial deposit requires all coins")
	// ErrInvariant is returned when a deposit does not increase D.
	ErrInvariant = errors.New("invariant did not grow")
	// ErrZeroBurn is returned when a withdrawal is too small to burn any LP.
	ErrZeroBurn = errors.New("zero tokens burned")
	// ErrEmptyPool is returned by reads and withdrawals on a pool without supply.
	ErrEmptyPool = errors.New("pool has no liquidity")
	// ErrReserveNotPositive is returned when D is computed over an empty reserve.
	ErrReserveNotPositive = errors.New("reserve must be positive")
	// ErrInsufficientReserve is returned when a subtraction underflows, for
	// example a withdrawal above a reserve.
	ErrInsufficientReserve = errors.New("insufficient reserve")
	// ErrNoConvergence is returned when the Newton iteration for D does not settle.
	ErrNoConvergence = errors.New("invariant did not converge")
	// ErrOverflow is returned when an intermediate value exceeds 256 bits.
	ErrOverflow = errors.New("arithmetic overflow")
	// ErrDivisionByZero is returned when a denominator in the math is zero.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrInvalidConfig is returned by Deploy for missing coins or a bad A.
	ErrInvalidConfig = errors.New("invalid pool config")
	// ErrForeignKeeper is returned when attaching a keeper bound to another pool.
	ErrForeignKeeper = errors.New("peg keeper serves another pool")
)

// PegKeeper is the hook a pool calls after liquidity operations.
type PegKeeper interface {
	Address() common.Address
	// Pool is the pool the keeper rebalances.
	Pool() common.Address
	Update(tx *ledger.Tx) (bool, error)
}

// Config describes a pool deployment. Coins[0] is the reference asset and
// Coins[1] the pegged asset.
type Config struct {
	Name   string
	Symbol string
	Coins  [NCoins]*token.Token
	A      uint64
	Fee    uint64
	Logger *zap.Logger
}

// Pool is a two-coin StableSwap pool.
type Pool struct {
	address common.Address
	owner   common.Address
	coins   [NCoins]*token.Token
	lp      *token.Token
	amp     uint256.Int
	fee     uint256.Int
	abi     abi.ABI
	logger  *zap.Logger

	balances [NCoins]uint256.Int
	keeper   PegKeeper
	locked   bool
}

// Deploy creates a pool owned by the transaction caller together with its
// LP token. The pool is the LP token's admin and only minter.
func Deploy(tx *ledger.Tx, cfg Config) (*Pool, error) {
	for i, coin := range cfg.Coins {
		if coin == nil {
			return nil, fmt.Errorf("%w: coin %d missing", ErrInvalidConfig, i)
		}
	}
	if cfg.A == 0 || cfg.A > MaxA {
		return nil, fmt.Errorf("%w: A=%d", ErrInvalidConfig, cfg.A)
	}
	if cfg.Fee >= FeeDenominator {
		return nil, fmt.Errorf("%w: fee=%d", ErrInvalidConfig, cfg.Fee)
	}
	parsed, err := contracts.StableSwapABI()
	if err != nil {
		return nil, fmt.Errorf("parse stableswap abi: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Coins[0].Symbol() + "/" + cfg.Coins[1].Symbol()
	}
	if cfg.Symbol == "" {
		cfg.Symbol = cfg.Coins[0].Symbol() + cfg.Coins[1].Symbol() + "-f"
	}

	p := &Pool{
		address: tx.CreateAddress(),
		owner:   tx.Caller(),
		coins:   cfg.Coins,
		abi:     parsed,
		logger:  cfg.Logger,
	}
	p.amp.SetUint64(cfg.A * APrecision)
	p.fee.SetUint64(cfg.Fee)

	self := tx.As(p.address)
	lp, err := token.Deploy(self, token.Config{Name: cfg.Name, Symbol: cfg.Symbol})
	if err != nil {
		return nil, fmt.Errorf("deploy lp token: %w", err)
	}
	if err := lp.AddMinter(self, p.address); err != nil {
		return nil, fmt.Errorf("grant lp minter: %w", err)
	}
	p.lp = lp

	tx.Roles().Grant(tx, p.address, ledger.RoleAdmin, p.owner)
	return p, nil
}

func (p *Pool) Address() common.Address     { return p.address }
func (p *Pool) Owner() common.Address       { return p.owner }
func (p *Pool) LPToken() *token.Token       { return p.lp }
func (p *Pool) Coins() [NCoins]*token.Token { return p.coins }
func (p *Pool) Fee() *uint256.Int           { return p.fee.Clone() }

// A returns the amplification coefficient without precision.
func (p *Pool) A() *uint256.Int {
	return new(uint256.Int).Div(&p.amp, aPrecision)
}

// Balances returns copies of the pool reserves.
func (p *Pool) Balances() [NCoins]*uint256.Int {
	var out [NCoins]*uint256.Int
	for i := range p.balances {
		out[i] = p.balances[i].Clone()
	}
	return out
}

// PegKeeper returns the attached keeper address, or the zero address.
func (p *Pool) PegKeeper() common.Address {
	if p.keeper == nil {
		return common.Address{}
	}
	return p.keeper.Address()
}

// SetPegKeeper attaches keeper, replacing any previous one. A nil keeper
// detaches. The keeper must be bound to this pool. Owner only.
func (p *Pool) SetPegKeeper(tx *ledger.Tx, keeper PegKeeper) error {
	if err := tx.Roles().Require(p.address, ledger.RoleAdmin, tx.Caller()); err != nil {
		return err
	}
	var addr common.Address
	if keeper != nil {
		if keeper.Pool() != p.address {
			return fmt.Errorf("%w: keeper %s serves pool %s", ErrForeignKeeper, keeper.Address().Hex(), keeper.Pool().Hex())
		}
		addr = keeper.Address()
	}
	ledger.SetValue(tx, &p.keeper, keeper)
	tx.Roles().Replace(tx, p.address, ledger.RolePegKeeper, addr)

	p.logger.Debug("peg keeper set", zap.String("pool", p.address.Hex()), zap.String("keeper", addr.Hex()))
	return contracts.EmitEvent(tx, p.address, p.abi, "SetPegKeeper", addr)
}

// GetD returns the invariant of the current reserves.
func (p *Pool) GetD() (*uint256.Int, error) {
	return getD(p.balances, &p.amp)
}

// GetVirtualPrice returns D / supply scaled by 1e18.
func (p *Pool) GetVirtualPrice() (*uint256.Int, error) {
	supply := p.lp.TotalSupply()
	if supply.IsZero() {
		return nil, ErrEmptyPool
	}
	d, err := p.GetD()
	if err != nil {
		return nil, err
	}
	return mulDiv(d, precision, supply)
}

// CalcTokenAmount estimates the LP minted by a deposit, or burned by an
// imbalanced withdrawal, of amounts. Fees are not included.
func (p *Pool) CalcTokenAmount(amounts [NCoins]*uint256.Int, deposit bool) (*uint256.Int, error) {
	supply := p.lp.TotalSupply()
	d0, err := getD(p.balances, &p.amp)
	if err != nil {
		return nil, err
	}
	next, err := p.shifted(amounts, deposit)
	if err != nil {
		return nil, err
	}
	d1, err := getD(next, &p.amp)
	if err != nil {
		return nil, err
	}
	if supply.IsZero() {
		if !deposit {
			return nil, ErrEmptyPool
		}
		return d1, nil
	}
	var diff *uint256.Int
	if deposit {
		diff, err = sub(d1, d0)
	} else {
		diff, err = sub(d0, d1)
	}
	if err != nil {
		return nil, err
	}
	return mulDiv(diff, supply, d0)
}

// AddLiquidity deposits amounts from the caller and mints LP tokens to it.
func (p *Pool) AddLiquidity(tx *ledger.Tx, amounts [NCoins]*uint256.Int, minMint *uint256.Int) (*uint256.Int, error) {
	if err := p.lock(); err != nil {
		return nil, err
	}
	minted, err := p.addLiquidity(tx, amounts, minMint)
	p.unlock()
	if err != nil {
		return nil, err
	}
	if err := p.afterLiquidity(tx); err != nil {
		return nil, err
	}
	return minted, nil
}

func (p *Pool) addLiquidity(tx *ledger.Tx, amounts [NCoins]*uint256.Int, minMint *uint256.Int) (*uint256.Int, error) {
	supply := p.lp.TotalSupply()
	old := p.balances

	d0 := new(uint256.Int)
	if !supply.IsZero() {
		var err error
		if d0, err = getD(old, &p.amp); err != nil {
			return nil, err
		}
	}

	next, err := p.shifted(amounts, true)
	if err != nil {
		return nil, err
	}
	if supply.IsZero() {
		for i := range amounts {
			if amounts[i].IsZero() {
				return nil, ErrInitialDeposit
			}
		}
	}
	d1, err := getD(next, &p.amp)
	if err != nil {
		return nil, err
	}
	if d1.Cmp(d0) <= 0 {
		return nil, ErrInvariant
	}

	var fees [NCoins]uint256.Int
	minted := d1
	if !supply.IsZero() {
		afterFees, err := p.chargeImbalanceFees(old, next, d0, d1, &fees)
		if err != nil {
			return nil, err
		}
		d2, err := getD(afterFees, &p.amp)
		if err != nil {
			return nil, err
		}
		grown, err := sub(d2, d0)
		if err != nil {
			return nil, err
		}
		if minted, err = mulDiv(supply, grown, d0); err != nil {
			return nil, err
		}
	}
	if minMint != nil && minted.Lt(minMint) {
		return nil, fmt.Errorf("%w: mint %s below %s", ErrSlippage, minted.Dec(), minMint.Dec())
	}

	ledger.SetValue(tx, &p.balances, next)

	self := tx.As(p.address)
	caller := tx.Caller()
	for i, coin := range p.coins {
		if amounts[i].IsZero() {
			continue
		}
		if err := coin.TransferFrom(self, caller, p.address, amounts[i]); err != nil {
			return nil, fmt.Errorf("pull %s: %w", coin.Symbol(), err)
		}
	}
	if err := p.lp.Mint(self, caller, minted); err != nil {
		return nil, fmt.Errorf("mint lp: %w", err)
	}

	newSupply := new(uint256.Int).Add(supply, minted)
	if err := contracts.EmitEvent(tx, p.address, p.abi, "AddLiquidity",
		caller, bigPair(amounts), bigArray(fees), d1.ToBig(), newSupply.ToBig()); err != nil {
		return nil, err
	}
	return minted, nil
}

// RemoveLiquidity burns lpAmount of the caller's LP tokens and pays out a
// proportional share of each reserve.
func (p *Pool) RemoveLiquidity(tx *ledger.Tx, lpAmount *uint256.Int, minAmounts [NCoins]*uint256.Int) ([NCoins]*uint256.Int, error) {
	if err := p.lock(); err != nil {
		return [NCoins]*uint256.Int{}, err
	}
	out, err := p.removeLiquidity(tx, lpAmount, minAmounts)
	p.unlock()
	if err != nil {
		return [NCoins]*uint256.Int{}, err
	}
	if err := p.afterLiquidity(tx); err != nil {
		return [NCoins]*uint256.Int{}, err
	}
	return out, nil
}

func (p *Pool) removeLiquidity(tx *ledger.Tx, lpAmount *uint256.Int, minAmounts [NCoins]*uint256.Int) ([NCoins]*uint256.Int, error) {
	var out [NCoins]*uint256.Int
	supply := p.lp.TotalSupply()
	if supply.IsZero() {
		return out, ErrEmptyPool
	}
	if lpAmount.Gt(supply) {
		return out, fmt.Errorf("%w: burn %s of supply %s", ErrInsufficientReserve, lpAmount.Dec(), supply.Dec())
	}

	next := p.balances
	for i := range p.balances {
		amount, err := mulDiv(&p.balances[i], lpAmount, supply)
		if err != nil {
			return out, err
		}
		if minAmounts[i] != nil && amount.Lt(minAmounts[i]) {
			return out, fmt.Errorf("%w: coin %d pays %s below %s", ErrSlippage, i, amount.Dec(), minAmounts[i].Dec())
		}
		next[i].Sub(&next[i], amount)
		out[i] = amount
	}
	ledger.SetValue(tx, &p.balances, next)

	self := tx.As(p.address)
	caller := tx.Caller()
	if err := p.lp.BurnFrom(self, caller, lpAmount); err != nil {
		return out, fmt.Errorf("burn lp: %w", err)
	}
	for i, coin := range p.coins {
		if out[i].IsZero() {
			continue
		}
		if err := coin.Transfer(self, caller, out[i]); err != nil {
			return out, fmt.Errorf("pay %s: %w", coin.Symbol(), err)
		}
	}

	newSupply := new(uint256.Int).Sub(supply, lpAmount)
	var fees [NCoins]uint256.Int
	if err := contracts.EmitEvent(tx, p.address, p.abi, "RemoveLiquidity",
		caller, bigPair(out), bigArray(fees), newSupply.ToBig()); err != nil {
		return out, err
	}
	return out, nil
}

// RemoveLiquidityImbalance pays out exactly amounts and burns the LP tokens
// this costs the caller, at most maxBurn.
func (p *Pool) RemoveLiquidityImbalance(tx *ledger.Tx, amounts [NCoins]*uint256.Int, maxBurn *uint256.Int) (*uint256.Int, error) {
	if err := p.lock(); err != nil {
		return nil, err
	}
	burned, err := p.removeLiquidityImbalance(tx, amounts, maxBurn)
	p.unlock()
	if err != nil {
		return nil, err
	}
	if err := p.afterLiquidity(tx); err != nil {
		return nil, err
	}
	return burned, nil
}

func (p *Pool) removeLiquidityImbalance(tx *ledger.Tx, amounts [NCoins]*uint256.Int, maxBurn *uint256.Int) (*uint256.Int, error) {
	supply := p.lp.TotalSupply()
	if supply.IsZero() {
		return nil, ErrEmptyPool
	}
	old := p.balances
	d0, err := getD(old, &p.amp)
	if err != nil {
		return nil, err
	}
	next, err := p.shifted(amounts, false)
	if err != nil {
		return nil, err
	}
	d1, err := getD(next, &p.amp)
	if err != nil {
		return nil, err
	}

	var fees [NCoins]uint256.Int
	afterFees, err := p.chargeImbalanceFees(old, next, d0, d1, &fees)
	if err != nil {
		return nil, err
	}
	d2, err := getD(afterFees, &p.amp)
	if err != nil {
		return nil, err
	}

	shrunk, err := sub(d0, d2)
	if err != nil {
		return nil, err
	}
	burned, err := mulDiv(shrunk, supply, d0)
	if err != nil {
		return nil, err
	}
	if burned.IsZero() {
		return nil, ErrZeroBurn
	}
	burned.AddUint64(burned, 1)
	if maxBurn != nil && burned.Gt(maxBurn) {
		return nil, fmt.Errorf("%w: burn %s above %s", ErrSlippage, burned.Dec(), maxBurn.Dec())
	}

	ledger.SetValue(tx, &p.balances, next)

	self := tx.As(p.address)
	caller := tx.Caller()
	if err := p.lp.BurnFrom(self, caller, burned); err != nil {
		return nil, fmt.Errorf("burn lp: %w", err)
	}
	for i, coin := range p.coins {
		if amounts[i].IsZero() {
			continue
		}
		if err := coin.Transfer(self, caller, amounts[i]); err != nil {
			return nil, fmt.Errorf("pay %s: %w", coin.Symbol(), err)
		}
	}

	newSupply := new(uint256.Int).Sub(supply, burned)
	if err := contracts.EmitEvent(tx, p.address, p.abi, "RemoveLiquidityImbalance",
		caller, bigPair(amounts), bigArray(fees), d1.ToBig(), newSupply.ToBig()); err != nil {
		return nil, err
	}
	return burned, nil
}

// chargeImbalanceFees fills fees with the per-coin imbalance fee and returns
// next with those fees taken out. Fees stay in the pool reserves.
func (p *Pool) chargeImbalanceFees(old, next [NCoins]uint256.Int, d0, d1 *uint256.Int, fees *[NCoins]uint256.Int) ([NCoins]uint256.Int, error) {
	// fee * N / (4 * (N - 1))
	baseFee, err := mulDiv(&p.fee, nCoins, uint256.NewInt(4*(NCoins-1)))
	if err != nil {
		return next, err
	}
	out := next
	for i := range next {
		ideal, err := mulDiv(d1, &old[i], d0)
		if err != nil {
			return next, err
		}
		diff := absDiff(ideal, &next[i])
		charged, err := mulDiv(baseFee, diff, feeDenominator)
		if err != nil {
			return next, err
		}
		fees[i] = *charged
		if out[i].Lt(charged) {
			return next, ErrInsufficientReserve
		}
		out[i].Sub(&out[i], charged)
	}
	return out, nil
}

// shifted returns the reserves after depositing or withdrawing amounts.
func (p *Pool) shifted(amounts [NCoins]*uint256.Int, deposit bool) ([NCoins]uint256.Int, error) {
	next := p.balances
	for i := range next {
		if amounts[i] == nil {
			return next, fmt.Errorf("%w: amount %d missing", ErrInvalidConfig, i)
		}
		if deposit {
			if _, overflow := next[i].AddOverflow(&next[i], amounts[i]); overflow {
				return next, ErrOverflow
			}
			continue
		}
		if next[i].Lt(amounts[i]) {
			return next, fmt.Errorf("%w: coin %d holds %s, withdraw %s", ErrInsufficientReserve, i, next[i].Dec(), amounts[i].Dec())
		}
		next[i].Sub(&next[i], amounts[i])
	}
	return next, nil
}

// afterLiquidity gives the attached keeper a chance to rebalance. Calls made
// by the keeper itself are not hooked.
func (p *Pool) afterLiquidity(tx *ledger.Tx) error {
	if p.keeper == nil || tx.Caller() == p.keeper.Address() {
		return nil
	}
	acted, err := p.keeper.Update(tx.As(p.address))
	if err != nil {
		return fmt.Errorf("peg keeper update: %w", err)
	}
	p.logger.Debug("peg keeper hook",
		zap.String("pool", p.address.Hex()),
		zap.Bool("acted", acted),
	)
	return nil
}

func (p *Pool) lock() error {
	if p.locked {
		return ledger.ErrReentrant
	}
	p.locked = true
	return nil
}

func (p *Pool) unlock() {
	p.locked = false
}

func bigPair(amounts [NCoins]*uint256.Int) [NCoins]*big.Int {
	var out [NCoins]*big.Int
	for i, amount := range amounts {
		out[i] = amount.ToBig()
	}
	return out
}

func bigArray(amounts [NCoins]uint256.Int) [NCoins]*big.Int {
	var out [NCoins]*big.Int
	for i := range amounts {
		out[i] = amounts[i].ToBig()
	}
	return out
}
