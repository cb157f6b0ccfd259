// Package harness deploys the token, pool and peg keeper fixture and checks
// the keeper's behavioural properties against it.
package harness

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/ledger"
	"github.com/seanpm2001/curve-stable-peg/internal/pegkeeper"
	"github.com/seanpm2001/curve-stable-peg/internal/stableswap"
	"github.com/seanpm2001/curve-stable-peg/internal/token"
)

// DefaultA is the pool amplification coefficient.
const DefaultA = 400

// DefaultInitialAmount is the per-coin initial liquidity, 1e24.
var DefaultInitialAmount = pow10(24)

// Accounts are the named participants of a fixture.
type Accounts struct {
	Alice    common.Address
	Bob      common.Address
	Charlie  common.Address
	Admin    common.Address
	Receiver common.Address
}

// DefaultAccounts derives the participants from their names.
func DefaultAccounts() Accounts {
	return Accounts{
		Alice:    ledger.Account("alice"),
		Bob:      ledger.Account("bob"),
		Charlie:  ledger.Account("charlie"),
		Admin:    ledger.Account("admin"),
		Receiver: ledger.Account("receiver"),
	}
}

// FixtureConfig selects the variant and the pool and keeper parameters.
type FixtureConfig struct {
	Variant       pegkeeper.Variant
	InitialAmount *uint256.Int
	MinAsymmetry  *uint256.Int
	A             uint64
	Fee           uint64
	ActionDelay   uint64
	// WithUpdater gives a pluggable keeper charlie as its updater.
	WithUpdater bool
	// SkipProvide leaves the keeper without debt.
	SkipProvide bool
	Logger      *zap.Logger
}

func (c *FixtureConfig) applyDefaults() {
	if c.Variant == "" {
		c.Variant = pegkeeper.VariantTemplate
	}
	if c.InitialAmount == nil {
		c.InitialAmount = DefaultInitialAmount.Clone()
	}
	if c.MinAsymmetry == nil {
		c.MinAsymmetry = uint256.NewInt(pegkeeper.DefaultMinAsymmetry)
	}
	if c.A == 0 {
		c.A = DefaultA
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Fixture is a deployed and seeded pool with a keeper holding debt. Alice
// owns the pool; admin owns the pegged asset and the keeper.
type Fixture struct {
	Chain    *ledger.Chain
	Accounts Accounts
	Config   FixtureConfig
	Peg      *token.Token
	Pegged   *token.Token
	Pool     *stableswap.Pool
	Keeper   pegkeeper.Keeper
}

// NewFixture deploys everything, adds the initial liquidity and, unless
// SkipProvide is set, makes the keeper provide InitialAmount.
func NewFixture(cfg FixtureConfig) (*Fixture, error) {
	cfg.applyDefaults()
	f := &Fixture{
		Chain:    ledger.NewChain(ledger.Config{Logger: cfg.Logger}),
		Accounts: DefaultAccounts(),
		Config:   cfg,
	}
	acc := f.Accounts

	if _, err := f.Chain.Transact(acc.Admin, func(tx *ledger.Tx) error {
		var err error
		if f.Peg, err = token.Deploy(tx, token.Config{Name: "Peg", Symbol: "PEG"}); err != nil {
			return err
		}
		f.Pegged, err = token.Deploy(tx, token.Config{Name: "Pegged", Symbol: "PGD"})
		return err
	}); err != nil {
		return nil, fmt.Errorf("deploy coins: %w", err)
	}

	if _, err := f.Chain.Transact(acc.Alice, func(tx *ledger.Tx) error {
		var err error
		f.Pool, err = stableswap.Deploy(tx, stableswap.Config{
			Coins:  [2]*token.Token{f.Peg, f.Pegged},
			A:      cfg.A,
			Fee:    cfg.Fee,
			Logger: cfg.Logger,
		})
		return err
	}); err != nil {
		return nil, fmt.Errorf("deploy pool: %w", err)
	}

	if _, err := f.Chain.Transact(acc.Admin, func(tx *ledger.Tx) error {
		params := pegkeeper.Params{
			Pool:         f.Pool,
			Receiver:     acc.Receiver,
			MinAsymmetry: cfg.MinAsymmetry,
			ActionDelay:  cfg.ActionDelay,
			Logger:       cfg.Logger,
		}
		if cfg.WithUpdater {
			params.Updater = acc.Charlie
		}
		var err error
		if f.Keeper, err = pegkeeper.Deploy(tx, cfg.Variant, params); err != nil {
			return err
		}
		return f.Pegged.AddMinter(tx, f.Keeper.Address())
	}); err != nil {
		return nil, fmt.Errorf("deploy peg keeper: %w", err)
	}

	initial := cfg.InitialAmount
	if _, err := f.AddLiquidity(acc.Alice, [2]*uint256.Int{initial, initial}); err != nil {
		return nil, fmt.Errorf("add initial liquidity: %w", err)
	}
	if !cfg.SkipProvide {
		if err := f.ProvideTokenToPegKeeper(initial); err != nil {
			return nil, fmt.Errorf("provide to peg keeper: %w", err)
		}
	}
	return f, nil
}

// Fund mints amounts of both coins to account and approves the pool.
func (f *Fixture) Fund(account common.Address, amounts [2]*uint256.Int) error {
	_, err := f.Chain.Transact(account, func(tx *ledger.Tx) error {
		return f.fund(tx, amounts)
	})
	return err
}

func (f *Fixture) fund(tx *ledger.Tx, amounts [2]*uint256.Int) error {
	for i, coin := range f.Pool.Coins() {
		if amounts[i].IsZero() {
			continue
		}
		if err := coin.MintForTesting(tx, tx.Caller(), amounts[i]); err != nil {
			return err
		}
		if coin.Allowance(tx.Caller(), f.Pool.Address()).Lt(amounts[i]) {
			if err := coin.Approve(tx, f.Pool.Address(), token.MaxUint256()); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddLiquidity mints amounts to from and deposits them in one transaction.
func (f *Fixture) AddLiquidity(from common.Address, amounts [2]*uint256.Int) (*ledger.Receipt, error) {
	return f.Chain.Transact(from, func(tx *ledger.Tx) error {
		if err := f.fund(tx, amounts); err != nil {
			return err
		}
		_, err := f.Pool.AddLiquidity(tx, amounts, nil)
		return err
	})
}

// RemoveLiquidityImbalance withdraws amounts for from, burning any LP.
func (f *Fixture) RemoveLiquidityImbalance(from common.Address, amounts [2]*uint256.Int, maxBurn *uint256.Int) (*ledger.Receipt, error) {
	if maxBurn == nil {
		maxBurn = token.MaxUint256()
	}
	return f.Chain.Transact(from, func(tx *ledger.Tx) error {
		_, err := f.Pool.RemoveLiquidityImbalance(tx, amounts, maxBurn)
		return err
	})
}

// RemoveLiquidity burns lp of from's LP tokens for a proportional payout.
func (f *Fixture) RemoveLiquidity(from common.Address, lp *uint256.Int) (*ledger.Receipt, error) {
	return f.Chain.Transact(from, func(tx *ledger.Tx) error {
		_, err := f.Pool.RemoveLiquidity(tx, lp, [2]*uint256.Int{})
		return err
	})
}

// Attach sets the fixture keeper on the pool.
func (f *Fixture) Attach() error {
	_, err := f.Chain.Transact(f.Pool.Owner(), func(tx *ledger.Tx) error {
		return f.Pool.SetPegKeeper(tx, f.Keeper)
	})
	return err
}

// Detach clears the pool's keeper.
func (f *Fixture) Detach() error {
	_, err := f.Chain.Transact(f.Pool.Owner(), func(tx *ledger.Tx) error {
		return f.Pool.SetPegKeeper(tx, nil)
	})
	return err
}

// Update calls the keeper from the given account.
func (f *Fixture) Update(from common.Address) (bool, *ledger.Receipt, error) {
	var acted bool
	receipt, err := f.Chain.Transact(from, func(tx *ledger.Tx) error {
		var err error
		acted, err = f.Keeper.Update(tx)
		return err
	})
	return acted, receipt, err
}

// UpdateFromPool calls the keeper with the pool as caller.
func (f *Fixture) UpdateFromPool() (bool, *ledger.Receipt, error) {
	return f.Update(f.Pool.Address())
}

// WithdrawProfit sends the keeper's profit to its receiver.
func (f *Fixture) WithdrawProfit(from common.Address) (*uint256.Int, *ledger.Receipt, error) {
	var profit *uint256.Int
	receipt, err := f.Chain.Transact(from, func(tx *ledger.Tx) error {
		var err error
		profit, err = f.Keeper.WithdrawProfit(tx)
		return err
	})
	return profit, receipt, err
}

// ProvideTokenToPegKeeper leaves the keeper with amount of debt and the pool
// balanced: alice unbalances the pool so the attached keeper provides
// amount, then takes back the excess reference asset.
func (f *Fixture) ProvideTokenToPegKeeper(amount *uint256.Int) error {
	alice := f.Accounts.Alice
	if err := f.Attach(); err != nil {
		return err
	}
	five := new(uint256.Int).Mul(amount, uint256.NewInt(pegkeeper.ImbalanceDivisor))
	if _, err := f.AddLiquidity(alice, [2]*uint256.Int{five, new(uint256.Int)}); err != nil {
		return err
	}
	if !f.Keeper.Debt().Eq(amount) {
		return fmt.Errorf("keeper debt %s after provide, want %s", f.Keeper.Debt().Dec(), amount.Dec())
	}
	four := new(uint256.Int).Sub(five, amount)
	if _, err := f.RemoveLiquidityImbalance(alice, [2]*uint256.Int{four, new(uint256.Int)}, nil); err != nil {
		return err
	}
	return f.Detach()
}

// Balances returns the pool reserves.
func (f *Fixture) Balances() [2]*uint256.Int {
	return f.Pool.Balances()
}

// RealBalances returns the coin balances held by the pool.
func (f *Fixture) RealBalances() [2]*uint256.Int {
	return [2]*uint256.Int{
		f.Peg.BalanceOf(f.Pool.Address()),
		f.Pegged.BalanceOf(f.Pool.Address()),
	}
}

// KeeperBalances returns the keeper's reference and pegged balances.
func (f *Fixture) KeeperBalances() [2]*uint256.Int {
	return [2]*uint256.Int{
		f.Peg.BalanceOf(f.Keeper.Address()),
		f.Pegged.BalanceOf(f.Keeper.Address()),
	}
}

// ErrViolation marks a failed property assertion.
var ErrViolation = errors.New("property violated")

func violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrViolation, fmt.Sprintf(format, args...))
}

func pow10(exp uint64) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(exp))
}
