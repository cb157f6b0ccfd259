package pegkeeper_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
	"github.com/seanpm2001/curve-stable-peg/internal/harness"
	"github.com/seanpm2001/curve-stable-peg/internal/ledger"
	"github.com/seanpm2001/curve-stable-peg/internal/pegkeeper"
)

func pow10(exp uint64) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(exp))
}

func newFixture(t *testing.T, cfg harness.FixtureConfig) *harness.Fixture {
	t.Helper()
	f, err := harness.NewFixture(cfg)
	require.NoError(t, err)
	return f
}

func forEachVariant(t *testing.T, fn func(t *testing.T, variant pegkeeper.Variant)) {
	for _, variant := range pegkeeper.Variants() {
		variant := variant
		t.Run(string(variant), func(t *testing.T) { fn(t, variant) })
	}
}

func TestFixtureLeavesDebtAndBalancedPool(t *testing.T) {
	forEachVariant(t, func(t *testing.T, variant pegkeeper.Variant) {
		f := newFixture(t, harness.FixtureConfig{Variant: variant})
		initial := f.Config.InitialAmount

		require.Equal(t, initial.Dec(), f.Keeper.Debt().Dec())
		require.Equal(t, initial.Dec(), f.Keeper.TotalMinted().Dec())
		balances := f.Balances()
		require.Equal(t, balances[0].Dec(), balances[1].Dec())
		require.Equal(t, common.Address{}, f.Pool.PegKeeper())
		require.False(t, f.Pool.LPToken().BalanceOf(f.Keeper.Address()).IsZero())
		require.Equal(t, variant, f.Keeper.Variant())
		require.Equal(t, f.Pool.Address(), f.Keeper.Pool())
		require.Equal(t, f.Accounts.Receiver, f.Keeper.Receiver())
	})
}

func TestWithdrawEndToEnd(t *testing.T) {
	forEachVariant(t, func(t *testing.T, variant pegkeeper.Variant) {
		f := newFixture(t, harness.FixtureConfig{Variant: variant})
		_, err := f.AddLiquidity(f.Accounts.Alice, [2]*uint256.Int{new(uint256.Int), pow10(22)})
		require.NoError(t, err)
		before := f.Balances()

		require.NoError(t, f.Attach())
		acted, receipt, err := f.UpdateFromPool()
		require.NoError(t, err)
		require.True(t, acted)

		after := f.Balances()
		require.Equal(t, before[0].Dec(), after[0].Dec())
		require.Equal(t, "2000000000000000000000", new(uint256.Int).Sub(before[1], after[1]).Dec())
		require.Equal(t, "998000000000000000000000", f.Keeper.Debt().Dec())
		require.True(t, f.KeeperBalances()[0].IsZero())
		require.True(t, f.KeeperBalances()[1].IsZero())
		require.Equal(t, receipt.Timestamp, f.Keeper.LastChange())

		withdraw := contracts.MustPegKeeperABI().Events["Withdraw"]
		require.Len(t, receipt.Filter(f.Keeper.Address(), withdraw.ID), 1)
	})
}

func TestProvideMintsIntoPool(t *testing.T) {
	forEachVariant(t, func(t *testing.T, variant pegkeeper.Variant) {
		f := newFixture(t, harness.FixtureConfig{Variant: variant, SkipProvide: true})
		require.True(t, f.Keeper.Debt().IsZero())

		_, err := f.AddLiquidity(f.Accounts.Alice, [2]*uint256.Int{pow10(22), new(uint256.Int)})
		require.NoError(t, err)
		before := f.Balances()
		supply := f.Pegged.TotalSupply()

		require.NoError(t, f.Attach())
		acted, _, err := f.UpdateFromPool()
		require.NoError(t, err)
		require.True(t, acted)

		want := "2000000000000000000000"
		require.Equal(t, want, new(uint256.Int).Sub(f.Balances()[1], before[1]).Dec())
		require.Equal(t, want, f.Keeper.Debt().Dec())
		require.Equal(t, want, new(uint256.Int).Sub(f.Pegged.TotalSupply(), supply).Dec())
		require.True(t, f.KeeperBalances()[1].IsZero())
	})
}

func TestWithdrawBelowThresholdShare(t *testing.T) {
	forEachVariant(t, func(t *testing.T, variant pegkeeper.Variant) {
		f := newFixture(t, harness.FixtureConfig{Variant: variant, MinAsymmetry: pow10(18)})
		debt := f.Keeper.Debt()
		amount := new(uint256.Int).Mul(uint256.NewInt(3), pow10(18))
		_, err := f.AddLiquidity(f.Accounts.Alice, [2]*uint256.Int{new(uint256.Int), amount})
		require.NoError(t, err)
		before := f.Balances()

		require.NoError(t, f.Attach())
		acted, receipt, err := f.UpdateFromPool()
		require.NoError(t, err)
		require.True(t, acted)

		want := new(uint256.Int).Mul(uint256.NewInt(6), pow10(17))
		require.Equal(t, want.Dec(), new(uint256.Int).Sub(before[1], f.Balances()[1]).Dec())
		require.Equal(t, new(uint256.Int).Sub(debt, want).Dec(), f.Keeper.Debt().Dec())
		withdraw := contracts.MustPegKeeperABI().Events["Withdraw"]
		require.Len(t, receipt.Filter(f.Keeper.Address(), withdraw.ID), 1)
	})
}

func TestProvideBelowThresholdShare(t *testing.T) {
	forEachVariant(t, func(t *testing.T, variant pegkeeper.Variant) {
		f := newFixture(t, harness.FixtureConfig{Variant: variant, MinAsymmetry: uint256.NewInt(10), SkipProvide: true})
		_, err := f.AddLiquidity(f.Accounts.Alice, [2]*uint256.Int{uint256.NewInt(20), new(uint256.Int)})
		require.NoError(t, err)
		before := f.Balances()

		require.NoError(t, f.Attach())
		acted, receipt, err := f.UpdateFromPool()
		require.NoError(t, err)
		require.True(t, acted)

		require.Equal(t, "4", new(uint256.Int).Sub(f.Balances()[1], before[1]).Dec())
		require.Equal(t, "4", f.Keeper.Debt().Dec())
		provide := contracts.MustPegKeeperABI().Events["Provide"]
		require.Len(t, receipt.Filter(f.Keeper.Address(), provide.ID), 1)
	})
}

func TestWithdrawTooSmallToBurnIsNoop(t *testing.T) {
	forEachVariant(t, func(t *testing.T, variant pegkeeper.Variant) {
		f := newFixture(t, harness.FixtureConfig{Variant: variant})
		debt := f.Keeper.Debt()
		_, err := f.AddLiquidity(f.Accounts.Alice, [2]*uint256.Int{new(uint256.Int), uint256.NewInt(5)})
		require.NoError(t, err)
		before := f.Balances()

		require.NoError(t, f.Attach())
		acted, receipt, err := f.UpdateFromPool()
		require.NoError(t, err)
		require.False(t, acted)
		require.Empty(t, receipt.Logs)
		require.Equal(t, before[1].Dec(), f.Balances()[1].Dec())
		require.Equal(t, debt.Dec(), f.Keeper.Debt().Dec())
		require.True(t, f.KeeperBalances()[1].IsZero())
	})
}

func TestUpdateWithoutMinterRoleIsNoop(t *testing.T) {
	f := newFixture(t, harness.FixtureConfig{Variant: pegkeeper.VariantPluggableOptimized, SkipProvide: true})
	_, err := f.Chain.Transact(f.Accounts.Admin, func(tx *ledger.Tx) error {
		return f.Pegged.RemoveMinter(tx, f.Keeper.Address())
	})
	require.NoError(t, err)

	_, err = f.AddLiquidity(f.Accounts.Alice, [2]*uint256.Int{pow10(22), new(uint256.Int)})
	require.NoError(t, err)
	before := f.Balances()

	acted, receipt, err := f.Update(f.Accounts.Bob)
	require.NoError(t, err)
	require.False(t, acted)
	require.Empty(t, receipt.Logs)
	require.Equal(t, before[1].Dec(), f.Balances()[1].Dec())
	require.True(t, f.Keeper.Debt().IsZero())
}

func TestActionDelay(t *testing.T) {
	f := newFixture(t, harness.FixtureConfig{Variant: pegkeeper.VariantPluggableOptimized, ActionDelay: 3600})
	bob := f.Accounts.Bob

	_, err := f.AddLiquidity(f.Accounts.Alice, [2]*uint256.Int{new(uint256.Int), pow10(22)})
	require.NoError(t, err)
	acted, _, err := f.Update(bob)
	require.NoError(t, err)
	require.False(t, acted, "provide in the fixture started the delay")

	f.Chain.AdvanceTime(3600)
	acted, _, err = f.Update(bob)
	require.NoError(t, err)
	require.True(t, acted)

	acted, _, err = f.Update(bob)
	require.NoError(t, err)
	require.False(t, acted)
}

func TestSetUpdater(t *testing.T) {
	f := newFixture(t, harness.FixtureConfig{Variant: pegkeeper.VariantPluggableOptimized})
	setter, ok := f.Keeper.(pegkeeper.UpdaterSetter)
	require.True(t, ok)

	_, err := f.Chain.Transact(f.Accounts.Alice, func(tx *ledger.Tx) error {
		return setter.SetUpdater(tx, f.Accounts.Alice)
	})
	require.ErrorIs(t, err, ledger.ErrUnauthorized)

	_, err = f.Chain.Transact(f.Accounts.Admin, func(tx *ledger.Tx) error {
		return setter.SetUpdater(tx, f.Accounts.Charlie)
	})
	require.NoError(t, err)
	_, _, err = f.Update(f.Accounts.Bob)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)
	_, _, err = f.Update(f.Accounts.Charlie)
	require.NoError(t, err)

	_, err = f.Chain.Transact(f.Accounts.Admin, func(tx *ledger.Tx) error {
		return setter.SetUpdater(tx, common.Address{})
	})
	require.NoError(t, err)
	_, _, err = f.Update(f.Accounts.Bob)
	require.NoError(t, err)
}

func TestTemplateHasNoUpdater(t *testing.T) {
	f := newFixture(t, harness.FixtureConfig{Variant: pegkeeper.VariantTemplate})
	_, ok := f.Keeper.(pegkeeper.UpdaterSetter)
	require.False(t, ok)

	_, err := harness.NewFixture(harness.FixtureConfig{Variant: pegkeeper.VariantTemplate, WithUpdater: true})
	require.ErrorIs(t, err, pegkeeper.ErrInvalidParams)
}

func TestProfitFromFees(t *testing.T) {
	f := newFixture(t, harness.FixtureConfig{Variant: pegkeeper.VariantPluggableOptimized, Fee: 4_000_000})
	profit, err := f.Keeper.Profit()
	require.NoError(t, err)
	start := profit.Clone()

	alice := f.Accounts.Alice
	for i := 0; i < 4; i++ {
		_, err = f.AddLiquidity(alice, [2]*uint256.Int{new(uint256.Int), pow10(23)})
		require.NoError(t, err)
		_, err = f.AddLiquidity(alice, [2]*uint256.Int{pow10(23), new(uint256.Int)})
		require.NoError(t, err)
	}
	profit, err = f.Keeper.Profit()
	require.NoError(t, err)
	require.True(t, profit.Gt(start), "profit %s did not grow from %s", profit.Dec(), start.Dec())

	withdrawn, receipt, err := f.WithdrawProfit(f.Accounts.Bob)
	require.NoError(t, err)
	require.Equal(t, profit.Dec(), withdrawn.Dec())
	require.Equal(t, profit.Dec(), f.Pool.LPToken().BalanceOf(f.Accounts.Receiver).Dec())
	require.NotEmpty(t, receipt.Logs)

	again, err := f.Keeper.Profit()
	require.NoError(t, err)
	require.True(t, again.IsZero())
}

func TestDeployRejectsBadParams(t *testing.T) {
	chain := ledger.NewChain(ledger.Config{})
	_, err := chain.Transact(ledger.Account("admin"), func(tx *ledger.Tx) error {
		_, err := pegkeeper.Deploy(tx, pegkeeper.VariantTemplate, pegkeeper.Params{Receiver: ledger.Account("receiver")})
		return err
	})
	require.ErrorIs(t, err, pegkeeper.ErrInvalidParams)

	_, err = chain.Transact(ledger.Account("admin"), func(tx *ledger.Tx) error {
		_, err := pegkeeper.Deploy(tx, pegkeeper.Variant("stable-peg"), pegkeeper.Params{})
		return err
	})
	require.ErrorIs(t, err, pegkeeper.ErrUnknownVariant)
}

func TestParseVariants(t *testing.T) {
	variants, err := pegkeeper.ParseVariants(pegkeeper.DefaultVariants)
	require.NoError(t, err)
	require.Equal(t, []pegkeeper.Variant{pegkeeper.VariantTemplate, pegkeeper.VariantPluggableOptimized}, variants)

	variants, err = pegkeeper.ParseVariants(" pluggable-optimized, template,pluggable-optimized ,")
	require.NoError(t, err)
	require.Equal(t, []pegkeeper.Variant{pegkeeper.VariantPluggableOptimized, pegkeeper.VariantTemplate}, variants)

	_, err = pegkeeper.ParseVariants("template,unknown")
	require.ErrorIs(t, err, pegkeeper.ErrUnknownVariant)
	_, err = pegkeeper.ParseVariants(" , ")
	require.ErrorIs(t, err, pegkeeper.ErrUnknownVariant)
}
