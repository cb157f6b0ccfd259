package harness

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/seanpm2001/curve-stable-peg/internal/pegkeeper"
)

func TestCheckAllPropertiesPass(t *testing.T) {
	results, err := Check(context.Background(), Config{Runs: 4, Seed: 7})
	require.NoError(t, err)
	require.Len(t, results, len(pegkeeper.Variants())*len(Properties()))
	for _, res := range results {
		require.True(t, res.Passed, "%s/%s: %s [%s]", res.Variant, res.Property, res.Failure, res.Counterexample)
		if prop, _ := LookupProperty(res.Property); prop.Sampled {
			require.Equal(t, 4, res.Runs)
		} else {
			require.Equal(t, 1, res.Runs)
		}
	}
	require.Zero(t, Failed(results))
}

func TestCheckSelectsProperties(t *testing.T) {
	results, err := Check(context.Background(), Config{
		Variants:   []pegkeeper.Variant{pegkeeper.VariantPluggableOptimized},
		Runs:       2,
		Properties: []string{"end-to-end", "no-op-guard"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "end-to-end", results[0].Property)
	require.Equal(t, "no-op-guard", results[1].Property)

	_, err = Check(context.Background(), Config{Properties: []string{"swap-math"}})
	require.Error(t, err)
}

func TestCheckStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Check(ctx, Config{Runs: 1})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunPropertyReportsCounterexample(t *testing.T) {
	prop := Property{
		Name:    "always-fails",
		Sampled: true,
		run: func(r *Run) error {
			v := r.draw("amount", Uint256Range(uint256.NewInt(10), uint256.NewInt(20)))
			return violation("amount %s", v.Dec())
		},
	}
	res, err := runProperty(context.Background(), Config{Runs: 5}, pegkeeper.VariantTemplate, prop, 1)
	require.NoError(t, err)
	require.False(t, res.Passed)
	require.Equal(t, 1, res.Runs)
	require.Equal(t, "amount=10", res.Counterexample)
	require.Contains(t, res.Failure, "amount 10")

	prop.run = func(r *Run) error { return errors.New("boom") }
	res, err = runProperty(context.Background(), Config{Runs: 5}, pegkeeper.VariantTemplate, prop, 1)
	require.NoError(t, err)
	require.Equal(t, "error: boom", res.Failure)
}

func TestStrategyBoundsFirst(t *testing.T) {
	s := Uint256Range(uint256.NewInt(100), uint256.NewInt(5))
	rng := rand.New(rand.NewSource(3))
	require.Equal(t, uint64(5), s.Draw(rng, 0).Uint64())
	require.Equal(t, uint64(100), s.Draw(rng, 1).Uint64())
	for i := 2; i < 200; i++ {
		v := s.Draw(rng, i).Uint64()
		require.GreaterOrEqual(t, v, uint64(5))
		require.LessOrEqual(t, v, uint64(100))
	}
}

func TestFixtureProvidesDebt(t *testing.T) {
	for _, variant := range pegkeeper.Variants() {
		f, err := NewFixture(FixtureConfig{Variant: variant})
		require.NoError(t, err)
		require.Equal(t, DefaultInitialAmount.Dec(), f.Keeper.Debt().Dec())
		require.NoError(t, keeperHoldsNothing(f))

		balances := f.Balances()
		want := new(uint256.Int).Mul(DefaultInitialAmount, uint256.NewInt(2))
		require.Equal(t, want.Dec(), balances[0].Dec())
		require.Equal(t, want.Dec(), balances[1].Dec())
	}
}
