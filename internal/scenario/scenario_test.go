package scenario

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeScenario(t, "empty.yaml", "name: empty\n")
	sc, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "empty", sc.Name)
	require.Equal(t, "template", sc.Variant)
	require.Equal(t, "1000000000000000000000000", sc.InitialAmount)
	require.Equal(t, "2", sc.MinAsymmetry)
	require.Equal(t, uint64(400), sc.A)
	require.True(t, sc.ProvideDebt)
	require.Empty(t, sc.Steps)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"variant":  "variant: stable\n",
		"action":   "steps:\n  - action: swap\n",
		"amounts":  "steps:\n  - action: add_liquidity\n    amounts: [\"1\"]\n",
		"amount":   "steps:\n  - action: add_liquidity\n    amounts: [\"1\", \"x\"]\n",
		"seconds":  "steps:\n  - action: advance_time\n",
		"missing":  "steps:\n  - from: alice\n",
		"initial":  "initial_amount: \"-1\"\n",
		"overflow": "steps:\n  - action: mint\n    amounts: [\"1e78\", \"0\"]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeScenario(t, name+".yaml", body))
			require.ErrorIs(t, err, ErrInvalidScenario)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"0":         "0",
		"1_000":     "1000",
		"1e22":      "10000000000000000000000",
		" 25E2 ":    "2500",
		"123456789": "123456789",
	}
	for in, want := range cases {
		got, err := parseAmount(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got.Dec())
	}
	for _, in := range []string{"", "1.5", "e5", "1e", "-3"} {
		_, err := parseAmount(in)
		require.Error(t, err, in)
	}
}

func TestRunExampleScenarios(t *testing.T) {
	paths, err := filepath.Glob("../../scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			sc, err := Load(path)
			require.NoError(t, err)
			res, err := Run(context.Background(), sc, nil)
			require.NoError(t, err)
			require.Len(t, res.Steps, len(sc.Steps))
			require.NotEmpty(t, res.Logs)
		})
	}
}

func TestRunDustDebt(t *testing.T) {
	sc, err := Load("../../scenarios/withdraw_dust_debt.yaml")
	require.NoError(t, err)
	res, err := Run(context.Background(), sc, nil)
	require.NoError(t, err)

	withdrawn := res.Steps[1]
	require.True(t, withdrawn.Acted)
	require.Len(t, withdrawn.Actions, 1)
	require.Equal(t, "Withdraw", withdrawn.Actions[0].Name)
	require.Equal(t, "999999999999999999999999", withdrawn.Actions[0].Amount.Dec())
	require.Equal(t, "1", withdrawn.Debt.Dec())

	balanced := res.Steps[3]
	require.Equal(t, balanced.Balances[0].Dec(), balanced.Balances[1].Dec())

	last := res.Steps[len(res.Steps)-1]
	require.False(t, last.Acted)
	require.Equal(t, "1", last.Debt.Dec())
	require.Empty(t, last.Actions)
	require.Equal(t, res.Steps[len(res.Steps)-2].Balances[1].Dec(), last.Balances[1].Dec())
}

func TestRunExpectationMismatch(t *testing.T) {
	sc := Scenario{
		Name:          "mismatch",
		Variant:       "template",
		InitialAmount: "1e24",
		MinAsymmetry:  "2",
		ProvideDebt:   true,
		Steps: []Step{
			{Action: ActionAddLiquidity, Amounts: []string{"0", "1"}},
			{Action: ActionSetPegKeeper, Attach: true},
			{Action: ActionUpdate, ExpectUpdate: boolPtr(true)},
		},
	}
	res, err := Run(context.Background(), sc, nil)
	require.ErrorIs(t, err, ErrExpectation)
	require.Len(t, res.Steps, 2)

	sc.Steps = []Step{{Action: ActionUpdate, From: "bob"}}
	_, err = Run(context.Background(), sc, nil)
	require.ErrorIs(t, err, ErrExpectation)

	sc.Steps = []Step{{Action: ActionUpdate, From: "bob", ExpectError: true}}
	res, err = Run(context.Background(), sc, nil)
	require.NoError(t, err)
	require.Contains(t, res.Steps[0].Err, "unauthorized")
}

func TestRunHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sc := Scenario{
		Name:          "cancelled",
		Variant:       "template",
		InitialAmount: "1e24",
		MinAsymmetry:  "2",
		Steps:         []Step{{Action: ActionAdvanceTime, Seconds: 1}},
	}
	_, err := Run(ctx, sc, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func boolPtr(v bool) *bool { return &v }
