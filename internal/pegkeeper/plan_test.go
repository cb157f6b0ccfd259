package pegkeeper

import (
	"testing"
	"testing/quick"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestPlan(t *testing.T) {
	cases := []struct {
		name     string
		balances [2]*uint256.Int
		debt     *uint256.Int
		min      *uint256.Int
		action   Action
		amount   uint64
		reason   string
	}{
		{name: "equal", balances: [2]*uint256.Int{u(1000), u(1000)}, debt: u(500), min: u(2), reason: ReasonBalanced},
		{name: "below threshold", balances: [2]*uint256.Int{u(1000), u(1001)}, debt: u(500), min: u(2), reason: ReasonBalanced},
		{name: "withdraw fifth", balances: [2]*uint256.Int{u(1000), u(1500)}, debt: u(500), min: u(2), action: ActionWithdraw, amount: 100},
		{name: "withdraw capped by debt", balances: [2]*uint256.Int{u(1000), u(6000)}, debt: u(40), min: u(2), action: ActionWithdraw, amount: 40},
		{name: "no debt", balances: [2]*uint256.Int{u(1000), u(1500)}, debt: u(0), min: u(2), reason: ReasonNoDebt},
		{name: "dust debt", balances: [2]*uint256.Int{u(1000), u(1500)}, debt: u(1), min: u(2), action: ActionWithdraw, amount: 1},
		{name: "withdraw below threshold share", balances: [2]*uint256.Int{u(1000), u(1300)}, debt: u(500), min: u(200), action: ActionWithdraw, amount: 60},
		{name: "fifth rounds to zero", balances: [2]*uint256.Int{u(1000), u(1004)}, debt: u(500), min: u(2), reason: ReasonDust},
		{name: "provide fifth", balances: [2]*uint256.Int{u(1500), u(1000)}, debt: u(0), min: u(2), action: ActionProvide, amount: 100},
		{name: "provide ignores debt", balances: [2]*uint256.Int{u(1500), u(1000)}, debt: u(1), min: u(2), action: ActionProvide, amount: 100},
		{name: "provide one", balances: [2]*uint256.Int{u(1009), u(1000)}, debt: u(0), min: u(2), action: ActionProvide, amount: 1},
		{name: "provide below threshold share", balances: [2]*uint256.Int{u(20), u(0)}, debt: u(0), min: u(10), action: ActionProvide, amount: 4},
		{name: "provide rounds to zero", balances: [2]*uint256.Int{u(1004), u(1000)}, debt: u(0), min: u(2), reason: ReasonDust},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Plan(tc.balances, tc.debt, tc.min)
			require.Equal(t, tc.action, d.Action)
			require.Equal(t, tc.amount, d.Amount.Uint64())
			require.Equal(t, tc.reason, d.Reason)
			want := int64(tc.balances[1].Uint64()) - int64(tc.balances[0].Uint64())
			require.Equal(t, want, d.Imbalance.Int64())
		})
	}
}

func TestPlanBounds(t *testing.T) {
	property := func(ref, pegged, debt uint64, min uint16) bool {
		minAsym := u(uint64(min))
		d := Plan([2]*uint256.Int{u(ref), u(pegged)}, u(debt), minAsym)

		var magnitude uint64
		if pegged > ref {
			magnitude = pegged - ref
		} else {
			magnitude = ref - pegged
		}
		share := magnitude / ImbalanceDivisor
		acts := magnitude >= uint64(min) && magnitude > 0 && share > 0 && (ref > pegged || debt > 0)
		switch d.Action {
		case ActionNone:
			return d.Amount.IsZero() && !acts
		case ActionWithdraw:
			if debt < share {
				share = debt
			}
			return acts && pegged > ref && d.Amount.Uint64() == share
		case ActionProvide:
			return acts && ref > pegged && d.Amount.Uint64() == share
		}
		return false
	}
	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 2000}))
}

func TestPlanBelowThresholdIsNoop(t *testing.T) {
	property := func(base uint64, delta, extra uint16, debt uint64, provide bool) bool {
		if base > 1<<62 {
			base >>= 2
		}
		minAsym := u(uint64(delta) + uint64(extra) + 1)
		balances := [2]*uint256.Int{u(base), u(base + uint64(delta))}
		if provide {
			balances[0], balances[1] = balances[1], balances[0]
		}
		d := Plan(balances, u(debt), minAsym)
		return d.Action == ActionNone && d.Reason == ReasonBalanced
	}
	require.NoError(t, quick.Check(property, &quick.Config{MaxCount: 2000}))
}

func TestActionString(t *testing.T) {
	require.Equal(t, "none", ActionNone.String())
	require.Equal(t, "provide", ActionProvide.String())
	require.Equal(t, "withdraw", ActionWithdraw.String())
}
