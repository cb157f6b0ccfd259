package pegkeeper

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/seanpm2001/curve-stable-peg/internal/model"
)

// PlanState runs Plan on reads of a deployed pool and keeper for an update
// executed at timestamp now. Inside the keeper's action delay the decision
// is a no-op with ReasonDelay.
func PlanState(pool model.PoolState, keeper model.KeeperState, now uint64) (Decision, error) {
	var balances [2]*uint256.Int
	for i, raw := range pool.Balances {
		v, err := parseUint(raw)
		if err != nil {
			return Decision{}, fmt.Errorf("balance %d: %w", i, err)
		}
		balances[i] = v
	}
	debt, err := parseUint(keeper.Debt)
	if err != nil {
		return Decision{}, fmt.Errorf("debt: %w", err)
	}
	minAsym, err := parseUint(keeper.MinAsymmetry)
	if err != nil {
		return Decision{}, fmt.Errorf("min asymmetry: %w", err)
	}
	d := Plan(balances, debt, minAsym)
	if d.Action != ActionNone && Delayed(keeper.LastChange, keeper.ActionDelay, now) {
		return Decision{Action: ActionNone, Amount: new(uint256.Int), Imbalance: d.Imbalance, Reason: ReasonDelay}, nil
	}
	return d, nil
}

// ImbalanceBps is (pegged - reference) / (pegged + reference) in basis
// points with two decimals. Empty pools report zero.
func ImbalanceBps(balances [2]*uint256.Int) string {
	ref := decimal.NewFromBigInt(balances[0].ToBig(), 0)
	pegged := decimal.NewFromBigInt(balances[1].ToBig(), 0)
	total := ref.Add(pegged)
	if total.IsZero() {
		return decimal.Zero.StringFixed(2)
	}
	return pegged.Sub(ref).Div(total).Mul(decimal.NewFromInt(10000)).StringFixed(2)
}

func parseUint(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty value")
	}
	return uint256.FromDecimal(raw)
}
