package pegkeeper

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Action is what an update does to the pool.
type Action int

const (
	ActionNone Action = iota
	ActionProvide
	ActionWithdraw
)

func (a Action) String() string {
	switch a {
	case ActionProvide:
		return "provide"
	case ActionWithdraw:
		return "withdraw"
	default:
		return "none"
	}
}

// Reasons reported for a no-op decision.
const (
	ReasonBalanced = "balanced"
	ReasonNoDebt   = "no debt"
	ReasonDust     = "dust"
	ReasonDelay    = "action delay"
	ReasonRejected = "rejected by pool"
)

// ImbalanceDivisor caps each action at one fifth of the imbalance.
const ImbalanceDivisor = 5

// Decision is the outcome of Plan.
type Decision struct {
	Action Action
	// Amount of pegged asset to provide or withdraw. Zero for ActionNone.
	Amount *uint256.Int
	// Imbalance is balances[1] - balances[0].
	Imbalance *big.Int
	Reason    string
}

// Plan decides what an update does given the pool reserves (reference,
// pegged), the outstanding debt and the asymmetry threshold. The threshold
// only gates the imbalance; any non-zero fifth is acted on, and amounts too
// small for the pool to burn LP for are rejected there. It has no side
// effects; keepers and offline tools share it.
func Plan(balances [2]*uint256.Int, debt, minAsymmetry *uint256.Int) Decision {
	imbalance := new(big.Int).Sub(balances[1].ToBig(), balances[0].ToBig())
	d := Decision{Action: ActionNone, Amount: new(uint256.Int), Imbalance: imbalance}

	magnitude, _ := uint256.FromBig(new(big.Int).Abs(imbalance))
	if imbalance.Sign() == 0 || magnitude.Lt(minAsymmetry) {
		d.Reason = ReasonBalanced
		return d
	}
	share := new(uint256.Int).Div(magnitude, uint256.NewInt(ImbalanceDivisor))

	if imbalance.Sign() > 0 {
		if debt.IsZero() {
			d.Reason = ReasonNoDebt
			return d
		}
		if share.Gt(debt) {
			share.Set(debt)
		}
		if share.IsZero() {
			d.Reason = ReasonDust
			return d
		}
		d.Action = ActionWithdraw
		d.Amount = share
		return d
	}

	if share.IsZero() {
		d.Reason = ReasonDust
		return d
	}
	d.Action = ActionProvide
	d.Amount = share
	return d
}
