package harness

import (
	"math/big"
	"math/rand"

	"github.com/holiman/uint256"
)

// Strategy draws integers from the closed range [Min, Max].
type Strategy struct {
	Min *uint256.Int
	Max *uint256.Int
}

// Uint256Range returns a strategy over [min, max].
func Uint256Range(min, max *uint256.Int) Strategy {
	if max.Lt(min) {
		min, max = max, min
	}
	return Strategy{Min: min.Clone(), Max: max.Clone()}
}

// Draw returns a value for the given run. The first two runs return the
// bounds, later runs sample uniformly.
func (s Strategy) Draw(rng *rand.Rand, run int) *uint256.Int {
	switch run {
	case 0:
		return s.Min.Clone()
	case 1:
		return s.Max.Clone()
	}
	span := new(big.Int).Sub(s.Max.ToBig(), s.Min.ToBig())
	span.Add(span, big.NewInt(1))
	v := new(big.Int).Rand(rng, span)
	v.Add(v, s.Min.ToBig())
	out, _ := uint256.FromBig(v)
	return out
}
