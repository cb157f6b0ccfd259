package stableswap

import (
	"github.com/holiman/uint256"
)

const (
	// NCoins is the number of coins in the pool.
	NCoins = 2
	// APrecision scales the stored amplification coefficient.
	APrecision = 100
	// FeeDenominator is the fee scale: 1e10 is 100%.
	FeeDenominator = 10_000_000_000
	// MaxA bounds the amplification coefficient.
	MaxA = 1_000_000

	maxIterations = 255
)

var (
	nCoins         = uint256.NewInt(NCoins)
	aPrecision     = uint256.NewInt(APrecision)
	feeDenominator = uint256.NewInt(FeeDenominator)
	one            = uint256.NewInt(1)
	precision      = uint256.NewInt(1_000_000_000_000_000_000)
)

// getD solves the StableSwap invariant for D by Newton iteration:
//
//	A*n^n*sum(x) + D = A*D*n^n + D^(n+1) / (n^n * prod(x))
//
// amp is A * APrecision.
func getD(xp [NCoins]uint256.Int, amp *uint256.Int) (*uint256.Int, error) {
	s := new(uint256.Int)
	for i := range xp {
		if _, overflow := s.AddOverflow(s, &xp[i]); overflow {
			return nil, ErrOverflow
		}
	}
	if s.IsZero() {
		return new(uint256.Int), nil
	}

	d := s.Clone()
	ann, err := mul(amp, nCoins)
	if err != nil {
		return nil, err
	}

	for k := 0; k < maxIterations; k++ {
		dP := d.Clone()
		for i := range xp {
			if xp[i].IsZero() {
				return nil, ErrReserveNotPositive
			}
			den, err := mul(&xp[i], nCoins)
			if err != nil {
				return nil, err
			}
			if dP, err = mulDiv(dP, d, den); err != nil {
				return nil, err
			}
		}
		prev := d.Clone()

		annS, err := mulDiv(ann, s, aPrecision)
		if err != nil {
			return nil, err
		}
		dPN, err := mul(dP, nCoins)
		if err != nil {
			return nil, err
		}
		num, err := add(annS, dPN)
		if err != nil {
			return nil, err
		}

		annLessOne := new(uint256.Int).Sub(ann, aPrecision)
		left, err := mulDiv(annLessOne, d, aPrecision)
		if err != nil {
			return nil, err
		}
		right, err := mul(dP, uint256.NewInt(NCoins+1))
		if err != nil {
			return nil, err
		}
		den, err := add(left, right)
		if err != nil {
			return nil, err
		}

		if d, err = mulDiv(num, d, den); err != nil {
			return nil, err
		}

		if absDiff(d, prev).Cmp(one) <= 0 {
			return d, nil
		}
	}
	return nil, ErrNoConvergence
}

func mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrInsufficientReserve
	}
	return z, nil
}

func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func absDiff(x, y *uint256.Int) *uint256.Int {
	if x.Cmp(y) >= 0 {
		return new(uint256.Int).Sub(x, y)
	}
	return new(uint256.Int).Sub(y, x)
}
