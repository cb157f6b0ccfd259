package aggregate

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

const ratioScale = 18

func formatTokenAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).StringFixed(int32(decimals))
}

// computeTurnover is the volume moved in a window relative to the debt at
// its end. Nil when the debt is unknown or zero.
func computeTurnover(provided, withdrawn, debt *big.Int) *string {
	if debt == nil || debt.Sign() == 0 {
		return nil
	}
	volume := new(big.Int).Add(provided, withdrawn)
	rate := decimal.NewFromBigInt(volume, 0).DivRound(decimal.NewFromBigInt(debt, 0), ratioScale)
	val := rate.StringFixed(ratioScale)
	return &val
}

func unixTime(ts uint64) time.Time {
	return time.Unix(int64(ts), 0).UTC()
}
