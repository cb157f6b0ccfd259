package aggregate

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/seanpm2001/curve-stable-peg/internal/model"
)

// Accumulator holds aggregate values for one keeper window.
type Accumulator struct {
	ChainID       uint64
	KeeperAddress string
	WindowStart   uint64
	WindowEnd     uint64
	ProvideCount  uint64
	WithdrawCount uint64
	Provided      *big.Int
	Withdrawn     *big.Int
	ProfitLP      *big.Int
	// DebtAfter is the last debt carried by a decoded event, if any.
	DebtAfter  *big.Int
	LastBlock  uint64
	LastTS     uint64
	FirstBlock uint64
}

func NewAccumulator(record model.TypedEventRecord, windowStart, windowEnd uint64) *Accumulator {
	return &Accumulator{
		ChainID:       record.ChainID,
		KeeperAddress: record.Address,
		WindowStart:   windowStart,
		WindowEnd:     windowEnd,
		Provided:      big.NewInt(0),
		Withdrawn:     big.NewInt(0),
		ProfitLP:      big.NewInt(0),
		LastBlock:     record.BlockNumber,
		LastTS:        record.Timestamp,
		FirstBlock:    record.BlockNumber,
	}
}

// AddEvent folds a keeper event into the window. It returns the persisted
// action for Provide and Withdraw, nil otherwise.
func (a *Accumulator) AddEvent(record model.TypedEventRecord) (*model.KeeperAction, error) {
	latest := record.Timestamp >= a.LastTS
	if latest {
		a.LastTS = record.Timestamp
		a.LastBlock = record.BlockNumber
	}
	if a.FirstBlock == 0 || record.BlockNumber < a.FirstBlock {
		a.FirstBlock = record.BlockNumber
	}

	switch name := strings.ToLower(record.EventName); name {
	case "provide", "withdraw":
		data, err := record.Amount()
		if err != nil {
			return nil, err
		}
		amount, err := parseBigInt(data.Amount)
		if err != nil {
			return nil, err
		}
		if name == "provide" {
			a.Provided.Add(a.Provided, amount)
			a.ProvideCount++
		} else {
			a.Withdrawn.Add(a.Withdrawn, amount)
			a.WithdrawCount++
		}
		if data.DebtAfter != "" && latest {
			if a.DebtAfter, err = parseBigInt(data.DebtAfter); err != nil {
				return nil, err
			}
		}
		return &model.KeeperAction{
			ChainID:     record.ChainID,
			Keeper:      record.Address,
			BlockNumber: record.BlockNumber,
			TxHash:      record.TxHash,
			LogIndex:    record.LogIndex,
			Action:      name,
			Amount:      amount.String(),
			Timestamp:   unixTime(record.Timestamp),
		}, nil
	case "profit":
		data, err := record.Profit()
		if err != nil {
			return nil, err
		}
		lp, err := parseBigInt(data.LPAmount)
		if err != nil {
			return nil, err
		}
		a.ProfitLP.Add(a.ProfitLP, lp)
		return nil, nil
	default:
		return nil, nil
	}
}

// NetDebtChange is provided minus withdrawn.
func (a *Accumulator) NetDebtChange() *big.Int {
	return new(big.Int).Sub(a.Provided, a.Withdrawn)
}

func parseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return parsed, nil
}
