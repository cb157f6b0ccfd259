package aggregate

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
)

const (
	debtMethodEvent  = "debt_from_event"
	debtMethodBlock  = "debt_at_block"
	debtMethodLatest = "debt_latest"
	debtMethodNone   = "unavailable"
)

// fetchDebt reads the keeper debt at blockNumber, falling back to the latest
// state when the node has no history for that block.
func (a *Aggregator) fetchDebt(ctx context.Context, keeperAddr string, blockNumber uint64) (*big.Int, string, error) {
	if a.caller == nil {
		return nil, debtMethodNone, fmt.Errorf("caller is nil")
	}
	if !common.IsHexAddress(keeperAddr) {
		return nil, debtMethodNone, fmt.Errorf("invalid address")
	}
	keeper := common.HexToAddress(keeperAddr)

	if blockNumber > 0 {
		if debt, err := contracts.KeeperDebt(ctx, a.caller, keeper, blockNumber); err == nil {
			return debt, debtMethodBlock, nil
		}
	}
	debt, err := contracts.KeeperDebt(ctx, a.caller, keeper, 0)
	if err == nil {
		return debt, debtMethodLatest, nil
	}
	return nil, debtMethodNone, fmt.Errorf("debt call failed: %w", err)
}
