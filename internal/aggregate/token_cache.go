package aggregate

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
)

const defaultDecimals = 18

// DecimalsCache caches the pegged asset decimals per keeper.
type DecimalsCache struct {
	mu   sync.RWMutex
	data map[common.Address]uint8
}

func NewDecimalsCache() *DecimalsCache {
	return &DecimalsCache{data: make(map[common.Address]uint8)}
}

func (c *DecimalsCache) Get(keeper common.Address) (uint8, bool) {
	c.mu.RLock()
	decimals, ok := c.data[keeper]
	c.mu.RUnlock()
	return decimals, ok
}

func (c *DecimalsCache) Set(keeper common.Address, decimals uint8) {
	c.mu.Lock()
	c.data[keeper] = decimals
	c.mu.Unlock()
}

// FetchPeggedDecimals follows keeper -> pool -> coins(1) and reads its
// decimals.
func FetchPeggedDecimals(ctx context.Context, caller contracts.Caller, keeper common.Address) (uint8, error) {
	if caller == nil {
		return 0, fmt.Errorf("caller is nil")
	}
	pool, err := contracts.KeeperPool(ctx, caller, keeper)
	if err != nil {
		return 0, err
	}
	pegged, err := contracts.PoolCoin(ctx, caller, pool, 1)
	if err != nil {
		return 0, err
	}
	meta, err := contracts.FetchTokenMeta(ctx, caller, pegged)
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}
