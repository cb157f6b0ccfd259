package indexer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/seanpm2001/curve-stable-peg/internal/ledger"
)

// LogSource is what the runner reads from. chain.Client serves a live node,
// LedgerSource serves a simulated chain.
type LogSource interface {
	ChainID(ctx context.Context) (uint64, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// LedgerSource exposes the committed logs of an in-memory chain.
type LedgerSource struct {
	chain *ledger.Chain
}

func NewLedgerSource(chain *ledger.Chain) *LedgerSource {
	return &LedgerSource{chain: chain}
}

func (s *LedgerSource) ChainID(context.Context) (uint64, error) {
	return s.chain.ChainID(), nil
}

func (s *LedgerSource) LatestBlockNumber(context.Context) (uint64, error) {
	return s.chain.BlockNumber(), nil
}

func (s *LedgerSource) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	ts, ok := s.chain.BlockTimestamp(number)
	if !ok {
		return 0, fmt.Errorf("block %d not mined", number)
	}
	return ts, nil
}

// FilterLogs matches the eth_getLogs semantics the runner relies on: an
// inclusive block range, any of the addresses, any of the topic0 values.
func (s *LedgerSource) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]types.Log, 0)
	for _, log := range s.chain.Logs() {
		if log.BlockNumber < fromBlock || log.BlockNumber > toBlock {
			continue
		}
		if len(addresses) > 0 && !containsAddress(addresses, log.Address) {
			continue
		}
		if len(topic0) > 0 && (len(log.Topics) == 0 || !containsHash(topic0, log.Topics[0])) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, item := range list {
		if item == addr {
			return true
		}
	}
	return false
}

func containsHash(list []common.Hash, hash common.Hash) bool {
	for _, item := range list {
		if item == hash {
			return true
		}
	}
	return false
}
