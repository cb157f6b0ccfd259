package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

var (
	// ErrUnauthorized is returned when a caller lacks the role an entry point requires.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrReentrant is returned when a contract is re-entered while locked.
	ErrReentrant = errors.New("reentrant call")
)

const (
	DefaultChainID     = 1337
	DefaultGenesisTime = 1700000000
	DefaultBlockTime   = 12
)

// Config holds chain parameters.
type Config struct {
	ChainID     uint64
	GenesisTime uint64
	BlockTime   uint64
	Logger      *zap.Logger
}

// Receipt is the outcome of one transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Timestamp   uint64
	From        common.Address
	Status      uint64
	Logs        []types.Log
}

// Filter returns the receipt logs emitted by address with the given topic0.
func (r *Receipt) Filter(address common.Address, topic0 common.Hash) []types.Log {
	if r == nil {
		return nil
	}
	out := make([]types.Log, 0)
	for _, log := range r.Logs {
		if log.Address != address || len(log.Topics) == 0 || log.Topics[0] != topic0 {
			continue
		}
		out = append(out, log)
	}
	return out
}

// Chain is a single-threaded ledger: one transaction per block, executed to
// completion or reverted as a whole.
type Chain struct {
	mu sync.Mutex

	chainID   uint64
	blockTime uint64
	number    uint64
	time      uint64

	nonces     map[common.Address]uint64
	roles      *Roles
	logs       []types.Log
	timestamps map[uint64]uint64
	logger     *zap.Logger
}

// NewChain builds an empty chain.
func NewChain(cfg Config) *Chain {
	if cfg.ChainID == 0 {
		cfg.ChainID = DefaultChainID
	}
	if cfg.GenesisTime == 0 {
		cfg.GenesisTime = DefaultGenesisTime
	}
	if cfg.BlockTime == 0 {
		cfg.BlockTime = DefaultBlockTime
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Chain{
		chainID:    cfg.ChainID,
		blockTime:  cfg.BlockTime,
		time:       cfg.GenesisTime,
		nonces:     make(map[common.Address]uint64),
		roles:      newRoles(),
		timestamps: map[uint64]uint64{0: cfg.GenesisTime},
		logger:     cfg.Logger,
	}
}

// Account derives a deterministic externally owned address from a label.
func Account(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(label))[12:])
}

// ChainID returns the chain id.
func (c *Chain) ChainID() uint64 {
	return c.chainID
}

// BlockNumber returns the latest block number.
func (c *Chain) BlockNumber() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.number
}

// Timestamp returns the latest block timestamp.
func (c *Chain) Timestamp() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time
}

// NextTimestamp is the timestamp the next transaction will run at.
func (c *Chain) NextTimestamp() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.time + c.blockTime
}

// BlockTimestamp returns the timestamp of a mined block.
func (c *Chain) BlockTimestamp(number uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts, ok := c.timestamps[number]
	return ts, ok
}

// AdvanceTime moves the clock forward without mining.
func (c *Chain) AdvanceTime(seconds uint64) {
	c.mu.Lock()
	c.time += seconds
	c.mu.Unlock()
}

// Roles returns the role table.
func (c *Chain) Roles() *Roles {
	return c.roles
}

// Logs returns a copy of every committed log.
func (c *Chain) Logs() []types.Log {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Log, len(c.logs))
	copy(out, c.logs)
	return out
}

// Transact mines one block holding a single transaction sent by from. If fn
// fails every write is reverted, no log is kept and the receipt has status 0.
func (c *Chain) Transact(from common.Address, fn func(tx *Tx) error) (*Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.number++
	c.time += c.blockTime
	c.timestamps[c.number] = c.time

	st := &txState{
		chain:  c,
		hash:   txHash(from, c.number),
		origin: from,
		number: c.number,
		time:   c.time,
	}
	tx := &Tx{state: st, caller: from}

	receipt := &Receipt{
		TxHash:      st.hash,
		BlockNumber: st.number,
		Timestamp:   st.time,
		From:        from,
	}

	if err := fn(tx); err != nil {
		st.journal.revertTo(0)
		c.logger.Debug("tx reverted",
			zap.Uint64("block", st.number),
			zap.String("from", from.Hex()),
			zap.Error(err),
		)
		return receipt, fmt.Errorf("tx %s reverted: %w", st.hash.Hex(), err)
	}

	receipt.Status = types.ReceiptStatusSuccessful
	receipt.Logs = st.logs
	c.logs = append(c.logs, st.logs...)

	c.logger.Debug("tx committed",
		zap.Uint64("block", st.number),
		zap.String("from", from.Hex()),
		zap.Int("logs", len(st.logs)),
	)
	return receipt, nil
}

// View runs fn in a throwaway transaction: all writes are reverted and the
// chain does not advance.
func (c *Chain) View(from common.Address, fn func(tx *Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := &txState{
		chain:  c,
		origin: from,
		number: c.number,
		time:   c.time,
	}
	err := fn(&Tx{state: st, caller: from})
	st.journal.revertTo(0)
	return err
}

func txHash(from common.Address, number uint64) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], number)
	return crypto.Keccak256Hash(from.Bytes(), buf[:])
}

func blockHash(number uint64) common.Hash {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], number)
	return crypto.Keccak256Hash([]byte("block"), buf[:])
}
