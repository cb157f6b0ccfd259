package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type txState struct {
	chain   *Chain
	hash    common.Hash
	origin  common.Address
	number  uint64
	time    uint64
	journal journal
	logs    []types.Log
}

// Tx is the execution context of one call frame. Nested contract calls
// share the transaction state and only differ by caller.
type Tx struct {
	state  *txState
	caller common.Address
}

// Caller returns msg.sender of the current frame.
func (tx *Tx) Caller() common.Address {
	return tx.caller
}

// Origin returns the account that submitted the transaction.
func (tx *Tx) Origin() common.Address {
	return tx.state.origin
}

// As returns a frame of the same transaction with caller set to addr. A
// contract uses it to call another contract as itself.
func (tx *Tx) As(addr common.Address) *Tx {
	return &Tx{state: tx.state, caller: addr}
}

// Hash returns the transaction hash.
func (tx *Tx) Hash() common.Hash {
	return tx.state.hash
}

// BlockNumber returns the number of the block including the transaction.
func (tx *Tx) BlockNumber() uint64 {
	return tx.state.number
}

// Timestamp returns the block timestamp in seconds.
func (tx *Tx) Timestamp() uint64 {
	return tx.state.time
}

// Roles returns the chain role table.
func (tx *Tx) Roles() *Roles {
	return tx.state.chain.roles
}

// CreateAddress derives a contract address from the caller and its nonce,
// the way CREATE does, and bumps the nonce.
func (tx *Tx) CreateAddress() common.Address {
	nonces := tx.state.chain.nonces
	nonce := nonces[tx.caller]
	SetMapValue(tx, nonces, tx.caller, nonce+1)
	return crypto.CreateAddress(tx.caller, nonce)
}

// Emit appends a log to the transaction. Logs are dropped on revert.
func (tx *Tx) Emit(address common.Address, topics []common.Hash, data []byte) {
	st := tx.state
	n := len(st.logs)
	st.logs = append(st.logs, types.Log{
		Address:     address,
		Topics:      topics,
		Data:        data,
		BlockNumber: st.number,
		TxHash:      st.hash,
		TxIndex:     0,
		BlockHash:   blockHash(st.number),
		Index:       uint(n),
	})
	st.journal.append(func() { st.logs = st.logs[:n] })
}

// Try runs fn against an inner snapshot. When fn fails every write it made
// is reverted and the error is returned; the outer transaction continues.
func (tx *Tx) Try(fn func(tx *Tx) error) error {
	snapshot := tx.state.journal.snapshot()
	if err := fn(tx); err != nil {
		tx.state.journal.revertTo(snapshot)
		return err
	}
	return nil
}

// OnRevert registers an undo closure for state not covered by SetValue or
// SetMapValue.
func (tx *Tx) OnRevert(fn func()) {
	tx.state.journal.append(fn)
}
