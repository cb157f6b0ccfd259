package contracts

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/seanpm2001/curve-stable-peg/internal/ledger"
)

// EmitEvent encodes an ABI event and appends it to the transaction logs.
// Arguments are given in declaration order, indexed ones included.
func EmitEvent(tx *ledger.Tx, address common.Address, parsed abi.ABI, name string, args ...interface{}) error {
	topics, data, err := EncodeEvent(parsed, name, args...)
	if err != nil {
		return err
	}
	tx.Emit(address, topics, data)
	return nil
}

// EncodeEvent returns the topics and data of an ABI event.
func EncodeEvent(parsed abi.ABI, name string, args ...interface{}) ([]common.Hash, []byte, error) {
	event, ok := parsed.Events[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown event: %s", name)
	}
	if len(args) != len(event.Inputs) {
		return nil, nil, fmt.Errorf("event %s expects %d args, got %d", name, len(event.Inputs), len(args))
	}

	topics := []common.Hash{event.ID}
	var indexed [][]interface{}
	var values []interface{}
	for i, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, []interface{}{args[i]})
			continue
		}
		values = append(values, args[i])
	}

	if len(indexed) > 0 {
		encoded, err := abi.MakeTopics(indexed...)
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s topics: %w", name, err)
		}
		for _, topic := range encoded {
			topics = append(topics, topic[0])
		}
	}

	data, err := event.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		return nil, nil, fmt.Errorf("pack %s: %w", name, err)
	}
	return topics, data, nil
}
