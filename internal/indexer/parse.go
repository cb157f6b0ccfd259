package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
)

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, common.HexToAddress(input))
	}
	return addresses, nil
}

// ParseTopic0 converts topic0 hashes or keeper/pool event names (Withdraw,
// AddLiquidity, ...) into common.Hash.
func ParseTopic0(inputs []string) ([]common.Hash, error) {
	topics := make([]common.Hash, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !strings.HasPrefix(input, "0x") && !strings.HasPrefix(input, "0X") {
			id, err := eventTopic(input)
			if err != nil {
				return nil, err
			}
			topics = append(topics, id)
			continue
		}
		data, err := hexutil.Decode(input)
		if err != nil {
			return nil, fmt.Errorf("invalid topic0: %s", input)
		}
		if len(data) != 32 {
			return nil, fmt.Errorf("invalid topic0 length: %s", input)
		}
		topics = append(topics, common.BytesToHash(data))
	}
	return topics, nil
}

// DefaultTopic0 returns the keeper Provide, Withdraw and Profit topics.
func DefaultTopic0() []common.Hash {
	events := contracts.MustPegKeeperABI().Events
	return []common.Hash{events["Provide"].ID, events["Withdraw"].ID, events["Profit"].ID}
}

func eventTopic(name string) (common.Hash, error) {
	for _, parsed := range []abi.ABI{contracts.MustPegKeeperABI(), contracts.MustStableSwapABI()} {
		for eventName, event := range parsed.Events {
			if strings.EqualFold(eventName, name) {
				return event.ID, nil
			}
		}
	}
	return common.Hash{}, fmt.Errorf("unknown event name: %s", name)
}
