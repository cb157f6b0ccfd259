package contracts

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/model"
)

// DecoderConfig configures decoder behavior.
type DecoderConfig struct {
	// Topic0Map adds topic0 aliases for known event names.
	Topic0Map map[string]string
}

type eventRef struct {
	name     string
	contract string
	abi      abi.ABI
}

// EventDecoder decodes peg keeper and StableSwap pool events.
type EventDecoder struct {
	topicToEvent map[string]eventRef
}

// NewEventDecoder builds a decoder for every keeper and pool event.
func NewEventDecoder(cfg DecoderConfig) (*EventDecoder, error) {
	keeperABI, err := PegKeeperABI()
	if err != nil {
		return nil, fmt.Errorf("parse peg keeper abi: %w", err)
	}
	poolABI, err := StableSwapABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}

	byName := make(map[string]eventRef)
	topicToEvent := make(map[string]eventRef)
	register := func(parsed abi.ABI, contract string, names ...string) {
		for _, name := range names {
			ref := eventRef{name: name, contract: contract, abi: parsed}
			byName[strings.ToLower(name)] = ref
			topicToEvent[strings.ToLower(parsed.Events[name].ID.Hex())] = ref
		}
	}
	register(keeperABI, model.ContractPegKeeper, "Provide", "Withdraw", "Profit")
	register(poolABI, model.ContractPool, "AddLiquidity", "RemoveLiquidity", "RemoveLiquidityImbalance", "SetPegKeeper")

	for topic0, name := range cfg.Topic0Map {
		ref, ok := byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", name)
		}
		if topic0 == "" {
			continue
		}
		topicToEvent[strings.ToLower(topic0)] = ref
	}

	return &EventDecoder{topicToEvent: topicToEvent}, nil
}

// CanDecode checks if the topic0 is supported.
func (d *EventDecoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topicToEvent[strings.ToLower(topic0)]
	return ok
}

// Decode converts a LogRecord into a TypedEvent.
func (d *EventDecoder) Decode(log model.LogRecord, ctx DecodeContext) (*model.TypedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}
	ref, ok := d.topicToEvent[strings.ToLower(log.Topics[0])]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0])
	}
	if !common.IsHexAddress(log.Address) {
		return nil, fmt.Errorf("invalid contract address: %s", log.Address)
	}

	var (
		decoded interface{}
		err     error
	)
	switch ref.name {
	case "Provide", "Withdraw":
		decoded, err = d.decodeAmount(log, ref, ctx)
	case "Profit":
		decoded, err = d.decodeProfit(log, ref)
	case "AddLiquidity", "RemoveLiquidity", "RemoveLiquidityImbalance":
		decoded, err = d.decodeLiquidity(log, ref)
	case "SetPegKeeper":
		decoded, err = d.decodeSetPegKeeper(log, ref)
	default:
		return nil, fmt.Errorf("unsupported event name: %s", ref.name)
	}
	if err != nil {
		return nil, err
	}

	return &model.TypedEvent{
		ChainID:     log.ChainID,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		LogIndex:    log.LogIndex,
		Address:     log.Address,
		Contract:    ref.contract,
		EventName:   ref.name,
		Timestamp:   log.Timestamp,
		Decoded:     decoded,
		Raw:         &model.RawLogRef{Topic0: log.Topics[0], Data: log.Data},
	}, nil
}

func (d *EventDecoder) decodeAmount(log model.LogRecord, ref eventRef, ctx DecodeContext) (model.AmountEventData, error) {
	event := ref.abi.Events[ref.name]
	if _, err := parseIndexedTopics(event, log.Topics); err != nil {
		return model.AmountEventData{}, err
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return model.AmountEventData{}, err
	}
	if len(values) != 1 {
		return model.AmountEventData{}, fmt.Errorf("unexpected %s values: %d", ref.name, len(values))
	}
	amount, err := asBigInt(values[0])
	if err != nil {
		return model.AmountEventData{}, err
	}
	out := model.AmountEventData{Amount: amount.String()}

	if ctx.IncludeLiveState && ctx.Caller != nil {
		callCtx := ctx.Context
		if callCtx == nil {
			callCtx = context.Background()
		}
		keeper := common.HexToAddress(log.Address)
		debt, err := KeeperDebt(callCtx, ctx.Caller, keeper, log.BlockNumber)
		if err == nil {
			out.DebtAfter = debt.String()
		} else if ctx.Logger != nil {
			ctx.Logger.Debug("debt call failed", zap.String("keeper", keeper.Hex()), zap.Uint64("block", log.BlockNumber), zap.Error(err))
		}
	}
	return out, nil
}

func (d *EventDecoder) decodeProfit(log model.LogRecord, ref eventRef) (model.ProfitEventData, error) {
	event := ref.abi.Events[ref.name]
	if _, err := parseIndexedTopics(event, log.Topics); err != nil {
		return model.ProfitEventData{}, err
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return model.ProfitEventData{}, err
	}
	if len(values) != 1 {
		return model.ProfitEventData{}, fmt.Errorf("unexpected profit values: %d", len(values))
	}
	lp, err := asBigInt(values[0])
	if err != nil {
		return model.ProfitEventData{}, err
	}
	return model.ProfitEventData{LPAmount: lp.String()}, nil
}

func (d *EventDecoder) decodeLiquidity(log model.LogRecord, ref eventRef) (model.LiquidityEventData, error) {
	event := ref.abi.Events[ref.name]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return model.LiquidityEventData{}, err
	}
	var indexed struct {
		Provider common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return model.LiquidityEventData{}, fmt.Errorf("parse topics: %w", err)
	}

	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return model.LiquidityEventData{}, err
	}
	// RemoveLiquidity carries no invariant.
	withInvariant := ref.name != "RemoveLiquidity"
	want := 3
	if withInvariant {
		want = 4
	}
	if len(values) != want {
		return model.LiquidityEventData{}, fmt.Errorf("unexpected %s values: %d", ref.name, len(values))
	}

	amounts, err := asBigPair(values[0])
	if err != nil {
		return model.LiquidityEventData{}, fmt.Errorf("token amounts: %w", err)
	}
	fees, err := asBigPair(values[1])
	if err != nil {
		return model.LiquidityEventData{}, fmt.Errorf("fees: %w", err)
	}
	out := model.LiquidityEventData{
		Provider:     indexed.Provider.Hex(),
		TokenAmounts: [2]string{amounts[0].String(), amounts[1].String()},
		Fees:         [2]string{fees[0].String(), fees[1].String()},
	}
	next := 2
	if withInvariant {
		invariant, err := asBigInt(values[next])
		if err != nil {
			return model.LiquidityEventData{}, fmt.Errorf("invariant: %w", err)
		}
		out.Invariant = invariant.String()
		next++
	}
	supply, err := asBigInt(values[next])
	if err != nil {
		return model.LiquidityEventData{}, fmt.Errorf("token supply: %w", err)
	}
	out.TokenSupply = supply.String()
	return out, nil
}

func (d *EventDecoder) decodeSetPegKeeper(log model.LogRecord, ref eventRef) (model.SetPegKeeperEventData, error) {
	event := ref.abi.Events[ref.name]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return model.SetPegKeeperEventData{}, err
	}
	var indexed struct {
		PegKeeper common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return model.SetPegKeeperEventData{}, fmt.Errorf("parse topics: %w", err)
	}
	return model.SetPegKeeperEventData{PegKeeper: indexed.PegKeeper.Hex()}, nil
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return parseTopicHashes(topics[1:])
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}

func asBigPair(value interface{}) ([2]*big.Int, error) {
	pair, ok := value.([2]*big.Int)
	if !ok {
		return [2]*big.Int{}, fmt.Errorf("unsupported pair type %T", value)
	}
	return pair, nil
}
