package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/seanpm2001/curve-stable-peg/internal/model"
)

// FetchPoolState reads coins, balances, A and fee of a pool. A zero block
// reads the latest state. The virtual price is left empty when the call
// fails, as it does on an empty pool.
func FetchPoolState(ctx context.Context, caller Caller, pool common.Address, blockNumber uint64) (model.PoolState, error) {
	if caller == nil {
		return model.PoolState{}, fmt.Errorf("caller is nil")
	}
	poolABI, err := StableSwapABI()
	if err != nil {
		return model.PoolState{}, fmt.Errorf("parse pool abi: %w", err)
	}
	block := blockArg(blockNumber)
	state := model.PoolState{Address: pool.Hex(), BlockNumber: blockNumber}

	for i := 0; i < 2; i++ {
		values, err := callMethod(ctx, caller, pool, poolABI, "coins", block, big.NewInt(int64(i)))
		if err != nil {
			return model.PoolState{}, err
		}
		coin, err := asAddress(values[0])
		if err != nil {
			return model.PoolState{}, fmt.Errorf("coins(%d): %w", i, err)
		}
		state.Coins[i] = coin.Hex()

		balance, err := callBig(ctx, caller, pool, poolABI, "balances", block, big.NewInt(int64(i)))
		if err != nil {
			return model.PoolState{}, err
		}
		state.Balances[i] = balance.String()
	}

	amp, err := callBig(ctx, caller, pool, poolABI, "A", block)
	if err != nil {
		return model.PoolState{}, err
	}
	state.A = amp.String()

	fee, err := callBig(ctx, caller, pool, poolABI, "fee", block)
	if err != nil {
		return model.PoolState{}, err
	}
	state.Fee = fee.String()

	if vp, err := callBig(ctx, caller, pool, poolABI, "get_virtual_price", block); err == nil {
		state.VirtualPrice = vp.String()
	}
	return state, nil
}

// FetchKeeperState reads the pool, receiver, debt, threshold and last action
// time of a peg keeper.
func FetchKeeperState(ctx context.Context, caller Caller, keeper common.Address, blockNumber uint64) (model.KeeperState, error) {
	if caller == nil {
		return model.KeeperState{}, fmt.Errorf("caller is nil")
	}
	keeperABI, err := PegKeeperABI()
	if err != nil {
		return model.KeeperState{}, fmt.Errorf("parse peg keeper abi: %w", err)
	}
	block := blockArg(blockNumber)
	state := model.KeeperState{Address: keeper.Hex(), BlockNumber: blockNumber}

	for method, target := range map[string]*string{"pool": &state.Pool, "receiver": &state.Receiver} {
		values, err := callMethod(ctx, caller, keeper, keeperABI, method, block)
		if err != nil {
			return model.KeeperState{}, err
		}
		addr, err := asAddress(values[0])
		if err != nil {
			return model.KeeperState{}, fmt.Errorf("%s: %w", method, err)
		}
		*target = addr.Hex()
	}

	debt, err := callBig(ctx, caller, keeper, keeperABI, "debt", block)
	if err != nil {
		return model.KeeperState{}, err
	}
	state.Debt = debt.String()

	minAsym, err := callBig(ctx, caller, keeper, keeperABI, "min_asymmetry", block)
	if err != nil {
		return model.KeeperState{}, err
	}
	state.MinAsymmetry = minAsym.String()

	last, err := callBig(ctx, caller, keeper, keeperABI, "last_change", block)
	if err != nil {
		return model.KeeperState{}, err
	}
	state.LastChange = last.Uint64()

	if delay, err := callBig(ctx, caller, keeper, keeperABI, "action_delay", block); err == nil {
		state.ActionDelay = delay.Uint64()
	}
	return state, nil
}

// KeeperDebt reads debt() of a peg keeper.
func KeeperDebt(ctx context.Context, caller Caller, keeper common.Address, blockNumber uint64) (*big.Int, error) {
	if caller == nil {
		return nil, fmt.Errorf("caller is nil")
	}
	keeperABI, err := PegKeeperABI()
	if err != nil {
		return nil, fmt.Errorf("parse peg keeper abi: %w", err)
	}
	return callBig(ctx, caller, keeper, keeperABI, "debt", blockArg(blockNumber))
}

// KeeperPool reads pool() of a peg keeper.
func KeeperPool(ctx context.Context, caller Caller, keeper common.Address) (common.Address, error) {
	if caller == nil {
		return common.Address{}, fmt.Errorf("caller is nil")
	}
	keeperABI, err := PegKeeperABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse peg keeper abi: %w", err)
	}
	values, err := callMethod(ctx, caller, keeper, keeperABI, "pool", nil)
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

// PoolCoin reads coins(i) of a pool.
func PoolCoin(ctx context.Context, caller Caller, pool common.Address, i int) (common.Address, error) {
	if caller == nil {
		return common.Address{}, fmt.Errorf("caller is nil")
	}
	poolABI, err := StableSwapABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := callMethod(ctx, caller, pool, poolABI, "coins", nil, big.NewInt(int64(i)))
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values[0])
}

// FetchTokenMeta loads token metadata via ERC20 calls. Only decimals is
// required.
func FetchTokenMeta(ctx context.Context, caller Caller, token common.Address) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	if caller == nil {
		return meta, fmt.Errorf("caller is nil")
	}
	erc20, err := ERC20ABI()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 abi: %w", err)
	}

	values, err := callMethod(ctx, caller, token, erc20, "decimals", nil)
	if err != nil {
		return meta, err
	}
	if meta.Decimals, err = asUint8(values[0]); err != nil {
		return meta, err
	}
	if values, err := callMethod(ctx, caller, token, erc20, "symbol", nil); err == nil {
		meta.Symbol, _ = values[0].(string)
	}
	if values, err := callMethod(ctx, caller, token, erc20, "name", nil); err == nil {
		meta.Name, _ = values[0].(string)
	}
	return meta, nil
}

func blockArg(blockNumber uint64) *big.Int {
	if blockNumber == 0 {
		return nil
	}
	return new(big.Int).SetUint64(blockNumber)
}

func callMethod(ctx context.Context, caller Caller, to common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := caller.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned nothing", method)
	}
	return values, nil
}

func callBig(ctx context.Context, caller Caller, to common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) (*big.Int, error) {
	values, err := callMethod(ctx, caller, to, parsed, method, block, args...)
	if err != nil {
		return nil, err
	}
	v, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return v, nil
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("decimals out of range: %s", v)
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
