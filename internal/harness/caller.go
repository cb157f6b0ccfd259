package harness

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
	"github.com/seanpm2001/curve-stable-peg/internal/token"
)

// ErrUnknownContract is returned for calls to an address the fixture did not deploy.
var ErrUnknownContract = errors.New("unknown contract")

// Caller answers eth_call against the fixture's live state. The block number
// is ignored.
type Caller struct {
	fixture *Fixture
}

// Caller returns a view reader over the fixture contracts.
func (f *Fixture) Caller() *Caller {
	return &Caller{fixture: f}
}

// CallContract decodes the selector, reads the matching view and encodes the
// result.
func (c *Caller) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if msg.To == nil {
		return nil, fmt.Errorf("call without target")
	}
	if len(msg.Data) < 4 {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(msg.Data))
	}

	f := c.fixture
	to := *msg.To
	var (
		parsed abi.ABI
		read   func(method string, args []interface{}) (interface{}, error)
	)
	switch {
	case to == f.Pool.Address():
		parsed, read = contracts.MustStableSwapABI(), c.readPool
	case to == f.Keeper.Address():
		parsed, read = contracts.MustPegKeeperABI(), c.readKeeper
	default:
		tok := c.token(to)
		if tok == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownContract, to.Hex())
		}
		parsed = contracts.MustERC20ABI()
		read = func(method string, args []interface{}) (interface{}, error) {
			return readToken(tok, method, args)
		}
	}

	method, err := parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, fmt.Errorf("unpack %s args: %w", method.Name, err)
	}
	value, err := read(method.Name, args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(value)
}

func (c *Caller) token(addr common.Address) *token.Token {
	f := c.fixture
	for _, tok := range []*token.Token{f.Peg, f.Pegged, f.Pool.LPToken()} {
		if tok.Address() == addr {
			return tok
		}
	}
	return nil
}

func (c *Caller) readPool(method string, args []interface{}) (interface{}, error) {
	pool := c.fixture.Pool
	switch method {
	case "coins", "balances":
		i, err := coinIndex(args)
		if err != nil {
			return nil, err
		}
		if method == "coins" {
			return pool.Coins()[i].Address(), nil
		}
		return pool.Balances()[i].ToBig(), nil
	case "A":
		return pool.A().ToBig(), nil
	case "fee":
		return pool.Fee().ToBig(), nil
	case "get_virtual_price":
		vp, err := pool.GetVirtualPrice()
		if err != nil {
			return nil, err
		}
		return vp.ToBig(), nil
	default:
		return nil, fmt.Errorf("pool method %s not readable", method)
	}
}

func (c *Caller) readKeeper(method string, _ []interface{}) (interface{}, error) {
	keeper := c.fixture.Keeper
	switch method {
	case "debt":
		return keeper.Debt().ToBig(), nil
	case "min_asymmetry":
		return keeper.MinAsymmetry().ToBig(), nil
	case "last_change":
		return new(big.Int).SetUint64(keeper.LastChange()), nil
	case "action_delay":
		return new(big.Int).SetUint64(keeper.ActionDelay()), nil
	case "pool":
		return keeper.Pool(), nil
	case "receiver":
		return keeper.Receiver(), nil
	default:
		return nil, fmt.Errorf("keeper method %s not readable", method)
	}
}

func readToken(tok *token.Token, method string, args []interface{}) (interface{}, error) {
	switch method {
	case "balanceOf":
		if len(args) != 1 {
			return nil, fmt.Errorf("balanceOf expects 1 arg")
		}
		account, ok := args[0].(common.Address)
		if !ok {
			return nil, fmt.Errorf("balanceOf: unexpected %T", args[0])
		}
		return tok.BalanceOf(account).ToBig(), nil
	case "decimals":
		return tok.Decimals(), nil
	case "symbol":
		return tok.Symbol(), nil
	case "name":
		return tok.Name(), nil
	default:
		return nil, fmt.Errorf("token method %s not readable", method)
	}
}

func coinIndex(args []interface{}) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected coin index")
	}
	i, ok := args[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("coin index: unexpected %T", args[0])
	}
	if !i.IsInt64() || i.Int64() < 0 || i.Int64() > 1 {
		return 0, fmt.Errorf("coin index %s out of range", i)
	}
	return int(i.Int64()), nil
}
