package token

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
	"github.com/seanpm2001/curve-stable-peg/internal/ledger"
)

type tokenFixture struct {
	chain *ledger.Chain
	admin common.Address
	alice common.Address
	bob   common.Address
	token *Token
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()
	f := &tokenFixture{
		chain: ledger.NewChain(ledger.Config{}),
		admin: ledger.Account("admin"),
		alice: ledger.Account("alice"),
		bob:   ledger.Account("bob"),
	}
	_, err := f.chain.Transact(f.admin, func(tx *ledger.Tx) error {
		var err error
		f.token, err = Deploy(tx, Config{Name: "Pegged", Symbol: "PGD"})
		return err
	})
	require.NoError(t, err)
	return f
}

func (f *tokenFixture) send(from common.Address, fn func(tx *ledger.Tx) error) error {
	_, err := f.chain.Transact(from, fn)
	return err
}

func TestDeployDefaults(t *testing.T) {
	f := newTokenFixture(t)
	require.Equal(t, "Pegged", f.token.Name())
	require.Equal(t, "PGD", f.token.Symbol())
	require.Equal(t, uint8(18), f.token.Decimals())
	require.True(t, f.token.TotalSupply().IsZero())
	require.True(t, f.chain.Roles().Has(f.token.Address(), ledger.RoleAdmin, f.admin))
}

func TestMintRequiresMinter(t *testing.T) {
	f := newTokenFixture(t)
	err := f.send(f.alice, func(tx *ledger.Tx) error {
		return f.token.Mint(tx, f.alice, uint256.NewInt(5))
	})
	require.ErrorIs(t, err, ledger.ErrUnauthorized)

	err = f.send(f.alice, func(tx *ledger.Tx) error {
		return f.token.AddMinter(tx, f.alice)
	})
	require.ErrorIs(t, err, ledger.ErrUnauthorized)

	require.NoError(t, f.send(f.admin, func(tx *ledger.Tx) error {
		return f.token.AddMinter(tx, f.alice)
	}))
	require.True(t, f.token.IsMinter(f.alice))
	require.NoError(t, f.send(f.alice, func(tx *ledger.Tx) error {
		return f.token.Mint(tx, f.bob, uint256.NewInt(5))
	}))
	require.Equal(t, uint64(5), f.token.BalanceOf(f.bob).Uint64())
	require.Equal(t, uint64(5), f.token.TotalSupply().Uint64())

	require.NoError(t, f.send(f.admin, func(tx *ledger.Tx) error {
		return f.token.RemoveMinter(tx, f.alice)
	}))
	require.False(t, f.token.IsMinter(f.alice))

	err = f.send(f.admin, func(tx *ledger.Tx) error {
		return f.token.AddMinter(tx, common.Address{})
	})
	require.ErrorIs(t, err, ErrZeroAddress)
}

func TestTransferFromAllowance(t *testing.T) {
	f := newTokenFixture(t)
	require.NoError(t, f.send(f.alice, func(tx *ledger.Tx) error {
		if err := f.token.MintForTesting(tx, f.alice, uint256.NewInt(100)); err != nil {
			return err
		}
		return f.token.Approve(tx, f.bob, uint256.NewInt(30))
	}))

	err := f.send(f.bob, func(tx *ledger.Tx) error {
		return f.token.TransferFrom(tx, f.alice, f.bob, uint256.NewInt(31))
	})
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, f.send(f.bob, func(tx *ledger.Tx) error {
		return f.token.TransferFrom(tx, f.alice, f.bob, uint256.NewInt(20))
	}))
	require.Equal(t, uint64(10), f.token.Allowance(f.alice, f.bob).Uint64())
	require.Equal(t, uint64(80), f.token.BalanceOf(f.alice).Uint64())
	require.Equal(t, uint64(20), f.token.BalanceOf(f.bob).Uint64())
}

func TestMaxAllowanceIsNotSpent(t *testing.T) {
	f := newTokenFixture(t)
	require.NoError(t, f.send(f.alice, func(tx *ledger.Tx) error {
		if err := f.token.MintForTesting(tx, f.alice, uint256.NewInt(100)); err != nil {
			return err
		}
		return f.token.Approve(tx, f.bob, MaxUint256())
	}))
	require.NoError(t, f.send(f.bob, func(tx *ledger.Tx) error {
		return f.token.TransferFrom(tx, f.alice, f.bob, uint256.NewInt(60))
	}))
	require.True(t, f.token.Allowance(f.alice, f.bob).Eq(MaxUint256()))
}

func TestFailedTransferRevertsAndEmitsNothing(t *testing.T) {
	f := newTokenFixture(t)
	receipt, err := f.chain.Transact(f.alice, func(tx *ledger.Tx) error {
		if err := f.token.MintForTesting(tx, f.alice, uint256.NewInt(10)); err != nil {
			return err
		}
		return f.token.Transfer(tx, f.bob, uint256.NewInt(11))
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Empty(t, receipt.Logs)
	require.True(t, f.token.BalanceOf(f.alice).IsZero())
	require.True(t, f.token.TotalSupply().IsZero())
}

func TestTransferEmitsEvent(t *testing.T) {
	f := newTokenFixture(t)
	receipt, err := f.chain.Transact(f.alice, func(tx *ledger.Tx) error {
		if err := f.token.MintForTesting(tx, f.alice, uint256.NewInt(10)); err != nil {
			return err
		}
		return f.token.Transfer(tx, f.bob, uint256.NewInt(4))
	})
	require.NoError(t, err)

	transfer := contracts.MustERC20ABI().Events["Transfer"]
	logs := receipt.Filter(f.token.Address(), transfer.ID)
	require.Len(t, logs, 2)
	require.Equal(t, common.BytesToHash(f.alice.Bytes()), logs[1].Topics[1])
	require.Equal(t, common.BytesToHash(f.bob.Bytes()), logs[1].Topics[2])

	values, err := contracts.MustERC20ABI().Unpack("Transfer", logs[1].Data)
	require.NoError(t, err)
	require.Equal(t, "4", values[0].(interface{ String() string }).String())
}

func TestBurn(t *testing.T) {
	f := newTokenFixture(t)
	require.NoError(t, f.send(f.alice, func(tx *ledger.Tx) error {
		if err := f.token.MintForTesting(tx, f.alice, uint256.NewInt(10)); err != nil {
			return err
		}
		return f.token.Burn(tx, uint256.NewInt(3))
	}))
	require.Equal(t, uint64(7), f.token.TotalSupply().Uint64())

	err := f.send(f.bob, func(tx *ledger.Tx) error {
		return f.token.BurnFrom(tx, f.alice, uint256.NewInt(1))
	})
	require.ErrorIs(t, err, ledger.ErrUnauthorized)

	err = f.send(f.alice, func(tx *ledger.Tx) error {
		return f.token.Burn(tx, uint256.NewInt(8))
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
}
