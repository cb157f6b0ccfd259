package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/seanpm2001/curve-stable-peg/internal/model"
)

func TestRenderSnapshotReportsDelay(t *testing.T) {
	pool := model.PoolState{
		Address:      "0x00000000000000000000000000000000000000aa",
		Balances:     [2]string{"2000000", "2500000"},
		A:            "400",
		Fee:          "0",
		VirtualPrice: "1000000000000000000",
	}
	keeper := &model.KeeperState{
		Address:      "0x00000000000000000000000000000000000000bb",
		Debt:         "1000000",
		MinAsymmetry: "2",
		LastChange:   1000,
		ActionDelay:  600,
	}
	coins := [2]model.TokenMeta{{Symbol: "PEG", Decimals: 18}, {Symbol: "PGD", Decimals: 18}}

	var out bytes.Buffer
	require.NoError(t, renderSnapshot(&out, pool, keeper, coins, 1200))
	require.Contains(t, out.String(), "none (action delay)")

	out.Reset()
	require.NoError(t, renderSnapshot(&out, pool, keeper, coins, 1600))
	require.Contains(t, out.String(), "withdraw 100000")

	out.Reset()
	require.NoError(t, renderSnapshot(&out, pool, nil, coins, 1200))
	require.NotContains(t, out.String(), "Next update")
}
