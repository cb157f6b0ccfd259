package main

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/chain"
	"github.com/seanpm2001/curve-stable-peg/internal/config"
	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
	"github.com/seanpm2001/curve-stable-peg/internal/model"
	"github.com/seanpm2001/curve-stable-peg/internal/pegkeeper"
	"github.com/seanpm2001/curve-stable-peg/internal/scenario"
)

func runSnapshot(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSnapshot(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		caller contracts.Caller
		keeper common.Address
		pool   common.Address
		block  = cfg.Block
		now    uint64
	)
	switch {
	case cfg.Scenario != "":
		sc, err := scenario.Load(cfg.Scenario)
		if err != nil {
			return err
		}
		res, err := scenario.Run(ctx, sc, logger)
		if err != nil {
			return err
		}
		caller, keeper, pool, block = res.Fixture.Caller(), res.Keeper, res.Pool, 0
		now = res.Fixture.Chain.NextTimestamp()
	case cfg.RPCURL != "":
		if cfg.Keeper == "" && cfg.Pool == "" {
			return fmt.Errorf("keeper or pool address is required")
		}
		if cfg.Keeper != "" {
			if !common.IsHexAddress(cfg.Keeper) {
				return fmt.Errorf("invalid keeper address: %q", cfg.Keeper)
			}
			keeper = common.HexToAddress(cfg.Keeper)
		}
		if cfg.Pool != "" {
			if !common.IsHexAddress(cfg.Pool) {
				return fmt.Errorf("invalid pool address: %q", cfg.Pool)
			}
			pool = common.HexToAddress(cfg.Pool)
		}
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		caller = chainClient

		at := block
		if at == 0 {
			if at, err = chainClient.LatestBlockNumber(ctx); err != nil {
				return fmt.Errorf("latest block: %w", err)
			}
		}
		if now, err = chainClient.BlockTimestamp(ctx, at); err != nil {
			return fmt.Errorf("block timestamp: %w", err)
		}
	default:
		return fmt.Errorf("rpc url or scenario is required")
	}

	var keeperState *model.KeeperState
	if keeper != (common.Address{}) {
		state, err := contracts.FetchKeeperState(ctx, caller, keeper, block)
		if err != nil {
			return fmt.Errorf("read keeper: %w", err)
		}
		keeperState = &state
		if pool == (common.Address{}) {
			pool = common.HexToAddress(state.Pool)
		} else if !equalAddress(state.Pool, pool) {
			logger.Warn("pool differs from keeper pool", zap.String("pool", pool.Hex()), zap.String("keeper_pool", state.Pool))
		}
	}
	poolState, err := contracts.FetchPoolState(ctx, caller, pool, block)
	if err != nil {
		return fmt.Errorf("read pool: %w", err)
	}

	var coins [2]model.TokenMeta
	for i, coin := range poolState.Coins {
		meta, err := contracts.FetchTokenMeta(ctx, caller, common.HexToAddress(coin))
		if err != nil {
			logger.Warn("read coin metadata", zap.Error(err), zap.String("coin", coin))
			meta = model.TokenMeta{Address: coin, Decimals: 18}
		}
		coins[i] = meta
	}

	return renderSnapshot(os.Stdout, poolState, keeperState, coins, now)
}

// renderSnapshot prints pool state and, when keeper is set, its debt and the
// decision an update at timestamp now would take.
func renderSnapshot(w io.Writer, pool model.PoolState, keeper *model.KeeperState, coins [2]model.TokenMeta, now uint64) error {
	var balances [2]*uint256.Int
	for i, raw := range pool.Balances {
		v, err := uint256.FromDecimal(raw)
		if err != nil {
			return fmt.Errorf("balance %d: %w", i, err)
		}
		balances[i] = v
	}
	imbalance := new(big.Int).Sub(balances[1].ToBig(), balances[0].ToBig())

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(pool.Address)
	t.SetCaption("Peg keeper snapshot")
	t.AppendHeader(table.Row{"", "Reference", "Pegged"})
	t.AppendRow(table.Row{"Symbol", symbol(coins[0]), symbol(coins[1])})
	t.AppendRow(table.Row{"Balances", pool.Balances[0], pool.Balances[1]})
	t.AppendRow(table.Row{"Units", humanAmount(pool.Balances[0], coins[0].Decimals), humanAmount(pool.Balances[1], coins[1].Decimals)})
	t.AppendSeparator()
	t.AppendRow(table.Row{"A / fee", pool.A, pool.Fee})
	t.AppendRow(table.Row{"Virtual price", humanAmount(pool.VirtualPrice, 18), humanAmount(pool.VirtualPrice, 18)}, table.RowConfig{AutoMerge: true})
	t.AppendRow(table.Row{"Imbalance", imbalance.String(), pegkeeper.ImbalanceBps(balances) + " bps"})

	if keeper != nil {
		d, err := pegkeeper.PlanState(pool, *keeper, now)
		if err != nil {
			return err
		}
		next := d.Action.String()
		if d.Action != pegkeeper.ActionNone {
			next = fmt.Sprintf("%s %s", next, d.Amount.Dec())
		} else if d.Reason != "" {
			next = fmt.Sprintf("%s (%s)", next, d.Reason)
		}

		t.AppendSeparator()
		for _, row := range []table.Row{
			{"Keeper", keeper.Address, keeper.Address},
			{"Debt", keeper.Debt, keeper.Debt},
			{"Min asymmetry", keeper.MinAsymmetry, keeper.MinAsymmetry},
			{"Last change", keeper.LastChange, keeper.LastChange},
			{"Action delay", keeper.ActionDelay, keeper.ActionDelay},
			{"Receiver", keeper.Receiver, keeper.Receiver},
			{"Next update", next, next},
		} {
			t.AppendRow(row, table.RowConfig{AutoMerge: true})
		}
	}
	t.Render()
	return nil
}

func symbol(meta model.TokenMeta) string {
	if meta.Symbol != "" {
		return meta.Symbol
	}
	return "n/a"
}

// humanAmount scales a raw integer string down by decimals. Unreadable
// values print as n/a.
func humanAmount(raw string, decimals uint8) string {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return "n/a"
	}
	return v.Shift(-int32(decimals)).StringFixed(6)
}

func equalAddress(a string, b common.Address) bool {
	return common.HexToAddress(a) == b
}
