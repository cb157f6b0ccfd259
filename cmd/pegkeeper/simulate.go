package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/aggregate"
	"github.com/seanpm2001/curve-stable-peg/internal/config"
	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
	"github.com/seanpm2001/curve-stable-peg/internal/indexer"
	"github.com/seanpm2001/curve-stable-peg/internal/model"
	"github.com/seanpm2001/curve-stable-peg/internal/scenario"
	"github.com/seanpm2001/curve-stable-peg/internal/storage"
)

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSimulate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Scenario == "" {
		return fmt.Errorf("scenario path is required")
	}

	sc, err := scenario.Load(cfg.Scenario)
	if err != nil {
		return err
	}
	if cfg.Variant != "" {
		sc.Variant = cfg.Variant
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("simulate start",
		zap.String("scenario", sc.Name),
		zap.String("variant", sc.Variant),
		zap.Int("steps", len(sc.Steps)),
	)

	res, err := scenario.Run(ctx, sc, logger)
	if err != nil {
		return err
	}
	renderSteps(os.Stdout, res)

	if err := os.Remove(cfg.Out); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reset output: %w", err)
	}
	runner := indexer.NewRunner(indexer.RunConfig{
		Addresses: []common.Address{res.Keeper, res.Pool},
		BatchSize: 1000,
	}, indexer.NewLedgerSource(res.Fixture.Chain), storage.NewJsonlStorage(cfg.Out), logger)
	indexStats, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("export logs: %w", err)
	}

	decoder, err := contracts.NewEventDecoder(contracts.DecoderConfig{})
	if err != nil {
		return err
	}
	caller := res.Fixture.Caller()
	decoded, err := decodeFile(cfg.Out, cfg.TypedOut, cfg.Errors, newDebtTracker(decoder), contracts.DecodeContext{
		Context: ctx,
		Caller:  caller,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	logger.Info("simulate complete",
		zap.String("scenario", res.Name),
		zap.String("keeper", res.Keeper.Hex()),
		zap.Int("logs", indexStats.Logs),
		zap.Int("decoded", decoded.decoded),
		zap.Int("failed", decoded.failed),
		zap.String("profit", res.Profit.Dec()),
		zap.String("out", cfg.Out),
		zap.String("typed_out", cfg.TypedOut),
	)

	if cfg.PGDSN == "" {
		return nil
	}

	windowSeconds, err := config.ParseWindow(cfg.Window)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg.PGDSN, cfg.EnsureSchema)
	if err != nil {
		return err
	}
	defer store.Close()

	agg := aggregate.NewAggregator(aggregate.Config{
		WindowSeconds: windowSeconds,
	}, store, caller, logger)

	logger.Info("aggregate start",
		zap.String("input", cfg.TypedOut),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Uint64("window_seconds", windowSeconds),
	)
	_, err = agg.Run(ctx, cfg.TypedOut)
	return err
}

// debtTracker fills DebtAfter of keeper Provide and Withdraw events from the
// running sum of their amounts. The sum is exact only when decoding starts
// at the keeper's deployment.
type debtTracker struct {
	contracts.Decoder
	debt map[string]*big.Int
}

func newDebtTracker(inner contracts.Decoder) *debtTracker {
	return &debtTracker{Decoder: inner, debt: make(map[string]*big.Int)}
}

func (d *debtTracker) Decode(log model.LogRecord, ctx contracts.DecodeContext) (*model.TypedEvent, error) {
	event, err := d.Decoder.Decode(log, ctx)
	if err != nil {
		return nil, err
	}
	payload, ok := event.Decoded.(model.AmountEventData)
	if !ok || event.Contract != model.ContractPegKeeper {
		return event, nil
	}

	amount, ok := new(big.Int).SetString(payload.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", payload.Amount)
	}
	key := strings.ToLower(event.Address)
	debt := d.debt[key]
	if debt == nil {
		debt = new(big.Int)
		d.debt[key] = debt
	}
	switch event.EventName {
	case "Provide":
		debt.Add(debt, amount)
	case "Withdraw":
		debt.Sub(debt, amount)
	}
	if debt.Sign() < 0 {
		return nil, fmt.Errorf("keeper %s debt below zero at block %d", event.Address, event.BlockNumber)
	}
	if payload.DebtAfter == "" {
		payload.DebtAfter = debt.String()
		event.Decoded = payload
	}
	return event, nil
}

func renderSteps(w io.Writer, res *scenario.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("%s (%s)", res.Name, res.Variant))
	t.AppendHeader(table.Row{"#", "Action", "From", "Acted", "Debt", "Reference", "Pegged", "Error"})
	for _, step := range res.Steps {
		t.AppendRow(table.Row{
			step.Index,
			step.Action,
			shortAddress(step.From),
			step.Acted,
			step.Debt.Dec(),
			step.Balances[0].Dec(),
			step.Balances[1].Dec(),
			step.Err,
		})
	}
	t.AppendFooter(table.Row{"", "profit", "", "", res.Profit.Dec()})
	t.Render()
}

func shortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + ".." + hex[len(hex)-4:]
}
