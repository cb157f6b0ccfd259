package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/config"
	"github.com/seanpm2001/curve-stable-peg/internal/harness"
	"github.com/seanpm2001/curve-stable-peg/internal/pegkeeper"
)

func runCheck(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadCheck(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	variants, err := pegkeeper.ParseVariants(cfg.Variants)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("check start",
		zap.String("variants", cfg.Variants),
		zap.Int("runs", cfg.Runs),
		zap.Int64("seed", cfg.Seed),
		zap.Strings("properties", cfg.Properties),
	)

	results, err := harness.Check(ctx, harness.Config{
		Variants:   variants,
		Runs:       cfg.Runs,
		Seed:       cfg.Seed,
		Properties: cfg.Properties,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	renderResults(os.Stdout, results)

	failed := harness.Failed(results)
	logger.Info("check complete",
		zap.Int("total", len(results)),
		zap.Int("failed", failed),
	)
	if failed > 0 {
		return fmt.Errorf("%d of %d property checks failed", failed, len(results))
	}
	return nil
}

func renderResults(w io.Writer, results []harness.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Variant", "Property", "Runs", "Result", "Elapsed", "Detail"})
	for _, r := range results {
		status, detail := "pass", ""
		if !r.Passed {
			status, detail = "FAIL", r.Failure
			if r.Counterexample != "" {
				detail += "\n" + r.Counterexample
			}
		}
		t.AppendRow(table.Row{r.Variant, r.Property, r.Runs, status, r.Elapsed.Round(time.Millisecond), detail})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d failed", harness.Failed(results))})
	t.Render()
}
