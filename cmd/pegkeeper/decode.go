package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/chain"
	"github.com/seanpm2001/curve-stable-peg/internal/config"
	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
	"github.com/seanpm2001/curve-stable-peg/internal/model"
	"github.com/seanpm2001/curve-stable-peg/internal/storage"
)

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.IncludeLiveState && cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required with include-live-state")
	}
	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	decoder, err := contracts.NewEventDecoder(contracts.DecoderConfig{Topic0Map: cfg.Topic0Map})
	if err != nil {
		return err
	}

	decodeCtx := contracts.DecodeContext{
		Context:          ctx,
		Logger:           logger,
		IncludeLiveState: cfg.IncludeLiveState,
	}
	if cfg.RPCURL != "" {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		decodeCtx.Caller = chainClient
	}

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.Bool("include_live_state", cfg.IncludeLiveState),
	)

	stats, err := decodeFile(cfg.In, cfg.Out, cfg.Errors, decoder, decodeCtx)
	if err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("total", stats.total),
		zap.Int("decoded", stats.decoded),
		zap.Int("skipped", stats.skipped),
		zap.Int("failed", stats.failed),
	)
	return nil
}

type decodeStats struct {
	total   int
	decoded int
	skipped int
	failed  int
}

// decodeFile decodes every raw log line of in into out. Undecodable lines go
// to errorsPath and do not stop the run.
func decodeFile(in, out, errorsPath string, decoder contracts.Decoder, decodeCtx contracts.DecodeContext) (decodeStats, error) {
	var stats decodeStats

	outWriter, err := storage.NewJSONLWriter(out, false)
	if err != nil {
		return stats, err
	}
	defer outWriter.Close()

	errWriter, err := storage.NewJSONLWriter(errorsPath, false)
	if err != nil {
		return stats, err
	}
	defer errWriter.Close()

	err = storage.ScanJSONLFile(in, func(line []byte) error {
		if decodeCtx.Context != nil {
			if err := decodeCtx.Context.Err(); err != nil {
				return err
			}
		}
		stats.total++

		var record model.LogRecord
		if err := json.Unmarshal(line, &record); err != nil {
			stats.failed++
			writeDecodeError(errWriter, model.DecodeError{Error: err.Error()})
			return nil
		}
		if len(record.Topics) == 0 {
			stats.failed++
			writeDecodeError(errWriter, model.NewDecodeError(record, fmt.Errorf("missing topic0")))
			return nil
		}

		if !decoder.CanDecode(record.Topic0()) {
			stats.skipped++
			return nil
		}

		event, err := decoder.Decode(record, decodeCtx)
		if err != nil {
			stats.failed++
			writeDecodeError(errWriter, model.NewDecodeError(record, err))
			return nil
		}

		if err := outWriter.Write(event); err != nil {
			return err
		}
		stats.decoded++
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("decode %s: %w", in, err)
	}

	if err := outWriter.Close(); err != nil {
		return stats, err
	}
	return stats, errWriter.Close()
}

func writeDecodeError(writer *storage.JSONLWriter, errRecord model.DecodeError) {
	if writer == nil {
		return
	}
	_ = writer.Write(errRecord)
}
