package harness

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/pegkeeper"
)

// DefaultRuns is the number of runs of each sampled property.
const DefaultRuns = 50

// Config selects what Check runs.
type Config struct {
	Variants []pegkeeper.Variant
	// Runs applies to sampled properties; others run once.
	Runs int
	Seed int64
	// Properties limits the run to these names. Empty means all.
	Properties []string
	Logger     *zap.Logger
}

// Result is the outcome of one property on one variant.
type Result struct {
	Variant        pegkeeper.Variant
	Property       string
	Runs           int
	Passed         bool
	Failure        string
	Counterexample string
	Elapsed        time.Duration
}

// Failed counts the failing results.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Passed {
			n++
		}
	}
	return n
}

// Check runs the selected properties against every variant. A property stops
// at its first failing run. Errors are reserved for bad configuration and
// cancellation.
func Check(ctx context.Context, cfg Config) ([]Result, error) {
	if cfg.Runs <= 0 {
		cfg.Runs = DefaultRuns
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if len(cfg.Variants) == 0 {
		variants, err := pegkeeper.ParseVariants(pegkeeper.DefaultVariants)
		if err != nil {
			return nil, err
		}
		cfg.Variants = variants
	}
	selected, err := selectProperties(cfg.Properties)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(cfg.Variants)*len(selected))
	for vi, variant := range cfg.Variants {
		for pi, prop := range selected {
			seed := cfg.Seed + int64(vi)*1_000_003 + int64(pi)*7_919
			res, err := runProperty(ctx, cfg, variant, prop, seed)
			if err != nil {
				return results, err
			}
			if res.Passed {
				cfg.Logger.Info("property passed",
					zap.String("variant", string(variant)),
					zap.String("property", prop.Name),
					zap.Int("runs", res.Runs),
					zap.Duration("elapsed", res.Elapsed),
				)
			} else {
				cfg.Logger.Warn("property failed",
					zap.String("variant", string(variant)),
					zap.String("property", prop.Name),
					zap.Int("runs", res.Runs),
					zap.String("failure", res.Failure),
					zap.String("counterexample", res.Counterexample),
				)
			}
			results = append(results, res)
		}
	}
	return results, nil
}

func runProperty(ctx context.Context, cfg Config, variant pegkeeper.Variant, prop Property, seed int64) (Result, error) {
	res := Result{Variant: variant, Property: prop.Name, Passed: true}
	start := time.Now()
	runs := 1
	if prop.Sampled {
		runs = cfg.Runs
	}
	rng := rand.New(rand.NewSource(seed))

	for i := 0; i < runs; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		run := &Run{Variant: variant, Index: i, Rand: rng, Logger: cfg.Logger}
		res.Runs++
		if err := prop.run(run); err != nil {
			res.Passed = false
			res.Failure = err.Error()
			res.Counterexample = run.Inputs()
			if !errors.Is(err, ErrViolation) {
				res.Failure = "error: " + res.Failure
			}
			break
		}
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func selectProperties(names []string) ([]Property, error) {
	if len(names) == 0 {
		return Properties(), nil
	}
	out := make([]Property, 0, len(names))
	for _, name := range names {
		prop, ok := LookupProperty(name)
		if !ok {
			return nil, fmt.Errorf("unknown property: %s", name)
		}
		out = append(out, prop)
	}
	return out, nil
}
