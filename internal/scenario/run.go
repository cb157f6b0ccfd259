package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/harness"
	"github.com/seanpm2001/curve-stable-peg/internal/ledger"
	"github.com/seanpm2001/curve-stable-peg/internal/pegkeeper"
)

// ErrExpectation is returned when a step does not behave as declared.
var ErrExpectation = errors.New("scenario expectation failed")

// StepResult is the state after one step.
type StepResult struct {
	Index    int
	Action   string
	From     common.Address
	Acted    bool
	Actions  []harness.KeeperAction
	Err      string
	Debt     *uint256.Int
	Balances [2]*uint256.Int
}

// Result is a finished scenario run.
type Result struct {
	Name    string
	Variant pegkeeper.Variant
	Keeper  common.Address
	Pool    common.Address
	Steps   []StepResult
	Logs    []types.Log
	Profit  *uint256.Int
	// Fixture is the final chain state, for exporting logs and reading views.
	Fixture *harness.Fixture
}

// Run deploys a fixture for sc and executes its steps in order. A step that
// fails without expect_error, or whose outcome differs from expect_update,
// stops the run with ErrExpectation.
func Run(ctx context.Context, sc Scenario, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	variant, _ := pegkeeper.ParseVariant(sc.Variant)
	initial, _ := parseAmount(sc.InitialAmount)
	minAsym, _ := parseAmount(sc.MinAsymmetry)

	f, err := harness.NewFixture(harness.FixtureConfig{
		Variant:       variant,
		InitialAmount: initial,
		MinAsymmetry:  minAsym,
		A:             sc.A,
		Fee:           sc.Fee,
		ActionDelay:   sc.ActionDelay,
		WithUpdater:   sc.WithUpdater,
		SkipProvide:   !sc.ProvideDebt,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	res := &Result{
		Name:    sc.Name,
		Variant: variant,
		Keeper:  f.Keeper.Address(),
		Pool:    f.Pool.Address(),
		Fixture: f,
	}
	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sr, err := runStep(f, i, step)
		if err != nil {
			return res, fmt.Errorf("scenario %s step %d (%s): %w", sc.Name, i, step.Action, err)
		}
		logger.Debug("scenario step",
			zap.String("scenario", sc.Name),
			zap.Int("step", i),
			zap.String("action", step.Action),
			zap.Bool("acted", sr.Acted),
			zap.String("debt", sr.Debt.Dec()),
			zap.String("error", sr.Err),
		)
		res.Steps = append(res.Steps, sr)
	}

	res.Logs = f.Chain.Logs()
	if res.Profit, err = f.Keeper.Profit(); err != nil {
		return res, fmt.Errorf("scenario %s: profit: %w", sc.Name, err)
	}
	logger.Info("scenario finished",
		zap.String("scenario", sc.Name),
		zap.String("variant", string(variant)),
		zap.Int("steps", len(res.Steps)),
		zap.Int("logs", len(res.Logs)),
		zap.String("debt", f.Keeper.Debt().Dec()),
	)
	return res, nil
}

func runStep(f *harness.Fixture, index int, step Step) (StepResult, error) {
	sr := StepResult{Index: index, Action: step.Action}
	from, err := resolveAccount(f, step.From, defaultSender(step.Action, f))
	if err != nil {
		return sr, err
	}
	sr.From = from

	var (
		receipt *ledger.Receipt
		hooked  bool
	)
	switch step.Action {
	case ActionAddLiquidity:
		amounts, _ := step.pair()
		receipt, err = f.AddLiquidity(from, amounts)
		hooked = true
	case ActionRemoveLiquidityImbalance:
		amounts, _ := step.pair()
		var maxBurn *uint256.Int
		if step.MaxBurn != "" {
			if maxBurn, err = parseAmount(step.MaxBurn); err != nil {
				return sr, err
			}
		}
		receipt, err = f.RemoveLiquidityImbalance(from, amounts, maxBurn)
		hooked = true
	case ActionRemoveLiquidity:
		lp, _ := parseAmount(step.Amount)
		receipt, err = f.RemoveLiquidity(from, lp)
		hooked = true
	case ActionMint:
		amounts, _ := step.pair()
		err = f.Fund(from, amounts)
	case ActionSetPegKeeper:
		receipt, err = f.Chain.Transact(from, func(tx *ledger.Tx) error {
			if step.Attach {
				return f.Pool.SetPegKeeper(tx, f.Keeper)
			}
			return f.Pool.SetPegKeeper(tx, nil)
		})
	case ActionUpdate:
		sr.Acted, receipt, err = f.Update(from)
	case ActionWithdrawProfit:
		_, receipt, err = f.WithdrawProfit(from)
	case ActionAdvanceTime:
		f.Chain.AdvanceTime(step.Seconds)
	}

	if err != nil {
		sr.Err = err.Error()
	}
	if receipt != nil && err == nil {
		if sr.Actions, err = harness.KeeperActions(receipt, f.Keeper.Address()); err != nil {
			return sr, err
		}
		if hooked {
			sr.Acted = len(sr.Actions) > 0
		}
	}
	sr.Debt = f.Keeper.Debt()
	sr.Balances = f.Balances()

	switch {
	case step.ExpectError && sr.Err == "":
		return sr, fmt.Errorf("%w: step succeeded, want an error", ErrExpectation)
	case !step.ExpectError && sr.Err != "":
		return sr, fmt.Errorf("%w: %s", ErrExpectation, sr.Err)
	case step.ExpectUpdate != nil && *step.ExpectUpdate != sr.Acted:
		return sr, fmt.Errorf("%w: keeper acted=%t, want %t", ErrExpectation, sr.Acted, *step.ExpectUpdate)
	}
	return sr, nil
}

func defaultSender(action string, f *harness.Fixture) common.Address {
	switch action {
	case ActionSetPegKeeper:
		return f.Pool.Owner()
	case ActionUpdate:
		return f.Pool.Address()
	case ActionWithdrawProfit:
		return f.Accounts.Bob
	default:
		return f.Accounts.Alice
	}
}

// resolveAccount maps a participant name, "pool", "keeper" or a hex address
// to an address.
func resolveAccount(f *harness.Fixture, name string, fallback common.Address) (common.Address, error) {
	acc := f.Accounts
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return fallback, nil
	case "alice":
		return acc.Alice, nil
	case "bob":
		return acc.Bob, nil
	case "charlie":
		return acc.Charlie, nil
	case "admin":
		return acc.Admin, nil
	case "receiver":
		return acc.Receiver, nil
	case "pool":
		return f.Pool.Address(), nil
	case "keeper":
		return f.Keeper.Address(), nil
	}
	if common.IsHexAddress(name) {
		return common.HexToAddress(name), nil
	}
	return common.Address{}, fmt.Errorf("unknown account %q", name)
}
