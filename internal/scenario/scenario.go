// Package scenario replays declarative step lists against a fresh peg keeper
// fixture.
package scenario

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/spf13/viper"

	"github.com/seanpm2001/curve-stable-peg/internal/harness"
	"github.com/seanpm2001/curve-stable-peg/internal/pegkeeper"
)

// Step actions.
const (
	ActionAddLiquidity             = "add_liquidity"
	ActionRemoveLiquidity          = "remove_liquidity"
	ActionRemoveLiquidityImbalance = "remove_liquidity_imbalance"
	ActionSetPegKeeper             = "set_peg_keeper"
	ActionUpdate                   = "update"
	ActionWithdrawProfit           = "withdraw_profit"
	ActionAdvanceTime              = "advance_time"
	ActionMint                     = "mint"
)

// ErrInvalidScenario is returned when a scenario file fails validation.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is a fixture description and the steps to run on it. Amounts are
// decimal strings in the smallest unit.
type Scenario struct {
	Name          string `mapstructure:"name"`
	Variant       string `mapstructure:"variant"`
	InitialAmount string `mapstructure:"initial_amount"`
	MinAsymmetry  string `mapstructure:"min_asymmetry"`
	A             uint64 `mapstructure:"a"`
	Fee           uint64 `mapstructure:"fee"`
	ActionDelay   uint64 `mapstructure:"action_delay"`
	ProvideDebt   bool   `mapstructure:"provide_debt"`
	WithUpdater   bool   `mapstructure:"with_updater"`
	Steps         []Step `mapstructure:"steps"`
}

// Step is one transaction, or a clock move.
type Step struct {
	Action  string   `mapstructure:"action"`
	From    string   `mapstructure:"from"`
	Amounts []string `mapstructure:"amounts"`
	Amount  string   `mapstructure:"amount"`
	MaxBurn string   `mapstructure:"max_burn"`
	Attach  bool     `mapstructure:"attach"`
	Seconds uint64   `mapstructure:"seconds"`
	// ExpectUpdate checks the update result, or for liquidity steps whether
	// the hooked keeper acted.
	ExpectUpdate *bool `mapstructure:"expect_update"`
	ExpectError  bool  `mapstructure:"expect_error"`
}

// Load reads a scenario file. The format follows the file extension (yaml,
// json or toml).
func Load(path string) (Scenario, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("variant", string(pegkeeper.VariantTemplate))
	v.SetDefault("initial_amount", harness.DefaultInitialAmount.Dec())
	v.SetDefault("min_asymmetry", fmt.Sprint(pegkeeper.DefaultMinAsymmetry))
	v.SetDefault("a", harness.DefaultA)
	v.SetDefault("provide_debt", true)

	if err := v.ReadInConfig(); err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	var sc Scenario
	if err := v.Unmarshal(&sc); err != nil {
		return Scenario{}, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}

// Validate checks the variant, the amounts and every step.
func (sc Scenario) Validate() error {
	if _, err := pegkeeper.ParseVariant(sc.Variant); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if _, err := parseAmount(sc.InitialAmount); err != nil {
		return fmt.Errorf("%w: initial_amount: %v", ErrInvalidScenario, err)
	}
	if _, err := parseAmount(sc.MinAsymmetry); err != nil {
		return fmt.Errorf("%w: min_asymmetry: %v", ErrInvalidScenario, err)
	}
	for i, step := range sc.Steps {
		if err := step.validate(); err != nil {
			return fmt.Errorf("%w: step %d (%s): %v", ErrInvalidScenario, i, step.Action, err)
		}
	}
	return nil
}

func (s Step) validate() error {
	switch s.Action {
	case ActionAddLiquidity, ActionRemoveLiquidityImbalance, ActionMint:
		_, err := s.pair()
		return err
	case ActionRemoveLiquidity:
		_, err := parseAmount(s.Amount)
		return err
	case ActionSetPegKeeper, ActionUpdate, ActionWithdrawProfit:
		return nil
	case ActionAdvanceTime:
		if s.Seconds == 0 {
			return errors.New("seconds must be positive")
		}
		return nil
	case "":
		return errors.New("action is required")
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
}

func (s Step) pair() ([2]*uint256.Int, error) {
	var out [2]*uint256.Int
	if len(s.Amounts) != 2 {
		return out, fmt.Errorf("amounts needs 2 values, got %d", len(s.Amounts))
	}
	for i, raw := range s.Amounts {
		v, err := parseAmount(raw)
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}

// parseAmount accepts decimal integers with optional underscores and a
// scientific suffix like 1e22.
func parseAmount(raw string) (*uint256.Int, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if s == "" {
		return nil, errors.New("empty amount")
	}
	if mantissa, exp, ok := strings.Cut(strings.ToLower(s), "e"); ok {
		if mantissa == "" || exp == "" {
			return nil, fmt.Errorf("amount %q: malformed exponent", raw)
		}
		m, err := uint256.FromDecimal(mantissa)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", raw, err)
		}
		e, err := uint256.FromDecimal(exp)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", raw, err)
		}
		scale := new(uint256.Int).Exp(uint256.NewInt(10), e)
		out, overflow := new(uint256.Int).MulOverflow(m, scale)
		if overflow || e.GtUint64(77) {
			return nil, fmt.Errorf("amount %q overflows", raw)
		}
		return out, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", raw, err)
	}
	return v, nil
}
