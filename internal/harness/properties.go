package harness

import (
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/contracts"
	"github.com/seanpm2001/curve-stable-peg/internal/ledger"
	"github.com/seanpm2001/curve-stable-peg/internal/pegkeeper"
)

// Property is a named behavioural check. Sampled properties draw their
// inputs and are run several times.
type Property struct {
	Name        string
	Description string
	Sampled     bool
	run         func(r *Run) error
}

// Run is one execution of a property.
type Run struct {
	Variant pegkeeper.Variant
	Index   int
	Rand    *rand.Rand
	Logger  *zap.Logger

	inputs []string
}

// Inputs describes the values drawn so far, for reporting.
func (r *Run) Inputs() string {
	return strings.Join(r.inputs, " ")
}

func (r *Run) draw(name string, s Strategy) *uint256.Int {
	v := s.Draw(r.Rand, r.Index)
	r.inputs = append(r.inputs, name+"="+v.Dec())
	return v
}

func (r *Run) coin(name string) int {
	side := r.Rand.Intn(2)
	if r.Index < 2 {
		side = r.Index
	}
	r.inputs = append(r.inputs, fmt.Sprintf("%s=%d", name, side))
	return side
}

func (r *Run) fixture(mutate func(*FixtureConfig)) (*Fixture, error) {
	cfg := FixtureConfig{Variant: r.Variant, Logger: r.Logger}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewFixture(cfg)
}

// drawThreshold draws min_asymmetry and an imbalance at or above it. Half of
// the runs keep the imbalance within five times the threshold, where the
// action amount itself is below the threshold.
func (r *Run) drawThreshold() (minAsym, amount *uint256.Int) {
	minAsym = r.draw("min_asymmetry", Uint256Range(uint256.NewInt(2), pow10(18)))
	low := new(uint256.Int).Add(minAsym, sampleFloor)
	high := new(uint256.Int).Mul(low, uint256.NewInt(pegkeeper.ImbalanceDivisor))
	if r.coin("wide") == 1 {
		low, high = maxUint(low, sampleLow), sampleHigh
	}
	amount = r.draw("amount", Uint256Range(low, high))
	return minAsym, amount
}

var properties = []Property{
	{
		Name:        "no-op-guard",
		Description: "an imbalance below min_asymmetry changes nothing",
		Sampled:     true,
		run:         checkNoOpGuard,
	},
	{
		Name:        "bounded-withdrawal",
		Description: "with enough debt an update withdraws exactly imbalance/5",
		Sampled:     true,
		run:         checkBoundedWithdrawal,
	},
	{
		Name:        "debt-capped-withdrawal",
		Description: "a withdrawal never exceeds the outstanding debt",
		run:         checkDebtCappedWithdrawal,
	},
	{
		Name:        "dust-exhaustion",
		Description: "dust debt makes update a no-op",
		run:         checkDustExhaustion,
	},
	{
		Name:        "balance-conservation",
		Description: "the keeper never keeps reference or pegged balance",
		Sampled:     true,
		run:         checkBalanceConservation,
	},
	{
		Name:        "event-correctness",
		Description: "each action emits one event matching the pool delta",
		Sampled:     true,
		run:         checkEventCorrectness,
	},
	{
		Name:        "provide-symmetry",
		Description: "a short pool gets |imbalance|/5 freshly minted pegged",
		Sampled:     true,
		run:         checkProvideSymmetry,
	},
	{
		Name:        "access-control",
		Description: "only permitted callers may update",
		run:         checkAccessControl,
	},
	{
		Name:        "atomicity",
		Description: "a reverted transaction leaves no trace",
		run:         checkAtomicity,
	},
	{
		Name:        "end-to-end",
		Description: "balanced pool, add [0, 1e22], update withdraws 2e21",
		run:         checkEndToEnd,
	},
}

// Properties returns every known property.
func Properties() []Property {
	out := make([]Property, len(properties))
	copy(out, properties)
	return out
}

// LookupProperty finds a property by name.
func LookupProperty(name string) (Property, bool) {
	for _, p := range properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

var (
	zero       = new(uint256.Int)
	sampleLow  = pow10(20)
	sampleHigh = pow10(24)

	// sampleFloor keeps threshold-scaled amounts large enough for the pool
	// to burn LP for a fifth of them.
	sampleFloor = pow10(5)
)

func checkNoOpGuard(r *Run) error {
	minAsym := r.draw("min_asymmetry", Uint256Range(uint256.NewInt(2), pow10(18)))
	delta := r.draw("delta", Uint256Range(uint256.NewInt(1), new(uint256.Int).SubUint64(minAsym, 1)))
	side := r.coin("side")

	f, err := r.fixture(func(c *FixtureConfig) { c.MinAsymmetry = minAsym })
	if err != nil {
		return err
	}
	amounts := [2]*uint256.Int{zero, zero}
	amounts[side] = delta
	if _, err := f.AddLiquidity(f.Accounts.Alice, amounts); err != nil {
		return err
	}
	if err := f.Attach(); err != nil {
		return err
	}

	balances := f.Balances()
	debt := f.Keeper.Debt()
	acted, receipt, err := f.UpdateFromPool()
	if err != nil {
		return err
	}
	if acted {
		return violation("update acted on imbalance %s below %s", delta.Dec(), minAsym.Dec())
	}
	if err := sameBalances(balances, f.Balances()); err != nil {
		return err
	}
	if !f.Keeper.Debt().Eq(debt) {
		return violation("debt moved from %s to %s", debt.Dec(), f.Keeper.Debt().Dec())
	}
	actions, err := KeeperActions(receipt, f.Keeper.Address())
	if err != nil {
		return err
	}
	if len(actions) != 0 {
		return violation("no-op update emitted %d keeper events", len(actions))
	}
	return nil
}

func checkBoundedWithdrawal(r *Run) error {
	minAsym, amount := r.drawThreshold()

	f, err := r.fixture(func(c *FixtureConfig) { c.MinAsymmetry = minAsym })
	if err != nil {
		return err
	}
	if _, err := f.AddLiquidity(f.Accounts.Alice, [2]*uint256.Int{zero, amount}); err != nil {
		return err
	}
	balances := f.Balances()
	held := f.RealBalances()
	debt := f.Keeper.Debt()

	if err := f.Attach(); err != nil {
		return err
	}
	acted, _, err := f.UpdateFromPool()
	if err != nil {
		return err
	}
	if !acted {
		return violation("update did not withdraw")
	}

	want := fifth(amount)
	after := f.Balances()
	afterReal := f.RealBalances()
	if !after[0].Eq(balances[0]) || !afterReal[0].Eq(held[0]) {
		return violation("reference reserve moved from %s to %s", balances[0].Dec(), after[0].Dec())
	}
	if got := new(uint256.Int).Sub(balances[1], after[1]); !got.Eq(want) {
		return violation("pegged reserve fell by %s, want %s", got.Dec(), want.Dec())
	}
	if got := new(uint256.Int).Sub(held[1], afterReal[1]); !got.Eq(want) {
		return violation("pegged held fell by %s, want %s", got.Dec(), want.Dec())
	}
	if got := new(uint256.Int).Sub(debt, f.Keeper.Debt()); !got.Eq(want) {
		return violation("debt fell by %s, want %s", got.Dec(), want.Dec())
	}
	return keeperHoldsNothing(f)
}

func checkDebtCappedWithdrawal(r *Run) error {
	f, err := r.fixture(nil)
	if err != nil {
		return err
	}
	amount := new(uint256.Int).Mul(f.Config.InitialAmount, uint256.NewInt(1000))
	if _, err := f.AddLiquidity(f.Accounts.Alice, [2]*uint256.Int{zero, amount}); err != nil {
		return err
	}
	balances := f.Balances()
	held := f.RealBalances()
	debt := f.Keeper.Debt()

	if err := f.Attach(); err != nil {
		return err
	}
	acted, _, err := f.UpdateFromPool()
	if err != nil {
		return err
	}
	if !acted {
		return violation("update did not withdraw")
	}

	floor := new(uint256.Int).Sub(balances[1], fifth(amount))
	after := f.Balances()
	afterReal := f.RealBalances()
	if !after[0].Eq(balances[0]) || !afterReal[0].Eq(held[0]) {
		return violation("reference reserve moved")
	}
	if !(balances[1].Gt(after[1]) && after[1].Gt(floor)) {
		return violation("pegged reserve %s outside (%s, %s)", after[1].Dec(), floor.Dec(), balances[1].Dec())
	}
	realFloor := new(uint256.Int).Sub(held[1], fifth(amount))
	if !(held[1].Gt(afterReal[1]) && afterReal[1].Gt(realFloor)) {
		return violation("pegged held %s outside (%s, %s)", afterReal[1].Dec(), realFloor.Dec(), held[1].Dec())
	}
	if withdrawn := new(uint256.Int).Sub(balances[1], after[1]); withdrawn.Gt(debt) {
		return violation("withdrew %s with debt %s", withdrawn.Dec(), debt.Dec())
	}
	return keeperHoldsNothing(f)
}

func checkDustExhaustion(r *Run) error {
	f, err := r.fixture(nil)
	if err != nil {
		return err
	}
	alice := f.Accounts.Alice
	amount := new(uint256.Int).Mul(new(uint256.Int).SubUint64(f.Config.InitialAmount, 1), uint256.NewInt(pegkeeper.ImbalanceDivisor))

	if err := f.Attach(); err != nil {
		return err
	}
	before := f.Balances()
	if _, err := f.AddLiquidity(alice, [2]*uint256.Int{zero, amount}); err != nil {
		return err
	}
	want := new(uint256.Int).Sub(new(uint256.Int).Add(before[1], amount), fifth(amount))
	if got := f.Balances()[1]; !got.Eq(want) {
		return violation("pegged reserve %s after hooked withdraw, want %s", got.Dec(), want.Dec())
	}
	if err := f.Detach(); err != nil {
		return err
	}

	balances := f.Balances()
	excess := new(uint256.Int).Sub(balances[1], balances[0])
	if _, err := f.RemoveLiquidityImbalance(alice, [2]*uint256.Int{zero, excess}, nil); err != nil {
		return err
	}
	if balances = f.Balances(); !balances[0].Eq(balances[1]) {
		return violation("pool not rebalanced: %s vs %s", balances[0].Dec(), balances[1].Dec())
	}

	if _, err := f.AddLiquidity(alice, [2]*uint256.Int{zero, amount}); err != nil {
		return err
	}
	if err := f.Attach(); err != nil {
		return err
	}
	balances = f.Balances()
	acted, receipt, err := f.UpdateFromPool()
	if err != nil {
		return err
	}
	if acted {
		return violation("update acted on dust debt %s", f.Keeper.Debt().Dec())
	}
	if err := sameBalances(balances, f.Balances()); err != nil {
		return err
	}
	if transfers := receiptTransfers(receipt); transfers != 0 {
		return violation("dust update made %d transfers", transfers)
	}
	return nil
}

func checkBalanceConservation(r *Run) error {
	f, err := r.fixture(nil)
	if err != nil {
		return err
	}
	if err := f.Attach(); err != nil {
		return err
	}
	alice := f.Accounts.Alice
	steps := 4 + r.Rand.Intn(4)
	step := Uint256Range(pow10(18), pow10(23))
	for i := 0; i < steps; i++ {
		amount := r.draw(fmt.Sprintf("step%d", i), step)
		amounts := [2]*uint256.Int{zero, zero}
		amounts[r.coin(fmt.Sprintf("side%d", i))] = amount

		if r.Rand.Intn(3) == 0 {
			_, err = f.RemoveLiquidityImbalance(alice, amounts, nil)
		} else {
			_, err = f.AddLiquidity(alice, amounts)
		}
		if err != nil {
			return err
		}
		if err := keeperHoldsNothing(f); err != nil {
			return err
		}
		if _, _, err := f.UpdateFromPool(); err != nil {
			return err
		}
		if err := keeperHoldsNothing(f); err != nil {
			return err
		}
	}
	if f.Keeper.Debt().Gt(f.Keeper.TotalMinted()) {
		return violation("debt %s above total minted %s", f.Keeper.Debt().Dec(), f.Keeper.TotalMinted().Dec())
	}
	return nil
}

func checkEventCorrectness(r *Run) error {
	amount := r.draw("amount", Uint256Range(sampleLow, sampleHigh))
	side := r.coin("side")

	f, err := r.fixture(nil)
	if err != nil {
		return err
	}
	if err := f.Attach(); err != nil {
		return err
	}
	before := f.Balances()
	amounts := [2]*uint256.Int{zero, zero}
	amounts[side] = amount
	receipt, err := f.AddLiquidity(f.Accounts.Alice, amounts)
	if err != nil {
		return err
	}

	actions, err := KeeperActions(receipt, f.Keeper.Address())
	if err != nil {
		return err
	}
	if len(actions) != 1 {
		return violation("got %d keeper events, want 1", len(actions))
	}
	action := actions[0]
	after := f.Balances()[1]
	deposited := new(uint256.Int).Add(before[1], amounts[1])

	switch action.Name {
	case "Withdraw":
		if side != 1 {
			return violation("withdraw after a reference deposit")
		}
		if got := new(uint256.Int).Sub(deposited, after); !got.Eq(action.Amount) {
			return violation("Withdraw(%s) but pool moved %s", action.Amount.Dec(), got.Dec())
		}
	case "Provide":
		if side != 0 {
			return violation("provide after a pegged deposit")
		}
		if got := new(uint256.Int).Sub(after, deposited); !got.Eq(action.Amount) {
			return violation("Provide(%s) but pool moved %s", action.Amount.Dec(), got.Dec())
		}
	default:
		return violation("unexpected keeper event %s", action.Name)
	}
	if want := fifth(amount); !action.Amount.Eq(want) {
		return violation("%s(%s), want %s", action.Name, action.Amount.Dec(), want.Dec())
	}
	return nil
}

func checkProvideSymmetry(r *Run) error {
	minAsym, amount := r.drawThreshold()

	f, err := r.fixture(func(c *FixtureConfig) { c.MinAsymmetry = minAsym })
	if err != nil {
		return err
	}
	if _, err := f.AddLiquidity(f.Accounts.Alice, [2]*uint256.Int{amount, zero}); err != nil {
		return err
	}
	balances := f.Balances()
	debt := f.Keeper.Debt()
	minted := f.Keeper.TotalMinted()

	if err := f.Attach(); err != nil {
		return err
	}
	acted, _, err := f.UpdateFromPool()
	if err != nil {
		return err
	}
	if !acted {
		return violation("update did not provide")
	}

	want := fifth(amount)
	after := f.Balances()
	if !after[0].Eq(balances[0]) {
		return violation("reference reserve moved from %s to %s", balances[0].Dec(), after[0].Dec())
	}
	if got := new(uint256.Int).Sub(after[1], balances[1]); !got.Eq(want) {
		return violation("pegged reserve grew by %s, want %s", got.Dec(), want.Dec())
	}
	if got := new(uint256.Int).Sub(f.Keeper.Debt(), debt); !got.Eq(want) {
		return violation("debt grew by %s, want %s", got.Dec(), want.Dec())
	}
	if got := new(uint256.Int).Sub(f.Keeper.TotalMinted(), minted); !got.Eq(want) {
		return violation("total minted grew by %s, want %s", got.Dec(), want.Dec())
	}
	return keeperHoldsNothing(f)
}

func checkAccessControl(r *Run) error {
	f, err := r.fixture(nil)
	if err != nil {
		return err
	}
	alice := f.Accounts.Alice

	switch r.Variant {
	case pegkeeper.VariantTemplate:
		if _, _, err := f.UpdateFromPool(); !errors.Is(err, ledger.ErrUnauthorized) {
			return violation("detached template accepted the pool: %v", err)
		}
		if err := f.Attach(); err != nil {
			return err
		}
		if _, _, err := f.Update(alice); !errors.Is(err, ledger.ErrUnauthorized) {
			return violation("template accepted %s: %v", alice.Hex(), err)
		}
		if _, _, err := f.UpdateFromPool(); err != nil {
			return violation("attached template rejected the pool: %v", err)
		}
	case pegkeeper.VariantPluggableOptimized:
		if _, _, err := f.Update(alice); err != nil {
			return violation("open pluggable rejected %s: %v", alice.Hex(), err)
		}
		gated, err := r.fixture(func(c *FixtureConfig) { c.WithUpdater = true })
		if err != nil {
			return err
		}
		if _, _, err := gated.Update(alice); !errors.Is(err, ledger.ErrUnauthorized) {
			return violation("gated pluggable accepted %s: %v", alice.Hex(), err)
		}
		if _, _, err := gated.Update(gated.Accounts.Charlie); err != nil {
			return violation("gated pluggable rejected its updater: %v", err)
		}
		if _, _, err := gated.UpdateFromPool(); err != nil {
			return violation("gated pluggable rejected the pool: %v", err)
		}
	}

	if _, err := f.Chain.Transact(alice, func(tx *ledger.Tx) error {
		return f.Pegged.Mint(tx, alice, pow10(18))
	}); !errors.Is(err, ledger.ErrUnauthorized) {
		return violation("non-minter minted: %v", err)
	}
	if _, err := f.Chain.Transact(f.Accounts.Bob, func(tx *ledger.Tx) error {
		return f.Pool.SetPegKeeper(tx, nil)
	}); !errors.Is(err, ledger.ErrUnauthorized) {
		return violation("non-owner set the peg keeper: %v", err)
	}
	return nil
}

var errAbort = errors.New("abort")

func checkAtomicity(r *Run) error {
	f, err := r.fixture(nil)
	if err != nil {
		return err
	}
	alice := f.Accounts.Alice
	if _, err := f.AddLiquidity(alice, [2]*uint256.Int{zero, pow10(22)}); err != nil {
		return err
	}
	if err := f.Attach(); err != nil {
		return err
	}

	balances := f.Balances()
	debt := f.Keeper.Debt()
	logs := len(f.Chain.Logs())
	aliceLP := f.Pool.LPToken().BalanceOf(alice)

	var acted bool
	_, err = f.Chain.Transact(f.Pool.Address(), func(tx *ledger.Tx) error {
		var err error
		if acted, err = f.Keeper.Update(tx); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		return fmt.Errorf("aborted update: %w", err)
	}
	if !acted {
		return violation("update inside the aborted transaction did not act")
	}
	if _, err := f.RemoveLiquidityImbalance(alice, [2]*uint256.Int{zero, pow10(21)}, uint256.NewInt(1)); err == nil {
		return violation("remove with max burn 1 succeeded")
	}

	if err := sameBalances(balances, f.Balances()); err != nil {
		return err
	}
	if !f.Keeper.Debt().Eq(debt) {
		return violation("debt moved from %s to %s", debt.Dec(), f.Keeper.Debt().Dec())
	}
	if got := len(f.Chain.Logs()); got != logs {
		return violation("%d logs committed by reverted transactions", got-logs)
	}
	if !f.Pool.LPToken().BalanceOf(alice).Eq(aliceLP) {
		return violation("lp balance moved")
	}
	return keeperHoldsNothing(f)
}

func checkEndToEnd(r *Run) error {
	f, err := r.fixture(nil)
	if err != nil {
		return err
	}
	balances := f.Balances()
	if !balances[0].Eq(balances[1]) {
		return violation("fixture pool unbalanced: %s vs %s", balances[0].Dec(), balances[1].Dec())
	}
	amount := pow10(22)
	if _, err := f.AddLiquidity(f.Accounts.Alice, [2]*uint256.Int{zero, amount}); err != nil {
		return err
	}
	balances = f.Balances()
	if err := f.Attach(); err != nil {
		return err
	}
	acted, _, err := f.UpdateFromPool()
	if err != nil {
		return err
	}
	if !acted {
		return violation("update did not withdraw")
	}
	after := f.Balances()
	want := new(uint256.Int).Mul(uint256.NewInt(2), pow10(21))
	if got := new(uint256.Int).Sub(balances[1], after[1]); !got.Eq(want) {
		return violation("pegged reserve fell by %s, want %s", got.Dec(), want.Dec())
	}
	if !after[0].Eq(balances[0]) {
		return violation("reference reserve moved")
	}
	if err := keeperHoldsNothing(f); err != nil {
		return err
	}

	hooked, err := r.fixture(nil)
	if err != nil {
		return err
	}
	if err := hooked.Attach(); err != nil {
		return err
	}
	initial := hooked.Config.InitialAmount
	receipt, err := hooked.AddLiquidity(hooked.Accounts.Alice, [2]*uint256.Int{zero, initial})
	if err != nil {
		return err
	}
	actions, err := KeeperActions(receipt, hooked.Keeper.Address())
	if err != nil {
		return err
	}
	if len(actions) != 1 || actions[0].Name != "Withdraw" || !actions[0].Amount.Eq(fifth(initial)) {
		return violation("hooked add_liquidity emitted %v, want Withdraw(%s)", actions, fifth(initial).Dec())
	}
	return nil
}

// KeeperAction is a decoded Provide or Withdraw event.
type KeeperAction struct {
	Name   string
	Amount *uint256.Int
}

func (a KeeperAction) String() string {
	return a.Name + "(" + a.Amount.Dec() + ")"
}

// KeeperActions decodes the keeper's Provide and Withdraw events in receipt.
func KeeperActions(receipt *ledger.Receipt, keeper common.Address) ([]KeeperAction, error) {
	parsed, err := contracts.PegKeeperABI()
	if err != nil {
		return nil, err
	}
	out := make([]KeeperAction, 0)
	for _, name := range []string{"Provide", "Withdraw"} {
		event := parsed.Events[name]
		for _, log := range receipt.Filter(keeper, event.ID) {
			values, err := parsed.Unpack(name, log.Data)
			if err != nil {
				return nil, fmt.Errorf("unpack %s: %w", name, err)
			}
			amount, ok := values[0].(*big.Int)
			if !ok {
				return nil, fmt.Errorf("unpack %s: unexpected %T", name, values[0])
			}
			value, _ := uint256.FromBig(amount)
			out = append(out, KeeperAction{Name: name, Amount: value})
		}
	}
	return out, nil
}

func receiptTransfers(receipt *ledger.Receipt) int {
	if receipt == nil {
		return 0
	}
	topic := contracts.MustERC20ABI().Events["Transfer"].ID
	n := 0
	for _, log := range receipt.Logs {
		if len(log.Topics) > 0 && log.Topics[0] == topic {
			n++
		}
	}
	return n
}

func keeperHoldsNothing(f *Fixture) error {
	held := f.KeeperBalances()
	if !held[0].IsZero() || !held[1].IsZero() {
		return violation("keeper holds %s reference and %s pegged", held[0].Dec(), held[1].Dec())
	}
	return nil
}

func sameBalances(before, after [2]*uint256.Int) error {
	for i := range before {
		if !before[i].Eq(after[i]) {
			return violation("reserve %d moved from %s to %s", i, before[i].Dec(), after[i].Dec())
		}
	}
	return nil
}

func maxUint(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return a
	}
	return b
}

func fifth(v *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(v, uint256.NewInt(pegkeeper.ImbalanceDivisor))
}
