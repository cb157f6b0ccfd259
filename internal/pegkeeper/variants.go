package pegkeeper

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/seanpm2001/curve-stable-peg/internal/ledger"
)

// Variant names a keeper flavour.
type Variant string

const (
	// VariantTemplate is driven by the pool it is attached to.
	VariantTemplate Variant = "template"
	// VariantPluggableOptimized is driven by anyone, or by its updater.
	VariantPluggableOptimized Variant = "pluggable-optimized"
)

// DefaultVariants is the variant list used when none is configured.
const DefaultVariants = "template,pluggable-optimized"

var registry = map[Variant]func(*core) Keeper{
	VariantTemplate:           func(c *core) Keeper { return &templateKeeper{core: c} },
	VariantPluggableOptimized: func(c *core) Keeper { return &pluggableKeeper{core: c} },
}

// Variants returns the known variants sorted by name.
func Variants() []Variant {
	out := make([]Variant, 0, len(registry))
	for v := range registry {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseVariant validates a variant name.
func ParseVariant(name string) (Variant, error) {
	v := Variant(strings.TrimSpace(name))
	if _, ok := registry[v]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
	return v, nil
}

// ParseVariants parses a comma separated variant list, keeping order and
// dropping duplicates.
func ParseVariants(list string) ([]Variant, error) {
	seen := make(map[Variant]struct{})
	out := make([]Variant, 0)
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		v, err := ParseVariant(part)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrUnknownVariant)
	}
	return out, nil
}

// Deploy creates a keeper of the given variant, owned by the caller. The
// pegged asset admin still has to grant it the minter role.
func Deploy(tx *ledger.Tx, variant Variant, params Params) (Keeper, error) {
	build, ok := registry[variant]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
	if params.Updater != (common.Address{}) && variant != VariantPluggableOptimized {
		return nil, fmt.Errorf("%w: %s keepers have no updater", ErrInvalidParams, variant)
	}
	c, err := newCore(tx, params)
	if err != nil {
		return nil, err
	}
	if params.Updater != (common.Address{}) {
		tx.Roles().Grant(tx, c.address, ledger.RoleUpdater, params.Updater)
	}
	c.logger.Debug("peg keeper deployed",
		zap.String("variant", string(variant)),
		zap.String("keeper", c.address.Hex()),
		zap.String("pool", c.pool.Address().Hex()),
		zap.String("min_asymmetry", c.minAsymmetry.Dec()),
	)
	return build(c), nil
}

type templateKeeper struct {
	*core
}

func (k *templateKeeper) Variant() Variant { return VariantTemplate }

// Update only accepts the pool, and only while this keeper is attached.
func (k *templateKeeper) Update(tx *ledger.Tx) (bool, error) {
	if tx.Caller() != k.pool.Address() {
		return false, fmt.Errorf("%w: %s is not the pool", ledger.ErrUnauthorized, tx.Caller().Hex())
	}
	if err := tx.Roles().Require(k.pool.Address(), ledger.RolePegKeeper, k.address); err != nil {
		return false, err
	}
	return k.update(tx), nil
}

type pluggableKeeper struct {
	*core
}

func (k *pluggableKeeper) Variant() Variant { return VariantPluggableOptimized }

// Update accepts anyone unless an updater is set, in which case only the
// updater and the pool may call.
func (k *pluggableKeeper) Update(tx *ledger.Tx) (bool, error) {
	roles := tx.Roles()
	if len(roles.Members(k.address, ledger.RoleUpdater)) > 0 &&
		tx.Caller() != k.pool.Address() &&
		!roles.Has(k.address, ledger.RoleUpdater, tx.Caller()) {
		return false, fmt.Errorf("%w: %s is not the updater", ledger.ErrUnauthorized, tx.Caller().Hex())
	}
	return k.update(tx), nil
}

// SetUpdater replaces the updater. The zero address opens update to anyone.
// Admin only.
func (k *pluggableKeeper) SetUpdater(tx *ledger.Tx, updater common.Address) error {
	if err := tx.Roles().Require(k.address, ledger.RoleAdmin, tx.Caller()); err != nil {
		return err
	}
	tx.Roles().Replace(tx, k.address, ledger.RoleUpdater, updater)
	return nil
}

// UpdaterSetter is implemented by variants with a configurable updater.
type UpdaterSetter interface {
	SetUpdater(tx *ledger.Tx, updater common.Address) error
}
