package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Role names a privilege scoped to one contract.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleMinter    Role = "minter"
	RolePegKeeper Role = "peg_keeper"
	RoleUpdater   Role = "updater"
)

type roleMember struct {
	contract common.Address
	role     Role
	account  common.Address
}

// Roles maps (contract, role) to the set of authorized principals. Every
// privileged entry point checks it.
type Roles struct {
	members map[roleMember]struct{}
}

func newRoles() *Roles {
	return &Roles{members: make(map[roleMember]struct{})}
}

// Has reports whether account holds role on contract.
func (r *Roles) Has(contract common.Address, role Role, account common.Address) bool {
	_, ok := r.members[roleMember{contract: contract, role: role, account: account}]
	return ok
}

// Require returns ErrUnauthorized unless account holds role on contract.
func (r *Roles) Require(contract common.Address, role Role, account common.Address) error {
	if r.Has(contract, role, account) {
		return nil
	}
	return fmt.Errorf("%w: %s is not %s of %s", ErrUnauthorized, account.Hex(), role, contract.Hex())
}

// Grant adds account to the role set.
func (r *Roles) Grant(tx *Tx, contract common.Address, role Role, account common.Address) {
	SetMapValue(tx, r.members, roleMember{contract: contract, role: role, account: account}, struct{}{})
}

// Revoke removes account from the role set.
func (r *Roles) Revoke(tx *Tx, contract common.Address, role Role, account common.Address) {
	DeleteMapValue(tx, r.members, roleMember{contract: contract, role: role, account: account})
}

// Replace makes account the only holder of role. The zero address clears
// the role.
func (r *Roles) Replace(tx *Tx, contract common.Address, role Role, account common.Address) {
	for _, member := range r.Members(contract, role) {
		r.Revoke(tx, contract, role, member)
	}
	if account != (common.Address{}) {
		r.Grant(tx, contract, role, account)
	}
}

// Members returns the holders of role sorted by address.
func (r *Roles) Members(contract common.Address, role Role) []common.Address {
	out := make([]common.Address, 0)
	for member := range r.members {
		if member.contract == contract && member.role == role {
			out = append(out, member.account)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0
	})
	return out
}
