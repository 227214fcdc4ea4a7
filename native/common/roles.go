package common

import (
	"errors"
	"sync"

	"lendmesh/crypto"
)

// Role identifies a protocol permission class. Mutating operations consult the
// role policy before touching state.
type Role string

const (
	// RoleManager may update protocol and asset configuration.
	RoleManager Role = "manager"
	// RoleProtocol marks the core ledger when calling into the vault.
	RoleProtocol Role = "protocol"
	// RolePauser may toggle the global kill switch.
	RolePauser Role = "pauser"
	// RoleUpgrader may schedule implementation upgrades.
	RoleUpgrader Role = "upgrader"
)

var ErrUnauthorized = errors.New("caller lacks required role")

// RoleView answers whether an address currently holds a role.
type RoleView interface {
	HasRole(role Role, addr crypto.Address) bool
}

// RequireRole verifies the caller holds the role. A nil view denies everything
// except when no policy was configured at all, which is treated as a wiring
// error by returning ErrUnauthorized.
func RequireRole(view RoleView, role Role, caller crypto.Address) error {
	if view == nil {
		return ErrUnauthorized
	}
	if !view.HasRole(role, caller) {
		return ErrUnauthorized
	}
	return nil
}

// RoleSet is an in-memory RoleView used by tests and single-process
// deployments. Grants may change while request handlers consult HasRole, so
// access is guarded.
type RoleSet struct {
	mu     sync.RWMutex
	grants map[Role]map[string]struct{}
}

func NewRoleSet() *RoleSet {
	return &RoleSet{grants: make(map[Role]map[string]struct{})}
}

// Grant records the role for the address.
func (r *RoleSet) Grant(role Role, addr crypto.Address) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grants == nil {
		r.grants = make(map[Role]map[string]struct{})
	}
	bucket, ok := r.grants[role]
	if !ok {
		bucket = make(map[string]struct{})
		r.grants[role] = bucket
	}
	bucket[string(addr.Bytes())] = struct{}{}
}

// Revoke removes the role from the address.
func (r *RoleSet) Revoke(role Role, addr crypto.Address) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if bucket, ok := r.grants[role]; ok {
		delete(bucket, string(addr.Bytes()))
	}
}

// HasRole implements RoleView.
func (r *RoleSet) HasRole(role Role, addr crypto.Address) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.grants == nil {
		return false
	}
	bucket, ok := r.grants[role]
	if !ok {
		return false
	}
	_, ok = bucket[string(addr.Bytes())]
	return ok
}
