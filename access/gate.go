package access

import (
	"errors"
	"fmt"
	"sync"
)

// Role identifiers recognised by the gate. The three roles are disjoint by
// construction: an address may hold the dispute-handler or fee-admin role but
// never both.
const (
	RoleAdmin          = "ROLE_ADMIN"
	RoleDisputeHandler = "ROLE_DISPUTE_HANDLER"
	RoleFeeAdmin       = "ROLE_FEE_ADMIN"
)

var (
	// ErrUnauthorized signals a caller-identity problem: the caller does not
	// hold the role the operation requires.
	ErrUnauthorized = errors.New("access: caller lacks required role")
	// ErrZeroAddress rejects the zero identity in any role position.
	ErrZeroAddress = errors.New("access: zero address")
	// ErrRoleCollision rejects configurations where the dispute handler and
	// fee admin share an identity, or a role collides with the token ledger
	// identity.
	ErrRoleCollision = errors.New("access: role collision")
	// ErrUnknownRole rejects role identifiers outside the fixed three-role
	// model.
	ErrUnknownRole = errors.New("access: unknown role")
	// ErrLastAdmin rejects revoking the final admin, which would orphan role
	// administration.
	ErrLastAdmin = errors.New("access: cannot revoke last admin")
)

// Gate answers "does caller C hold role R" queries and owns role membership.
// Every gated engine operation consults the gate before touching state.
type Gate struct {
	mu    sync.RWMutex
	roles map[string]map[[20]byte]struct{}
	// reserved identities that may never hold a role, e.g. the token vault.
	reserved map[[20]byte]struct{}
}

// NewGate builds a gate with the initial three-role assignment. The admin,
// dispute handler and fee admin must all be non-zero, the dispute handler and
// fee admin must differ, and no role may collide with the reserved token
// ledger identity.
func NewGate(admin, disputeHandler, feeAdmin, tokenVault [20]byte) (*Gate, error) {
	var zero [20]byte
	for _, addr := range [][20]byte{admin, disputeHandler, feeAdmin} {
		if addr == zero {
			return nil, ErrZeroAddress
		}
	}
	if disputeHandler == feeAdmin {
		return nil, fmt.Errorf("%w: dispute handler and fee admin share an address", ErrRoleCollision)
	}
	if tokenVault != zero {
		for _, addr := range [][20]byte{admin, disputeHandler, feeAdmin} {
			if addr == tokenVault {
				return nil, fmt.Errorf("%w: role assigned to token vault address", ErrRoleCollision)
			}
		}
	}
	g := &Gate{
		roles: map[string]map[[20]byte]struct{}{
			RoleAdmin:          {admin: {}},
			RoleDisputeHandler: {disputeHandler: {}},
			RoleFeeAdmin:       {feeAdmin: {}},
		},
		reserved: map[[20]byte]struct{}{},
	}
	if tokenVault != zero {
		g.reserved[tokenVault] = struct{}{}
	}
	return g, nil
}

// HasRole reports whether addr currently holds the supplied role.
func (g *Gate) HasRole(role string, addr [20]byte) bool {
	if g == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	members, ok := g.roles[role]
	if !ok {
		return false
	}
	_, held := members[addr]
	return held
}

// Grant adds addr to the supplied role. Only an admin may grant roles, and the
// dispute-handler/fee-admin disjointness invariant is preserved.
func (g *Gate) Grant(caller [20]byte, role string, addr [20]byte) error {
	var zero [20]byte
	if addr == zero {
		return ErrZeroAddress
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.roles[RoleAdmin][caller]; !held {
		return ErrUnauthorized
	}
	members, ok := g.roles[role]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	if _, isReserved := g.reserved[addr]; isReserved {
		return fmt.Errorf("%w: role assigned to token vault address", ErrRoleCollision)
	}
	switch role {
	case RoleDisputeHandler:
		if _, held := g.roles[RoleFeeAdmin][addr]; held {
			return fmt.Errorf("%w: address already holds fee admin", ErrRoleCollision)
		}
	case RoleFeeAdmin:
		if _, held := g.roles[RoleDisputeHandler][addr]; held {
			return fmt.Errorf("%w: address already holds dispute handler", ErrRoleCollision)
		}
	}
	members[addr] = struct{}{}
	return nil
}

// Revoke removes addr from the supplied role. Only an admin may revoke roles.
// The last admin cannot be revoked.
func (g *Gate) Revoke(caller [20]byte, role string, addr [20]byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.roles[RoleAdmin][caller]; !held {
		return ErrUnauthorized
	}
	members, ok := g.roles[role]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	if role == RoleAdmin && len(members) == 1 {
		if _, held := members[addr]; held {
			return ErrLastAdmin
		}
	}
	delete(members, addr)
	return nil
}
