package access

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Role is a named permission grouping.
type Role string

const (
	// RoleDefaultAdmin administers every role that has no explicit admin.
	RoleDefaultAdmin Role = "default_admin"

	// RoleLiquidator may execute liquidations.
	RoleLiquidator Role = "liquidator"

	// RoleResolverAdmin may mutate the module-address cache.
	RoleResolverAdmin Role = "resolver_admin"

	// RoleParamAdmin may change runtime parameters (bonus rate, limits).
	RoleParamAdmin Role = "param_admin"
)

var (
	ErrMissingRole           = errors.New("missing role")
	ErrRoleAlreadyGranted    = errors.New("role already granted")
	ErrRoleNotGranted        = errors.New("role not granted")
	ErrUnauthorizedOperation = errors.New("unauthorized operation")
	ErrInvalidAccount        = errors.New("invalid account")
)

// Controller tracks role membership with enumerable rosters.
//
// Three parallel index structures are kept in lockstep:
//   - members:     (role, account) -> bool, the O(1) membership test
//   - roster:      role -> compact vector of members, for enumeration
//   - memberIndex: (role, account) -> roster position, so removal is a
//     swap-with-last-and-pop instead of a linear scan
//
// plus a reverse index account -> roles. An account appears in a role's
// roster iff members[role][account] is true.
type Controller struct {
	mu           sync.RWMutex
	members      map[Role]map[uuid.UUID]bool
	roster       map[Role][]uuid.UUID
	memberIndex  map[Role]map[uuid.UUID]int
	accountRoles map[uuid.UUID][]Role
	admins       map[Role]Role

	owner  uuid.UUID
	keeper uuid.UUID
}

// NewController seeds the default grants: the owner holds the admin roles,
// the keeper holds the liquidator role.
func NewController(owner, keeper uuid.UUID) (*Controller, error) {
	if owner == uuid.Nil || keeper == uuid.Nil {
		return nil, fmt.Errorf("%w: owner and keeper must be non-zero", ErrInvalidAccount)
	}

	c := &Controller{
		members:      make(map[Role]map[uuid.UUID]bool),
		roster:       make(map[Role][]uuid.UUID),
		memberIndex:  make(map[Role]map[uuid.UUID]int),
		accountRoles: make(map[uuid.UUID][]Role),
		admins:       make(map[Role]Role),
		owner:        owner,
		keeper:       keeper,
	}

	c.grant(RoleDefaultAdmin, owner)
	c.grant(RoleParamAdmin, owner)
	c.grant(RoleResolverAdmin, owner)
	c.grant(RoleLiquidator, keeper)

	return c, nil
}

// Has reports whether account holds role.
func (c *Controller) Has(role Role, account uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.members[role][account]
}

// Require fails with ErrMissingRole if account does not hold role.
func (c *Controller) Require(role Role, account uuid.UUID) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.require(role, account)
}

// RoleAdmin returns the role that administers the given role.
// Roles without an explicit admin are administered by RoleDefaultAdmin.
func (c *Controller) RoleAdmin(role Role) Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roleAdmin(role)
}

// SetRoleAdmin changes the admin role for a role. Only the default admin
// may restructure the hierarchy.
func (c *Controller) SetRoleAdmin(caller uuid.UUID, role, admin Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.require(RoleDefaultAdmin, caller); err != nil {
		return err
	}
	c.admins[role] = admin
	return nil
}

// Grant gives account the role. The caller must hold the role's admin role.
func (c *Controller) Grant(caller uuid.UUID, role Role, account uuid.UUID) error {
	if account == uuid.Nil {
		return fmt.Errorf("%w: cannot grant to zero account", ErrInvalidAccount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.require(c.roleAdmin(role), caller); err != nil {
		return err
	}
	if c.members[role][account] {
		return fmt.Errorf("%w: %q already held by %s", ErrRoleAlreadyGranted, role, account)
	}
	c.grant(role, account)
	return nil
}

// Revoke removes the role from account. The caller must hold the role's
// admin role.
func (c *Controller) Revoke(caller uuid.UUID, role Role, account uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.require(c.roleAdmin(role), caller); err != nil {
		return err
	}
	if !c.members[role][account] {
		return fmt.Errorf("%w: %q not held by %s", ErrRoleNotGranted, role, account)
	}
	c.revoke(role, account)
	return nil
}

// Renounce removes a role from the caller's own account. Renouncing on
// behalf of someone else is not allowed.
func (c *Controller) Renounce(caller uuid.UUID, role Role, account uuid.UUID) error {
	if caller != account {
		return fmt.Errorf("%w: can only renounce own roles", ErrUnauthorizedOperation)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.members[role][account] {
		return fmt.Errorf("%w: %q not held by %s", ErrRoleNotGranted, role, account)
	}
	c.revoke(role, account)
	return nil
}

// MemberCount returns the roster size for role.
func (c *Controller) MemberCount(role Role) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.roster[role])
}

// MemberAt returns the roster entry at index. Index order is not stable
// across removals (swap-and-pop compaction).
func (c *Controller) MemberAt(role Role, index int) (uuid.UUID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	roster := c.roster[role]
	if index < 0 || index >= len(roster) {
		return uuid.Nil, fmt.Errorf("roster index %d out of range for role %q (size %d)", index, role, len(roster))
	}
	return roster[index], nil
}

// RolesOf returns the roles held by account.
func (c *Controller) RolesOf(account uuid.UUID) []Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	roles := c.accountRoles[account]
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// Keeper returns the current keeper account.
func (c *Controller) Keeper() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keeper
}

// SetKeeper rotates the liquidator role from the old keeper to the new one
// as a single step: after it returns the old keeper no longer holds the
// role and the new keeper does.
func (c *Controller) SetKeeper(caller, newKeeper uuid.UUID) error {
	if newKeeper == uuid.Nil {
		return fmt.Errorf("%w: keeper must be non-zero", ErrInvalidAccount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.require(c.roleAdmin(RoleLiquidator), caller); err != nil {
		return err
	}
	if newKeeper == c.keeper {
		return fmt.Errorf("%w: %s is already the keeper", ErrRoleAlreadyGranted, newKeeper)
	}

	if c.members[RoleLiquidator][c.keeper] {
		c.revoke(RoleLiquidator, c.keeper)
	}
	if !c.members[RoleLiquidator][newKeeper] {
		c.grant(RoleLiquidator, newKeeper)
	}
	c.keeper = newKeeper
	return nil
}

func (c *Controller) require(role Role, account uuid.UUID) error {
	if !c.members[role][account] {
		return fmt.Errorf("%w: account %s lacks role %q", ErrMissingRole, account, role)
	}
	return nil
}

func (c *Controller) roleAdmin(role Role) Role {
	if admin, ok := c.admins[role]; ok {
		return admin
	}
	return RoleDefaultAdmin
}

func (c *Controller) grant(role Role, account uuid.UUID) {
	if c.members[role] == nil {
		c.members[role] = make(map[uuid.UUID]bool)
		c.memberIndex[role] = make(map[uuid.UUID]int)
	}
	c.members[role][account] = true
	c.memberIndex[role][account] = len(c.roster[role])
	c.roster[role] = append(c.roster[role], account)
	c.accountRoles[account] = append(c.accountRoles[account], role)
}

func (c *Controller) revoke(role Role, account uuid.UUID) {
	delete(c.members[role], account)

	// Swap-with-last-and-pop keeps the roster compact.
	roster := c.roster[role]
	idx := c.memberIndex[role][account]
	last := len(roster) - 1
	if idx != last {
		roster[idx] = roster[last]
		c.memberIndex[role][roster[idx]] = idx
	}
	c.roster[role] = roster[:last]
	delete(c.memberIndex[role], account)

	// Reverse index uses the same compaction.
	roles := c.accountRoles[account]
	for i, r := range roles {
		if r == role {
			roles[i] = roles[len(roles)-1]
			c.accountRoles[account] = roles[:len(roles)-1]
			break
		}
	}
	if len(c.accountRoles[account]) == 0 {
		delete(c.accountRoles, account)
	}
}
