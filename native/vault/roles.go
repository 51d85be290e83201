package vault

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Role is a capability bit checked before managed vault operations.
type Role uint32

const (
	RoleAddStrategyManager Role = 1 << iota
	RoleRevokeStrategyManager
	RoleForceRevokeManager
	RoleAccountantManager
	RoleQueueManager
	RoleReportingManager
	RoleDebtManager
	RoleMaxDebtManager
	RoleDepositLimitManager
	RoleWithdrawLimitManager
	RoleMinimumIdleManager
	RoleProfitUnlockManager
	RoleDebtPurchaser
	RoleEmergencyManager

	RoleAll Role = 1<<14 - 1
)

var roleNames = map[Role]string{
	RoleAddStrategyManager:    "ADD_STRATEGY_MANAGER",
	RoleRevokeStrategyManager: "REVOKE_STRATEGY_MANAGER",
	RoleForceRevokeManager:    "FORCE_REVOKE_MANAGER",
	RoleAccountantManager:     "ACCOUNTANT_MANAGER",
	RoleQueueManager:          "QUEUE_MANAGER",
	RoleReportingManager:      "REPORTING_MANAGER",
	RoleDebtManager:           "DEBT_MANAGER",
	RoleMaxDebtManager:        "MAX_DEBT_MANAGER",
	RoleDepositLimitManager:   "DEPOSIT_LIMIT_MANAGER",
	RoleWithdrawLimitManager:  "WITHDRAW_LIMIT_MANAGER",
	RoleMinimumIdleManager:    "MINIMUM_IDLE_MANAGER",
	RoleProfitUnlockManager:   "PROFIT_UNLOCK_MANAGER",
	RoleDebtPurchaser:         "DEBT_PURCHASER",
	RoleEmergencyManager:      "EMERGENCY_MANAGER",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	names := make([]string, 0, len(roleNames))
	for bit, name := range roleNames {
		if r&bit != 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

// ParseRole resolves a role name such as "DEBT_MANAGER". "ALL" grants every
// role.
func ParseRole(name string) (Role, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	if normalized == "ALL" {
		return RoleAll, nil
	}
	for role, candidate := range roleNames {
		if candidate == normalized {
			return role, nil
		}
	}
	return 0, fmt.Errorf("vault: unknown role %q", name)
}

// RoleView answers capability checks for the engine.
type RoleView interface {
	HasRole(actor common.Address, role Role) bool
}

// RoleSet is an in-memory RoleView. Open roles are granted to every caller.
type RoleSet struct {
	mu    sync.RWMutex
	roles map[common.Address]Role
	open  Role
}

// NewRoleSet returns an empty role set.
func NewRoleSet() *RoleSet {
	return &RoleSet{roles: make(map[common.Address]Role)}
}

// Grant adds roles to actor.
func (s *RoleSet) Grant(actor common.Address, roles Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[actor] |= roles
}

// Revoke removes roles from actor.
func (s *RoleSet) Revoke(actor common.Address, roles Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.roles[actor] &^ roles
	if remaining == 0 {
		delete(s.roles, actor)
		return
	}
	s.roles[actor] = remaining
}

// SetOpen toggles whether roles are open to every caller.
func (s *RoleSet) SetOpen(roles Role, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if open {
		s.open |= roles
		return
	}
	s.open &^= roles
}

// Roles returns the roles held by actor, excluding open roles.
func (s *RoleSet) Roles(actor common.Address) Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[actor]
}

// HasRole implements RoleView.
func (s *RoleSet) HasRole(actor common.Address, role Role) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.open&role == role {
		return true
	}
	return s.roles[actor]&role == role
}
