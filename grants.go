package gtmi

import (
	"context"
	"fmt"
	"strings"
)

// Permission catalog keys seeded for every tenant.
const (
	PermWildcard            = "*"
	PermRequestCreate       = "requests.create"
	PermRequestView         = "requests.view"
	PermRequestApprove      = "requests.approve"
	PermRequestReject       = "requests.reject"
	PermRequestFinalApprove = "requests.final_approve"
	PermRequestFinalReject  = "requests.final_reject"
	PermRequestFulfill      = "requests.fulfill"
	PermStatusChange        = "requests.status_change"
	PermUnitAcquire         = "units.acquire"
	PermUnitReturn          = "units.return"
	PermUnitRepair          = "units.repair"
	PermUnitSubstitute      = "units.substitute"
	PermStockView           = "stock.view"
	PermStockReceive        = "stock.receive"
	PermRolesManage         = "roles.manage"
)

// Grant is one resolved permission, optionally scoped to a requesting service.
type Grant struct {
	Key     string `json:"key"`
	ScopeID *uint  `json:"requestingServiceId"`
}

// ResolveGrants computes the set of permissions a user currently holds.
//
// ADMIN users get a single wildcard grant and skip resolution entirely. For
// everyone else, each active role assignment whose window contains now is
// expanded into one grant per (permission, assignment scope) pair. The same
// permission held through assignments with different scopes yields one grant
// per scope.
func (s *Service) ResolveGrants(ctx context.Context, user *User) ([]Grant, error) {
	if user == nil {
		return nil, ErrUnauthorized
	}
	if user.Role == RoleAdmin {
		return []Grant{{Key: PermWildcard}}, nil
	}

	if grants, ok := s.cachedGrants(ctx, user.TenantID, user.ID); ok {
		return grants, nil
	}

	if err := s.EnsureTenantCatalog(ctx, user.TenantID); err != nil {
		return nil, err
	}

	now := s.now()
	var assignments []UserRoleAssignment
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND is_active = ?", user.TenantID, user.ID, true).
		Where("starts_at IS NULL OR starts_at <= ?", now).
		Where("ends_at IS NULL OR ends_at > ?", now).
		Find(&assignments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch role assignments: %w", err)
	}

	if len(assignments) == 0 {
		return []Grant{}, nil
	}

	roleIDs := make([]uint, 0, len(assignments))
	for _, a := range assignments {
		roleIDs = append(roleIDs, a.RoleID)
	}

	var rolePerms []RolePermission
	if err := s.db.WithContext(ctx).Where("role_id IN ?", roleIDs).Find(&rolePerms).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch role permissions: %w", err)
	}

	permIDs := make([]uint, 0, len(rolePerms))
	for _, rp := range rolePerms {
		permIDs = append(permIDs, rp.PermissionID)
	}

	var perms []AccessPermission
	if len(permIDs) > 0 {
		if err := s.db.WithContext(ctx).Where("id IN ?", permIDs).Find(&perms).Error; err != nil {
			return nil, fmt.Errorf("failed to fetch permissions: %w", err)
		}
	}

	keysByRole := make(map[uint][]string)
	keyByPermID := make(map[uint]string, len(perms))
	for _, p := range perms {
		keyByPermID[p.ID] = p.Key
	}
	for _, rp := range rolePerms {
		if key, ok := keyByPermID[rp.PermissionID]; ok {
			keysByRole[rp.RoleID] = append(keysByRole[rp.RoleID], key)
		}
	}

	grants := make([]Grant, 0, len(rolePerms))
	seen := make(map[string]struct{})
	for _, a := range assignments {
		for _, key := range keysByRole[a.RoleID] {
			dedup := key
			if a.RequestingServiceID != nil {
				dedup = fmt.Sprintf("%s@%d", key, *a.RequestingServiceID)
			}
			if _, exists := seen[dedup]; exists {
				continue
			}
			seen[dedup] = struct{}{}
			grants = append(grants, Grant{Key: key, ScopeID: a.RequestingServiceID})
		}
	}

	s.setCachedGrants(ctx, user.TenantID, user.ID, grants)
	return grants, nil
}

// HasPermission reports whether the resolved grants authorize key for the
// requested scope. A wildcard grant authorizes unconditionally; a nil-scope
// grant authorizes the key for any requested scope; a scoped grant matches
// only its exact scope. No hierarchical scope matching.
func HasPermission(grants []Grant, key string, scope *uint) bool {
	for _, g := range grants {
		if g.Key == PermWildcard {
			return true
		}
		if g.Key != key {
			continue
		}
		if g.ScopeID == nil {
			return true
		}
		if scope != nil && *g.ScopeID == *scope {
			return true
		}
	}
	return false
}

// IsFinalPermission reports whether key names a final decision, which is only
// authorized by an unscoped or wildcard grant.
func IsFinalPermission(key string) bool {
	return strings.Contains(key, ".final_")
}

// CheckPermission resolves the actor's grants and verifies key for scope,
// ignoring the requested scope for final-decision keys.
func (s *Service) CheckPermission(ctx context.Context, actor *User, key string, scope *uint) error {
	grants, err := s.ResolveGrants(ctx, actor)
	if err != nil {
		return err
	}
	if IsFinalPermission(key) {
		scope = nil
	}
	if !HasPermission(grants, key, scope) {
		return fmt.Errorf("%w: missing %s", ErrForbidden, key)
	}
	return nil
}
