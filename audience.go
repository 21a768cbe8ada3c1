package gtmi

import (
	"context"
	"fmt"
)

// UsersHoldingPermission fetches IDs of users whose active assignments grant
// a permission key for the given scope. Used to pick notification audiences
// (e.g. which approvers to ping about a submitted request). ADMIN users are
// included unconditionally.
func (s *Service) UsersHoldingPermission(ctx context.Context, tenantID uint, key string, scope *uint) ([]uint, error) {
	var admins []uint
	if err := s.db.WithContext(ctx).Model(&User{}).
		Where("tenant_id = ? AND role = ?", tenantID, RoleAdmin).
		Pluck("id", &admins).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch administrators: %w", err)
	}

	var perm AccessPermission
	if err := s.db.WithContext(ctx).Where("tenant_id = ? AND key = ?", tenantID, key).
		First(&perm).Error; err != nil {
		return admins, nil
	}

	var roleIDs []uint
	if err := s.db.WithContext(ctx).Model(&RolePermission{}).
		Where("permission_id = ?", perm.ID).
		Pluck("role_id", &roleIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch roles for %s: %w", key, err)
	}
	if len(roleIDs) == 0 {
		return admins, nil
	}

	now := s.now()
	query := s.db.WithContext(ctx).Model(&UserRoleAssignment{}).
		Where("tenant_id = ? AND role_id IN ? AND is_active = ?", tenantID, roleIDs, true).
		Where("starts_at IS NULL OR starts_at <= ?", now).
		Where("ends_at IS NULL OR ends_at > ?", now)
	if scope != nil {
		query = query.Where("requesting_service_id IS NULL OR requesting_service_id = ?", *scope)
	}

	var userIDs []uint
	if err := query.Distinct("user_id").Pluck("user_id", &userIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch assignment holders: %w", err)
	}

	seen := make(map[uint]struct{}, len(userIDs)+len(admins))
	merged := make([]uint, 0, len(userIDs)+len(admins))
	for _, id := range append(userIDs, admins...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	return merged, nil
}

// ListServiceUsers fetches IDs of users whose home requesting service matches.
func (s *Service) ListServiceUsers(ctx context.Context, tenantID, serviceID uint) ([]uint, error) {
	var userIDs []uint
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("tenant_id = ? AND requesting_service_id = ?", tenantID, serviceID).
		Pluck("id", &userIDs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch service users: %w", err)
	}
	return userIDs, nil
}
