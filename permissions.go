package gtmi

import (
	"context"
	"fmt"
)

// CreatePermission adds a custom catalog entry. Seeded (system) entries are
// created by EnsureTenantCatalog and never through here.
func (s *Service) CreatePermission(ctx context.Context, tenantID, actorID uint, key, description string) (*AccessPermission, error) {
	if key == "" {
		return nil, ErrInvalidInput
	}

	var existing AccessPermission
	if err := s.db.WithContext(ctx).Where("tenant_id = ? AND key = ?", tenantID, key).
		First(&existing).Error; err == nil {
		return nil, fmt.Errorf("%w: permission %s already exists", ErrInvalidInput, key)
	}

	perm := AccessPermission{TenantID: tenantID, Key: key, Description: description}
	if err := s.db.WithContext(ctx).Create(&perm).Error; err != nil {
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}

	s.logAudit(ctx, tenantID, actorID, "create_permission", "permission", perm.ID, "Created permission: "+key)
	return &perm, nil
}

// ListPermissions retrieves a tenant's permission catalog.
func (s *Service) ListPermissions(ctx context.Context, tenantID uint) ([]AccessPermission, error) {
	var perms []AccessPermission
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("key").Find(&perms).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch permissions: %w", err)
	}
	return perms, nil
}
