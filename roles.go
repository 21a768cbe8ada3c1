package gtmi

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// CreateRole creates a custom role bundling existing catalog permissions.
func (s *Service) CreateRole(ctx context.Context, tenantID, actorID uint, name, description string, permissionKeys []string) (*AccessRole, error) {
	if name == "" {
		return nil, ErrInvalidInput
	}

	var role AccessRole
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing AccessRole
		if err := tx.Where("tenant_id = ? AND name = ?", tenantID, name).First(&existing).Error; err == nil {
			return fmt.Errorf("%w: role %s already exists", ErrInvalidInput, name)
		}

		role = AccessRole{TenantID: tenantID, Name: name, Description: description}
		if err := tx.Create(&role).Error; err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}

		for _, key := range permissionKeys {
			var perm AccessPermission
			if err := tx.Where("tenant_id = ? AND key = ?", tenantID, key).First(&perm).Error; err != nil {
				return fmt.Errorf("%w: permission %s", ErrNotFound, key)
			}
			if err := tx.Create(&RolePermission{RoleID: role.ID, PermissionID: perm.ID}).Error; err != nil {
				return fmt.Errorf("failed to bundle permission %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateGrantCache(ctx, tenantID, 0)
	s.logAudit(ctx, tenantID, actorID, "create_role", "role", role.ID, "Created role: "+name)
	return &role, nil
}

// CloneSystemRole creates a custom role copying a system role's permission set.
func (s *Service) CloneSystemRole(ctx context.Context, tenantID, actorID uint, systemRoleName, name, description string) (*AccessRole, error) {
	if name == "" || systemRoleName == "" {
		return nil, ErrInvalidInput
	}

	var role AccessRole
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var source AccessRole
		if err := tx.Where("tenant_id = ? AND name = ? AND is_system = ?", tenantID, systemRoleName, true).
			First(&source).Error; err != nil {
			return fmt.Errorf("%w: system role %s", ErrNotFound, systemRoleName)
		}

		role = AccessRole{TenantID: tenantID, Name: name, Description: description}
		if err := tx.Create(&role).Error; err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}

		var perms []RolePermission
		if err := tx.Where("role_id = ?", source.ID).Find(&perms).Error; err != nil {
			return fmt.Errorf("failed to fetch source permissions: %w", err)
		}
		for _, rp := range perms {
			if err := tx.Create(&RolePermission{RoleID: role.ID, PermissionID: rp.PermissionID}).Error; err != nil {
				return fmt.Errorf("failed to copy permission: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, tenantID, actorID, "clone_role", "role", role.ID,
		fmt.Sprintf("Cloned system role %s into %s", systemRoleName, name))
	return &role, nil
}

// UpdateRolePermissions replaces a custom role's permission set. System roles
// are immutable.
func (s *Service) UpdateRolePermissions(ctx context.Context, tenantID, actorID, roleID uint, permissionKeys []string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var role AccessRole
		if err := tx.Where("tenant_id = ?", tenantID).First(&role, roleID).Error; err != nil {
			return ErrNotFound
		}
		if role.IsSystem {
			return fmt.Errorf("%w: system role %s is immutable", ErrForbidden, role.Name)
		}

		if err := tx.Where("role_id = ?", roleID).Delete(&RolePermission{}).Error; err != nil {
			return fmt.Errorf("failed to clear role permissions: %w", err)
		}
		for _, key := range permissionKeys {
			var perm AccessPermission
			if err := tx.Where("tenant_id = ? AND key = ?", tenantID, key).First(&perm).Error; err != nil {
				return fmt.Errorf("%w: permission %s", ErrNotFound, key)
			}
			if err := tx.Create(&RolePermission{RoleID: roleID, PermissionID: perm.ID}).Error; err != nil {
				return fmt.Errorf("failed to bundle permission %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateGrantCache(ctx, tenantID, 0)
	s.logAudit(ctx, tenantID, actorID, "update_role_permissions", "role", roleID, "Replaced permission set")
	return nil
}

// DeleteRole soft-deletes a custom role and its assignments' effect by
// removing the permission mappings. System roles cannot be deleted.
func (s *Service) DeleteRole(ctx context.Context, tenantID, actorID, roleID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var role AccessRole
		if err := tx.Where("tenant_id = ?", tenantID).First(&role, roleID).Error; err != nil {
			return ErrNotFound
		}
		if role.IsSystem {
			return fmt.Errorf("%w: system role %s is immutable", ErrForbidden, role.Name)
		}

		if err := tx.Where("role_id = ?", roleID).Delete(&RolePermission{}).Error; err != nil {
			return fmt.Errorf("failed to delete role permissions: %w", err)
		}
		if err := tx.Delete(&role).Error; err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateGrantCache(ctx, tenantID, 0)
	s.logAudit(ctx, tenantID, actorID, "delete_role", "role", roleID, "Deleted role")
	return nil
}

// ListRoles retrieves a tenant's roles.
func (s *Service) ListRoles(ctx context.Context, tenantID uint) ([]AccessRole, error) {
	var roles []AccessRole
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}
	return roles, nil
}
