package gtmi

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// seededPermissions is the per-tenant permission catalog.
var seededPermissions = []struct {
	Key         string
	Description string
}{
	{PermRequestCreate, "Create material requests"},
	{PermRequestView, "View requests"},
	{PermRequestApprove, "Approve a submitted request"},
	{PermRequestReject, "Reject a submitted request"},
	{PermRequestFinalApprove, "Final (presidency) approval"},
	{PermRequestFinalReject, "Final (presidency) rejection"},
	{PermRequestFulfill, "Fulfill an approved request"},
	{PermStatusChange, "Change request status regardless of ownership"},
	{PermUnitAcquire, "Acquire a serialized unit"},
	{PermUnitReturn, "Start a unit return"},
	{PermUnitRepair, "Send or bring back units for repair"},
	{PermUnitSubstitute, "Substitute a unit"},
	{PermStockView, "View stock levels and movements"},
	{PermStockReceive, "Register stock intake"},
	{PermRolesManage, "Manage roles and assignments"},
}

// seededRoles bundles catalog permissions into the system roles created for
// every tenant. System roles are immutable; custom roles clone them.
var seededRoles = []struct {
	Name        string
	Description string
	Permissions []string
}{
	{"Requester", "Submits material requests and handles own units",
		[]string{PermRequestCreate, PermRequestView, PermUnitAcquire, PermUnitReturn}},
	{"Supervisor", "Approves or rejects requests for a requesting service",
		[]string{PermRequestView, PermRequestApprove, PermRequestReject}},
	{"Presidency", "Holds the final decision on escalated requests",
		[]string{PermRequestView, PermRequestFinalApprove, PermRequestFinalReject}},
	{"Warehouse", "Runs stock intake, fulfillment, repairs and substitutions",
		[]string{PermRequestView, PermRequestFulfill, PermStockView, PermStockReceive,
			PermUnitRepair, PermUnitSubstitute}},
}

// EnsureTenantCatalog idempotently seeds the permission catalog and system
// roles for a tenant. Existing rows are never overwritten, and a concurrent
// seeder losing the insert race falls back to the winner's row, so the
// bootstrap is safe to call repeatedly and concurrently.
func (s *Service) EnsureTenantCatalog(ctx context.Context, tenantID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		permIDs := make(map[string]uint, len(seededPermissions))
		for _, sp := range seededPermissions {
			perm := AccessPermission{TenantID: tenantID, Key: sp.Key, Description: sp.Description, IsSystem: true}
			id, err := firstOrCreatePermission(tx, tenantID, &perm)
			if err != nil {
				return err
			}
			permIDs[sp.Key] = id
		}

		for _, sr := range seededRoles {
			role := AccessRole{TenantID: tenantID, Name: sr.Name, Description: sr.Description, IsSystem: true}
			roleID, err := firstOrCreateRole(tx, tenantID, &role)
			if err != nil {
				return err
			}
			for _, key := range sr.Permissions {
				rp := RolePermission{RoleID: roleID, PermissionID: permIDs[key]}
				if err := tx.Where("role_id = ? AND permission_id = ?", roleID, rp.PermissionID).
					FirstOrCreate(&rp).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("failed to seed role permission: %w", err)
				}
			}
		}
		return nil
	})
}

func firstOrCreatePermission(tx *gorm.DB, tenantID uint, perm *AccessPermission) (uint, error) {
	err := tx.Where("tenant_id = ? AND key = ?", tenantID, perm.Key).FirstOrCreate(perm).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Concurrent seeder won the insert; use its row.
		var existing AccessPermission
		if err := tx.Where("tenant_id = ? AND key = ?", tenantID, perm.Key).First(&existing).Error; err != nil {
			return 0, fmt.Errorf("failed to fetch seeded permission: %w", err)
		}
		return existing.ID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to seed permission %s: %w", perm.Key, err)
	}
	return perm.ID, nil
}

func firstOrCreateRole(tx *gorm.DB, tenantID uint, role *AccessRole) (uint, error) {
	err := tx.Where("tenant_id = ? AND name = ?", tenantID, role.Name).FirstOrCreate(role).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var existing AccessRole
		if err := tx.Where("tenant_id = ? AND name = ?", tenantID, role.Name).First(&existing).Error; err != nil {
			return 0, fmt.Errorf("failed to fetch seeded role: %w", err)
		}
		return existing.ID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to seed role %s: %w", role.Name, err)
	}
	return role.ID, nil
}
