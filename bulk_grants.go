package gtmi

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

// BulkCheck is one user/permission pair to evaluate.
type BulkCheck struct {
	UserID              uint
	Permission          string
	RequestingServiceID *uint
}

// BulkCheckResult carries the outcome of one BulkCheck.
type BulkCheckResult struct {
	UserID     uint
	Permission string
	Allowed    bool
	Error      error
}

// CheckBulkPermissions evaluates many permission checks concurrently. Each
// check resolves the user's grants (cache-backed) and tests the pair, so
// repeated users mostly hit the cache.
func (s *Service) CheckBulkPermissions(ctx context.Context, tenantID uint, checks []BulkCheck) []BulkCheckResult {
	results := make([]BulkCheckResult, len(checks))

	workerCount := 10
	if len(checks) < workerCount {
		workerCount = len(checks)
	}

	jobs := make(chan int, len(checks))

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				check := checks[idx]
				var user User
				err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&user, check.UserID).Error
				if err != nil {
					err = ErrNotFound
				} else {
					err = s.CheckPermission(ctx, &user, check.Permission, check.RequestingServiceID)
				}
				results[idx] = BulkCheckResult{
					UserID:     check.UserID,
					Permission: check.Permission,
					Allowed:    err == nil,
					Error:      err,
				}
			}
		}()
	}

	for i := range checks {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

// BulkAssignRoles creates assignments for multiple users in one transaction.
// The map is user ID to role IDs; assignments are unscoped and unbounded.
func (s *Service) BulkAssignRoles(ctx context.Context, tenantID, actorID uint, assignments map[uint][]uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for userID, roleIDs := range assignments {
			for _, roleID := range roleIDs {
				assignment := &UserRoleAssignment{
					TenantID:    tenantID,
					UserID:      userID,
					RoleID:      roleID,
					IsActive:    true,
					CreatedByID: actorID,
				}
				if err := tx.Where(
					"tenant_id = ? AND user_id = ? AND role_id = ? AND requesting_service_id IS NULL AND is_active = ?",
					tenantID, userID, roleID, true,
				).FirstOrCreate(assignment).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for userID := range assignments {
		s.invalidateGrantCache(ctx, tenantID, userID)
	}
	s.logAudit(ctx, tenantID, actorID, "bulk_assign_roles", "assignment", 0, "")
	return nil
}

// BulkDeactivateRoles deactivates the listed role assignments per user in one
// transaction.
func (s *Service) BulkDeactivateRoles(ctx context.Context, tenantID, actorID uint, removals map[uint][]uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for userID, roleIDs := range removals {
			if err := tx.Model(&UserRoleAssignment{}).
				Where("tenant_id = ? AND user_id = ? AND role_id IN ?", tenantID, userID, roleIDs).
				Update("is_active", false).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for userID := range removals {
		s.invalidateGrantCache(ctx, tenantID, userID)
	}
	s.logAudit(ctx, tenantID, actorID, "bulk_deactivate_roles", "assignment", 0, "")
	return nil
}

// ResolveGrantsBulk resolves grants for multiple users concurrently.
func (s *Service) ResolveGrantsBulk(ctx context.Context, tenantID uint, userIDs []uint) map[uint][]Grant {
	type entry struct {
		userID uint
		grants []Grant
	}

	workerCount := 10
	if len(userIDs) < workerCount {
		workerCount = len(userIDs)
	}

	jobs := make(chan uint, len(userIDs))
	entries := make(chan entry, len(userIDs))

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range jobs {
				var grants []Grant
				var user User
				if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).
					First(&user, userID).Error; err == nil {
					grants, _ = s.ResolveGrants(ctx, &user)
				}
				entries <- entry{userID: userID, grants: grants}
			}
		}()
	}

	for _, id := range userIDs {
		jobs <- id
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(entries)
	}()

	results := make(map[uint][]Grant, len(userIDs))
	for e := range entries {
		results[e.userID] = e.grants
	}
	return results
}
