package gtmi

import (
	"context"
	"fmt"
	"time"
)

// AssignmentInput describes a new time-bounded role assignment.
type AssignmentInput struct {
	UserID              uint       `json:"userId"`
	RoleID              uint       `json:"roleId"`
	RequestingServiceID *uint      `json:"requestingServiceId"`
	StartsAt            *time.Time `json:"startsAt"`
	EndsAt              *time.Time `json:"endsAt"`
}

// CreateAssignment links a user to a role, optionally scoped to one
// requesting service, within an activation window.
func (s *Service) CreateAssignment(ctx context.Context, tenantID, actorID uint, in AssignmentInput) (*UserRoleAssignment, error) {
	if in.UserID == 0 || in.RoleID == 0 {
		return nil, ErrInvalidInput
	}
	if in.StartsAt != nil && in.EndsAt != nil && !in.EndsAt.After(*in.StartsAt) {
		return nil, fmt.Errorf("%w: activation window is empty", ErrInvalidInput)
	}

	var role AccessRole
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&role, in.RoleID).Error; err != nil {
		return nil, ErrNotFound
	}
	var user User
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&user, in.UserID).Error; err != nil {
		return nil, ErrNotFound
	}
	if in.RequestingServiceID != nil {
		var service RequestingService
		if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).
			First(&service, *in.RequestingServiceID).Error; err != nil {
			return nil, ErrNotFound
		}
	}

	assignment := UserRoleAssignment{
		TenantID:            tenantID,
		UserID:              in.UserID,
		RoleID:              in.RoleID,
		RequestingServiceID: in.RequestingServiceID,
		StartsAt:            in.StartsAt,
		EndsAt:              in.EndsAt,
		IsActive:            true,
		CreatedByID:         actorID,
	}
	if err := s.db.WithContext(ctx).Create(&assignment).Error; err != nil {
		return nil, fmt.Errorf("failed to create assignment: %w", err)
	}

	s.invalidateGrantCache(ctx, tenantID, in.UserID)
	s.logAudit(ctx, tenantID, actorID, "create_assignment", "assignment", assignment.ID,
		fmt.Sprintf("Assigned role %s to user %d", role.Name, in.UserID))
	return &assignment, nil
}

// SetAssignmentActive flips an assignment's soft lifecycle flag. Assignments
// are never hard-deleted.
func (s *Service) SetAssignmentActive(ctx context.Context, tenantID, actorID, assignmentID uint, active bool) error {
	var assignment UserRoleAssignment
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).
		First(&assignment, assignmentID).Error; err != nil {
		return ErrNotFound
	}

	if err := s.db.WithContext(ctx).Model(&UserRoleAssignment{}).
		Where("id = ?", assignmentID).Update("is_active", active).Error; err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}

	s.invalidateGrantCache(ctx, tenantID, assignment.UserID)
	verb := "deactivate_assignment"
	if active {
		verb = "activate_assignment"
	}
	s.logAudit(ctx, tenantID, actorID, verb, "assignment", assignmentID, "")
	return nil
}

// UpdateAssignmentWindow edits an assignment's activation window.
func (s *Service) UpdateAssignmentWindow(ctx context.Context, tenantID, actorID, assignmentID uint, startsAt, endsAt *time.Time) error {
	if startsAt != nil && endsAt != nil && !endsAt.After(*startsAt) {
		return fmt.Errorf("%w: activation window is empty", ErrInvalidInput)
	}

	var assignment UserRoleAssignment
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).
		First(&assignment, assignmentID).Error; err != nil {
		return ErrNotFound
	}

	if err := s.db.WithContext(ctx).Model(&UserRoleAssignment{}).
		Where("id = ?", assignmentID).
		Updates(map[string]any{"starts_at": startsAt, "ends_at": endsAt}).Error; err != nil {
		return fmt.Errorf("failed to update assignment window: %w", err)
	}

	s.invalidateGrantCache(ctx, tenantID, assignment.UserID)
	s.logAudit(ctx, tenantID, actorID, "update_assignment_window", "assignment", assignmentID, "")
	return nil
}

// ListAssignments retrieves a user's assignments, active or not.
func (s *Service) ListAssignments(ctx context.Context, tenantID, userID uint) ([]UserRoleAssignment, error) {
	var assignments []UserRoleAssignment
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("id").Find(&assignments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch assignments: %w", err)
	}
	return assignments, nil
}
