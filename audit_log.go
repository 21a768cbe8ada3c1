package gtmi

import (
	"context"
	"fmt"
)

// logAudit creates an administration audit entry. Best-effort: audit writes
// never fail the operation that triggered them.
func (s *Service) logAudit(ctx context.Context, tenantID, actorID uint, action, targetType string, targetID uint, details string) {
	if !s.auditEnabled {
		return
	}
	audit := AuditLog{
		TenantID:   tenantID,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		CreatedAt:  s.now(),
	}
	s.db.WithContext(ctx).Create(&audit)
}

// recordDenial persists a denied privileged attempt. Written outside the
// denied operation's transaction so the record survives its rollback.
func (s *Service) recordDenial(ctx context.Context, tenantID, actorID uint, permissionKey, resource, detail string) {
	denial := PermissionDenial{
		TenantID:      tenantID,
		ActorID:       actorID,
		PermissionKey: permissionKey,
		Resource:      resource,
		Detail:        detail,
		CreatedAt:     s.now(),
	}
	s.db.WithContext(ctx).Create(&denial)
}

// ListAuditLogs retrieves administration audit entries, optionally filtered by
// actor or target, newest first.
func (s *Service) ListAuditLogs(ctx context.Context, tenantID uint, actorID, targetID *uint) ([]AuditLog, error) {
	var audits []AuditLog
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC")
	if actorID != nil {
		query = query.Where("actor_id = ?", *actorID)
	}
	if targetID != nil {
		query = query.Where("target_id = ?", *targetID)
	}
	if err := query.Find(&audits).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch audit logs: %w", err)
	}
	return audits, nil
}

// ListDenials retrieves permission-denial records for a tenant, newest first.
func (s *Service) ListDenials(ctx context.Context, tenantID uint) ([]PermissionDenial, error) {
	var denials []PermissionDenial
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).
		Order("created_at DESC").Find(&denials).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch denials: %w", err)
	}
	return denials, nil
}
