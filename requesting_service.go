package gtmi

import (
	"context"
	"fmt"
)

// CreateRequestingService creates an organizational scope unit.
func (s *Service) CreateRequestingService(ctx context.Context, tenantID, actorID uint, name string) (*RequestingService, error) {
	if name == "" {
		return nil, ErrInvalidInput
	}

	service := RequestingService{TenantID: tenantID, Name: name}
	if err := s.db.WithContext(ctx).Create(&service).Error; err != nil {
		return nil, fmt.Errorf("failed to create requesting service: %w", err)
	}

	s.logAudit(ctx, tenantID, actorID, "create_service", "requesting_service", service.ID, "Created service: "+name)
	return &service, nil
}

// RenameRequestingService updates a service's name.
func (s *Service) RenameRequestingService(ctx context.Context, tenantID, actorID, serviceID uint, name string) (*RequestingService, error) {
	if name == "" {
		return nil, ErrInvalidInput
	}

	var service RequestingService
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&service, serviceID).Error; err != nil {
		return nil, ErrNotFound
	}

	service.Name = name
	if err := s.db.WithContext(ctx).Save(&service).Error; err != nil {
		return nil, fmt.Errorf("failed to rename requesting service: %w", err)
	}

	s.logAudit(ctx, tenantID, actorID, "rename_service", "requesting_service", service.ID, "Renamed to: "+name)
	return &service, nil
}

// DeleteRequestingService soft-deletes a service. Grants scoped to it stop
// matching once the boundary no longer offers the scope.
func (s *Service) DeleteRequestingService(ctx context.Context, tenantID, actorID, serviceID uint) error {
	var service RequestingService
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&service, serviceID).Error; err != nil {
		return ErrNotFound
	}

	if err := s.db.WithContext(ctx).Delete(&service).Error; err != nil {
		return fmt.Errorf("failed to delete requesting service: %w", err)
	}

	s.invalidateGrantCache(ctx, tenantID, 0)
	s.logAudit(ctx, tenantID, actorID, "delete_service", "requesting_service", serviceID, "Deleted service")
	return nil
}

// ListRequestingServices retrieves a tenant's services.
func (s *Service) ListRequestingServices(ctx context.Context, tenantID uint) ([]RequestingService, error) {
	var services []RequestingService
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("name").Find(&services).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch requesting services: %w", err)
	}
	return services, nil
}
