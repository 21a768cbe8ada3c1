package gtmi

import (
	"context"
)

// GetUser retrieves a tenant's user by ID. Used by boundaries to load the
// acting identity before resolving grants.
func (s *Service) GetUser(ctx context.Context, tenantID, userID uint) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&user, userID).Error; err != nil {
		return nil, ErrNotFound
	}
	return &user, nil
}

// CreateUser registers a user under a tenant.
func (s *Service) CreateUser(ctx context.Context, tenantID uint, name, email, role string, serviceID *uint) (*User, error) {
	if name == "" || email == "" {
		return nil, ErrInvalidInput
	}
	if role != RoleAdmin {
		role = RoleUser
	}

	user := User{
		TenantID:            tenantID,
		Name:                name,
		Email:               email,
		Role:                role,
		RequestingServiceID: serviceID,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateTenant registers a tenant and seeds its permission catalog and
// workflow definition.
func (s *Service) CreateTenant(ctx context.Context, name string) (*Tenant, error) {
	if name == "" {
		return nil, ErrInvalidInput
	}

	tenant := Tenant{Name: name}
	if err := s.db.WithContext(ctx).Create(&tenant).Error; err != nil {
		return nil, err
	}
	if err := s.EnsureTenantCatalog(ctx, tenant.ID); err != nil {
		return nil, err
	}
	if _, err := s.EnsureWorkflowDefinition(ctx, tenant.ID); err != nil {
		return nil, err
	}
	return &tenant, nil
}
