package gtmi

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// RequestItemInput is one line of a new material request.
type RequestItemInput struct {
	ProductID uint   `json:"productId"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes"`
}

// CreateRequest allocates a GTMI number and creates a DRAFT material request
// with its line items and workflow instance, in one transaction.
func (s *Service) CreateRequest(ctx context.Context, tenantID, actorID uint, serviceID *uint, items []RequestItemInput) (*Request, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one line item", ErrInvalidInput)
	}

	def, err := s.EnsureWorkflowDefinition(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var request Request
	err = s.withSequenceRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, item := range items {
				var product Product
				if err := tx.Where("tenant_id = ?", tenantID).First(&product, item.ProductID).Error; err != nil {
					return ErrNotFound
				}
			}

			year := s.now().Year()
			seq, err := allocateSequence(tx, tenantID, year)
			if err != nil {
				return err
			}

			lines := make([]RequestItem, 0, len(items))
			for i, item := range items {
				qty := item.Quantity
				if qty <= 0 {
					qty = 1
				}
				lines = append(lines, RequestItem{
					Position:  i,
					Role:      ItemRoleNone,
					ProductID: item.ProductID,
					Quantity:  qty,
					Notes:     item.Notes,
				})
			}

			request = Request{
				TenantID:            tenantID,
				GTMINumber:          FormatGTMINumber(year, seq),
				Kind:                RequestMaterial,
				Status:              StatusDraft,
				OwnerID:             actorID,
				CreatedByID:         actorID,
				RequestingServiceID: serviceID,
				Items:               lines,
			}
			if err := tx.Create(&request).Error; err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}

			_, err = s.ensureInstanceTx(tx, def, &request)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "request.created", tenantID, "approvers", &actorID, map[string]any{
		"requestId":  request.ID,
		"gtmiNumber": request.GTMINumber,
	})
	return &request, nil
}

// GetRequest retrieves a request with its ordered items, tenant-scoped.
func (s *Service) GetRequest(ctx context.Context, tenantID, requestID uint) (*Request, error) {
	var request Request
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("tenant_id = ?", tenantID).
		First(&request, requestID).Error
	if err != nil {
		return nil, ErrNotFound
	}
	return &request, nil
}

// ListRequests retrieves a tenant's requests, optionally filtered by owner,
// newest first.
func (s *Service) ListRequests(ctx context.Context, tenantID uint, ownerID *uint) ([]Request, error) {
	var requests []Request
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("id DESC")
	if ownerID != nil {
		query = query.Where("owner_id = ?", *ownerID)
	}
	if err := query.Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch requests: %w", err)
	}
	return requests, nil
}
