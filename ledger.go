package gtmi

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// productStatusFor derives the displayed stock status from a quantity.
func productStatusFor(quantity int) string {
	switch {
	case quantity > 20:
		return ProductAvailable
	case quantity > 0:
		return ProductStockLow
	default:
		return ProductStockOut
	}
}

// recordMovement appends one immutable ledger row inside the caller's
// transaction. Movements are never edited; corrections append a compensating
// movement.
func (s *Service) recordMovement(tx *gorm.DB, movement *StockMovement) error {
	if movement.Quantity == 0 {
		movement.Quantity = 1
	}
	movement.CreatedAt = s.now()
	if err := tx.Create(movement).Error; err != nil {
		return fmt.Errorf("failed to record %s movement: %w", movement.Type, err)
	}
	return nil
}

// reconcileProduct applies delta to the product's aggregate quantity and
// recomputes its derived status, inside the caller's transaction. The update
// is relative and the re-read holds the row lock, so two concurrent movements
// on one product serialize instead of losing an update.
func (s *Service) reconcileProduct(tx *gorm.DB, tenantID, productID uint, delta int) error {
	res := tx.Model(&Product{}).
		Where("tenant_id = ? AND id = ?", tenantID, productID).
		Update("quantity", gorm.Expr("quantity + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("failed to reconcile product %d: %w", productID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to reconcile product %d: %w", productID, gorm.ErrRecordNotFound)
	}

	var product Product
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ?", tenantID).First(&product, productID).Error; err != nil {
		return fmt.Errorf("failed to load product %d: %w", productID, err)
	}
	if err := tx.Model(&Product{}).Where("id = ?", product.ID).
		Update("status", productStatusFor(product.Quantity)).Error; err != nil {
		return fmt.Errorf("failed to reconcile product %d: %w", productID, err)
	}
	return nil
}

// ListMovements retrieves the ledger for a product, newest first.
func (s *Service) ListMovements(ctx context.Context, tenantID, productID uint) ([]StockMovement, error) {
	var movements []StockMovement
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND product_id = ?", tenantID, productID).
		Order("id DESC").
		Find(&movements).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch movements: %w", err)
	}
	return movements, nil
}

// GetProduct retrieves a product visible to the tenant.
func (s *Service) GetProduct(ctx context.Context, tenantID, productID uint) (*Product, error) {
	var product Product
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&product, productID).Error; err != nil {
		return nil, ErrNotFound
	}
	return &product, nil
}
