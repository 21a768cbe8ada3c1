package gtmi

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AcquireOptions carries optional metadata stamped on acquisition.
type AcquireOptions struct {
	AssigneeID   *uint
	Reason       string
	CostCenter   string
	TicketNumber string
	Notes        string
}

// loadUnitTx resolves a serialized unit by code for the acting tenant inside
// an open transaction, taking the row lock. Under READ COMMITTED two racing
// callers would otherwise both read the stale status and both pass their
// precondition; with the lock the loser re-reads the committed row and fails
// InvalidState. A unit that exists under another tenant is Forbidden, not
// NotFound.
func loadUnitTx(tx *gorm.DB, tenantID uint, code string) (*ProductUnit, error) {
	var unit ProductUnit
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND code = ?", tenantID, code).First(&unit).Error
	if err == nil {
		return &unit, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to fetch unit %s: %w", code, err)
	}

	var count int64
	if err := tx.Model(&ProductUnit{}).Where("code = ?", code).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch unit %s: %w", code, err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: unit %s belongs to another tenant", ErrForbidden, code)
	}
	return nil, ErrNotFound
}

// Acquire hands an IN_STOCK unit to a user: the unit becomes ACQUIRED with
// acquisition metadata, one OUT movement is appended and the product aggregate
// is decremented, all in one transaction.
func (s *Service) Acquire(ctx context.Context, tenantID, actorID uint, code string, opts AcquireOptions) (*ProductUnit, error) {
	var unit *ProductUnit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		unit, err = loadUnitTx(tx, tenantID, code)
		if err != nil {
			return err
		}
		if unit.Status != UnitInStock {
			if unit.Status == UnitAcquired {
				return ErrAlreadyAcquired
			}
			return invalidStateErr(unit.Status)
		}

		assignee := actorID
		if opts.AssigneeID != nil {
			assignee = *opts.AssigneeID
		}
		acquiredAt := s.now()
		if err := tx.Model(&ProductUnit{}).Where("id = ?", unit.ID).Updates(map[string]any{
			"status":              UnitAcquired,
			"assigned_to_user_id": assignee,
			"acquired_by_id":      actorID,
			"acquired_at":         acquiredAt,
		}).Error; err != nil {
			return fmt.Errorf("failed to acquire unit %s: %w", code, err)
		}
		unit.Status = UnitAcquired
		unit.AssignedToUserID = &assignee
		unit.AcquiredByID = &actorID
		unit.AcquiredAt = &acquiredAt

		movement := StockMovement{
			TenantID:     tenantID,
			Type:         MovementOut,
			ProductID:    unit.ProductID,
			UnitID:       &unit.ID,
			ActorID:      actorID,
			Reason:       opts.Reason,
			CostCenter:   opts.CostCenter,
			TicketNumber: opts.TicketNumber,
			Notes:        opts.Notes,
		}
		if err := s.recordMovement(tx, &movement); err != nil {
			return err
		}
		return s.reconcileProduct(tx, tenantID, unit.ProductID, -1)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "unit.acquired", tenantID, "stock", unit.AssignedToUserID, map[string]any{
		"code":      code,
		"productId": unit.ProductID,
	})
	return unit, nil
}

// Return starts the return of an ACQUIRED unit. It creates a GTMI-numbered
// RETURN request owned by the unit's assignee (or the actor when unassigned)
// and drives it through SUBMIT; the unit itself stays ACQUIRED, linked via
// PendingRequestID, until final approval of that request flips it back to
// stock (finalizeReturnTx).
func (s *Service) Return(ctx context.Context, tenantID, actorID uint, code string, notes string) (*Request, error) {
	def, err := s.EnsureWorkflowDefinition(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var request Request
	err = s.withSequenceRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			unit, err := loadUnitTx(tx, tenantID, code)
			if err != nil {
				return err
			}
			if unit.Status != UnitAcquired {
				return invalidStateErr(unit.Status)
			}

			year := s.now().Year()
			seq, err := allocateSequence(tx, tenantID, year)
			if err != nil {
				return err
			}

			owner := actorID
			if unit.AssignedToUserID != nil {
				owner = *unit.AssignedToUserID
			}
			request = Request{
				TenantID:    tenantID,
				GTMINumber:  FormatGTMINumber(year, seq),
				Kind:        RequestReturn,
				Status:      StatusDraft,
				OwnerID:     owner,
				CreatedByID: actorID,
				Items: []RequestItem{
					{Position: 0, Role: ItemRoleOld, ProductID: unit.ProductID, UnitID: &unit.ID, Quantity: 1, Notes: notes},
				},
			}
			if err := tx.Create(&request).Error; err != nil {
				return fmt.Errorf("failed to create return request: %w", err)
			}

			if err := tx.Model(&ProductUnit{}).Where("id = ?", unit.ID).
				Update("pending_request_id", request.ID).Error; err != nil {
				return fmt.Errorf("failed to link pending return: %w", err)
			}

			instance, err := s.ensureInstanceTx(tx, def, &request)
			if err != nil {
				return err
			}
			var result TransitionResult
			if err := s.transitionTx(tx, def, &request, instance, ActionSubmit, actorID, notes, &result); err != nil {
				return err
			}
			request.Status = result.Status
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "unit.return_requested", tenantID, "approvers", &request.OwnerID, map[string]any{
		"code":       code,
		"requestId":  request.ID,
		"gtmiNumber": request.GTMINumber,
	})
	return &request, nil
}

// RepairOut sends a unit for repair. ACQUIRED and IN_STOCK units qualify; the
// aggregate is decremented only when the unit left available stock, since an
// ACQUIRED unit was already excluded.
func (s *Service) RepairOut(ctx context.Context, tenantID, actorID uint, code string, reason string) (*ProductUnit, error) {
	var unit *ProductUnit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		unit, err = loadUnitTx(tx, tenantID, code)
		if err != nil {
			return err
		}
		switch unit.Status {
		case UnitInRepair:
			return ErrAlreadyInRepair
		case UnitScrapped, UnitLost:
			return invalidStateErr(unit.Status)
		}
		wasInStock := unit.Status == UnitInStock

		if err := tx.Model(&ProductUnit{}).Where("id = ?", unit.ID).Updates(map[string]any{
			"status":              UnitInRepair,
			"assigned_to_user_id": nil,
		}).Error; err != nil {
			return fmt.Errorf("failed to send unit %s for repair: %w", code, err)
		}
		unit.Status = UnitInRepair
		unit.AssignedToUserID = nil

		movement := StockMovement{
			TenantID:  tenantID,
			Type:      MovementRepairOut,
			ProductID: unit.ProductID,
			UnitID:    &unit.ID,
			ActorID:   actorID,
			Reason:    reason,
		}
		if err := s.recordMovement(tx, &movement); err != nil {
			return err
		}
		if wasInStock {
			return s.reconcileProduct(tx, tenantID, unit.ProductID, -1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "unit.repair_out", tenantID, "stock", nil, map[string]any{"code": code})
	return unit, nil
}

// RepairIn brings a repaired unit back into stock with a REPAIR_IN movement
// and a positive reconcile.
func (s *Service) RepairIn(ctx context.Context, tenantID, actorID uint, code string, notes string) (*ProductUnit, error) {
	var unit *ProductUnit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		unit, err = loadUnitTx(tx, tenantID, code)
		if err != nil {
			return err
		}
		if unit.Status != UnitInRepair {
			return invalidStateErr(unit.Status)
		}

		if err := tx.Model(&ProductUnit{}).Where("id = ?", unit.ID).
			Update("status", UnitInStock).Error; err != nil {
			return fmt.Errorf("failed to restock unit %s: %w", code, err)
		}
		unit.Status = UnitInStock

		movement := StockMovement{
			TenantID:  tenantID,
			Type:      MovementRepairIn,
			ProductID: unit.ProductID,
			UnitID:    &unit.ID,
			ActorID:   actorID,
			Notes:     notes,
		}
		if err := s.recordMovement(tx, &movement); err != nil {
			return err
		}
		return s.reconcileProduct(tx, tenantID, unit.ProductID, +1)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "unit.repair_in", tenantID, "stock", nil, map[string]any{"code": code})
	return unit, nil
}

// Receive registers serialized stock intake: one IN_STOCK unit and one IN
// movement per code, plus a single positive reconcile. Codes left empty get a
// generated serial.
func (s *Service) Receive(ctx context.Context, tenantID, actorID, productID uint, codes []string, invoiceRef string) ([]ProductUnit, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: at least one unit code", ErrInvalidInput)
	}

	units := make([]ProductUnit, 0, len(codes))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product Product
		if err := tx.Where("tenant_id = ?", tenantID).First(&product, productID).Error; err != nil {
			return ErrNotFound
		}

		for _, code := range codes {
			if code == "" {
				code = uuid.NewString()
			}
			unit := ProductUnit{
				TenantID:  tenantID,
				Code:      code,
				ProductID: productID,
				Status:    UnitInStock,
			}
			if err := tx.Create(&unit).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("%w: unit %s", validationErr("duplicate_unit_code"), code)
				}
				return fmt.Errorf("failed to register unit %s: %w", code, err)
			}

			movement := StockMovement{
				TenantID:   tenantID,
				Type:       MovementIn,
				ProductID:  productID,
				UnitID:     &unit.ID,
				ActorID:    actorID,
				InvoiceRef: invoiceRef,
			}
			if err := s.recordMovement(tx, &movement); err != nil {
				return err
			}
			units = append(units, unit)
		}
		return s.reconcileProduct(tx, tenantID, productID, len(codes))
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "stock.received", tenantID, "stock", nil, map[string]any{
		"productId": productID,
		"units":     len(units),
	})
	return units, nil
}
