package gtmi

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// SubstitutionInput is the normalized substitution request body.
type SubstitutionInput struct {
	OldCode                     string      `json:"oldCode"`
	NewCode                     string      `json:"newCode"`
	OldDisposition              Disposition `json:"oldDisposition"`
	ReturnReasonCode            ReasonCode  `json:"returnReasonCode"`
	ReturnReasonDetail          string      `json:"returnReasonDetail"`
	AssignedToUserID            *uint       `json:"assignedToUserId"`
	Reason                      string      `json:"reason"`
	CostCenter                  string      `json:"costCenter"`
	TicketNumber                string      `json:"ticketNumber"`
	Notes                       string      `json:"notes"`
	CompatibilityOverrideReason string      `json:"compatibilityOverrideReason"`
}

// SubstitutionResult tags both units' final status, the linked request, and
// the full reason metadata.
type SubstitutionResult struct {
	OldUnitCode                 string      `json:"oldUnitCode"`
	OldUnitStatus               UnitStatus  `json:"oldUnitStatus"`
	NewUnitCode                 string      `json:"newUnitCode"`
	NewUnitStatus               UnitStatus  `json:"newUnitStatus"`
	RequestID                   uint        `json:"requestId"`
	GTMINumber                  string      `json:"gtmiNumber"`
	Disposition                 Disposition `json:"disposition"`
	ReasonCode                  ReasonCode  `json:"reasonCode"`
	ReasonDetail                string      `json:"reasonDetail,omitempty"`
	CompatibilityOverrideReason string      `json:"compatibilityOverrideReason,omitempty"`
}

// validateSubstitutionReason enforces the disposition/reason-code table before
// any mutation.
func validateSubstitutionReason(in SubstitutionInput) error {
	switch in.OldDisposition {
	case DispositionReturn, DispositionRepair, DispositionScrap, DispositionLost:
	default:
		return validationErr("unknown_disposition")
	}

	switch in.ReturnReasonCode {
	case ReasonAvaria:
		if in.OldDisposition != DispositionRepair && in.OldDisposition != DispositionScrap {
			return validationErr("avaria_requires_repair_or_scrap")
		}
	case ReasonExtravio:
		if in.OldDisposition != DispositionLost {
			return validationErr("extravio_requires_lost")
		}
	case ReasonFimUso, ReasonTroca:
		if in.OldDisposition != DispositionReturn {
			return validationErr("reason_requires_return")
		}
	case ReasonOutro:
		if in.ReturnReasonDetail == "" {
			return validationErr("outro_requires_detail")
		}
	default:
		return validationErr("unknown_reason_code")
	}
	return nil
}

// Substitute replaces one unit by another in a single atomic operation: it
// validates the reason table and the actor's authority, allocates a GTMI
// number, creates a two-line-item SUBSTITUTION request already driven through
// SUBMIT, applies the old unit's disposition with its matching ledger row, and
// hands the new unit over with an OUT movement. Any precondition failure
// leaves no trace except the denial audit row for refused SCRAP/LOST attempts.
func (s *Service) Substitute(ctx context.Context, actor *User, in SubstitutionInput) (*SubstitutionResult, error) {
	if actor == nil {
		return nil, ErrUnauthorized
	}
	if in.OldCode == "" || in.NewCode == "" {
		return nil, fmt.Errorf("%w: both unit codes are required", ErrInvalidInput)
	}
	if in.OldCode == in.NewCode {
		return nil, validationErr("same_unit")
	}
	if err := validateSubstitutionReason(in); err != nil {
		return nil, err
	}

	if (in.OldDisposition == DispositionScrap || in.OldDisposition == DispositionLost) &&
		actor.Role != RoleAdmin {
		// The denial must survive the aborted operation, so it is its own write.
		s.recordDenial(ctx, actor.TenantID, actor.ID, PermUnitSubstitute,
			fmt.Sprintf("unit:%s", in.OldCode),
			fmt.Sprintf("disposition %s requires administrator", in.OldDisposition))
		return nil, fmt.Errorf("%w: disposition %s requires administrator", ErrForbidden, in.OldDisposition)
	}

	def, err := s.EnsureWorkflowDefinition(ctx, actor.TenantID)
	if err != nil {
		return nil, err
	}

	var result SubstitutionResult
	err = s.withSequenceRetry(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			oldUnit, err := loadUnitTx(tx, actor.TenantID, in.OldCode)
			if err != nil {
				return err
			}
			newUnit, err := loadUnitTx(tx, actor.TenantID, in.NewCode)
			if err != nil {
				return err
			}

			if oldUnit.Status != UnitAcquired && oldUnit.Status != UnitInRepair {
				return invalidStateErr(oldUnit.Status)
			}
			if in.OldDisposition == DispositionRepair && oldUnit.Status == UnitInRepair {
				return ErrAlreadyInRepair
			}
			if newUnit.Status != UnitInStock {
				return invalidStateErr(newUnit.Status)
			}

			if oldUnit.ProductID != newUnit.ProductID && in.CompatibilityOverrideReason == "" {
				return validationErr("sku_mismatch_requires_reason")
			}

			year := s.now().Year()
			seq, err := allocateSequence(tx, actor.TenantID, year)
			if err != nil {
				return err
			}

			assignee := actor.ID
			if in.AssignedToUserID != nil {
				assignee = *in.AssignedToUserID
			} else if oldUnit.AssignedToUserID != nil {
				assignee = *oldUnit.AssignedToUserID
			}

			request := Request{
				TenantID:    actor.TenantID,
				GTMINumber:  FormatGTMINumber(year, seq),
				Kind:        RequestSubstitution,
				Status:      StatusDraft,
				OwnerID:     assignee,
				CreatedByID: actor.ID,
				Items: []RequestItem{
					{Position: 0, Role: ItemRoleOld, ProductID: oldUnit.ProductID, UnitID: &oldUnit.ID, Quantity: 1, Notes: in.ReturnReasonDetail},
					{Position: 1, Role: ItemRoleNew, ProductID: newUnit.ProductID, UnitID: &newUnit.ID, Quantity: 1, Notes: in.Notes},
				},
			}
			if err := tx.Create(&request).Error; err != nil {
				return fmt.Errorf("failed to create substitution request: %w", err)
			}

			instance, err := s.ensureInstanceTx(tx, def, &request)
			if err != nil {
				return err
			}
			var transitioned TransitionResult
			if err := s.transitionTx(tx, def, &request, instance, ActionSubmit, actor.ID, in.Reason, &transitioned); err != nil {
				return err
			}

			oldStatus, err := s.applyDispositionTx(tx, actor.TenantID, actor.ID, oldUnit, in, &request)
			if err != nil {
				return err
			}

			acquiredAt := s.now()
			if err := tx.Model(&ProductUnit{}).Where("id = ?", newUnit.ID).Updates(map[string]any{
				"status":              UnitAcquired,
				"assigned_to_user_id": assignee,
				"acquired_by_id":      actor.ID,
				"acquired_at":         acquiredAt,
			}).Error; err != nil {
				return fmt.Errorf("failed to hand over unit %s: %w", newUnit.Code, err)
			}

			outMovement := StockMovement{
				TenantID:     actor.TenantID,
				Type:         MovementOut,
				ProductID:    newUnit.ProductID,
				UnitID:       &newUnit.ID,
				RequestID:    &request.ID,
				ActorID:      actor.ID,
				Reason:       string(in.ReturnReasonCode),
				CostCenter:   in.CostCenter,
				TicketNumber: in.TicketNumber,
				Notes:        in.Notes,
			}
			if err := s.recordMovement(tx, &outMovement); err != nil {
				return err
			}
			if err := s.reconcileProduct(tx, actor.TenantID, newUnit.ProductID, -1); err != nil {
				return err
			}

			result = SubstitutionResult{
				OldUnitCode:                 oldUnit.Code,
				OldUnitStatus:               oldStatus,
				NewUnitCode:                 newUnit.Code,
				NewUnitStatus:               UnitAcquired,
				RequestID:                   request.ID,
				GTMINumber:                  request.GTMINumber,
				Disposition:                 in.OldDisposition,
				ReasonCode:                  in.ReturnReasonCode,
				ReasonDetail:                in.ReturnReasonDetail,
				CompatibilityOverrideReason: in.CompatibilityOverrideReason,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "unit.substituted", actor.TenantID, "stock", nil, map[string]any{
		"oldCode":     result.OldUnitCode,
		"newCode":     result.NewUnitCode,
		"disposition": string(result.Disposition),
		"requestId":   result.RequestID,
	})
	return &result, nil
}

// applyDispositionTx flips the old unit per disposition and appends the
// matching ledger row. Only the RETURN path re-enters available stock, so only
// it reconciles the aggregate.
func (s *Service) applyDispositionTx(tx *gorm.DB, tenantID, actorID uint, unit *ProductUnit, in SubstitutionInput, request *Request) (UnitStatus, error) {
	var (
		target       UnitStatus
		movementType MovementType
		reconcile    bool
	)
	switch in.OldDisposition {
	case DispositionReturn:
		target, movementType, reconcile = UnitInStock, MovementReturn, true
	case DispositionRepair:
		target, movementType = UnitInRepair, MovementRepairOut
	case DispositionScrap:
		target, movementType = UnitScrapped, MovementScrap
	case DispositionLost:
		target, movementType = UnitLost, MovementLost
	default:
		return "", validationErr("unknown_disposition")
	}

	if err := tx.Model(&ProductUnit{}).Where("id = ?", unit.ID).Updates(map[string]any{
		"status":              target,
		"assigned_to_user_id": nil,
		"acquired_by_id":      nil,
		"acquired_at":         nil,
		"pending_request_id":  nil,
	}).Error; err != nil {
		return "", fmt.Errorf("failed to apply %s to unit %s: %w", in.OldDisposition, unit.Code, err)
	}

	movement := StockMovement{
		TenantID:     tenantID,
		Type:         movementType,
		ProductID:    unit.ProductID,
		UnitID:       &unit.ID,
		RequestID:    &request.ID,
		ActorID:      actorID,
		Reason:       string(in.ReturnReasonCode),
		CostCenter:   in.CostCenter,
		TicketNumber: in.TicketNumber,
		Notes:        in.ReturnReasonDetail,
	}
	if err := s.recordMovement(tx, &movement); err != nil {
		return "", err
	}
	if reconcile {
		if err := s.reconcileProduct(tx, tenantID, unit.ProductID, +1); err != nil {
			return "", err
		}
	}
	return target, nil
}
