package gtmi

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// workflowKey is the single workflow template driving request documents.
const workflowKey = "requests"

// workflowStateTable is the seeded state set. The exact state set is tenant
// configuration held as rows; this is only the bootstrap content.
var workflowStateTable = []struct {
	Name   string
	Status RequestStatus
}{
	{StateDraft, StatusDraft},
	{StateAwaitingSupervisor, StatusSubmitted},
	{StateAwaitingAdmin, StatusSubmitted},
	{StateApproved, StatusApproved},
	{StateRejected, StatusRejected},
	{StateFulfilled, StatusFulfilled},
}

// workflowTransitionTable is the seeded transition table. SUBMIT carries no
// permission because the boundary special-cases it for owner and creator.
var workflowTransitionTable = []struct {
	From       string
	Action     WorkflowAction
	To         string
	Permission string
}{
	{StateDraft, ActionSubmit, StateAwaitingSupervisor, ""},
	{StateAwaitingSupervisor, ActionApprove, StateAwaitingAdmin, PermRequestApprove},
	{StateAwaitingSupervisor, ActionReject, StateRejected, PermRequestReject},
	{StateAwaitingAdmin, ActionPresidencyApprove, StateApproved, PermRequestFinalApprove},
	{StateAwaitingAdmin, ActionPresidencyReject, StateRejected, PermRequestFinalReject},
	{StateApproved, ActionFulfill, StateFulfilled, PermRequestFulfill},
}

// TransitionResult reports where a transition landed.
type TransitionResult struct {
	State  string        `json:"state"`
	Status RequestStatus `json:"status"`
}

// WorkflowView is the query response for one request's workflow.
type WorkflowView struct {
	Definition   WorkflowDefinition `json:"definition"`
	CurrentState WorkflowState      `json:"currentState"`
	Events       []WorkflowEvent    `json:"events"`
}

// EnsureWorkflowDefinition idempotently creates the tenant's workflow
// definition, its states and its transition table. Safe to call on every
// request.
func (s *Service) EnsureWorkflowDefinition(ctx context.Context, tenantID uint) (*WorkflowDefinition, error) {
	var def WorkflowDefinition
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		def = WorkflowDefinition{TenantID: tenantID, Key: workflowKey, Version: 1}
		if err := tx.Where("tenant_id = ? AND key = ? AND version = ?", tenantID, workflowKey, 1).
			FirstOrCreate(&def).Error; err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("failed to ensure workflow definition: %w", err)
		}
		if def.ID == 0 {
			if err := tx.Where("tenant_id = ? AND key = ? AND version = ?", tenantID, workflowKey, 1).
				First(&def).Error; err != nil {
				return fmt.Errorf("failed to fetch workflow definition: %w", err)
			}
		}

		stateIDs := make(map[string]uint, len(workflowStateTable))
		for i, st := range workflowStateTable {
			state := WorkflowState{WorkflowID: def.ID, Name: st.Name, Status: st.Status, Position: i}
			if err := tx.Where("workflow_id = ? AND name = ?", def.ID, st.Name).
				FirstOrCreate(&state).Error; err != nil {
				return fmt.Errorf("failed to ensure workflow state %s: %w", st.Name, err)
			}
			stateIDs[st.Name] = state.ID
		}

		for _, tr := range workflowTransitionTable {
			transition := WorkflowTransition{
				WorkflowID:         def.ID,
				FromStateID:        stateIDs[tr.From],
				Action:             tr.Action,
				ToStateID:          stateIDs[tr.To],
				RequiredPermission: tr.Permission,
			}
			if err := tx.Where("workflow_id = ? AND from_state_id = ? AND action = ?",
				def.ID, transition.FromStateID, tr.Action).
				FirstOrCreate(&transition).Error; err != nil {
				return fmt.Errorf("failed to ensure transition %s/%s: %w", tr.From, tr.Action, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// ensureInstanceTx attaches a workflow instance to a request inside the
// caller's transaction, seeded at the first state whose mapped status equals
// the request's current status. Returns the existing instance when attached.
func (s *Service) ensureInstanceTx(tx *gorm.DB, def *WorkflowDefinition, request *Request) (*WorkflowInstance, error) {
	var instance WorkflowInstance
	err := tx.Where("request_id = ?", request.ID).First(&instance).Error
	if err == nil {
		return &instance, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to fetch workflow instance: %w", err)
	}

	var seed WorkflowState
	if err := tx.Where("workflow_id = ? AND status = ?", def.ID, request.Status).
		Order("position").First(&seed).Error; err != nil {
		return nil, fmt.Errorf("no workflow state maps status %s: %w", request.Status, err)
	}

	instance = WorkflowInstance{
		TenantID:       request.TenantID,
		RequestID:      request.ID,
		WorkflowID:     def.ID,
		CurrentStateID: seed.ID,
	}
	if err := tx.Create(&instance).Error; err != nil {
		return nil, fmt.Errorf("failed to create workflow instance: %w", err)
	}
	return &instance, nil
}

// EnsureInstance idempotently attaches a workflow instance to a request.
func (s *Service) EnsureInstance(ctx context.Context, tenantID, requestID uint) (*WorkflowInstance, error) {
	def, err := s.EnsureWorkflowDefinition(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var instance *WorkflowInstance
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var request Request
		if err := tx.Where("tenant_id = ?", tenantID).First(&request, requestID).Error; err != nil {
			return ErrNotFound
		}
		instance, err = s.ensureInstanceTx(tx, def, &request)
		return err
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// TransitionPermission returns the permission key required for an action from
// the request's current state, or ErrTransitionNotAllowed when no edge exists.
// Callers check it with HasPermission before invoking Transition; an empty key
// means the transition itself requires none.
func (s *Service) TransitionPermission(ctx context.Context, tenantID, requestID uint, action WorkflowAction) (string, error) {
	def, err := s.EnsureWorkflowDefinition(ctx, tenantID)
	if err != nil {
		return "", err
	}

	instance, err := s.EnsureInstance(ctx, tenantID, requestID)
	if err != nil {
		return "", err
	}

	var transition WorkflowTransition
	err = s.db.WithContext(ctx).
		Where("workflow_id = ? AND from_state_id = ? AND action = ?", def.ID, instance.CurrentStateID, action).
		First(&transition).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		name := fmt.Sprintf("state %d", instance.CurrentStateID)
		var state WorkflowState
		if err := s.db.WithContext(ctx).First(&state, instance.CurrentStateID).Error; err == nil {
			name = state.Name
		}
		return "", transitionErr(name, action)
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch transition: %w", err)
	}
	return transition.RequiredPermission, nil
}

// Transition executes one workflow action on a request.
//
// The transition lookup happens before anything else; a missing edge fails
// with TransitionNotAllowed and mutates nothing. On a match, one transaction
// writes the workflow event, moves the instance pointer, and updates the
// request's denormalized status. RETURN requests entering APPROVED are
// finalized in the same transaction (see finalizeReturnTx).
func (s *Service) Transition(ctx context.Context, tenantID, requestID uint, action WorkflowAction, actorID uint, note string) (*TransitionResult, error) {
	def, err := s.EnsureWorkflowDefinition(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var result TransitionResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var request Request
		if err := tx.Where("tenant_id = ?", tenantID).First(&request, requestID).Error; err != nil {
			return ErrNotFound
		}

		instance, err := s.ensureInstanceTx(tx, def, &request)
		if err != nil {
			return err
		}
		return s.transitionTx(tx, def, &request, instance, action, actorID, note, &result)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "request.status_changed", tenantID, "approvers", nil, map[string]any{
		"requestId": requestID,
		"action":    string(action),
		"status":    string(result.Status),
	})
	return &result, nil
}

// transitionTx applies one transition inside an open transaction. Split out so
// lifecycle operations can drive a freshly created request through SUBMIT
// atomically with their own writes.
func (s *Service) transitionTx(tx *gorm.DB, def *WorkflowDefinition, request *Request, instance *WorkflowInstance, action WorkflowAction, actorID uint, note string, result *TransitionResult) error {
	var from WorkflowState
	if err := tx.First(&from, instance.CurrentStateID).Error; err != nil {
		return fmt.Errorf("workflow instance %d points at missing state %d: %w", instance.ID, instance.CurrentStateID, err)
	}

	var transition WorkflowTransition
	err := tx.Where("workflow_id = ? AND from_state_id = ? AND action = ?", def.ID, from.ID, action).
		First(&transition).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return transitionErr(from.Name, action)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch transition: %w", err)
	}

	var to WorkflowState
	if err := tx.First(&to, transition.ToStateID).Error; err != nil {
		return fmt.Errorf("transition %d points at missing state %d: %w", transition.ID, transition.ToStateID, err)
	}

	event := WorkflowEvent{
		TenantID:    request.TenantID,
		RequestID:   request.ID,
		InstanceID:  instance.ID,
		Action:      action,
		ActorID:     actorID,
		FromStateID: from.ID,
		ToStateID:   to.ID,
		Note:        note,
		CreatedAt:   s.now(),
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("failed to record workflow event: %w", err)
	}

	updates := map[string]any{"current_state_id": to.ID}
	if to.Status == StatusRejected || to.Status == StatusFulfilled {
		completed := s.now()
		updates["completed_at"] = &completed
	}
	if err := tx.Model(&WorkflowInstance{}).Where("id = ?", instance.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to move workflow instance: %w", err)
	}

	if err := tx.Model(&Request{}).Where("id = ?", request.ID).
		Update("status", to.Status).Error; err != nil {
		return fmt.Errorf("failed to update request status: %w", err)
	}

	if request.Kind == RequestReturn && to.Status == StatusApproved {
		if err := s.finalizeReturnTx(tx, request, actorID); err != nil {
			return err
		}
	}

	result.State = to.Name
	result.Status = to.Status
	return nil
}

// finalizeReturnTx applies the deferred unit status change of a return
// request once it is finally approved: each referenced unit re-enters stock
// with a RETURN movement and a positive reconcile.
func (s *Service) finalizeReturnTx(tx *gorm.DB, request *Request, actorID uint) error {
	var items []RequestItem
	if err := tx.Where("request_id = ?", request.ID).Order("position").Find(&items).Error; err != nil {
		return fmt.Errorf("failed to fetch return items: %w", err)
	}

	for _, item := range items {
		if item.UnitID == nil {
			continue
		}
		var unit ProductUnit
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ?", request.TenantID).First(&unit, *item.UnitID).Error; err != nil {
			return fmt.Errorf("return request %d references missing unit %d: %w", request.ID, *item.UnitID, err)
		}
		if unit.Status != UnitAcquired {
			return invalidStateErr(unit.Status)
		}

		if err := tx.Model(&ProductUnit{}).Where("id = ?", unit.ID).Updates(map[string]any{
			"status":              UnitInStock,
			"assigned_to_user_id": nil,
			"acquired_by_id":      nil,
			"acquired_at":         nil,
			"pending_request_id":  nil,
		}).Error; err != nil {
			return fmt.Errorf("failed to return unit %s to stock: %w", unit.Code, err)
		}

		movement := StockMovement{
			TenantID:  request.TenantID,
			Type:      MovementReturn,
			ProductID: unit.ProductID,
			UnitID:    &unit.ID,
			RequestID: &request.ID,
			ActorID:   actorID,
		}
		if err := s.recordMovement(tx, &movement); err != nil {
			return err
		}
		if err := s.reconcileProduct(tx, request.TenantID, unit.ProductID, +1); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeAction maps the workflow-action request body onto the engine's
// action enum. Legacy bodies carry a target status instead of an action; they
// are normalized here so the engine never sees the old shape.
func NormalizeAction(action string, targetStatus string) (WorkflowAction, error) {
	if action != "" {
		switch WorkflowAction(action) {
		case ActionSubmit, ActionApprove, ActionReject, ActionFulfill,
			ActionPresidencyApprove, ActionPresidencyReject:
			return WorkflowAction(action), nil
		}
		return "", fmt.Errorf("%w: unknown action %s", ErrInvalidInput, action)
	}

	switch RequestStatus(targetStatus) {
	case StatusSubmitted:
		return ActionSubmit, nil
	case StatusApproved:
		return ActionApprove, nil
	case StatusRejected:
		return ActionReject, nil
	case StatusFulfilled:
		return ActionFulfill, nil
	}
	return "", fmt.Errorf("%w: no action for target status %q", ErrInvalidInput, targetStatus)
}

// GetWorkflow returns the definition, current state and event history of one
// request, events in execution order.
func (s *Service) GetWorkflow(ctx context.Context, tenantID, requestID uint) (*WorkflowView, error) {
	def, err := s.EnsureWorkflowDefinition(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	instance, err := s.EnsureInstance(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}

	var state WorkflowState
	if err := s.db.WithContext(ctx).First(&state, instance.CurrentStateID).Error; err != nil {
		return nil, fmt.Errorf("workflow instance %d points at missing state %d: %w", instance.ID, instance.CurrentStateID, err)
	}

	var events []WorkflowEvent
	if err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).Order("id").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch workflow events: %w", err)
	}

	return &WorkflowView{Definition: *def, CurrentState: state, Events: events}, nil
}

// CanSubmit reports whether an actor may SUBMIT a request without a transition
// permission: always the owner or creator, or anyone holding the unscoped
// status-change permission.
func CanSubmit(actor *User, grants []Grant, request *Request) bool {
	if actor == nil {
		return false
	}
	if request.OwnerID == actor.ID || request.CreatedByID == actor.ID {
		return true
	}
	return HasPermission(grants, PermStatusChange, nil)
}
