package gtmi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureWorkflowDefinitionIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def1, err := f.svc.EnsureWorkflowDefinition(ctx, f.tenant.ID)
	require.NoError(t, err)
	def2, err := f.svc.EnsureWorkflowDefinition(ctx, f.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, def1.ID, def2.ID)

	var states, transitions int64
	require.NoError(t, f.svc.db.Model(&WorkflowState{}).Where("workflow_id = ?", def1.ID).Count(&states).Error)
	require.NoError(t, f.svc.db.Model(&WorkflowTransition{}).Where("workflow_id = ?", def1.ID).Count(&transitions).Error)
	assert.Equal(t, int64(len(workflowStateTable)), states)
	assert.Equal(t, int64(len(workflowTransitionTable)), transitions)
}

func TestTransitionNotAllowedMutatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	request := f.newRequest(t)

	_, err := f.svc.Transition(ctx, f.tenant.ID, request.ID, ActionApprove, f.supervisor.ID, "")
	assert.ErrorIs(t, err, ErrTransitionNotAllowed)

	reloaded, err := f.svc.GetRequest(ctx, f.tenant.ID, request.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, reloaded.Status)

	var events int64
	require.NoError(t, f.svc.db.Model(&WorkflowEvent{}).Where("request_id = ?", request.ID).Count(&events).Error)
	assert.Zero(t, events)
}

func TestApprovalFlowToFulfilled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	request := f.newRequest(t)

	steps := []struct {
		action WorkflowAction
		actor  uint
		state  string
		status RequestStatus
	}{
		{ActionSubmit, f.requester.ID, StateAwaitingSupervisor, StatusSubmitted},
		{ActionApprove, f.supervisor.ID, StateAwaitingAdmin, StatusSubmitted},
		{ActionPresidencyApprove, f.presidency.ID, StateApproved, StatusApproved},
		{ActionFulfill, f.warehouse.ID, StateFulfilled, StatusFulfilled},
	}
	for _, step := range steps {
		result, err := f.svc.Transition(ctx, f.tenant.ID, request.ID, step.action, step.actor, "")
		require.NoError(t, err, "action %s", step.action)
		assert.Equal(t, step.state, result.State)
		assert.Equal(t, step.status, result.Status)
	}

	view, err := f.svc.GetWorkflow(ctx, f.tenant.ID, request.ID)
	require.NoError(t, err)
	require.Len(t, view.Events, len(steps))
	for i, step := range steps {
		assert.Equal(t, step.action, view.Events[i].Action)
		assert.Equal(t, step.actor, view.Events[i].ActorID)
	}

	var instance WorkflowInstance
	require.NoError(t, f.svc.db.Where("request_id = ?", request.ID).First(&instance).Error)
	assert.NotNil(t, instance.CompletedAt)
}

func TestRejectionCompletesInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	request := f.newRequest(t)

	_, err := f.svc.Transition(ctx, f.tenant.ID, request.ID, ActionSubmit, f.requester.ID, "")
	require.NoError(t, err)

	result, err := f.svc.Transition(ctx, f.tenant.ID, request.ID, ActionReject, f.supervisor.ID, "missing budget line")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)

	// Terminal: nothing moves out of REJECTED.
	_, err = f.svc.Transition(ctx, f.tenant.ID, request.ID, ActionSubmit, f.requester.ID, "")
	assert.ErrorIs(t, err, ErrTransitionNotAllowed)

	var instance WorkflowInstance
	require.NoError(t, f.svc.db.Where("request_id = ?", request.ID).First(&instance).Error)
	assert.NotNil(t, instance.CompletedAt)
}

func TestTransitionPermissionLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	request := f.newRequest(t)

	perm, err := f.svc.TransitionPermission(ctx, f.tenant.ID, request.ID, ActionSubmit)
	require.NoError(t, err)
	assert.Empty(t, perm)

	_, err = f.svc.Transition(ctx, f.tenant.ID, request.ID, ActionSubmit, f.requester.ID, "")
	require.NoError(t, err)

	perm, err = f.svc.TransitionPermission(ctx, f.tenant.ID, request.ID, ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, PermRequestApprove, perm)

	_, err = f.svc.TransitionPermission(ctx, f.tenant.ID, request.ID, ActionFulfill)
	assert.ErrorIs(t, err, ErrTransitionNotAllowed)
}

func TestTransitionPermissionNamesMissingStateByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	request := f.newRequest(t)

	instance, err := f.svc.EnsureInstance(ctx, f.tenant.ID, request.ID)
	require.NoError(t, err)

	// Instance pointing at a state row that no longer exists still yields a
	// diagnosable TransitionNotAllowed, naming the state by id.
	require.NoError(t, f.svc.db.Model(&WorkflowInstance{}).
		Where("id = ?", instance.ID).Update("current_state_id", 9999).Error)

	_, err = f.svc.TransitionPermission(ctx, f.tenant.ID, request.ID, ActionApprove)
	require.ErrorIs(t, err, ErrTransitionNotAllowed)
	assert.Contains(t, err.Error(), "state 9999")
}

func TestNormalizeAction(t *testing.T) {
	cases := []struct {
		action       string
		targetStatus string
		want         WorkflowAction
		wantErr      bool
	}{
		{"SUBMIT", "", ActionSubmit, false},
		{"PRESIDENCY_APPROVE", "", ActionPresidencyApprove, false},
		{"", "SUBMITTED", ActionSubmit, false},
		{"", "APPROVED", ActionApprove, false},
		{"", "REJECTED", ActionReject, false},
		{"", "FULFILLED", ActionFulfill, false},
		{"DANCE", "", "", true},
		{"", "DRAFT", "", true},
		{"", "", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeAction(tc.action, tc.targetStatus)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidInput, "action=%q target=%q", tc.action, tc.targetStatus)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestCanSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	request := f.newRequest(t)

	ownerGrants, err := f.svc.ResolveGrants(ctx, f.requester)
	require.NoError(t, err)
	assert.True(t, CanSubmit(f.requester, ownerGrants, request))

	strangerGrants, err := f.svc.ResolveGrants(ctx, f.warehouse)
	require.NoError(t, err)
	assert.False(t, CanSubmit(f.warehouse, strangerGrants, request))

	// The unscoped status-change grant lets a non-owner submit.
	assert.True(t, CanSubmit(f.warehouse, []Grant{{Key: PermStatusChange}}, request))
	assert.False(t, CanSubmit(nil, ownerGrants, request))
}

func TestEnsureInstanceSeedsFromStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	request := f.newRequest(t)

	instance, err := f.svc.EnsureInstance(ctx, f.tenant.ID, request.ID)
	require.NoError(t, err)

	again, err := f.svc.EnsureInstance(ctx, f.tenant.ID, request.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, again.ID)

	var state WorkflowState
	require.NoError(t, f.svc.db.First(&state, instance.CurrentStateID).Error)
	assert.Equal(t, StateDraft, state.Name)
}
