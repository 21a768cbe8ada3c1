package gtmi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsersHoldingPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	holders, err := f.svc.UsersHoldingPermission(ctx, f.tenant.ID, PermRequestApprove, &f.service.ID)
	require.NoError(t, err)

	assert.Contains(t, holders, f.supervisor.ID)
	assert.Contains(t, holders, f.admin.ID, "admins are always in the audience")
	assert.NotContains(t, holders, f.requester.ID)
	assert.NotContains(t, holders, f.warehouse.ID)
}

func TestUsersHoldingPermissionScopeFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.svc.CreateRequestingService(ctx, f.tenant.ID, f.admin.ID, "Financeiro")
	require.NoError(t, err)

	// Supervisor is scoped to Urbanismo; a Financeiro-scoped lookup skips them.
	holders, err := f.svc.UsersHoldingPermission(ctx, f.tenant.ID, PermRequestApprove, &other.ID)
	require.NoError(t, err)
	assert.NotContains(t, holders, f.supervisor.ID)
	assert.Contains(t, holders, f.admin.ID)
}

func TestUsersHoldingUnknownPermission(t *testing.T) {
	f := newFixture(t)

	holders, err := f.svc.UsersHoldingPermission(context.Background(), f.tenant.ID, "no.such.key", nil)
	require.NoError(t, err)
	assert.Equal(t, []uint{f.admin.ID}, holders)
}

func TestListServiceUsers(t *testing.T) {
	f := newFixture(t)

	users, err := f.svc.ListServiceUsers(context.Background(), f.tenant.ID, f.service.ID)
	require.NoError(t, err)

	assert.Contains(t, users, f.requester.ID)
	assert.Contains(t, users, f.supervisor.ID)
	assert.NotContains(t, users, f.warehouse.ID)
}
