package gtmi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstituteReturnDisposition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Acquire(ctx, f.tenant.ID, f.requester.ID, "U1", AcquireOptions{})
	require.NoError(t, err)
	require.Equal(t, 4, f.reloadProduct(t).Quantity)

	result, err := f.svc.Substitute(ctx, f.warehouse, SubstitutionInput{
		OldCode:          "U1",
		NewCode:          "U2",
		OldDisposition:   DispositionReturn,
		ReturnReasonCode: ReasonTroca,
		AssignedToUserID: &f.requester.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, UnitInStock, result.OldUnitStatus)
	assert.Equal(t, UnitAcquired, result.NewUnitStatus)
	assert.Equal(t, DispositionReturn, result.Disposition)
	assert.NotEmpty(t, result.GTMINumber)

	assert.Equal(t, UnitInStock, f.unitByCode(t, "U1").Status)
	newUnit := f.unitByCode(t, "U2")
	assert.Equal(t, UnitAcquired, newUnit.Status)
	require.NotNil(t, newUnit.AssignedToUserID)
	assert.Equal(t, f.requester.ID, *newUnit.AssignedToUserID)

	// Old back in (+1), new handed out (-1): net unchanged.
	assert.Equal(t, 4, f.reloadProduct(t).Quantity)

	request, err := f.svc.GetRequest(ctx, f.tenant.ID, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, RequestSubstitution, request.Kind)
	assert.Equal(t, StatusSubmitted, request.Status)
	require.Len(t, request.Items, 2)
	assert.Equal(t, ItemRoleOld, request.Items[0].Role)
	assert.Equal(t, ItemRoleNew, request.Items[1].Role)
}

func TestSubstituteRepairDisposition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Acquire(ctx, f.tenant.ID, f.requester.ID, "U1", AcquireOptions{})
	require.NoError(t, err)

	result, err := f.svc.Substitute(ctx, f.warehouse, SubstitutionInput{
		OldCode:          "U1",
		NewCode:          "U2",
		OldDisposition:   DispositionRepair,
		ReturnReasonCode: ReasonAvaria,
	})
	require.NoError(t, err)
	assert.Equal(t, UnitInRepair, result.OldUnitStatus)
	assert.Equal(t, UnitInRepair, f.unitByCode(t, "U1").Status)

	// Old goes to repair, not back to stock: only the handover decrements.
	assert.Equal(t, 3, f.reloadProduct(t).Quantity)
}

func TestSubstituteScrapRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Acquire(ctx, f.tenant.ID, f.requester.ID, "U1", AcquireOptions{})
	require.NoError(t, err)

	_, err = f.svc.Substitute(ctx, f.warehouse, SubstitutionInput{
		OldCode:          "U1",
		NewCode:          "U2",
		OldDisposition:   DispositionScrap,
		ReturnReasonCode: ReasonAvaria,
	})
	assert.ErrorIs(t, err, ErrForbidden)

	// Nothing moved, but the refused attempt is on record.
	assert.Equal(t, UnitAcquired, f.unitByCode(t, "U1").Status)
	assert.Equal(t, UnitInStock, f.unitByCode(t, "U2").Status)
	assert.Equal(t, 4, f.reloadProduct(t).Quantity)

	denials, err := f.svc.ListDenials(ctx, f.tenant.ID)
	require.NoError(t, err)
	require.Len(t, denials, 1)
	assert.Equal(t, f.warehouse.ID, denials[0].ActorID)
	assert.Equal(t, PermUnitSubstitute, denials[0].PermissionKey)
	assert.Equal(t, "unit:U1", denials[0].Resource)

	var requests int64
	require.NoError(t, f.svc.db.Model(&Request{}).
		Where("tenant_id = ? AND kind = ?", f.tenant.ID, RequestSubstitution).
		Count(&requests).Error)
	assert.Zero(t, requests)
}

func TestSubstituteScrapAsAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Acquire(ctx, f.tenant.ID, f.requester.ID, "U1", AcquireOptions{})
	require.NoError(t, err)

	result, err := f.svc.Substitute(ctx, f.admin, SubstitutionInput{
		OldCode:          "U1",
		NewCode:          "U2",
		OldDisposition:   DispositionScrap,
		ReturnReasonCode: ReasonAvaria,
	})
	require.NoError(t, err)
	assert.Equal(t, UnitScrapped, result.OldUnitStatus)
	assert.Equal(t, UnitScrapped, f.unitByCode(t, "U1").Status)
	assert.Equal(t, 3, f.reloadProduct(t).Quantity)
}

func TestSubstituteLostAsAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Acquire(ctx, f.tenant.ID, f.requester.ID, "U1", AcquireOptions{})
	require.NoError(t, err)

	result, err := f.svc.Substitute(ctx, f.admin, SubstitutionInput{
		OldCode:          "U1",
		NewCode:          "U2",
		OldDisposition:   DispositionLost,
		ReturnReasonCode: ReasonExtravio,
	})
	require.NoError(t, err)
	assert.Equal(t, UnitLost, result.OldUnitStatus)

	movements, err := f.svc.ListMovements(ctx, f.tenant.ID, f.product.ID)
	require.NoError(t, err)
	var sawLost bool
	for _, m := range movements {
		if m.Type == MovementLost {
			sawLost = true
		}
	}
	assert.True(t, sawLost)
}

func TestSubstituteReasonValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Acquire(ctx, f.tenant.ID, f.requester.ID, "U1", AcquireOptions{})
	require.NoError(t, err)

	cases := []struct {
		name string
		in   SubstitutionInput
		code string
	}{
		{"same unit", SubstitutionInput{OldCode: "U1", NewCode: "U1",
			OldDisposition: DispositionReturn, ReturnReasonCode: ReasonTroca}, "same_unit"},
		{"unknown disposition", SubstitutionInput{OldCode: "U1", NewCode: "U2",
			OldDisposition: "SHRED", ReturnReasonCode: ReasonTroca}, "unknown_disposition"},
		{"avaria must repair or scrap", SubstitutionInput{OldCode: "U1", NewCode: "U2",
			OldDisposition: DispositionReturn, ReturnReasonCode: ReasonAvaria}, "avaria_requires_repair_or_scrap"},
		{"extravio must be lost", SubstitutionInput{OldCode: "U1", NewCode: "U2",
			OldDisposition: DispositionReturn, ReturnReasonCode: ReasonExtravio}, "extravio_requires_lost"},
		{"troca must return", SubstitutionInput{OldCode: "U1", NewCode: "U2",
			OldDisposition: DispositionRepair, ReturnReasonCode: ReasonTroca}, "reason_requires_return"},
		{"outro needs detail", SubstitutionInput{OldCode: "U1", NewCode: "U2",
			OldDisposition: DispositionReturn, ReturnReasonCode: ReasonOutro}, "outro_requires_detail"},
		{"unknown reason", SubstitutionInput{OldCode: "U1", NewCode: "U2",
			OldDisposition: DispositionReturn, ReturnReasonCode: "WHIM"}, "unknown_reason_code"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Substitute(ctx, f.warehouse, tc.in)
			require.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tc.code)
		})
	}

	// OUTRO with detail passes validation.
	_, err = f.svc.Substitute(ctx, f.warehouse, SubstitutionInput{
		OldCode:            "U1",
		NewCode:            "U2",
		OldDisposition:     DispositionReturn,
		ReturnReasonCode:   ReasonOutro,
		ReturnReasonDetail: "ergonomic replacement",
	})
	require.NoError(t, err)
}

func TestSubstituteSKUMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := &Product{TenantID: f.tenant.ID, SKU: "DOCK-1", Name: "Docking station", Status: ProductStockOut}
	require.NoError(t, f.svc.db.Create(other).Error)
	_, err := f.svc.Receive(ctx, f.tenant.ID, f.warehouse.ID, other.ID, []string{"D1"}, "INV-3")
	require.NoError(t, err)

	_, err = f.svc.Acquire(ctx, f.tenant.ID, f.requester.ID, "U1", AcquireOptions{})
	require.NoError(t, err)

	in := SubstitutionInput{
		OldCode:          "U1",
		NewCode:          "D1",
		OldDisposition:   DispositionReturn,
		ReturnReasonCode: ReasonTroca,
	}
	_, err = f.svc.Substitute(ctx, f.warehouse, in)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "sku_mismatch_requires_reason")

	in.CompatibilityOverrideReason = "same charger and dock pool"
	result, err := f.svc.Substitute(ctx, f.warehouse, in)
	require.NoError(t, err)
	assert.Equal(t, in.CompatibilityOverrideReason, result.CompatibilityOverrideReason)
}

func TestSubstituteNewUnitMustBeInStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Acquire(ctx, f.tenant.ID, f.requester.ID, "U1", AcquireOptions{})
	require.NoError(t, err)
	_, err = f.svc.Acquire(ctx, f.tenant.ID, f.supervisor.ID, "U2", AcquireOptions{})
	require.NoError(t, err)

	_, err = f.svc.Substitute(ctx, f.warehouse, SubstitutionInput{
		OldCode:          "U1",
		NewCode:          "U2",
		OldDisposition:   DispositionReturn,
		ReturnReasonCode: ReasonTroca,
	})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSubstituteRepairOfUnitAlreadyInRepair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RepairOut(ctx, f.tenant.ID, f.warehouse.ID, "U1", "")
	require.NoError(t, err)

	_, err = f.svc.Substitute(ctx, f.warehouse, SubstitutionInput{
		OldCode:          "U1",
		NewCode:          "U2",
		OldDisposition:   DispositionRepair,
		ReturnReasonCode: ReasonAvaria,
	})
	assert.ErrorIs(t, err, ErrAlreadyInRepair)
}

func TestSubstituteFailureConsumesNoSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	year := f.svc.now().Year()

	_, err := f.svc.Acquire(ctx, f.tenant.ID, f.requester.ID, "U1", AcquireOptions{})
	require.NoError(t, err)
	_, err = f.svc.Acquire(ctx, f.tenant.ID, f.supervisor.ID, "U2", AcquireOptions{})
	require.NoError(t, err)

	// Fails inside the transaction, after the units are loaded.
	_, err = f.svc.Substitute(ctx, f.warehouse, SubstitutionInput{
		OldCode:          "U1",
		NewCode:          "U2",
		OldDisposition:   DispositionReturn,
		ReturnReasonCode: ReasonTroca,
	})
	require.ErrorIs(t, err, ErrInvalidState)

	request := f.newRequest(t)
	assert.Equal(t, FormatGTMINumber(year, 1), request.GTMINumber)
}
