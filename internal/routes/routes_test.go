package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	gtmi "github.com/RomaoFilipe/StockBackup-sub004"
)

type testEnv struct {
	app *fiber.App
	svc *gtmi.Service
	db  *gorm.DB

	tenant  *gtmi.Tenant
	owner   *gtmi.User
	other   *gtmi.User
	product *gtmi.Product
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	svc, err := gtmi.NewService(gtmi.Config{DB: db, AutoMigrate: true})
	require.NoError(t, err)

	app := fiber.New()
	Setup(app, svc)

	tenant, err := svc.CreateTenant(ctx, "Camara Municipal")
	require.NoError(t, err)
	owner, err := svc.CreateUser(ctx, tenant.ID, "Owner", "owner@town.pt", gtmi.RoleUser, nil)
	require.NoError(t, err)
	other, err := svc.CreateUser(ctx, tenant.ID, "Other", "other@town.pt", gtmi.RoleUser, nil)
	require.NoError(t, err)

	product := &gtmi.Product{TenantID: tenant.ID, SKU: "LAPTOP-14", Name: "Laptop", Status: gtmi.ProductStockOut}
	require.NoError(t, db.Create(product).Error)

	return &testEnv{app: app, svc: svc, db: db, tenant: tenant, owner: owner, other: other, product: product}
}

func (e *testEnv) newRequest(t *testing.T) *gtmi.Request {
	t.Helper()
	request, err := e.svc.CreateRequest(context.Background(), e.tenant.ID, e.owner.ID, nil,
		[]gtmi.RequestItemInput{{ProductID: e.product.ID, Quantity: 1}})
	require.NoError(t, err)
	return request
}

func (e *testEnv) postAction(t *testing.T, asUser *gtmi.User, requestID uint, body map[string]any) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/v1/requests/%d/actions", requestID), bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", fmt.Sprint(asUser.TenantID))
	req.Header.Set("X-User-ID", fmt.Sprint(asUser.ID))

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

// The owner may SUBMIT even when the configured transition carries a required
// permission they do not hold; a non-owner without the permission may not.
func TestSubmitOwnerBypassesTransitionPermission(t *testing.T) {
	e := newTestEnv(t)
	request := e.newRequest(t)

	res := e.db.Model(&gtmi.WorkflowTransition{}).
		Where("action = ?", gtmi.ActionSubmit).
		Update("required_permission", gtmi.PermStatusChange)
	require.NoError(t, res.Error)
	require.EqualValues(t, 1, res.RowsAffected)

	resp := e.postAction(t, e.other, request.ID, map[string]any{"action": "SUBMIT"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.postAction(t, e.owner, request.ID, map[string]any{"action": "SUBMIT"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	reloaded, err := e.svc.GetRequest(context.Background(), e.tenant.ID, request.ID)
	require.NoError(t, err)
	assert.Equal(t, gtmi.StatusSubmitted, reloaded.Status)
}

func TestSubmitStrangerForbidden(t *testing.T) {
	e := newTestEnv(t)
	request := e.newRequest(t)

	resp := e.postAction(t, e.other, request.ID, map[string]any{"action": "SUBMIT"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	reloaded, err := e.svc.GetRequest(context.Background(), e.tenant.ID, request.ID)
	require.NoError(t, err)
	assert.Equal(t, gtmi.StatusDraft, reloaded.Status)
}

func TestLegacyTargetStatusBody(t *testing.T) {
	e := newTestEnv(t)
	request := e.newRequest(t)

	resp := e.postAction(t, e.owner, request.ID, map[string]any{"targetStatus": "SUBMITTED"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	reloaded, err := e.svc.GetRequest(context.Background(), e.tenant.ID, request.ID)
	require.NoError(t, err)
	assert.Equal(t, gtmi.StatusSubmitted, reloaded.Status)
}

func TestActionErrorMapping(t *testing.T) {
	e := newTestEnv(t)
	request := e.newRequest(t)

	// No edge from DRAFT for APPROVE: conflict, not forbidden.
	resp := e.postAction(t, e.owner, request.ID, map[string]any{"action": "APPROVE"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.postAction(t, e.owner, request.ID, map[string]any{"action": "DANCE"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.postAction(t, e.owner, 99999, map[string]any{"action": "SUBMIT"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIdentityHeadersRequired(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/grants", nil)
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
