package gtmi

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// A pooled second connection would see its own empty in-memory database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	svc, err := NewService(Config{
		DB:                 newTestDB(t),
		AutoMigrate:        true,
		EnableAuditLogging: true,
	})
	require.NoError(t, err)
	return svc
}

func newTestServiceAt(t *testing.T, now time.Time) *Service {
	t.Helper()

	svc, err := NewService(Config{
		DB:          newTestDB(t),
		AutoMigrate: true,
		Now:         func() time.Time { return now },
	})
	require.NoError(t, err)
	return svc
}

// fixture is one tenant with the seeded catalog, one requesting service, one
// user per system role, and a product received as five serialized units.
type fixture struct {
	svc        *Service
	tenant     *Tenant
	admin      *User
	requester  *User
	supervisor *User
	presidency *User
	warehouse  *User
	service    *RequestingService
	product    *Product
	units      []ProductUnit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	svc := newTestService(t)

	tenant, err := svc.CreateTenant(ctx, "Camara Municipal")
	require.NoError(t, err)

	admin, err := svc.CreateUser(ctx, tenant.ID, "Alice Admin", "alice@town.pt", RoleAdmin, nil)
	require.NoError(t, err)

	service, err := svc.CreateRequestingService(ctx, tenant.ID, admin.ID, "Urbanismo")
	require.NoError(t, err)

	f := &fixture{svc: svc, tenant: tenant, admin: admin, service: service}
	f.requester = f.newUserWithRole(t, "Rui Requester", "rui@town.pt", "Requester", &service.ID)
	f.supervisor = f.newUserWithRole(t, "Sofia Supervisor", "sofia@town.pt", "Supervisor", &service.ID)
	f.presidency = f.newUserWithRole(t, "Pedro Presidencia", "pedro@town.pt", "Presidency", nil)
	f.warehouse = f.newUserWithRole(t, "Vera Armazem", "vera@town.pt", "Warehouse", nil)

	f.product = &Product{TenantID: tenant.ID, SKU: "LAPTOP-14", Name: "Laptop 14\"", Status: ProductStockOut}
	require.NoError(t, svc.db.Create(f.product).Error)

	units, err := svc.Receive(ctx, tenant.ID, f.warehouse.ID, f.product.ID,
		[]string{"U1", "U2", "U3", "U4", "U5"}, "INV-2026-001")
	require.NoError(t, err)
	f.units = units

	return f
}

func (f *fixture) newUserWithRole(t *testing.T, name, email, roleName string, serviceID *uint) *User {
	t.Helper()
	ctx := context.Background()

	user, err := f.svc.CreateUser(ctx, f.tenant.ID, name, email, RoleUser, serviceID)
	require.NoError(t, err)

	_, err = f.svc.CreateAssignment(ctx, f.tenant.ID, f.admin.ID, AssignmentInput{
		UserID:              user.ID,
		RoleID:              f.roleID(t, roleName),
		RequestingServiceID: serviceID,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) roleID(t *testing.T, name string) uint {
	t.Helper()

	var role AccessRole
	require.NoError(t, f.svc.db.
		Where("tenant_id = ? AND name = ?", f.tenant.ID, name).
		First(&role).Error)
	return role.ID
}

func (f *fixture) reloadProduct(t *testing.T) *Product {
	t.Helper()

	product, err := f.svc.GetProduct(context.Background(), f.tenant.ID, f.product.ID)
	require.NoError(t, err)
	return product
}

func (f *fixture) unitByCode(t *testing.T, code string) *ProductUnit {
	t.Helper()

	var unit ProductUnit
	require.NoError(t, f.svc.db.
		Where("tenant_id = ? AND code = ?", f.tenant.ID, code).
		First(&unit).Error)
	return &unit
}

func (f *fixture) newRequest(t *testing.T) *Request {
	t.Helper()

	request, err := f.svc.CreateRequest(context.Background(), f.tenant.ID, f.requester.ID, &f.service.ID,
		[]RequestItemInput{{ProductID: f.product.ID, Quantity: 1}})
	require.NoError(t, err)
	return request
}
