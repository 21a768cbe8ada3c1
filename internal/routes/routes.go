package routes

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	gtmi "github.com/RomaoFilipe/StockBackup-sub004"
)

// Setup wires the HTTP surface of the service. Identity comes from the
// X-Tenant-ID and X-User-ID headers; the gateway in front of this service is
// expected to have authenticated them.
func Setup(app *fiber.App, svc *gtmi.Service) {
	api := app.Group("/api/v1", identityMiddleware(svc))

	api.Get("/me/grants", func(c *fiber.Ctx) error {
		grants, err := svc.ResolveGrants(c.Context(), actor(c))
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(fiber.Map{"grants": grants})
	})

	api.Post("/requests", func(c *fiber.Ctx) error {
		var body struct {
			RequestingServiceID *uint                  `json:"requestingServiceId"`
			Items               []gtmi.RequestItemInput `json:"items"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}

		user := actor(c)
		if err := svc.CheckPermission(c.Context(), user, gtmi.PermRequestCreate, body.RequestingServiceID); err != nil {
			return sendError(c, err)
		}

		request, err := svc.CreateRequest(c.Context(), user.TenantID, user.ID, body.RequestingServiceID, body.Items)
		if err != nil {
			return sendError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(request)
	})

	api.Get("/requests", func(c *fiber.Ctx) error {
		user := actor(c)
		var owner *uint
		if c.QueryBool("mine") {
			owner = &user.ID
		} else if err := svc.CheckPermission(c.Context(), user, gtmi.PermRequestView, nil); err != nil {
			return sendError(c, err)
		}
		requests, err := svc.ListRequests(c.Context(), user.TenantID, owner)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(fiber.Map{"requests": requests})
	})

	api.Get("/requests/:id", func(c *fiber.Ctx) error {
		user := actor(c)
		id, err := paramID(c, "id")
		if err != nil {
			return sendError(c, err)
		}
		request, err := svc.GetRequest(c.Context(), user.TenantID, id)
		if err != nil {
			return sendError(c, err)
		}
		if request.OwnerID != user.ID && request.CreatedByID != user.ID {
			if err := svc.CheckPermission(c.Context(), user, gtmi.PermRequestView, request.RequestingServiceID); err != nil {
				return sendError(c, err)
			}
		}
		return c.JSON(request)
	})

	api.Get("/requests/:id/workflow", func(c *fiber.Ctx) error {
		user := actor(c)
		id, err := paramID(c, "id")
		if err != nil {
			return sendError(c, err)
		}
		request, err := svc.GetRequest(c.Context(), user.TenantID, id)
		if err != nil {
			return sendError(c, err)
		}
		if request.OwnerID != user.ID && request.CreatedByID != user.ID {
			if err := svc.CheckPermission(c.Context(), user, gtmi.PermRequestView, request.RequestingServiceID); err != nil {
				return sendError(c, err)
			}
		}
		view, err := svc.GetWorkflow(c.Context(), user.TenantID, id)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(view)
	})

	api.Post("/requests/:id/actions", func(c *fiber.Ctx) error {
		var body struct {
			Action       string `json:"action"`
			TargetStatus string `json:"targetStatus"`
			Note         string `json:"note"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}

		action, err := gtmi.NormalizeAction(body.Action, body.TargetStatus)
		if err != nil {
			return sendError(c, err)
		}

		user := actor(c)
		id, err := paramID(c, "id")
		if err != nil {
			return sendError(c, err)
		}
		request, err := svc.GetRequest(c.Context(), user.TenantID, id)
		if err != nil {
			return sendError(c, err)
		}

		// Transition lookup first: an impossible move reports 409 even when
		// the caller also lacks the permission.
		permission, err := svc.TransitionPermission(c.Context(), user.TenantID, id, action)
		if err != nil {
			return sendError(c, err)
		}

		grants, err := svc.ResolveGrants(c.Context(), user)
		if err != nil {
			return sendError(c, err)
		}
		// SUBMIT is always open to the owner or creator, even when the
		// configured transition carries a required permission.
		switch {
		case action == gtmi.ActionSubmit && gtmi.CanSubmit(user, grants, request):
		case permission == "":
			if action == gtmi.ActionSubmit {
				return sendError(c, gtmi.ErrForbidden)
			}
		default:
			scope := request.RequestingServiceID
			if gtmi.IsFinalPermission(permission) {
				scope = nil
			}
			if !gtmi.HasPermission(grants, permission, scope) {
				return sendError(c, gtmi.ErrForbidden)
			}
		}

		result, err := svc.Transition(c.Context(), user.TenantID, id, action, user.ID, body.Note)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(result)
	})

	api.Post("/units/:code/acquire", func(c *fiber.Ctx) error {
		var body struct {
			AssignedToUserID *uint  `json:"assignedToUserId"`
			Reason           string `json:"reason"`
			CostCenter       string `json:"costCenter"`
			TicketNumber     string `json:"ticketNumber"`
			Notes            string `json:"notes"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}

		user := actor(c)
		if err := svc.CheckPermission(c.Context(), user, gtmi.PermUnitAcquire, nil); err != nil {
			return sendError(c, err)
		}

		unit, err := svc.Acquire(c.Context(), user.TenantID, user.ID, c.Params("code"), gtmi.AcquireOptions{
			AssigneeID:   body.AssignedToUserID,
			Reason:       body.Reason,
			CostCenter:   body.CostCenter,
			TicketNumber: body.TicketNumber,
			Notes:        body.Notes,
		})
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(unit)
	})

	api.Post("/units/:code/return", func(c *fiber.Ctx) error {
		var body struct {
			Notes string `json:"notes"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}

		user := actor(c)
		if err := svc.CheckPermission(c.Context(), user, gtmi.PermUnitReturn, nil); err != nil {
			return sendError(c, err)
		}

		request, err := svc.Return(c.Context(), user.TenantID, user.ID, c.Params("code"), body.Notes)
		if err != nil {
			return sendError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(request)
	})

	api.Post("/units/:code/repair-out", func(c *fiber.Ctx) error {
		var body struct {
			Reason string `json:"reason"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}

		user := actor(c)
		if err := svc.CheckPermission(c.Context(), user, gtmi.PermUnitRepair, nil); err != nil {
			return sendError(c, err)
		}

		unit, err := svc.RepairOut(c.Context(), user.TenantID, user.ID, c.Params("code"), body.Reason)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(unit)
	})

	api.Post("/units/:code/repair-in", func(c *fiber.Ctx) error {
		var body struct {
			Notes string `json:"notes"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}

		user := actor(c)
		if err := svc.CheckPermission(c.Context(), user, gtmi.PermUnitRepair, nil); err != nil {
			return sendError(c, err)
		}

		unit, err := svc.RepairIn(c.Context(), user.TenantID, user.ID, c.Params("code"), body.Notes)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(unit)
	})

	api.Post("/substitutions", func(c *fiber.Ctx) error {
		var body gtmi.SubstitutionInput
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}

		user := actor(c)
		if err := svc.CheckPermission(c.Context(), user, gtmi.PermUnitSubstitute, nil); err != nil {
			return sendError(c, err)
		}

		result, err := svc.Substitute(c.Context(), user, body)
		if err != nil {
			return sendError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})

	api.Post("/stock/receive", func(c *fiber.Ctx) error {
		var body struct {
			ProductID  uint     `json:"productId"`
			Codes      []string `json:"codes"`
			InvoiceRef string   `json:"invoiceRef"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}

		user := actor(c)
		if err := svc.CheckPermission(c.Context(), user, gtmi.PermStockReceive, nil); err != nil {
			return sendError(c, err)
		}

		units, err := svc.Receive(c.Context(), user.TenantID, user.ID, body.ProductID, body.Codes, body.InvoiceRef)
		if err != nil {
			return sendError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"units": units})
	})

	api.Get("/products/:id", func(c *fiber.Ctx) error {
		user := actor(c)
		if err := svc.CheckPermission(c.Context(), user, gtmi.PermStockView, nil); err != nil {
			return sendError(c, err)
		}
		id, err := paramID(c, "id")
		if err != nil {
			return sendError(c, err)
		}
		product, err := svc.GetProduct(c.Context(), user.TenantID, id)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(product)
	})

	api.Get("/products/:id/movements", func(c *fiber.Ctx) error {
		user := actor(c)
		if err := svc.CheckPermission(c.Context(), user, gtmi.PermStockView, nil); err != nil {
			return sendError(c, err)
		}
		id, err := paramID(c, "id")
		if err != nil {
			return sendError(c, err)
		}
		movements, err := svc.ListMovements(c.Context(), user.TenantID, id)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(fiber.Map{"movements": movements})
	})

	setupAdmin(api, svc)
}

func setupAdmin(api fiber.Router, svc *gtmi.Service) {
	admin := api.Group("/admin", func(c *fiber.Ctx) error {
		if err := svc.CheckPermission(c.Context(), actor(c), gtmi.PermRolesManage, nil); err != nil {
			return sendError(c, err)
		}
		return c.Next()
	})

	admin.Get("/roles", func(c *fiber.Ctx) error {
		roles, err := svc.ListRoles(c.Context(), actor(c).TenantID)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(fiber.Map{"roles": roles})
	})

	admin.Post("/roles", func(c *fiber.Ctx) error {
		var body struct {
			Name        string   `json:"name"`
			Description string   `json:"description"`
			Permissions []string `json:"permissions"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}
		user := actor(c)
		role, err := svc.CreateRole(c.Context(), user.TenantID, user.ID, body.Name, body.Description, body.Permissions)
		if err != nil {
			return sendError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(role)
	})

	admin.Post("/roles/clone", func(c *fiber.Ctx) error {
		var body struct {
			SystemRole  string `json:"systemRole"`
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}
		user := actor(c)
		role, err := svc.CloneSystemRole(c.Context(), user.TenantID, user.ID, body.SystemRole, body.Name, body.Description)
		if err != nil {
			return sendError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(role)
	})

	admin.Put("/roles/:id/permissions", func(c *fiber.Ctx) error {
		var body struct {
			Permissions []string `json:"permissions"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}
		id, err := paramID(c, "id")
		if err != nil {
			return sendError(c, err)
		}
		user := actor(c)
		if err := svc.UpdateRolePermissions(c.Context(), user.TenantID, user.ID, id, body.Permissions); err != nil {
			return sendError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Delete("/roles/:id", func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return sendError(c, err)
		}
		user := actor(c)
		if err := svc.DeleteRole(c.Context(), user.TenantID, user.ID, id); err != nil {
			return sendError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Get("/permissions", func(c *fiber.Ctx) error {
		perms, err := svc.ListPermissions(c.Context(), actor(c).TenantID)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(fiber.Map{"permissions": perms})
	})

	admin.Post("/permissions", func(c *fiber.Ctx) error {
		var body struct {
			Key         string `json:"key"`
			Description string `json:"description"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}
		user := actor(c)
		perm, err := svc.CreatePermission(c.Context(), user.TenantID, user.ID, body.Key, body.Description)
		if err != nil {
			return sendError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(perm)
	})

	admin.Post("/assignments", func(c *fiber.Ctx) error {
		var body gtmi.AssignmentInput
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}
		user := actor(c)
		assignment, err := svc.CreateAssignment(c.Context(), user.TenantID, user.ID, body)
		if err != nil {
			return sendError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(assignment)
	})

	admin.Get("/users/:id/assignments", func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return sendError(c, err)
		}
		assignments, err := svc.ListAssignments(c.Context(), actor(c).TenantID, id)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(fiber.Map{"assignments": assignments})
	})

	admin.Patch("/assignments/:id/active", func(c *fiber.Ctx) error {
		var body struct {
			Active bool `json:"active"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}
		id, err := paramID(c, "id")
		if err != nil {
			return sendError(c, err)
		}
		user := actor(c)
		if err := svc.SetAssignmentActive(c.Context(), user.TenantID, user.ID, id, body.Active); err != nil {
			return sendError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Patch("/assignments/:id/window", func(c *fiber.Ctx) error {
		var body struct {
			StartsAt *time.Time `json:"startsAt"`
			EndsAt   *time.Time `json:"endsAt"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}
		id, err := paramID(c, "id")
		if err != nil {
			return sendError(c, err)
		}
		user := actor(c)
		if err := svc.UpdateAssignmentWindow(c.Context(), user.TenantID, user.ID, id, body.StartsAt, body.EndsAt); err != nil {
			return sendError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Get("/services", func(c *fiber.Ctx) error {
		services, err := svc.ListRequestingServices(c.Context(), actor(c).TenantID)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(fiber.Map{"services": services})
	})

	admin.Post("/services", func(c *fiber.Ctx) error {
		var body struct {
			Name string `json:"name"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}
		user := actor(c)
		service, err := svc.CreateRequestingService(c.Context(), user.TenantID, user.ID, body.Name)
		if err != nil {
			return sendError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(service)
	})

	admin.Patch("/services/:id", func(c *fiber.Ctx) error {
		var body struct {
			Name string `json:"name"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}
		id, err := paramID(c, "id")
		if err != nil {
			return sendError(c, err)
		}
		user := actor(c)
		service, err := svc.RenameRequestingService(c.Context(), user.TenantID, user.ID, id, body.Name)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(service)
	})

	admin.Delete("/services/:id", func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return sendError(c, err)
		}
		user := actor(c)
		if err := svc.DeleteRequestingService(c.Context(), user.TenantID, user.ID, id); err != nil {
			return sendError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	admin.Get("/audit-logs", func(c *fiber.Ctx) error {
		logs, err := svc.ListAuditLogs(c.Context(), actor(c).TenantID, nil, nil)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(fiber.Map{"auditLogs": logs})
	})

	admin.Get("/denials", func(c *fiber.Ctx) error {
		denials, err := svc.ListDenials(c.Context(), actor(c).TenantID)
		if err != nil {
			return sendError(c, err)
		}
		return c.JSON(fiber.Map{"denials": denials})
	})

	admin.Post("/bulk/checks", func(c *fiber.Ctx) error {
		var body struct {
			Checks []gtmi.BulkCheck `json:"checks"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}
		results := svc.CheckBulkPermissions(c.Context(), actor(c).TenantID, body.Checks)
		return c.JSON(fiber.Map{"results": results})
	})

	admin.Post("/bulk/assignments", func(c *fiber.Ctx) error {
		var body struct {
			Assignments map[uint][]uint `json:"assignments"`
		}
		if err := c.BodyParser(&body); err != nil {
			return sendError(c, gtmi.ErrInvalidInput)
		}
		user := actor(c)
		if err := svc.BulkAssignRoles(c.Context(), user.TenantID, user.ID, body.Assignments); err != nil {
			return sendError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// identityMiddleware loads the acting user from the identity headers.
func identityMiddleware(svc *gtmi.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID, err1 := strconv.ParseUint(c.Get("X-Tenant-ID"), 10, 32)
		userID, err2 := strconv.ParseUint(c.Get("X-User-ID"), 10, 32)
		if err1 != nil || err2 != nil {
			return sendError(c, gtmi.ErrUnauthorized)
		}

		user, err := svc.GetUser(c.Context(), uint(tenantID), uint(userID))
		if err != nil {
			return sendError(c, gtmi.ErrUnauthorized)
		}
		c.Locals("user", user)
		return c.Next()
	}
}

func actor(c *fiber.Ctx) *gtmi.User {
	user, _ := c.Locals("user").(*gtmi.User)
	return user
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil {
		return 0, gtmi.ErrInvalidInput
	}
	return uint(id), nil
}

func sendError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, gtmi.ErrUnauthorized):
		status = fiber.StatusUnauthorized
	case errors.Is(err, gtmi.ErrForbidden):
		status = fiber.StatusForbidden
	case errors.Is(err, gtmi.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, gtmi.ErrInvalidState),
		errors.Is(err, gtmi.ErrTransitionNotAllowed),
		errors.Is(err, gtmi.ErrConflict):
		status = fiber.StatusConflict
	case errors.Is(err, gtmi.ErrValidation):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, gtmi.ErrInvalidInput):
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
