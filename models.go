package gtmi

import (
	"time"

	"gorm.io/gorm"
)

// User coarse roles. ADMIN bypasses grant resolution entirely.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// RequestStatus is the externally visible status of a request document.
type RequestStatus string

const (
	StatusDraft     RequestStatus = "DRAFT"
	StatusSubmitted RequestStatus = "SUBMITTED"
	StatusApproved  RequestStatus = "APPROVED"
	StatusRejected  RequestStatus = "REJECTED"
	StatusFulfilled RequestStatus = "FULFILLED"
)

// Workflow state names. Each state maps to exactly one RequestStatus.
const (
	StateDraft              = "DRAFT"
	StateAwaitingSupervisor = "AWAITING_SUPERVISOR_APPROVAL"
	StateAwaitingAdmin      = "AWAITING_ADMIN_APPROVAL"
	StateApproved           = "APPROVED"
	StateRejected           = "REJECTED"
	StateFulfilled          = "FULFILLED"
)

// WorkflowAction is the fixed action vocabulary of the workflow engine.
type WorkflowAction string

const (
	ActionSubmit            WorkflowAction = "SUBMIT"
	ActionApprove           WorkflowAction = "APPROVE"
	ActionReject            WorkflowAction = "REJECT"
	ActionFulfill           WorkflowAction = "FULFILL"
	ActionPresidencyApprove WorkflowAction = "PRESIDENCY_APPROVE"
	ActionPresidencyReject  WorkflowAction = "PRESIDENCY_REJECT"
)

// UnitStatus is the lifecycle state of one serialized unit.
type UnitStatus string

const (
	UnitInStock  UnitStatus = "IN_STOCK"
	UnitAcquired UnitStatus = "ACQUIRED"
	UnitInRepair UnitStatus = "IN_REPAIR"
	UnitScrapped UnitStatus = "SCRAPPED"
	UnitLost     UnitStatus = "LOST"
)

// MovementType tags one stock ledger row.
type MovementType string

const (
	MovementIn        MovementType = "IN"
	MovementOut       MovementType = "OUT"
	MovementReturn    MovementType = "RETURN"
	MovementRepairOut MovementType = "REPAIR_OUT"
	MovementRepairIn  MovementType = "REPAIR_IN"
	MovementScrap     MovementType = "SCRAP"
	MovementLost      MovementType = "LOST"
)

// Derived product stock statuses.
const (
	ProductAvailable = "Available"
	ProductStockLow  = "Stock Low"
	ProductStockOut  = "Stock Out"
)

// RequestKind discriminates request documents.
type RequestKind string

const (
	RequestMaterial     RequestKind = "MATERIAL"
	RequestReturn       RequestKind = "RETURN"
	RequestSubstitution RequestKind = "SUBSTITUTION"
)

// Line item roles within a request.
const (
	ItemRoleNone = "NONE"
	ItemRoleOld  = "OLD"
	ItemRoleNew  = "NEW"
)

// Disposition is the fate assigned to the old unit during substitution.
type Disposition string

const (
	DispositionReturn Disposition = "RETURN"
	DispositionRepair Disposition = "REPAIR"
	DispositionScrap  Disposition = "SCRAP"
	DispositionLost   Disposition = "LOST"
)

// ReasonCode classifies why a unit is being substituted.
type ReasonCode string

const (
	ReasonAvaria   ReasonCode = "AVARIA"
	ReasonExtravio ReasonCode = "EXTRAVIO"
	ReasonFimUso   ReasonCode = "FIM_USO"
	ReasonTroca    ReasonCode = "TROCA"
	ReasonOutro    ReasonCode = "OUTRO"
)

// Tenant is the isolation boundary; every other entity carries its ID.
type Tenant struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"unique;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is an authenticated principal with a coarse role and an optional
// home requesting service.
type User struct {
	ID                  uint   `gorm:"primaryKey"`
	TenantID            uint   `gorm:"index;not null"`
	Name                string `gorm:"not null"`
	Email               string `gorm:"index"`
	Role                string `gorm:"not null;default:USER"`
	RequestingServiceID *uint  `gorm:"index"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           gorm.DeletedAt `gorm:"index"`
}

// RequestingService is an organizational unit used as permission scope.
type RequestingService struct {
	ID        uint   `gorm:"primaryKey"`
	TenantID  uint   `gorm:"uniqueIndex:idx_service_tenant_name;not null"`
	Name      string `gorm:"uniqueIndex:idx_service_tenant_name;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// AccessPermission is one catalog entry, keyed by a stable string.
type AccessPermission struct {
	ID          uint   `gorm:"primaryKey"`
	TenantID    uint   `gorm:"uniqueIndex:idx_perm_tenant_key;not null"`
	Key         string `gorm:"uniqueIndex:idx_perm_tenant_key;not null"`
	Description string
	IsSystem    bool `gorm:"default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AccessRole is a named bundle of permissions. System roles are seeded per
// tenant and immutable; custom roles may be cloned from them.
type AccessRole struct {
	ID          uint   `gorm:"primaryKey"`
	TenantID    uint   `gorm:"uniqueIndex:idx_role_tenant_name;not null"`
	Name        string `gorm:"uniqueIndex:idx_role_tenant_name;not null"`
	Description string
	IsSystem    bool `gorm:"default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

// RolePermission maps roles to catalog permissions.
type RolePermission struct {
	RoleID       uint `gorm:"primaryKey;autoIncrement:false"`
	PermissionID uint `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt    time.Time
}

// UserRoleAssignment links a user to a role, optionally scoped to one
// requesting service, within an activation window. Never hard-deleted.
type UserRoleAssignment struct {
	ID                  uint `gorm:"primaryKey"`
	TenantID            uint `gorm:"index;not null"`
	UserID              uint `gorm:"index;not null"`
	RoleID              uint `gorm:"index;not null"`
	RequestingServiceID *uint
	StartsAt            *time.Time
	EndsAt              *time.Time // exclusive: exactly EndsAt is already expired
	IsActive            bool       `gorm:"default:true"`
	CreatedByID         uint
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           gorm.DeletedAt `gorm:"index"`
}

// WorkflowDefinition is a versioned, keyed workflow template per tenant.
type WorkflowDefinition struct {
	ID        uint   `gorm:"primaryKey"`
	TenantID  uint   `gorm:"uniqueIndex:idx_wf_tenant_key_ver;not null"`
	Key       string `gorm:"uniqueIndex:idx_wf_tenant_key_ver;not null"`
	Version   int    `gorm:"uniqueIndex:idx_wf_tenant_key_ver;not null;default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkflowState is one named state of a definition, mapped to a visible status.
type WorkflowState struct {
	ID         uint          `gorm:"primaryKey"`
	WorkflowID uint          `gorm:"uniqueIndex:idx_state_wf_name;not null"`
	Name       string        `gorm:"uniqueIndex:idx_state_wf_name;not null"`
	Status     RequestStatus `gorm:"not null"`
	Position   int
}

// WorkflowTransition is one edge (workflow, fromState, action) -> toState.
// The composite unique index enforces that at most one transition matches a
// (fromState, action) pair.
type WorkflowTransition struct {
	ID                 uint           `gorm:"primaryKey"`
	WorkflowID         uint           `gorm:"uniqueIndex:idx_trans_wf_from_action;not null"`
	FromStateID        uint           `gorm:"uniqueIndex:idx_trans_wf_from_action;not null"`
	Action             WorkflowAction `gorm:"uniqueIndex:idx_trans_wf_from_action;not null"`
	ToStateID          uint           `gorm:"not null"`
	RequiredPermission string
}

// WorkflowInstance is the live state pointer of one request.
type WorkflowInstance struct {
	ID             uint `gorm:"primaryKey"`
	TenantID       uint `gorm:"index;not null"`
	RequestID      uint `gorm:"uniqueIndex;not null"`
	WorkflowID     uint `gorm:"not null"`
	CurrentStateID uint `gorm:"not null"`
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WorkflowEvent is one immutable audit row per executed transition.
type WorkflowEvent struct {
	ID          uint `gorm:"primaryKey"`
	TenantID    uint `gorm:"index;not null"`
	RequestID   uint `gorm:"index;not null"`
	InstanceID  uint `gorm:"not null"`
	Action      WorkflowAction
	ActorID     uint
	FromStateID uint
	ToStateID   uint
	Note        string
	CreatedAt   time.Time
}

// Request is the user-facing document, numbered GTMI-<year>-<6-digit-seq>.
// Status is denormalized from the workflow instance's current state.
type Request struct {
	ID                  uint          `gorm:"primaryKey"`
	TenantID            uint          `gorm:"uniqueIndex:idx_request_tenant_number;not null"`
	GTMINumber          string        `gorm:"uniqueIndex:idx_request_tenant_number;not null"`
	Kind                RequestKind   `gorm:"not null;default:MATERIAL"`
	Status              RequestStatus `gorm:"not null;default:DRAFT"`
	OwnerID             uint          `gorm:"index;not null"`
	CreatedByID         uint          `gorm:"not null"`
	RequestingServiceID *uint         `gorm:"index"`
	Items               []RequestItem `gorm:"foreignKey:RequestID"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           gorm.DeletedAt `gorm:"index"`
}

// RequestItem is one ordered line of a request.
type RequestItem struct {
	ID        uint   `gorm:"primaryKey"`
	RequestID uint   `gorm:"index;not null"`
	Position  int    `gorm:"not null"`
	Role      string `gorm:"not null;default:NONE"`
	ProductID uint   `gorm:"not null"`
	UnitID    *uint
	Quantity  int `gorm:"not null;default:1"`
	Notes     string
}

// Product holds the running aggregate quantity and its derived status.
type Product struct {
	ID        uint   `gorm:"primaryKey"`
	TenantID  uint   `gorm:"uniqueIndex:idx_product_tenant_sku;not null"`
	SKU       string `gorm:"uniqueIndex:idx_product_tenant_sku;not null"`
	Name      string `gorm:"not null"`
	Quantity  int    `gorm:"not null;default:0"`
	Status    string `gorm:"not null;default:Stock Out"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// ProductUnit is one physical, serialized item of a product.
type ProductUnit struct {
	ID               uint       `gorm:"primaryKey"`
	TenantID         uint       `gorm:"uniqueIndex:idx_unit_tenant_code;not null"`
	Code             string     `gorm:"uniqueIndex:idx_unit_tenant_code;not null"`
	ProductID        uint       `gorm:"index;not null"`
	Status           UnitStatus `gorm:"not null;default:IN_STOCK"`
	AssignedToUserID *uint
	AcquiredByID     *uint
	AcquiredAt       *time.Time
	// PendingRequestID links a unit awaiting return approval to its request.
	PendingRequestID *uint
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StockMovement is one append-only ledger row. Never updated or deleted;
// corrections happen by appending a compensating movement.
type StockMovement struct {
	ID           uint         `gorm:"primaryKey"`
	TenantID     uint         `gorm:"index;not null"`
	Type         MovementType `gorm:"not null"`
	Quantity     int          `gorm:"not null;default:1"`
	ProductID    uint         `gorm:"index;not null"`
	UnitID       *uint        `gorm:"index"`
	RequestID    *uint        `gorm:"index"`
	InvoiceRef   string
	ActorID      uint
	Reason       string
	CostCenter   string
	TicketNumber string
	Notes        string
	CreatedAt    time.Time
}

// GTMISequence commits to one allocated document number per (tenant, year).
type GTMISequence struct {
	ID        uint `gorm:"primaryKey"`
	TenantID  uint `gorm:"uniqueIndex:idx_seq_tenant_year_seq;not null"`
	Year      int  `gorm:"uniqueIndex:idx_seq_tenant_year_seq;not null"`
	Seq       int  `gorm:"uniqueIndex:idx_seq_tenant_year_seq;not null"`
	CreatedAt time.Time
}

// PermissionDenial records a denied privileged attempt, kept even when the
// attempted operation rolls back.
type PermissionDenial struct {
	ID            uint `gorm:"primaryKey"`
	TenantID      uint `gorm:"index;not null"`
	ActorID       uint `gorm:"index;not null"`
	PermissionKey string
	Resource      string
	Detail        string
	CreatedAt     time.Time
}

// AuditLog tracks administration events (role/permission/assignment changes).
type AuditLog struct {
	ID         uint   `gorm:"primaryKey"`
	TenantID   uint   `gorm:"index;not null"`
	ActorID    uint   `gorm:"index;not null"`
	Action     string `gorm:"not null"`
	TargetType string `gorm:"not null"`
	TargetID   uint   `gorm:"index;not null"`
	Details    string
	CreatedAt  time.Time
}
