package gtmi

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Config holds the configuration for the GTMI service.
type Config struct {
	DB                 *gorm.DB
	RedisClient        *redis.Client // optional; grant caching disabled when nil
	Notifier           Notifier      // optional; defaults to NopNotifier
	CacheTTL           time.Duration
	CachePrefix        string
	AutoMigrate        bool
	EnableAuditLogging bool
	Now                func() time.Time // optional clock override for tests
}

// Service is the main entry point for grants, workflow and asset lifecycle.
type Service struct {
	db           *gorm.DB
	redis        *redis.Client
	notifier     Notifier
	cacheTTL     time.Duration
	cachePrefix  string
	auditEnabled bool
	now          func() time.Time
}

// sequenceMaxAttempts bounds the optimistic retry loop around GTMI allocation.
const sequenceMaxAttempts = 5

// NewService initializes the GTMI service.
func NewService(cfg Config) (*Service, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database is required")
	}

	if cfg.CachePrefix == "" {
		cfg.CachePrefix = "gtmi:"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.AutoMigrate {
		err := cfg.DB.AutoMigrate(
			&Tenant{}, &User{}, &RequestingService{},
			&AccessPermission{}, &AccessRole{}, &RolePermission{}, &UserRoleAssignment{},
			&WorkflowDefinition{}, &WorkflowState{}, &WorkflowTransition{},
			&WorkflowInstance{}, &WorkflowEvent{},
			&Request{}, &RequestItem{},
			&Product{}, &ProductUnit{}, &StockMovement{},
			&GTMISequence{}, &PermissionDenial{}, &AuditLog{},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to auto-migrate: %w", err)
		}
	}

	return &Service{
		db:           cfg.DB,
		redis:        cfg.RedisClient,
		notifier:     cfg.Notifier,
		cacheTTL:     cfg.CacheTTL,
		cachePrefix:  cfg.CachePrefix,
		auditEnabled: cfg.EnableAuditLogging,
		now:          cfg.Now,
	}, nil
}
