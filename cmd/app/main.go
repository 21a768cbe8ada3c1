package main

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	gtmi "github.com/RomaoFilipe/StockBackup-sub004"
	"github.com/RomaoFilipe/StockBackup-sub004/internal/config"
	"github.com/RomaoFilipe/StockBackup-sub004/internal/db"
	"github.com/RomaoFilipe/StockBackup-sub004/internal/routes"
	"github.com/RomaoFilipe/StockBackup-sub004/zapLogger"
)

func main() {
	logFile := zapLogger.Init()

	cfg, err := config.LoadConfig()
	if err != nil {
		zapLogger.Log.Fatalf("Failed to load config: %v", err)
	}

	pgDB, err := db.NewPostgresDB(cfg)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize PostgreSQL: %v", err)
	}
	zapLogger.Log.Info("Successfully connected to PostgreSQL database")
	defer pgDB.Close()

	redisDB, err := db.NewRedisClient(cfg)
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize Redis: %v", err)
	}
	zapLogger.Log.Info("Successfully connected to Redis")
	defer redisDB.Close()

	svc, err := gtmi.NewService(gtmi.Config{
		DB:                 pgDB.GormDB,
		RedisClient:        redisDB,
		Notifier:           gtmi.NewRedisNotifier(redisDB),
		CacheTTL:           30 * time.Minute,
		CachePrefix:        "gtmi:",
		AutoMigrate:        true,
		EnableAuditLogging: cfg.EnableAuditLogging,
	})
	if err != nil {
		zapLogger.Log.Fatalf("Failed to initialize service: %v", err)
	}

	app := fiber.New()

	app.Use(zapLogger.FiberLoggingMiddleware(logFile))

	app.Get("/health", func(c *fiber.Ctx) error {
		if err := pgDB.Ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "down"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	routes.Setup(app, svc)

	addr := fmt.Sprintf(":%d", cfg.AppPort)
	zapLogger.Log.Infof("Server started on port %d", cfg.AppPort)
	log.Fatal(app.Listen(addr))
}
