package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	httpapi "github.com/i474232898/geodata-aggregation/internal/api/http"
	"github.com/i474232898/geodata-aggregation/internal/config"
	"github.com/i474232898/geodata-aggregation/internal/jobs"
	"github.com/i474232898/geodata-aggregation/internal/pipeline"
	"github.com/i474232898/geodata-aggregation/internal/provider"
	"github.com/i474232898/geodata-aggregation/internal/registry"
	"github.com/i474232898/geodata-aggregation/internal/scheduler"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Dataset catalog; any broken definition aborts startup.
	reg, err := registry.Load(cfg.DatasetsDir)
	if err != nil {
		log.Fatalf("failed to load dataset registry: %v", err)
	}

	// Shared HTTP client for outbound source calls.
	httpClient := &http.Client{
		Timeout: cfg.FetchTimeout,
	}

	// Object store client, built only when some dataset needs it.
	var objectStore *minio.Client
	for _, def := range reg.List() {
		if def.Provider.Name != provider.SourceObjectStore {
			continue
		}
		objectStore, err = minio.New(cfg.MinioEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
			Secure: cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to build object store client: %v", err)
		}
		break
	}

	// One cache-first provider per dataset.
	deps := provider.SourceDeps{Client: httpClient, ObjectStore: objectStore}
	providers := make(map[string]pipeline.AssetFetcher)
	for _, def := range reg.List() {
		source, err := provider.BuildSource(def.Provider, deps)
		if err != nil {
			log.Fatalf("failed to build source for dataset %s: %v", def.ID, err)
		}
		p, err := provider.New(cfg.CacheDir, source, cfg.FetchTimeout)
		if err != nil {
			log.Fatalf("failed to build provider for dataset %s: %v", def.ID, err)
		}
		providers[def.ID] = p
	}

	// Core service orchestrating registry, providers and raster compute.
	service := pipeline.NewService(reg, providers)

	// Job records for process executions.
	jobStore := jobs.NewMemoryStore()

	// Scheduler that keeps the asset cache warm for configured targets.
	sched := scheduler.New(cfg.WarmupTargets, cfg.WarmupDays, cfg.WarmupInterval, providers)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "geodata-aggregation",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          60 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "geodata-aggregation",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, reg, service, jobStore)

	// Start server with graceful shutdown
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
