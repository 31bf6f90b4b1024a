package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"authcore/internal/background"
	"authcore/internal/config"
	"authcore/internal/featureflag"
	"authcore/internal/handlers"
	"authcore/internal/keys"
	"authcore/internal/metrics"
	"authcore/internal/middleware"
	"authcore/internal/models"
	natsClient "authcore/internal/nats"
	"authcore/internal/redis"
	"authcore/internal/repository"
	"authcore/internal/services"
	"authcore/internal/storage"
)

// poolRouterAdapter adapts storage.Manager to services.PoolRouter
// This is needed because ForTenant returns the concrete repository type, but
// the services consume their own narrow interfaces
type poolRouterAdapter struct {
	manager *storage.Manager
}

func (a *poolRouterAdapter) ForTenant(id models.TenantIdentifier) services.UserPoolStore {
	return a.manager.ForTenant(id)
}

// roleRouterAdapter adapts storage.Manager to services.RoleRouter
type roleRouterAdapter struct {
	manager *storage.Manager
}

func (a *roleRouterAdapter) ForTenant(id models.TenantIdentifier) services.RoleStore {
	return a.manager.ForTenant(id)
}

func main() {
	// Load configuration
	cfg := config.New()

	logger := newLogger(cfg)

	// Initialize shared catalog database connection
	db, err := initDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Auto-migrate models
	if err := autoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize repositories
	catalogRepo := repository.NewCatalogRepository(db)

	// The default tenant must exist before anything else reads the catalog
	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 30*time.Second)
	if err := catalogRepo.EnsureDefaultTenant(bootstrapCtx); err != nil {
		cancelBootstrap()
		log.Fatalf("Failed to ensure default tenant: %v", err)
	}

	// Initialize Redis connection (optional role-permission cache)
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(cfg.Redis)
		if err != nil {
			log.Printf("Warning: Failed to connect to Redis: %v", err)
			log.Println("Role permission lookups will hit user-pool storage directly")
		} else {
			log.Println("Connected to Redis successfully")
		}
	}

	// Initialize NATS connection for event publishing
	var nc *natsClient.Client
	if cfg.App.NATSEnabled {
		nc, err = natsClient.NewClient(nil) // Uses NATS_URL env var or default
		if err != nil {
			log.Printf("Warning: Failed to connect to NATS: %v", err)
			log.Println("Tenant event publishing will be disabled")
		} else {
			log.Println("Connected to NATS successfully")
			defer nc.Close()
		}
	}

	// Initialize metrics
	metricsCollector := metrics.New()

	// Feature flags (MULTI_TENANCY gate)
	flags := featureflag.New()
	if flags.IsEnabled(featureflag.MultiTenancy) {
		log.Println("Multi-tenancy feature enabled")
	} else {
		log.Println("Multi-tenancy feature disabled - only the default tenant will be served")
	}

	// User-pool storage routing: the default pool shares the catalog database
	storageManager := storage.NewManager(db, cfg.Database.DSN(), storage.DefaultOpen, logger)
	defer storageManager.Close()

	// Signing-key registries (access token, refresh token, JWT)
	signingKeys := keys.NewSigningKeys(logger)

	// Resource fleet and reconciler
	fleet := services.NewFleetService(catalogRepo, storageManager, signingKeys, flags, logger)
	fleet.SetMetrics(metricsCollector)

	// The default tenant's user-pool row must exist for child tenants to attach
	if err := storageManager.ForTenant(models.DefaultTenantIdentifier()).
		AddTenantIDInUserPool(bootstrapCtx, models.DefaultTenantIdentifier()); err != nil {
		cancelBootstrap()
		log.Fatalf("Failed to bootstrap default tenant user pool: %v", err)
	}

	// Initialize services
	poolRouter := &poolRouterAdapter{storageManager}
	multitenancySvc := services.NewMultitenancyService(catalogRepo, poolRouter, fleet, logger)
	multitenancySvc.SetMetrics(metricsCollector)
	if nc != nil {
		multitenancySvc.SetEventPublisher(nc)
		log.Println("Multitenancy service: NATS event publishing enabled")
	}

	userRolesSvc := services.NewUserRolesService(&roleRouterAdapter{storageManager}, logger)
	if redisClient != nil {
		userRolesSvc.SetCache(redisClient)
		log.Println("User roles service initialized with Redis caching")
	}

	// Start background jobs
	bgRunner := background.NewRunner(fleet, cfg.Background)
	bgRunner.SetJanitor(catalogRepo)
	bgRunner.SetSigningKeys(signingKeys)
	fleet.SetCronScheduler(bgRunner)

	// First reconcile loads the initial fleet before any request is served
	fleet.RefreshIfRequired(bootstrapCtx)
	cancelBootstrap()

	bgRunner.Start()

	// Initialize handlers
	healthHandler := handlers.NewHealthHandlerWithNATS(db, nc)
	tenantHandler := handlers.NewTenantHandler(multitenancySvc, userRolesSvc)
	userRolesHandler := handlers.NewUserRolesHandler(userRolesSvc)

	// Setup router
	router := setupRouter(cfg, healthHandler, tenantHandler, userRolesHandler, metricsCollector)

	// Setup server
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting authcore on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Stop background jobs first
	bgRunner.Stop()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Close Redis connection
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Printf("Error closing Redis connection: %v", err)
		}
	}

	log.Println("Server exited")
}

func setupRouter(
	cfg *config.Config,
	healthHandler *handlers.HealthHandler,
	tenantHandler *handlers.TenantHandler,
	userRolesHandler *handlers.UserRolesHandler,
	metricsCollector *metrics.Metrics,
) *gin.Engine {
	// Set Gin mode
	if getEnv("GIN_MODE", "debug") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", "api-key"}

	// Global middleware
	router.Use(cors.New(corsConfig))           // CORS
	router.Use(gin.Recovery())                 // Panic recovery
	router.Use(middleware.RequestID())         // Correlation IDs
	router.Use(middleware.StructuredLogger())  // Structured logging
	router.Use(metricsCollector.Middleware())  // Prometheus metrics

	// Metrics endpoint (Prometheus scraping)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metricsCollector.Registry, promhttp.HandlerOpts{})))

	// Health endpoints
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// Core-compatible recipe endpoints
	router.GET("/recipe/role/permissions", userRolesHandler.GetPermissionsForRole)

	// Tenant admin API
	v1 := router.Group("/api/v1")
	v1.Use(middleware.AdminAPIKey(cfg.App.AdminAPIKeyHash))
	{
		tenants := v1.Group("/tenants")
		{
			tenants.PUT("", tenantHandler.CreateOrUpdateTenant)
			tenants.GET("", tenantHandler.ListTenants)
			tenants.GET("/:tenantId", tenantHandler.GetTenant)
			tenants.DELETE("/:tenantId", tenantHandler.DeleteTenant)
			tenants.POST("/:tenantId/users", tenantHandler.AssociateUser)
			tenants.POST("/:tenantId/roles", tenantHandler.AssociateRole)
		}

		apps := v1.Group("/apps")
		{
			apps.DELETE("/:appId", tenantHandler.DeleteApp)
		}

		domains := v1.Group("/connection-uri-domains")
		{
			domains.DELETE("/:domain", tenantHandler.DeleteConnectionURIDomain)
		}

		roles := v1.Group("/roles")
		{
			roles.PUT("", tenantHandler.CreateOrUpdateRole)
		}
	}

	return router
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	return logger
}

func autoMigrate(db *gorm.DB) error {
	log.Println("Starting database migration...")

	// Catalog plus the default user pool, which shares the catalog database
	modelsToMigrate := []interface{}{
		&models.TenantRow{},
		&models.PoolTenant{},
		&models.PoolUser{},
		&models.PoolUserTenant{},
		&models.PoolRole{},
		&models.PoolRolePermission{},
		&models.PoolTenantRole{},
	}

	for _, model := range modelsToMigrate {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	log.Println("Database migration completed successfully")
	return nil
}

func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Connected to database successfully")
	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
