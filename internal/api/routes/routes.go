package routes

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/pageguard/pageguard/internal/api/handlers"
	"github.com/pageguard/pageguard/internal/api/middleware"
	"github.com/pageguard/pageguard/internal/config"
	"github.com/pageguard/pageguard/internal/engine"
	"github.com/pageguard/pageguard/internal/events"
	"github.com/pageguard/pageguard/internal/metrics"
	"github.com/pageguard/pageguard/internal/models"
	"github.com/pageguard/pageguard/internal/rules"
	"github.com/pageguard/pageguard/internal/services"
	"github.com/pageguard/pageguard/internal/settings"
)

// Register performs migrations, wires the detection stack and mounts all API
// routes. The rule manager is initialized here so the server always has an
// active generation before the first request is served.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Setting{},
		&models.RuleCache{},
		&models.DetectionEvent{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	resolver := settings.NewResolver(db, cfg.BrandingPath, cfg.ManagedPolicyPath)
	manager := rules.NewManager(db, resolver)
	rogue := rules.NewRogueDetector(db)
	eng := engine.New(manager, rogue)
	verdicts := engine.NewVerdictStore()
	dispatcher := events.NewDispatcher(db, resolver)

	// Follow every generation swap: the rogue feed descriptor travels inside
	// the rule store, and the engine allowlist must re-resolve alongside it.
	manager.OnSwap(func(cs *rules.CompiledStore) {
		rogue.Configure(cs.Store.RogueAppsDetection)
		eng.ApplyConfig(resolver.Resolve())
	})

	manager.Initialize(context.Background())
	manager.StartScheduler()
	eng.ApplyConfig(resolver.Resolve())

	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	router.GET("/api/v1/health", handlers.HealthHandler(manager))

	api := router.Group("/api/v1")

	authService := services.NewAuthService(db, cfg)
	authHandler := handlers.NewAuthHandler(authService)
	authMiddleware := middleware.AuthMiddleware(authService)

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/register", authHandler.Register)
	api.GET("/auth/status", authHandler.VerifyStatus)

	// Analysis endpoints are unauthenticated: they are called by the browser
	// extension on every page load and carry no account context.
	analyzeHandler := handlers.NewAnalyzeHandler(eng, manager, verdicts, dispatcher)
	api.POST("/analyze/url", analyzeHandler.AnalyzeURL)
	api.POST("/analyze/page", analyzeHandler.AnalyzeSnapshot)
	api.POST("/analyze/headers", analyzeHandler.PutHeaders)
	api.GET("/verdicts/:tabId", analyzeHandler.GetVerdict)
	api.DELETE("/verdicts/:tabId", analyzeHandler.EvictTab)

	detectionsHandler := handlers.NewDetectionsHandler(db, dispatcher)
	api.POST("/detections/false-positive", detectionsHandler.ReportFalsePositive)

	protected := api.Group("/")
	protected.Use(authMiddleware)
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/auth/me", authHandler.Me)
		protected.POST("/auth/change-password", authHandler.ChangePassword)

		settingsHandler := handlers.NewSettingsHandler(resolver)
		settingsHandler.OnChange(func() {
			manager.ReloadConfiguration(context.Background())
			eng.ApplyConfig(resolver.Resolve())
		})
		protected.GET("/settings", settingsHandler.GetSettings)
		protected.POST("/settings", settingsHandler.UpdateSettings)

		rulesHandler := handlers.NewRulesHandler(manager, rogue)
		protected.GET("/rules/status", rulesHandler.GetStatus)
		protected.POST("/rules/refresh", rulesHandler.ForceUpdate)
		protected.POST("/rules/reload", rulesHandler.Reload)

		protected.GET("/detections", detectionsHandler.ListDetections)
		protected.GET("/detections/:uuid", detectionsHandler.GetDetection)

		updateService := services.NewUpdateService()
		updateHandler := handlers.NewUpdateHandler(updateService)
		protected.GET("/system/updates", updateHandler.Check)
	}

	return nil
}
