package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/simta-dev/simta-api/api/swagger"
	"github.com/simta-dev/simta-api/internal/handler"
	"github.com/simta-dev/simta-api/internal/middleware"
	"github.com/simta-dev/simta-api/internal/models"
	"github.com/simta-dev/simta-api/internal/repository"
	"github.com/simta-dev/simta-api/internal/service"
	"github.com/simta-dev/simta-api/pkg/cache"
	"github.com/simta-dev/simta-api/pkg/config"
	"github.com/simta-dev/simta-api/pkg/database"
	"github.com/simta-dev/simta-api/pkg/jobs"
	"github.com/simta-dev/simta-api/pkg/logger"
	corsmiddleware "github.com/simta-dev/simta-api/pkg/middleware/cors"
	reqidmiddleware "github.com/simta-dev/simta-api/pkg/middleware/requestid"
	"github.com/simta-dev/simta-api/pkg/storage"
)

// @title SIMTA API
// @version 1.0.0
// @description Thesis and proposal management service
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, unread counts fall back to the database", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	store, err := storage.NewLocalStorage(cfg.Storage.Dir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init proposal storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)

	userRepo := repository.NewUserRepository(db)
	thesisRepo := repository.NewThesisRepository(db)
	proposalRepo := repository.NewProposalRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		TokenSecret: cfg.JWT.Secret,
		TokenExpiry: cfg.JWT.Expiration,
		Issuer:      "simta-api",
	})
	metricsSvc := service.NewMetricsService()
	userSvc := service.NewUserService(userRepo, validate, logr)
	thesisSvc := service.NewThesisService(thesisRepo, proposalRepo, userRepo, store, userRepo, validate, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, cacheRepo, metricsSvc, logr, service.NotificationServiceConfig{
		PageLimit:      cfg.Notifications.PageLimit,
		UnreadCacheTTL: cfg.Notifications.UnreadCacheTTL,
		QueueConfig: jobs.QueueConfig{
			Workers:    cfg.Notifications.DispatchWorkers,
			BufferSize: cfg.Notifications.DispatchQueueSize,
			MaxRetries: cfg.Notifications.DispatchRetries,
			Logger:     logr,
		},
	})
	notificationSvc.Start(context.Background())
	defer notificationSvc.Stop()
	proposalSvc := service.NewProposalService(proposalRepo, thesisRepo, store, signer, notificationSvc, userRepo, metricsSvc, validate, logr, service.ProposalServiceConfig{
		MaxFileSize: cfg.Storage.MaxProposalBytes,
		APIPrefix:   cfg.APIPrefix,
	})

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	thesisHandler := handler.NewThesisHandler(thesisSvc)
	proposalHandler := handler.NewProposalHandler(proposalSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	bodyLimit := func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.Storage.MaxBodyBytes)
		c.Next()
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)

	// Download authenticates via the signed token, not a bearer header,
	// so browsers can follow the link directly.
	api.GET("/proposals/:id/file", proposalHandler.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))

	secured.GET("/auth/profile", authHandler.Profile)
	secured.PUT("/auth/password", authHandler.ChangePassword)

	secured.GET("/users", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
	secured.GET("/users/advisors", userHandler.Advisors)
	secured.GET("/users/:id", userHandler.Get)
	secured.PUT("/users/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Update)
	secured.DELETE("/users/:id", middleware.RequireRoles(models.RoleAdmin), userHandler.Delete)

	secured.POST("/theses", middleware.RequireRoles(models.RoleStudent), thesisHandler.Create)
	secured.GET("/theses", thesisHandler.List)
	secured.GET("/theses/export", middleware.RequireRoles(models.RoleAdmin), thesisHandler.Export)
	secured.GET("/theses/:id", thesisHandler.Get)
	secured.PUT("/theses/:id", thesisHandler.Update)
	secured.PATCH("/theses/:id/status", middleware.RequireRoles(models.RoleAdmin), thesisHandler.SetStatus)
	secured.DELETE("/theses/:id", middleware.RequireRoles(models.RoleAdmin), thesisHandler.Delete)

	secured.POST("/proposals", middleware.RequireRoles(models.RoleStudent), bodyLimit, proposalHandler.Upload)
	secured.GET("/proposals", proposalHandler.List)
	secured.GET("/proposals/:id", proposalHandler.Get)
	secured.PUT("/proposals/:id/review", middleware.RequireRoles(models.RoleAdvisor), proposalHandler.Review)
	secured.DELETE("/proposals/:id", proposalHandler.Delete)
	secured.GET("/proposals/:id/file-url", proposalHandler.FileURL)

	secured.GET("/notifications", notificationHandler.List)
	secured.GET("/notifications/unread-count", notificationHandler.UnreadCount)
	secured.PUT("/notifications/read-all", notificationHandler.MarkAllRead)
	secured.PUT("/notifications/:id/read", notificationHandler.MarkRead)
	secured.DELETE("/notifications/:id", notificationHandler.Delete)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
