package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/hostel-outpass-api/api/swagger"
	"github.com/noah-isme/hostel-outpass-api/internal/handler"
	"github.com/noah-isme/hostel-outpass-api/internal/middleware"
	"github.com/noah-isme/hostel-outpass-api/internal/models"
	"github.com/noah-isme/hostel-outpass-api/internal/repository"
	"github.com/noah-isme/hostel-outpass-api/internal/service"
	"github.com/noah-isme/hostel-outpass-api/internal/ws"
	"github.com/noah-isme/hostel-outpass-api/pkg/cache"
	"github.com/noah-isme/hostel-outpass-api/pkg/config"
	"github.com/noah-isme/hostel-outpass-api/pkg/database"
	"github.com/noah-isme/hostel-outpass-api/pkg/jobs"
	"github.com/noah-isme/hostel-outpass-api/pkg/logger"
	"github.com/noah-isme/hostel-outpass-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/hostel-outpass-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/hostel-outpass-api/pkg/middleware/requestid"
	"github.com/noah-isme/hostel-outpass-api/pkg/sms"
	"github.com/noah-isme/hostel-outpass-api/pkg/storage"
)

// @title Hostel Outpass API
// @version 1.0.0
// @description Outing permission workflow for hostel students: requests, warden approvals, gate certificates and notifications
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
		logr.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()

	// repositories
	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewRequestRepository(db, metricsSvc.ObserveDBQuery)
	certRepo := repository.NewCertificateRepository(db)
	notifRepo := repository.NewNotificationRepository(db)
	pendingRepo := repository.NewPendingStudentRepository(db)

	// redis is optional: verification falls back to direct reads without it
	var cacheSvc *service.CacheService
	if redisClient, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Warn("redis unavailable, certificate verification cache disabled", zap.Error(err))
		cacheSvc = service.NewCacheService(nil, cfg.Certificates.CacheTTL, logr, false)
	} else {
		cacheRepo := repository.NewCacheRepository(redisClient)
		cacheSvc = service.NewCacheService(cacheRepo, cfg.Certificates.CacheTTL, logr, true)
		defer cacheRepo.Close() //nolint:errcheck
	}

	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("exports storage init failed", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	var emailSender mailer.Sender
	if cfg.Email.Enabled {
		sender, err := mailer.NewSendgridSender(cfg.Email)
		if err != nil {
			logr.Warn("email channel disabled", zap.Error(err))
		} else {
			emailSender = sender
		}
	}
	var smsSender sms.Sender
	if cfg.SMS.Enabled {
		smsSender = sms.NewGatewayClient(cfg.SMS)
	}

	validate := validator.New()

	authSvc := service.NewAuthService(userRepo, pendingRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "hostel-outpass-api",
	})

	notifSvc := service.NewNotificationService(notifRepo, userRepo, emailSender, smsSender, metricsSvc, logr, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	})

	certSvc := service.NewCertificateService(certRepo, cacheSvc, logr, service.CertificateServiceConfig{
		NumberRetries: cfg.Certificates.NumberRetries,
		CacheTTL:      cfg.Certificates.CacheTTL,
		VerifyBaseURL: cfg.Certificates.VerifyBaseURL,
	})

	requestOpts := []service.RequestServiceOption{service.WithLifecycleMetrics(metricsSvc)}
	var kioskHub *ws.Hub
	if cfg.Kiosk.Enabled {
		kioskHub = ws.NewHub(logr)
		go kioskHub.Run()
		requestOpts = append(requestOpts, service.WithKioskFeed(kioskHub))
	}
	requestSvc := service.NewRequestService(requestRepo, userRepo, certSvc, notifSvc, userRepo, logr, requestOpts...)

	importSvc := service.NewImportService(pendingRepo, userRepo, exportStore, userRepo, metricsSvc, cfg.Import, logr)
	userSvc := service.NewUserService(userRepo, pendingRepo, logr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifSvc.Start(ctx)
	defer notifSvc.Stop()

	if cfg.Exports.CleanupInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Exports.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					importSvc.Cleanup(cfg.Exports.SignedURLTTL)
				}
			}
		}()
	}

	// handlers
	authHandler := handler.NewAuthHandler(authSvc)
	requestHandler := handler.NewRequestHandler(requestSvc)
	certHandler := handler.NewCertificateHandler(certSvc)
	notifHandler := handler.NewNotificationHandler(notifSvc)
	importHandler := handler.NewImportHandler(importSvc, exportStore, signer, cfg.Import.MaxUploadBytes)
	userHandler := handler.NewUserHandler(userSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
			auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
		}

		// gate verification stays public so kiosk devices need no session
		api.GET("/certificates/verify/:number", certHandler.Verify)

		protected := api.Group("", middleware.JWT(authSvc))
		{
			requests := protected.Group("/requests")
			{
				requests.POST("", middleware.RequireRoles(models.RoleStudent), requestHandler.Submit)
				requests.GET("", requestHandler.List)
				requests.GET("/:id", requestHandler.Get)
				staff := middleware.RequireRoles(models.RoleWarden, models.RoleAdmin)
				requests.POST("/:id/approve", staff, requestHandler.Approve)
				requests.POST("/:id/reject", staff, requestHandler.Reject)
				requests.POST("/:id/cancel", staff, requestHandler.Cancel)
			}

			certificates := protected.Group("/certificates")
			{
				certificates.GET("", middleware.RequireRoles(models.RoleStudent), certHandler.ListMine)
				certificates.GET("/:id", certHandler.Get)
				certificates.GET("/:id/pdf", middleware.Audit(userRepo, models.AuditActionCertDownload, "approval_certificates"), certHandler.Download)
			}

			notifications := protected.Group("/notifications")
			{
				notifications.GET("", notifHandler.List)
				notifications.POST("/:id/read", notifHandler.MarkRead)
				notifications.POST("/read-all", notifHandler.MarkAllRead)
			}

			users := protected.Group("/users")
			{
				admin := middleware.RequireRoles(models.RoleAdmin)
				staff := middleware.RequireRoles(models.RoleAdmin, models.RoleWarden)
				users.POST("", staff, userHandler.Create)
				users.GET("", staff, userHandler.List)
				users.GET("/pending", staff, userHandler.ListPending)
				users.POST("/pending/:id/activate", admin, authHandler.ActivatePending)
				users.POST("/import", staff, importHandler.Upload)
				users.GET("/import/template", staff, importHandler.Template)
				users.GET("/:id", userHandler.Get)
				users.PUT("/:id", admin, userHandler.Update)
				users.DELETE("/:id", admin, userHandler.Deactivate)
			}
		}

		// result downloads authenticate via signed token instead of JWT
		api.GET("/users/import/results", importHandler.DownloadResult)

		if cfg.Kiosk.Enabled {
			api.GET("/kiosk/feed", func(c *gin.Context) {
				ws.ServeWs(kioskHub, c, []byte(cfg.JWT.Secret))
			})
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
