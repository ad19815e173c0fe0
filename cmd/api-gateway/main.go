package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/homegroup-report-api/api/swagger"
	"github.com/noah-isme/homegroup-report-api/internal/handler"
	"github.com/noah-isme/homegroup-report-api/internal/llm"
	"github.com/noah-isme/homegroup-report-api/internal/middleware"
	"github.com/noah-isme/homegroup-report-api/internal/parser"
	"github.com/noah-isme/homegroup-report-api/internal/repository"
	"github.com/noah-isme/homegroup-report-api/internal/service"
	"github.com/noah-isme/homegroup-report-api/pkg/cache"
	"github.com/noah-isme/homegroup-report-api/pkg/config"
	"github.com/noah-isme/homegroup-report-api/pkg/database"
	"github.com/noah-isme/homegroup-report-api/pkg/docgen"
	"github.com/noah-isme/homegroup-report-api/pkg/jobs"
	"github.com/noah-isme/homegroup-report-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/homegroup-report-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/homegroup-report-api/pkg/middleware/requestid"
	"github.com/noah-isme/homegroup-report-api/pkg/storage"
)

// @title Homegroup Report API
// @version 1.0.0
// @description Narrative student report generation for homegroup teachers
// @BasePath /api/v1
// @schemes http

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
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	store, err := storage.NewS3Store(cfg.Storage, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to init object storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)

	generator, err := llm.NewGenerator(cfg.Anthropic, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to init narrative generator", "error", err)
	}
	assembler, err := docgen.NewAssembler(cfg.Storage.TempDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document assembler", "error", err)
	}
	reader := parser.NewReader(logr)

	userRepo := repository.NewUserRepository(db)
	uploadRepo := repository.NewUploadRepository(db)
	usageRepo := repository.NewUsageRepository(db)

	validate := validator.New()
	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "homegroup-report-api",
	})

	tracker := service.NewProgressTracker(cfg.Reports.ProgressTTL)
	pipeline := service.NewPipelineService(
		uploadRepo, usageRepo, reader, generator, assembler, store,
		tracker, cfg.Storage.TempDir, logr,
	)
	metricsService := service.NewMetricsService()
	pipeline.SetMetrics(metricsService)

	queue := jobs.NewQueue("reports", pipeline.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		BufferSize: cfg.Reports.QueueBuffer,
		Logger:     logr,
	})
	pipeline.SetQueue(queue)

	reportService := service.NewReportService(
		uploadRepo, usageRepo, store, signer,
		redisClient, cfg.Reports.ListCacheTTL, logr,
	)

	authHandler := handler.NewAuthHandler(authService)
	uploadHandler := handler.NewUploadHandler(uploadRepo, store, cfg.Reports.MaxUploadBytes, cfg.Storage.TempDir, logr)
	reportHandler := handler.NewReportHandler(pipeline, reportService, tracker)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "postgres": err.Error()})
			return
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsService.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/signup", authHandler.Signup)
	auth.POST("/verify", authHandler.VerifyEmail)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)

	authed := api.Group("")
	authed.Use(middleware.JWT(authService))
	authed.POST("/auth/logout", authHandler.Logout)
	authed.GET("/auth/me", authHandler.Me)
	authed.POST("/uploads", uploadHandler.Upload)
	authed.POST("/reports/generate", reportHandler.Generate)
	authed.GET("/reports/progress", reportHandler.Progress)
	authed.GET("/reports", reportHandler.List)
	authed.DELETE("/reports/:id", reportHandler.Delete)
	authed.GET("/template", reportHandler.Template)
	authed.GET("/usage", reportHandler.Usage)

	// download links carry their own HMAC token instead of a bearer token
	api.GET("/reports/download/:token", reportHandler.Download)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
	queue.Stop()
}
