package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-fee-api/internal/handler"
	"github.com/noah-isme/sma-fee-api/internal/middleware"
	"github.com/noah-isme/sma-fee-api/internal/repository"
	"github.com/noah-isme/sma-fee-api/internal/service"
	"github.com/noah-isme/sma-fee-api/pkg/cache"
	"github.com/noah-isme/sma-fee-api/pkg/config"
	"github.com/noah-isme/sma-fee-api/pkg/database"
	"github.com/noah-isme/sma-fee-api/pkg/jobs"
	"github.com/noah-isme/sma-fee-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-fee-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-fee-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-fee-api/pkg/storage"
)

// @title SMA Fee API
// @version 1.0.0
// @description Monthly fee allocation and status engine
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close()

	metrics := service.NewMetricsService()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, sibling cache disabled", "error", err)
	}
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Fees.SiblingCacheTTL, logr, redisClient != nil)

	validate := validator.New()

	txRunner := repository.NewTxRunner(db)
	structureRepo := repository.NewFeeStructureRepository(db)
	obligationRepo := repository.NewObligationRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	rolloverRepo := repository.NewRolloverRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	exportJobRepo := repository.NewExportJobRepository(db)

	structureSvc := service.NewFeeStructureService(structureRepo, validate, logr)
	siblingSvc := service.NewSiblingService(studentRepo, cacheSvc, cfg.Fees, logr)
	obligationSvc := service.NewObligationService(obligationRepo, structureSvc, siblingSvc, studentRepo, sessionRepo, txRunner, cfg.Fees, validate, logr)
	allocationSvc := service.NewAllocationService(paymentRepo, obligationRepo, studentRepo, txRunner, metrics, validate, logr)
	statusSvc := service.NewStatusService(obligationRepo, rolloverRepo, logr)
	rolloverSvc := service.NewRolloverService(obligationRepo, rolloverRepo, obligationSvc, structureSvc, studentRepo, sessionRepo, txRunner, metrics, validate, logr)

	statementStore, err := storage.NewLocalStore(cfg.Export.Dir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare statement directory", "error", err)
	}
	signer := storage.NewTokenSigner(cfg.JWT.Secret, cfg.Export.ResultTTL)
	exportWorker := service.NewStatementExportWorker(exportJobRepo, statusSvc, statementStore, signer, cfg.APIPrefix, 3, logr)
	exportQueue := jobs.NewQueue("statement-exports", exportWorker.Handle, jobs.Options{
		Workers: cfg.Export.Workers,
		Logger:  logr,
	})
	exportSvc := service.NewStatementExportService(exportJobRepo, exportQueue, statementStore, signer, studentRepo, validate, logr, service.StatementExportConfig{
		DownloadPrefix:  cfg.APIPrefix,
		ResultTTL:       cfg.Export.ResultTTL,
		CleanupInterval: cfg.Export.CleanupInterval,
	})

	rootCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()
	exportQueue.Start(rootCtx)
	defer exportQueue.Stop()
	exportSvc.RecoverQueued(rootCtx)
	exportSvc.StartCleanup(rootCtx)

	paymentHandler := handler.NewPaymentHandler(allocationSvc)
	feeHandler := handler.NewFeeHandler(obligationSvc, statusSvc, rolloverSvc)
	siblingHandler := handler.NewSiblingHandler(siblingSvc)
	structureHandler := handler.NewFeeStructureHandler(structureSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	api.GET("/metrics/summary", metricsHandler.Summary)

	// Read surface stays open behind the gateway; mutations require a token.
	api.GET("/students/:id/fees", feeHandler.MonthlyStatus)
	api.GET("/students/:id/fees/statement", feeHandler.Statement)
	api.GET("/students/:id/siblings", siblingHandler.Detect)
	api.GET("/fee-structures", structureHandler.List)
	api.GET("/payments/:id", paymentHandler.Result)
	api.GET("/fees/exports/:jobId", exportHandler.Status)
	api.GET("/fees/exports/:jobId/download", exportHandler.Download)

	protected := api.Group("")
	protected.Use(middleware.JWT(cfg.JWT.Secret))
	protected.Use(middleware.RBAC("ADMIN", "TREASURER"))
	protected.POST("/payments", paymentHandler.Allocate)
	protected.POST("/students/:id/obligations", feeHandler.Generate)
	protected.POST("/students/:id/obligations/recalculate", feeHandler.Recalculate)
	protected.POST("/students/:id/rollover", feeHandler.Rollover)
	protected.POST("/students/:id/siblings/invalidate", siblingHandler.Invalidate)
	protected.POST("/fee-structures", structureHandler.Create)
	protected.POST("/students/:id/fees/statement/export", exportHandler.Request)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
