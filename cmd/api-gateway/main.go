package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/bimbel-adp-api/api/swagger"
	"github.com/noah-isme/bimbel-adp-api/internal/handler"
	"github.com/noah-isme/bimbel-adp-api/internal/middleware"
	"github.com/noah-isme/bimbel-adp-api/internal/models"
	"github.com/noah-isme/bimbel-adp-api/internal/repository"
	"github.com/noah-isme/bimbel-adp-api/internal/service"
	"github.com/noah-isme/bimbel-adp-api/pkg/cache"
	"github.com/noah-isme/bimbel-adp-api/pkg/config"
	"github.com/noah-isme/bimbel-adp-api/pkg/database"
	"github.com/noah-isme/bimbel-adp-api/pkg/export"
	"github.com/noah-isme/bimbel-adp-api/pkg/gatewayclient"
	"github.com/noah-isme/bimbel-adp-api/pkg/jobs"
	"github.com/noah-isme/bimbel-adp-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/bimbel-adp-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/bimbel-adp-api/pkg/middleware/requestid"
	"github.com/noah-isme/bimbel-adp-api/pkg/storage"
)

// @title Bimbel ADP API
// @version 0.1.0
// @description Tuition center payments, payroll and disbursement reconciliation
// @BasePath /
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

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	billingRepo := repository.NewBillingPeriodRepository(db)
	voucherRepo := repository.NewVoucherRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	invoiceRepo := repository.NewGatewayInvoiceRepository(db)
	payrollRepo := repository.NewPayrollRepository(db)
	disbursementRepo := repository.NewDisbursementRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	gateway := gatewayclient.New(gatewayclient.Config{
		BaseURL:      cfg.Gateway.BaseURL,
		APIKey:       cfg.Gateway.APIKey,
		Timeout:      cfg.Gateway.RequestTimeout,
		MaxRetries:   cfg.Gateway.MaxRetries,
		RetryBackoff: cfg.Gateway.RetryBackoff,
		Logger:       logr,
	})

	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	// Services.
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "bimbel-adp-api",
	})
	studentSvc := service.NewStudentService(studentRepo, nil, logr)
	teacherSvc := service.NewTeacherService(teacherRepo, nil, logr)
	billingSvc := service.NewBillingService(billingRepo, voucherRepo, enrollmentRepo, cacheRepo, nil, logr, service.BillingServiceConfig{
		Currency:        cfg.Billing.Currency,
		DueDay:          cfg.Billing.DueDay,
		SummaryCacheTTL: cfg.Billing.SummaryCacheTTL,
	})
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, billingSvc, userRepo, nil, logr)
	attendanceSvc := service.NewAttendanceService(db, attendanceRepo, teacherRepo, nil, logr)
	paymentSvc := service.NewPaymentService(db, paymentRepo, billingRepo, gateway, invoiceRepo, userRepo, nil, logr, service.PaymentServiceConfig{
		Currency:      cfg.Billing.Currency,
		InvoiceExpiry: cfg.Gateway.InvoiceExpiry,
	})
	invoiceReconciler := service.NewInvoiceReconciler(db, paymentRepo, billingRepo, invoiceRepo, cacheRepo, userRepo, logr, service.InvoiceReconcilerConfig{
		CallbackSecret: cfg.Gateway.CallbackToken,
	})
	payrollSvc := service.NewPayrollService(payrollRepo, teacherRepo, userRepo, nil, logr, service.PayrollServiceConfig{
		DefaultRatePerUnit: cfg.Payroll.DefaultRatePerUnit,
		Rounding:           cfg.Payroll.Rounding,
		BillPartialUnits:   cfg.Payroll.BillPartialUnits,
	})

	// The batch submission queue and the disbursement service reference
	// each other; the handler closure resolves the service lazily.
	var disbursementSvc *service.DisbursementService
	queue := jobs.NewQueue("disbursements", func(ctx context.Context, job jobs.Job) error {
		if job.Type != service.JobTypeSubmitBatch {
			logr.Warn("unknown job type", zap.String("type", job.Type))
			return nil
		}
		batchID, _ := job.Payload.(string)
		return disbursementSvc.SubmitBatch(ctx, batchID)
	}, jobs.QueueConfig{
		Workers:    cfg.Workers.DisbursementConcurrency,
		MaxRetries: cfg.Workers.DisbursementRetries,
		RetryDelay: cfg.Workers.RetryDelay,
		Logger:     logr,
	})
	disbursementSvc = service.NewDisbursementService(db, disbursementRepo, payrollRepo, teacherRepo, gateway, queue, userRepo, nil, logr)
	disbursementReconciler := service.NewDisbursementReconciler(db, disbursementRepo, payrollRepo, cacheRepo, userRepo, logr, service.DisbursementReconcilerConfig{
		CallbackSecret: cfg.Gateway.CallbackToken,
	})
	exportSvc := service.NewExportService(paymentRepo, payrollRepo, teacherRepo, files, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr, export.NewCSVExporter(), export.NewPDFExporter())

	queueCtx, stopQueue := context.WithCancel(context.Background())
	queue.Start(queueCtx)
	defer func() {
		stopQueue()
		queue.Stop()
	}()

	go func() {
		ticker := time.NewTicker(cfg.Exports.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-queueCtx.Done():
				return
			case <-ticker.C:
				if removed, err := exportSvc.Cleanup(0); err != nil {
					logr.Warn("export cleanup failed", zap.Error(err))
				} else if len(removed) > 0 {
					logr.Info("expired exports removed", zap.Int("count", len(removed)))
				}
			}
		}
	}()

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	teacherHandler := handler.NewTeacherHandler(teacherSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)
	billingHandler := handler.NewBillingHandler(billingSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	payrollHandler := handler.NewPayrollHandler(payrollSvc)
	disbursementHandler := handler.NewDisbursementHandler(disbursementSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	webhookHandler := handler.NewWebhookHandler(invoiceReconciler, disbursementReconciler, metricsSvc, logr)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Gateway callbacks carry their own HMAC token, no JWT.
	r.POST("/webhooks/invoice", webhookHandler.Invoice)
	r.POST("/webhooks/disbursement", webhookHandler.Disbursement)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	auth := api.Group("")
	auth.Use(middleware.JWT(authSvc))
	auth.POST("/auth/logout", authHandler.Logout)
	auth.GET("/auth/me", authHandler.Me)

	staff := auth.Group("")
	staff.Use(middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleFinance))

	staff.GET("/students", studentHandler.List)
	staff.POST("/students", studentHandler.Create)
	staff.GET("/students/:id", studentHandler.Get)
	staff.PUT("/students/:id", studentHandler.Update)
	staff.DELETE("/students/:id", studentHandler.Delete)
	staff.GET("/students/:id/billing-summary", billingHandler.Summary)

	staff.GET("/teachers", teacherHandler.List)
	staff.POST("/teachers", teacherHandler.Create)
	staff.GET("/teachers/:id", teacherHandler.Get)
	staff.PUT("/teachers/:id", teacherHandler.Update)
	staff.DELETE("/teachers/:id", teacherHandler.Delete)

	staff.GET("/enrollments", enrollmentHandler.List)
	staff.POST("/enrollments", enrollmentHandler.Create)
	staff.GET("/enrollments/:id", enrollmentHandler.Get)
	staff.POST("/enrollments/:id/activate", enrollmentHandler.Activate)
	staff.POST("/enrollments/:id/pause", enrollmentHandler.Pause)
	staff.POST("/enrollments/:id/leave", enrollmentHandler.Leave)

	sessions := auth.Group("")
	sessions.Use(middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleFinance, models.RoleTeacher))
	sessions.GET("/sessions", attendanceHandler.List)
	sessions.GET("/sessions/:id", attendanceHandler.Get)
	sessions.POST("/sessions", attendanceHandler.Mark)
	sessions.POST("/sessions/bulk", attendanceHandler.BulkMark)

	staff.GET("/billing-periods", billingHandler.List)
	staff.POST("/billing-periods/generate", billingHandler.Generate)
	staff.POST("/billing-periods/:id/voucher", billingHandler.ApplyVoucher)
	staff.POST("/billing-periods/:id/pay", paymentHandler.PayPeriod)
	staff.POST("/billing-periods/batch-pay", paymentHandler.BatchPay)

	staff.GET("/payments", paymentHandler.List)
	staff.POST("/payments", paymentHandler.Create)
	staff.GET("/payments/:id", paymentHandler.Get)

	staff.GET("/payrolls", payrollHandler.List)
	staff.POST("/payrolls/generate", payrollHandler.Generate)
	staff.POST("/payrolls/generate-period", payrollHandler.GeneratePeriod)
	staff.POST("/payrolls/preview", payrollHandler.Preview)
	staff.GET("/payrolls/:id", payrollHandler.Get)
	staff.POST("/payrolls/:id/payslip", exportHandler.Payslip)

	staff.GET("/disbursements", disbursementHandler.List)
	staff.POST("/disbursements", disbursementHandler.Create)
	staff.POST("/disbursements/batch", disbursementHandler.CreateBatch)
	staff.GET("/disbursements/:id", disbursementHandler.Get)
	staff.GET("/disbursements/batches/:id", disbursementHandler.GetBatch)

	staff.POST("/exports/payments", exportHandler.Payments)
	auth.GET("/exports/:token", exportHandler.Download)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
