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

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/nmarchetti/studio-api/api/swagger"
	"github.com/nmarchetti/studio-api/internal/handler"
	"github.com/nmarchetti/studio-api/internal/middleware"
	"github.com/nmarchetti/studio-api/internal/models"
	"github.com/nmarchetti/studio-api/internal/repository"
	"github.com/nmarchetti/studio-api/internal/service"
	"github.com/nmarchetti/studio-api/pkg/cache"
	"github.com/nmarchetti/studio-api/pkg/config"
	"github.com/nmarchetti/studio-api/pkg/database"
	"github.com/nmarchetti/studio-api/pkg/logger"
	"github.com/nmarchetti/studio-api/pkg/mail"
	corsmiddleware "github.com/nmarchetti/studio-api/pkg/middleware/cors"
	reqidmiddleware "github.com/nmarchetti/studio-api/pkg/middleware/requestid"
	"github.com/nmarchetti/studio-api/pkg/scheduler"
	"github.com/nmarchetti/studio-api/pkg/storage"
)

// @title Studio API
// @version 1.0.0
// @description Credit ledger and attendance backend for a pilates studio
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

	timezone, err := time.LoadLocation(cfg.Studio.Timezone)
	if err != nil {
		logr.Sugar().Warnw("invalid studio timezone, falling back to UTC", "timezone", cfg.Studio.Timezone)
		timezone = time.UTC
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close() //nolint:errcheck
	}

	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare exports storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	studentRepo := repository.NewStudentRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	classRepo := repository.NewClassRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	var sender mail.Sender
	if cfg.Mail.Provider == "sendgrid" && cfg.Mail.SendgridKey != "" {
		sender = mail.NewSendgridSender(cfg.Mail.SendgridKey, cfg.Mail.FromName, cfg.Mail.FromAddress)
	} else {
		sender = mail.NewConsoleSender(logr)
	}

	validate := validator.New()

	notificationSvc := service.NewNotificationService(sender, cfg.Studio.DefaultLanguage, cfg.Digest.ItemDelay, logr)
	creditSvc := service.NewCreditService(ledgerRepo, studentRepo, notificationSvc, cacheRepo,
		validate, logr, timezone, cfg.Studio.LedgerPageSize)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, classRepo, creditSvc, cacheRepo, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	classSvc := service.NewClassService(classRepo, validate, logr)
	alertSvc := service.NewAlertService(studentRepo, cacheRepo, cfg.Studio.LowCreditThreshold, logr)
	reportSvc := service.NewReportService(attendanceRepo, ledgerRepo, files, signer,
		cfg.Exports.RetentionTTL, timezone, logr)
	metricsSvc := service.NewMetricsService()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	sched := scheduler.New(logr)
	sched.Register("exports_cleanup", cfg.Exports.CleanupInterval, reportSvc.Cleanup)
	if cfg.Digest.Enabled {
		sched.Register("low_credit_digest", cfg.Digest.Interval, func(ctx context.Context) error {
			students, err := alertSvc.LowCredits(ctx)
			if err != nil {
				return err
			}
			report := notificationSvc.SendLowCreditDigest(ctx, students)
			logr.Sugar().Infow("low credit digest finished",
				"candidates", report.Candidates, "sent", report.Sent, "failed", len(report.Failures))
			return nil
		})
	}
	sched.Start(ctx)
	defer sched.Stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	students := handler.NewStudentHandler(studentSvc)
	credits := handler.NewCreditHandler(creditSvc, metricsSvc)
	attendance := handler.NewAttendanceHandler(attendanceSvc, metricsSvc)
	classes := handler.NewClassHandler(classSvc)
	alerts := handler.NewAlertHandler(alertSvc)
	reports := handler.NewReportHandler(reportSvc)
	notifications := handler.NewNotificationHandler(alertSvc, notificationSvc)

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT.Secret))
	{
		api.GET("/students", staff, students.List)
		api.POST("/students", staff, students.Create)
		api.GET("/students/:id", staff, students.Get)
		api.PUT("/students/:id", staff, students.Update)
		api.GET("/students/:id/credits", staff, credits.Snapshot)
		api.GET("/students/:id/credits/audit", adminOnly, credits.Audit)
		api.GET("/students/:id/attendance", staff, attendance.History)

		api.POST("/credits/adjust", staff, credits.Adjust)
		api.GET("/credits/ledger", staff, credits.Ledger)

		api.POST("/attendance/mark", staff, attendance.Mark)
		api.GET("/attendance", staff, attendance.List)

		api.GET("/classes", staff, classes.List)
		api.POST("/classes", adminOnly, classes.Create)
		api.GET("/classes/:id", staff, classes.Get)
		api.POST("/schedules", adminOnly, classes.CreateSchedule)
		api.GET("/schedules/:scheduleId/roster", staff, attendance.Roster)
		api.POST("/schedules/:scheduleId/enrollments", staff, classes.Enroll)
		api.DELETE("/schedules/:scheduleId/enrollments/:studentId", staff, classes.Unenroll)

		api.GET("/alerts/low-credits", staff, alerts.LowCredits)
		api.GET("/alerts/zero-credits", staff, alerts.ZeroCredits)

		api.POST("/reports/export", staff, reports.Export)
		api.POST("/notifications/low-credit-digest", adminOnly, notifications.SendLowCreditDigest)
	}
	// Download is authenticated by the signed token itself.
	r.GET(cfg.APIPrefix+"/reports/download", reports.Download)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown error", "error", err)
	}
}
