package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/photoid_backend/appctx"
	"bitbucket.org/mmdatafocus/photoid_backend/config"
	"bitbucket.org/mmdatafocus/photoid_backend/mailer"
	"bitbucket.org/mmdatafocus/photoid_backend/middlewares"
	"bitbucket.org/mmdatafocus/photoid_backend/models"
	"bitbucket.org/mmdatafocus/photoid_backend/utils"
	"bitbucket.org/mmdatafocus/photoid_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP()
	ctx := c.Request.Context()

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		// fail open; rate limiting is advisory
		c.Next()
		return
	}
	if count == 1 {
		rl.client.Expire(ctx, key, rl.window)
	}
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		return
	}
	c.Next()
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// customErrorLogger logs only requests that recorded errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// loginHandler authenticates a staff user and returns the JWT the admin
// surface expects in the Authorization header.
func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		info, err := models.Login(config.GetDB(), c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func registerRoutes(r *gin.Engine, settings config.Settings, repo models.OrderMetadataRepository, staging *models.StagingArea, store utils.SecureStore, bus *workflow.Bus, mail *mailer.Client) {
	api := r.Group("/api")

	// Staff login.
	api.POST("/auth/login", loginHandler())

	// Checkout surface (anonymous).
	api.POST("/photo-id/requirement", requirementHandler(settings))
	api.POST("/photo-id/upload", stageUploadHandler(staging, settings, bus))
	api.POST("/orders", createOrderHandler(staging, store, settings, bus))

	// Token-gated customer re-upload.
	api.GET("/photo-id/reupload", reuploadFormHandler(repo))
	api.POST("/photo-id/reupload", reuploadSubmitHandler(repo, staging, store, settings, bus))

	// Staff surface.
	admin := api.Group("/admin", middlewares.RequirePhotoIDManager())
	admin.GET("/orders/:id/photo-id", photoIDStatusHandler(repo))
	admin.GET("/orders/:id/photo-id/download", downloadHandler(repo, store, settings))
	admin.GET("/orders/:id/photo-id/preview", previewHandler(repo, store, settings))
	admin.GET("/orders/:id/photo-id/access-log", accessLogHandler())
	admin.POST("/orders/:id/photo-id/request", requestUploadHandler(repo, mail, settings))
	admin.DELETE("/orders/:id/photo-id", eraseHandler(repo, store, settings))
	admin.POST("/photo-id/bulk-request", bulkRequestHandler(repo, mail, settings))
	admin.GET("/photo-id/export", exportHandler())
	admin.GET("/privacy/export", privacyExportHandler())
	admin.POST("/privacy/erase", privacyEraseHandler(repo, store, settings))
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	settings, err := config.LoadSettings()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "settings"}).Panic(err.Error())
	}

	store, err := utils.NewSecureStore(settings.SecureDir)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "storage"}).Panic(err.Error())
	}
	staging, err := models.NewStagingArea(settings.StagingDir, settings.StagingTTL, models.RedisKeystore{}, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "storage"}).Panic(err.Error())
	}

	mail := mailer.NewClient(settings)
	repo := models.NewOrderMetadataRepository(config.GetDB())

	bus := workflow.NewBus(logger)
	bus.Subscribe(workflow.EventUploadPromoted, func(ctx context.Context, e workflow.Event) {
		if !mail.Enabled() || !settings.AdminNotification {
			return
		}
		db := config.GetDB()
		order, err := models.GetOrder(db, ctx, e.OrderID)
		if err != nil {
			config.LogError(logger, "main", "onUploadPromoted", "loading order", e.OrderID, err)
			return
		}
		ledger, err := models.NewOrderMetadataRepository(db).GetLedger(ctx, e.OrderID)
		if err != nil {
			config.LogError(logger, "main", "onUploadPromoted", "loading record", e.OrderID, err)
			return
		}
		if err := mail.SendAdminNotification(ctx, order, ledger); err != nil {
			config.LogError(logger, "main", "onUploadPromoted", "notifying admin", e.OrderID, err)
		}
	})
	if config.PubSubEnabled() {
		bus.Subscribe(workflow.EventUploadValidated, workflow.PubSubBridge(logger))
		bus.Subscribe(workflow.EventUploadPromoted, workflow.PubSubBridge(logger))
		bus.Subscribe(workflow.EventUploadFailed, workflow.PubSubBridge(logger))
	}

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the platform considers the revision
	// healthy. Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(appctx.Set(c.Request.Context(), appctx.ContextKeyCorrelationId, cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production requires an explicit allowlist via CORS_ALLOWED_ORIGINS.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		r.Use(func(c *gin.Context) {
			// readiness gate runs first, so the client is non-nil here
			NewRateLimiter(config.GetRedisDB(), limit, time.Duration(windowSec)*time.Second).RateLimitMiddleware(c)
		})
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	registerRoutes(r, settings, repo, staging, store, bus, mail)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	// Start listening immediately (startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate runs DDL that can block tables; allow running migrations
	// as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Daily retention and staging sweeps, lock-guarded across replicas.
	retention := workflow.NewRetentionSweeper(repo, store, logger, settings.RetentionDays)
	sweeperCtx, cancelSweeper := context.WithCancel(context.Background())
	defer cancelSweeper()
	go workflow.NewDailyRunner(logger, retention.Sweep, staging.Sweep).Run(sweeperCtx)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info(fmt.Sprintf("listening on http://localhost:%s/", port))

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work mid-drain.
	cancelSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
