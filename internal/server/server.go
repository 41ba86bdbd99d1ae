// Package server contains the HTTP handlers: public intake, the Telegram
// webhook, health probes and the moderator admin API.
package server

import (
	"context"
	"time"

	_ "locbot/docs" // swagger docs
	"locbot/internal/config"
	"locbot/internal/database"
	"locbot/internal/events"
	"locbot/internal/featureflags"
	"locbot/internal/middleware"
	"locbot/internal/registry"
	"locbot/internal/repository"
	"locbot/internal/scheduler"
	"locbot/internal/service"
	appmodels "locbot/models"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Submitter accepts public proposals.
type Submitter interface {
	Submit(ctx context.Context, in appmodels.SubmissionRequest) (string, error)
}

// Decider applies moderator verdicts.
type Decider interface {
	Decide(ctx context.Context, in service.DecideInput) (service.Decision, error)
}

// Reconciler runs and reports republish passes.
type Reconciler interface {
	RunOnce(ctx context.Context) (scheduler.Report, error)
	LastSuccess() time.Time
	LastReport() scheduler.Report
	Running() bool
}

// SyncStatus reports the last confirmed document write.
type SyncStatus interface {
	LastSync() time.Time
}

// Deps are the already-initialized collaborators the handlers use.
// DB, Redis, Webhook and Reconciler may be nil.
type Deps struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Registry   *registry.Registry
	Intake     Submitter
	Approvals  Decider
	Ledger     repository.LocationRepository
	Reconciler Reconciler
	Sync       SyncStatus
	Webhook    *events.Queue
	Flags      *featureflags.Manager
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	registry       *registry.Registry
	intake         Submitter
	approvals      Decider
	ledger         repository.LocationRepository
	reconciler     Reconciler
	sync           SyncStatus
	webhook        *events.Queue
	featureFlags   *featureflags.Manager
	startedAt      time.Time
}

// NewServer creates a Server using already-initialized dependencies.
func NewServer(cfg *config.Config, deps Deps) *Server {
	flags := deps.Flags
	if flags == nil {
		flags = featureflags.NewManager(cfg.FeatureFlags)
	}
	return &Server{
		config:         cfg,
		db:             deps.DB,
		redis:          deps.Redis,
		promMiddleware: middleware.InitMetrics("locbot-api"),
		registry:       deps.Registry,
		intake:         deps.Intake,
		approvals:      deps.Approvals,
		ledger:         deps.Ledger,
		reconciler:     deps.Reconciler,
		sync:           deps.Sync,
		webhook:        deps.Webhook,
		featureFlags:   flags,
		startedAt:      time.Now(),
	}
}

// App builds the Fiber application with middleware and routes attached.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "locbot",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(appmodels.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", "error", err)
			return appmodels.RespondWithError(c, fiber.StatusInternalServerError,
				appmodels.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	app.Use(middleware.TracingMiddleware())

	// Context Middleware to propagate Request ID, trace ID and actor
	app.Use(middleware.ContextMiddleware())

	// Prometheus Metrics
	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so browser clients still receive CORS headers on 429s.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// Global rate limiting (100 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Preflights belong to CORS; Telegram delivers webhooks from a small pool of IPs.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Path() == webhookPath
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	// Health checks
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.HealthCheck)

	// Metrics endpoint for Prometheus
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}
	api.Get("/metrics/dashboard", monitor.New(monitor.Config{
		Title: "locbot Metrics Dashboard",
	}))

	// Swagger documentation
	api.Get("/swagger/*", swagger.HandlerDefault)

	// Public intake
	api.Post("/submissions", middleware.RateLimit(
		s.redis, s.submissionLimit(), time.Minute, "submission"), s.CreateSubmission)

	// Telegram push delivery
	app.Post(webhookPath, s.TelegramWebhook)

	// Admin routes
	admin := api.Group("/admin", s.AdminRequired())
	admin.Get("/requests", s.GetAdminRequests)
	admin.Post("/requests/:id/approve", s.ApproveRequest)
	admin.Post("/requests/:id/reject", s.RejectRequest)
	admin.Get("/locations", s.GetAdminLocations)
	admin.Post("/reconcile", s.TriggerReconcile)
	admin.Get("/feature-flags", s.GetFeatureFlags)
}

func (s *Server) submissionLimit() int {
	if s.config.SubmissionRateLimit > 0 {
		return s.config.SubmissionRateLimit
	}
	return 10
}

// Start starts the server
func (s *Server) Start() error {
	s.app = s.App()
	middleware.Logger.Info("Server starting", "port", s.config.Port)
	return s.app.Listen(":" + s.config.Port)
}

// Shutdown stops accepting requests and closes the ledger and Redis connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", "error", err)
		}
	}

	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			if cerr := sqlDB.Close(); cerr != nil {
				middleware.Logger.Error("error closing sql DB", "error", cerr)
			}
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", "error", rerr)
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}

// pingTimeout bounds dependency checks in health probes.
const pingTimeout = 5 * time.Second

func (s *Server) checkDatabase(ctx context.Context) string {
	if s.db == nil {
		return "unavailable"
	}
	if err := database.Ping(ctx, s.db); err != nil {
		return "unhealthy"
	}
	return "healthy"
}

func (s *Server) checkRedis(ctx context.Context) string {
	if s.redis == nil {
		return "unavailable"
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return "unhealthy"
	}
	return "healthy"
}
