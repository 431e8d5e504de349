// Package api exposes the HTTP surface: medication CRUD, dose logs and
// actions, channel management, the cron trigger, and the live WebSocket.
package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/davmgs/meditrack/internal/channels/inapp"
	"github.com/davmgs/meditrack/internal/channels/push"
	"github.com/davmgs/meditrack/internal/channels/telegram"
	"github.com/davmgs/meditrack/internal/config"
	"github.com/davmgs/meditrack/internal/metrics"
	"github.com/davmgs/meditrack/internal/reminder"
	"github.com/davmgs/meditrack/internal/store"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// Server handles HTTP API and WebSocket
type Server struct {
	app        *fiber.App
	config     *config.Config
	store      *store.Store
	dispatcher *reminder.Dispatcher
	actions    *reminder.Actions
	hub        *inapp.Hub
	telegram   *telegram.Bot
	push       *push.Sender
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// Deps bundles the server's collaborators.
type Deps struct {
	Store      *store.Store
	Dispatcher *reminder.Dispatcher
	Actions    *reminder.Actions
	Hub        *inapp.Hub
	Telegram   *telegram.Bot
	Push       *push.Sender
	Metrics    *metrics.Metrics
}

// New creates a new API server
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	s := &Server{
		app:        app,
		config:     cfg,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		actions:    deps.Actions,
		hub:        deps.Hub,
		telegram:   deps.Telegram,
		push:       deps.Push,
		metrics:    deps.Metrics,
		logger:     logger,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Middleware
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	// Health check
	s.app.Get("/api/health", s.handleHealth)

	// Prometheus metrics
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	api := s.app.Group("/api")

	// Public routes
	api.Post("/auth/login", s.handleLogin)
	api.Get("/cron/reminders", s.handleCronReminders)
	api.Post("/telegram/webhook", s.handleTelegramWebhook)
	api.Get("/push/public-key", s.handlePushPublicKey)

	// Protected routes
	protected := api.Use(s.authMiddleware())

	// Medications
	protected.Get("/medications", s.handleListMedications)
	protected.Post("/medications", s.handleCreateMedication)
	protected.Get("/medications/low-stock", s.handleLowStockMedications)
	protected.Get("/medications/:id", s.handleGetMedication)
	protected.Put("/medications/:id", s.handleUpdateMedication)
	protected.Delete("/medications/:id", s.handleDeleteMedication)

	// Dose logs
	protected.Get("/dose-logs", s.handleListDoseLogs)
	protected.Post("/dose-logs", s.handleUpsertDoseLog)
	protected.Post("/dose-logs/:id/action", s.handleDoseAction)

	// Push subscriptions
	protected.Post("/push/subscribe", s.handlePushSubscribe)
	protected.Post("/push/unsubscribe", s.handlePushUnsubscribe)

	// Telegram linking
	protected.Post("/telegram/generate-token", s.handleGenerateLinkToken)
	protected.Post("/telegram/test", s.handleTelegramTest)

	// WebSocket
	s.app.Get("/ws", websocket.New(s.handleWebSocket))
}

// Start starts the server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
