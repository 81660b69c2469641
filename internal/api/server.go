// Package api exposes the project, chat and document lifecycles over HTTP.
package api

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/novuscode/novuscode-api/internal/chat"
	"github.com/novuscode/novuscode-api/internal/document"
	"github.com/novuscode/novuscode-api/internal/fetch"
	"github.com/novuscode/novuscode-api/internal/health"
	"github.com/novuscode/novuscode-api/internal/metrics"
	"github.com/novuscode/novuscode-api/internal/project"
	"github.com/novuscode/novuscode-api/internal/requestid"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr     string
	Auth           AuthConfig
	RateLimit      RateLimitConfig
	CORSOrigins    string
	MaxUploadBytes int
}

// Deps are the services the handlers call.
type Deps struct {
	Projects  *project.Manager
	Chats     *chat.Manager
	Documents *document.Manager
	Fetcher   *fetch.Downloader
	Checker   *health.Checker
	Metrics   *metrics.Metrics
}

// Server is the API Fiber application.
type Server struct {
	app    *fiber.App
	deps   Deps
	logger zerolog.Logger
	config ServerConfig
}

// NewServer creates and configures the API server.
func NewServer(cfg ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	bodyLimit := cfg.MaxUploadBytes
	if bodyLimit <= 0 {
		bodyLimit = 100 * 1024 * 1024
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             bodyLimit,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:    app,
		deps:   deps,
		logger: logger.With().Str("component", "api_server").Logger(),
		config: cfg,
	}

	s.setupMiddleware(cfg, logger)
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, logger zerolog.Logger) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID
	s.app.Use(func(c *fiber.Ctx) error {
		ctx, reqID := requestid.Ensure(c.UserContext(), c.Get(requestid.Header))
		c.SetUserContext(ctx)
		c.Set(requestid.Header, reqID)
		return c.Next()
	})

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit))
	}

	s.app.Use(NewAuthMiddleware(cfg.Auth, logger))

	// Request log and metrics
	s.app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Path()
		if isProbe(path) {
			return err
		}

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		route := path
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		elapsed := time.Since(start)
		s.deps.Metrics.RecordRequest(route, strconv.Itoa(status), elapsed.Seconds())

		requestid.Logger(c.UserContext(), logger).Info().
			Str("method", c.Method()).
			Str("path", path).
			Int("status", status).
			Dur("duration", elapsed).
			Str("ip", c.IP()).
			Msg("api request")
		return err
	})
}

func (s *Server) setupRoutes() {
	s.app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
	s.app.Get("/healthz", s.liveness)
	s.app.Get("/readyz", s.readiness)
	if s.deps.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}

	// Projects
	s.app.Post("/uploadGithub", s.uploadGithub)
	s.app.Post("/uploadLocal", s.uploadLocal)
	s.app.Post("/recreateProject/:id", s.recreateProject)
	s.app.Put("/updateMetadata/:id", s.updateMetadata)
	s.app.Delete("/delete/:id", s.deleteProject)
	s.app.Get("/projects", s.listProjects)
	s.app.Get("/projects/:id", s.getProject)
	s.app.Get("/file/:projectId/:filename", s.readProjectFile)
	s.app.Get("/api/fetch-file-content", s.fetchFileContent)

	// Chats
	s.app.Post("/chatProject", s.chatProject)
	s.app.Post("/chatDocuments", s.chatDocuments)
	s.app.Post("/saveChat", s.saveChat)
	s.app.Post("/saveDocumentChat", s.saveDocumentChat)
	s.app.Post("/updateChat", s.updateChat)
	s.app.Post("/retrieveChats", s.retrieveChats)

	// Documents
	s.app.Post("/uploadDocument", s.uploadDocument)
	s.app.Get("/documents", s.listDocuments)
	s.app.Get("/documents/:id", s.getDocument)
	s.app.Get("/documents/:id/file", s.readDocumentFile)
	s.app.Delete("/documents/:id", s.deleteDocument)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":4000"
	}
	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) readiness(c *fiber.Ctx) error {
	if s.deps.Checker == nil {
		return c.JSON(fiber.Map{"status": "ready"})
	}
	results := s.deps.Checker.RunAll(c.UserContext())
	if !health.Ready(results) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"checks": results,
		})
	}
	return c.JSON(fiber.Map{"status": "ready", "checks": results})
}
