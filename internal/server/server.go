// Package server provides the HTTP API and WebSocket stream for go-compass
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-compass/internal/compass"
	"github.com/teslashibe/go-compass/internal/config"
	"github.com/teslashibe/go-compass/internal/health"
	"github.com/teslashibe/go-compass/internal/location"
)

// Deps are the components the server exposes. Location and Health may be nil.
type Deps struct {
	Tracker  *compass.Tracker
	Location *location.Service
	Health   *health.Checker
}

// Server is the HTTP server for go-compass
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	tracker   *compass.Tracker
	location  *location.Service
	health    *health.Checker
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string
}

// New creates a new HTTP server
func New(cfg *config.Config, deps Deps, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-compass",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	checker := deps.Health
	if checker == nil {
		checker = health.NewChecker(version)
	}

	// Keep the hub's location provider a true nil interface when absent
	var locations LocationProvider
	if deps.Location != nil {
		locations = deps.Location
	}

	s := &Server{
		app:       app,
		cfg:       cfg,
		tracker:   deps.Tracker,
		location:  deps.Location,
		health:    checker,
		logger:    logger,
		wsHub:     NewWSHub(deps.Tracker, locations, logger),
		startTime: time.Now(),
		version:   version,
	}

	// Register routes
	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	// Health check
	s.app.Get("/health", s.healthHandler)

	// Metrics endpoint
	collector := newCompassCollector(s.tracker, s.location, s.wsHub, s.startTime)
	s.app.Get("/metrics", adaptor.HTTPHandler(
		promhttp.HandlerFor(newMetricsRegistry(collector), promhttp.HandlerOpts{}),
	))

	api := s.app.Group("/api")

	api.Get("/heading", s.headingHandler)
	api.Get("/heading/stream", s.wsHub.UpgradeHandler())
	api.Get("/location", s.locationHandler)

	// Config endpoint
	api.Get("/config", s.configHandler)

	// Stats endpoint
	api.Get("/stats", s.statsHandler)
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	status := s.health.GetStatus()

	code := fiber.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(status)
}

// headingHandler returns the current heading
func (s *Server) headingHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "heading tracker not available",
		})
	}

	return c.JSON(s.tracker.Latest())
}

// locationHandler returns the current location, or the placeholder when no
// GPS is configured
func (s *Server) locationHandler(c *fiber.Ctx) error {
	if s.location == nil {
		return c.JSON(location.DefaultData())
	}

	return c.JSON(s.location.Latest())
}

// configHandler returns the effective configuration without secrets
func (s *Server) configHandler(c *fiber.Ctx) error {
	cfg := s.cfg

	return c.JSON(fiber.Map{
		"server": fiber.Map{
			"port":             cfg.Server.Port,
			"read_timeout_ms":  cfg.Server.ReadTimeout.Milliseconds(),
			"write_timeout_ms": cfg.Server.WriteTimeout.Milliseconds(),
		},
		"sensor": fiber.Map{
			"source":             cfg.Sensor.Source,
			"mode":               cfg.Sensor.Mode,
			"alpha":              cfg.Sensor.Alpha,
			"display_rotation":   cfg.Sensor.DisplayRotation,
			"sample_interval_ms": cfg.Sensor.SampleInterval.Milliseconds(),
			"history_size":       cfg.Sensor.HistorySize,
		},
		"gps": fiber.Map{
			"source": cfg.GPS.Source,
		},
		"geocoder": fiber.Map{
			"provider":       cfg.Geocoder.Provider,
			"min_distance_m": cfg.Geocoder.MinDistanceM,
		},
		"cloud": fiber.Map{
			"enabled": cfg.Cloud.Enabled,
			"url":     cfg.Cloud.URL,
		},
	})
}

// statsHandler returns tracker and location statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	if s.tracker == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "tracker not available",
		})
	}

	return c.JSON(s.stats())
}

// Stats is the combined statistics payload
type Stats struct {
	Tracker   compass.TrackerStats   `json:"tracker"`
	Location  *location.ServiceStats `json:"location,omitempty"`
	WebSocket int                    `json:"websocket_clients"`
}

func (s *Server) stats() Stats {
	out := Stats{
		Tracker:   s.tracker.Stats(),
		WebSocket: s.wsHub.ClientCount(),
	}
	if s.location != nil {
		ls := s.location.Stats()
		out.Location = &ls
	}
	return out
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Server.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close WebSocket hub
	s.wsHub.Close()

	// Shutdown Fiber with timeout from context
	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
