package server

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// quietPaths are polled by dashboards and scrapers many times a second
var quietPaths = map[string]bool{
	"/health":             true,
	"/metrics":            true,
	"/api/heading":        true,
	"/api/heading/stream": true,
}

// LoggingMiddleware logs HTTP requests. Polled endpoints log at debug
// level and server errors at warn.
func LoggingMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		path := c.Path()
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		level := slog.LevelInfo
		switch {
		case status >= fiber.StatusInternalServerError:
			level = slog.LevelWarn
		case quietPaths[path]:
			level = slog.LevelDebug
		}

		logger.Log(c.UserContext(), level, "http request",
			"method", c.Method(),
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)

		return err
	}
}
