// go-compass: compass heading daemon
// Turns orientation sensor samples into a smoothed heading and serves it
// with the device location over HTTP and WebSocket
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-compass/internal/cloud"
	"github.com/teslashibe/go-compass/internal/compass"
	"github.com/teslashibe/go-compass/internal/config"
	"github.com/teslashibe/go-compass/internal/health"
	"github.com/teslashibe/go-compass/internal/location"
	"github.com/teslashibe/go-compass/internal/orientation"
	"github.com/teslashibe/go-compass/internal/sensor"
	"github.com/teslashibe/go-compass/internal/server"
)

var (
	version     = "0.1.0"
	configPath  = flag.String("config", config.DefaultPath, "config file path")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
	useMock     = flag.Bool("mock", false, "use mock sensor and GPS sources (for testing)")
)

// resubscribeDelay paces sensor and GPS resubscription after a source ends
const resubscribeDelay = 2 * time.Second

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-compass %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *configPath, err)
		cfg = config.Default()
	}

	if *debug {
		cfg.Logging.Level = "debug"
	}
	if *useMock {
		cfg.Sensor.Source = sensor.SourceMock
		if cfg.GPS.Source != location.SourceNone {
			cfg.GPS.Source = location.SourceMock
		}
	}

	logger := setupLogger(cfg.Logging)

	logger.Info("starting go-compass",
		"version", version,
		"config", *configPath,
		"port", cfg.Server.Port,
	)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checker := health.NewChecker(version)

	// Sensor source
	mode, err := orientation.ParseMode(cfg.Sensor.Mode)
	if err != nil {
		logger.Error("invalid sensor mode", "error", err)
		os.Exit(1)
	}

	mqttCfg := sensor.DefaultMQTTConfig()
	mqttCfg.Broker = cfg.MQTT.Broker
	mqttCfg.ClientID = cfg.MQTT.ClientID
	mqttCfg.Topic = cfg.MQTT.Topic
	mqttCfg.QoS = byte(cfg.MQTT.QoS)

	source := sensor.NewSourceWithFallback(sensor.Options{
		Source:   cfg.Sensor.Source,
		Mode:     mode,
		Rotation: orientation.DisplayRotation(cfg.Sensor.DisplayRotation),
		Interval: cfg.Sensor.SampleInterval,
		MQTT:     mqttCfg,
	}, logger)
	defer source.Close()

	logger.Info("sensor source ready",
		"type", source.Name(),
		"mode", mode,
		"healthy", source.Healthy(),
	)

	checker.Register("sensor", true, func() (bool, string) {
		return source.Healthy(), source.Name()
	})

	if cfg.Sensor.USBVendorID != 0 || cfg.Sensor.USBProductID != 0 {
		vid, pid := cfg.Sensor.USBVendorID, cfg.Sensor.USBProductID
		checker.Register("usb_imu", false, func() (bool, string) {
			info, err := sensor.ProbeUSB(vid, pid)
			if err != nil {
				return false, err.Error()
			}
			return true, info.Product
		})
	}

	// Heading tracker
	tracker := compass.NewTracker(source, compass.TrackerConfig{
		Mode:        mode,
		Alpha:       cfg.Sensor.Alpha,
		HistorySize: cfg.Sensor.HistorySize,
		LogEvery:    50,
	}, logger)

	go runTracker(ctx, tracker, logger)

	// Location
	locationSvc, err := setupLocation(ctx, cfg, logger)
	if err != nil {
		logger.Error("invalid location setup", "error", err)
		os.Exit(1)
	}
	if locationSvc != nil {
		checker.Register("location", false, func() (bool, string) {
			stats := locationSvc.Stats()
			return stats.Running, stats.Address
		})
	}

	// Dashboard relay
	var relay *cloud.Client
	if cfg.Cloud.Enabled {
		relay = cloud.NewClient(cloud.Config{
			URL:              cfg.Cloud.URL,
			ReconnectBackoff: cfg.Cloud.ReconnectBackoff,
			MaxBackoff:       cfg.Cloud.MaxBackoff,
			PingInterval:     cfg.Cloud.PingInterval,
			WriteTimeout:     cfg.Cloud.WriteTimeout,
			PublishInterval:  cfg.Cloud.PublishInterval,
		}, logger)
		relay.OnStatsRequest(func() interface{} {
			return tracker.Stats()
		})
		if err := relay.Connect(ctx); err != nil {
			logger.Warn("dashboard relay unavailable", "error", err)
		}

		var locations cloud.LocationProvider
		if locationSvc != nil {
			locations = locationSvc
		}
		go relay.Publish(ctx, tracker, locations)

		checker.Register("cloud", false, func() (bool, string) {
			if relay.IsConnected() {
				return true, "connected"
			}
			return false, "disconnected"
		})
	}

	// HTTP server
	srv := server.New(cfg, server.Deps{
		Tracker:  tracker,
		Location: locationSvc,
		Health:   checker,
	}, logger, version)

	go srv.WSHub().Run(ctx)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	printStartupBanner(cfg, version)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Stop in order: server -> relay -> tracker -> location -> source
	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	if relay != nil {
		relay.Close()
	}

	logger.Info("stopping tracker...")
	cancel()
	tracker.Stop()

	if locationSvc != nil {
		locationSvc.Close()
	}

	logger.Info("go-compass stopped")
}

// runTracker keeps a sensor subscription alive, resubscribing with fresh
// pipeline state whenever the source ends
func runTracker(ctx context.Context, tracker *compass.Tracker, logger *slog.Logger) {
	for {
		err := tracker.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if !errors.Is(err, compass.ErrSourceEnded) {
			logger.Error("tracker error", "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

// setupLocation starts the location service, or returns nil when no GPS is configured
func setupLocation(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*location.Service, error) {
	fixes, err := location.NewFixSource(cfg.GPS.Source, cfg.GPS.Port, cfg.GPS.BaudRate, logger)
	if err != nil || fixes == nil {
		return nil, err
	}

	geocoder, err := location.NewGeocoder(cfg.Geocoder.Provider, cfg.Geocoder.APIKey, cfg.Geocoder.Timeout)
	if err != nil {
		return nil, err
	}

	svc := location.NewService(fixes, geocoder, location.ServiceConfig{
		MinDistanceM: cfg.Geocoder.MinDistanceM,
	}, logger)

	go func() {
		if err := svc.RunWithRetry(ctx, resubscribeDelay); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("location service stopped", "error", err)
		}
	}()

	logger.Info("location service ready",
		"gps", fixes.Name(),
		"geocoder", cfg.Geocoder.Provider,
	)

	return svc, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, version string) {
	fmt.Println()
	fmt.Println("🧭 go-compass v" + version)
	fmt.Println("   Compass heading daemon")
	fmt.Println()
	fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health              - Health check")
	fmt.Println("   GET  /api/heading         - Current heading")
	fmt.Println("   WS   /api/heading/stream  - Real-time heading stream")
	fmt.Println("   GET  /api/location        - Current location")
	fmt.Println("   GET  /api/stats           - Tracker statistics")
	fmt.Println("   GET  /metrics             - Prometheus metrics")
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
