// Package config provides configuration management for go-compass
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultPath is where the daemon looks for its config file
const DefaultPath = "/etc/go-compass/config.yaml"

// Config is the root configuration structure
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Sensor   SensorConfig   `mapstructure:"sensor"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	GPS      GPSConfig      `mapstructure:"gps"`
	Geocoder GeocoderConfig `mapstructure:"geocoder"`
	Cloud    CloudConfig    `mapstructure:"cloud"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// SensorConfig configures the orientation sensor and heading pipeline
type SensorConfig struct {
	Source          string        `mapstructure:"source"` // mock, mqtt
	Mode            string        `mapstructure:"mode"`   // rotation_vector, accel_mag
	Alpha           float64       `mapstructure:"alpha"`
	DisplayRotation int           `mapstructure:"display_rotation"`
	SampleInterval  time.Duration `mapstructure:"sample_interval"`
	HistorySize     int           `mapstructure:"history_size"`
	USBVendorID     uint16        `mapstructure:"usb_vendor_id"`
	USBProductID    uint16        `mapstructure:"usb_product_id"`
}

// MQTTConfig configures the MQTT sensor transport
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
	QoS      int    `mapstructure:"qos"`
}

// GPSConfig configures the location source
type GPSConfig struct {
	Source   string `mapstructure:"source"` // none, mock, serial
	Port     string `mapstructure:"port"`
	BaudRate uint   `mapstructure:"baud_rate"`
}

// GeocoderConfig configures reverse geocoding
type GeocoderConfig struct {
	Provider     string        `mapstructure:"provider"` // none, google
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinDistanceM float64       `mapstructure:"min_distance_m"`
}

// CloudConfig configures the dashboard relay
type CloudConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PublishInterval  time.Duration `mapstructure:"publish_interval"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9100,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
		},
		Sensor: SensorConfig{
			Source:         "mock",
			Mode:           "rotation_vector",
			Alpha:          0.3,
			SampleInterval: 20 * time.Millisecond,
			HistorySize:    100,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "go-compass",
			Topic:    "compass/sensor",
		},
		GPS: GPSConfig{
			Source:   "none",
			Port:     "/dev/ttyUSB0",
			BaudRate: 9600,
		},
		Geocoder: GeocoderConfig{
			Provider:     "none",
			Timeout:      5 * time.Second,
			MinDistanceM: 25,
		},
		Cloud: CloudConfig{
			URL:              "ws://localhost:8080/ws/device",
			ReconnectBackoff: 1 * time.Second,
			MaxBackoff:       30 * time.Second,
			PingInterval:     10 * time.Second,
			WriteTimeout:     5 * time.Second,
			PublishInterval:  1 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			// Missing file is okay, we have defaults
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("GOCOMPASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	// Server defaults
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.graceful_timeout", d.Server.GracefulTimeout)

	// Sensor defaults
	v.SetDefault("sensor.source", d.Sensor.Source)
	v.SetDefault("sensor.mode", d.Sensor.Mode)
	v.SetDefault("sensor.alpha", d.Sensor.Alpha)
	v.SetDefault("sensor.display_rotation", d.Sensor.DisplayRotation)
	v.SetDefault("sensor.sample_interval", d.Sensor.SampleInterval)
	v.SetDefault("sensor.history_size", d.Sensor.HistorySize)
	v.SetDefault("sensor.usb_vendor_id", d.Sensor.USBVendorID)
	v.SetDefault("sensor.usb_product_id", d.Sensor.USBProductID)

	// MQTT defaults
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.topic", d.MQTT.Topic)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)

	// GPS defaults
	v.SetDefault("gps.source", d.GPS.Source)
	v.SetDefault("gps.port", d.GPS.Port)
	v.SetDefault("gps.baud_rate", d.GPS.BaudRate)

	// Geocoder defaults
	v.SetDefault("geocoder.provider", d.Geocoder.Provider)
	v.SetDefault("geocoder.api_key", d.Geocoder.APIKey)
	v.SetDefault("geocoder.timeout", d.Geocoder.Timeout)
	v.SetDefault("geocoder.min_distance_m", d.Geocoder.MinDistanceM)

	// Cloud defaults
	v.SetDefault("cloud.enabled", d.Cloud.Enabled)
	v.SetDefault("cloud.url", d.Cloud.URL)
	v.SetDefault("cloud.reconnect_backoff", d.Cloud.ReconnectBackoff)
	v.SetDefault("cloud.max_backoff", d.Cloud.MaxBackoff)
	v.SetDefault("cloud.ping_interval", d.Cloud.PingInterval)
	v.SetDefault("cloud.write_timeout", d.Cloud.WriteTimeout)
	v.SetDefault("cloud.publish_interval", d.Cloud.PublishInterval)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Sensor.Alpha <= 0 || c.Sensor.Alpha > 1 {
		return fmt.Errorf("sensor.alpha must be in (0, 1], got %f", c.Sensor.Alpha)
	}

	switch c.Sensor.DisplayRotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("sensor.display_rotation must be 0, 90, 180 or 270, got %d", c.Sensor.DisplayRotation)
	}

	if err := oneOf("sensor.source", c.Sensor.Source, "mock", "mqtt"); err != nil {
		return err
	}
	if err := oneOf("sensor.mode", c.Sensor.Mode, "rotation_vector", "accel_mag"); err != nil {
		return err
	}
	if err := oneOf("gps.source", c.GPS.Source, "none", "mock", "serial"); err != nil {
		return err
	}
	if err := oneOf("geocoder.provider", c.Geocoder.Provider, "none", "google"); err != nil {
		return err
	}
	if err := oneOf("logging.level", c.Logging.Level, "debug", "info", "warn", "error"); err != nil {
		return err
	}
	if err := oneOf("logging.format", c.Logging.Format, "json", "text"); err != nil {
		return err
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	if c.Sensor.Source == "mqtt" && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when sensor.source is mqtt")
	}

	if c.Cloud.Enabled && c.Cloud.URL == "" {
		return errors.New("cloud.url is required when cloud is enabled")
	}

	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}

// isMissingFile reports a config path that does not exist. viper returns the
// raw open error when SetConfigFile points at a missing path.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
