// Package config provides server configuration loaded from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Route sources.
const (
	SourceFile = "file"
	SourceDB   = "db"
)

// Config holds approuter configuration.
type Config struct {
	// COMMS: connect to NATS at COMMSURL unless COMMSEnabled is false.
	COMMSURL     string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName    string `envconfig:"SERVICE_NAME" default:"approuter"`
	COMMSEnabled bool   `envconfig:"COMMS_ENABLED" default:"true"`

	// Subjects
	ServiceSubjectPrefix string `envconfig:"SERVICE_SUBJECT_PREFIX" default:"approuter.svc"`
	RouterSubject        string `envconfig:"ROUTER_SUBJECT"`
	ReloadSubject        string `envconfig:"RELOAD_SUBJECT" default:"approuter.routes.reload"`
	ChangeEventSubject   string `envconfig:"CHANGE_EVENT_SUBJECT" default:"approuter.routes.changed"`

	// Routes
	RoutesFile   string `envconfig:"ROUTES_FILE"`
	RoutesSource string `envconfig:"ROUTES_SOURCE" default:"file"`

	// Timeouts. RequestTimeout 0 leaves data loading unbounded.
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"0s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Database
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// HTTP (HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr string `envconfig:"HTTP_ADDR"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	c.RoutesSource = strings.ToLower(strings.TrimSpace(c.RoutesSource))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	return &c, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// ValidateForServe checks required config when running the router.
func (c *Config) ValidateForServe() error {
	switch c.RoutesSource {
	case SourceFile:
	case SourceDB:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%s - DATABASE_URL is required when ROUTES_SOURCE=db", logPrefix)
		}
	default:
		return fmt.Errorf("%s - ROUTES_SOURCE must be %q or %q, got %q", logPrefix, SourceFile, SourceDB, c.RoutesSource)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%s - REQUEST_TIMEOUT must not be negative", logPrefix)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%s - SHUTDOWN_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.HTTPAddr == "" && (c.HTTPPort < 0 || c.HTTPPort > 65535) {
		return fmt.Errorf("%s - HTTP_PORT %d is out of range", logPrefix, c.HTTPPort)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%s - LOG_FORMAT must be text or json, got %q", logPrefix, c.LogFormat)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear, seed).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// ParseLevel maps LOG_LEVEL onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%s - unknown LOG_LEVEL %q", logPrefix, s)
}
