// Package config loads process configuration from the environment.
//
// A .env file in the working directory is read first (missing is fine), then
// envconfig fills the structs from the environment using the tags below.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Server holds the platform server configuration.
type Server struct {
	Port     int    `envconfig:"PORT" default:"8000"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"VERSION" default:"1.0.0"`
	DBPath   string `envconfig:"DB_PATH" default:"data/melotech.db"`

	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	StorageDriver     string `envconfig:"STORAGE_DRIVER" default:"local"`
	StorageDir        string `envconfig:"STORAGE_DIR" default:"data/objects"`
	StorageSigningKey string `envconfig:"STORAGE_SIGNING_KEY" default:""`
	S3Region          string `envconfig:"S3_REGION" default:"us-west-1"`
	S3BucketPrefix    string `envconfig:"S3_BUCKET_PREFIX" default:""`

	MailgunAPIKey    string `envconfig:"MAILGUN_API_KEY" default:""`
	MailgunDomain    string `envconfig:"MAILGUN_DOMAIN" default:""`
	MailgunFromEmail string `envconfig:"MAILGUN_FROM_EMAIL" default:"noreply@melotech.local"`
	MailgunBaseURL   string `envconfig:"MAILGUN_BASE_URL" default:"https://api.mailgun.net"`

	WebhookSecret string `envconfig:"WEBHOOK_SECRET" default:""`

	// WSAllowedOrigins are extra websocket origin patterns, e.g. "localhost:3000".
	WSAllowedOrigins []string `envconfig:"WS_ALLOWED_ORIGINS" default:""`

	AdminEmail    string `envconfig:"ADMIN_EMAIL" default:""`
	AdminPassword string `envconfig:"ADMIN_PASSWORD" default:""`
}

// MailgunEnabled reports whether status emails can be sent.
func (s *Server) MailgunEnabled() bool {
	return s.MailgunAPIKey != "" && s.MailgunDomain != ""
}

// Dashboard holds the admin dashboard client configuration.
type Dashboard struct {
	URL          string        `envconfig:"MELOTECH_URL" default:"http://localhost:8000"`
	Email        string        `envconfig:"MELOTECH_EMAIL" required:"true"`
	Password     string        `envconfig:"MELOTECH_PASSWORD" required:"true"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"30s"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadServer reads the server configuration.
func LoadServer() (*Server, error) {
	_ = godotenv.Load()

	var cfg Server
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if len(cfg.JWTSecret) < 16 {
		return nil, fmt.Errorf("config: JWT_SECRET must be at least 16 characters")
	}
	if cfg.StorageDriver != "local" && cfg.StorageDriver != "s3" {
		return nil, fmt.Errorf("config: unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	if cfg.StorageSigningKey == "" {
		cfg.StorageSigningKey = cfg.JWTSecret
	}
	return &cfg, nil
}

// LoadDashboard reads the dashboard client configuration.
func LoadDashboard() (*Dashboard, error) {
	_ = godotenv.Load()

	var cfg Dashboard
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("config: POLL_INTERVAL must be positive")
	}
	return &cfg, nil
}

// ParseLevel maps LOG_LEVEL values onto slog levels. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
