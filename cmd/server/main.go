// Package main is the entry point for the MeloTech platform server.
//
// main stays minimal: read configuration, build the logger and the pluggable
// collaborators (object store, mailer), then hand everything to internal/server.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/melotech/melotech/internal/config"
	"github.com/melotech/melotech/internal/mailer"
	"github.com/melotech/melotech/internal/server"
	"github.com/melotech/melotech/internal/storage"
	"github.com/melotech/melotech/internal/storage/local"
	"github.com/melotech/melotech/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)

	// The sqlite file lives in a directory that may not exist on first run.
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	store, err := newStore(cfg)
	if err != nil {
		logger.Error("failed to initialise object storage",
			slog.String("driver", cfg.StorageDriver),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	var mail mailer.Mailer = mailer.Noop{Logger: logger}
	features := []string{"database_webhooks", "websockets", "storage_" + cfg.StorageDriver}
	if cfg.MailgunEnabled() {
		mail = mailer.NewMailgun(mailer.Config{
			APIKey:  cfg.MailgunAPIKey,
			Domain:  cfg.MailgunDomain,
			From:    cfg.MailgunFromEmail,
			BaseURL: cfg.MailgunBaseURL,
		}, logger)
		features = append([]string{"mailgun"}, features...)
	} else {
		logger.Warn("MAILGUN_API_KEY or MAILGUN_DOMAIN not set, status emails are disabled")
	}

	srv, err := server.New(server.Config{
		Port:           cfg.Port,
		Version:        cfg.Version,
		DBPath:         cfg.DBPath,
		JWTSecret:      cfg.JWTSecret,
		WebhookSecret:  cfg.WebhookSecret,
		AllowedOrigins: cfg.WSAllowedOrigins,
		Features:       features,
		AdminEmail:     cfg.AdminEmail,
		AdminPassword:  cfg.AdminPassword,
	}, logger, store, mail)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET not set, webhook signatures are not checked")
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func setupLogger(level string) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLevel(level),
	}))
	slog.SetDefault(logger)
	return logger
}

func newStore(cfg *config.Server) (storage.Store, error) {
	switch cfg.StorageDriver {
	case "s3":
		return s3.New(cfg.S3Region, cfg.S3BucketPrefix)
	case "local":
		return local.New(cfg.StorageDir, cfg.PublicURL, cfg.StorageSigningKey)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
