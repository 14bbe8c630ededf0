// Package main implements a small web service for reading a Twitter
// home timeline one status at a time, with a per-user cursor persisted
// in Cloud Storage.
package main

import (
	"context"
	"log/slog"
	"os"

	gcs "cloud.google.com/go/storage"

	"github.com/mattkenney/soc/archive"
	"github.com/mattkenney/soc/config"
	"github.com/mattkenney/soc/resolver"
	"github.com/mattkenney/soc/server"
	"github.com/mattkenney/soc/session"
	"github.com/mattkenney/soc/store"
	"github.com/mattkenney/soc/timeline"
	"github.com/mattkenney/soc/twitter"
)

func main() {
	ctx := context.Background()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfgPath := os.Getenv("CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("Failed to load configuration", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	// Default to local development mode if no bucket specified
	if cfg.StorageBucket == "" && cfg.LocalStorage == "" {
		cfg.LocalStorage = "./data"
		logger.Info("No storage bucket configured, defaulting to local development mode", "storage_path", cfg.LocalStorage)
	}

	var storageClient *gcs.Client
	if cfg.LocalStorage != "" {
		logger.Info("Running in local development mode", "storage_path", cfg.LocalStorage)
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://localhost:" + cfg.Port
		}
		if err := os.MkdirAll(cfg.LocalStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
	} else {
		if cfg.BaseURL == "" {
			logger.Error("base_url required in production (e.g. https://your-service.run.app)")
			os.Exit(1)
		}
		storageClient, err = gcs.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
	}

	st := store.New(storageClient, cfg.StorageBucket, cfg.LocalStorage, logger)
	sessions := session.NewManager(st, store.IsNotFound, cfg.SessionTimeout, logger)
	links := resolver.New(logger)
	auth := twitter.New(cfg.Twitter.ConsumerKey, cfg.Twitter.ConsumerSecret, logger)

	// Mock archiving unless a pocket consumer key is provided
	var archiver archive.Provider
	if cfg.Pocket.ConsumerKey != "" {
		archiver = archive.NewPocket(cfg.Pocket.ConsumerKey, logger)
	} else {
		logger.Info("Mock archive mode enabled (no pocket consumer key)")
		archiver = archive.NewMockProvider(logger)
	}

	srv := server.New(&server.Config{
		Engine: func(token, secret string) server.Engine {
			return timeline.New(auth.WithToken(token, secret), st, links, logger)
		},
		Auth:           auth,
		Archiver:       archiver,
		Store:          st,
		Sessions:       sessions,
		Logger:         logger,
		IsNotFound:     store.IsNotFound,
		BaseURL:        cfg.BaseURL,
		BasePath:       cfg.BasePath,
		SessionTimeout: cfg.SessionTimeout,
	})

	if err := srv.ListenAndServe(cfg.Port); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
