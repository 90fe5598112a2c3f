package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vibemirror/chronos/pkg/config"
	"github.com/vibemirror/chronos/pkg/kv"
	"github.com/vibemirror/chronos/pkg/utils"
)

func main() {
	// Initialize logging system with defaults until the config is read
	utils.InitLogger()
	logger := utils.GetLogger()

	if path, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("Failed to write default config", "error", err)
	} else {
		logger.Debug("Using config file", "path", path)
	}

	cfg, cfgPath, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Config load failed:", err)
		os.Exit(1)
	}
	utils.InitLoggerWith(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	logger = utils.GetLogger()
	logger.Info("Config loaded", configLogAttrs(cfg, cfgPath)...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := kv.Open(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open storage", "backend", cfg.StorageBackend(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close storage", "error", err)
		}
	}()

	server, err := NewServer(ctx, cfg, store, nil)
	if err != nil {
		logger.Error("Failed to build server", "error", err)
		os.Exit(1)
	}

	if err := server.Start(ctx); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
}

// configLogAttrs summarizes the loaded config for the startup log. Secrets
// are reported only as present or absent.
func configLogAttrs(cfg *config.AppConfig, path string) []any {
	return []any{
		"path", path,
		"storage", cfg.StorageBackend(),
		"auth", cfg.AuthMode(),
		"gemini_api_key_set", cfg.Env.GeminiAPIKey != "",
	}
}
