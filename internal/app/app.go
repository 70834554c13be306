// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires configuration, the aicli service, and the HTTP API
// into one runnable companion server process.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dock108/aicli-companion-sub014/internal/aicli"
	"github.com/dock108/aicli-companion-sub014/internal/api"
	"github.com/dock108/aicli-companion-sub014/internal/config"
)

// App is the main application container.
type App struct {
	mu sync.RWMutex

	configPath string // Path to config file ("" = built-in defaults, no watching)
	version    string // Application version string
	config     *config.Config
	notifier   aicli.Notifier
	service    *aicli.Service
	apiServer  *api.Server
	cfgWatcher *config.Watcher

	done     chan struct{}
	stopOnce sync.Once
}

// Options holds configuration options for the app.
type Options struct {
	ConfigPath string
	Host       string
	Port       int
	Notifier   aicli.Notifier // Optional push-notification sink
	Version    string         // Application version string
}

// New creates a new App instance.
func New(opts Options) (*App, error) {
	app := &App{
		configPath: opts.ConfigPath,
		version:    opts.Version,
		notifier:   opts.Notifier,
		done:       make(chan struct{}),
	}

	// Load configuration
	var cfg *config.Config
	if opts.ConfigPath != "" {
		loader := config.NewLoader()
		loaded, err := loader.LoadWithDefaults(context.Background(), opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	// Override host/port if specified
	if opts.Host != "" {
		cfg.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.Server.Port = opts.Port
	}

	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	app.config = cfg

	return app, nil
}

// Config returns the currently active configuration.
func (app *App) Config() *config.Config {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.config
}

// Service returns the aicli service. Nil before Initialize.
func (app *App) Service() *aicli.Service {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.service
}

// Initialize sets up all components.
func (app *App) Initialize(ctx context.Context) error {
	cfg := app.config

	app.service = aicli.NewService(cfg, app.notifier)

	app.apiServer = api.NewServer(
		api.ServerConfig{
			Host:      cfg.Server.Host,
			Port:      cfg.Server.Port,
			AuthToken: cfg.Server.AuthToken,
		},
		api.Dependencies{
			Service: app.service,
		},
	)

	// Watch the config file for live updates. Only the reloadable subset
	// (permission policy, session timeout) applies without a restart.
	if app.configPath != "" && cfg.Watch.IsEnabled() {
		debounce := config.ParseDuration(cfg.Watch.Debounce, 100*time.Millisecond)
		w, err := config.NewWatcher(app.configPath, debounce, app.applyConfig)
		if err != nil {
			log.Printf("Warning: config watching unavailable: %v", err)
		} else {
			app.cfgWatcher = w
		}
	}

	return nil
}

// applyConfig receives validated config reloads from the watcher.
func (app *App) applyConfig(cfg *config.Config) {
	app.mu.Lock()
	// Host/port/binary changes require a restart; keep the running values
	// so Config() reflects what is actually in effect.
	cfg.Server = app.config.Server
	cfg.Claude.Binary = app.config.Claude.Binary
	app.config = cfg
	svc := app.service
	app.mu.Unlock()

	if svc != nil {
		svc.ApplyConfig(cfg)
	}
}

// Start starts all components.
func (app *App) Start(ctx context.Context) error {
	// Clears stale session state and sweeps leftover attachment files
	app.service.Start()

	// Start API server in background
	go func() {
		if err := app.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("API server error: %v", err)
		}
	}()

	return nil
}

// Run starts the app and blocks until shutdown.
func (app *App) Run(ctx context.Context) error {
	if err := app.Initialize(ctx); err != nil {
		return err
	}

	if err := app.Start(ctx); err != nil {
		return err
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
		log.Printf("Context cancelled, shutting down...")
	case <-app.done:
		log.Printf("Shutdown requested...")
	}

	return app.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	log.Println("Shutting down...")

	// Bound the drain; active turns past the deadline are cancelled.
	shutdownCtx, cancel := context.WithTimeout(ctx, app.config.DrainTimeout())
	defer cancel()

	// Stop API server first to stop accepting new requests
	if app.apiServer != nil {
		if err := app.apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down API server: %v", err)
		}
	}

	// Stop watching the config file
	if app.cfgWatcher != nil {
		app.cfgWatcher.Close()
	}

	// Drain active sessions and stop the service
	if app.service != nil {
		if err := app.service.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down service: %v", err)
		}
	}

	log.Println("Shutdown complete")
	return nil
}

// Stop signals the app to shut down. Safe to call multiple times.
func (app *App) Stop() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}
