// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the companion core over HTTP and WebSocket. The
// surface is deliberately small: submit a prompt, answer a permission
// request, inspect and kill sessions, stream events, check health.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/dock108/aicli-companion-sub014/internal/api/handlers"
	"github.com/dock108/aicli-companion-sub014/internal/api/middleware"
	"github.com/dock108/aicli-companion-sub014/internal/api/version"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host      string
	Port      int
	AuthToken string // Shared bearer token; empty disables auth
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Service handlers.Service
}

// NewRouter creates a new API router.
func NewRouter(cfg ServerConfig, deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	r.Use(version.Middleware)

	// Health stays unauthenticated so supervisors can probe it.
	healthHandler := handlers.NewHealthHandler(deps.Service)
	r.HandleFunc("/health", healthHandler.Get).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(cfg.AuthToken))

	commandHandler := handlers.NewCommandHandler(deps.Service)
	api.HandleFunc("/command", commandHandler.Process).Methods("POST")
	api.HandleFunc("/permission", commandHandler.Permission).Methods("POST")

	sessionHandler := handlers.NewSessionHandler(deps.Service)
	api.HandleFunc("/sessions", sessionHandler.List).Methods("GET")
	api.HandleFunc("/sessions/{id}", sessionHandler.Get).Methods("GET")
	api.HandleFunc("/sessions/{id}", sessionHandler.Kill).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/background", sessionHandler.Background).Methods("POST")
	api.HandleFunc("/sessions/{id}/foreground", sessionHandler.Foreground).Methods("POST")

	eventHandler := handlers.NewEventHandler(deps.Service)
	api.HandleFunc("/events", eventHandler.History).Methods("GET")
	api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	router := NewRouter(cfg, deps)
	addr := cfg.Host + ":" + strconv.Itoa(cfg.Port)
	return &Server{
		router: router,
		cfg:    cfg,
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	log.Printf("api: listening on http://%s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("api: shutting down")

	// Create a timeout context if none provided
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
