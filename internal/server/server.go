// Package server provides the HTTP API for the knowledge base.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/chishiki/internal/config"
	"github.com/hyperjump/chishiki/internal/kb"
)

// Server is the HTTP server for the knowledge base API.
type Server struct {
	manager *kb.Manager
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(manager *kb.Manager, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		manager: manager,
		config:  cfg,
		logger:  logger,
	}
}

// routes builds the router with all API endpoints and middleware.
func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1/kb/{character}", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/ingest", s.handleIngest)
		r.Get("/documents", s.handleListDocuments)
		r.Delete("/documents/{fileID}", s.handleDeleteDocument)
		r.Post("/rebuild", s.handleRebuild)
		r.Get("/stats", s.handleStats)
		r.Post("/retrieve", s.handleRetrieve)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := s.routes()
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
