// Package server exposes the HTTP front end: upload-and-analyze, querying
// registered repositories, and the registry/health endpoints. It is a thin
// caller of the invocation runner; all subprocess and parsing concerns live
// below it.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/zkhan93/claude-explains-api/internal/cache"
	"github.com/zkhan93/claude-explains-api/internal/claude"
	"github.com/zkhan93/claude-explains-api/internal/config"
	"github.com/zkhan93/claude-explains-api/internal/prompts"
	"github.com/zkhan93/claude-explains-api/internal/protocol"
	"github.com/zkhan93/claude-explains-api/internal/registry"
)

// Invoker runs one agent invocation to completion. Satisfied by
// *claude.Runner; tests substitute a stub.
type Invoker interface {
	Run(ctx context.Context, req claude.InvocationRequest) (protocol.Result, error)
}

// Server holds the handler dependencies.
type Server struct {
	settings *config.Settings
	runner   Invoker
	prompts  *prompts.Store
	registry *registry.Registry
	cache    *cache.Store
	logger   *slog.Logger
}

// Config wires the server's collaborators.
type Config struct {
	Settings *config.Settings
	Runner   Invoker
	Prompts  *prompts.Store
	Registry *registry.Registry
	Cache    *cache.Store
	Logger   *slog.Logger
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		settings: cfg.Settings,
		runner:   cfg.Runner,
		prompts:  cfg.Prompts,
		registry: cfg.Registry,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
	}
}

// Routes returns the handler with all API routes registered.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /repos", s.handleRepos)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}
