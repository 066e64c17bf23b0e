// Package admin exposes the operator-facing JSON API: the credential
// health report, per-tenant status, the migration audit trail, and
// maintenance actions. Authentication and authorization are enforced by
// the deployment in front of this server; every route here assumes an
// elevated-privilege caller.
package admin

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/fieldlite/credvault/internal/cipher"
	"github.com/fieldlite/credvault/internal/health"
	"github.com/fieldlite/credvault/internal/migration"
	"github.com/fieldlite/credvault/internal/store"
	"github.com/fieldlite/credvault/internal/validation"
)

// Deps holds the dependencies for the admin server.
type Deps struct {
	Store     store.Store
	Cipher    *cipher.Cipher
	Monitor   *health.Monitor
	Migrator  *migration.Migrator
	Validator *validation.MaintenanceValidator
	Logger    *slog.Logger
}

// Server serves the admin API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for the admin routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/tenants/{id}/status", s.handleTenantStatus)
	mux.HandleFunc("GET /api/tenants/{id}/events", s.handleTenantEvents)
	mux.HandleFunc("POST /api/maintenance", s.handleMaintenance)

	return mux
}
