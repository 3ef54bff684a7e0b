// Package server exposes the local HTTP API the planner UI talks to. It
// binds to loopback; all remote traffic goes through the sync engine, never
// through this surface.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jmaassen/weekplan/internal/backup"
	"github.com/jmaassen/weekplan/internal/engine"
	"github.com/jmaassen/weekplan/internal/identity"
)

type Server struct {
	engine   *engine.Engine
	resolver *identity.Resolver
	backups  *backup.Manager
	logger   *slog.Logger
}

func New(eng *engine.Engine, resolver *identity.Resolver, backups *backup.Manager, logger *slog.Logger) *Server {
	return &Server{
		engine:   eng,
		resolver: resolver,
		backups:  backups,
		logger:   logger,
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /api/status", s.StatusHandler)
	mux.HandleFunc("GET /api/events", s.EventsHandler)

	mux.HandleFunc("GET /api/household", s.GetHousehold)
	mux.HandleFunc("PATCH /api/household", s.PatchHousehold)

	mux.HandleFunc("GET /api/users", s.ListUsers)
	mux.HandleFunc("POST /api/users/{id}/pin", s.SetPIN)
	mux.HandleFunc("DELETE /api/users/{id}/pin", s.ClearPIN)
	mux.HandleFunc("POST /api/users/{id}/pin/verify", s.VerifyPIN)

	mux.HandleFunc("GET /api/device", s.GetDevice)
	mux.HandleFunc("PUT /api/device", s.UpdateDevice)
	mux.HandleFunc("POST /api/device/bind", s.BindDevice)

	mux.HandleFunc("GET /api/occurrences", s.ListOccurrences)
	mux.HandleFunc("POST /api/tasks/{id}/toggle", s.ToggleTask)
	mux.HandleFunc("POST /api/tasks/{id}/suppress", s.SuppressTask)
	mux.HandleFunc("DELETE /api/tasks/{id}/suppress", s.UnsuppressTask)
	mux.HandleFunc("POST /api/tasks/{id}/move", s.MoveTask)

	mux.HandleFunc("POST /api/timers/start", s.StartTimer)
	mux.HandleFunc("POST /api/timers/pause", s.PauseTimer)
	mux.HandleFunc("POST /api/timers/reset", s.ResetTimer)

	mux.HandleFunc("GET /api/backups", s.ListBackups)
	mux.HandleFunc("POST /api/backups", s.RunBackup)
	mux.HandleFunc("POST /api/backups/restore", s.RestoreBackup)
	mux.HandleFunc("PUT /api/backups/passphrase", s.SetBackupPassphrase)

	return s.requestLogger(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path)
	})
}

// canMutate gates parent-only operations on the device binding.
func (s *Server) canMutate(w http.ResponseWriter) bool {
	if s.resolver.CanMutate() {
		return true
	}
	writeJSON(w, http.StatusForbidden, map[string]string{"error": "parent role required"})
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
