// Package api exposes the HTTP interface for the crawl service: health and
// metrics probes plus a read-only view of ledger state.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clipstream/clipcrawler/internal/crawler"
)

// Server wires HTTP handlers to the ledger.
type Server struct {
	router chi.Router
	ledger crawler.Ledger
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(ledger crawler.Ledger, logger *zap.Logger) *Server {
	s := &Server{
		ledger: ledger,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/targets/{target_id}", func(r chi.Router) {
			r.Get("/", s.getTarget)
			r.Get("/pending", s.getPendingItems)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The ledger is the only hard dependency for serving reads.
	if _, err := s.ledger.DueTargets(r.Context(), 1); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "ledger unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "target_id")
	target, err := s.ledger.GetTarget(r.Context(), id)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "target not found")
			return
		}
		s.logger.Error("target lookup failed", zap.String("target_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, target)
}

func (s *Server) getPendingItems(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "target_id")
	items, err := s.ledger.ItemsNeedingUpdate(r.Context(), id)
	if err != nil {
		s.logger.Error("pending items lookup failed", zap.String("target_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"target_id": id,
		"pending":   len(items),
		"items":     items,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response write failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
