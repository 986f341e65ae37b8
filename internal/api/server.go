// Package api exposes the daemon's services over HTTP. Service calls are
// validated here, at the boundary, before being dispatched to the registry.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/halfdome/lightstated/internal/platform"
	"github.com/halfdome/lightstated/internal/service"
)

// Server is an HTTP server that dispatches service calls to the registry.
type Server struct {
	addr       string
	registry   *service.Registry
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(host string, port int, registry *service.Registry) *Server {
	return &Server{
		addr:     fmt.Sprintf("%s:%d", host, port),
		registry: registry,
	}
}

// Handler returns the server's HTTP handler (exposed for tests).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.HandleFunc("/api/services/", s.handleService)

	return mux
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// serviceRequest is the body of a service call. entity_id accepts either a
// single id or a list of ids.
type serviceRequest struct {
	EntityID json.RawMessage `json:"entity_id"`
}

// handleService dispatches POST /api/services/{name} to the registry.
func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/services/")
	if name == "" || strings.Contains(name, "/") {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown service"})
		return
	}

	handler, ok := s.registry.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": fmt.Sprintf("unknown service %q", name)})
		return
	}

	var req serviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	entityIDs, err := parseEntityIDs(req.EntityID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	requestID := uuid.NewString()
	log.Debug().
		Str("service", name).
		Strs("entity_ids", entityIDs).
		Str("request_id", requestID).
		Msg("Dispatching service call")

	if err := handler(r.Context(), entityIDs); err != nil {
		log.Error().Err(err).Str("service", name).Str("request_id", requestID).Msg("Service call failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "request_id": requestID})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "request_id": requestID})
}

// parseEntityIDs accepts "light.x" or ["light.x", ...] and validates each id.
func parseEntityIDs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("entity_id is required")
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		var single string
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("entity_id must be a string or a list of strings")
		}
		ids = []string{single}
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("entity_id must not be empty")
	}

	for _, id := range ids {
		if !platform.ValidEntityID(id) {
			return nil, fmt.Errorf("invalid entity id %q", id)
		}
	}

	return ids, nil
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
