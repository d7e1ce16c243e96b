// Package server exposes the resolution engine over HTTP: submit, catalog
// inspection, corpus reload and a readiness probe. The API mirrors the
// engine's result model; every outcome a caller can act on is a 200 with a
// typed body, and only transport-level problems surface as error statuses.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/skillgate/skillgate/pkg/catalog"
	"github.com/skillgate/skillgate/pkg/definition"
	"github.com/skillgate/skillgate/pkg/engine"
	"github.com/skillgate/skillgate/pkg/logger"
	"github.com/skillgate/skillgate/pkg/presenter"
)

// Config holds the configuration for the HTTP server
type Config struct {
	Host string
	Port int
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Server serves the engine API. The corpus filesystem is what POST
// /api/reload re-reads; it is fixed at construction.
type Server struct {
	router *mux.Router
	engine *engine.Engine
	corpus fs.FS
	config *Config
	server *http.Server
}

// NewServer creates a server around an engine and the corpus it reloads from.
func NewServer(eng *engine.Engine, corpus fs.FS, config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}
	if eng == nil {
		return nil, errors.New("engine is required")
	}

	s := &Server{
		router: mux.NewRouter(),
		engine: eng,
		corpus: corpus,
		config: config,
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all the HTTP routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/submit", s.handleSubmit).Methods("POST")
	api.HandleFunc("/definitions", s.handleListDefinitions).Methods("GET")
	api.HandleFunc("/definitions/{id}", s.handleGetDefinition).Methods("GET")
	api.HandleFunc("/reload", s.handleReload).Methods("POST")
	api.HandleFunc("/healthz", s.handleHealthz).Methods("GET")

	// Preflight requests need a matching route for the CORS middleware to
	// answer them; the handler itself never runs.
	s.router.PathPrefix("/api").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    duration,
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// API Handlers

// handleSubmit handles POST /api/submit
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid submit request body", err)
		return
	}
	if strings.TrimSpace(req.TaskText) == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "task_text is required", nil)
		return
	}

	result, err := s.engine.Submit(ctx, req)
	if err != nil {
		if errors.Is(err, engine.ErrNotReady) {
			s.writeErrorResponse(w, http.StatusServiceUnavailable, "no catalog loaded", err)
			return
		}
		s.writeErrorResponse(w, http.StatusInternalServerError, "submit failed", err)
		return
	}

	s.writeJSONResponse(w, result)
}

// DefinitionSummary is one catalog entry in the list response.
type DefinitionSummary struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Invocations []string `json:"invocations,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Required    []string `json:"required,omitempty"`
	Optional    []string `json:"optional,omitempty"`
	Path        string   `json:"path,omitempty"`
}

// CatalogResponse describes the active catalog snapshot.
type CatalogResponse struct {
	Generation  uint64              `json:"generation"`
	Fingerprint string              `json:"fingerprint"`
	Count       int                 `json:"count"`
	Definitions []DefinitionSummary `json:"definitions"`
}

// DefinitionResponse is the full view of one definition.
type DefinitionResponse struct {
	definition.Metadata
	Path string `json:"path,omitempty"`
	Body string `json:"body"`
}

func slotNames(slots []definition.Slot) []string {
	if len(slots) == 0 {
		return nil
	}
	names := make([]string, len(slots))
	for i, slot := range slots {
		names[i] = slot.Name
	}
	return names
}

// handleListDefinitions handles GET /api/definitions
func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Store().Snapshot()
	if snap == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "no catalog loaded", nil)
		return
	}

	defs := snap.Definitions()
	summaries := make([]DefinitionSummary, 0, len(defs))
	for _, def := range defs {
		summaries = append(summaries, DefinitionSummary{
			ID:          def.ID,
			Description: def.Description,
			Invocations: def.Triggers.Invocations,
			Keywords:    def.Triggers.Keywords,
			Required:    slotNames(def.Inputs.Required),
			Optional:    slotNames(def.Inputs.Optional),
			Path:        def.Path,
		})
	}

	s.writeJSONResponse(w, &CatalogResponse{
		Generation:  snap.Generation(),
		Fingerprint: snap.Fingerprint(),
		Count:       len(summaries),
		Definitions: summaries,
	})
}

// handleGetDefinition handles GET /api/definitions/{id}
func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Store().Snapshot()
	if snap == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "no catalog loaded", nil)
		return
	}

	id := mux.Vars(r)["id"]
	def, ok := snap.Definition(id)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("no definition with id %q", id), nil)
		return
	}

	s.writeJSONResponse(w, &DefinitionResponse{
		Metadata: def.Metadata,
		Path:     def.Path,
		Body:     def.Body,
	})
}

// handleReload handles POST /api/reload
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.corpus == nil {
		s.writeErrorResponse(w, http.StatusConflict, "no corpus configured to reload from", nil)
		return
	}

	cat, err := s.engine.Reload(ctx, s.corpus)
	if err != nil {
		var verr *catalog.ValidationError
		if errors.As(err, &verr) {
			s.writeValidationResponse(w, verr)
			return
		}
		s.writeErrorResponse(w, http.StatusInternalServerError, "corpus reload failed", err)
		return
	}

	s.writeJSONResponse(w, map[string]any{
		"generation":  cat.Generation(),
		"fingerprint": cat.Fingerprint(),
		"definitions": cat.Len(),
	})
}

// handleHealthz handles GET /api/healthz. It reports not-ready until the
// first successful corpus load.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Store().Snapshot()
	if snap == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{
			"status": "loading",
		})
		return
	}

	s.writeJSONResponse(w, map[string]any{
		"status":      "ok",
		"generation":  snap.Generation(),
		"definitions": snap.Len(),
	})
}

// Utility methods

// writeJSONResponse writes a JSON response
func (s *Server) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeErrorResponse writes an error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		logger.G(context.TODO()).WithError(err).Error(message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":   message,
		"status":  statusCode,
		"success": false,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode error response")
	}
}

// writeValidationResponse reports a rejected corpus with every violation.
// The previous catalog keeps serving, which is why this is not a 500.
func (s *Server) writeValidationResponse(w http.ResponseWriter, verr *catalog.ValidationError) {
	violations := make([]string, len(verr.Violations))
	for i, v := range verr.Violations {
		violations[i] = v.String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)

	response := map[string]any{
		"error":      "corpus validation failed",
		"status":     http.StatusUnprocessableEntity,
		"success":    false,
		"violations": violations,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode error response")
	}
}

// Start starts the server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:    address,
		Handler: s.router,
	}

	presenter.Info(fmt.Sprintf("Serving engine API on http://%s", address))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.G(ctx).WithError(err).Error("API server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Stop stops the server immediately.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
