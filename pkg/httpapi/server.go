// Package httpapi exposes the engine over a small JSON management API.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"axon/pkg/agent"
	"axon/pkg/api"
	"axon/pkg/automation"
	"axon/pkg/metrics"
	"axon/pkg/plugin"
	"axon/pkg/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server serves the management API on one listener.
type Server struct {
	engine   *agent.Engine
	registry *plugin.Registry
	invoker  *automation.Invoker
	store    store.Store
	logger   *slog.Logger
	httpSrv  *http.Server
}

// NewServer builds the server with its route table. addr is the listen
// address, e.g. ":8090".
func NewServer(addr string, engine *agent.Engine, registry *plugin.Registry, invoker *automation.Invoker, st store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:   engine,
		registry: registry,
		invoker:  invoker,
		store:    st,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/instances", func(r chi.Router) {
			r.Get("/", s.handleListInstances)
			r.Post("/", s.handleAddInstance)
			r.Put("/{id}/config", s.handleReconfigure)
			r.Post("/{id}/toggle", s.handleToggle)
			r.Delete("/{id}", s.handleRemoveInstance)
			r.Get("/{id}/models", s.handleListModels)
		})
		r.Route("/assistants", func(r chi.Router) {
			r.Get("/", s.handleListAssistants)
			r.Post("/", s.handleSaveAssistant)
			r.Post("/{id}/chat", s.handleChat)
		})
		r.Post("/providers/{id}/generate", s.handleGenerate)
		r.Route("/automations", func(r chi.Router) {
			r.Get("/", s.handleListAutomations)
			r.Post("/", s.handleSaveAutomation)
			r.Post("/{id}/run", s.handleRunAutomation)
		})
		r.Post("/channels/{id}/bind", s.handleBindChannel)
	})

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the listener until Shutdown. It blocks.
func (s *Server) Start() error {
	s.logger.Info("HTTP API listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON serializes v with the shared jsoniter config.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses: unknown ids are
// 404, disabled instances 409, malformed input 400, everything else is a
// 502 since the likely culprit is a backend or plugin.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, api.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, api.ErrDisabled):
		status = http.StatusConflict
	case errors.Is(err, api.ErrValidation):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(api.ErrValidation, err)
	}
	return nil
}
