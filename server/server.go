package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/denysvitali/ampeco-ha/ampeco"
	"github.com/denysvitali/ampeco-ha/hass"
	"github.com/denysvitali/ampeco-ha/poller"
)

const maxBodySize = 64 << 10

var log = logrus.StandardLogger()

type command struct {
	schema  hass.Schema
	handler hass.Handler
}

// Server exposes health, metrics, charger state and commands over HTTP. It
// is a hass.CommandRegistry: registered commands are served on
// POST /api/commands/{name}.
type Server struct {
	integration *hass.Integration
	metrics     http.Handler

	mu       sync.RWMutex
	commands map[string]command
}

// New creates a Server. metrics may be nil.
func New(integration *hass.Integration, metrics http.Handler) *Server {
	return &Server{
		integration: integration,
		metrics:     metrics,
		commands:    map[string]command{},
	}
}

func (s *Server) RegisterCommand(name string, schema hass.Schema, handler hass.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.commands[name]; ok {
		return fmt.Errorf("command %s is already registered", name)
	}
	s.commands[name] = command{schema: schema, handler: handler}
	return nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.Health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/chargers", s.ListChargers)
		r.Get("/chargers/{deviceID}", s.GetCharger)
		r.Post("/commands/{name}", s.RunCommand)
	})
	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type pollView struct {
	IntervalSeconds int        `json:"interval_seconds"`
	ErrorCount      int        `json:"error_count"`
	Charging        bool       `json:"charging"`
	Suspended       bool       `json:"suspended"`
	NextPoll        *time.Time `json:"next_poll,omitempty"`
}

type chargerView struct {
	DeviceID      string               `json:"device_id"`
	ChargepointID string               `json:"chargepoint_id"`
	State         *ampeco.ChargerState `json:"state"`
	Poll          pollView             `json:"poll"`
}

func newChargerView(c *poller.Coordinator) chargerView {
	d := c.Diagnostics()
	var next *time.Time
	if t := c.NextPoll(); !t.IsZero() {
		next = &t
	}
	return chargerView{
		DeviceID:      hass.DeviceID(c.ChargepointID()),
		ChargepointID: c.ChargepointID(),
		State:         c.State(),
		Poll: pollView{
			IntervalSeconds: int(d.Interval.Seconds()),
			ErrorCount:      d.ErrorCount,
			Charging:        d.Charging,
			Suspended:       c.Suspended(),
			NextPoll:        next,
		},
	}
}

func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ListChargers(w http.ResponseWriter, _ *http.Request) {
	views := []chargerView{}
	for _, c := range s.integration.Coordinators() {
		views = append(views, newChargerView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) GetCharger(w http.ResponseWriter, r *http.Request) {
	c, err := s.integration.Coordinator(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newChargerView(c))
}

func (s *Server) RunCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.RLock()
	cmd, ok := s.commands[name]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("unknown command %q", name)})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read body"})
		return
	}
	call, err := cmd.schema.Decode(body)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := cmd.handler(r.Context(), call); err != nil {
		log.Warnf("command %s failed: %v", name, err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error string `json:"error"`
}

// StatusCode maps a command or lookup error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ampeco.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, hass.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, ampeco.ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, ampeco.ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, ampeco.ErrAuth), errors.Is(err, ampeco.ErrNotFound), errors.Is(err, ampeco.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusCode(err), errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("failed to write response: %v", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

var _ hass.CommandRegistry = (*Server)(nil)
