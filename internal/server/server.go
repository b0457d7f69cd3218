// Package server provides the HTTP surface of the tracking pipeline: health,
// result snapshots, an annotated MJPEG stream and a websocket result feed.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/handtrack/internal/app"
	"github.com/ayusman/handtrack/internal/emitter"
	"github.com/ayusman/handtrack/internal/plugin"
	"github.com/ayusman/handtrack/internal/server/api"
	"github.com/ayusman/handtrack/internal/store"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// DefaultStaleAfter is the result age after which health reports a worker stale.
const DefaultStaleAfter = 2 * time.Second

// Controller is the part of the orchestrator the server may drive.
type Controller interface {
	IsEnabled() bool
	SetEnabled(enabled bool)
	Stats() app.Stats
}

// Config holds the server configuration.
type Config struct {
	StaticDir  string
	View       app.View
	Controller Controller
	Store      *store.Store
	Hub        *Hub
	Plugins    *plugin.Manager
	StaleAfter time.Duration
	StreamFPS  int
}

// Server represents the HTTP server.
type Server struct {
	config Config
	router *mux.Router
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultStaleAfter
	}
	s := &Server{
		config: config,
		router: mux.NewRouter(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	r := s.router
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	if s.config.View != nil {
		r.HandleFunc("/api/results", s.handleResults).Methods(http.MethodGet)
		r.HandleFunc("/api/results/{worker}", s.handleResult).Methods(http.MethodGet)
		r.Handle("/api/stream", NewStreamHandler(s.config.View, s.config.StreamFPS)).Methods(http.MethodGet)
	}

	if s.config.Controller != nil {
		r.HandleFunc("/api/enabled", s.handleGetEnabled).Methods(http.MethodGet)
		r.HandleFunc("/api/enabled", s.handleSetEnabled).Methods(http.MethodPut, http.MethodPost)
		r.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	}

	if s.config.Hub != nil {
		r.Handle("/api/ws", s.config.Hub).Methods(http.MethodGet)
	}

	if s.config.Store != nil {
		api.NewSessionsHandler(s.config.Store).Register(r.PathPrefix("/api/sessions").Subrouter())
	}

	if s.config.Plugins != nil {
		api.NewPluginsHandler(s.config.Plugins).Register(r.PathPrefix("/api/plugins").Subrouter())
	}

	if s.config.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type slotHealth struct {
	Seq   uint64 `json:"seq"`
	AgeMS int64  `json:"age_ms"`
	Stale bool   `json:"stale"`
}

type workerHealth struct {
	slotHealth
	Objects int    `json:"objects"`
	Source  string `json:"source,omitempty"`
}

type healthResponse struct {
	Status  string                  `json:"status"`
	Uptime  string                  `json:"uptime"`
	Enabled *bool                   `json:"enabled,omitempty"`
	Frame   *slotHealth             `json:"frame,omitempty"`
	Workers map[string]workerHealth `json:"workers,omitempty"`
}

// handleHealth reports uptime and, per slot, the latest sequence number and
// its age. A slot that never published or is older than StaleAfter is stale.
// A stale frame slot always degrades the status. Stale worker slots degrade
// it only while inference is enabled; a paused pipeline reports "paused".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.start).String(),
	}

	paused := false
	if c := s.config.Controller; c != nil {
		enabled := c.IsEnabled()
		resp.Enabled = &enabled
		paused = !enabled
	}

	if v := s.config.View; v != nil {
		now := time.Now()
		snap, ok := v.Frame()
		fh := s.slotHealth(now, snap.Seq, snap.UpdatedAt, ok)
		resp.Frame = &fh

		workersStale := false
		resp.Workers = make(map[string]workerHealth)
		for _, name := range v.Workers() {
			res, ok := v.Result(name)
			wh := workerHealth{slotHealth: s.slotHealth(now, res.Seq, res.UpdatedAt, ok)}
			if ok {
				wh.Objects = len(res.Value.Objects)
				wh.Source = string(res.Value.Source)
			}
			workersStale = workersStale || wh.Stale
			resp.Workers[name] = wh
		}

		switch {
		case fh.Stale:
			resp.Status = "degraded"
		case paused:
			resp.Status = "paused"
		case workersStale:
			resp.Status = "degraded"
		}
	} else if paused {
		resp.Status = "paused"
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) slotHealth(now time.Time, seq uint64, at time.Time, ok bool) slotHealth {
	if !ok {
		return slotHealth{Stale: true}
	}
	age := now.Sub(at)
	return slotHealth{
		Seq:   seq,
		AgeMS: age.Milliseconds(),
		Stale: age > s.config.StaleAfter,
	}
}

// handleResults returns the latest result of every worker that published one.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	v := s.config.View
	results := make(map[string]emitter.Message)
	for _, name := range v.Workers() {
		if snap, ok := v.Result(name); ok {
			results[name] = emitter.NewMessage(name, snap)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleResult returns the latest result of one worker.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["worker"]

	known := false
	for _, n := range s.config.View.Workers() {
		if n == name {
			known = true
			break
		}
	}
	if !known {
		http.Error(w, "Unknown worker", http.StatusNotFound)
		return
	}

	snap, ok := s.config.View.Result(name)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, emitter.NewMessage(name, snap))
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleGetEnabled(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.config.Controller.IsEnabled()})
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		http.Error(w, `Body must be {"enabled": bool}`, http.StatusBadRequest)
		return
	}

	s.config.Controller.SetEnabled(*req.Enabled)
	log.Info().Bool("enabled", *req.Enabled).Msg("inference toggled via api")
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.config.Controller.IsEnabled()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Controller.Stats())
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return s.HTTPServer(addr).ListenAndServe()
}

// HTTPServer wraps the router in an http.Server so callers can shut it down.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}
