// Package api provides HTTP handlers over persisted tracking sessions and
// discovered track-event plugins.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ayusman/handtrack/internal/store"
	"github.com/ayusman/handtrack/internal/track"
	"github.com/gorilla/mux"
)

// DefaultLimit caps how many results a listing returns when no limit is given.
const DefaultLimit = 100

// SessionsHandler handles HTTP requests for session resources.
type SessionsHandler struct {
	store *store.Store
}

// NewSessionsHandler creates a new SessionsHandler with the given store.
func NewSessionsHandler(s *store.Store) *SessionsHandler {
	return &SessionsHandler{store: s}
}

// Register mounts the handler on r. Paths are relative to r's prefix:
//
//	GET    /                 list sessions
//	GET    /{id}             one session with per-source result counts
//	DELETE /{id}             delete a session and its results
//	GET    /{id}/results     ?worker=&limit= newest results first
func (h *SessionsHandler) Register(r *mux.Router) {
	r.HandleFunc("", h.list).Methods(http.MethodGet)
	r.HandleFunc("/", h.list).Methods(http.MethodGet)
	r.HandleFunc("/{id}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/{id}", h.delete).Methods(http.MethodDelete)
	r.HandleFunc("/{id}/results", h.results).Methods(http.MethodGet)
}

// Request and response types

type sessionResponse struct {
	ID        string               `json:"id"`
	Config    json.RawMessage      `json:"config"`
	StartedAt string               `json:"started_at"`
	EndedAt   string               `json:"ended_at,omitempty"`
	Counts    map[track.Source]int `json:"counts,omitempty"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type recordResponse struct {
	Worker      string         `json:"worker"`
	Seq         uint64         `json:"seq"`
	FrameSeq    uint64         `json:"frame_seq"`
	Source      track.Source   `json:"source"`
	Stride      int            `json:"stride"`
	PublishedAt string         `json:"published_at"`
	Objects     []track.Object `json:"objects"`
}

type listResultsResponse struct {
	Results []recordResponse `json:"results"`
}

// Helper functions

func toSessionResponse(s *store.Session) sessionResponse {
	resp := sessionResponse{
		ID:        s.ID,
		Config:    json.RawMessage(s.Config),
		StartedAt: s.StartedAt.Format(time.RFC3339),
	}
	if !json.Valid(resp.Config) {
		resp.Config = json.RawMessage("{}")
	}
	if s.EndedAt != nil {
		resp.EndedAt = s.EndedAt.Format(time.RFC3339)
	}
	return resp
}

func toRecordResponse(r *store.Record) recordResponse {
	return recordResponse{
		Worker:      r.Worker,
		Seq:         r.Seq,
		FrameSeq:    r.FrameSeq,
		Source:      r.Source,
		Stride:      r.Stride,
		PublishedAt: r.PublishedAt.UTC().Format(time.RFC3339Nano),
		Objects:     r.Objects,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Handler methods

func (h *SessionsHandler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.Sessions().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	resp := listSessionsResponse{Sessions: make([]sessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SessionsHandler) get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	counts, err := h.store.Results().Count(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count results")
		return
	}

	resp := toSessionResponse(sess)
	resp.Counts = counts
	writeJSON(w, http.StatusOK, resp)
}

func (h *SessionsHandler) delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.store.Sessions().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionsHandler) results(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.store.Sessions().GetByID(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	limit := DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.store.Results().List(id, r.URL.Query().Get("worker"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}

	resp := listResultsResponse{Results: make([]recordResponse, 0, len(records))}
	for _, rec := range records {
		resp.Results = append(resp.Results, toRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}
