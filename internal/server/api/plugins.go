package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/handtrack/internal/plugin"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// PluginsHandler exposes the plugins known to a plugin.Manager.
type PluginsHandler struct {
	manager *plugin.Manager
}

// NewPluginsHandler creates a new PluginsHandler over m.
func NewPluginsHandler(m *plugin.Manager) *PluginsHandler {
	return &PluginsHandler{manager: m}
}

// Register mounts the handler on r. Paths are relative to r's prefix:
//
//	GET  /          list plugins
//	POST /reload    rescan the plugin directory
//	GET  /{name}    one plugin
func (h *PluginsHandler) Register(r *mux.Router) {
	r.HandleFunc("", h.list).Methods(http.MethodGet)
	r.HandleFunc("/", h.list).Methods(http.MethodGet)
	r.HandleFunc("/reload", h.reload).Methods(http.MethodPost)
	r.HandleFunc("/{name}", h.get).Methods(http.MethodGet)
}

type pluginResponse struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description,omitempty"`
	Events      []string        `json:"events"`
	Workers     []string        `json:"workers,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	Path        string          `json:"path"`
}

type listPluginsResponse struct {
	Dir     string           `json:"dir"`
	Plugins []pluginResponse `json:"plugins"`
}

func toPluginResponse(p *plugin.Plugin) pluginResponse {
	return pluginResponse{
		Name:        p.Manifest.Name,
		Version:     p.Manifest.Version,
		Description: p.Manifest.Description,
		Events:      p.Manifest.Events,
		Workers:     p.Manifest.Workers,
		Config:      p.Manifest.Config,
		Path:        p.Path,
	}
}

func (h *PluginsHandler) list(w http.ResponseWriter, r *http.Request) {
	plugins := h.manager.List()
	resp := listPluginsResponse{
		Dir:     h.manager.PluginDir(),
		Plugins: make([]pluginResponse, 0, len(plugins)),
	}
	for _, p := range plugins {
		resp.Plugins = append(resp.Plugins, toPluginResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PluginsHandler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Discover(); err != nil {
		log.Warn().Err(err).Str("dir", h.manager.PluginDir()).Msg("plugin reload failed")
		writeError(w, http.StatusInternalServerError, "failed to reload plugins")
		return
	}
	h.list(w, r)
}

func (h *PluginsHandler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.manager.Get(mux.Vars(r)["name"])
	if errors.Is(err, plugin.ErrPluginNotFound) {
		writeError(w, http.StatusNotFound, "plugin not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get plugin")
		return
	}
	writeJSON(w, http.StatusOK, toPluginResponse(p))
}
