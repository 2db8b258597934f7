package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/blasty8084/Nexus-247/internal/plugin"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handlePlugins(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"plugins": s.runtime.Descriptors(),
	})
}

func (s *Server) handlePluginReload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	err := s.runtime.Reload(r.Context(), name, plugin.LoadOptions{})
	if errors.Is(err, plugin.ErrPluginNotFound) {
		s.writeError(w, http.StatusNotFound, "plugin not found: "+name)
		return
	}
	if err != nil {
		// The plugin failed to load; containment already disabled it.
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"plugin": name,
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"plugin":   name,
		"reloaded": true,
	})
}

func (s *Server) handlePluginEnabled(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		s.writeError(w, http.StatusBadRequest, "body must be {\"enabled\": bool}")
		return
	}

	err := s.runtime.SetEnabled(r.Context(), name, *req.Enabled)
	if errors.Is(err, plugin.ErrPluginNotFound) {
		s.writeError(w, http.StatusNotFound, "plugin not found: "+name)
		return
	}
	if err != nil {
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"plugin": name,
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"plugin":  name,
		"enabled": *req.Enabled,
	})
}
