package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/touchline/internal/modules/diagnostics"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeData wraps data in the data/metadata envelope every endpoint returns.
func (s *Server) writeData(w http.ResponseWriter, status int, data interface{}) {
	s.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) unavailable(w http.ResponseWriter, what string) {
	s.writeError(w, http.StatusServiceUnavailable, what+" not configured")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": s.cfg.Version,
		"service": "touchline",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"symbol":         s.cfg.Symbol,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"host":           diagnostics.ReadHostStats(),
	}

	if s.cfg.Monitor != nil {
		unhealthy := s.cfg.Monitor.Unhealthy()
		status["components"] = s.cfg.Monitor.Status()
		status["unhealthy"] = unhealthy
		status["healthy"] = len(unhealthy) == 0
	}

	if s.cfg.Ticks != nil {
		if tick, at := s.cfg.Ticks.LastTick(); tick != nil {
			status["last_tick"] = map[string]interface{}{
				"at":        at.Format(time.RFC3339),
				"quote":     tick.Quote,
				"contacts":  tick.Contacts,
				"pattern":   tick.Pattern,
				"rejection": tick.Rejection,
				"opened":    tick.Opened,
				"closed":    tick.Closed,
			}
		}
	}

	s.writeData(w, http.StatusOK, status)
}

type pingRequest struct {
	Component string `json:"component"`
}

// handlePing records a liveness ping for an external component.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Monitor == nil {
		s.unavailable(w, "monitor")
		return
	}

	var req pingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Component == "" {
		s.writeError(w, http.StatusBadRequest, "component is required")
		return
	}

	s.cfg.Monitor.Ping(req.Component)
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"component": req.Component,
		"status":    s.cfg.Monitor.Status()[req.Component],
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Events == nil {
		s.unavailable(w, "events")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	s.writeData(w, http.StatusOK, s.cfg.Events.Recent(limit))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Scheduler == nil {
		s.unavailable(w, "scheduler")
		return
	}
	s.writeData(w, http.StatusOK, s.cfg.Scheduler.Jobs())
}

// handleRunJob runs a registered job synchronously.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Scheduler == nil {
		s.unavailable(w, "scheduler")
		return
	}

	name := chi.URLParam(r, "name")
	known := false
	for _, reg := range s.cfg.Scheduler.Jobs() {
		if reg.Name == name {
			known = true
			break
		}
	}
	if !known {
		s.writeError(w, http.StatusNotFound, "Unknown job "+name)
		return
	}

	start := time.Now()
	if err := s.cfg.Scheduler.RunNow(name); err != nil {
		s.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"job":         name,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}
