package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/touchline/internal/domain"
	"github.com/aristath/touchline/internal/events"
	"github.com/aristath/touchline/internal/modules/memory"
	"github.com/aristath/touchline/internal/modules/scoring"
)

func (s *Server) handleCurrentPattern(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Review == nil {
		s.unavailable(w, "pattern memory")
		return
	}

	p, err := s.cfg.Review.CurrentPattern(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read review queue")
		s.writeError(w, http.StatusInternalServerError, "Failed to read review queue")
		return
	}
	if p == nil {
		s.writeError(w, http.StatusNotFound, "No pattern awaiting review")
		return
	}
	s.writeData(w, http.StatusOK, p)
}

type decisionRequest struct {
	ID       int64           `json:"id"`
	Decision memory.Decision `json:"decision"`
}

func (s *Server) handlePatternDecision(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Review == nil {
		s.unavailable(w, "pattern memory")
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Decision.Valid() {
		s.writeError(w, http.StatusBadRequest, "decision must be Accept, Reject or Review Further")
		return
	}

	if err := s.cfg.Review.MarkDecision(r.Context(), req.ID, req.Decision); err != nil {
		if errors.Is(err, memory.ErrPatternNotFound) {
			s.writeError(w, http.StatusNotFound, "Pattern not found")
			return
		}
		s.log.Error().Err(err).Int64("id", req.ID).Msg("Failed to record decision")
		s.writeError(w, http.StatusInternalServerError, "Failed to record decision")
		return
	}

	if s.cfg.Events != nil {
		s.cfg.Events.Emit(events.FeedbackRecorded, "server", map[string]interface{}{
			"queue_id": req.ID,
			"decision": string(req.Decision),
		})
	}
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"id":       req.ID,
		"decision": req.Decision,
	})
}

// handleEvolution returns the outcome records and best direction for a signature key.
func (s *Server) handleEvolution(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Evolution == nil {
		s.unavailable(w, "evolution tracker")
		return
	}

	sig, err := domain.ParseSignature(r.URL.Query().Get("key"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := s.cfg.Evolution.Records(r.Context(), sig)
	if err != nil {
		s.log.Error().Err(err).Str("pattern_key", sig.Key()).Msg("Failed to read evolution")
		s.writeError(w, http.StatusInternalServerError, "Failed to read evolution records")
		return
	}

	data := map[string]interface{}{
		"pattern_key": sig.Key(),
		"records":     records,
	}
	if best, ok := s.cfg.Evolution.BestDirection(r.Context(), sig); ok {
		data["best_direction"] = best
	}
	s.writeData(w, http.StatusOK, data)
}

type resilienceRequest struct {
	PatternID       string          `json:"pattern_id"`
	Outcome         scoring.Outcome `json:"outcome"`
	Volatility      float64         `json:"volatility"`
	DurationMinutes float64         `json:"duration_minutes"`
}

func (s *Server) handleRecordResilience(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Resilience == nil {
		s.unavailable(w, "resilience store")
		return
	}

	var req resilienceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.PatternID = strings.TrimSpace(req.PatternID)
	if req.PatternID == "" {
		s.writeError(w, http.StatusBadRequest, "pattern_id is required")
		return
	}
	if req.Outcome != scoring.OutcomeWin && req.Outcome != scoring.OutcomeLoss {
		s.writeError(w, http.StatusBadRequest, "outcome must be win or loss")
		return
	}

	if err := s.cfg.Resilience.Record(r.Context(), req.PatternID, req.Outcome, req.Volatility, req.DurationMinutes); err != nil {
		s.log.Error().Err(err).Str("pattern_id", req.PatternID).Msg("Failed to record resilience")
		s.writeError(w, http.StatusInternalServerError, "Failed to record resilience")
		return
	}

	score, err := s.cfg.Resilience.Score(r.Context(), req.PatternID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to score resilience")
		return
	}
	s.writeData(w, http.StatusCreated, map[string]interface{}{
		"pattern_id": req.PatternID,
		"score":      score,
	})
}

func (s *Server) handleResilienceScore(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Resilience == nil {
		s.unavailable(w, "resilience store")
		return
	}

	patternID := chi.URLParam(r, "patternID")
	score, err := s.cfg.Resilience.Score(r.Context(), patternID)
	if err != nil {
		s.log.Error().Err(err).Str("pattern_id", patternID).Msg("Failed to score resilience")
		s.writeError(w, http.StatusInternalServerError, "Failed to score resilience")
		return
	}
	s.writeData(w, http.StatusOK, map[string]interface{}{
		"pattern_id": patternID,
		"score":      score,
	})
}
