package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aristath/touchline/internal/events"
	"github.com/aristath/touchline/internal/modules/levels"
)

func (s *Server) handleGetLevels(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Levels == nil {
		s.unavailable(w, "level store")
		return
	}

	day, set, err := s.cfg.Levels.Latest(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to load levels")
		s.writeError(w, http.StatusInternalServerError, "Failed to load levels")
		return
	}

	s.writeData(w, http.StatusOK, map[string]interface{}{
		"trading_day":     day,
		"count":           len(set),
		"levels_by_color": levels.Group(set),
	})
}

// handlePostLevels replaces the level set of a trading day with the posted sheet.
func (s *Server) handlePostLevels(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Levels == nil {
		s.unavailable(w, "level store")
		return
	}

	var sheet levels.Sheet
	if err := json.NewDecoder(r.Body).Decode(&sheet); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	set, err := sheet.Levels()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.cfg.Levels.Replace(r.Context(), sheet.TradingDay, set); err != nil {
		if errors.Is(err, levels.ErrInvalidLevel) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error().Err(err).Msg("Failed to store levels")
		s.writeError(w, http.StatusInternalServerError, "Failed to store levels")
		return
	}

	if s.cfg.Events != nil {
		s.cfg.Events.Emit(events.LevelsUpdated, "server", map[string]interface{}{
			"trading_day": sheet.TradingDay,
			"count":       len(set),
		})
	}

	s.writeData(w, http.StatusOK, map[string]interface{}{
		"trading_day": sheet.TradingDay,
		"count":       len(set),
	})
}
