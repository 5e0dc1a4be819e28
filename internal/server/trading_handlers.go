package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/touchline/internal/modules/portfolio"
)

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Prices == nil {
		s.unavailable(w, "price feed")
		return
	}

	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		symbol = s.cfg.Symbol
	}

	quote, err := s.cfg.Prices.LatestQuote(r.Context(), symbol)
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Price lookup failed")
	}
	if err != nil || quote == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Price unavailable for "+symbol)
		return
	}
	s.writeData(w, http.StatusOK, quote)
}

func (s *Server) handleLatestRecommendation(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Recommendations == nil {
		s.unavailable(w, "recommender")
		return
	}

	rec := s.cfg.Recommendations.Latest()
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "No recommendation yet")
		return
	}
	s.writeData(w, http.StatusOK, rec)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Portfolio == nil {
		s.unavailable(w, "portfolio")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("closed_limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "closed_limit must be a positive integer")
			return
		}
		limit = n
	}

	summary, err := s.cfg.Portfolio.Summary(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to summarize portfolio")
		s.writeError(w, http.StatusInternalServerError, "Failed to load portfolio")
		return
	}
	s.writeData(w, http.StatusOK, summary)
}

type closeRequest struct {
	Price *float64 `json:"price"`
}

// handleClosePosition closes at the posted price, or at the live price when none is given.
func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Closer == nil {
		s.unavailable(w, "engine")
		return
	}

	id := chi.URLParam(r, "id")

	var req closeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	var price float64
	switch {
	case req.Price != nil:
		price = *req.Price
	case s.cfg.Prices != nil:
		quote, err := s.cfg.Prices.LatestQuote(r.Context(), s.cfg.Symbol)
		if err != nil || quote == nil {
			s.writeError(w, http.StatusServiceUnavailable, "Price unavailable, pass an explicit price")
			return
		}
		price = quote.Price
	default:
		s.writeError(w, http.StatusBadRequest, "price is required")
		return
	}
	if price <= 0 {
		s.writeError(w, http.StatusBadRequest, "price must be positive")
		return
	}

	pos, err := s.cfg.Closer.ClosePosition(r.Context(), id, price)
	if err != nil {
		if errors.Is(err, portfolio.ErrPositionNotOpen) {
			s.writeError(w, http.StatusNotFound, "Position "+id+" is not open")
			return
		}
		s.log.Error().Err(err).Str("position_id", id).Msg("Failed to close position")
		s.writeError(w, http.StatusInternalServerError, "Failed to close position")
		return
	}
	s.writeData(w, http.StatusOK, pos)
}
