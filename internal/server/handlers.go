package server

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
)

func (s *Server) handleWelcome(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, "Price API server is running!")
}

func (s *Server) handleLastPrice(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Prices.LastPrice(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, snap)
}

// handlePairPrice serves the single-segment fiat route, where the symbol is a
// concatenated pair id such as "btceur".
func (s *Server) handlePairPrice(w http.ResponseWriter, r *http.Request) {
	s.handleLastPrice(w, r)
}

func (s *Server) handleFiatPrice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := s.deps.Prices.FiatPrice(r.Context(), vars["symbol"], vars["currency"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, res)
}

func (s *Server) handleIcon(w http.ResponseWriter, r *http.Request) {
	if s.deps.Icons == nil {
		writeJSON(w, http.StatusNotFound, failureMessage("icons disabled"))
		return
	}
	path := s.deps.Icons.GetIconPath(mux.Vars(r)["symbol"])
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusNotFound, failureMessage("icon not found"))
			return
		}
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}

type healthReport struct {
	Status       string         `json:"status"`
	Uptime       float64        `json:"uptime"`
	Sessions     int            `json:"sessions"`
	BySymbol     map[string]int `json:"sessions_by_symbol,omitempty"`
	Connections  int64          `json:"connections,omitempty"`
	Breaker      string         `json:"breaker,omitempty"`
	RatesFresh   *bool          `json:"rates_fresh,omitempty"`
	RatesUpdated *time.Time     `json:"rates_updated,omitempty"`
}

// handleHealth always answers 200; "degraded" flags an open breaker or stale rates.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	report := healthReport{
		Status: "ok",
		Uptime: time.Since(s.startTime).Seconds(),
	}
	if s.deps.Registry != nil {
		report.Sessions = s.deps.Registry.Len()
		report.BySymbol = s.deps.Registry.CountBySymbol()
	}
	if s.deps.Limits != nil {
		report.Connections = s.deps.Limits.Current()
	}
	if s.deps.Breaker != nil {
		report.Breaker = s.deps.Breaker.State()
		if report.Breaker == "open" {
			report.Status = "degraded"
		}
	}
	if s.deps.Rates != nil {
		fresh := s.deps.Rates.Fresh()
		report.RatesFresh = &fresh
		if updated := s.deps.Rates.LastUpdated(); !updated.IsZero() {
			report.RatesUpdated = &updated
		}
		if !fresh {
			report.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, report)
}
