package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	r := s.router

	r.HandleFunc("/", s.handleWelcome).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/lastprice/{symbol}", s.handleLastPrice).Methods(http.MethodGet)
	api.HandleFunc("/fiat/{symbol}", s.handlePairPrice).Methods(http.MethodGet)
	api.HandleFunc("/fiat/{symbol}/{currency}", s.handleFiatPrice).Methods(http.MethodGet)
	api.HandleFunc("/icons/{symbol}", s.handleIcon).Methods(http.MethodGet)

	if s.deps.Admission != nil {
		r.Handle("/ws", s.deps.Admission).Methods(http.MethodGet)
	}

	gatherer := s.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, failureMessage("route not found"))
	})
}
