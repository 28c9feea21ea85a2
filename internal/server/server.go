package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"price_stream/internal/infra"
	"price_stream/internal/service"
	"price_stream/internal/stream"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

// BreakerStater reports a circuit breaker state ("closed", "half-open", "open").
type BreakerStater interface {
	State() string
}

// RateHealth reports exchange-rate table freshness.
type RateHealth interface {
	Fresh() bool
	LastUpdated() time.Time
}

// Deps are the collaborators behind the routes. Breaker, Rates, Icons, Limits and
// Gatherer may be nil.
type Deps struct {
	Prices    *service.PriceService
	Admission http.Handler
	Registry  *stream.Registry
	Breaker   BreakerStater
	Rates     RateHealth
	Icons     *infra.IconDownloader
	Limits    *ConnectionLimiter
	Gatherer  prometheus.Gatherer
}

type Server struct {
	deps      Deps
	router    *mux.Router
	http      *http.Server
	startTime time.Time
}

// New builds the router and the underlying http.Server.
func New(cfg *infra.Config, deps Deps) *Server {
	s := &Server{
		deps:      deps,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	s.setupRoutes()

	s.http = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		// Writes on upgraded connections use their own per-message deadlines.
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops. A graceful Shutdown returns nil.
func (s *Server) ListenAndServe() error {
	slog.Info("HTTP server listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight REST calls.
// Upgraded stream connections are not tracked by http.Server; close them via the registry.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// OriginChecker returns a CheckOrigin func accepting the listed origins, or every
// origin when the list is empty.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
