package app

import (
	"context"
	"log/slog"
	"time"

	"price_stream/internal/infra/binance"
	"price_stream/internal/server"
	"price_stream/internal/stream"
)

// Run starts background workers and the HTTP server, then blocks until ctx is
// cancelled or the server fails, and shuts everything down.
func (b *Bootstrap) Run(ctx context.Context) error {
	cfg := b.Config
	defer b.Close()

	if err := b.Rates.Start(ctx); err != nil {
		slog.Error("Failed to start exchange rate client", slog.Any("error", err))
	}
	defer b.Rates.Stop()

	if cfg.Ingest.Enabled {
		worker := binance.NewWorker(cfg.Ingest.URL, cfg.Ingest.Symbols, b.Writer, b.Metrics)
		if err := worker.Connect(ctx); err != nil {
			slog.Error("Failed to connect Binance ingest", slog.Any("error", err))
		}
		defer worker.Disconnect()
		slog.InfoContext(ctx, "✅ Binance ingest started", slog.Int("symbols", len(cfg.Ingest.Symbols)))
	}

	if b.Storage != nil && cfg.PriceSource.Driver == "sqlite" && cfg.SQLite.Retention > 0 {
		go b.pruneLoop(ctx, cfg.SQLite.Retention)
	}
	if b.Downloader != nil {
		go b.SyncAssets(ctx)
	}

	limits := server.NewConnectionLimiter(
		cfg.Server.MaxConnections,
		cfg.Server.MaxConnectionsPerIP,
		cfg.Server.ConnectRate,
		cfg.Server.ConnectBurst,
		nil,
	)

	// Loops outlive the signal context so shutdown can send close frames first.
	loopCtx, cancelLoops := context.WithCancel(context.Background())
	defer cancelLoops()

	admission := stream.NewAdmission(loopCtx, stream.AdmissionConfig{
		DefaultSymbol:    cfg.Stream.DefaultSymbol,
		HandshakeTimeout: cfg.Stream.HandshakeTimeout,
		WriteWait:        cfg.Stream.WriteWait,
		PongWait:         cfg.Stream.PongWait,
		CheckOrigin:      server.OriginChecker(cfg.Server.AllowedOrigins),
	}, stream.LoopDeps{
		Source:       b.Source,
		Resolver:     b.Resolver,
		Registry:     b.Sessions,
		Metrics:      b.Metrics,
		Interval:     cfg.Stream.TickInterval,
		Window:       cfg.PriceSource.Window,
		QueryTimeout: cfg.Stream.QueryTimeout,
		PingInterval: cfg.Stream.PingInterval,
	}, limits)

	deps := server.Deps{
		Prices:    b.Prices,
		Admission: admission,
		Registry:  b.Sessions,
		Rates:     b.Rates,
		Icons:     b.Downloader,
		Limits:    limits,
		Gatherer:  b.Gatherer,
	}
	if b.Breaker != nil {
		deps.Breaker = b.Breaker
	}
	srv := server.New(cfg, deps)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.InfoContext(ctx, "✨ Price stream fully operational. Press Ctrl+C to exit.", slog.String("addr", cfg.Server.Addr))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		if runErr != nil {
			slog.Error("HTTP server failed", slog.Any("error", runErr))
		}
	}

	slog.Info("👋 Shutting down gracefully...", slog.Int("sessions", b.Sessions.Len()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", slog.Any("error", err))
	}
	if err := b.Sessions.CloseAll(shutdownCtx); err != nil {
		slog.Warn("Sessions did not drain before deadline", slog.Int("remaining", b.Sessions.Len()))
	}
	cancelLoops()

	return runErr
}

// pruneLoop deletes stored points older than retention, once per retention/4.
func (b *Bootstrap) pruneLoop(ctx context.Context, retention time.Duration) {
	every := retention / 4
	if every < time.Minute {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := b.Storage.Prune(ctx, now.Add(-retention))
			if err != nil {
				slog.Warn("Prune failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				slog.Debug("Pruned old price points", slog.Int64("rows", n))
			}
		}
	}
}
