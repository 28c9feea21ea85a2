package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"price_stream/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		if app.IsConfigMissing(err) {
			slog.Error("❌ Config file not found (set PRICE_STREAM_CONFIG)", slog.Any("error", err))
		} else {
			slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		}
		os.Exit(1)
	}

	// 2. Pprof Server (for performance profiling)
	if addr := bootstrap.Config.Server.PprofAddr; addr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Serve until signalled
	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("❌ Server stopped with error", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
	slog.Info("👋 Bye")
}
