package app

import (
	"errors"
	"fmt"
	"log/slog"

	"price_stream/internal/domain"
	"price_stream/internal/infra"
	"price_stream/internal/infra/influx"
	"price_stream/internal/infra/pricesource"
	"price_stream/internal/infra/redis"
	"price_stream/internal/infra/storage"
	"price_stream/internal/service"
	"price_stream/internal/stream"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Metrics    *infra.Metrics
	Gatherer   *prometheus.Registry
	Resolver   *domain.StaticResolver
	Source     domain.PriceSource
	Writer     domain.PointWriter
	Breaker    *pricesource.Breaker
	Rates      *infra.ExchangeRateClient
	Prices     *service.PriceService
	Sessions   *stream.Registry
	Storage    *storage.Storage
	Downloader *infra.IconDownloader

	closers []func()
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads config and builds every collaborator. Nothing is started yet.
func (b *Bootstrap) Initialize() error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(infra.ConfigPath())
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Bootstrapping price stream...", slog.String("driver", cfg.PriceSource.Driver))

	// 3. Metrics
	b.Gatherer = prometheus.NewRegistry()
	b.Gatherer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	b.Metrics = infra.NewMetrics(b.Gatherer)

	// 4. Price source chain
	backend, err := b.openSource()
	if err != nil {
		b.Close()
		return err
	}
	var breaker *pricesource.BreakerSettings
	if cfg.PriceSource.Breaker.Enabled {
		breaker = &pricesource.BreakerSettings{
			MaxFailures: cfg.PriceSource.Breaker.MaxFailures,
			OpenTimeout: cfg.PriceSource.Breaker.OpenTimeout,
		}
	}
	b.Source, b.Breaker = pricesource.Wrap(cfg.PriceSource.Driver, backend, pricesource.ChainOptions{
		Coalesce:     cfg.PriceSource.Coalesce,
		QueryTimeout: cfg.Stream.QueryTimeout,
		Breaker:      breaker,
	}, b.Metrics)
	slog.Info("✅ Price source ready",
		slog.String("driver", cfg.PriceSource.Driver),
		slog.Bool("coalesce", cfg.PriceSource.Coalesce),
		slog.Bool("breaker", breaker != nil),
	)

	// 5. Lookup path
	b.Resolver = domain.NewStaticResolver(cfg.Symbols)
	b.Rates = infra.NewExchangeRateClientWithConfig(cfg, b.Metrics)
	b.Prices = service.NewPriceService(b.Source, b.Rates, b.Resolver, service.Options{
		Window:             cfg.PriceSource.Window,
		BaseCurrency:       cfg.ExchangeRate.Base,
		ZeroOnMissingPrice: cfg.Lookup.ZeroOnMissingPrice,
	})

	b.Sessions = stream.NewRegistry()

	// 6. Assets (icons + coin table)
	if cfg.Assets.Enabled {
		if _, err := b.openStorage(); err != nil {
			b.Close()
			return err
		}
		downloader, err := infra.NewIconDownloader(cfg.Assets.Dir, cfg.Assets.IconURL)
		if err != nil {
			b.Close()
			return err
		}
		b.Downloader = downloader
		slog.Info("✅ Icon downloader ready", slog.String("dir", cfg.Assets.Dir))
	}

	return nil
}

// openSource builds the configured backend. Every driver can also take ingested points.
func (b *Bootstrap) openSource() (domain.PriceSource, error) {
	cfg := b.Config
	switch cfg.PriceSource.Driver {
	case "influx":
		src := influx.NewSource(influx.Options{
			URL:         cfg.Influx.URL,
			Token:       cfg.Influx.Token,
			Org:         cfg.Influx.Org,
			Bucket:      cfg.Influx.Bucket,
			Measurement: cfg.PriceSource.Measurement,
			Timeout:     cfg.Stream.QueryTimeout,
		})
		b.closers = append(b.closers, src.Close)
		b.Writer = src
		return src, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, func() { _ = client.Close() })
		src := redis.NewSource(client, cfg.Redis.KeyPrefix, cfg.Redis.Retention)
		b.Writer = src
		return src, nil

	case "sqlite":
		store, err := b.openStorage()
		if err != nil {
			return nil, err
		}
		b.Writer = store
		return store, nil

	default:
		return nil, &domain.ConfigError{
			Field: "price_source.driver",
			Err:   fmt.Errorf("unsupported driver %q", cfg.PriceSource.Driver),
		}
	}
}

func (b *Bootstrap) openStorage() (*storage.Storage, error) {
	if b.Storage != nil {
		return b.Storage, nil
	}
	store, err := storage.NewStorage(b.Config.SQLite.Path)
	if err != nil {
		return nil, err
	}
	b.Storage = store
	b.closers = append(b.closers, func() {
		if err := store.Close(); err != nil {
			slog.Warn("Failed to close storage", slog.Any("error", err))
		}
	})
	slog.Info("✅ Database initialized", slog.String("path", b.Config.SQLite.Path))
	return store, nil
}

// Close releases backend clients in reverse order of creation.
func (b *Bootstrap) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// IsConfigMissing reports whether err came from a missing config file.
func IsConfigMissing(err error) bool {
	return errors.Is(err, domain.ErrConfigNotFound)
}
