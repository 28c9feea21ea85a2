package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"price_stream/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// DefaultConfigPath is used when PRICE_STREAM_CONFIG is unset.
	DefaultConfigPath = "configs/config.yaml"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr                string        `yaml:"addr"`
		ReadTimeout         time.Duration `yaml:"read_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
		MaxConnections      int           `yaml:"max_connections"`
		MaxConnectionsPerIP int           `yaml:"max_connections_per_ip"`
		ConnectRate         float64       `yaml:"connect_rate"` // new connections per second per IP
		ConnectBurst        int           `yaml:"connect_burst"`
		AllowedOrigins      []string      `yaml:"allowed_origins"`
		PprofAddr           string        `yaml:"pprof_addr"`
	} `yaml:"server"`

	Stream struct {
		TickInterval     time.Duration `yaml:"tick_interval"`
		WriteWait        time.Duration `yaml:"write_wait"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		PongWait         time.Duration `yaml:"pong_wait"`
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		QueryTimeout     time.Duration `yaml:"query_timeout"`
		DefaultSymbol    string        `yaml:"default_symbol"`
	} `yaml:"stream"`

	PriceSource struct {
		Driver      string        `yaml:"driver"` // influx | redis | sqlite
		Window      time.Duration `yaml:"window"`
		Measurement string        `yaml:"measurement"`
		Coalesce    bool          `yaml:"coalesce"`
		Breaker     struct {
			Enabled     bool          `yaml:"enabled"`
			MaxFailures uint32        `yaml:"max_failures"`
			OpenTimeout time.Duration `yaml:"open_timeout"`
		} `yaml:"breaker"`
	} `yaml:"price_source"`

	Influx struct {
		URL    string `yaml:"url"`
		Token  string `yaml:"token"`
		Org    string `yaml:"org"`
		Bucket string `yaml:"bucket"`
	} `yaml:"influx"`

	Redis struct {
		Addr      string        `yaml:"addr"`
		Password  string        `yaml:"password"`
		DB        int           `yaml:"db"`
		KeyPrefix string        `yaml:"key_prefix"`
		Retention time.Duration `yaml:"retention"`
	} `yaml:"redis"`

	SQLite struct {
		Path      string        `yaml:"path"`
		Retention time.Duration `yaml:"retention"`
	} `yaml:"sqlite"`

	ExchangeRate struct {
		URL             string        `yaml:"url"`
		Base            string        `yaml:"base"`
		PollIntervalSec int           `yaml:"poll_interval_sec"`
		TTL             time.Duration `yaml:"ttl"`
	} `yaml:"exchange_rate"`

	Lookup struct {
		ZeroOnMissingPrice bool `yaml:"zero_on_missing_price"`
	} `yaml:"lookup"`

	// Symbols adds token aliases on top of the built-in tables (e.g. sol: SOLUSDT).
	Symbols map[string]string `yaml:"symbols"`

	Ingest struct {
		Enabled bool     `yaml:"enabled"`
		URL     string   `yaml:"url"`
		Symbols []string `yaml:"symbols"`
	} `yaml:"ingest"`

	Assets struct {
		Enabled bool   `yaml:"enabled"`
		Dir     string `yaml:"dir"`
		IconURL string `yaml:"icon_url"` // format string taking the lower-case asset token
	} `yaml:"assets"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// ConfigPath returns the config file location, honoring PRICE_STREAM_CONFIG.
func ConfigPath() string {
	if p := os.Getenv("PRICE_STREAM_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = 10000
	}
	if c.Server.MaxConnectionsPerIP == 0 {
		c.Server.MaxConnectionsPerIP = 50
	}
	if c.Server.ConnectRate == 0 {
		c.Server.ConnectRate = 5
	}
	if c.Server.ConnectBurst == 0 {
		c.Server.ConnectBurst = 10
	}

	if c.Stream.TickInterval == 0 {
		c.Stream.TickInterval = time.Second
	}
	if c.Stream.WriteWait == 0 {
		c.Stream.WriteWait = 5 * time.Second
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = 30 * time.Second
	}
	if c.Stream.PongWait == 0 {
		c.Stream.PongWait = 60 * time.Second
	}
	if c.Stream.HandshakeTimeout == 0 {
		c.Stream.HandshakeTimeout = 10 * time.Second
	}
	if c.Stream.QueryTimeout == 0 {
		c.Stream.QueryTimeout = 2 * time.Second
	}
	if c.Stream.DefaultSymbol == "" {
		c.Stream.DefaultSymbol = "BTCUSDT"
	}

	if c.PriceSource.Driver == "" {
		c.PriceSource.Driver = "influx"
	}
	if c.PriceSource.Window == 0 {
		c.PriceSource.Window = 10 * time.Second
	}
	if c.PriceSource.Measurement == "" {
		c.PriceSource.Measurement = "aggregated_price"
	}
	if c.PriceSource.Breaker.MaxFailures == 0 {
		c.PriceSource.Breaker.MaxFailures = 5
	}
	if c.PriceSource.Breaker.OpenTimeout == 0 {
		c.PriceSource.Breaker.OpenTimeout = 30 * time.Second
	}

	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "price:"
	}
	if c.Redis.Retention == 0 {
		c.Redis.Retention = time.Hour
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = "data/price_stream.db"
	}
	if c.SQLite.Retention == 0 {
		c.SQLite.Retention = 24 * time.Hour
	}

	if c.ExchangeRate.URL == "" {
		c.ExchangeRate.URL = "https://open.er-api.com/v6/latest"
	}
	if c.ExchangeRate.Base == "" {
		c.ExchangeRate.Base = "USD"
	}
	if c.ExchangeRate.PollIntervalSec == 0 {
		c.ExchangeRate.PollIntervalSec = 3600
	}
	if c.ExchangeRate.TTL == 0 {
		c.ExchangeRate.TTL = 2 * time.Hour
	}

	if c.Ingest.URL == "" {
		c.Ingest.URL = "wss://stream.binance.com:9443/stream"
	}
	if c.Assets.Dir == "" {
		c.Assets.Dir = "assets/icons"
	}
	if c.Assets.IconURL == "" {
		c.Assets.IconURL = "https://assets.coincap.io/assets/icons/%s@2x.png"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.File == "" {
		c.Logging.File = "logs/price_stream.log"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	switch c.PriceSource.Driver {
	case "influx":
		if c.Influx.URL == "" || (!hasPrefix(c.Influx.URL, "http://") && !hasPrefix(c.Influx.URL, "https://")) {
			return &domain.ConfigError{Field: "influx.url", Err: fmt.Errorf("invalid URL: %q", c.Influx.URL)}
		}
		if c.Influx.Org == "" {
			return &domain.ConfigError{Field: "influx.org", Err: errors.New("missing value")}
		}
		if c.Influx.Bucket == "" {
			return &domain.ConfigError{Field: "influx.bucket", Err: errors.New("missing value")}
		}
	case "redis":
		if c.Redis.Addr == "" {
			return &domain.ConfigError{Field: "redis.addr", Err: errors.New("missing value")}
		}
	case "sqlite":
	default:
		return &domain.ConfigError{Field: "price_source.driver", Err: fmt.Errorf("unknown driver %q", c.PriceSource.Driver)}
	}

	if c.Stream.TickInterval <= 0 {
		return &domain.ConfigError{Field: "stream.tick_interval", Err: errors.New("must be positive")}
	}
	if c.Stream.PongWait <= c.Stream.PingInterval {
		return &domain.ConfigError{Field: "stream.pong_wait", Err: errors.New("must exceed ping_interval")}
	}
	if c.PriceSource.Window <= 0 {
		return &domain.ConfigError{Field: "price_source.window", Err: errors.New("must be positive")}
	}
	if c.Server.MaxConnectionsPerIP > c.Server.MaxConnections {
		return &domain.ConfigError{Field: "server.max_connections_per_ip", Err: errors.New("exceeds max_connections")}
	}

	if c.Ingest.Enabled {
		if !hasPrefix(c.Ingest.URL, "ws://") && !hasPrefix(c.Ingest.URL, "wss://") {
			return &domain.ConfigError{Field: "ingest.url", Err: fmt.Errorf("invalid WS URL: %s", c.Ingest.URL)}
		}
		if len(c.Ingest.Symbols) == 0 {
			return &domain.ConfigError{Field: "ingest.symbols", Err: errors.New("at least one symbol is required")}
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return &domain.ConfigError{Field: "logging.level", Err: fmt.Errorf("unknown level %q", c.Logging.Level)}
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("INFLUXDB_URL"); v != "" {
		cfg.Influx.URL = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		cfg.Influx.Token = v
	}
	if v := os.Getenv("INFLUXDB_ORG"); v != "" {
		cfg.Influx.Org = v
	}
	if v := os.Getenv("INFLUXDB_BUCKET"); v != "" {
		cfg.Influx.Bucket = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PRICE_STREAM_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}
