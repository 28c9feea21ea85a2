package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"price_stream/internal/domain"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const sourceName = "redis"

// member is the ZSET member encoding. The score carries the observation time in unix ms.
type member struct {
	Price          float64 `json:"p"`
	LastUpdateTime string  `json:"u,omitempty"`
	TimeMs         int64   `json:"t"`
}

// Source keeps one sorted set per symbol and serves the newest member inside a window.
type Source struct {
	client    goredis.UniversalClient
	prefix    string
	retention time.Duration
	clock     clockwork.Clock
}

var (
	_ domain.PriceSource = (*Source)(nil)
	_ domain.PointWriter = (*Source)(nil)
)

// NewSource creates a Redis price source. Points older than retention are trimmed on write.
func NewSource(client goredis.UniversalClient, prefix string, retention time.Duration) *Source {
	return &Source{
		client:    client,
		prefix:    prefix,
		retention: retention,
		clock:     clockwork.NewRealClock(),
	}
}

func (s *Source) key(symbol string) string {
	return s.prefix + symbol
}

// LastPrice returns the highest-scored member not older than window.
func (s *Source) LastPrice(ctx context.Context, symbol string, window time.Duration) (domain.PricePoint, error) {
	from := s.clock.Now().Add(-window).UnixMilli()
	vals, err := s.client.ZRevRangeByScore(ctx, s.key(symbol), &goredis.ZRangeBy{
		Min:   strconv.FormatInt(from, 10),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return domain.PricePoint{}, domain.NewSourceError(sourceName, "query", err)
	}
	if len(vals) == 0 {
		return domain.PricePoint{}, &domain.NoDataError{Symbol: symbol}
	}

	var m member
	if err := json.Unmarshal([]byte(vals[0]), &m); err != nil {
		return domain.PricePoint{}, domain.NewFatalSourceError(sourceName, "decode", err)
	}
	return domain.PricePoint{
		Symbol:         symbol,
		Price:          m.Price,
		LastUpdateTime: m.LastUpdateTime,
		Time:           time.UnixMilli(m.TimeMs).UTC(),
	}, nil
}

// WritePoint adds a point and trims the set to the retention window in one transaction.
func (s *Source) WritePoint(ctx context.Context, p domain.PricePoint) error {
	if p.Time.IsZero() {
		p.Time = s.clock.Now()
	}
	ts := p.Time.UnixMilli()
	raw, err := json.Marshal(member{Price: p.Price, LastUpdateTime: p.LastUpdateTime, TimeMs: ts})
	if err != nil {
		return domain.NewFatalSourceError(sourceName, "encode", err)
	}

	key := s.key(p.Symbol)
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, key, goredis.Z{Score: float64(ts), Member: raw})
		if s.retention > 0 {
			cutoff := s.clock.Now().Add(-s.retention).UnixMilli()
			pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
			pipe.Expire(ctx, key, s.retention)
		}
		return nil
	})
	if err != nil {
		return domain.NewSourceError(sourceName, "write", err)
	}
	return nil
}

// Ping checks connectivity for the health endpoint.
func (s *Source) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
