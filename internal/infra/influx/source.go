package influx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"price_stream/internal/domain"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

const (
	sourceName         = "influx"
	DefaultMeasurement = "aggregated_price"
	priceField         = "price"
	lastUpdateKey      = "lastUpdateTime"
)

var fluxEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Source reads the last aggregated price per symbol from an InfluxDB bucket.
type Source struct {
	client      influxdb2.Client
	query       api.QueryAPI
	write       api.WriteAPIBlocking
	bucket      string
	measurement string
}

var (
	_ domain.PriceSource = (*Source)(nil)
	_ domain.PointWriter = (*Source)(nil)
)

// Options configures an InfluxDB source.
type Options struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
	Timeout     time.Duration
}

// NewSource opens a client. Connectivity is checked lazily; use Ping for an eager check.
func NewSource(opts Options) *Source {
	if opts.Measurement == "" {
		opts.Measurement = DefaultMeasurement
	}
	clientOpts := influxdb2.DefaultOptions()
	if opts.Timeout > 0 {
		// Whole seconds only; round up so sub-second timeouts do not become "no timeout".
		secs := (opts.Timeout + time.Second - 1) / time.Second
		clientOpts.SetHTTPRequestTimeout(uint(secs))
	}
	client := influxdb2.NewClientWithOptions(opts.URL, opts.Token, clientOpts)
	return &Source{
		client:      client,
		query:       client.QueryAPI(opts.Org),
		write:       client.WriteAPIBlocking(opts.Org, opts.Bucket),
		bucket:      opts.Bucket,
		measurement: opts.Measurement,
	}
}

// buildQuery returns a Flux query selecting the newest price inside the window.
// Grouping by field collapses every series of the symbol (older writers tagged
// lastUpdateTime) so last() yields one row per field.
func (s *Source) buildQuery(symbol string, window time.Duration) string {
	return fmt.Sprintf(`from(bucket: "%s")
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == "%s" and r.symbol == "%s")
  |> filter(fn: (r) => r._field == "%s" or r._field == "%s")
  |> group(columns: ["_field"])
  |> last()`,
		fluxEscaper.Replace(s.bucket),
		domain.FormatWindow(window),
		fluxEscaper.Replace(s.measurement),
		fluxEscaper.Replace(symbol),
		priceField,
		lastUpdateKey,
	)
}

// LastPrice runs the window query and returns the newest price record. The
// lastUpdateTime comes from a tag column on the price row or from the
// lastUpdateTime field written at the same instant.
func (s *Source) LastPrice(ctx context.Context, symbol string, window time.Duration) (domain.PricePoint, error) {
	result, err := s.query.Query(ctx, s.buildQuery(symbol, window))
	if err != nil {
		return domain.PricePoint{}, classify("query", err)
	}
	defer result.Close()

	var (
		p         domain.PricePoint
		found     bool
		updated   string
		updatedAt time.Time
	)
	for result.Next() {
		rec := result.Record()
		switch rec.Field() {
		case lastUpdateKey:
			if at := rec.Time(); updated == "" || at.After(updatedAt) {
				updated, updatedAt = fmt.Sprint(rec.Value()), at
			}
		default:
			price, ok := toFloat(rec.Value())
			if !ok {
				continue
			}
			at := rec.Time().UTC()
			if found && !at.After(p.Time) {
				continue
			}
			p = domain.PricePoint{Symbol: symbol, Price: price, Time: at}
			if v := rec.ValueByKey(lastUpdateKey); v != nil {
				p.LastUpdateTime = fmt.Sprint(v)
			}
			found = true
		}
	}
	if err := result.Err(); err != nil {
		return domain.PricePoint{}, classify("decode", err)
	}
	if !found {
		return domain.PricePoint{}, &domain.NoDataError{Symbol: symbol}
	}
	if p.LastUpdateTime == "" && updated != "" && updatedAt.Equal(p.Time) {
		p.LastUpdateTime = updated
	}
	return p, nil
}

// WritePoint writes a point in the same shape LastPrice reads. lastUpdateTime is
// a field so each point does not open a new series.
func (s *Source) WritePoint(ctx context.Context, p domain.PricePoint) error {
	fields := map[string]interface{}{priceField: p.Price}
	if p.LastUpdateTime != "" {
		fields[lastUpdateKey] = p.LastUpdateTime
	}
	if p.Time.IsZero() {
		p.Time = time.Now()
	}
	point := influxdb2.NewPoint(s.measurement, map[string]string{"symbol": p.Symbol}, fields, p.Time)
	if err := s.write.WritePoint(ctx, point); err != nil {
		return classify("write", err)
	}
	return nil
}

// Ping checks server readiness.
func (s *Source) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return classify("ping", err)
	}
	if !ok {
		return domain.NewSourceError(sourceName, "ping", errors.New("server not ready"))
	}
	return nil
}

// Close releases the client.
func (s *Source) Close() {
	s.client.Close()
}

// classify marks auth and bad-request failures as fatal; everything else may be retried.
func classify(op string, err error) error {
	msg := err.Error()
	for _, fatal := range []string{"unauthorized", "forbidden", "bad request", "not found"} {
		if strings.Contains(strings.ToLower(msg), fatal) {
			return domain.NewFatalSourceError(sourceName, op, err)
		}
	}
	return domain.NewSourceError(sourceName, op, err)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
