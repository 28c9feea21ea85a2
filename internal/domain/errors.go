package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

var (
	// ErrSymbolNotFound is returned when a ticker or fiat token has no canonical mapping.
	ErrSymbolNotFound = errors.New("symbol not found")

	// ErrNoData is returned when the source has no point for a symbol inside the trailing window.
	ErrNoData = errors.New("no data")

	// ErrDelivery is returned when a message could not be written to a session's transport.
	ErrDelivery = errors.New("delivery failed")

	// ErrSessionClosed is returned when delivering to a session that has already terminated.
	ErrSessionClosed = errors.New("session closed")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

// ResolutionError reports a user-facing token that the static tables do not know.
// Kind is "ticker" or "fiat".
type ResolutionError struct {
	Token string
	Kind  string
}

func (e *ResolutionError) Error() string {
	if e.Kind == "fiat" {
		return "currency not found: " + e.Token
	}
	return "symbol not found: " + e.Token
}

func (e *ResolutionError) Is(target error) bool {
	return target == ErrSymbolNotFound
}

// NoDataError reports a symbol that had no point inside the trailing window.
type NoDataError struct {
	Symbol string
}

func (e *NoDataError) Error() string {
	return "no data found for symbol: " + e.Symbol
}

func (e *NoDataError) Is(target error) bool {
	return target == ErrNoData
}

// SourceError represents a backend connectivity or query failure
type SourceError struct {
	Source    string // "influx", "redis", "sqlite", "exchange_rate"
	Op        string // Operation that failed (e.g., "query", "fetch")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *SourceError) Error() string {
	return e.Source + " " + e.Op + ": " + e.Err.Error()
}

func (e *SourceError) IsRetriable() bool {
	return e.Retriable
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError creates a new retriable source error
func NewSourceError(source, op string, err error) *SourceError {
	return &SourceError{Source: source, Op: op, Err: err, Retriable: true}
}

// NewFatalSourceError creates a non-retriable source error
func NewFatalSourceError(source, op string, err error) *SourceError {
	return &SourceError{Source: source, Op: op, Err: err, Retriable: false}
}

// DeliveryError is fatal to the session it happened on.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return "delivery failed: " + e.Err.Error()
}

func (e *DeliveryError) Is(target error) bool {
	return target == ErrDelivery
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies an error for metrics and logs.
func ErrorKind(err error) string {
	var se *SourceError
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrSymbolNotFound):
		return "resolution"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrDelivery), errors.Is(err, ErrSessionClosed):
		return "delivery"
	case errors.As(err, &se):
		return "source"
	default:
		return "source"
	}
}
