package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"price_stream/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Response encode failed", slog.Any("error", err))
	}
}

func writeSuccess(w http.ResponseWriter, msg any) {
	writeJSON(w, http.StatusOK, domain.Success(msg))
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), domain.Failure(err))
}

func failureMessage(msg string) domain.Envelope {
	return domain.Envelope{Success: false, Error: msg}
}

// statusFor maps lookup errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSymbolNotFound), errors.Is(err, domain.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// client went away
		return 499
	default:
		return http.StatusServiceUnavailable
	}
}
