// Package stream runs the per-connection broadcast subsystem: admission of WebSocket
// clients, the registry of live sessions, and one broadcast loop per session that
// pushes a price snapshot for the session's bound symbol every tick.
package stream
