// Package server exposes the HTTP surface: REST price lookups, the /ws stream
// endpoint, health, metrics and asset icons, all routed through gorilla/mux.
package server
