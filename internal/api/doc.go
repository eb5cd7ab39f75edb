// Package api implements the HTTP API and WebSocket feed for usbroles.
//
// This package provides:
//   - GET /api/devices: the live device list annotated with bound roles
//   - GET and POST /api/rules: read or replace the whole rule set
//   - GET /api/devices/history: persisted sighting history, when enabled
//   - GET /api/ws: device view snapshots pushed on every registry change
//   - Middleware stack (request ID, logging, recovery, CORS, bearer auth)
//
// Every JSON response uses the envelope {"code", "msg", "data"}. Code 0
// means success; other codes come from the ErrorCode catalog and are
// paired with the catalog's HTTP status.
//
// # Security
//
// When a JWT secret is configured, requests must carry a bearer token
// minted by `usbroles token`; rule replacement additionally needs the
// rules:write permission. Without a secret the API is open, as on a
// single-operator robot host.
package api
