// Package server exposes the orchestration engine over HTTP.
//
// Manager owns the net/http server lifecycle: non-blocking Start, graceful
// Shutdown, and signal-driven WaitForShutdown. API serves the REST surface
// under /api/v1 plus /healthz and /metrics, and streams bus events over a
// websocket at /api/v1/events/ws. The middleware in this package (recovery,
// request ids, logging, metrics, rate limiting, CORS) composes with Chain
// around any handler.
package server
