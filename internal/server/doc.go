// Package server exposes widget sessions over HTTP and WebSocket.
//
// # Surface
//
// A session is created with a POST carrying the widget's query string and an
// optional bearer token, then driven through per-session routes for starting
// the chat, sending queries (answered as a server-sent event stream),
// switching conversations, and submitting feedback. A WebSocket bridge
// carries page frames so embedded pages can negotiate config with the
// gateway using the same origin-checked message protocol the widget script
// speaks.
//
// # Lifetime
//
// Sessions live in an in-memory registry with a TTL and a capacity cap.
// Lookups refresh recency; expired or evicted sessions are closed, which
// stops any in-flight answer stream. A periodic sweep reclaims sessions the
// widget abandoned without closing.
//
// # Operational bits
//
// Per-client rate limiting guards the widget routes, Prometheus metrics are
// served from the configured path, and /healthz plus /health/ready (which
// probes the upstream app) back load balancer checks.
package server
