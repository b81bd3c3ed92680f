// Package api implements the HTTP API of the broker.
//
// New(store, alerts, limiter) returns an http.Handler that serves:
//
//	POST /add           admit {"id","priority","timestamp"}
//	GET  /pop           remove the highest-priority message: {"id": "..."} or {"id": null}
//	GET  /find/{id}     {"priority","timestamp"} of a live message, or null
//	GET  /list          live ids, highest priority first (oldest first on ties)
//	GET  /stats         store counters
//	GET  /alerts        firing and recently resolved alerts
//	GET  /health        liveness and current depth
//	GET  /metrics       Prometheus text exposition
//
// Admission failures answer with {"error": "<reason>"}: 409 for a duplicate
// id, 422 for a priority or timestamp violation. Lookup misses are not
// errors and answer 200. Wrong methods answer 405.
//
// CORS wraps a handler with the configured cross-origin policy. JSON types
// are defined in types.go. No external HTTP framework is used.
package api
