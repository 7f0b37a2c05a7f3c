// Package diagnostics serves the agent's local status API and Prometheus
// metrics.
//
// Routes:
//
//	GET /api/v1/health              liveness plus transport and database checks
//	GET /api/v1/status              pipeline snapshot, session and version
//	GET /api/v1/variables           registered variables and their last values
//	GET /api/v1/journal/deliveries  confirmed deliveries (journal enabled)
//	GET /api/v1/journal/events      stored pipeline errors (journal enabled)
//	GET /metrics                    Prometheus exposition
//
// The server binds to loopback by default and has no authentication; it
// exposes nothing that is not already in the logs.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package diagnostics
