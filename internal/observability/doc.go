// Package observability provides structured logging and Prometheus metrics
// for routeguard.
//
// This package implements:
//   - zap logger construction from LOG_LEVEL / LOG_FORMAT
//   - access decision counters labelled by route and outcome
//   - HTTP request counters and latency histograms per chi route pattern
//   - the /metrics exposition handler
package observability
