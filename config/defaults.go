// Package config provides configuration defaults for the histwin daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via the YAML config file.
package config

import "time"

// =============================================================================
// HTTP Defaults
// =============================================================================

const (
	// DefaultListenAddress is the address serving the metrics endpoint.
	// Override via config: http.listen
	DefaultListenAddress = "0.0.0.0:9464"

	// DefaultMetricsPath is the path of the Prometheus exposition endpoint.
	// Override via config: http.metrics_path
	DefaultMetricsPath = "/metrics"

	// DefaultReadHeaderTimeout bounds how long a client may take to send
	// request headers.
	// Override via config: http.read_header_timeout
	DefaultReadHeaderTimeout = 5 * time.Second
)

// =============================================================================
// Export Defaults
// =============================================================================

const (
	// DefaultNamespace prefixes every exported metric name.
	// Override via config: export.namespace
	DefaultNamespace = "histwin"

	// DefaultInstrumentationScope names the OpenTelemetry meter.
	// Override via config: export.otel_scope
	DefaultInstrumentationScope = "github.com/xtxerr/histwin"
)

// =============================================================================
// Load Generator Defaults
// =============================================================================

const (
	// DefaultLoadWorkers is the number of goroutines recording synthetic
	// observations.
	// Override via config: load.workers
	DefaultLoadWorkers = 4

	// DefaultLoadInterval is the pause between two observations of a worker.
	// Override via config: load.interval
	DefaultLoadInterval = 10 * time.Millisecond

	// DefaultLoadMedian is the median of the log-normal observation source.
	// Timers interpret it as milliseconds.
	// Override via config: load.median
	DefaultLoadMedian = 20.0

	// DefaultLoadSigma is the shape parameter of the log-normal source.
	// Range: 0.1-3
	// Override via config: load.sigma
	DefaultLoadSigma = 0.8
)

// =============================================================================
// Summary Defaults
// =============================================================================

const (
	// DefaultSummaryInterval is how often snapshot tables are written to the
	// log output. Zero disables the summaries.
	// Override via config: summary.interval
	DefaultSummaryInterval = 30 * time.Second
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultShutdownTimeout is how long the HTTP server may take to drain
	// in-flight scrapes during shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)
