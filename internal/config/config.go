// Package config loads the histwin daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/histwin/config"
	"github.com/xtxerr/histwin/internal/distribution"
)

// Meter kinds.
const (
	KindTimer   = "timer"
	KindSummary = "summary"
)

// Histogram strategies.
const (
	StrategyHDR    = "hdr"
	StrategySketch = "sketch"
	StrategyFixed  = "fixed"
)

// Config represents the complete daemon configuration.
type Config struct {
	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`

	// HTTP configures the metrics endpoint.
	HTTP HTTPConfig `yaml:"http"`

	// Export configures metric naming for the exporters.
	Export ExportConfig `yaml:"export"`

	// Defaults is the distribution configuration every meter starts from.
	Defaults distribution.Config `yaml:"defaults"`

	// Meters lists the meters to register at startup.
	Meters []MeterConfig `yaml:"meters"`

	// Load configures the synthetic load generator.
	Load LoadConfig `yaml:"load"`

	// Summary configures periodic snapshot tables.
	Summary SummaryConfig `yaml:"summary"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is one of: text, json.
	Format string `yaml:"format"`
}

// HTTPConfig configures the metrics endpoint.
type HTTPConfig struct {
	// Enabled serves the Prometheus endpoint.
	Enabled bool `yaml:"enabled"`

	// Listen is the listen address, e.g. "0.0.0.0:9464".
	Listen string `yaml:"listen"`

	// MetricsPath is the exposition path.
	MetricsPath string `yaml:"metrics_path"`

	// ReadHeaderTimeout bounds request header reads.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// ExportConfig configures metric naming for the exporters.
type ExportConfig struct {
	// Namespace prefixes Prometheus metric names.
	Namespace string `yaml:"namespace"`

	// OTel enables the OpenTelemetry bridge.
	OTel bool `yaml:"otel"`

	// OTelScope is the instrumentation scope of the OpenTelemetry meter.
	OTelScope string `yaml:"otel_scope"`
}

// MeterConfig describes one meter. Unset distribution fields are taken from
// the top-level defaults.
type MeterConfig struct {
	// Name is the unique meter name, e.g. "http.server.requests".
	Name string `yaml:"name"`

	// Kind is one of: timer, summary.
	Kind string `yaml:"kind"`

	// Strategy is one of: hdr, sketch, fixed. Defaults to hdr.
	Strategy string `yaml:"strategy"`

	// Description is exported as metric help text.
	Description string `yaml:"description"`

	// BaseUnit names the unit of summary observations, e.g. "bytes".
	BaseUnit string `yaml:"base_unit"`

	// Tags are constant labels attached to every exported series.
	Tags map[string]string `yaml:"tags"`

	// Distribution holds per-meter overrides of the defaults. Timer values
	// (slo, minimum and maximum expected value) are in nanoseconds.
	Distribution distribution.Config `yaml:",inline"`
}

// LoadConfig configures the synthetic load generator.
type LoadConfig struct {
	// Enabled starts the generator.
	Enabled bool `yaml:"enabled"`

	// Workers is the number of recording goroutines.
	Workers int `yaml:"workers"`

	// Interval is the pause between two observations of a worker.
	Interval time.Duration `yaml:"interval"`

	// Median and Sigma parameterize the log-normal observation source.
	// Timers interpret observations as milliseconds.
	Median float64 `yaml:"median"`
	Sigma  float64 `yaml:"sigma"`
}

// SummaryConfig configures periodic snapshot tables.
type SummaryConfig struct {
	// Interval between two summaries. Zero disables them.
	Interval time.Duration `yaml:"interval"`
}

// Resolved returns the meter's distribution config merged onto defaults.
func (m MeterConfig) Resolved(defaults distribution.Config) distribution.Config {
	return m.Distribution.Merge(defaults)
}

// StrategyOrDefault returns the configured strategy or hdr.
func (m MeterConfig) StrategyOrDefault() string {
	if m.Strategy == "" {
		return StrategyHDR
	}
	return m.Strategy
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML onto the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Enabled:           true,
			Listen:            defaults.DefaultListenAddress,
			MetricsPath:       defaults.DefaultMetricsPath,
			ReadHeaderTimeout: defaults.DefaultReadHeaderTimeout,
		},
		Export: ExportConfig{
			Namespace: defaults.DefaultNamespace,
			OTelScope: defaults.DefaultInstrumentationScope,
		},
		Defaults: distribution.Default(),
		Load: LoadConfig{
			Workers:  defaults.DefaultLoadWorkers,
			Interval: defaults.DefaultLoadInterval,
			Median:   defaults.DefaultLoadMedian,
			Sigma:    defaults.DefaultLoadSigma,
		},
		Summary: SummaryConfig{
			Interval: defaults.DefaultSummaryInterval,
		},
	}
}
