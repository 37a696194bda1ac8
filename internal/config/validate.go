package config

import (
	"fmt"
	"strings"

	"github.com/xtxerr/histwin/internal/distribution"
	"github.com/xtxerr/histwin/internal/errors"
	"github.com/xtxerr/histwin/internal/logging"
)

// Validate checks the configuration and reports every violation found.
// The returned error is a *errors.ValidationErrors.
func (c *Config) Validate() error {
	v := errors.NewValidationErrors()

	c.Logging.validate(v)
	c.HTTP.validate(v)

	if err := c.Defaults.Validate(); err != nil {
		v.Add(errors.Wrap(err, "defaults"))
	}

	// Meters
	seen := make(map[string]bool, len(c.Meters))
	for i := range c.Meters {
		m := &c.Meters[i]
		prefix := fmt.Sprintf("meters[%d]", i)
		if m.Name != "" && seen[m.Name] {
			v.AddField(prefix+".name", fmt.Sprintf("duplicate name %q", m.Name))
		}
		seen[m.Name] = true

		m.validate(v, prefix, c.Defaults)
	}

	c.Load.validate(v)

	if c.Summary.Interval < 0 {
		v.AddField("summary.interval", "must not be negative")
	}

	return v.Err()
}

func (c *LoggingConfig) validate(v *errors.ValidationErrors) {
	if _, err := logging.ParseLevel(c.Level); err != nil {
		v.AddField("logging.level", err.Error())
	}

	switch c.Format {
	case "", "text", "json":
	default:
		v.AddField("logging.format", "must be one of: text, json")
	}
}

func (c *HTTPConfig) validate(v *errors.ValidationErrors) {
	if !c.Enabled {
		return
	}

	if c.Listen == "" {
		v.AddMissing("http.listen")
	}

	if !strings.HasPrefix(c.MetricsPath, "/") {
		v.AddField("http.metrics_path", "must start with /")
	}

	if c.ReadHeaderTimeout < 0 {
		v.AddField("http.read_header_timeout", "must not be negative")
	}
}

// validate checks one meter against the defaults it will be merged onto.
func (m *MeterConfig) validate(v *errors.ValidationErrors, prefix string, defaults distribution.Config) {
	if m.Name == "" {
		v.AddMissing(prefix + ".name")
	}

	switch m.Kind {
	case KindTimer, KindSummary:
	case "":
		v.AddMissing(prefix + ".kind")
	default:
		v.AddField(prefix+".kind", fmt.Sprintf("%q must be one of: timer, summary", m.Kind))
	}

	resolved := m.Resolved(defaults)
	switch m.StrategyOrDefault() {
	case StrategyHDR, StrategySketch:
	case StrategyFixed:
		if len(resolved.HistogramBuckets(true)) == 0 {
			v.AddField(prefix+".strategy", "fixed strategy needs slo boundaries or percentile_histogram")
		}
	default:
		v.AddField(prefix+".strategy", fmt.Sprintf("%q must be one of: hdr, sketch, fixed", m.Strategy))
	}

	if err := resolved.Validate(); err != nil {
		v.Add(errors.Wrap(err, prefix))
	}
}

func (c *LoadConfig) validate(v *errors.ValidationErrors) {
	if !c.Enabled {
		return
	}

	if c.Workers <= 0 {
		v.AddField("load.workers", "must be positive")
	}

	if c.Interval <= 0 {
		v.AddField("load.interval", "must be positive")
	}

	if c.Median <= 0 {
		v.AddField("load.median", "must be positive")
	}

	if c.Sigma < 0 {
		v.AddField("load.sigma", "must not be negative")
	}
}
