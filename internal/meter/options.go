package meter

import (
	"github.com/xtxerr/histwin/internal/distribution"
)

// Option customizes a meter created through the Registry.
type Option func(*meterOptions)

type meterOptions struct {
	description string
	baseUnit    string
	tags        map[string]string
	strategy    string
	overrides   distribution.Config
	histogram   []distribution.Option
}

// WithDescription sets the help text exported with the meter.
func WithDescription(description string) Option {
	return func(o *meterOptions) {
		o.description = description
	}
}

// WithBaseUnit sets the unit of summary observations. Timers always use
// seconds.
func WithBaseUnit(unit string) Option {
	return func(o *meterOptions) {
		o.baseUnit = unit
	}
}

// WithTags attaches constant labels.
func WithTags(tags map[string]string) Option {
	return func(o *meterOptions) {
		o.tags = tags
	}
}

// WithStrategy selects the bucket primitive: hdr, sketch or fixed.
func WithStrategy(strategy string) Option {
	return func(o *meterOptions) {
		o.strategy = strategy
	}
}

// WithDistribution sets per-meter overrides merged onto the registry
// defaults.
func WithDistribution(cfg distribution.Config) Option {
	return func(o *meterOptions) {
		o.overrides = cfg
	}
}

// WithHistogramOptions passes options through to the histogram constructor.
func WithHistogramOptions(opts ...distribution.Option) Option {
	return func(o *meterOptions) {
		o.histogram = append(o.histogram, opts...)
	}
}
