package distribution

import (
	"math"
	"sort"
	"time"

	"github.com/xtxerr/histwin/internal/errors"
)

// Defaults applied by Merge when a field is unset.
const (
	DefaultBufferLength        = 3
	DefaultExpiry              = 2 * time.Minute
	DefaultPercentilePrecision = 1
	DefaultMinimumExpected     = 1.0
)

// Config describes the window and the outputs of a distribution.
// It is validated once when a histogram is built and copied, so later edits
// to the caller's value have no effect on a running histogram.
type Config struct {
	// PercentileHistogram publishes the percentile-derived bucket set when the
	// histogram supports aggregable percentiles.
	PercentileHistogram bool `yaml:"percentile_histogram"`

	// Percentiles are the quantiles (0.0-1.0) reported in snapshots, in order.
	Percentiles []float64 `yaml:"percentiles"`

	// PercentilePrecision is the number of significant digits the bucket
	// primitive keeps. Required when Percentiles is set.
	PercentilePrecision int `yaml:"percentile_precision"`

	// ServiceLevelObjectives are boundaries at which cumulative counts are
	// reported.
	ServiceLevelObjectives []float64 `yaml:"slo"`

	// MinimumExpectedValue and MaximumExpectedValue bound the range the
	// primitives track. Values outside may be dropped from the distribution.
	MinimumExpectedValue float64 `yaml:"minimum_expected_value"`
	MaximumExpectedValue float64 `yaml:"maximum_expected_value"`

	// Expiry is the trailing window covered by the ring.
	Expiry time.Duration `yaml:"expiry"`

	// BufferLength is the number of time slices in the ring.
	BufferLength int `yaml:"buffer_length"`
}

// Default returns the configuration every meter starts from.
func Default() Config {
	return Config{
		PercentilePrecision:  DefaultPercentilePrecision,
		MinimumExpectedValue: DefaultMinimumExpected,
		MaximumExpectedValue: math.Inf(1),
		Expiry:               DefaultExpiry,
		BufferLength:         DefaultBufferLength,
	}
}

// Merge returns c with every unset field taken from parent.
// PercentileHistogram is enabled if either side enables it.
func (c Config) Merge(parent Config) Config {
	out := c.Copy()

	out.PercentileHistogram = c.PercentileHistogram || parent.PercentileHistogram
	if out.Percentiles == nil {
		out.Percentiles = cloneFloats(parent.Percentiles)
	}
	if out.PercentilePrecision == 0 {
		out.PercentilePrecision = parent.PercentilePrecision
	}
	if out.ServiceLevelObjectives == nil {
		out.ServiceLevelObjectives = cloneFloats(parent.ServiceLevelObjectives)
	}
	if out.MinimumExpectedValue == 0 {
		out.MinimumExpectedValue = parent.MinimumExpectedValue
	}
	if out.MaximumExpectedValue == 0 {
		out.MaximumExpectedValue = parent.MaximumExpectedValue
	}
	if out.Expiry == 0 {
		out.Expiry = parent.Expiry
	}
	if out.BufferLength == 0 {
		out.BufferLength = parent.BufferLength
	}
	return out
}

// Copy returns a deep copy of c.
func (c Config) Copy() Config {
	out := c
	out.Percentiles = cloneFloats(c.Percentiles)
	out.ServiceLevelObjectives = cloneFloats(c.ServiceLevelObjectives)
	return out
}

// Validate reports the first violated constraint, or nil.
//
// Checks run in a fixed order: percentile range, percentile precision,
// minimum expected value, maximum >= minimum, SLO boundaries, buffer length,
// per-bucket duration.
func (c Config) Validate() error {
	for _, p := range c.Percentiles {
		if !(p >= 0 && p <= 1) {
			return errors.NewInvalidValue("percentile", p, "must be between 0.0 and 1.0")
		}
	}

	if len(c.Percentiles) > 0 && c.PercentilePrecision <= 0 {
		return errors.NewValidation("percentile_precision", "must be set when percentiles are configured")
	}

	if !(c.MinimumExpectedValue > 0) {
		return errors.NewInvalidValue("minimum_expected_value", c.MinimumExpectedValue, "must be greater than 0")
	}

	if !(c.MaximumExpectedValue >= c.MinimumExpectedValue) {
		return errors.NewInvalidValue("maximum_expected_value", c.MaximumExpectedValue, "must be equal to or greater than minimum_expected_value")
	}

	for _, slo := range c.ServiceLevelObjectives {
		if !(slo > 0) {
			return errors.NewInvalidValue("slo", slo, "must be greater than 0")
		}
	}

	if c.BufferLength <= 0 {
		return errors.NewInvalidValue("buffer_length", c.BufferLength, "must be greater than 0")
	}

	if c.BucketDuration() <= 0 {
		return errors.NewInvalidValue("expiry", c.Expiry, "divided by buffer_length must be greater than 0")
	}

	return nil
}

// BucketDuration is the time slice covered by one ring bucket.
func (c Config) BucketDuration() time.Duration {
	if c.BufferLength <= 0 {
		return 0
	}
	return c.Expiry / time.Duration(c.BufferLength)
}

// IsPublishingPercentiles reports whether snapshots carry percentile values.
func (c Config) IsPublishingPercentiles() bool {
	return len(c.Percentiles) > 0
}

// IsPublishingHistogram reports whether snapshots carry bucket counts.
func (c Config) IsPublishingHistogram() bool {
	return c.PercentileHistogram || len(c.ServiceLevelObjectives) > 0
}

// HistogramBuckets returns the ascending, de-duplicated boundaries at which
// cumulative counts are reported, using the default boundary source.
func (c Config) HistogramBuckets(supportsAggregablePercentiles bool) []float64 {
	return c.histogramBuckets(supportsAggregablePercentiles, PercentileHistogramBuckets)
}

func (c Config) histogramBuckets(supportsAggregablePercentiles bool, source BoundarySource) []float64 {
	set := make(map[float64]struct{})

	if c.PercentileHistogram && supportsAggregablePercentiles && source != nil {
		for _, b := range source(c.MinimumExpectedValue, c.MaximumExpectedValue) {
			set[b] = struct{}{}
		}
		set[c.MinimumExpectedValue] = struct{}{}
		if !math.IsInf(c.MaximumExpectedValue, 1) {
			set[c.MaximumExpectedValue] = struct{}{}
		}
	}

	for _, slo := range c.ServiceLevelObjectives {
		set[slo] = struct{}{}
	}

	if len(set) == 0 {
		return nil
	}

	out := make([]float64, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	sort.Float64s(out)
	return out
}

func cloneFloats(in []float64) []float64 {
	if in == nil {
		return nil
	}
	out := make([]float64, len(in))
	copy(out, in)
	return out
}
