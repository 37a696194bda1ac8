package distribution

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/DataDog/sketches-go/ddsketch/store"
	"github.com/benbjohnson/clock"

	"github.com/xtxerr/histwin/internal/errors"
)

// SketchBucket is one ring slice backed by a DDSketch.
type SketchBucket struct {
	mu     sync.Mutex
	sketch *ddsketch.DDSketch
}

// SketchAccumulated is the merged view of a DDSketch ring.
type SketchAccumulated struct {
	sketch *ddsketch.DDSketch
}

// SketchStrategy records into DDSketches with a relative accuracy of
// 10^-PercentilePrecision. Values above MaximumExpectedValue are rejected.
type SketchStrategy struct {
	accuracy float64
	maximum  float64
	proto    *ddsketch.DDSketch
}

// NewSketchStrategy builds the empty prototype sketch every bucket is
// copied from.
func NewSketchStrategy(cfg Config) (*SketchStrategy, error) {
	precision := cfg.PercentilePrecision
	if precision < 1 {
		precision = 1
	}
	accuracy := math.Pow(10, -float64(precision))

	proto, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err != nil {
		return nil, errors.NewInvalidValue("percentile_precision", cfg.PercentilePrecision, err.Error())
	}

	return &SketchStrategy{
		accuracy: accuracy,
		maximum:  cfg.MaximumExpectedValue,
		proto:    proto,
	}, nil
}

// NewSketch builds a time-window histogram on DDSketch buckets.
func NewSketch(clk clock.Clock, cfg Config, supportsAggregablePercentiles bool, opts ...Option) (*TimeWindowHistogram[*SketchBucket, *SketchAccumulated], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategy, err := NewSketchStrategy(cfg)
	if err != nil {
		return nil, err
	}
	return New[*SketchBucket, *SketchAccumulated](clk, cfg, strategy, supportsAggregablePercentiles, opts...)
}

// RelativeAccuracy is the guaranteed relative error of quantile values.
func (s *SketchStrategy) RelativeAccuracy() float64 {
	return s.accuracy
}

func (s *SketchStrategy) NewBucket() *SketchBucket {
	return &SketchBucket{sketch: s.proto.Copy()}
}

// ResetBucket swaps in a fresh sketch rather than clearing the old one.
func (s *SketchStrategy) ResetBucket(b *SketchBucket) {
	fresh := s.proto.Copy()
	b.mu.Lock()
	b.sketch = fresh
	b.mu.Unlock()
}

func (s *SketchStrategy) RecordLong(b *SketchBucket, v int64) error {
	return s.RecordDouble(b, float64(v))
}

func (s *SketchStrategy) RecordDouble(b *SketchBucket, v float64) error {
	if math.IsNaN(v) || v > s.maximum {
		return errors.ErrValueOutOfRange
	}
	b.mu.Lock()
	err := b.sketch.Add(v)
	b.mu.Unlock()
	if err != nil {
		return errors.ErrValueOutOfRange
	}
	return nil
}

func (s *SketchStrategy) NewAccumulated() *SketchAccumulated {
	return &SketchAccumulated{sketch: s.proto.Copy()}
}

func (s *SketchStrategy) Accumulate(acc *SketchAccumulated, oldest *SketchBucket) {
	oldest.mu.Lock()
	defer oldest.mu.Unlock()
	// Both sketches share the prototype's mapping, so the merge cannot fail.
	_ = acc.sketch.MergeWith(oldest.sketch)
}

func (s *SketchStrategy) ResetAccumulated(acc *SketchAccumulated) {
	acc.sketch = s.proto.Copy()
}

func (s *SketchStrategy) ValueAtPercentile(acc *SketchAccumulated, percentile float64) float64 {
	if acc.sketch.IsEmpty() {
		return 0
	}
	v, err := acc.sketch.GetValueAtQuantile(percentile / 100)
	if err != nil {
		return 0
	}
	return v
}

// CountAtValue counts whole bins by index: a bin is included when it can
// hold an observation <= value. Observations sharing the boundary's bin are
// counted, so the result overshoots by at most one bin of relative width
// RelativeAccuracy, never undershoots.
func (s *SketchStrategy) CountAtValue(acc *SketchAccumulated, value float64) float64 {
	sk := acc.sketch
	var count float64

	if value >= 0 {
		count += sk.GetZeroCount()
		// Every negative observation is below value.
		count += sk.GetNegativeValueStore().TotalCount()
		if value >= sk.MinIndexableValue() {
			count += countBins(sk.GetPositiveValueStore(), func(index int) bool {
				return value >= sk.MaxIndexableValue() || index <= sk.Index(value)
			})
		}
		return count
	}

	// Negative values are stored by magnitude: -v <= value means |v| >= -value.
	if -value < sk.MinIndexableValue() {
		return sk.GetNegativeValueStore().TotalCount()
	}
	if -value >= sk.MaxIndexableValue() {
		return 0
	}
	limit := sk.Index(-value)
	return countBins(sk.GetNegativeValueStore(), func(index int) bool {
		return index >= limit
	})
}

func countBins(st store.Store, include func(index int) bool) float64 {
	var count float64
	st.ForEach(func(index int, c float64) bool {
		if include(index) {
			count += c
		}
		return false
	})
	return count
}
