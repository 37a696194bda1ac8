package distribution

import (
	"math"
	"sort"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/xtxerr/histwin/internal/errors"
)

// FixedBoundaryBucket counts observations per boundary. counts[i] holds
// observations in (boundaries[i-1], boundaries[i]].
type FixedBoundaryBucket struct {
	counts []atomic.Int64
}

// FixedBoundaryAccumulated holds summed per-boundary counts.
type FixedBoundaryAccumulated struct {
	counts []int64
	total  int64
}

// FixedBoundaryStrategy counts observations at a fixed boundary set. The
// counts can be summed across processes, so the percentile-histogram
// boundaries are always included. Observations above the last boundary are
// rejected.
type FixedBoundaryStrategy struct {
	boundaries []float64
}

// NewFixedBoundaryStrategy uses the given ascending boundaries.
func NewFixedBoundaryStrategy(boundaries []float64) (*FixedBoundaryStrategy, error) {
	if len(boundaries) == 0 {
		return nil, errors.NewValidation("slo", "fixed boundary histogram needs slo boundaries or percentile_histogram")
	}
	if !sort.Float64sAreSorted(boundaries) {
		return nil, errors.NewValidation("boundaries", "must be ascending")
	}
	return &FixedBoundaryStrategy{boundaries: cloneFloats(boundaries)}, nil
}

// NewFixedBoundary builds an aggregable time-window histogram counting at
// cfg's histogram boundaries.
func NewFixedBoundary(clk clock.Clock, cfg Config, opts ...Option) (*TimeWindowHistogram[*FixedBoundaryBucket, *FixedBoundaryAccumulated], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := resolveOptions(opts)
	strategy, err := NewFixedBoundaryStrategy(cfg.histogramBuckets(true, o.boundaries))
	if err != nil {
		return nil, err
	}
	return New[*FixedBoundaryBucket, *FixedBoundaryAccumulated](clk, cfg, strategy, true, opts...)
}

// Boundaries returns the boundary set.
func (s *FixedBoundaryStrategy) Boundaries() []float64 {
	return cloneFloats(s.boundaries)
}

func (s *FixedBoundaryStrategy) NewBucket() *FixedBoundaryBucket {
	return &FixedBoundaryBucket{counts: make([]atomic.Int64, len(s.boundaries))}
}

func (s *FixedBoundaryStrategy) ResetBucket(b *FixedBoundaryBucket) {
	for i := range b.counts {
		b.counts[i].Store(0)
	}
}

func (s *FixedBoundaryStrategy) RecordLong(b *FixedBoundaryBucket, v int64) error {
	return s.RecordDouble(b, float64(v))
}

func (s *FixedBoundaryStrategy) RecordDouble(b *FixedBoundaryBucket, v float64) error {
	if math.IsNaN(v) {
		return errors.ErrValueOutOfRange
	}
	idx := sort.SearchFloat64s(s.boundaries, v)
	if idx >= len(s.boundaries) {
		return errors.ErrValueOutOfRange
	}
	b.counts[idx].Add(1)
	return nil
}

func (s *FixedBoundaryStrategy) NewAccumulated() *FixedBoundaryAccumulated {
	return &FixedBoundaryAccumulated{counts: make([]int64, len(s.boundaries))}
}

func (s *FixedBoundaryStrategy) Accumulate(acc *FixedBoundaryAccumulated, oldest *FixedBoundaryBucket) {
	for i := range oldest.counts {
		n := oldest.counts[i].Load()
		acc.counts[i] += n
		acc.total += n
	}
}

func (s *FixedBoundaryStrategy) ResetAccumulated(acc *FixedBoundaryAccumulated) {
	clear(acc.counts)
	acc.total = 0
}

// ValueAtPercentile returns the smallest boundary whose cumulative count
// reaches the requested rank.
func (s *FixedBoundaryStrategy) ValueAtPercentile(acc *FixedBoundaryAccumulated, percentile float64) float64 {
	if acc.total == 0 {
		return 0
	}
	rank := int64(math.Ceil(percentile / 100 * float64(acc.total)))
	if rank < 1 {
		rank = 1
	}

	var cumulative int64
	for i, n := range acc.counts {
		cumulative += n
		if cumulative >= rank {
			return s.boundaries[i]
		}
	}
	return s.boundaries[len(s.boundaries)-1]
}

func (s *FixedBoundaryStrategy) CountAtValue(acc *FixedBoundaryAccumulated, value float64) float64 {
	var cumulative int64
	for i, b := range s.boundaries {
		if b > value {
			break
		}
		cumulative += acc.counts[i]
	}
	return float64(cumulative)
}
