package distribution

import (
	"math"
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/benbjohnson/clock"

	"github.com/xtxerr/histwin/internal/errors"
)

// hdrHighestTrackable caps the HDR range when the configured maximum is
// unbounded. Values are stored as int64.
const hdrHighestTrackable = int64(1) << 53

// HDRBucket is one ring slice backed by an HdrHistogram.
type HDRBucket struct {
	mu sync.Mutex
	h  *hdrhistogram.Histogram
}

// HDRAccumulated is the merged view of an HDR ring.
type HDRAccumulated struct {
	h    *hdrhistogram.Histogram
	bars []hdrhistogram.Bar // non-empty bars, built on first CountAtValue
}

// HDRStrategy records into HdrHistograms with a fixed trackable range.
// Observations above the range, and negative ones, are rejected.
type HDRStrategy struct {
	lowest  int64
	highest int64
	sigFigs int
}

// NewHDRStrategy derives the trackable range and precision from cfg.
func NewHDRStrategy(cfg Config) *HDRStrategy {
	lowest := int64(1)
	if cfg.MinimumExpectedValue > 1 && cfg.MinimumExpectedValue < float64(hdrHighestTrackable) {
		lowest = int64(math.Floor(cfg.MinimumExpectedValue))
	}

	highest := hdrHighestTrackable
	if cfg.MaximumExpectedValue < float64(hdrHighestTrackable) {
		highest = int64(math.Ceil(cfg.MaximumExpectedValue))
	}
	if highest < 2*lowest {
		highest = 2 * lowest
	}

	sigFigs := cfg.PercentilePrecision
	if sigFigs < 1 {
		sigFigs = 1
	}
	if sigFigs > 5 {
		sigFigs = 5
	}

	return &HDRStrategy{lowest: lowest, highest: highest, sigFigs: sigFigs}
}

// NewHDR builds a time-window histogram on HdrHistogram buckets.
func NewHDR(clk clock.Clock, cfg Config, supportsAggregablePercentiles bool, opts ...Option) (*TimeWindowHistogram[*HDRBucket, *HDRAccumulated], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New[*HDRBucket, *HDRAccumulated](clk, cfg, NewHDRStrategy(cfg), supportsAggregablePercentiles, opts...)
}

func (s *HDRStrategy) newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(s.lowest, s.highest, s.sigFigs)
}

func (s *HDRStrategy) NewBucket() *HDRBucket {
	return &HDRBucket{h: s.newHistogram()}
}

func (s *HDRStrategy) ResetBucket(b *HDRBucket) {
	b.mu.Lock()
	b.h.Reset()
	b.mu.Unlock()
}

func (s *HDRStrategy) RecordLong(b *HDRBucket, v int64) error {
	if v < 0 || v > s.highest {
		return errors.ErrValueOutOfRange
	}
	b.mu.Lock()
	err := b.h.RecordValue(v)
	b.mu.Unlock()
	if err != nil {
		return errors.ErrValueOutOfRange
	}
	return nil
}

func (s *HDRStrategy) RecordDouble(b *HDRBucket, v float64) error {
	if math.IsNaN(v) || v < 0 || v > float64(s.highest) {
		return errors.ErrValueOutOfRange
	}
	return s.RecordLong(b, int64(math.Round(v)))
}

func (s *HDRStrategy) NewAccumulated() *HDRAccumulated {
	return &HDRAccumulated{h: s.newHistogram()}
}

func (s *HDRStrategy) Accumulate(acc *HDRAccumulated, oldest *HDRBucket) {
	oldest.mu.Lock()
	acc.h.Merge(oldest.h)
	oldest.mu.Unlock()
	acc.bars = nil
}

func (s *HDRStrategy) ResetAccumulated(acc *HDRAccumulated) {
	acc.h.Reset()
	acc.bars = nil
}

func (s *HDRStrategy) ValueAtPercentile(acc *HDRAccumulated, percentile float64) float64 {
	if acc.h.TotalCount() == 0 {
		return 0
	}
	return float64(acc.h.ValueAtQuantile(percentile))
}

// CountAtValue counts every HDR bar starting at or below value, so an
// observation equivalent to value is included.
func (s *HDRStrategy) CountAtValue(acc *HDRAccumulated, value float64) float64 {
	if acc.h.TotalCount() == 0 {
		return 0
	}
	if acc.bars == nil {
		acc.bars = make([]hdrhistogram.Bar, 0, 64)
		for _, bar := range acc.h.Distribution() {
			if bar.Count > 0 {
				acc.bars = append(acc.bars, bar)
			}
		}
	}

	var count int64
	for _, bar := range acc.bars {
		if float64(bar.From) > value {
			break
		}
		count += bar.Count
	}
	return float64(count)
}
