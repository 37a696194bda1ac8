// Package meter provides the caller-facing recording types built on the
// distribution engine.
//
// A Timer records durations in nanoseconds, a Summary records arbitrary
// non-negative amounts. Both keep a lifetime count and total, a decaying
// maximum over the distribution window and, when percentiles or bucket
// counts are configured, a time-window histogram. The Registry creates
// meters by name and lists them for exporters.
package meter

import (
	"maps"
	"math"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/xtxerr/histwin/internal/config"
	"github.com/xtxerr/histwin/internal/distribution"
	"github.com/xtxerr/histwin/internal/errors"
)

// ID identifies a meter and carries its export metadata.
type ID struct {
	Name        string
	Description string
	BaseUnit    string
	Tags        map[string]string
}

// Meter is the read side shared by timers and summaries.
type Meter interface {
	ID() ID
	Kind() string
	Strategy() string

	// Scale divides recorded values into BaseUnit, e.g. 1e9 for timers
	// recording nanoseconds and exporting seconds.
	Scale() float64

	TakeSnapshot() distribution.Snapshot

	// Dropped counts per-bucket rejections of out-of-range observations.
	Dropped() uint64
}

// core is the state common to every meter kind.
type core struct {
	id       ID
	strategy string
	clock    clock.Clock

	histogram distribution.Histogram
	max       *distribution.TimeWindowMax

	count atomic.Int64
	total atomic.Uint64 // float64 bits
}

func newCore(clk clock.Clock, id ID, strategy string, cfg distribution.Config, opts []distribution.Option) (*core, error) {
	if clk == nil {
		clk = clock.New()
	}

	windowMax, err := distribution.NewTimeWindowMax(clk, cfg)
	if err != nil {
		return nil, err
	}

	histogram, err := newHistogram(clk, strategy, cfg, opts)
	if err != nil {
		return nil, err
	}

	id.Tags = maps.Clone(id.Tags)
	return &core{
		id:        id,
		strategy:  strategy,
		clock:     clk,
		histogram: histogram,
		max:       windowMax,
	}, nil
}

// newHistogram picks the bucket primitive for strategy. A meter publishing
// neither percentiles nor bucket counts gets a no-op histogram.
func newHistogram(clk clock.Clock, strategy string, cfg distribution.Config, opts []distribution.Option) (distribution.Histogram, error) {
	switch strategy {
	case config.StrategyHDR, config.StrategySketch, config.StrategyFixed:
	default:
		return nil, errors.Wrapf(errors.ErrUnknownStrategy, "strategy %q", strategy)
	}

	if !cfg.IsPublishingPercentiles() && !cfg.IsPublishingHistogram() {
		return noopHistogram{}, nil
	}

	switch strategy {
	case config.StrategyHDR:
		h, err := distribution.NewHDR(clk, cfg, false, opts...)
		if err != nil {
			return nil, err
		}
		return h, nil
	case config.StrategySketch:
		h, err := distribution.NewSketch(clk, cfg, false, opts...)
		if err != nil {
			return nil, err
		}
		return h, nil
	default: // fixed
		h, err := distribution.NewFixedBoundary(clk, cfg, opts...)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

func (c *core) ID() ID {
	id := c.id
	id.Tags = maps.Clone(c.id.Tags)
	return id
}

func (c *core) Strategy() string {
	return c.strategy
}

func (c *core) recordLong(v int64) {
	c.count.Add(1)
	addFloat(&c.total, float64(v))
	c.max.Record(float64(v))
	c.histogram.RecordLong(v)
}

func (c *core) recordDouble(v float64) {
	c.count.Add(1)
	addFloat(&c.total, v)
	c.max.Record(v)
	c.histogram.RecordDouble(v)
}

// Count is the number of observations since the meter was created.
func (c *core) Count() int64 {
	return c.count.Load()
}

// Total is the sum of observations since the meter was created.
func (c *core) Total() float64 {
	return math.Float64frombits(c.total.Load())
}

// Max is the largest observation within the distribution window.
func (c *core) Max() float64 {
	return c.max.Poll()
}

func (c *core) TakeSnapshot() distribution.Snapshot {
	return c.histogram.TakeSnapshot(c.Count(), c.Total(), c.Max())
}

func (c *core) Dropped() uint64 {
	if d, ok := c.histogram.(interface{ Dropped() uint64 }); ok {
		return d.Dropped()
	}
	return 0
}

func addFloat(dst *atomic.Uint64, v float64) {
	for {
		prev := dst.Load()
		next := math.Float64bits(math.Float64frombits(prev) + v)
		if dst.CompareAndSwap(prev, next) {
			return
		}
	}
}

// noopHistogram keeps only count, total and max.
type noopHistogram struct{}

func (noopHistogram) RecordLong(int64)     {}
func (noopHistogram) RecordDouble(float64) {}

func (noopHistogram) TakeSnapshot(count int64, total, max float64) distribution.Snapshot {
	return distribution.Snapshot{Count: count, Total: total, Max: max}
}
