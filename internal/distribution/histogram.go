package distribution

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xtxerr/histwin/internal/errors"
	"github.com/xtxerr/histwin/internal/logging"
)

// Strategy is the bucket primitive a TimeWindowHistogram is built on.
// T is one time slice of the ring, U the merged view read by snapshots.
//
// Record methods are called concurrently from many goroutines without any
// engine lock and must be safe for that. A non-nil error means the value
// was not recorded in that bucket; the engine drops it and moves on.
// The remaining methods are called under the engine mutex.
type Strategy[T, U any] interface {
	NewBucket() T
	ResetBucket(b T)
	RecordLong(b T, v int64) error
	RecordDouble(b T, v float64) error

	NewAccumulated() U
	// Accumulate merges oldest, the bucket holding the whole window, into acc.
	Accumulate(acc U, oldest T)
	ResetAccumulated(acc U)

	// ValueAtPercentile takes a percentile in 0-100.
	ValueAtPercentile(acc U, percentile float64) float64
	// CountAtValue is the cumulative count of observations <= value.
	CountAtValue(acc U, value float64) float64
}

// Histogram is what meters need from a time-window histogram, independent of
// the bucket primitive.
type Histogram interface {
	RecordLong(v int64)
	RecordDouble(v float64)
	TakeSnapshot(count int64, total, max float64) Snapshot
}

// Option customizes a TimeWindowHistogram.
type Option func(*options)

type options struct {
	boundaries BoundarySource
	logger     *slog.Logger
}

// WithBoundarySource replaces the percentile-histogram boundary generator.
func WithBoundarySource(src BoundarySource) Option {
	return func(o *options) {
		o.boundaries = src
	}
}

// WithLogger sets the logger used for rotation diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func resolveOptions(opts []Option) options {
	o := options{boundaries: PercentileHistogramBuckets}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Component("distribution")
	}
	return o
}

// rotation states
const (
	rotationIdle int32 = iota
	rotationActive
)

// TimeWindowHistogram is a ring of BufferLength buckets decaying over Expiry.
type TimeWindowHistogram[T, U any] struct {
	clock    clock.Clock
	cfg      Config
	strategy Strategy[T, U]
	log      *slog.Logger

	percentiles    []float64
	boundaries     []float64
	bucketDuration int64 // nanoseconds

	ring []T

	rotating            atomic.Int32
	lastRotateTimestamp atomic.Int64 // unix nanoseconds

	// mu guards currentBucket and the accumulated view.
	mu            sync.Mutex
	currentBucket int
	accumulated   U
	stale         atomic.Bool

	dropped       atomic.Uint64
	failureLogged atomic.Bool
}

var _ Histogram = (*TimeWindowHistogram[*struct{}, *struct{}])(nil)

// New validates cfg and builds the ring.
//
// supportsAggregablePercentiles selects whether the percentile-derived
// boundary set is added to the SLO boundaries for bucket counts.
func New[T, U any](clk clock.Clock, cfg Config, strategy Strategy[T, U], supportsAggregablePercentiles bool, opts ...Option) (*TimeWindowHistogram[T, U], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, errors.NewMissingField("strategy")
	}
	if clk == nil {
		clk = clock.New()
	}

	o := resolveOptions(opts)

	cfg = cfg.Copy()
	h := &TimeWindowHistogram[T, U]{
		clock:          clk,
		cfg:            cfg,
		strategy:       strategy,
		log:            o.logger,
		percentiles:    cfg.Percentiles,
		bucketDuration: int64(cfg.BucketDuration()),
	}
	if cfg.IsPublishingHistogram() {
		h.boundaries = cfg.histogramBuckets(supportsAggregablePercentiles, o.boundaries)
	}

	h.initRingBuffer()
	return h, nil
}

func (h *TimeWindowHistogram[T, U]) initRingBuffer() {
	h.ring = make([]T, h.cfg.BufferLength)
	for i := range h.ring {
		h.ring[i] = h.strategy.NewBucket()
	}
	h.accumulated = h.strategy.NewAccumulated()
	h.stale.Store(true)
	h.lastRotateTimestamp.Store(h.clock.Now().UnixNano())
}

// Config returns a copy of the validated configuration.
func (h *TimeWindowHistogram[T, U]) Config() Config {
	return h.cfg.Copy()
}

// Boundaries returns the boundaries bucket counts are reported at.
func (h *TimeWindowHistogram[T, U]) Boundaries() []float64 {
	return cloneFloats(h.boundaries)
}

// Dropped is the number of per-bucket records the primitive rejected,
// usually because the value was outside its trackable range.
func (h *TimeWindowHistogram[T, U]) Dropped() uint64 {
	return h.dropped.Load()
}

// RecordLong records v into every bucket of the ring.
func (h *TimeWindowHistogram[T, U]) RecordLong(v int64) {
	h.rotate()
	for _, b := range h.ring {
		if err := h.strategy.RecordLong(b, v); err != nil {
			h.drop(err)
		}
	}
	h.stale.Store(true)
}

// RecordDouble records v into every bucket of the ring.
func (h *TimeWindowHistogram[T, U]) RecordDouble(v float64) {
	h.rotate()
	for _, b := range h.ring {
		if err := h.strategy.RecordDouble(b, v); err != nil {
			h.drop(err)
		}
	}
	h.stale.Store(true)
}

// drop counts a record the primitive rejected. Anything other than an
// out-of-range rejection points at a broken primitive and is logged once.
func (h *TimeWindowHistogram[T, U]) drop(err error) {
	h.dropped.Add(1)
	if !errors.IsOutOfRange(err) && h.failureLogged.CompareAndSwap(false, true) {
		h.log.Warn("bucket rejected observation", "error", err)
	}
}

// TakeSnapshot returns the distribution over the trailing window.
// count, total and max are maintained by the caller and copied verbatim.
func (h *TimeWindowHistogram[T, U]) TakeSnapshot(count int64, total, max float64) Snapshot {
	h.rotate()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.accumulateIfStale()

	return Snapshot{
		Count:       count,
		Total:       total,
		Max:         max,
		Percentiles: h.takeValueSnapshot(),
		Histogram:   h.takeCountSnapshot(),
	}
}

// accumulateIfStale must be called with mu held.
func (h *TimeWindowHistogram[T, U]) accumulateIfStale() {
	if !h.stale.Load() {
		return
	}
	// Clear before merging so a write racing this merge re-marks the view.
	h.stale.Store(false)
	merged := false
	defer func() {
		if !merged {
			h.stale.Store(true)
		}
	}()

	h.strategy.ResetAccumulated(h.accumulated)
	h.strategy.Accumulate(h.accumulated, h.ring[h.currentBucket])
	merged = true
}

func (h *TimeWindowHistogram[T, U]) takeValueSnapshot() []ValueAtPercentile {
	if len(h.percentiles) == 0 {
		return nil
	}
	out := make([]ValueAtPercentile, len(h.percentiles))
	for i, q := range h.percentiles {
		out[i] = ValueAtPercentile{
			Percentile: q,
			Value:      h.strategy.ValueAtPercentile(h.accumulated, q*100),
		}
	}
	return out
}

func (h *TimeWindowHistogram[T, U]) takeCountSnapshot() []CountAtBucket {
	if !h.cfg.IsPublishingHistogram() || len(h.boundaries) == 0 {
		return nil
	}
	out := make([]CountAtBucket, len(h.boundaries))
	for i, b := range h.boundaries {
		out[i] = CountAtBucket{
			Bucket: b,
			Count:  h.strategy.CountAtValue(h.accumulated, b),
		}
	}
	return out
}

// rotate retires every bucket whose time slice has fully elapsed.
// Only one goroutine rotates at a time; the others skip and leave the work
// to the winner or to a later call.
func (h *TimeWindowHistogram[T, U]) rotate() {
	now := h.clock.Now().UnixNano()
	elapsed := now - h.lastRotateTimestamp.Load()
	if elapsed < h.bucketDuration {
		return
	}

	if !h.rotating.CompareAndSwap(rotationIdle, rotationActive) {
		return
	}
	defer h.rotating.Store(rotationIdle)

	h.mu.Lock()
	defer h.mu.Unlock()

	// Re-read under the claim: a rotation that finished between the load
	// above and the CAS may already have advanced the timestamp.
	last := h.lastRotateTimestamp.Load()
	elapsed = now - last
	if elapsed < h.bucketDuration {
		return
	}

	iterations := 0
	for elapsed >= h.bucketDuration && iterations < len(h.ring) {
		h.strategy.ResetBucket(h.ring[h.currentBucket])
		h.currentBucket++
		if h.currentBucket >= len(h.ring) {
			h.currentBucket = 0
		}
		elapsed -= h.bucketDuration
		last += h.bucketDuration
		iterations++
	}

	if elapsed >= h.bucketDuration {
		// Idle for at least a full window: every bucket was reset once.
		// Realign so the next call does not clear the ring again.
		last = now - elapsed%h.bucketDuration
		h.log.Debug("ring fully decayed", "idle", time.Duration(elapsed+int64(iterations)*h.bucketDuration))
	}
	h.lastRotateTimestamp.Store(last)

	h.strategy.ResetAccumulated(h.accumulated)
	h.stale.Store(true)
}
