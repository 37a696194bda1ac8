package distribution

import (
	"bytes"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/histwin/internal/errors"
)

// countingStrategy is a bucket primitive that only counts. Percentile
// lookups echo the requested percentile and count lookups return the
// accumulated count, so tests can see exactly what the engine asked for.
type countingStrategy struct {
	limit         int64 // values above are rejected
	failWith      error // returned by every record when set
	panicOnReset  atomic.Bool
	panicOnMerge  atomic.Bool
	accumulations atomic.Int64
	bucketResets  atomic.Int64
}

type countingBucket struct {
	count atomic.Int64
}

type countingAccumulated struct {
	count int64
}

func (s *countingStrategy) NewBucket() *countingBucket { return &countingBucket{} }

func (s *countingStrategy) ResetBucket(b *countingBucket) {
	if s.panicOnReset.Load() {
		panic("reset failed")
	}
	s.bucketResets.Add(1)
	b.count.Store(0)
}

func (s *countingStrategy) RecordLong(b *countingBucket, v int64) error {
	if s.failWith != nil {
		return s.failWith
	}
	if s.limit > 0 && v > s.limit {
		return errors.ErrValueOutOfRange
	}
	b.count.Add(1)
	return nil
}

func (s *countingStrategy) RecordDouble(b *countingBucket, v float64) error {
	return s.RecordLong(b, int64(v))
}

func (s *countingStrategy) NewAccumulated() *countingAccumulated { return &countingAccumulated{} }

func (s *countingStrategy) Accumulate(acc *countingAccumulated, oldest *countingBucket) {
	if s.panicOnMerge.Load() {
		panic("merge failed")
	}
	s.accumulations.Add(1)
	acc.count += oldest.count.Load()
}

func (s *countingStrategy) ResetAccumulated(acc *countingAccumulated) { acc.count = 0 }

func (s *countingStrategy) ValueAtPercentile(_ *countingAccumulated, percentile float64) float64 {
	return percentile
}

func (s *countingStrategy) CountAtValue(acc *countingAccumulated, _ float64) float64 {
	return float64(acc.count)
}

func testConfig(bufferLength int, expiry time.Duration) Config {
	cfg := Default()
	cfg.BufferLength = bufferLength
	cfg.Expiry = expiry
	return cfg
}

func newCounting(t *testing.T, clk clock.Clock, cfg Config) (*TimeWindowHistogram[*countingBucket, *countingAccumulated], *countingStrategy) {
	t.Helper()
	s := &countingStrategy{}
	h, err := New[*countingBucket, *countingAccumulated](clk, cfg, s, false)
	require.NoError(t, err)
	return h, s
}

func ringCounts(h *TimeWindowHistogram[*countingBucket, *countingAccumulated]) []int64 {
	out := make([]int64, len(h.ring))
	for i, b := range h.ring {
		out[i] = b.count.Load()
	}
	return out
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(0, time.Minute)
	_, err := New[*countingBucket, *countingAccumulated](clock.NewMock(), cfg, &countingStrategy{}, false)
	require.Error(t, err)
	require.True(t, errors.IsValidation(err))
	require.Contains(t, err.Error(), "buffer_length")
}

func TestNewCopiesConfig(t *testing.T) {
	cfg := testConfig(3, time.Minute)
	cfg.Percentiles = []float64{0.5}
	h, _ := newCounting(t, clock.NewMock(), cfg)

	cfg.Percentiles[0] = 0.9
	snap := h.TakeSnapshot(0, 0, 0)
	require.Equal(t, 0.5, snap.Percentiles[0].Percentile, "later edits must not leak into the histogram")
}

func TestFanOutRecordsIntoEveryBucket(t *testing.T) {
	h, _ := newCounting(t, clock.NewMock(), testConfig(4, time.Minute))

	for i := 0; i < 25; i++ {
		h.RecordLong(int64(i))
	}
	h.RecordDouble(3.5)

	require.Equal(t, []int64{26, 26, 26, 26}, ringCounts(h))
}

func TestRotateIsIdempotentWithinBucketDuration(t *testing.T) {
	clk := clock.NewMock()
	h, s := newCounting(t, clk, testConfig(3, 300*time.Millisecond))

	h.RecordLong(1)
	clk.Add(99 * time.Millisecond)
	for i := 0; i < 10; i++ {
		h.rotate()
	}

	require.Equal(t, 0, h.currentBucket)
	require.Equal(t, int64(0), s.bucketResets.Load())
	require.Equal(t, []int64{1, 1, 1}, ringCounts(h))

	clk.Add(time.Millisecond)
	h.rotate()
	h.rotate()
	require.Equal(t, 1, h.currentBucket)
	require.Equal(t, int64(1), s.bucketResets.Load())
	require.Equal(t, []int64{0, 1, 1}, ringCounts(h))
}

func TestDecayCompleteness(t *testing.T) {
	clk := clock.NewMock()
	cfg := testConfig(3, 300*time.Millisecond)
	cfg.ServiceLevelObjectives = []float64{100}
	h, _ := newCounting(t, clk, cfg)

	for i := 0; i < 10; i++ {
		h.RecordLong(5)
	}
	clk.Add(cfg.Expiry)

	snap := h.TakeSnapshot(0, 0, 0)
	require.Equal(t, []int64{0, 0, 0}, ringCounts(h))
	require.Len(t, snap.Histogram, 1)
	require.Equal(t, 0.0, snap.Histogram[0].Count)
}

func TestPartialDecayKeepsLiveObservations(t *testing.T) {
	clk := clock.NewMock()
	cfg := testConfig(3, 300*time.Millisecond)
	cfg.ServiceLevelObjectives = []float64{100}
	h, _ := newCounting(t, clk, cfg)

	h.RecordLong(10)
	clk.Add(50 * time.Millisecond)
	h.RecordLong(20)

	clk.Add(200 * time.Millisecond) // t=250ms, two slices retired
	snap := h.TakeSnapshot(2, 30, 20)
	require.Equal(t, 2, h.currentBucket)
	require.Equal(t, 2.0, snap.Histogram[0].Count)

	clk.Add(100 * time.Millisecond) // t=350ms, whole window retired
	snap = h.TakeSnapshot(2, 30, 20)
	require.Equal(t, 0.0, snap.Histogram[0].Count)
}

func TestWindowScenarioHDR(t *testing.T) {
	clk := clock.NewMock()
	cfg := testConfig(3, 300*time.Millisecond)
	cfg.Percentiles = []float64{0.5}
	cfg.ServiceLevelObjectives = []float64{15, 25}
	h, err := NewHDR(clk, cfg, false)
	require.NoError(t, err)

	h.RecordLong(10)
	clk.Add(50 * time.Millisecond)
	h.RecordLong(20)

	snap := h.TakeSnapshot(2, 30, 20)
	require.Equal(t, 1.0, snap.Histogram[0].Count)
	require.Equal(t, 2.0, snap.Histogram[1].Count)

	clk.Add(300 * time.Millisecond) // t=350ms
	snap = h.TakeSnapshot(2, 30, 20)
	require.Equal(t, int64(2), snap.Count, "caller-supplied fields pass through")
	require.Equal(t, 0.0, snap.Histogram[0].Count)
	require.Equal(t, 0.0, snap.Histogram[1].Count)
	require.Equal(t, 0.0, snap.Percentiles[0].Value)
}

func TestStaleViewIsMergedOnce(t *testing.T) {
	clk := clock.NewMock()
	cfg := testConfig(3, 300*time.Millisecond)
	cfg.Percentiles = []float64{0.5}
	h, s := newCounting(t, clk, cfg)

	h.RecordLong(1)
	h.TakeSnapshot(1, 1, 1)
	h.TakeSnapshot(1, 1, 1)
	require.Equal(t, int64(1), s.accumulations.Load(), "second snapshot must reuse the cached view")

	h.RecordLong(2)
	h.TakeSnapshot(2, 3, 2)
	require.Equal(t, int64(2), s.accumulations.Load(), "a write marks the view stale")

	clk.Add(100 * time.Millisecond)
	h.TakeSnapshot(2, 3, 2)
	require.Equal(t, int64(3), s.accumulations.Load(), "a rotation marks the view stale")

	h.TakeSnapshot(2, 3, 2)
	require.Equal(t, int64(3), s.accumulations.Load())
}

func TestPercentilesKeepConfiguredOrderAndScale(t *testing.T) {
	cfg := testConfig(3, time.Minute)
	cfg.Percentiles = []float64{0.99, 0.5, 0.75}
	h, _ := newCounting(t, clock.NewMock(), cfg)

	snap := h.TakeSnapshot(0, 0, 0)
	require.Len(t, snap.Percentiles, 3)
	for i, q := range cfg.Percentiles {
		require.Equal(t, q, snap.Percentiles[i].Percentile)
		require.InDelta(t, q*100, snap.Percentiles[i].Value, 1e-9)
	}
}

func TestBucketCountsAscending(t *testing.T) {
	cfg := testConfig(3, time.Minute)
	cfg.ServiceLevelObjectives = []float64{500, 10, 250, 10, 1}
	h, _ := newCounting(t, clock.NewMock(), cfg)

	snap := h.TakeSnapshot(0, 0, 0)
	require.Len(t, snap.Histogram, 4)
	for i := 1; i < len(snap.Histogram); i++ {
		require.Less(t, snap.Histogram[i-1].Bucket, snap.Histogram[i].Bucket)
	}
}

func TestNothingConfiguredLeavesArraysAbsent(t *testing.T) {
	h, _ := newCounting(t, clock.NewMock(), testConfig(3, time.Minute))
	for i := 0; i < 100; i++ {
		h.RecordLong(int64(i))
	}

	snap := h.TakeSnapshot(100, 4950, 99)
	require.Nil(t, snap.Percentiles)
	require.Nil(t, snap.Histogram)
	require.False(t, snap.HasPercentiles())
	require.False(t, snap.HasHistogram())
}

func TestAggregableBoundariesNeedSupport(t *testing.T) {
	cfg := testConfig(3, time.Minute)
	cfg.PercentileHistogram = true
	cfg.MinimumExpectedValue = 1
	cfg.MaximumExpectedValue = 100

	plain, _ := New[*countingBucket, *countingAccumulated](clock.NewMock(), cfg, &countingStrategy{}, false)
	require.Nil(t, plain.TakeSnapshot(0, 0, 0).Histogram, "percentile buckets need aggregable support")

	agg, err := New[*countingBucket, *countingAccumulated](clock.NewMock(), cfg, &countingStrategy{}, true)
	require.NoError(t, err)
	want := append(PercentileHistogramBuckets(1, 100), 100)
	require.Equal(t, want, agg.Boundaries())
}

func TestCustomBoundarySource(t *testing.T) {
	cfg := testConfig(3, time.Minute)
	cfg.PercentileHistogram = true
	cfg.MaximumExpectedValue = 1000
	src := func(minimum, maximum float64) []float64 { return []float64{maximum / 2, minimum * 10} }

	h, err := New[*countingBucket, *countingAccumulated](clock.NewMock(), cfg, &countingStrategy{}, true, WithBoundarySource(src))
	require.NoError(t, err)
	require.Equal(t, []float64{1, 10, 500, 1000}, h.Boundaries())
}

func TestOutOfRangeIsSwallowed(t *testing.T) {
	cfg := testConfig(3, time.Minute)
	cfg.ServiceLevelObjectives = []float64{1000}
	s := &countingStrategy{limit: 1000}
	h, err := New[*countingBucket, *countingAccumulated](clock.NewMock(), cfg, s, false)
	require.NoError(t, err)

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 100; i++ {
				h.RecordLong(5)
				h.RecordLong(1 << 40)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	snap := h.TakeSnapshot(1600, 0, 0)
	require.Equal(t, 800.0, snap.Histogram[0].Count)
	require.Equal(t, uint64(800*3), h.Dropped())
}

func TestOutOfRangeStillMarksStale(t *testing.T) {
	s := &countingStrategy{limit: 10}
	cfg := testConfig(3, time.Minute)
	h, err := New[*countingBucket, *countingAccumulated](clock.NewMock(), cfg, s, false)
	require.NoError(t, err)

	h.TakeSnapshot(0, 0, 0)
	require.False(t, h.stale.Load())

	h.RecordLong(11)
	require.True(t, h.stale.Load())
}

func TestUnexpectedRecordErrorIsLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	cfg := testConfig(3, time.Minute)

	s := &countingStrategy{limit: 10}
	h, err := New[*countingBucket, *countingAccumulated](clock.NewMock(), cfg, s, false, WithLogger(logger))
	require.NoError(t, err)
	h.RecordLong(11)
	require.Equal(t, uint64(3), h.Dropped())
	require.Empty(t, buf.String(), "out-of-range drops are expected and not logged")

	s.failWith = stderrors.New("bucket corrupted")
	h.RecordLong(1)
	h.RecordDouble(1)
	require.Equal(t, uint64(9), h.Dropped())
	require.Equal(t, 1, strings.Count(buf.String(), "bucket rejected observation"))
	require.Contains(t, buf.String(), "bucket corrupted")
}

func TestRotationFlagReleasedOnPanic(t *testing.T) {
	clk := clock.NewMock()
	h, s := newCounting(t, clk, testConfig(3, 300*time.Millisecond))

	s.panicOnReset.Store(true)
	clk.Add(100 * time.Millisecond)
	require.Panics(t, func() { h.RecordLong(1) })

	require.Equal(t, rotationIdle, h.rotating.Load())
	require.True(t, h.mu.TryLock(), "mutex must be released")
	h.mu.Unlock()

	s.panicOnReset.Store(false)
	h.RecordLong(1)
	require.Equal(t, 1, h.currentBucket, "rotation resumes after the failure")
}

func TestFailedMergeLeavesViewStale(t *testing.T) {
	cfg := testConfig(3, time.Minute)
	cfg.ServiceLevelObjectives = []float64{100}
	h, s := newCounting(t, clock.NewMock(), cfg)

	for i := 0; i < 5; i++ {
		h.RecordLong(1)
	}

	s.panicOnMerge.Store(true)
	require.Panics(t, func() { h.TakeSnapshot(5, 5, 1) })
	require.True(t, h.stale.Load(), "an interrupted merge must not mark the view fresh")
	require.True(t, h.mu.TryLock(), "mutex must be released")
	h.mu.Unlock()

	s.panicOnMerge.Store(false)
	snap := h.TakeSnapshot(5, 5, 1)
	require.Equal(t, 5.0, snap.Histogram[0].Count)
	require.False(t, h.stale.Load())
}

func TestLongIdleClearsRingOnce(t *testing.T) {
	clk := clock.NewMock()
	h, s := newCounting(t, clk, testConfig(3, 300*time.Millisecond))

	h.RecordLong(1)
	clk.Add(10 * time.Second)
	h.rotate()
	require.Equal(t, int64(3), s.bucketResets.Load(), "each bucket is reset exactly once")

	h.RecordLong(2)
	clk.Add(50 * time.Millisecond)
	h.rotate()
	require.Equal(t, int64(3), s.bucketResets.Load(), "no catch-up rotation after realignment")
	require.Equal(t, []int64{1, 1, 1}, ringCounts(h))
}

func TestConcurrentWritersAndReader(t *testing.T) {
	clk := clock.NewMock()
	cfg := testConfig(3, 300*time.Millisecond)
	cfg.Percentiles = []float64{0.5, 0.99}
	h, err := NewHDR(clk, cfg, false)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		stop atomic.Bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !stop.Load() {
			h.TakeSnapshot(0, 0, 0)
		}
	}()

	var g errgroup.Group
	for w := 0; w < 4; w++ {
		g.Go(func() error {
			for i := 1; i <= 1000; i++ {
				h.RecordLong(int64(i))
				if i%250 == 0 {
					clk.Add(10 * time.Millisecond)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	stop.Store(true)
	wg.Wait()

	require.Equal(t, rotationIdle, h.rotating.Load())
	snap := h.TakeSnapshot(0, 0, 0)
	require.Greater(t, snap.Percentiles[1].Value, snap.Percentiles[0].Value)
}
