// Package distribution records observations into bounded-memory, time-decaying
// distributions and produces approximate percentile and bucket-count
// snapshots over a trailing window.
//
// # Ring
//
// A TimeWindowHistogram owns BufferLength bucket primitives. Every write is
// applied to every bucket, so a bucket holds all observations made since it
// was last reset. Every Expiry/BufferLength the oldest bucket is reset and the
// cursor advances; the bucket under the cursor therefore always holds the
// whole trailing window and is what snapshots read.
//
// # Concurrency
//
// Writers never take the engine lock. Rotation is claimed with a single
// compare-and-swap and skipped by everyone who loses the race. The ring reset
// and the snapshot merge share one mutex. Bucket primitives must accept
// concurrent records on their own.
//
// # Primitives
//
// The engine is generic over a Strategy. Three are provided:
//
//	NewHDR            HdrHistogram buckets, fixed trackable range
//	NewSketch         DDSketch buckets, relative-accuracy quantiles
//	NewFixedBoundary  atomic counters at configured boundaries (aggregable)
//
// Usage:
//
//	cfg := distribution.Default()
//	cfg.Percentiles = []float64{0.5, 0.99}
//	h, err := distribution.NewHDR(clock.New(), cfg, false)
//	if err != nil {
//		return err
//	}
//	h.RecordLong(1200)
//	snap := h.TakeSnapshot(count, total, max)
package distribution
