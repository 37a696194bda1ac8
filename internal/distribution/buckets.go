package distribution

import (
	"math"
	"sort"
)

// BoundarySource yields histogram boundaries for the expected value range.
// The result need not be sorted or unique.
type BoundarySource func(minimum, maximum float64) []float64

// percentileBuckets spans the int64 range with roughly three boundaries per
// power of four: 1, 2, 3, then for every even exponent e the values from 2^e
// up to 4*2^e stepping by 2^e/3.
var percentileBuckets = func() []float64 {
	const digits = 2

	out := []float64{1, 2, 3}
	for exp := digits; exp < 64; exp += digits {
		current := int64(1) << exp
		delta := current / 3
		next := (current << digits) - delta
		if next <= 0 {
			// 2^62 << 2 overflows; the last band runs to MaxInt64.
			next = math.MaxInt64
		}
		for current < next {
			out = append(out, float64(current))
			if current > math.MaxInt64-delta {
				break
			}
			current += delta
		}
	}
	out = append(out, float64(math.MaxInt64))

	sort.Float64s(out)
	uniq := out[:1]
	for _, v := range out[1:] {
		if v != uniq[len(uniq)-1] {
			uniq = append(uniq, v)
		}
	}
	return uniq
}()

// PercentileHistogramBuckets returns the fixed percentile-histogram
// boundaries within [minimum, maximum]. The set is identical across processes
// so counts at these boundaries can be summed and re-quantiled elsewhere.
func PercentileHistogramBuckets(minimum, maximum float64) []float64 {
	lo := sort.SearchFloat64s(percentileBuckets, minimum)
	hi := sort.Search(len(percentileBuckets), func(i int) bool {
		return percentileBuckets[i] > maximum
	})
	if lo >= hi {
		return nil
	}
	out := make([]float64, hi-lo)
	copy(out, percentileBuckets[lo:hi])
	return out
}
