package distribution

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// ValueAtPercentile is one quantile of a snapshot.
type ValueAtPercentile struct {
	Percentile float64 // 0.0-1.0
	Value      float64
}

// CountAtBucket is the cumulative count of observations <= Bucket.
type CountAtBucket struct {
	Bucket float64
	Count  float64
}

// Snapshot is an immutable view of a histogram at one point in time.
//
// Percentiles is nil when no percentiles are configured and Histogram is nil
// when no bucket counts are published; an empty non-nil slice never occurs.
type Snapshot struct {
	Count int64
	Total float64
	Max   float64

	Percentiles []ValueAtPercentile
	Histogram   []CountAtBucket
}

// Mean is Total/Count, or 0 for an empty snapshot.
func (s Snapshot) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Total / float64(s.Count)
}

// HasPercentiles returns true if percentile values were requested.
func (s Snapshot) HasPercentiles() bool {
	return s.Percentiles != nil
}

// HasHistogram returns true if bucket counts were computed.
func (s Snapshot) HasHistogram() bool {
	return s.Histogram != nil
}

// WriteSummary renders the snapshot as tables. Values and buckets are
// divided by scale, e.g. 1e6 to print nanosecond timers in milliseconds.
func (s Snapshot) WriteSummary(w io.Writer, scale float64) {
	if scale == 0 {
		scale = 1
	}

	fmt.Fprintf(w, "count=%d total=%s max=%s mean=%s\n",
		s.Count, formatFloat(s.Total/scale), formatFloat(s.Max/scale), formatFloat(s.Mean()/scale))

	if len(s.Percentiles) > 0 {
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Percentile", "Value"})
		table.SetAlignment(tablewriter.ALIGN_RIGHT)
		for _, p := range s.Percentiles {
			table.Append([]string{
				formatFloat(p.Percentile*100) + "%",
				formatFloat(p.Value / scale),
			})
		}
		table.Render()
	}

	if len(s.Histogram) > 0 {
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Bucket", "TotalCount"})
		table.SetAlignment(tablewriter.ALIGN_RIGHT)
		for _, b := range s.Histogram {
			table.Append([]string{
				formatFloat(b.Bucket / scale),
				strconv.FormatInt(int64(b.Count), 10),
			})
		}
		table.Render()
	}
}

// String returns the unscaled summary.
func (s Snapshot) String() string {
	var b strings.Builder
	s.WriteSummary(&b, 1)
	return b.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
