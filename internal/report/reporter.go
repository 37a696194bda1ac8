// Package report periodically writes snapshot tables for every meter.
package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/xtxerr/histwin/internal/config"
	"github.com/xtxerr/histwin/internal/logging"
	"github.com/xtxerr/histwin/internal/meter"
)

type metricsSource interface {
	Meters() []meter.Meter
}

// Reporter renders meter snapshots as text tables. Timers are printed in
// milliseconds, summaries in their base unit.
type Reporter struct {
	source   metricsSource
	clock    clock.Clock
	interval time.Duration
	log      *slog.Logger

	mu sync.Mutex // serializes writes to w
	w  io.Writer
}

// New creates a reporter writing to w. A nil clock means the wall clock.
func New(clk clock.Clock, source metricsSource, w io.Writer, interval time.Duration) *Reporter {
	if clk == nil {
		clk = clock.New()
	}
	return &Reporter{
		source:   source,
		clock:    clk,
		interval: interval,
		log:      logging.Component("report"),
		w:        w,
	}
}

// Report writes one table block per meter.
func (r *Reporter) Report() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.source.Meters() {
		id := m.ID()
		snap := m.TakeSnapshot()

		scale, unit := m.Scale(), id.BaseUnit
		if m.Kind() == config.KindTimer {
			scale, unit = float64(time.Millisecond), "ms"
		}

		fmt.Fprintf(r.w, "== %s (%s, %s", id.Name, m.Kind(), m.Strategy())
		if unit != "" {
			fmt.Fprintf(r.w, ", %s", unit)
		}
		fmt.Fprintln(r.w, ")")
		snap.WriteSummary(r.w, scale)
	}
}

// Run reports every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	r.log.Debug("summary reporter started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Report()
		}
	}
}
