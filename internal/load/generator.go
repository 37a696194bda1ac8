// Package load drives registered meters with synthetic observations so the
// daemon has something to export without an instrumented application.
package load

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/histwin/internal/config"
	"github.com/xtxerr/histwin/internal/logging"
	"github.com/xtxerr/histwin/internal/meter"
)

type metricsSource interface {
	Meters() []meter.Meter
}

// Generator records log-normally distributed observations into every meter
// of its source from a fixed number of workers.
type Generator struct {
	cfg    config.LoadConfig
	clock  clock.Clock
	source metricsSource
	log    *slog.Logger

	observations atomic.Uint64
}

// New creates a generator. A nil clock means the wall clock.
func New(clk clock.Clock, cfg config.LoadConfig, source metricsSource) *Generator {
	if clk == nil {
		clk = clock.New()
	}
	return &Generator{
		cfg:    cfg,
		clock:  clk,
		source: source,
		log:    logging.Component("load"),
	}
}

// Observations returns the number of values recorded so far.
func (g *Generator) Observations() uint64 {
	return g.observations.Load()
}

// Run starts the workers and blocks until ctx is done.
func (g *Generator) Run(ctx context.Context) error {
	g.log.Info("load generator started",
		"workers", g.cfg.Workers,
		"interval", g.cfg.Interval,
		"median", g.cfg.Median,
		"sigma", g.cfg.Sigma)

	eg, ctx := errgroup.WithContext(ctx)
	seed := uint64(g.clock.Now().UnixNano())
	for w := 0; w < g.cfg.Workers; w++ {
		rng := rand.New(rand.NewPCG(seed, uint64(w)))
		eg.Go(func() error {
			return g.work(ctx, rng)
		})
	}

	err := eg.Wait()
	g.log.Info("load generator stopped", "observations", g.Observations())
	return err
}

func (g *Generator) work(ctx context.Context, rng *rand.Rand) error {
	ticker := g.clock.Ticker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.observe(rng)
		}
	}
}

// observe records one value into every meter.
func (g *Generator) observe(rng *rand.Rand) {
	for _, m := range g.source.Meters() {
		v := g.sample(rng)
		switch m := m.(type) {
		case *meter.Timer:
			m.Record(time.Duration(v * float64(time.Millisecond)))
		case *meter.Summary:
			m.Record(v)
		default:
			continue
		}
		g.observations.Add(1)
	}
}

// sample draws from a log-normal distribution with the configured median.
func (g *Generator) sample(rng *rand.Rand) float64 {
	return g.cfg.Median * math.Exp(g.cfg.Sigma*rng.NormFloat64())
}
