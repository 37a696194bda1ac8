package meter

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/histwin/internal/config"
	"github.com/xtxerr/histwin/internal/distribution"
	"github.com/xtxerr/histwin/internal/errors"
	"github.com/xtxerr/histwin/internal/logging"
)

// Registry creates meters by name and lists them for exporters.
//
// Registry is safe for concurrent use. Asking for an existing name with the
// same kind returns the existing meter; options are ignored in that case.
type Registry struct {
	clock    clock.Clock
	defaults distribution.Config
	log      *slog.Logger

	mu     sync.RWMutex
	meters map[string]Meter

	group singleflight.Group
}

// NewRegistry creates a registry whose meters inherit defaults.
// A nil clock means the wall clock.
func NewRegistry(clk clock.Clock, defaults distribution.Config) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		clock:    clk,
		defaults: defaults.Copy(),
		log:      logging.Component("registry"),
		meters:   make(map[string]Meter),
	}
}

// Timer returns the timer registered under name, creating it if needed.
func (r *Registry) Timer(name string, opts ...Option) (*Timer, error) {
	m, err := r.getOrCreate(name, config.KindTimer, opts, func(c *core) Meter {
		return &Timer{core: c}
	})
	if err != nil {
		return nil, err
	}
	return m.(*Timer), nil
}

// Summary returns the summary registered under name, creating it if needed.
func (r *Registry) Summary(name string, opts ...Option) (*Summary, error) {
	m, err := r.getOrCreate(name, config.KindSummary, opts, func(c *core) Meter {
		return &Summary{core: c}
	})
	if err != nil {
		return nil, err
	}
	return m.(*Summary), nil
}

// Register creates the meter described by a config entry.
func (r *Registry) Register(mc config.MeterConfig) (Meter, error) {
	opts := []Option{
		WithDescription(mc.Description),
		WithBaseUnit(mc.BaseUnit),
		WithTags(mc.Tags),
		WithStrategy(mc.StrategyOrDefault()),
		WithDistribution(mc.Distribution),
	}

	switch mc.Kind {
	case config.KindTimer:
		return r.Timer(mc.Name, opts...)
	case config.KindSummary:
		return r.Summary(mc.Name, opts...)
	default:
		return nil, errors.Wrapf(errors.ErrUnknownKind, "meter %q kind %q", mc.Name, mc.Kind)
	}
}

// RegisterAll registers every entry and returns all failures joined.
func (r *Registry) RegisterAll(meters []config.MeterConfig) error {
	errs := errors.NewValidationErrors()
	for _, mc := range meters {
		if _, err := r.Register(mc); err != nil {
			errs.Add(err)
		}
	}
	if errs.HasErrors() {
		r.log.Warn("meter registration failed",
			"failed", len(errs.Errors),
			"requested", len(meters))
	}
	return errs.Err()
}

func (r *Registry) getOrCreate(name, kind string, opts []Option, wrap func(*core) Meter) (Meter, error) {
	if name == "" {
		return nil, errors.NewMissingField("name")
	}

	r.mu.RLock()
	existing, ok := r.meters[name]
	r.mu.RUnlock()
	if ok {
		return sameKind(existing, name, kind)
	}

	// Concurrent creators of one name share a single construction.
	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		return r.create(name, kind, opts, wrap)
	})
	if err != nil {
		return nil, err
	}
	return sameKind(v.(Meter), name, kind)
}

func (r *Registry) create(name, kind string, opts []Option, wrap func(*core) Meter) (Meter, error) {
	o := meterOptions{strategy: config.StrategyHDR}
	for _, opt := range opts {
		opt(&o)
	}

	id := ID{
		Name:        name,
		Description: o.description,
		BaseUnit:    o.baseUnit,
		Tags:        o.tags,
	}
	if kind == config.KindTimer {
		id.BaseUnit = "seconds"
	}

	cfg := o.overrides.Merge(r.defaults)
	histOpts := append([]distribution.Option{
		distribution.WithLogger(logging.Meter("distribution", name)),
	}, o.histogram...)

	c, err := newCore(r.clock, id, o.strategy, cfg, histOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "meter %q", name)
	}
	m := wrap(c)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.meters[name]; ok {
		return existing, nil
	}
	r.meters[name] = m

	r.log.Info("meter registered",
		"meter", name,
		"kind", kind,
		"strategy", o.strategy,
		"percentiles", len(cfg.Percentiles),
		"publishing_histogram", cfg.IsPublishingHistogram())

	return m, nil
}

func sameKind(m Meter, name, kind string) (Meter, error) {
	if m.Kind() != kind {
		return nil, errors.NewAlreadyExists(m.Kind(), name)
	}
	return m, nil
}

// Get returns the meter registered under name.
func (r *Registry) Get(name string) (Meter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.meters[name]
	if !ok {
		return nil, errors.NewNotFound("meter", name)
	}
	return m, nil
}

// Remove unregisters the meter. Exporters stop reporting it on their next
// collection.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.meters[name]; !ok {
		return errors.NewNotFound("meter", name)
	}
	delete(r.meters, name)

	r.log.Info("meter removed", "meter", name)
	return nil
}

// Meters returns all meters sorted by name.
func (r *Registry) Meters() []Meter {
	r.mu.RLock()
	out := make([]Meter, 0, len(r.meters))
	for _, m := range r.meters {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ID().Name < out[j].ID().Name
	})
	return out
}

// Len returns the number of registered meters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.meters)
}

// Defaults returns a copy of the distribution defaults.
func (r *Registry) Defaults() distribution.Config {
	return r.defaults.Copy()
}
