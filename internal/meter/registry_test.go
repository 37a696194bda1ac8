package meter

import (
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/histwin/internal/config"
	"github.com/xtxerr/histwin/internal/distribution"
	"github.com/xtxerr/histwin/internal/errors"
)

func TestRegistryGetOrCreate(t *testing.T) {
	reg, _ := newTestRegistry(t)

	a, err := reg.Timer("db.query")
	require.NoError(t, err)
	b, err := reg.Timer("db.query", WithDescription("ignored"))
	require.NoError(t, err)
	require.Same(t, a, b)
	require.Equal(t, 1, reg.Len())

	_, err = reg.Summary("db.query")
	require.ErrorIs(t, err, errors.ErrAlreadyExists)
}

func TestRegistryRequiresName(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Summary("")
	require.ErrorIs(t, err, errors.ErrMissingField)
}

func TestRegistryRejectsInvalidDistribution(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Summary("broken", WithDistribution(distribution.Config{Percentiles: []float64{2}}))
	require.Error(t, err)
	require.True(t, errors.IsValidation(err))
	require.Contains(t, err.Error(), `meter "broken"`)
	require.Equal(t, 0, reg.Len())
}

func TestRegistryRejectsUnknownStrategy(t *testing.T) {
	reg := NewRegistry(clock.NewMock(), distribution.Default())
	_, err := reg.Summary("x", WithStrategy("tdigest"))
	require.ErrorIs(t, err, errors.ErrUnknownStrategy)
}

func TestRegister(t *testing.T) {
	reg, _ := newTestRegistry(t)

	m, err := reg.Register(config.MeterConfig{
		Name:        "http.server.requests",
		Kind:        config.KindTimer,
		Strategy:    config.StrategySketch,
		Description: "request latency",
		Tags:        map[string]string{"service": "api"},
	})
	require.NoError(t, err)
	require.Equal(t, config.KindTimer, m.Kind())
	require.Equal(t, config.StrategySketch, m.Strategy())
	require.Equal(t, "request latency", m.ID().Description)

	id := m.ID()
	id.Tags["service"] = "changed"
	require.Equal(t, "api", m.ID().Tags["service"], "ID returns a copy of the tags")

	m, err = reg.Register(config.MeterConfig{Name: "payload", Kind: config.KindSummary})
	require.NoError(t, err)
	require.Equal(t, config.StrategyHDR, m.Strategy())

	_, err = reg.Register(config.MeterConfig{Name: "gauge", Kind: "gauge"})
	require.ErrorIs(t, err, errors.ErrUnknownKind)
}

func TestRegisterAllJoinsErrors(t *testing.T) {
	reg, _ := newTestRegistry(t)

	err := reg.RegisterAll([]config.MeterConfig{
		{Name: "ok", Kind: config.KindSummary},
		{Name: "bad-kind", Kind: "counter"},
		{Name: "bad-strategy", Kind: config.KindTimer, Strategy: "tdigest"},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, errors.ErrUnknownKind)
	require.ErrorIs(t, err, errors.ErrUnknownStrategy)
	require.True(t, errors.IsValidation(err))

	_, err = reg.Get("ok")
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())
}

func TestRegistryListGetRemove(t *testing.T) {
	reg, _ := newTestRegistry(t)
	for _, name := range []string{"c", "a", "b"} {
		_, err := reg.Summary(name)
		require.NoError(t, err)
	}

	var names []string
	for _, m := range reg.Meters() {
		names = append(names, m.ID().Name)
	}
	require.Equal(t, []string{"a", "b", "c"}, names)

	require.NoError(t, reg.Remove("b"))
	_, err := reg.Get("b")
	require.ErrorIs(t, err, errors.ErrNotFound)
	require.ErrorIs(t, reg.Remove("b"), errors.ErrNotFound)
	require.Equal(t, 2, reg.Len())
}

func TestRegistryDefaultsAreCopied(t *testing.T) {
	defaults := distribution.Default()
	defaults.Percentiles = []float64{0.5}
	reg := NewRegistry(clock.NewMock(), defaults)

	defaults.Percentiles[0] = 0.9
	require.Equal(t, []float64{0.5}, reg.Defaults().Percentiles)
}

func TestRegistryConcurrentCreate(t *testing.T) {
	reg, _ := newTestRegistry(t)

	var (
		mu     sync.Mutex
		timers = make(map[*Timer]struct{})
	)

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			tm, err := reg.Timer("shared")
			if err != nil {
				return err
			}
			tm.Record(1)
			mu.Lock()
			timers[tm] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, timers, 1)

	m, err := reg.Get("shared")
	require.NoError(t, err)
	require.Equal(t, int64(16), m.TakeSnapshot().Count)
}
