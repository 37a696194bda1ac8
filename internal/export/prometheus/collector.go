package prometheus

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/histwin/internal/distribution"
	"github.com/xtxerr/histwin/internal/errors"
	"github.com/xtxerr/histwin/internal/export"
	"github.com/xtxerr/histwin/internal/logging"
	"github.com/xtxerr/histwin/internal/meter"
)

type metricsSource interface {
	Meters() []meter.Meter
}

// Collector snapshots every meter of its source on each scrape.
type Collector struct {
	source    metricsSource
	namespace string
	log       *slog.Logger
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector over source. Metric names are prefixed
// with namespace when it is non-empty.
func NewCollector(source metricsSource, namespace string) (*Collector, error) {
	if source == nil {
		return nil, errors.ErrNilSource
	}
	return &Collector{
		source:    source,
		namespace: export.SanitizeName(namespace),
		log:       logging.Component("export.prometheus"),
	}, nil
}

// Describe sends nothing: meters come and go at runtime, which makes this an
// unchecked collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.source.Meters() {
		c.collectMeter(ch, m)
	}
}

func (c *Collector) collectMeter(ch chan<- prometheus.Metric, m meter.Meter) {
	id := m.ID()
	scale := m.Scale()
	snap := m.TakeSnapshot()

	name := prometheus.BuildFQName(c.namespace, "", export.WithUnit(export.SanitizeName(id.Name), id.BaseUnit))
	labels := constLabels(id.Tags)

	if snap.HasHistogram() {
		// Bucket counts cover the decaying window while _count and _sum are
		// lifetime totals, so the implied +Inf bucket can sit far above the
		// last finite bucket once older observations decay. Queries should
		// use rate() on _count and _sum and read the finite buckets as a
		// windowed distribution, not subtract them from _count.
		desc := prometheus.NewDesc(name, id.Description, nil, labels)
		buckets := make(map[float64]uint64, len(snap.Histogram))
		for _, b := range snap.Histogram {
			buckets[b.Bucket/scale] = uint64(b.Count)
		}
		c.send(ch, m, desc, func() (prometheus.Metric, error) {
			return prometheus.NewConstHistogram(desc, uint64(snap.Count), snap.Total/scale, buckets)
		})

		if snap.HasPercentiles() {
			c.collectPercentileGauge(ch, m, name, id, labels, snap, scale)
		}
	} else {
		desc := prometheus.NewDesc(name, id.Description, nil, labels)
		quantiles := make(map[float64]float64, len(snap.Percentiles))
		for _, p := range snap.Percentiles {
			quantiles[p.Percentile] = p.Value / scale
		}
		c.send(ch, m, desc, func() (prometheus.Metric, error) {
			return prometheus.NewConstSummary(desc, uint64(snap.Count), snap.Total/scale, quantiles)
		})
	}

	maxDesc := prometheus.NewDesc(name+"_max", "Maximum observation within the distribution window.", nil, labels)
	c.send(ch, m, maxDesc, func() (prometheus.Metric, error) {
		return prometheus.NewConstMetric(maxDesc, prometheus.GaugeValue, snap.Max/scale)
	})

	droppedDesc := prometheus.NewDesc(name+"_out_of_range_total", "Observations rejected by histogram buckets as out of range.", nil, labels)
	c.send(ch, m, droppedDesc, func() (prometheus.Metric, error) {
		return prometheus.NewConstMetric(droppedDesc, prometheus.CounterValue, float64(m.Dropped()))
	})
}

func (c *Collector) collectPercentileGauge(ch chan<- prometheus.Metric, m meter.Meter, name string, id meter.ID, labels prometheus.Labels, snap distribution.Snapshot, scale float64) {
	desc := prometheus.NewDesc(name+"_percentile", id.Description, []string{"quantile"}, labels)
	for _, p := range snap.Percentiles {
		quantile := strconv.FormatFloat(p.Percentile, 'f', -1, 64)
		value := p.Value / scale
		c.send(ch, m, desc, func() (prometheus.Metric, error) {
			return prometheus.NewConstMetric(desc, prometheus.GaugeValue, value, quantile)
		})
	}
}

func (c *Collector) send(ch chan<- prometheus.Metric, m meter.Meter, desc *prometheus.Desc, build func() (prometheus.Metric, error)) {
	metric, err := build()
	if err != nil {
		c.log.Warn("skipping invalid metric", "meter", m.ID().Name, "error", err)
		ch <- prometheus.NewInvalidMetric(desc, err)
		return
	}
	ch <- metric
}

func constLabels(tags map[string]string) prometheus.Labels {
	if len(tags) == 0 {
		return nil
	}
	labels := make(prometheus.Labels, len(tags))
	for _, k := range export.SortedKeys(tags) {
		labels[export.SanitizeName(k)] = tags[k]
	}
	return labels
}

// NewRegistry returns a registry holding c plus the Go runtime and process
// collectors.
func NewRegistry(c *Collector) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	for _, col := range []prometheus.Collector{
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(col); err != nil {
			return nil, errors.Wrap(err, "register collector")
		}
	}
	return registry, nil
}

// Handler serves the registry in the Prometheus exposition format. Broken
// metrics are skipped rather than failing the whole scrape.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
		ErrorLog:      slog.NewLogLogger(logging.Component("promhttp").Handler(), slog.LevelError),
	})
}
