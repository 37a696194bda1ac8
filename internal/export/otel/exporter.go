package otel

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xtxerr/histwin/internal/errors"
	"github.com/xtxerr/histwin/internal/export"
	"github.com/xtxerr/histwin/internal/meter"
)

type metricsSource interface {
	Meters() []meter.Meter
}

// Instrument name suffixes, joined to the namespace with a dot.
const (
	countSuffix      = "distribution.count"
	totalSuffix      = "distribution.total"
	maxSuffix        = "distribution.max"
	percentileSuffix = "distribution.percentile"
	bucketSuffix     = "distribution.bucket"
	droppedSuffix    = "distribution.out_of_range"
)

// Exporter observes every meter of its source on each collection.
type Exporter struct {
	source       metricsSource
	registration metric.Registration

	count      metric.Int64ObservableCounter
	total      metric.Float64ObservableCounter
	max        metric.Float64ObservableGauge
	percentile metric.Float64ObservableGauge
	bucket     metric.Float64ObservableGauge
	dropped    metric.Int64ObservableCounter
}

// NewExporter creates the instruments on m and registers the callback.
func NewExporter(m metric.Meter, source metricsSource, namespace string) (*Exporter, error) {
	if m == nil {
		return nil, errors.ErrNilMeter
	}
	if source == nil {
		return nil, errors.ErrNilSource
	}

	name := func(suffix string) string {
		if namespace == "" {
			return suffix
		}
		return namespace + "." + suffix
	}

	e := &Exporter{source: source}

	var err error
	if e.count, err = m.Int64ObservableCounter(name(countSuffix),
		metric.WithDescription("Observations recorded since the meter was created.")); err != nil {
		return nil, fmt.Errorf("create observable counter %s: %w", name(countSuffix), err)
	}
	if e.total, err = m.Float64ObservableCounter(name(totalSuffix),
		metric.WithDescription("Sum of observations in the meter's base unit.")); err != nil {
		return nil, fmt.Errorf("create observable counter %s: %w", name(totalSuffix), err)
	}
	if e.max, err = m.Float64ObservableGauge(name(maxSuffix),
		metric.WithDescription("Maximum observation within the distribution window.")); err != nil {
		return nil, fmt.Errorf("create observable gauge %s: %w", name(maxSuffix), err)
	}
	if e.percentile, err = m.Float64ObservableGauge(name(percentileSuffix),
		metric.WithDescription("Approximate percentile over the distribution window.")); err != nil {
		return nil, fmt.Errorf("create observable gauge %s: %w", name(percentileSuffix), err)
	}
	if e.bucket, err = m.Float64ObservableGauge(name(bucketSuffix),
		metric.WithDescription("Cumulative count of observations at or below le within the distribution window.")); err != nil {
		return nil, fmt.Errorf("create observable gauge %s: %w", name(bucketSuffix), err)
	}
	if e.dropped, err = m.Int64ObservableCounter(name(droppedSuffix),
		metric.WithDescription("Observations rejected by histogram buckets as out of range.")); err != nil {
		return nil, fmt.Errorf("create observable counter %s: %w", name(droppedSuffix), err)
	}

	registration, err := m.RegisterCallback(e.observe,
		e.count, e.total, e.max, e.percentile, e.bucket, e.dropped)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	for _, m := range e.source.Meters() {
		id := m.ID()
		scale := m.Scale()
		snap := m.TakeSnapshot()

		attrs := meterAttributes(id)
		set := metric.WithAttributes(attrs...)

		o.ObserveInt64(e.count, snap.Count, set)
		o.ObserveFloat64(e.total, snap.Total/scale, set)
		o.ObserveFloat64(e.max, snap.Max/scale, set)
		o.ObserveInt64(e.dropped, int64(m.Dropped()), set)

		for _, p := range snap.Percentiles {
			o.ObserveFloat64(e.percentile, p.Value/scale, metric.WithAttributes(
				append(attrs, attribute.String("quantile", strconv.FormatFloat(p.Percentile, 'f', -1, 64)))...))
		}
		for _, b := range snap.Histogram {
			o.ObserveFloat64(e.bucket, b.Count, metric.WithAttributes(
				append(attrs, attribute.String("le", strconv.FormatFloat(b.Bucket/scale, 'f', -1, 64)))...))
		}
	}
	return nil
}

func meterAttributes(id meter.ID) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(id.Tags)+2)
	attrs = append(attrs, attribute.String("meter", id.Name))
	if id.BaseUnit != "" {
		attrs = append(attrs, attribute.String("unit", id.BaseUnit))
	}
	for _, k := range export.SortedKeys(id.Tags) {
		attrs = append(attrs, attribute.String(k, id.Tags[k]))
	}
	return attrs
}

// Close unregisters the callback. Instruments stay registered on the meter
// but report nothing afterwards.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
