// Package otel bridges meter snapshots to OpenTelemetry observable
// instruments.
//
// One set of instruments covers every meter; each observation carries a
// "meter" attribute plus the meter's tags. Percentiles are observed on a
// gauge with a "quantile" attribute and bucket counts on a gauge with an
// "le" attribute. A single callback takes one snapshot per meter per
// collection.
package otel
