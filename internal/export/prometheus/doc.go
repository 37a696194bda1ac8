// Package prometheus exposes meter snapshots through a prometheus.Collector.
//
// Meters with bucket counts are exported as histograms, meters with only
// percentiles as summaries. Percentiles of a histogram meter are exported as
// a separate "_percentile" gauge with a quantile label. Every meter also gets
// a "_max" gauge holding the decaying window maximum and an
// "_out_of_range_total" counter of per-bucket rejections.
package prometheus
