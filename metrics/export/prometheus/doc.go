// Package prometheus renders authcore metrics in Prometheus text exposition
// format.
//
// [NewPrometheusExporter] reads [authcore.Engine.MetricsSnapshot] on every
// scrape. Counters are named authcore_*_total; the login, refresh and
// validate latency histograms are authcore_*_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
