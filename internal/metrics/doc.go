// Package metrics holds the engine's counters and latency histograms.
//
// Each MetricID owns one padded atomic slot, so concurrent logins and
// refreshes never contend on a lock. Latency is recorded into eight fixed
// buckets whose upper bounds are 5, 10, 25, 50, 100, 250 and 500 ms, plus
// +Inf. A Metrics value built with Enabled false drops every write.
//
// Snapshot copies the current values for the exporters under
// metrics/export. This package does no I/O and imports nothing from authcore.
package metrics
