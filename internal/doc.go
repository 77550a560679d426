// Package internal groups the packages that are private to authcore.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - clock: injectable time source with a fake for tests
//   - flows: pure-function orchestrators for every Engine operation
//   - metrics: lock-free counters and latency histograms
//   - rate: sliding-window limiter over memory or Redis, plus the per-IP throttle
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API except through aliases.
//   - Be imported by any package outside the authcore module.
package internal
