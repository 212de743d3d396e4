// Package metrics defines and registers the fabric subscriber's
// Prometheus metrics: dispatch throughput, queue depth, snapshot phase
// timing, restart counts, and EPM EOF barrier duration. Handler()
// exposes them over HTTP for scraping; pkg/api mounts it at /metrics.
package metrics
