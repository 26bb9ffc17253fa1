// Package metrics defines the Prometheus collectors exported on /metrics:
// enqueue, rejection and finalization counters, stage retries and durations,
// persistence alerts, and gauges sampling lane depth and slot usage.
package metrics
