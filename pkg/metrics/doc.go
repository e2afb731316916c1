// Package metrics defines the Prometheus instrumentation for the runtime:
// bus throughput, poll outcomes, circuit state, pipeline and delivery
// latency, and HTTP surface counters. Metrics are served on the control
// listener at /metrics.
package metrics
