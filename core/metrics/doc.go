// Package metrics defines the sink interfaces used to observe the dispatch
// engine. A MetricsSink records request outcomes; optional recorder
// interfaces cover waves, notifications, responses, escalations and the donor
// pool size. Sinks are built from configuration through a factory registry
// and combined with NewMultiSink when several are configured.
package metrics
