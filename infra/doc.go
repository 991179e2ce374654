// Package infra groups the adapters that connect the matching engine to the
// outside world: the MQTT donor channel, metrics exporters, the Postgres donor
// registry, the Redis status mirror, the engagement KPI store and Sentry.
// Adapters implement interfaces declared under core and never the reverse.
package infra
