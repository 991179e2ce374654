package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/bloodlink/core/engagement"
	"github.com/kilianp07/bloodlink/core/factory"
	coremetrics "github.com/kilianp07/bloodlink/core/metrics"
	"github.com/kilianp07/bloodlink/infra/kpi"
)

// init registers built-in metrics sinks.
func init() {
	_ = coremetrics.RegisterMetricsSink("nop", func(map[string]any) (coremetrics.MetricsSink, error) {
		return coremetrics.NopSink{}, nil
	})

	_ = coremetrics.RegisterMetricsSink("prometheus", func(map[string]any) (coremetrics.MetricsSink, error) {
		return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
	})

	_ = coremetrics.RegisterMetricsSink("influx", func(conf map[string]any) (coremetrics.MetricsSink, error) {
		var c struct {
			URL    string `json:"url"`
			Token  string `json:"token"`
			Org    string `json:"org"`
			Bucket string `json:"bucket"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewInfluxSinkWithFallback(c.URL, c.Token, c.Org, c.Bucket), nil
	})

	_ = coremetrics.RegisterMetricsSink("engagement", func(conf map[string]any) (coremetrics.MetricsSink, error) {
		var c struct {
			Path string `json:"path"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		var store engagement.Store = engagement.NewMemoryStore()
		if c.Path != "" {
			s, err := kpi.NewSQLiteStore(c.Path)
			if err != nil {
				return nil, err
			}
			store = s
		}
		return NewEngagementSink(store, prometheus.DefaultRegisterer)
	})
}
