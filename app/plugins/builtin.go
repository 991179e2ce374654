package plugins

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/bloodlink/core/dispatch"
	"github.com/kilianp07/bloodlink/core/fanout"
	"github.com/kilianp07/bloodlink/core/registry"
	"github.com/kilianp07/bloodlink/infra/logger"
	"github.com/kilianp07/bloodlink/infra/mqtt"
	"github.com/kilianp07/bloodlink/infra/postgres"
)

var errNoBroker = errors.New("mqtt broker not configured")

func init() {
	RegisterTransport("mqtt", func(env Env) (fanout.Transport, error) {
		if env.MQTT == nil {
			return nil, errNoBroker
		}
		return mqtt.AlertTransport{Client: env.MQTT, ReceiptTimeout: env.Config.Fanout.ReceiptTimeout}, nil
	})
	RegisterTransport("log", func(env Env) (fanout.Transport, error) {
		return fanout.LogTransport{Log: logger.New("alerts")}, nil
	})

	RegisterEscalation("log", func(env Env) (dispatch.EscalationSink, error) {
		return dispatch.LogEscalation{Log: logger.New("escalation")}, nil
	})
	RegisterEscalation("mqtt", func(env Env) (dispatch.EscalationSink, error) {
		if env.MQTT == nil {
			return nil, errNoBroker
		}
		return mqtt.BroadcastEscalation{Pub: env.MQTT, Topic: env.Config.MQTT.EscalationTopic}, nil
	})

	RegisterSource("static", func(_ context.Context, env Env) (registry.Source, func(), error) {
		return registry.StaticSource{Donors: env.Config.Registry.Donors}, nil, nil
	})
	RegisterSource("file", func(_ context.Context, env Env) (registry.Source, func(), error) {
		return registry.FileSource{Path: env.Config.Registry.Path}, nil, nil
	})
	RegisterSource("postgres", func(ctx context.Context, env Env) (registry.Source, func(), error) {
		src, err := postgres.Open(ctx, env.Config.Registry.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if env.Config.Registry.Migrate {
			if err := src.Migrate(ctx); err != nil {
				src.Close()
				return nil, nil, fmt.Errorf("postgres migrate: %w", err)
			}
		}
		return src, src.Close, nil
	})
}
