// Package plugins holds the named building blocks the service selects from
// configuration: alert transports, escalation sinks and donor sources.
package plugins

import (
	"context"
	"fmt"
	"sort"

	"github.com/kilianp07/bloodlink/config"
	"github.com/kilianp07/bloodlink/core/dispatch"
	"github.com/kilianp07/bloodlink/core/fanout"
	"github.com/kilianp07/bloodlink/core/registry"
	"github.com/kilianp07/bloodlink/infra/logger"
	"github.com/kilianp07/bloodlink/infra/mqtt"
)

// Env carries the shared clients a plugin may bind to. MQTT is nil when no
// broker is configured.
type Env struct {
	Config *config.Config
	MQTT   *mqtt.PahoClient
	Log    logger.Logger
}

// TransportFactory builds the alert transport used by the fanout.
type TransportFactory func(env Env) (fanout.Transport, error)

// EscalationFactory builds a sink notified when a request widens its search.
type EscalationFactory func(env Env) (dispatch.EscalationSink, error)

// SourceFactory builds a donor source. The returned release func may be nil.
type SourceFactory func(ctx context.Context, env Env) (registry.Source, func(), error)

var (
	Transports  = map[string]TransportFactory{}
	Escalations = map[string]EscalationFactory{}
	Sources     = map[string]SourceFactory{}
)

func RegisterTransport(name string, f TransportFactory)   { Transports[name] = f }
func RegisterEscalation(name string, f EscalationFactory) { Escalations[name] = f }
func RegisterSource(name string, f SourceFactory)         { Sources[name] = f }

func lookup[F any](kind string, m map[string]F, name string) (F, error) {
	f, ok := m[name]
	if !ok {
		var zero F
		names := make([]string, 0, len(m))
		for n := range m {
			names = append(names, n)
		}
		sort.Strings(names)
		return zero, fmt.Errorf("unknown %s %q (known: %v)", kind, name, names)
	}
	return f, nil
}

// Transport builds the named transport.
func Transport(name string, env Env) (fanout.Transport, error) {
	f, err := lookup("transport", Transports, name)
	if err != nil {
		return nil, err
	}
	return f(env)
}

// Escalation builds every named sink and combines them.
func Escalation(names []string, env Env) (dispatch.EscalationSink, error) {
	var sinks dispatch.MultiEscalation
	for _, n := range names {
		f, err := lookup("escalation sink", Escalations, n)
		if err != nil {
			return nil, err
		}
		s, err := f(env)
		if err != nil {
			return nil, fmt.Errorf("escalation sink %s: %w", n, err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

// Source builds the named donor source.
func Source(ctx context.Context, name string, env Env) (registry.Source, func(), error) {
	f, err := lookup("donor source", Sources, name)
	if err != nil {
		return nil, nil, err
	}
	return f(ctx, env)
}
