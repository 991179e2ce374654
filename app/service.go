package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/bloodlink/api"
	"github.com/kilianp07/bloodlink/app/plugins"
	"github.com/kilianp07/bloodlink/config"
	"github.com/kilianp07/bloodlink/core/audit"
	"github.com/kilianp07/bloodlink/core/dispatch"
	"github.com/kilianp07/bloodlink/core/donorindex"
	"github.com/kilianp07/bloodlink/core/engagement"
	"github.com/kilianp07/bloodlink/core/factory"
	"github.com/kilianp07/bloodlink/core/fanout"
	coremetrics "github.com/kilianp07/bloodlink/core/metrics"
	"github.com/kilianp07/bloodlink/core/model"
	coremon "github.com/kilianp07/bloodlink/core/monitoring"
	"github.com/kilianp07/bloodlink/core/ranker"
	"github.com/kilianp07/bloodlink/core/registry"
	"github.com/kilianp07/bloodlink/infra/logger"
	"github.com/kilianp07/bloodlink/infra/metrics"
	"github.com/kilianp07/bloodlink/infra/monitoring"
	"github.com/kilianp07/bloodlink/infra/mqtt"
	"github.com/kilianp07/bloodlink/infra/redisstore"
	"github.com/kilianp07/bloodlink/internal/eventbus"
)

// Service wires the donor index, the dispatch manager and their adapters.
type Service struct {
	Manager *dispatch.Manager
	Index   *donorindex.Index

	cfg       *config.Config
	sync      *registry.Sync
	watcher   registry.Watcher
	responses *mqtt.ResponseListener
	client    *mqtt.PahoClient
	sink      coremetrics.MetricsSink
	bus       *eventbus.Bus
	handler   http.Handler
	closers   []func() error
	log       logger.Logger
}

// New builds a Service from the configuration. Connections to the broker,
// the donor database and Redis are opened here.
func New(ctx context.Context, cfg *config.Config) (svc *Service, err error) {
	cfg.Logging.Apply()
	s := &Service{cfg: cfg, log: logger.New("service"), bus: eventbus.New(eventbus.WithBuffer(256)), Index: donorindex.New()}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	sink, eng, err := buildSinks(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sinks: %w", err)
	}
	s.sink = sink
	if c, ok := eng.(io.Closer); ok {
		s.closers = append(s.closers, c.Close)
	}

	if cfg.MQTT.Broker != "" {
		client, err := mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		s.client = client
		s.closers = append(s.closers, func() error { client.Disconnect(); return nil })
	}
	env := plugins.Env{Config: cfg, MQTT: s.client, Log: s.log}

	src, release, err := plugins.Source(ctx, cfg.Registry.Source, env)
	if err != nil {
		return nil, err
	}
	if release != nil {
		s.closers = append(s.closers, func() error { release(); return nil })
	}
	s.sync = registry.NewSync(s.Index, src, sink, logger.New("registry"))
	if cfg.Registry.WatchMQTT {
		s.watcher = mqtt.NewAvailabilityWatcher(s.client, cfg.MQTT.AvailabilityTopic, prometheus.DefaultRegisterer, logger.New("availability"))
	}

	tr, err := plugins.Transport(cfg.Fanout.Transport, env)
	if err != nil {
		return nil, err
	}
	esc, err := plugins.Escalation(cfg.Escalations, env)
	if err != nil {
		return nil, err
	}
	fo := fanout.New(cfg.Fanout.Core(), tr, s.staleDonor, logger.New("fanout"))

	m, err := dispatch.NewManager(cfg.Engine, s.Index, ranker.New(cfg.Ranker), fo, esc, logger.New("dispatch"))
	if err != nil {
		return nil, fmt.Errorf("dispatch manager: %w", err)
	}
	s.Manager = m
	m.SetMetricsSink(sink)
	m.SetEventBus(s.bus)

	store, err := audit.Open(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	// The manager closes its audit store.
	m.SetAuditStore(store)

	if cfg.Redis.URL != "" {
		mirror, err := redisstore.NewStatusMirror(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.closers = append(s.closers, mirror.Close)
		m.SetStatusMirror(mirror)
	}

	if s.client != nil {
		s.responses = mqtt.NewResponseListener(s.client, s.client, cfg.MQTT.ResponseTopic, m, logger.New("responses"))
	}

	s.handler = api.NewRouter(cfg.API, api.Deps{Manager: m, Audit: store, Donors: s.Index, Engagement: eng})
	return s, nil
}

// buildSinks creates each configured sink and returns the engagement store
// of the first engagement sink, if any.
func buildSinks(cfgs []factory.ModuleConfig) (coremetrics.MetricsSink, engagement.Store, error) {
	var (
		sinks []coremetrics.MetricsSink
		eng   engagement.Store
	)
	for _, c := range cfgs {
		sink, err := coremetrics.NewMetricsSink([]factory.ModuleConfig{c})
		if err != nil {
			return nil, nil, err
		}
		if es, ok := sink.(interface{ Store() engagement.Store }); ok && eng == nil {
			eng = es.Store()
		}
		sinks = append(sinks, sink)
	}
	switch len(sinks) {
	case 0:
		return coremetrics.NopSink{}, eng, nil
	case 1:
		return sinks[0], eng, nil
	default:
		return coremetrics.NewMultiSink(sinks...), eng, nil
	}
}

// staleDonor reports donors that left the index or became unavailable
// after a wave was ranked.
func (s *Service) staleDonor(id string) bool {
	d, ok := s.Index.Get(id)
	return !ok || d.Availability == model.Unavailable
}

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler { return s.handler }

// Run starts the background loops and the HTTP listeners, then blocks until
// ctx is canceled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	metrics.StartEventCollector(ctx, s.bus, s.sink)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sync.Run(ctx, s.watcher, s.cfg.Registry.Refresh) })
	if s.responses != nil {
		g.Go(func() error { return s.responses.Run(ctx) })
	}
	if s.cfg.API.Addr != "" {
		g.Go(func() error { return s.serveAPI(ctx) })
	}
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		g.Go(func() error { return metrics.StartPromServer(ctx, addr) })
	}
	g.Go(func() error { s.pruneLoop(ctx); return nil })
	return g.Wait()
}

func (s *Service) serveAPI(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.API.Addr, Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api shutdown: %v", err)
		}
	}()
	s.log.Infof("api listening on %s", s.cfg.API.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// pruneLoop forgets terminal requests older than the retention window.
func (s *Service) pruneLoop(ctx context.Context) {
	retention := s.Manager.Config().Retention
	every := retention / 4
	if every > time.Hour {
		every = time.Hour
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.Manager.Prune(now.Add(-retention))
		}
	}
}

// Close stops the manager, then releases every other resource in reverse
// order of acquisition.
func (s *Service) Close() error {
	var errs []error
	if s.Manager != nil {
		if err := s.Manager.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	s.bus.Close()
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
