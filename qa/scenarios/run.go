package scenarios

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/bloodlink/core/dispatch"
	"github.com/kilianp07/bloodlink/core/donorindex"
	"github.com/kilianp07/bloodlink/core/fanout"
	"github.com/kilianp07/bloodlink/core/model"
	"github.com/kilianp07/bloodlink/core/ranker"
	"github.com/kilianp07/bloodlink/infra/logger"
	"github.com/kilianp07/bloodlink/infra/metrics"
	"github.com/kilianp07/bloodlink/internal/eventbus"
)

func scenarioConfig(sc *Scenario) dispatch.Config {
	wt := sc.WaveTimeout
	if wt <= 0 {
		wt = 100 * time.Millisecond
	}
	cfg := dispatch.Config{
		InitialRadiusKm:     10,
		MaxRadiusKm:         sc.MaxRadiusKm,
		MaxEscalationRounds: 2,
		WaveTimeouts:        dispatch.UrgencyDurations{Critical: wt, High: wt, Normal: wt},
		Deadlines:           dispatch.UrgencyDurations{Critical: 3 * time.Second, High: 3 * time.Second, Normal: 3 * time.Second},
	}
	if cfg.MaxRadiusKm <= 0 {
		cfg.MaxRadiusKm = 40
	}
	return cfg
}

// RunScenario replays sc and checks its expectations.
//
//nolint:gocyclo
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	reg := prometheus.NewRegistry()
	dispatch.ResetMetrics(reg)
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}

	idx := donorindex.New()
	for _, d := range sc.Donors {
		donor, err := d.ToModel()
		if err != nil {
			t.Fatalf("%v", err)
		}
		if err := idx.Upsert(donor); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	var (
		mu      sync.Mutex
		alerted []string
		mgr     *dispatch.Manager
		ready   = make(chan struct{})
	)
	tr := fanout.TransportFunc(func(_ context.Context, to fanout.Recipient, s fanout.Summary) error {
		mu.Lock()
		alerted = append(alerted, to.DonorID)
		mu.Unlock()
		if slices.Contains(sc.FailDonors, to.DonorID) {
			return errors.New("unreachable")
		}
		if dec, ok := sc.Responses[to.DonorID]; ok {
			d, _ := model.ParseDecision(dec)
			go func() {
				<-ready
				_, _ = mgr.Respond(context.Background(), to.DonorID, s.RequestID, d)
			}()
		}
		return nil
	})
	fo := fanout.New(fanout.Config{MaxConcurrent: 8, SendTimeout: time.Second}, tr, nil, logger.NopLogger{})

	bus := eventbus.New()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	metrics.StartEventCollector(ctx, bus, sink)

	mgr, err = dispatch.NewManager(scenarioConfig(sc), idx, ranker.New(ranker.Config{}), fo, dispatch.LogEscalation{}, logger.NopLogger{})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer func() { _ = mgr.Close() }()
	mgr.SetMetricsSink(sink)
	mgr.SetEventBus(bus)
	close(ready)

	id, err := mgr.SubmitRequest(context.Background(), sc.Request.ToSubmission())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	var st dispatch.Status
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err = mgr.Status(id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scenario %s: request stuck in %s", sc.Name, st.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	exp := sc.Expected
	if string(st.Status) != exp.Status {
		t.Errorf("scenario %s: status %s, want %s", sc.Name, st.Status, exp.Status)
	}
	if exp.Cause != "" && string(st.Cause) != exp.Cause {
		t.Errorf("scenario %s: cause %s, want %s", sc.Name, st.Cause, exp.Cause)
	}
	if st.FulfilledUnits != exp.FulfilledUnits {
		t.Errorf("scenario %s: %d units, want %d", sc.Name, st.FulfilledUnits, exp.FulfilledUnits)
	}
	if exp.Waves > 0 && st.Waves != exp.Waves {
		t.Errorf("scenario %s: %d waves, want %d", sc.Name, st.Waves, exp.Waves)
	}
	mu.Lock()
	got := slices.Clone(alerted)
	mu.Unlock()
	for _, d := range exp.Alerted {
		if !slices.Contains(got, d) {
			t.Errorf("scenario %s: %s was not alerted (alerted %v)", sc.Name, d, got)
		}
	}
	for _, d := range exp.NotAlerted {
		if slices.Contains(got, d) {
			t.Errorf("scenario %s: %s should not be alerted", sc.Name, d)
		}
	}
	until := time.Now().Add(time.Second)
	for {
		n, err := testutil.GatherAndCount(reg, "request_outcomes_total")
		if err == nil && n == 1 {
			break
		}
		if time.Now().After(until) {
			t.Errorf("scenario %s: outcome series %d, want 1 (%v)", sc.Name, n, err)
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
}
