package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/bloodlink/core/metrics"
	"github.com/kilianp07/bloodlink/core/model"
)

func TestPromSink_RecordRequestOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	now := time.Now()
	if err := sink.RecordRequestOutcome(coremetrics.RequestOutcome{
		BloodType: model.ONeg, Status: model.StatusFulfilled,
		CreatedAt: now.Add(-time.Minute), ClosedAt: now,
	}); err != nil {
		t.Fatalf("record error: %v", err)
	}

	expected := `
# HELP request_outcomes_total Terminal request outcomes by blood type and status
# TYPE request_outcomes_total counter
request_outcomes_total{blood_type="O-",status="fulfilled"} 1
`
	if err := testutil.CollectAndCompare(sink.outcomes, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if c := testutil.CollectAndCount(sink.duration); c == 0 {
		t.Errorf("duration not recorded")
	}

	if err := sink.RecordNotification(coremetrics.NotificationRecord{Outcome: "delivered", Latency: 20 * time.Millisecond}); err != nil {
		t.Fatalf("notification error: %v", err)
	}
	if c := testutil.CollectAndCount(sink.latency); c != 1 {
		t.Errorf("latency series = %d", c)
	}

	if err := sink.RecordDonorPool(42); err != nil {
		t.Fatalf("pool size error: %v", err)
	}
	expectedPool := `
# HELP donor_pool_size Number of donors currently indexed
# TYPE donor_pool_size gauge
donor_pool_size 42
`
	if err := testutil.CollectAndCompare(sink.pool, strings.NewReader(expectedPool)); err != nil {
		t.Errorf("unexpected pool metric: %v", err)
	}
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if a.outcomes != b.outcomes || a.pool != b.pool {
		t.Fatalf("collectors not shared")
	}
}
