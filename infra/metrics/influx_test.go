package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/bloodlink/core/metrics"
	"github.com/kilianp07/bloodlink/core/model"
)

type lineServer struct {
	mu     sync.Mutex
	bodies []string
	srv    *httptest.Server
}

func newLineServer(t *testing.T) *lineServer {
	t.Helper()
	ls := &lineServer{}
	ls.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		ls.mu.Lock()
		ls.bodies = append(ls.bodies, strings.TrimSpace(string(data)))
		ls.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(ls.srv.Close)
	return ls
}

func (ls *lineServer) last() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if len(ls.bodies) == 0 {
		return ""
	}
	return ls.bodies[len(ls.bodies)-1]
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordRequestOutcome(t *testing.T) {
	ls := newLineServer(t)
	sink := NewInfluxSink(ls.srv.URL, "token", "org", "bucket")
	created := time.Now().Add(-90 * time.Second)
	closed := created.Add(90 * time.Second)
	o := coremetrics.RequestOutcome{
		RequestID: "r1", BloodType: model.ONeg, Urgency: model.UrgencyCritical,
		Status: model.StatusExpired, Cause: model.CauseNoCandidates,
		Quantity: 2, FulfilledUnits: 1, Waves: 3, Escalations: 1,
		CreatedAt: created, ClosedAt: closed,
	}
	if err := sink.RecordRequestOutcome(o); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("request_outcome").
		AddTag("request_id", "r1").
		AddTag("blood_type", "O-").
		AddTag("urgency", "critical").
		AddTag("status", string(model.StatusExpired)).
		AddTag("cause", string(model.CauseNoCandidates)).
		AddField("quantity", 2).
		AddField("fulfilled_units", 1).
		AddField("waves", 3).
		AddField("escalations", 1).
		AddField("open_seconds", 90.0).
		SetTime(closed)
	if got := ls.last(); got != line(p) {
		t.Errorf("unexpected body: %s", got)
	}
}

func TestInfluxSink_RecordNotificationAndResponse(t *testing.T) {
	ls := newLineServer(t)
	sink := NewInfluxSink(ls.srv.URL+"/api/v2/write", "token", "org", "bucket")
	now := time.Now()
	if err := sink.RecordNotification(coremetrics.NotificationRecord{
		RequestID: "r1", DonorID: "d1", Outcome: "delivered", Latency: 25 * time.Millisecond, Time: now,
	}); err != nil {
		t.Fatalf("notification: %v", err)
	}
	p := write.NewPointWithMeasurement("donor_notification").
		AddTag("request_id", "r1").
		AddTag("donor_id", "d1").
		AddTag("outcome", "delivered").
		AddTag("component", "fanout").
		AddField("latency_ms", 25.0).
		AddField("errors", "").
		SetTime(now)
	if got := ls.last(); got != line(p) {
		t.Errorf("unexpected notification body: %s", got)
	}

	if err := sink.RecordResponse(coremetrics.ResponseRecord{
		RequestID: "r1", DonorID: "d1", Decision: "accept", Result: "accepted", Time: now,
	}); err != nil {
		t.Fatalf("response: %v", err)
	}
	p = write.NewPointWithMeasurement("donor_response").
		AddTag("request_id", "r1").
		AddTag("donor_id", "d1").
		AddTag("decision", "accept").
		AddTag("accepted", "true").
		AddField("result", "accepted").
		SetTime(now)
	if got := ls.last(); got != line(p) {
		t.Errorf("unexpected response body: %s", got)
	}
}

func TestInfluxSink_RecordWaveAndEscalation(t *testing.T) {
	ls := newLineServer(t)
	sink := NewInfluxSink(ls.srv.URL, "token", "org", "bucket")
	now := time.Now()
	if err := sink.RecordWave(coremetrics.WaveRecord{RequestID: "r1", Urgency: model.UrgencyHigh, Seq: 2, Size: 4, RadiusKm: 12.5, Time: now}); err != nil {
		t.Fatalf("wave: %v", err)
	}
	w := write.NewPointWithMeasurement("wave_released").
		AddTag("request_id", "r1").
		AddTag("urgency", "high").
		AddTag("component", "dispatch_manager").
		AddField("seq", 2).
		AddField("size", 4).
		AddField("radius_km", 12.5).
		SetTime(now)
	if got := ls.last(); got != line(w) {
		t.Errorf("unexpected wave body: %s", got)
	}
	if err := sink.RecordEscalation(coremetrics.EscalationRecord{RequestID: "r1", Round: 1, RadiusKm: 20, Time: now}); err != nil {
		t.Fatalf("escalation: %v", err)
	}
	p := write.NewPointWithMeasurement("dispatch_escalation").
		AddTag("request_id", "r1").
		AddField("round", 1).
		AddField("radius_km", 20.0).
		SetTime(now)
	if got := ls.last(); got != line(p) {
		t.Errorf("unexpected escalation body: %s", got)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
