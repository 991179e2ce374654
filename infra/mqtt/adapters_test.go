package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/bloodlink/core/arbiter"
	"github.com/kilianp07/bloodlink/core/dispatch"
	"github.com/kilianp07/bloodlink/core/fanout"
	"github.com/kilianp07/bloodlink/core/model"
	coremqtt "github.com/kilianp07/bloodlink/core/mqtt"
	"github.com/kilianp07/bloodlink/core/registry"
)

type fakeClient struct {
	sendErr error
	receipt bool
	waitErr error
	sent    []string
	timeout time.Duration
}

func (f *fakeClient) SendAlert(donorID string, _ any) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, donorID)
	return "n-" + donorID, nil
}

func (f *fakeClient) WaitForReceipt(_ string, timeout time.Duration) (bool, error) {
	f.timeout = timeout
	return f.receipt, f.waitErr
}

func TestAlertTransport(t *testing.T) {
	to := fanout.Recipient{DonorID: "d1"}

	fc := &fakeClient{receipt: true}
	tr := AlertTransport{Client: fc, ReceiptTimeout: time.Second}
	require.NoError(t, tr.Send(context.Background(), to, fanout.Summary{RequestID: "r1"}))
	assert.Equal(t, []string{"d1"}, fc.sent)
	assert.Equal(t, time.Second, fc.timeout)

	fc = &fakeClient{sendErr: errors.New("broker down")}
	err := AlertTransport{Client: fc}.Send(context.Background(), to, fanout.Summary{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, fanout.ErrDeliveryUnknown))

	fc = &fakeClient{waitErr: coremqtt.ErrReceiptTimeout}
	err = AlertTransport{Client: fc}.Send(context.Background(), to, fanout.Summary{})
	assert.ErrorIs(t, err, fanout.ErrDeliveryUnknown)
	assert.ErrorIs(t, err, coremqtt.ErrReceiptTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	fc = &fakeClient{receipt: true}
	require.NoError(t, AlertTransport{Client: fc, ReceiptTimeout: time.Hour}.Send(ctx, to, fanout.Summary{}))
	assert.LessOrEqual(t, fc.timeout, 50*time.Millisecond)
}

type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]func(string, []byte)
	published map[string][][]byte
	verdicts  map[string][]VerdictMessage
	ready     chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		handlers:  make(map[string]func(string, []byte)),
		published: make(map[string][][]byte),
		verdicts:  make(map[string][]VerdictMessage),
		ready:     make(chan struct{}, 4),
	}
}

func (b *fakeBroker) Subscribe(topic, _ string, h func(string, []byte)) error {
	b.mu.Lock()
	b.handlers[topic] = h
	b.mu.Unlock()
	b.ready <- struct{}{}
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	delete(b.handlers, topic)
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) Publish(topic, _ string, payload []byte) error {
	b.mu.Lock()
	b.published[topic] = append(b.published[topic], payload)
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) SendVerdict(donorID string, payload any) error {
	b.mu.Lock()
	b.verdicts[donorID] = append(b.verdicts[donorID], payload.(VerdictMessage))
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) deliver(filter, topic, payload string) {
	b.mu.Lock()
	h := b.handlers[filter]
	b.mu.Unlock()
	if h != nil {
		h(topic, []byte(payload))
	}
}

type fakeResponder struct {
	mu    sync.Mutex
	calls []model.DonorResponse
	fail  map[string]error
	// gate, when set, holds every call until it is closed.
	gate chan struct{}
}

func (f *fakeResponder) Respond(ctx context.Context, donorID, requestID string, d model.Decision) (arbiter.Verdict, error) {
	f.mu.Lock()
	f.calls = append(f.calls, model.DonorResponse{DonorID: donorID, RequestID: requestID, Decision: d})
	err := f.fail[requestID]
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return arbiter.Verdict{}, ctx.Err()
		}
	}
	if err != nil {
		return arbiter.Verdict{}, err
	}
	return arbiter.Verdict{Result: arbiter.Accepted, FulfilledUnits: 1, Needed: 1, Fulfilled: true}, nil
}

func (f *fakeResponder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (b *fakeBroker) verdictsFor(donorID string) []VerdictMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]VerdictMessage(nil), b.verdicts[donorID]...)
}

func TestResponseListenerForwardsDecisions(t *testing.T) {
	b := newFakeBroker()
	r := &fakeResponder{fail: map[string]error{"zz": dispatch.ErrUnknownRequest}}
	l := NewResponseListener(b, b, "", r, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	<-b.ready

	b.deliver(DefaultResponseTopic, "donor/d1/response", `{"request_id":"r1","decision":"accept"}`)
	b.deliver(DefaultResponseTopic, "donor/d2/response", `{"request_id":"r1","decision":"maybe"}`)
	b.deliver(DefaultResponseTopic, "donor/d3/response", `not json`)
	b.deliver(DefaultResponseTopic, "donor/d1/response", `{"request_id":"zz","decision":"decline"}`)
	require.Eventually(t, func() bool { return len(b.verdictsFor("d1")) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, b.handlers)

	require.Len(t, r.calls, 2)
	for _, c := range r.calls {
		assert.Equal(t, "d1", c.DonorID)
	}
	byRequest := map[string]VerdictMessage{}
	for _, v := range b.verdictsFor("d1") {
		byRequest[v.RequestID] = v
	}
	assert.Equal(t, model.DecisionAccept, byRequest["r1"].Decision)
	assert.True(t, byRequest["r1"].Verdict.Fulfilled)
	assert.Empty(t, byRequest["r1"].Error)
	assert.Equal(t, model.DecisionDecline, byRequest["zz"].Decision)
	assert.NotEmpty(t, byRequest["zz"].Error)
	assert.Empty(t, b.verdictsFor("d2"))
}

func TestResponseListenerHandlesResponsesConcurrently(t *testing.T) {
	b := newFakeBroker()
	r := &fakeResponder{gate: make(chan struct{})}
	l := NewResponseListener(b, b, "", r, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	<-b.ready

	returned := make(chan struct{})
	go func() {
		b.deliver(DefaultResponseTopic, "donor/d1/response", `{"request_id":"r1","decision":"accept"}`)
		b.deliver(DefaultResponseTopic, "donor/d2/response", `{"request_id":"r2","decision":"accept"}`)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatalf("delivery blocked behind a pending response")
	}
	require.Eventually(t, func() bool { return r.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, b.verdictsFor("d1"))

	close(r.gate)
	require.Eventually(t, func() bool {
		return len(b.verdictsFor("d1")) == 1 && len(b.verdictsFor("d2")) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestAvailabilityWatcher(t *testing.T) {
	b := newFakeBroker()
	reg := prometheus.NewRegistry()
	w := NewAvailabilityWatcher(b, "", reg, nil)

	var got []registry.AvailabilityChange
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(c registry.AvailabilityChange) { got = append(got, c) })
	}()
	<-b.ready

	b.deliver(DefaultAvailabilityTopic, "donor/d1/availability", `{"availability":"emergency-only","ts":1700000000}`)
	b.deliver(DefaultAvailabilityTopic, "donor/d2/availability", `{"availability":"available","location":{"lat":48.85,"lon":2.35}}`)
	b.deliver(DefaultAvailabilityTopic, "donor/d3/availability", `{"availability":"sleepy"}`)
	b.deliver(DefaultAvailabilityTopic, "donor/d4/availability", `{"availability":"available","location":{"lat":120,"lon":0}}`)

	require.Len(t, got, 2)
	assert.Equal(t, "d1", got[0].DonorID)
	assert.Equal(t, model.EmergencyOnly, got[0].Availability)
	assert.Equal(t, time.Unix(1700000000, 0), got[0].At)
	require.NotNil(t, got[1].Location)
	assert.InDelta(t, 48.85, got[1].Location.Lat, 1e-9)

	assert.Equal(t, 2.0, testutil.ToFloat64(w.received.WithLabelValues("applied")))
	assert.Equal(t, 2.0, testutil.ToFloat64(w.received.WithLabelValues("invalid")))
	assert.Positive(t, testutil.ToFloat64(w.last))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// A second watcher on the same registry reuses the collectors.
	w2 := NewAvailabilityWatcher(b, "", reg, nil)
	assert.Same(t, w.received, w2.received)
}

func TestBroadcastEscalation(t *testing.T) {
	b := newFakeBroker()
	e := dispatch.Escalation{RequestID: "r1", Round: 2, RadiusKm: 20, NextRadiusKm: 40}
	require.NoError(t, BroadcastEscalation{Pub: b}.Escalate(context.Background(), e))
	msgs := b.published[DefaultEscalationTopic]
	require.Len(t, msgs, 1)
	var got dispatch.Escalation
	require.NoError(t, json.Unmarshal(msgs[0], &got))
	assert.Equal(t, "r1", got.RequestID)
	assert.Equal(t, 40.0, got.NextRadiusKm)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, BroadcastEscalation{Pub: b, Topic: "x"}.Escalate(ctx, e))
	assert.Empty(t, b.published["x"])
}
