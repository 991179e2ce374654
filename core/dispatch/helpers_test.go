package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/bloodlink/core/audit"
	"github.com/kilianp07/bloodlink/core/donorindex"
	"github.com/kilianp07/bloodlink/core/fanout"
	"github.com/kilianp07/bloodlink/core/model"
	"github.com/kilianp07/bloodlink/core/ranker"
)

var hospital = model.Coordinate{Lat: 48.8566, Lon: 2.3522}

const kmPerDegLat = 111.195

func donorAt(id string, bt model.BloodType, km float64) model.Donor {
	return model.Donor{
		ID:           id,
		BloodType:    bt,
		Location:     model.Coordinate{Lat: hospital.Lat + km/kmPerDegLat, Lon: hospital.Lon},
		Availability: model.Available,
		Contact:      model.ContactRef{Channel: model.ChannelPush, Address: "push:" + id},
	}
}

func submission(bt string, qty int, urgency string) Submission {
	return Submission{
		BloodType: bt,
		Quantity:  qty,
		Urgency:   urgency,
		Hospital:  model.Hospital{Name: "Hotel-Dieu", Location: hospital, PinCode: "750040"},
		Requester: model.Requester{Name: "Dr Martin", Phone: "0612345678"},
	}
}

type alert struct {
	donor string
	wave  int
}

type memStore struct {
	mu   sync.Mutex
	recs []audit.Record
}

func (s *memStore) Append(_ context.Context, r audit.Record) error {
	s.mu.Lock()
	s.recs = append(s.recs, r)
	s.mu.Unlock()
	return nil
}

func (s *memStore) Query(_ context.Context, q audit.Query) ([]audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Record
	for _, r := range s.recs {
		if q.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) records() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Record(nil), s.recs...)
}

type memMirror struct {
	mu   sync.Mutex
	last map[string]Status
}

func (m *memMirror) Mirror(_ context.Context, s Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		m.last = make(map[string]Status)
	}
	m.last[s.RequestID] = s
	return nil
}

func (m *memMirror) get(id string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[id]
}

type harness struct {
	m           *Manager
	idx         *donorindex.Index
	alerts      chan alert
	escalations chan Escalation
	store       *memStore
	reg         *prometheus.Registry
}

// newHarness builds a manager over an in-memory index and a recording
// transport. Donors listed in unreachable fail delivery.
func newHarness(t *testing.T, cfg Config, unreachable []string, donors ...model.Donor) *harness {
	t.Helper()
	if cfg.EscalationIntervals == (UrgencyDurations{}) {
		cfg.EscalationIntervals = UrgencyDurations{
			Critical: 5 * time.Millisecond,
			High:     5 * time.Millisecond,
			Normal:   5 * time.Millisecond,
		}
	}
	reg := prometheus.NewRegistry()
	ResetMetrics(reg)
	idx := donorindex.New()
	for _, d := range donors {
		require.NoError(t, idx.Upsert(d))
	}
	fail := make(map[string]bool, len(unreachable))
	for _, id := range unreachable {
		fail[id] = true
	}
	h := &harness{
		idx:         idx,
		alerts:      make(chan alert, 128),
		escalations: make(chan Escalation, 16),
		store:       &memStore{},
		reg:         reg,
	}
	tr := fanout.TransportFunc(func(_ context.Context, to fanout.Recipient, s fanout.Summary) error {
		h.alerts <- alert{donor: to.DonorID, wave: s.WaveSeq}
		if fail[to.DonorID] {
			return errors.New("unreachable")
		}
		return nil
	})
	fo := fanout.New(fanout.Config{MaxConcurrent: 4, SendTimeout: time.Second}, tr, nil, nil)
	esc := EscalationFunc(func(_ context.Context, e Escalation) error {
		h.escalations <- e
		return nil
	})
	m, err := NewManager(cfg, idx, ranker.New(ranker.Config{}), fo, esc, nil)
	require.NoError(t, err)
	m.SetAuditStore(h.store)
	t.Cleanup(func() { _ = m.Close() })
	h.m = m
	return h
}

func (h *harness) submit(t *testing.T, s Submission) string {
	t.Helper()
	id, err := h.m.SubmitRequest(context.Background(), s)
	require.NoError(t, err)
	return id
}

func (h *harness) nextAlert(t *testing.T) alert {
	t.Helper()
	select {
	case a := <-h.alerts:
		return a
	case <-time.After(2 * time.Second):
		t.Fatalf("no alert sent")
	}
	return alert{}
}

// alertsOf waits for n alerts and returns them keyed by donor.
func (h *harness) alertsOf(t *testing.T, n int) map[string]int {
	t.Helper()
	out := make(map[string]int, n)
	for range n {
		a := h.nextAlert(t)
		out[a.donor] = a.wave
	}
	return out
}

func (h *harness) respond(t *testing.T, donor, id string, d model.Decision) {
	t.Helper()
	if _, err := h.m.Respond(context.Background(), donor, id, d); err != nil {
		t.Fatalf("respond %s %s: %v", donor, d, err)
	}
}

func waitStatus(t *testing.T, m *Manager, id string, want model.Status) Status {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		st, err := m.Status(id)
		require.NoError(t, err)
		if st.Status == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("request %s stuck in %s, want %s", id, st.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
