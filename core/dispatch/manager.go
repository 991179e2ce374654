package dispatch

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kilianp07/bloodlink/core/arbiter"
	"github.com/kilianp07/bloodlink/core/audit"
	"github.com/kilianp07/bloodlink/core/donorindex"
	"github.com/kilianp07/bloodlink/core/events"
	"github.com/kilianp07/bloodlink/core/fanout"
	"github.com/kilianp07/bloodlink/core/logger"
	"github.com/kilianp07/bloodlink/core/metrics"
	"github.com/kilianp07/bloodlink/core/model"
	"github.com/kilianp07/bloodlink/core/ranker"
	"github.com/kilianp07/bloodlink/internal/eventbus"
)

// DonorQuerier is the read side of the donor index.
type DonorQuerier interface {
	Query(c donorindex.Criteria) iter.Seq[model.Donor]
	Get(id string) (model.Donor, bool)
}

// Notifier sends a wave and streams per-donor outcomes.
type Notifier interface {
	Dispatch(ctx context.Context, b fanout.Batch) <-chan fanout.Outcome
}

// StatusMirror publishes request snapshots to an external store.
type StatusMirror interface {
	Mirror(ctx context.Context, s Status) error
}

// Manager owns every emergency request. Each request is driven by its own
// goroutine; donor responses are arbitrated on the caller's goroutine and
// then forwarded to the request's inbox.
type Manager struct {
	cfg      Config
	index    DonorQuerier
	ranker   *ranker.Ranker
	notifier Notifier
	escalate EscalationSink
	arbiter  *arbiter.Arbiter
	logger   logger.Logger
	metrics  metrics.MetricsSink
	bus      eventbus.EventBus
	store    audit.Store
	mirror   StatusMirror
	now      func() time.Time

	mu       sync.RWMutex
	requests map[string]*request
	closed   bool

	root   context.Context
	stop   context.CancelFunc
	actors sync.WaitGroup
}

// NewManager wires the engine. esc and log may be nil.
func NewManager(cfg Config, index DonorQuerier, rk *ranker.Ranker, notifier Notifier, esc EscalationSink, log logger.Logger) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch config: %w", err)
	}
	if index == nil || notifier == nil {
		return nil, fmt.Errorf("dispatch: donor index and notifier are required")
	}
	if rk == nil {
		rk = ranker.New(ranker.Config{})
	}
	log = logger.OrNop(log)
	if esc == nil {
		esc = LogEscalation{Log: log}
	}
	root, stop := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		index:    index,
		ranker:   rk,
		notifier: notifier,
		escalate: esc,
		arbiter:  arbiter.New(),
		logger:   log,
		metrics:  metrics.NopSink{},
		store:    audit.NopStore{},
		now:      time.Now,
		requests: make(map[string]*request),
		root:     root,
		stop:     stop,
	}, nil
}

// SetAuditStore configures where terminal requests are persisted.
func (m *Manager) SetAuditStore(s audit.Store) {
	m.mu.Lock()
	if s == nil {
		s = audit.NopStore{}
	}
	m.store = s
	m.mu.Unlock()
}

// SetStatusMirror configures an external mirror of request snapshots.
func (m *Manager) SetStatusMirror(s StatusMirror) {
	m.mu.Lock()
	m.mirror = s
	m.mu.Unlock()
}

// SetMetricsSink configures the sink receiving request outcomes.
func (m *Manager) SetMetricsSink(s metrics.MetricsSink) {
	m.mu.Lock()
	if s == nil {
		s = metrics.NopSink{}
	}
	m.metrics = s
	m.mu.Unlock()
}

// SetEventBus configures the bus lifecycle events are published on.
func (m *Manager) SetEventBus(b eventbus.EventBus) {
	m.mu.Lock()
	m.bus = b
	m.mu.Unlock()
}

func (m *Manager) publish(e eventbus.Event) {
	m.mu.RLock()
	b := m.bus
	m.mu.RUnlock()
	if b != nil {
		b.Publish(e)
	}
}

func (m *Manager) sinks() (metrics.MetricsSink, audit.Store, StatusMirror) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics, m.store, m.mirror
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// SubmitRequest validates s, registers the request and starts matching in the
// background. The returned id is a ULID.
func (m *Manager) SubmitRequest(ctx context.Context, s Submission) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	req, err := s.request()
	if err != nil {
		return "", err
	}
	now := m.now()
	req.ID = ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	req.CreatedAt = now
	req.Deadline = now.Add(m.cfg.Deadlines.For(req.Urgency))
	req.Status = model.StatusCreated

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	if err := m.arbiter.Open(req.ID, req.Quantity); err != nil {
		m.mu.Unlock()
		return "", err
	}
	r := newRequest(req, m.cfg.InitialRadiusKm, now)
	m.requests[req.ID] = r
	m.actors.Add(1)
	m.mu.Unlock()

	requestsSubmitted.WithLabelValues(string(req.Urgency)).Inc()
	activeRequests.Inc()
	m.logger.Infof("request %s: %d unit(s) of %s, %s, at %s", req.ID, req.Quantity, req.BloodType, req.Urgency, req.Hospital.Name)
	m.publish(events.StatusEvent{
		RequestID: req.ID, BloodType: req.BloodType, Urgency: req.Urgency,
		To: model.StatusCreated, Quantity: req.Quantity, Time: now,
	})

	go m.run(r)
	return req.ID, nil
}

func (m *Manager) lookup(id string) (*request, error) {
	m.mu.RLock()
	r, ok := m.requests[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	return r, nil
}

// Status returns the current snapshot of a request.
func (m *Manager) Status(id string) (Status, error) {
	r, err := m.lookup(id)
	if err != nil {
		return Status{}, err
	}
	return r.status(), nil
}

// Requests lists all known requests ordered by creation.
func (m *Manager) Requests() []Status {
	m.mu.RLock()
	rs := make([]*request, 0, len(m.requests))
	for _, r := range m.requests {
		rs = append(rs, r)
	}
	m.mu.RUnlock()
	out := make([]Status, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.status())
	}
	slices.SortFunc(out, func(a, b Status) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.RequestID, b.RequestID)
	})
	return out
}

// Respond arbitrates a donor's answer. Accepted answers are applied to the
// request before Respond returns, so a following Status call observes them.
func (m *Manager) Respond(ctx context.Context, donorID, requestID string, d model.Decision) (arbiter.Verdict, error) {
	if d != model.DecisionAccept && d != model.DecisionDecline {
		return arbiter.Verdict{Result: arbiter.Rejected}, &ValidationError{Field: "decision", Reason: fmt.Sprintf("%q is not accept or decline", d)}
	}
	r, err := m.lookup(requestID)
	if err != nil {
		return arbiter.Verdict{Result: arbiter.Rejected}, err
	}
	resp := model.DonorResponse{DonorID: donorID, RequestID: requestID, Decision: d, Timestamp: m.now()}
	v, err := m.arbiter.Submit(resp)
	m.recordResponse(resp, v)
	if err != nil {
		m.logger.Debugf("request %s: response from %s rejected: %v", requestID, donorID, err)
		return v, err
	}
	if v.Result != arbiter.Accepted {
		return v, nil
	}
	sig := signal{kind: sigResponse, resp: resp, verdict: v, ack: make(chan struct{})}
	select {
	case r.inbox <- sig:
	case <-r.done:
		return v, nil
	case <-ctx.Done():
		return v, ctx.Err()
	}
	select {
	case <-sig.ack:
	case <-r.done:
	case <-ctx.Done():
		return v, ctx.Err()
	}
	return v, nil
}

func (m *Manager) recordResponse(resp model.DonorResponse, v arbiter.Verdict) {
	responsesTotal.WithLabelValues(string(resp.Decision), string(v.Result)).Inc()
	m.publish(events.ResponseEvent{
		RequestID: resp.RequestID, DonorID: resp.DonorID,
		Decision: string(resp.Decision), Result: string(v.Result), Time: resp.Timestamp,
	})
}

// Cancel stops a request. Responses arriving afterwards are recorded but
// never change the outcome.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	r, err := m.lookup(id)
	if err != nil {
		return err
	}
	if r.terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, id)
	}
	_ = m.arbiter.Close(id)
	sig := signal{kind: sigCancel, ack: make(chan struct{})}
	select {
	case r.inbox <- sig:
	case <-r.done:
		return fmt.Errorf("%w: %s", ErrTerminal, id)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if st := r.status(); st.Cause != model.CauseCancelled {
		return fmt.Errorf("%w: %s ended as %s", ErrTerminal, id, st.Status)
	}
	return nil
}

// Prune forgets terminal requests closed before the cutoff and returns how
// many were removed. Their history stays in the audit store.
func (m *Manager) Prune(before time.Time) int {
	m.mu.Lock()
	var ids []string
	for id, r := range m.requests {
		st := r.status()
		if st.Status.Terminal() && st.UpdatedAt.Before(before) {
			ids = append(ids, id)
			delete(m.requests, id)
		}
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.arbiter.Forget(id)
	}
	if len(ids) > 0 {
		m.logger.Debugf("pruned %d terminal request(s)", len(ids))
	}
	return len(ids)
}

// Close cancels every active request with cause shutdown, waits for their
// goroutines and closes the audit store.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	m.stop()
	m.actors.Wait()
	_, store, _ := m.sinks()
	return store.Close()
}
