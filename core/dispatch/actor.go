package dispatch

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/kilianp07/bloodlink/core/audit"
	"github.com/kilianp07/bloodlink/core/compat"
	"github.com/kilianp07/bloodlink/core/donorindex"
	"github.com/kilianp07/bloodlink/core/events"
	"github.com/kilianp07/bloodlink/core/fanout"
	"github.com/kilianp07/bloodlink/core/metrics"
	"github.com/kilianp07/bloodlink/core/model"
	"github.com/kilianp07/bloodlink/core/monitoring"
)

const (
	mirrorTimeout = 2 * time.Second
	auditTimeout  = 5 * time.Second
)

// actor holds the state only the request goroutine touches.
type actor struct {
	m  *Manager
	r  *request
	id string
	// excluded donors are never part of a later wave.
	excluded map[string]struct{}
	// empty counts consecutive matching rounds without candidates.
	empty int
	// missed counts waves that ended without fulfilling the request.
	missed int
	notes  []audit.Notification
}

func (m *Manager) run(r *request) {
	a := &actor{m: m, r: r, id: r.snapshot().ID, excluded: make(map[string]struct{})}
	defer m.actors.Done()
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			err := monitoring.CapturePanic(rec, map[string]string{"request_id": a.id})
			m.logger.Errorf("request %s: %v", a.id, err)
			a.finish(model.StatusExpired, model.CauseInternal)
		}
	}()
	a.loop(m.root)
}

func (a *actor) loop(ctx context.Context) {
	req := a.r.snapshot()
	deadline := time.NewTimer(req.Deadline.Sub(a.m.now()))
	defer deadline.Stop()

	a.transition(model.StatusMatching)
	for {
		if batch, ok := a.match(); ok {
			a.empty = 0
			if a.await(ctx, batch, deadline.C) {
				return
			}
			a.transition(model.StatusMatching)
			continue
		}
		if a.empty >= a.m.cfg.MaxEscalationRounds {
			a.finish(model.StatusExpired, model.CauseNoCandidates)
			return
		}
		a.escalate(ctx)
		if a.pause(ctx, deadline.C) {
			return
		}
		a.transition(model.StatusMatching)
	}
}

// waveSize returns how many donors the next wave contacts.
func (a *actor) waveSize(req model.EmergencyRequest) int {
	cfg := a.m.cfg
	base := float64(cfg.WaveBase.For(req.Urgency) * max(req.Remaining(), 1))
	k := int(math.Ceil(base * math.Pow(cfg.WaveGrowth, float64(a.missed))))
	return min(max(k, 1), cfg.MaxWaveSize)
}

// match queries, gates and ranks donors around the hospital and builds the
// next wave. It reports false when nobody qualifies.
func (a *actor) match() (fanout.Batch, bool) {
	m := a.m
	req := a.r.snapshot()
	a.r.mu.RLock()
	radius, seq := a.r.radius, len(a.r.waves)+1
	a.r.mu.RUnlock()

	types, err := compat.CompatibleDonorTypes(req.BloodType)
	if err != nil {
		m.logger.Errorf("request %s: %v", a.id, err)
		return fanout.Batch{}, false
	}
	minAvail := model.Available
	if req.Urgency.AllowsEmergencyOnly() {
		minAvail = model.EmergencyOnly
	}
	now := m.now()
	var cands []model.Donor
	for d := range m.index.Query(donorindex.Criteria{
		Types:           types,
		Origin:          req.Hospital.Location,
		MaxRadiusKm:     radius,
		MinAvailability: minAvail,
	}) {
		if _, skip := a.excluded[d.ID]; skip {
			continue
		}
		cands = append(cands, d)
	}
	ranked := m.ranker.Rank(cands, req, now)
	if len(ranked) == 0 {
		m.logger.Debugf("request %s: no candidate within %.1fkm (%d excluded)", a.id, radius, len(a.excluded))
		return fanout.Batch{}, false
	}
	if k := a.waveSize(req); len(ranked) > k {
		ranked = ranked[:k]
	}

	ids := make([]string, len(ranked))
	rcps := make([]fanout.Recipient, len(ranked))
	for i, mt := range ranked {
		ids[i] = mt.Donor.ID
		rcps[i] = fanout.Recipient{DonorID: mt.Donor.ID, Contact: mt.Donor.Contact}
	}
	waveDeadline := now.Add(m.cfg.WaveTimeouts.For(req.Urgency))
	if waveDeadline.After(req.Deadline) {
		waveDeadline = req.Deadline
	}
	wave := model.NewCandidateWave(a.id, seq, ids, radius, now, waveDeadline)
	return fanout.Batch{
		Wave:       wave,
		Recipients: rcps,
		Summary: fanout.Summary{
			RequestID:    a.id,
			WaveSeq:      seq,
			BloodType:    req.BloodType,
			Units:        req.Remaining(),
			Urgency:      req.Urgency,
			UrgencyLabel: req.Urgency.Label(),
			Hospital:     req.Hospital,
			Deadline:     req.Deadline,
		},
	}, true
}

// await releases the wave and waits until every member answered, failed or
// timed out. It reports true once the request is terminal.
func (a *actor) await(ctx context.Context, b fanout.Batch, deadline <-chan time.Time) bool {
	m := a.m
	wave := b.Wave
	if err := m.arbiter.Admit(a.id, wave.DonorIDs()...); err != nil {
		m.logger.Debugf("request %s: admit wave %d: %v", a.id, wave.Seq, err)
	}
	sum := wave.Summary()
	a.r.mu.Lock()
	a.r.waves = append(a.r.waves, sum)
	a.r.active = &sum
	a.r.mu.Unlock()

	waveCtx, cancelWave := context.WithCancel(ctx)
	defer cancelWave()
	outcomes := m.notifier.Dispatch(waveCtx, b)
	a.transition(model.StatusAwaitingResponses)

	req := a.r.snapshot()
	wavesReleased.WithLabelValues(string(req.Urgency)).Inc()
	waveSize.Observe(float64(wave.Len()))
	m.publish(events.WaveEvent{RequestID: a.id, Urgency: req.Urgency, Seq: wave.Seq, Size: wave.Len(), RadiusKm: wave.RadiusKm, Time: wave.CreatedAt})
	m.logger.Infof("request %s: wave %d released to %d donor(s) within %.1fkm", a.id, wave.Seq, wave.Len(), wave.RadiusKm)

	pending := make(map[string]struct{}, wave.Len())
	for _, id := range wave.DonorIDs() {
		pending[id] = struct{}{}
	}
	skipped := make(map[string]struct{})
	timer := time.NewTimer(wave.Deadline.Sub(m.now()))
	defer timer.Stop()

wait:
	for len(pending) > 0 {
		select {
		case o, ok := <-outcomes:
			if !ok {
				outcomes = nil
				continue
			}
			a.recordOutcome(o)
			switch o.Status {
			case fanout.StatusFailed:
				delete(pending, o.DonorID)
			case fanout.StatusSkipped:
				delete(pending, o.DonorID)
				skipped[o.DonorID] = struct{}{}
			}
		case s := <-a.r.inbox:
			if a.handle(s, pending) {
				return true
			}
		case <-timer.C:
			break wait
		case <-deadline:
			a.finish(model.StatusExpired, model.CauseDeadlineExceeded)
			return true
		case <-ctx.Done():
			a.finish(model.StatusCancelled, model.CauseShutdown)
			return true
		}
	}

	cancelWave()
	a.drain(outcomes)
	now := m.now()
	for id := range pending {
		resp := model.DonorResponse{DonorID: id, RequestID: a.id, Decision: model.DecisionTimeout, Timestamp: now}
		v, err := m.arbiter.Submit(resp)
		if err == nil {
			m.recordResponse(resp, v)
		}
	}
	for _, id := range wave.DonorIDs() {
		if _, ok := skipped[id]; !ok {
			a.excluded[id] = struct{}{}
		}
	}
	a.missed++
	a.r.mu.Lock()
	a.r.active = nil
	a.r.mu.Unlock()
	m.logger.Debugf("request %s: wave %d closed, %d silent", a.id, wave.Seq, len(pending))
	return false
}

func (a *actor) drain(outcomes <-chan fanout.Outcome) {
	if outcomes == nil {
		return
	}
	for {
		select {
		case o, ok := <-outcomes:
			if !ok {
				return
			}
			a.recordOutcome(o)
		default:
			return
		}
	}
}

func (a *actor) recordOutcome(o fanout.Outcome) {
	notificationsTotal.WithLabelValues(string(o.Status)).Inc()
	n := audit.Notification{DonorID: o.DonorID, WaveSeq: o.WaveSeq, Outcome: string(o.Status)}
	if o.Err != nil {
		n.Error = o.Err.Error()
	}
	a.notes = append(a.notes, n)
	a.m.publish(events.NotificationEvent{
		RequestID: o.RequestID, DonorID: o.DonorID, WaveSeq: o.WaveSeq,
		Outcome: string(o.Status), Err: o.Err, Latency: o.Latency,
	})
}

// handle applies an inbox signal. pending may be nil between waves.
func (a *actor) handle(s signal, pending map[string]struct{}) bool {
	defer close(s.ack)
	if s.kind == sigCancel {
		a.finish(model.StatusCancelled, model.CauseCancelled)
		return true
	}
	donor := s.resp.DonorID
	delete(pending, donor)
	a.excluded[donor] = struct{}{}
	if s.resp.Decision != model.DecisionAccept {
		return false
	}
	a.r.mu.Lock()
	if s.verdict.FulfilledUnits > a.r.req.FulfilledUnits {
		a.r.req.FulfilledUnits = s.verdict.FulfilledUnits
	}
	a.r.updated = a.m.now()
	a.r.mu.Unlock()
	a.m.logger.Infof("request %s: donor %s accepted (%d/%d)", a.id, donor, s.verdict.FulfilledUnits, s.verdict.Needed)
	if s.verdict.Fulfilled {
		a.finish(model.StatusFulfilled, model.CauseFulfilled)
		return true
	}
	return false
}

func (a *actor) escalate(ctx context.Context) {
	m := a.m
	a.empty++
	a.transition(model.StatusEscalated)

	req := a.r.snapshot()
	a.r.mu.Lock()
	a.r.escalations++
	round, radius := a.r.escalations, a.r.radius
	next := math.Min(radius*m.cfg.EscalationFactor, m.cfg.MaxRadiusKm)
	if a.empty >= m.cfg.MaxEscalationRounds {
		// The last match before expiry runs at the ceiling.
		next = m.cfg.MaxRadiusKm
	}
	a.r.radius = next
	a.r.mu.Unlock()

	now := m.now()
	escalationsTotal.Inc()
	m.publish(events.EscalationEvent{RequestID: a.id, Round: round, RadiusKm: radius, Time: now})
	e := Escalation{
		RequestID:      a.id,
		BloodType:      req.BloodType,
		Urgency:        req.Urgency,
		Quantity:       req.Quantity,
		FulfilledUnits: req.FulfilledUnits,
		Hospital:       req.Hospital,
		Round:          round,
		RadiusKm:       radius,
		NextRadiusKm:   next,
		Deadline:       req.Deadline,
		Time:           now,
	}
	ectx, cancel := context.WithTimeout(ctx, m.cfg.EscalationTimeout)
	defer cancel()
	if err := m.escalate.Escalate(ectx, e); err != nil {
		m.logger.Warnf("request %s: escalation round %d: %v", a.id, round, err)
		monitoring.CaptureException(err, map[string]string{"request_id": a.id, "stage": "escalation"})
	}
}

// pause waits for the escalation interval while still serving the inbox.
func (a *actor) pause(ctx context.Context, deadline <-chan time.Time) bool {
	iv := a.m.cfg.EscalationIntervals.For(a.r.snapshot().Urgency)
	if iv <= 0 {
		select {
		case s := <-a.r.inbox:
			return a.handle(s, nil)
		case <-deadline:
			a.finish(model.StatusExpired, model.CauseDeadlineExceeded)
			return true
		case <-ctx.Done():
			a.finish(model.StatusCancelled, model.CauseShutdown)
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(iv)
	defer t.Stop()
	for {
		select {
		case s := <-a.r.inbox:
			if a.handle(s, nil) {
				return true
			}
		case <-deadline:
			a.finish(model.StatusExpired, model.CauseDeadlineExceeded)
			return true
		case <-ctx.Done():
			a.finish(model.StatusCancelled, model.CauseShutdown)
			return true
		case <-t.C:
			return false
		}
	}
}

func (a *actor) transition(to model.Status) {
	now := a.m.now()
	a.r.mu.Lock()
	from := a.r.req.Status
	a.r.req.Status = to
	a.r.updated = now
	req := a.r.req
	a.r.mu.Unlock()

	a.m.publish(events.StatusEvent{
		RequestID: a.id, BloodType: req.BloodType, Urgency: req.Urgency,
		From: from, To: to, Quantity: req.Quantity, Fulfilled: req.FulfilledUnits,
		Elapsed: now.Sub(req.CreatedAt), Time: now,
	})
	a.mirror()
}

// finish moves the request to a terminal state. The arbiter ledger is the
// source of truth for accepted units: a request whose accepts cover the
// quantity always ends fulfilled.
func (a *actor) finish(st model.Status, cause model.Cause) {
	m := a.m
	_ = m.arbiter.Close(a.id)
	units := -1
	if snap, err := m.arbiter.Snapshot(a.id); err == nil {
		units = len(snap.Accepted)
	}
	now := m.now()

	a.r.mu.Lock()
	if a.r.req.Status.Terminal() {
		a.r.mu.Unlock()
		return
	}
	if units >= 0 {
		a.r.req.FulfilledUnits = units
	}
	if a.r.req.FulfilledUnits >= a.r.req.Quantity {
		st, cause = model.StatusFulfilled, model.CauseFulfilled
	}
	from := a.r.req.Status
	a.r.req.Status, a.r.req.Cause, a.r.req.ClosedAt = st, cause, now
	a.r.active = nil
	a.r.updated = now
	req := a.r.req
	waves := slices.Clone(a.r.waves)
	escalations := a.r.escalations
	a.r.mu.Unlock()

	activeRequests.Dec()
	requestsCompleted.WithLabelValues(string(req.Urgency), string(st), string(cause)).Inc()
	if st == model.StatusFulfilled {
		fulfillmentLatency.WithLabelValues(string(req.Urgency)).Observe(now.Sub(req.CreatedAt).Seconds())
	}
	m.publish(events.StatusEvent{
		RequestID: a.id, BloodType: req.BloodType, Urgency: req.Urgency,
		From: from, To: st, Cause: cause, Quantity: req.Quantity, Fulfilled: req.FulfilledUnits,
		Elapsed: now.Sub(req.CreatedAt), Time: now,
	})
	m.logger.Infof("request %s: %s (%s) with %d/%d unit(s) after %d wave(s)", a.id, st, cause, req.FulfilledUnits, req.Quantity, len(waves))

	sink, store, _ := m.sinks()
	if err := sink.RecordRequestOutcome(metrics.RequestOutcome{
		RequestID:      a.id,
		BloodType:      req.BloodType,
		Urgency:        req.Urgency,
		Status:         st,
		Cause:          cause,
		Quantity:       req.Quantity,
		FulfilledUnits: req.FulfilledUnits,
		Waves:          len(waves),
		Escalations:    escalations,
		CreatedAt:      req.CreatedAt,
		ClosedAt:       now,
	}); err != nil {
		m.logger.Warnf("request %s: record outcome: %v", a.id, err)
	}
	a.persist(store, req, waves, escalations, now)
	a.mirror()
}

func (a *actor) persist(store audit.Store, req model.EmergencyRequest, waves []model.WaveSummary, escalations int, now time.Time) {
	recs, _ := a.m.arbiter.Responses(a.id)
	responses := make([]audit.Response, 0, len(recs))
	for _, rc := range recs {
		responses = append(responses, audit.Response{
			DonorID:   rc.DonorID,
			Decision:  rc.Decision,
			Result:    string(rc.Result),
			Reason:    rc.Reason,
			Timestamp: rc.Timestamp,
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	err := store.Append(ctx, audit.Record{
		Timestamp:     now,
		Request:       req,
		Waves:         waves,
		Notifications: a.notes,
		Responses:     responses,
		Escalations:   escalations,
	})
	if err != nil {
		a.m.logger.Errorf("request %s: persist audit record: %v", a.id, err)
		monitoring.CaptureException(err, map[string]string{"request_id": a.id, "stage": "audit"})
	}
}

func (a *actor) mirror() {
	_, _, mirror := a.m.sinks()
	if mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := mirror.Mirror(ctx, a.r.status()); err != nil {
		a.m.logger.Warnf("request %s: mirror status: %v", a.id, err)
	}
}
