// Package arbiter decides, per request, which donor responses count.
//
// Every request has its own ledger guarded by its own mutex; Submit holds
// that mutex for the whole decision so that concurrent accepts are totally
// ordered and never over-commit the requested quantity.
package arbiter

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kilianp07/bloodlink/core/model"
)

// Result classifies a response.
type Result string

const (
	// Accepted responses changed the ledger.
	Accepted Result = "accepted"
	// Redundant responses are recorded without side effect.
	Redundant Result = "redundant"
	// Rejected responses are not admissible for the request.
	Rejected Result = "rejected"
)

var (
	ErrUnknownRequest      = errors.New("unknown request")
	ErrNotNotified         = errors.New("donor was not notified for this request")
	ErrConflictingResponse = errors.New("donor already accepted")
	ErrAlreadyOpen         = errors.New("request already open")
)

// Verdict is returned by Submit.
type Verdict struct {
	Result         Result `json:"result"`
	FulfilledUnits int    `json:"fulfilled_units"`
	Needed         int    `json:"needed"`
	// Fulfilled is true when the accepted units cover the request.
	Fulfilled bool `json:"fulfilled"`
	// Reason explains Redundant and Rejected results.
	Reason string `json:"reason,omitempty"`
}

// Record is the audit entry kept for every submitted response.
type Record struct {
	model.DonorResponse
	Result Result `json:"result"`
	Reason string `json:"reason,omitempty"`
}

// Snapshot is a point-in-time view of a ledger.
type Snapshot struct {
	Needed   int      `json:"needed"`
	Accepted []string `json:"accepted"`
	Declined []string `json:"declined"`
	TimedOut []string `json:"timed_out"`
	Notified int      `json:"notified"`
	Closed   bool     `json:"closed"`
}

type ledger struct {
	mu        sync.Mutex
	needed    int
	notified  map[string]struct{}
	decisions map[string]model.Decision
	accepted  []string
	closed    bool
	records   []Record
}

func (l *ledger) verdict(r Result, reason string) Verdict {
	return Verdict{
		Result:         r,
		FulfilledUnits: len(l.accepted),
		Needed:         l.needed,
		Fulfilled:      len(l.accepted) >= l.needed,
		Reason:         reason,
	}
}

// Arbiter holds the ledgers of all open and recently closed requests.
type Arbiter struct {
	mu      sync.RWMutex
	ledgers map[string]*ledger
	now     func() time.Time
}

// New returns an empty Arbiter.
func New() *Arbiter {
	return &Arbiter{ledgers: make(map[string]*ledger), now: time.Now}
}

// Open creates the ledger for a request needing units accepts.
func (a *Arbiter) Open(requestID string, units int) error {
	if units <= 0 {
		return fmt.Errorf("open %s: units must be positive", requestID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.ledgers[requestID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, requestID)
	}
	a.ledgers[requestID] = &ledger{
		needed:    units,
		notified:  make(map[string]struct{}),
		decisions: make(map[string]model.Decision),
	}
	return nil
}

func (a *Arbiter) get(requestID string) (*ledger, error) {
	a.mu.RLock()
	l, ok := a.ledgers[requestID]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	return l, nil
}

// Admit records donors as notified so their responses become admissible.
func (a *Arbiter) Admit(requestID string, donorIDs ...string) error {
	l, err := a.get(requestID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	for _, id := range donorIDs {
		l.notified[id] = struct{}{}
	}
	l.mu.Unlock()
	return nil
}

// Submit arbitrates one response. Rejected verdicts come with a non-nil error
// wrapping ErrUnknownRequest, ErrNotNotified or ErrConflictingResponse.
func (a *Arbiter) Submit(r model.DonorResponse) (Verdict, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = a.now()
	}
	l, err := a.get(r.RequestID)
	if err != nil {
		return Verdict{Result: Rejected, Reason: err.Error()}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	v, err := l.decide(r)
	l.records = append(l.records, Record{DonorResponse: r, Result: v.Result, Reason: v.Reason})
	return v, err
}

func (l *ledger) decide(r model.DonorResponse) (Verdict, error) {
	if _, ok := l.notified[r.DonorID]; !ok {
		err := fmt.Errorf("%w: donor %s request %s", ErrNotNotified, r.DonorID, r.RequestID)
		return l.verdict(Rejected, err.Error()), err
	}
	prev, seen := l.decisions[r.DonorID]
	switch r.Decision {
	case model.DecisionAccept:
		if prev == model.DecisionAccept {
			return l.verdict(Redundant, "duplicate accept"), nil
		}
		if l.closed {
			return l.verdict(Redundant, "request closed"), nil
		}
		if len(l.accepted) >= l.needed {
			return l.verdict(Redundant, "quantity already covered"), nil
		}
		l.decisions[r.DonorID] = model.DecisionAccept
		l.accepted = append(l.accepted, r.DonorID)
		return l.verdict(Accepted, ""), nil
	case model.DecisionDecline:
		if prev == model.DecisionAccept {
			err := fmt.Errorf("%w: donor %s request %s", ErrConflictingResponse, r.DonorID, r.RequestID)
			return l.verdict(Rejected, err.Error()), err
		}
		if prev == model.DecisionDecline {
			return l.verdict(Redundant, "duplicate decline"), nil
		}
		l.decisions[r.DonorID] = model.DecisionDecline
		return l.verdict(Accepted, ""), nil
	case model.DecisionTimeout:
		if seen {
			return l.verdict(Redundant, "donor already answered"), nil
		}
		l.decisions[r.DonorID] = model.DecisionTimeout
		return l.verdict(Accepted, ""), nil
	}
	err := fmt.Errorf("unknown decision %q", r.Decision)
	return l.verdict(Rejected, err.Error()), err
}

// Close stops counting accepts. Later accepts are Redundant.
func (a *Arbiter) Close(requestID string) error {
	l, err := a.get(requestID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// Snapshot returns the ledger state of a request.
func (a *Arbiter) Snapshot(requestID string) (Snapshot, error) {
	l, err := a.get(requestID)
	if err != nil {
		return Snapshot{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Snapshot{
		Needed:   l.needed,
		Accepted: slices.Clone(l.accepted),
		Notified: len(l.notified),
		Closed:   l.closed,
	}
	for id, d := range l.decisions {
		switch d {
		case model.DecisionDecline:
			s.Declined = append(s.Declined, id)
		case model.DecisionTimeout:
			s.TimedOut = append(s.TimedOut, id)
		}
	}
	slices.Sort(s.Declined)
	slices.Sort(s.TimedOut)
	return s, nil
}

// Responses returns every response recorded for a request in arrival order.
func (a *Arbiter) Responses(requestID string) ([]Record, error) {
	l, err := a.get(requestID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.records), nil
}

// Forget drops the ledger of a request.
func (a *Arbiter) Forget(requestID string) {
	a.mu.Lock()
	delete(a.ledgers, requestID)
	a.mu.Unlock()
}
