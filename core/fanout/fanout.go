// Package fanout delivers a wave of alerts to donors concurrently and streams
// per-donor outcomes back to the caller.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kilianp07/bloodlink/core/logger"
	"github.com/kilianp07/bloodlink/core/model"
	"github.com/kilianp07/bloodlink/core/monitoring"
)

var (
	// ErrStaleDonor marks a donor who became unavailable between ranking
	// and sending.
	ErrStaleDonor = errors.New("donor no longer available")
	// ErrDeliveryUnknown lets a transport signal that the message left but
	// no receipt was obtained.
	ErrDeliveryUnknown = errors.New("delivery status unknown")
	// ErrWaveDeadline is attached to outcomes still in flight when the wave
	// closed.
	ErrWaveDeadline = errors.New("wave deadline reached")
)

// DeliveryFailure wraps a transport error for one donor.
type DeliveryFailure struct {
	DonorID string
	Err     error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.DonorID, e.Err)
}

func (e *DeliveryFailure) Unwrap() error { return e.Err }

// Status is the per-donor result of a send.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
	StatusSkipped   Status = "skipped"
)

// Outcome reports what happened to one alert.
type Outcome struct {
	DonorID   string
	RequestID string
	WaveSeq   int
	Status    Status
	Err       error
	Latency   time.Duration
}

// Recipient is a donor to alert together with its endpoint.
type Recipient struct {
	DonorID string
	Contact model.ContactRef
}

// Summary is the content of an alert.
type Summary struct {
	RequestID    string          `json:"request_id"`
	WaveSeq      int             `json:"wave_seq"`
	BloodType    model.BloodType `json:"blood_type"`
	Units        int             `json:"units"`
	Urgency      model.Urgency   `json:"urgency"`
	UrgencyLabel string          `json:"urgency_label"`
	Hospital     model.Hospital  `json:"hospital"`
	Deadline     time.Time       `json:"deadline"`
}

// Transport sends a single alert. A nil error means the alert was
// delivered. Errors wrapping ErrDeliveryUnknown or context.DeadlineExceeded
// are reported as unknown, everything else as failed.
type Transport interface {
	Send(ctx context.Context, to Recipient, s Summary) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, to Recipient, s Summary) error

func (f TransportFunc) Send(ctx context.Context, to Recipient, s Summary) error { return f(ctx, to, s) }

// StaleCheck reports whether a donor must no longer be contacted.
type StaleCheck func(donorID string) bool

// Batch is one wave handed to Dispatch.
type Batch struct {
	Wave       model.CandidateWave
	Recipients []Recipient
	Summary    Summary
}

// Config bounds the fanout.
type Config struct {
	// MaxConcurrent caps sends in flight across all waves.
	MaxConcurrent int64         `json:"max_concurrent"`
	SendTimeout   time.Duration `json:"send_timeout"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 32
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
}

// Fanout is safe for concurrent use by several request actors.
type Fanout struct {
	cfg       Config
	transport Transport
	sem       *semaphore.Weighted
	stale     StaleCheck
	log       logger.Logger
}

// New creates a Fanout. stale may be nil.
func New(cfg Config, t Transport, stale StaleCheck, log logger.Logger) *Fanout {
	cfg.SetDefaults()
	return &Fanout{
		cfg:       cfg,
		transport: t,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		stale:     stale,
		log:       logger.OrNop(log),
	}
}

// Dispatch starts sending the batch and returns a channel receiving exactly
// one outcome per recipient. The channel is closed once every recipient is
// accounted for. If the wave deadline passes first, donors still in flight
// are reported unknown and their late results are dropped. Cancelling ctx
// stops new sends; remaining donors are reported skipped while sends already
// started run to completion.
func (f *Fanout) Dispatch(ctx context.Context, b Batch) <-chan Outcome {
	n := len(b.Recipients)
	out := make(chan Outcome, n)
	if n == 0 {
		close(out)
		return out
	}
	results := make(chan Outcome, n)
	deadline := b.Wave.Deadline

	launchCtx := ctx
	var cancelLaunch context.CancelFunc = func() {}
	if !deadline.IsZero() {
		launchCtx, cancelLaunch = context.WithDeadline(ctx, deadline)
	}

	go f.launch(launchCtx, ctx, b, results)
	go func() {
		defer cancelLaunch()
		f.collect(b, deadline, results, out)
	}()
	return out
}

func (f *Fanout) launch(launchCtx, parent context.Context, b Batch, results chan<- Outcome) {
	for _, rcp := range b.Recipients {
		base := Outcome{DonorID: rcp.DonorID, RequestID: b.Wave.RequestID, WaveSeq: b.Wave.Seq}
		if err := launchCtx.Err(); err != nil {
			base.Status, base.Err = StatusSkipped, err
			results <- base
			continue
		}
		if f.stale != nil && f.stale(rcp.DonorID) {
			base.Status, base.Err = StatusSkipped, ErrStaleDonor
			results <- base
			continue
		}
		if err := f.sem.Acquire(launchCtx, 1); err != nil {
			base.Status, base.Err = StatusSkipped, err
			results <- base
			continue
		}
		go func(rcp Recipient, o Outcome) {
			defer f.sem.Release(1)
			results <- f.send(parent, rcp, b.Summary, o)
		}(rcp, base)
	}
}

func (f *Fanout) send(parent context.Context, rcp Recipient, s Summary, o Outcome) (res Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = o
			res.Status = StatusFailed
			res.Err = &DeliveryFailure{DonorID: rcp.DonorID, Err: monitoring.CapturePanic(r, map[string]string{"donor_id": rcp.DonorID})}
		}
		res.Latency = time.Since(start)
	}()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), f.cfg.SendTimeout)
	defer cancel()

	err := f.transport.Send(ctx, rcp, s)
	res = o
	switch {
	case err == nil:
		res.Status = StatusDelivered
	case errors.Is(err, ErrDeliveryUnknown), errors.Is(err, context.DeadlineExceeded):
		res.Status, res.Err = StatusUnknown, err
	default:
		res.Status, res.Err = StatusFailed, &DeliveryFailure{DonorID: rcp.DonorID, Err: err}
		f.log.Warnf("alert for request %s to donor %s failed: %v", o.RequestID, rcp.DonorID, err)
	}
	return res
}

func (f *Fanout) collect(b Batch, deadline time.Time, results <-chan Outcome, out chan<- Outcome) {
	defer close(out)
	pending := make(map[string]struct{}, len(b.Recipients))
	for _, r := range b.Recipients {
		pending[r.DonorID] = struct{}{}
	}
	var expire <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		expire = t.C
	}
	for len(pending) > 0 {
		select {
		case o := <-results:
			if _, ok := pending[o.DonorID]; !ok {
				continue
			}
			delete(pending, o.DonorID)
			out <- o
		case <-expire:
			for _, r := range b.Recipients {
				if _, ok := pending[r.DonorID]; !ok {
					continue
				}
				delete(pending, r.DonorID)
				out <- Outcome{
					DonorID:   r.DonorID,
					RequestID: b.Wave.RequestID,
					WaveSeq:   b.Wave.Seq,
					Status:    StatusUnknown,
					Err:       ErrWaveDeadline,
				}
			}
		}
	}
}

// Collect drains ch into a slice.
func Collect(ch <-chan Outcome) []Outcome {
	var out []Outcome
	for o := range ch {
		out = append(out, o)
	}
	return out
}
