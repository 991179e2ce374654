package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/bloodlink/core/arbiter"
	"github.com/kilianp07/bloodlink/core/logger"
	"github.com/kilianp07/bloodlink/core/model"
)

// Responder arbitrates donor responses. dispatch.Manager implements it.
type Responder interface {
	Respond(ctx context.Context, donorID, requestID string, d model.Decision) (arbiter.Verdict, error)
}

type subscriber interface {
	Subscribe(topic, key string, h func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
}

type verdictSender interface {
	SendVerdict(donorID string, payload any) error
}

type responseMessage struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
}

// VerdictMessage is published back to the donor after arbitration.
type VerdictMessage struct {
	RequestID string          `json:"request_id"`
	Decision  model.Decision  `json:"decision"`
	Verdict   arbiter.Verdict `json:"verdict"`
	Error     string          `json:"error,omitempty"`
}

// ResponseListener feeds donor responses received on MQTT to a Responder
// and answers with the verdict. Each response is handled on its own
// goroutine so the subscription callback returns at once.
type ResponseListener struct {
	sub       subscriber
	verdicts  verdictSender
	topic     string
	responder Responder
	timeout   time.Duration
	log       logger.Logger

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

// NewResponseListener creates a listener on topic. verdicts may be nil.
func NewResponseListener(sub subscriber, verdicts verdictSender, topic string, r Responder, log logger.Logger) *ResponseListener {
	if topic == "" {
		topic = DefaultResponseTopic
	}
	return &ResponseListener{sub: sub, verdicts: verdicts, topic: topic, responder: r, timeout: 5 * time.Second, log: logger.OrNop(log)}
}

// Run subscribes and blocks until ctx is done and every response in
// flight has been answered.
func (l *ResponseListener) Run(ctx context.Context) error {
	if err := l.sub.Subscribe(l.topic, "response", func(topic string, payload []byte) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.stopped {
			return
		}
		l.inflight.Add(1)
		go func() {
			defer l.inflight.Done()
			l.handle(ctx, topic, payload)
		}()
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", l.topic, err)
	}
	<-ctx.Done()
	if err := l.sub.Unsubscribe(l.topic); err != nil {
		l.log.Warnf("unsubscribe %s: %v", l.topic, err)
	}
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.inflight.Wait()
	return nil
}

func (l *ResponseListener) handle(ctx context.Context, topic string, payload []byte) {
	donor := donorFromTopic(topic)
	var msg responseMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		l.log.Warnf("response from %s: decode: %v", donor, err)
		return
	}
	d, err := model.ParseDecision(msg.Decision)
	if err != nil {
		l.log.Warnf("response from %s: %v", donor, err)
		return
	}
	rctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	v, err := l.responder.Respond(rctx, donor, msg.RequestID, d)
	out := VerdictMessage{RequestID: msg.RequestID, Decision: d, Verdict: v}
	if err != nil {
		out.Error = err.Error()
		l.log.Debugf("response from %s for %s: %v", donor, msg.RequestID, err)
	}
	if l.verdicts == nil {
		return
	}
	if err := l.verdicts.SendVerdict(donor, out); err != nil {
		l.log.Warnf("send verdict to %s: %v", donor, err)
	}
}
