package metrics

import (
	"context"
	"time"

	"github.com/kilianp07/bloodlink/core/events"
	coremetrics "github.com/kilianp07/bloodlink/core/metrics"
	"github.com/kilianp07/bloodlink/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and forwards dispatch
// events to the recorders implemented by sink. It stops when the context is
// canceled or the bus is closed.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				collect(sink, ev)
			}
		}
	}()
}

func collect(sink coremetrics.MetricsSink, ev eventbus.Event) {
	switch e := ev.(type) {
	case events.WaveEvent:
		if r, ok := sink.(coremetrics.WaveRecorder); ok {
			_ = r.RecordWave(coremetrics.WaveRecord{
				RequestID: e.RequestID, Urgency: e.Urgency, Seq: e.Seq,
				Size: e.Size, RadiusKm: e.RadiusKm, Time: e.Time,
			})
		}
	case events.NotificationEvent:
		if r, ok := sink.(coremetrics.NotificationRecorder); ok {
			errStr := ""
			if e.Err != nil {
				errStr = e.Err.Error()
			}
			_ = r.RecordNotification(coremetrics.NotificationRecord{
				RequestID: e.RequestID, DonorID: e.DonorID, Outcome: e.Outcome,
				Error: errStr, Latency: e.Latency, Time: time.Now(),
			})
		}
	case events.ResponseEvent:
		if r, ok := sink.(coremetrics.ResponseRecorder); ok {
			_ = r.RecordResponse(coremetrics.ResponseRecord{
				RequestID: e.RequestID, DonorID: e.DonorID, Decision: e.Decision,
				Result: e.Result, Time: e.Time,
			})
		}
	case events.EscalationEvent:
		if r, ok := sink.(coremetrics.EscalationRecorder); ok {
			_ = r.RecordEscalation(coremetrics.EscalationRecord{
				RequestID: e.RequestID, Round: e.Round, RadiusKm: e.RadiusKm, Time: e.Time,
			})
		}
	}
}
