package metrics

import "errors"

// MultiSink fans records out to multiple sinks. Every sink is called even
// when an earlier one fails; errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func forEach[R any](sinks []MetricsSink, fn func(R) error) error {
	var errs []error
	for _, s := range sinks {
		if r, ok := s.(R); ok {
			if err := fn(r); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordRequestOutcome forwards the outcome to all sinks.
func (m *MultiSink) RecordRequestOutcome(o RequestOutcome) error {
	return forEach(m.Sinks, func(s MetricsSink) error { return s.RecordRequestOutcome(o) })
}

// RecordWave forwards to sinks implementing WaveRecorder.
func (m *MultiSink) RecordWave(w WaveRecord) error {
	return forEach(m.Sinks, func(r WaveRecorder) error { return r.RecordWave(w) })
}

// RecordNotification forwards to sinks implementing NotificationRecorder.
func (m *MultiSink) RecordNotification(n NotificationRecord) error {
	return forEach(m.Sinks, func(r NotificationRecorder) error { return r.RecordNotification(n) })
}

// RecordResponse forwards to sinks implementing ResponseRecorder.
func (m *MultiSink) RecordResponse(rr ResponseRecord) error {
	return forEach(m.Sinks, func(r ResponseRecorder) error { return r.RecordResponse(rr) })
}

// RecordEscalation forwards to sinks implementing EscalationRecorder.
func (m *MultiSink) RecordEscalation(e EscalationRecord) error {
	return forEach(m.Sinks, func(r EscalationRecorder) error { return r.RecordEscalation(e) })
}

// RecordDonorPool forwards to sinks implementing DonorPoolRecorder.
func (m *MultiSink) RecordDonorPool(size int) error {
	return forEach(m.Sinks, func(r DonorPoolRecorder) error { return r.RecordDonorPool(size) })
}
