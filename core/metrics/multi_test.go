package metrics

import (
	"errors"
	"testing"
)

type recordSink struct {
	count int
	err   error
}

func (r *recordSink) RecordRequestOutcome(RequestOutcome) error {
	r.count++
	return r.err
}

func (r *recordSink) RecordWave(WaveRecord) error {
	r.count++
	return r.err
}

// outcomeOnly implements only the mandatory interface.
type outcomeOnly struct{ count int }

func (o *outcomeOnly) RecordRequestOutcome(RequestOutcome) error {
	o.count++
	return nil
}

// TestMultiSink ensures records are forwarded to all sinks.
func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	s3 := &outcomeOnly{}
	m := NewMultiSink(s1, s2, s3)
	if err := m.RecordRequestOutcome(RequestOutcome{}); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	if err := m.RecordWave(WaveRecord{}); err != nil {
		t.Fatalf("record wave: %v", err)
	}
	if err := m.RecordNotification(NotificationRecord{}); err != nil {
		t.Fatalf("unsupported recorder must be skipped: %v", err)
	}
	if s1.count != 2 || s2.count != 2 || s3.count != 1 {
		t.Fatalf("records not forwarded: %d %d %d", s1.count, s2.count, s3.count)
	}
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	s1 := &recordSink{err: boom}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2)
	if err := m.RecordRequestOutcome(RequestOutcome{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom got %v", err)
	}
	if s2.count != 1 {
		t.Fatalf("second sink skipped after first failure")
	}
}
