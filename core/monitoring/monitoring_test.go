package monitoring

import (
	"errors"
	"testing"
	"time"
)

type recordingMonitor struct {
	errs   []error
	panics []any
}

func (r *recordingMonitor) CaptureException(err error, _ map[string]string) {
	r.errs = append(r.errs, err)
}
func (r *recordingMonitor) CapturePanic(v any, _ map[string]string) { r.panics = append(r.panics, v) }
func (r *recordingMonitor) Flush(time.Duration)                     {}

func TestCapturePanicFromDeferred(t *testing.T) {
	rec := &recordingMonitor{}
	Init(rec)
	defer Init(NopMonitor{})

	boom := errors.New("boom")
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = CapturePanic(r, map[string]string{"request": "r1"})
			}
		}()
		panic(boom)
	}()
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped panic error, got %v", err)
	}
	if len(rec.panics) != 1 {
		t.Fatalf("expected one captured panic, got %d", len(rec.panics))
	}
	CaptureException(nil, nil)
	CaptureException(boom, nil)
	if len(rec.errs) != 1 {
		t.Fatalf("nil errors must not be reported")
	}
}
