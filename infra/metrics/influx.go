package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/bloodlink/core/metrics"
	"github.com/kilianp07/bloodlink/infra/logger"
)

// InfluxSink writes dispatch events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordRequestOutcome writes the terminal state of a request.
func (s *InfluxSink) RecordRequestOutcome(o coremetrics.RequestOutcome) error {
	p := write.NewPointWithMeasurement("request_outcome").
		AddTag("request_id", o.RequestID).
		AddTag("blood_type", o.BloodType.String()).
		AddTag("urgency", string(o.Urgency)).
		AddTag("status", string(o.Status))
	if o.Cause != "" {
		p = p.AddTag("cause", string(o.Cause))
	}
	p = p.AddField("quantity", o.Quantity).
		AddField("fulfilled_units", o.FulfilledUnits).
		AddField("waves", o.Waves).
		AddField("escalations", o.Escalations).
		AddField("open_seconds", round3(o.Duration().Seconds())).
		SetTime(o.ClosedAt)
	return s.write(p)
}

// RecordWave writes a released wave.
func (s *InfluxSink) RecordWave(w coremetrics.WaveRecord) error {
	p := write.NewPointWithMeasurement("wave_released").
		AddTag("request_id", w.RequestID).
		AddTag("urgency", string(w.Urgency)).
		AddTag("component", "dispatch_manager").
		AddField("seq", w.Seq).
		AddField("size", w.Size).
		AddField("radius_km", round3(w.RadiusKm)).
		SetTime(w.Time)
	return s.write(p)
}

// RecordNotification writes one alert delivery outcome.
func (s *InfluxSink) RecordNotification(n coremetrics.NotificationRecord) error {
	p := write.NewPointWithMeasurement("donor_notification").
		AddTag("request_id", n.RequestID).
		AddTag("donor_id", n.DonorID).
		AddTag("outcome", n.Outcome).
		AddTag("component", "fanout").
		AddField("latency_ms", round3(n.Latency.Seconds()*1000)).
		AddField("errors", n.Error).
		SetTime(n.Time)
	return s.write(p)
}

// RecordResponse writes an arbitrated response.
func (s *InfluxSink) RecordResponse(r coremetrics.ResponseRecord) error {
	p := write.NewPointWithMeasurement("donor_response").
		AddTag("request_id", r.RequestID).
		AddTag("donor_id", r.DonorID).
		AddTag("decision", r.Decision).
		AddTag("accepted", strconv.FormatBool(r.Result == "accepted")).
		AddField("result", r.Result).
		SetTime(r.Time)
	return s.write(p)
}

// RecordEscalation writes a matching round without candidates.
func (s *InfluxSink) RecordEscalation(e coremetrics.EscalationRecord) error {
	p := write.NewPointWithMeasurement("dispatch_escalation").
		AddTag("request_id", e.RequestID).
		AddField("round", e.Round).
		AddField("radius_km", round3(e.RadiusKm)).
		SetTime(e.Time)
	return s.write(p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

var (
	_ coremetrics.WaveRecorder         = (*InfluxSink)(nil)
	_ coremetrics.NotificationRecorder = (*InfluxSink)(nil)
	_ coremetrics.ResponseRecorder     = (*InfluxSink)(nil)
	_ coremetrics.EscalationRecorder   = (*InfluxSink)(nil)
)
