package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/bloodlink/core/engagement"
	coremetrics "github.com/kilianp07/bloodlink/core/metrics"
)

// EngagementSink aggregates alert and response records into per-donor daily
// engagement KPIs.
type EngagementSink struct {
	store    engagement.Store
	alerts   *prometheus.GaugeVec
	accept   *prometheus.GaugeVec
	delivery *prometheus.GaugeVec
}

// NewEngagementSink creates a sink with Prometheus gauges registered on reg.
func NewEngagementSink(store engagement.Store, reg prometheus.Registerer) (*EngagementSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	alerts := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "donor_daily_alerts",
		Help: "Alerts sent to a donor during the day",
	}, []string{"donor_id", "day"})
	accept := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "donor_daily_accept_ratio",
		Help: "Share of answered alerts the donor accepted during the day",
	}, []string{"donor_id", "day"})
	delivery := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "donor_daily_delivery_ratio",
		Help: "Share of alerts that reached the donor during the day",
	}, []string{"donor_id", "day"})
	var err error
	if alerts, err = register(reg, alerts); err != nil {
		return nil, err
	}
	if accept, err = register(reg, accept); err != nil {
		return nil, err
	}
	if delivery, err = register(reg, delivery); err != nil {
		return nil, err
	}
	return &EngagementSink{store: store, alerts: alerts, accept: accept, delivery: delivery}, nil
}

// Store returns the store the KPIs are written to.
func (s *EngagementSink) Store() engagement.Store { return s.store }

// RecordRequestOutcome is a no-op; engagement is tracked per donor.
func (s *EngagementSink) RecordRequestOutcome(coremetrics.RequestOutcome) error { return nil }

// RecordNotification counts a sent or failed alert. Skipped alerts never
// reached the transport and are ignored.
func (s *EngagementSink) RecordNotification(n coremetrics.NotificationRecord) error {
	rec := engagement.Record{DonorID: n.DonorID, Date: n.Time}
	switch n.Outcome {
	case "skipped":
		return nil
	case "failed":
		rec.Alerts, rec.Failed = 1, 1
	default:
		rec.Alerts = 1
	}
	return s.add(rec)
}

// RecordResponse counts accepted responses, declines and timeouts.
func (s *EngagementSink) RecordResponse(r coremetrics.ResponseRecord) error {
	rec := engagement.Record{DonorID: r.DonorID, Date: r.Time}
	switch r.Decision {
	case "accept":
		rec.Accepts = 1
	case "decline":
		rec.Declines = 1
	case "timeout":
		rec.Timeouts = 1
	default:
		return nil
	}
	return s.add(rec)
}

func (s *EngagementSink) add(rec engagement.Record) error {
	if err := s.store.Add(rec); err != nil {
		return err
	}
	day := engagement.Day(rec.Date).Format("2006-01-02")
	records, err := s.store.Query(rec.DonorID, rec.Date, rec.Date)
	if err != nil || len(records) == 0 {
		return err
	}
	r := records[0]
	s.alerts.WithLabelValues(rec.DonorID, day).Set(float64(r.Alerts))
	s.accept.WithLabelValues(rec.DonorID, day).Set(r.AcceptRate())
	s.delivery.WithLabelValues(rec.DonorID, day).Set(r.DeliveryRate())
	return nil
}

var (
	_ coremetrics.NotificationRecorder = (*EngagementSink)(nil)
	_ coremetrics.ResponseRecorder     = (*EngagementSink)(nil)
)
