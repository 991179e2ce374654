// Package donorkpi rebuilds donor engagement KPIs from the audit trail.
package donorkpi

import (
	"context"
	"fmt"

	"github.com/kilianp07/bloodlink/core/audit"
	"github.com/kilianp07/bloodlink/core/engagement"
	"github.com/kilianp07/bloodlink/core/model"
)

// Records converts one audit record into per-donor engagement increments.
// Alerts are dated by the wave that carried them, answers by their own
// timestamp. Skipped alerts never reached the transport and are left out.
func Records(r audit.Record) []engagement.Record {
	waveAt := make(map[int]model.WaveSummary, len(r.Waves))
	for _, w := range r.Waves {
		waveAt[w.Seq] = w
	}
	var out []engagement.Record
	for _, n := range r.Notifications {
		if n.Outcome == "skipped" {
			continue
		}
		at := r.Timestamp
		if w, ok := waveAt[n.WaveSeq]; ok && !w.CreatedAt.IsZero() {
			at = w.CreatedAt
		}
		rec := engagement.Record{DonorID: n.DonorID, Date: engagement.Day(at), Alerts: 1}
		if n.Outcome == "failed" {
			rec.Failed = 1
		}
		out = append(out, rec)
	}
	for _, resp := range r.Responses {
		rec := engagement.Record{DonorID: resp.DonorID, Date: engagement.Day(resp.Timestamp)}
		switch resp.Decision {
		case model.DecisionAccept:
			rec.Accepts = 1
		case model.DecisionDecline:
			rec.Declines = 1
		case model.DecisionTimeout:
			rec.Timeouts = 1
		default:
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Backfill replays the audit records matching q into dst and returns the
// number of requests processed. dst should not already hold live counts
// for the same period since records are accumulated.
func Backfill(ctx context.Context, src audit.Store, dst engagement.Store, q audit.Query) (int, error) {
	history, err := src.Query(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("query audit: %w", err)
	}
	for i, h := range history {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		for _, rec := range Records(h) {
			if err := dst.Add(rec); err != nil {
				return i, fmt.Errorf("request %s: %w", h.Request.ID, err)
			}
		}
	}
	return len(history), nil
}
