package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/bloodlink/core/audit"
	"github.com/kilianp07/bloodlink/core/model"
)

// WriteJSON writes the audit records to w as a JSON array.
func WriteJSON(w io.Writer, records []audit.Record) error {
	if records == nil {
		records = []audit.Record{}
	}
	return json.NewEncoder(w).Encode(records)
}

var csvHeader = []string{
	"request_id", "blood_type", "quantity", "urgency", "hospital", "status", "cause",
	"fulfilled_units", "waves", "alerts", "accepts", "escalations", "created_at", "closed_at",
}

// WriteCSV writes one line per request with its outcome and counters.
func WriteCSV(w io.Writer, records []audit.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		accepts := 0
		for _, resp := range r.Responses {
			if resp.Decision == model.DecisionAccept {
				accepts++
			}
		}
		rq := r.Request
		row := []string{
			rq.ID,
			string(rq.BloodType),
			strconv.Itoa(rq.Quantity),
			string(rq.Urgency),
			rq.Hospital.Name,
			string(rq.Status),
			string(rq.Cause),
			strconv.Itoa(rq.FulfilledUnits),
			strconv.Itoa(len(r.Waves)),
			strconv.Itoa(len(r.Notifications)),
			strconv.Itoa(accepts),
			strconv.Itoa(r.Escalations),
			formatTime(rq.CreatedAt),
			formatTime(rq.ClosedAt),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
