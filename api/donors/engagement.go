package donors

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/bloodlink/core/engagement"
)

// NewEngagementHandler exposes daily engagement KPIs via
// GET /api/donors/{id}/engagement. start and end are RFC3339; end defaults
// to now and start to seven days before end.
func NewEngagementHandler(store engagement.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			http.NotFound(w, r)
			return
		}
		start, _ := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
		end, _ := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
		if end.IsZero() {
			end = time.Now()
		}
		if start.IsZero() {
			start = end.AddDate(0, 0, -7)
		}
		recs, err := store.Query(id, start, end)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		type out struct {
			Date         string  `json:"date"`
			Alerts       int     `json:"alerts"`
			Failed       int     `json:"failed"`
			Accepts      int     `json:"accepts"`
			Declines     int     `json:"declines"`
			Timeouts     int     `json:"timeouts"`
			AcceptRate   float64 `json:"accept_rate"`
			DeliveryRate float64 `json:"delivery_rate"`
		}
		outSlice := make([]out, len(recs))
		for i, r := range recs {
			outSlice[i] = out{
				Date:         r.Date.Format("2006-01-02"),
				Alerts:       r.Alerts,
				Failed:       r.Failed,
				Accepts:      r.Accepts,
				Declines:     r.Declines,
				Timeouts:     r.Timeouts,
				AcceptRate:   r.AcceptRate(),
				DeliveryRate: r.DeliveryRate(),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(outSlice)
	})
}
