package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	coreaudit "github.com/kilianp07/bloodlink/core/audit"
	"github.com/kilianp07/bloodlink/core/model"
)

// NewHandler returns an HTTP handler exposing audit records via GET /api/audit.
// Supported filters: start, end (RFC3339), request_id, donor_id, blood_type,
// status and limit.
func NewHandler(store coreaudit.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		qs := r.URL.Query()
		q := coreaudit.Query{
			RequestID: qs.Get("request_id"),
			DonorID:   qs.Get("donor_id"),
			Status:    model.Status(qs.Get("status")),
		}
		if s := qs.Get("start"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.Start = t
			}
		}
		if s := qs.Get("end"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.End = t
			}
		}
		if s := qs.Get("blood_type"); s != "" {
			bt, err := model.ParseBloodType(s)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			q.BloodType = bt
		}
		if s := qs.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			q.Limit = n
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []coreaudit.Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
