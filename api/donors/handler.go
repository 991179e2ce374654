package donors

import (
	"encoding/json"
	"iter"
	"math"
	"net/http"
	"slices"
	"sort"
	"strconv"

	"github.com/kilianp07/bloodlink/core/compat"
	"github.com/kilianp07/bloodlink/core/donorindex"
	"github.com/kilianp07/bloodlink/core/model"
)

// Lister returns the indexed donors, in full or around a point.
// donorindex.Index implements it.
type Lister interface {
	List() []model.Donor
	Query(c donorindex.Criteria) iter.Seq[model.Donor]
}

// Entry is the public view of an indexed donor. Contact details are omitted.
type Entry struct {
	ID           string             `json:"id"`
	BloodType    model.BloodType    `json:"blood_type"`
	Availability model.Availability `json:"availability"`
	Location     model.Coordinate   `json:"location"`
	DistanceKm   *float64           `json:"distance_km,omitempty"`
}

// NewListHandler exposes the donor index via GET /api/donors. Optional
// filters: blood_type, availability, and lat/lon/radius_km.
func NewListHandler(idx Lister) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		qs := r.URL.Query()
		var (
			bt     model.BloodType
			avail  *model.Availability
			center *model.Coordinate
			radius = math.Inf(1)
		)
		if s := qs.Get("blood_type"); s != "" {
			v, err := model.ParseBloodType(s)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			bt = v
		}
		if s := qs.Get("availability"); s != "" {
			v, err := model.ParseAvailability(s)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			avail = &v
		}
		if qs.Get("lat") != "" || qs.Get("lon") != "" {
			lat, err1 := strconv.ParseFloat(qs.Get("lat"), 64)
			lon, err2 := strconv.ParseFloat(qs.Get("lon"), 64)
			c := model.Coordinate{Lat: lat, Lon: lon}
			if err1 != nil || err2 != nil || c.Validate() != nil {
				http.Error(w, "invalid lat/lon", http.StatusBadRequest)
				return
			}
			center = &c
			if s := qs.Get("radius_km"); s != "" {
				v, err := strconv.ParseFloat(s, 64)
				if err != nil || v <= 0 {
					http.Error(w, "invalid radius_km", http.StatusBadRequest)
					return
				}
				radius = v
			}
		}

		var found iter.Seq[model.Donor]
		if center != nil && !math.IsInf(radius, 1) {
			c := donorindex.Criteria{Origin: *center, MaxRadiusKm: radius, IncludeUnavailable: true}
			if bt != "" {
				c.Types = compat.Set(0).With(bt)
			}
			found = idx.Query(c)
		} else {
			found = slices.Values(idx.List())
		}

		entries := []Entry{}
		for d := range found {
			if bt != "" && d.BloodType != bt {
				continue
			}
			if avail != nil && d.Availability != *avail {
				continue
			}
			e := Entry{ID: d.ID, BloodType: d.BloodType, Availability: d.Availability, Location: d.Location}
			if center != nil {
				km := center.DistanceKm(d.Location)
				if km > radius {
					continue
				}
				e.DistanceKm = &km
			}
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].DistanceKm != nil && *entries[i].DistanceKm != *entries[j].DistanceKm {
				return *entries[i].DistanceKm < *entries[j].DistanceKm
			}
			return entries[i].ID < entries[j].ID
		})
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
