// Package donorindex keeps the process-wide cache of donor records and answers
// proximity queries over it.
//
// Donors are bucketed in a fixed grid of 0.1 degree cells. A query visits the
// cells overlapping the bounding box of the search circle, copies matching
// records while holding the read lock and filters on great-circle distance
// lazily while the caller iterates.
package donorindex

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kilianp07/bloodlink/core/compat"
	"github.com/kilianp07/bloodlink/core/model"
)

const (
	cellDeg  = 0.1
	latCells = 1800
	lonCells = 3600
)

// ErrUnknownDonor is returned when an operation targets an id not indexed.
var ErrUnknownDonor = errors.New("unknown donor")

// Criteria selects donors for a query.
type Criteria struct {
	// Types restricts blood types. An empty set matches every type.
	Types  compat.Set
	Origin model.Coordinate
	// MaxRadiusKm must be positive.
	MaxRadiusKm float64
	// MinAvailability is the lowest availability admitted. Unavailable
	// donors are never returned whatever the value, unless
	// IncludeUnavailable is set.
	MinAvailability model.Availability
	// IncludeUnavailable admits every availability. Matching never sets it.
	IncludeUnavailable bool
}

func (c Criteria) admits(d model.Donor) bool {
	if !c.IncludeUnavailable && (d.Availability == model.Unavailable || d.Availability < c.MinAvailability) {
		return false
	}
	if c.Types != 0 && !c.Types.Has(d.BloodType) {
		return false
	}
	return true
}

type cellKey struct{ lat, lon int }

func cellOf(c model.Coordinate) cellKey {
	return cellKey{lat: latIndex(c.Lat), lon: lonIndex(c.Lon)}
}

func latIndex(lat float64) int {
	i := int(math.Floor((lat + 90) / cellDeg))
	return min(max(i, 0), latCells-1)
}

func lonIndex(lon float64) int {
	i := int(math.Floor((lon + 180) / cellDeg))
	return ((i % lonCells) + lonCells) % lonCells
}

// Index is safe for concurrent use.
type Index struct {
	mu    sync.RWMutex
	byID  map[string]model.Donor
	cells map[cellKey]map[string]struct{}
}

// New returns an empty index.
func New() *Index {
	return &Index{
		byID:  make(map[string]model.Donor),
		cells: make(map[cellKey]map[string]struct{}),
	}
}

// Upsert inserts or replaces a donor record.
func (x *Index) Upsert(d model.Donor) error {
	return x.put(d, false)
}

// Merge inserts or replaces a donor record like Upsert, except that when
// the indexed record was updated after d, its availability, location and
// update time are kept.
func (x *Index) Merge(d model.Donor) error {
	return x.put(d, true)
}

func (x *Index) put(d model.Donor, keepNewer bool) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	d = d.Clone()
	x.mu.Lock()
	defer x.mu.Unlock()
	if old, ok := x.byID[d.ID]; ok {
		if keepNewer && old.UpdatedAt.After(d.UpdatedAt) {
			d.Availability = old.Availability
			d.Location = old.Location
			d.UpdatedAt = old.UpdatedAt
		}
		x.unlink(old)
	}
	x.byID[d.ID] = d
	k := cellOf(d.Location)
	bucket := x.cells[k]
	if bucket == nil {
		bucket = make(map[string]struct{})
		x.cells[k] = bucket
	}
	bucket[d.ID] = struct{}{}
	return nil
}

func (x *Index) unlink(d model.Donor) {
	k := cellOf(d.Location)
	if bucket := x.cells[k]; bucket != nil {
		delete(bucket, d.ID)
		if len(bucket) == 0 {
			delete(x.cells, k)
		}
	}
}

// SetAvailability updates only the availability of a donor.
func (x *Index) SetAvailability(id string, a model.Availability, at time.Time) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	d, ok := x.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDonor, id)
	}
	d.Availability = a
	if !at.IsZero() {
		d.UpdatedAt = at
	}
	x.byID[id] = d
	return nil
}

// Remove drops a donor. It reports whether the donor was present.
func (x *Index) Remove(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	d, ok := x.byID[id]
	if !ok {
		return false
	}
	x.unlink(d)
	delete(x.byID, id)
	return true
}

// Get returns a copy of the donor record.
func (x *Index) Get(id string) (model.Donor, bool) {
	x.mu.RLock()
	d, ok := x.byID[id]
	x.mu.RUnlock()
	if !ok {
		return model.Donor{}, false
	}
	return d.Clone(), true
}

// Len returns the number of indexed donors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byID)
}

// List returns every donor sorted by id.
func (x *Index) List() []model.Donor {
	x.mu.RLock()
	out := make([]model.Donor, 0, len(x.byID))
	for _, d := range x.byID {
		out = append(out, d.Clone())
	}
	x.mu.RUnlock()
	slices.SortFunc(out, func(a, b model.Donor) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Query yields donors matching c within c.MaxRadiusKm of c.Origin. Order is
// unspecified. The candidate set is fixed when Query is called; later
// upserts are not observed by the returned sequence.
func (x *Index) Query(c Criteria) iter.Seq[model.Donor] {
	if c.MaxRadiusKm <= 0 || c.Origin.Validate() != nil {
		return func(func(model.Donor) bool) {}
	}
	cands := x.collect(c)
	return func(yield func(model.Donor) bool) {
		for _, d := range cands {
			if c.Origin.DistanceKm(d.Location) > c.MaxRadiusKm {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

func (x *Index) collect(c Criteria) []model.Donor {
	latLo, latHi, lons := span(c.Origin, c.MaxRadiusKm)

	x.mu.RLock()
	defer x.mu.RUnlock()

	var out []model.Donor
	cellCount := (latHi - latLo + 1) * len(lons)
	if cellCount > len(x.byID) {
		var inLon [lonCells]bool
		for _, lon := range lons {
			inLon[lon] = true
		}
		for _, d := range x.byID {
			k := cellOf(d.Location)
			if k.lat < latLo || k.lat > latHi || !inLon[k.lon] {
				continue
			}
			if c.admits(d) {
				out = append(out, d.Clone())
			}
		}
		return out
	}
	for lat := latLo; lat <= latHi; lat++ {
		for _, lon := range lons {
			for id := range x.cells[cellKey{lat: lat, lon: lon}] {
				if d := x.byID[id]; c.admits(d) {
					out = append(out, d.Clone())
				}
			}
		}
	}
	return out
}

// span returns the latitude cell range and the longitude cells covering the
// spherical cap of radius km around o.
func span(o model.Coordinate, km float64) (int, int, []int) {
	ang := km / model.EarthRadiusKm
	dLat := ang * 180 / math.Pi
	latLo := latIndex(o.Lat-dLat) - 1
	latHi := latIndex(o.Lat+dLat) + 1
	latLo = max(latLo, 0)
	latHi = min(latHi, latCells-1)

	phi := o.Lat * math.Pi / 180
	if ang >= math.Pi/2 || math.Sin(ang) >= math.Cos(phi) {
		return latLo, latHi, allLons()
	}
	dLon := math.Asin(math.Sin(ang)/math.Cos(phi)) * 180 / math.Pi
	lo := int(math.Floor((o.Lon-dLon+180)/cellDeg)) - 1
	hi := int(math.Floor((o.Lon+dLon+180)/cellDeg)) + 1
	if hi-lo+1 >= lonCells {
		return latLo, latHi, allLons()
	}
	lons := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		lons = append(lons, ((i%lonCells)+lonCells)%lonCells)
	}
	return latLo, latHi, lons
}

func allLons() []int {
	out := make([]int, lonCells)
	for i := range out {
		out[i] = i
	}
	return out
}
