// Package registry keeps the donor index in step with the donor registry.
//
// A Source provides full snapshots of eligible donors; a Watcher streams
// availability changes between snapshots. Sync applies both to the index.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/bloodlink/core/donorindex"
	"github.com/kilianp07/bloodlink/core/logger"
	"github.com/kilianp07/bloodlink/core/metrics"
	"github.com/kilianp07/bloodlink/core/model"
)

// AvailabilityChange is an incremental update pushed by the registry.
type AvailabilityChange struct {
	DonorID      string             `json:"donor_id"`
	Availability model.Availability `json:"availability"`
	// Location is set when the donor reported a new position.
	Location *model.Coordinate `json:"location,omitempty"`
	At       time.Time         `json:"at"`
}

// Source returns the current set of donors.
type Source interface {
	Load(ctx context.Context) ([]model.Donor, error)
}

// Watcher calls fn for every change until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, fn func(AvailabilityChange)) error
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]model.Donor, error)

func (f SourceFunc) Load(ctx context.Context) ([]model.Donor, error) { return f(ctx) }

// Sync owns the write side of a donor index.
type Sync struct {
	idx  *donorindex.Index
	src  Source
	log  logger.Logger
	sink metrics.MetricsSink
}

// NewSync creates a Sync. sink may be nil; when it implements
// metrics.DonorPoolRecorder the pool size is recorded after every change.
func NewSync(idx *donorindex.Index, src Source, sink metrics.MetricsSink, log logger.Logger) *Sync {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Sync{idx: idx, src: src, log: logger.OrNop(log), sink: sink}
}

// Reload replaces the index content with a fresh snapshot. Invalid records
// are skipped; donors missing from the snapshot are removed. Availability
// applied after a record's snapshot time survives the reload. It returns
// the number of donors indexed.
func (s *Sync) Reload(ctx context.Context) (int, error) {
	donors, err := s.src.Load(ctx)
	if err != nil {
		return s.idx.Len(), fmt.Errorf("load donors: %w", err)
	}
	seen := make(map[string]struct{}, len(donors))
	var skipped int
	for _, d := range donors {
		if err := s.idx.Merge(d); err != nil {
			skipped++
			s.log.Warnf("skip donor record: %v", err)
			continue
		}
		seen[d.ID] = struct{}{}
	}
	var removed int
	for _, d := range s.idx.List() {
		if _, ok := seen[d.ID]; !ok && s.idx.Remove(d.ID) {
			removed++
		}
	}
	n := s.idx.Len()
	s.log.Infof("donor index reloaded: %d donors (%d skipped, %d removed)", n, skipped, removed)
	s.recordPool()
	return n, nil
}

// Apply updates a single donor from a change notification.
func (s *Sync) Apply(c AvailabilityChange) error {
	if c.Location != nil {
		d, ok := s.idx.Get(c.DonorID)
		if !ok {
			return fmt.Errorf("apply %s: %w", c.DonorID, donorindex.ErrUnknownDonor)
		}
		d.Location = *c.Location
		d.Availability = c.Availability
		if !c.At.IsZero() {
			d.UpdatedAt = c.At
		}
		if err := s.idx.Upsert(d); err != nil {
			return fmt.Errorf("apply %s: %w", c.DonorID, err)
		}
		return nil
	}
	if err := s.idx.SetAvailability(c.DonorID, c.Availability, c.At); err != nil {
		return fmt.Errorf("apply %s: %w", c.DonorID, err)
	}
	return nil
}

func (s *Sync) recordPool() {
	if rec, ok := s.sink.(metrics.DonorPoolRecorder); ok {
		if err := rec.RecordDonorPool(s.idx.Len()); err != nil {
			s.log.Warnf("record donor pool: %v", err)
		}
	}
}

// Run loads an initial snapshot, then applies changes from w and reloads
// every refresh until ctx is done. w may be nil and refresh zero.
func (s *Sync) Run(ctx context.Context, w Watcher, refresh time.Duration) error {
	if _, err := s.Reload(ctx); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	if w != nil {
		go func() {
			errCh <- w.Watch(ctx, func(c AvailabilityChange) {
				if err := s.Apply(c); err != nil {
					s.log.Warnf("availability change: %v", err)
				}
			})
		}()
	}
	var tick <-chan time.Time
	if refresh > 0 {
		t := time.NewTicker(refresh)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("watch availability: %w", err)
			}
			errCh = nil
		case <-tick:
			if _, err := s.Reload(ctx); err != nil {
				s.log.Errorf("periodic reload: %v", err)
			}
		}
	}
}
