package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/bloodlink/core/model"
)

func sampleRecord(id string, ts time.Time, bt model.BloodType, st model.Status, donors ...string) Record {
	return Record{
		Timestamp: ts,
		Request:   model.EmergencyRequest{ID: id, BloodType: bt, Quantity: 1, Status: st},
		Waves:     []model.WaveSummary{{Seq: 1, DonorIDs: donors}},
	}
}

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	stores := map[string]Store{}
	for _, cfg := range []Config{
		{Backend: "jsonl", Path: filepath.Join(dir, "audit.jsonl")},
		{Backend: "rotating", Path: filepath.Join(dir, "rot", "audit.jsonl"), MaxSizeMB: 1},
		{Backend: "sqlite", Path: filepath.Join(dir, "audit.db")},
		{Backend: "leveldb", Path: filepath.Join(dir, "audit.ldb")},
	} {
		s, err := Open(cfg)
		require.NoError(t, err, cfg.Backend)
		t.Cleanup(func() { _ = s.Close() })
		stores[cfg.Backend] = s
	}
	return stores
}

func TestStoresAppendQuery(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Append(ctx, sampleRecord("r1", base, model.OPos, model.StatusFulfilled, "d1", "d2")))
			require.NoError(t, s.Append(ctx, sampleRecord("r2", base.Add(time.Hour), model.ANeg, model.StatusExpired, "d3")))
			require.NoError(t, s.Append(ctx, sampleRecord("r3", base.Add(2*time.Hour), model.OPos, model.StatusCancelled, "d1")))

			all, err := s.Query(ctx, Query{})
			require.NoError(t, err)
			assert.Len(t, all, 3)

			byDonor, err := s.Query(ctx, Query{DonorID: "d1"})
			require.NoError(t, err)
			assert.Equal(t, []string{"r1", "r3"}, requestIDs(byDonor))

			byType, err := s.Query(ctx, Query{BloodType: model.OPos, Status: model.StatusCancelled})
			require.NoError(t, err)
			assert.Equal(t, []string{"r3"}, requestIDs(byType))

			window, err := s.Query(ctx, Query{Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)})
			require.NoError(t, err)
			assert.Equal(t, []string{"r2"}, requestIDs(window))

			one, err := s.Query(ctx, Query{RequestID: "r2"})
			require.NoError(t, err)
			assert.Equal(t, []string{"r2"}, requestIDs(one))

			limited, err := s.Query(ctx, Query{Limit: 2})
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func requestIDs(recs []Record) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.Request.ID)
	}
	return out
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(Config{Backend: "csv", Path: "x"})
	assert.Error(t, err)
	s, err := Open(Config{Backend: "none"})
	require.NoError(t, err)
	assert.NoError(t, s.Append(context.Background(), Record{}))
}

func TestRotatingStoreReadsBackups(t *testing.T) {
	dir := t.TempDir()
	s, err := NewRotatingJSONLStore(filepath.Join(dir, "audit.jsonl"), 1, 5, 0)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	// Each record carries ~64KiB of notes so that rotation triggers.
	pad := make([]byte, 64*1024)
	for i := range pad {
		pad[i] = 'x'
	}
	for i := 0; i < 40; i++ {
		rec := sampleRecord(fmt.Sprintf("r%02d", i), time.Unix(int64(i), 0), model.BPos, model.StatusFulfilled)
		rec.Request.Notes = string(pad)
		require.NoError(t, s.Append(ctx, rec))
		// Backup names carry millisecond timestamps.
		time.Sleep(2 * time.Millisecond)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	assert.NotEmpty(t, files, "expected rotated backups")
	out, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, out, 40)
	assert.Equal(t, "r00", out[0].Request.ID)
}
