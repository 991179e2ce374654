package kpi

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/bloodlink/core/engagement"
)

// SQLiteStore persists donor engagement records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS donor_engagement (
        donor_id TEXT,
        day INTEGER,
        alerts INTEGER,
        failed INTEGER,
        accepts INTEGER,
        declines INTEGER,
        timeouts INTEGER,
        PRIMARY KEY(donor_id, day)
    );`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Add inserts the record or accumulates it into the existing day row.
func (s *SQLiteStore) Add(r engagement.Record) error {
	d := engagement.Day(r.Date)
	_, err := s.db.Exec(`INSERT INTO donor_engagement (donor_id, day, alerts, failed, accepts, declines, timeouts)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(donor_id, day) DO UPDATE SET
            alerts = alerts + excluded.alerts,
            failed = failed + excluded.failed,
            accepts = accepts + excluded.accepts,
            declines = declines + excluded.declines,
            timeouts = timeouts + excluded.timeouts`,
		r.DonorID, d.Unix(), r.Alerts, r.Failed, r.Accepts, r.Declines, r.Timeouts)
	return err
}

// Query returns records in the range [start,end].
func (s *SQLiteStore) Query(donorID string, start, end time.Time) ([]engagement.Record, error) {
	start = engagement.Day(start)
	end = engagement.Day(end)
	rows, err := s.db.Query(`SELECT donor_id, day, alerts, failed, accepts, declines, timeouts
        FROM donor_engagement WHERE donor_id = ? AND day >= ? AND day <= ? ORDER BY day`,
		donorID, start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []engagement.Record
	for rows.Next() {
		var (
			r  engagement.Record
			ts int64
		)
		if err := rows.Scan(&r.DonorID, &ts, &r.Alerts, &r.Failed, &r.Accepts, &r.Declines, &r.Timeouts); err != nil {
			return nil, err
		}
		r.Date = time.Unix(ts, 0).UTC()
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

var _ engagement.Store = (*SQLiteStore)(nil)
