// Package postgres loads donor snapshots from the registry database.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/bloodlink/core/model"
	"github.com/kilianp07/bloodlink/core/registry"
)

// Schema creates the donors table read by DonorSource.
const Schema = `CREATE TABLE IF NOT EXISTS donors (
	id TEXT PRIMARY KEY,
	blood_type TEXT NOT NULL,
	lat DOUBLE PRECISION NOT NULL,
	lon DOUBLE PRECISION NOT NULL,
	availability TEXT NOT NULL DEFAULT 'available',
	last_donation TIMESTAMPTZ,
	health_conditions TEXT[] NOT NULL DEFAULT '{}',
	vaccinated BOOLEAN NOT NULL DEFAULT FALSE,
	deferred BOOLEAN NOT NULL DEFAULT FALSE,
	contact_channel TEXT NOT NULL DEFAULT 'sms',
	contact_address TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// DonorSource implements registry.Source over a PostgreSQL donors table.
// Inactive rows are left out of snapshots.
type DonorSource struct {
	db *pgxpool.Pool
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*DonorSource, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &DonorSource{db: db}, nil
}

// NewDonorSource wraps an existing pool.
func NewDonorSource(db *pgxpool.Pool) *DonorSource { return &DonorSource{db: db} }

// Migrate creates the donors table when missing.
func (s *DonorSource) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	return err
}

// Upsert writes a donor row.
func (s *DonorSource) Upsert(ctx context.Context, d model.Donor) error {
	var last *time.Time
	if !d.LastDonation.IsZero() {
		last = &d.LastDonation
	}
	conds := d.Eligibility.HealthConditions
	if conds == nil {
		conds = []string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO donors (
			id, blood_type, lat, lon, availability, last_donation,
			health_conditions, vaccinated, deferred, contact_channel, contact_address, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
		ON CONFLICT (id) DO UPDATE SET
			blood_type=EXCLUDED.blood_type,
			lat=EXCLUDED.lat,
			lon=EXCLUDED.lon,
			availability=EXCLUDED.availability,
			last_donation=EXCLUDED.last_donation,
			health_conditions=EXCLUDED.health_conditions,
			vaccinated=EXCLUDED.vaccinated,
			deferred=EXCLUDED.deferred,
			contact_channel=EXCLUDED.contact_channel,
			contact_address=EXCLUDED.contact_address,
			active=TRUE,
			updated_at=now()
	`, d.ID, string(d.BloodType), d.Location.Lat, d.Location.Lon, d.Availability.String(), last,
		conds, d.Eligibility.Vaccinated, d.Eligibility.Deferred, string(d.Contact.Channel), d.Contact.Address)
	return err
}

// Deactivate hides a donor from later snapshots.
func (s *DonorSource) Deactivate(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `UPDATE donors SET active=FALSE, updated_at=now() WHERE id=$1`, id)
	return err
}

// Load returns every active donor.
func (s *DonorSource) Load(ctx context.Context) ([]model.Donor, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, blood_type, lat, lon, availability, last_donation,
			health_conditions, vaccinated, deferred, contact_channel, contact_address, updated_at
		FROM donors
		WHERE active
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var donors []model.Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, err
		}
		donors = append(donors, d)
	}
	return donors, rows.Err()
}

func scanDonor(row pgx.Row) (model.Donor, error) {
	var (
		d       model.Donor
		bt      string
		avail   string
		last    *time.Time
		channel string
	)
	if err := row.Scan(
		&d.ID,
		&bt,
		&d.Location.Lat,
		&d.Location.Lon,
		&avail,
		&last,
		&d.Eligibility.HealthConditions,
		&d.Eligibility.Vaccinated,
		&d.Eligibility.Deferred,
		&channel,
		&d.Contact.Address,
		&d.UpdatedAt,
	); err != nil {
		return model.Donor{}, err
	}
	d.BloodType = model.BloodType(bt)
	// Unknown values read as unavailable.
	d.Availability, _ = model.ParseAvailability(avail)
	if last != nil {
		d.LastDonation = *last
	}
	d.Contact.Channel = model.Channel(channel)
	return d, nil
}

// Close releases the pool.
func (s *DonorSource) Close() { s.db.Close() }

var _ registry.Source = (*DonorSource)(nil)
