package usb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	defaultSightingLimit = 100
	maxSightingLimit     = 1000

	// timestampLayout is fixed-width so stored timestamps sort lexically.
	timestampLayout = "2006-01-02T15:04:05.000000000Z"
)

// Sighting is the persisted presence history of one device fingerprint.
type Sighting struct {
	Fingerprint string     `json:"fingerprint"`
	VID         uint16     `json:"vid"`
	PID         uint16     `json:"pid"`
	Serial      *string    `json:"serial"`
	PortPath    string     `json:"port_path"`
	SystemPath  string     `json:"system_path"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastSeen    time.Time  `json:"last_seen"`
	LastRemoved *time.Time `json:"last_removed,omitempty"`
	Appearances int        `json:"appearances"`
	Present     bool       `json:"present"`
}

// SightingRepository stores when devices were first and last seen.
//
// Implementations must be thread-safe and use UTC timestamps.
type SightingRepository interface {
	ScanObserver

	// List returns sightings ordered by most recently seen first.
	// limit is clamped to a sane range; zero selects the default.
	List(ctx context.Context, limit int) ([]Sighting, error)

	// MarkAllAbsent flags every sighting as no longer present. Called at
	// startup, before the first scan re-establishes presence.
	MarkAllAbsent(ctx context.Context) (int64, error)

	// Prune deletes absent sightings last seen before now-olderThan.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteSightingRepository implements SightingRepository using the
// device_sightings table.
type SQLiteSightingRepository struct {
	db *sql.DB
}

// NewSQLiteSightingRepository creates a sighting repository on an open
// SQLite connection whose schema has been migrated.
func NewSQLiteSightingRepository(db *sql.DB) *SQLiteSightingRepository {
	return &SQLiteSightingRepository{db: db}
}

// ObserveScan records appearing devices as present and disappearing ones
// as removed, in a single transaction.
func (r *SQLiteSightingRepository) ObserveScan(ctx context.Context, diff ScanDiff) (err error) {
	at := diff.At
	if at.IsZero() {
		at = time.Now()
	}
	ts := formatTimestamp(at)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning sighting transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback() //nolint:errcheck // Original error takes precedence
		}
	}()

	for _, d := range diff.Added {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO device_sightings
				(fingerprint, vid, pid, serial, port_path, system_path,
				 first_seen, last_seen, appearances, present)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, 1)
			ON CONFLICT(fingerprint) DO UPDATE SET
				serial = excluded.serial,
				system_path = excluded.system_path,
				last_seen = excluded.last_seen,
				appearances = device_sightings.appearances + 1,
				present = 1`,
			d.Fingerprint(), int64(d.VID), int64(d.PID), nullString(d.Serial),
			d.PortPath, d.SystemPath, ts, ts,
		)
		if err != nil {
			return fmt.Errorf("recording sighting %s: %w", d.Fingerprint(), err)
		}
	}

	for _, d := range diff.Removed {
		_, err = tx.ExecContext(ctx, `
			UPDATE device_sightings
			SET present = 0, last_removed = ?, last_seen = ?
			WHERE fingerprint = ?`,
			ts, ts, d.Fingerprint(),
		)
		if err != nil {
			return fmt.Errorf("recording removal %s: %w", d.Fingerprint(), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing sightings: %w", err)
	}
	return nil
}

// List returns sightings, most recently seen first.
func (r *SQLiteSightingRepository) List(ctx context.Context, limit int) ([]Sighting, error) {
	if limit <= 0 {
		limit = defaultSightingLimit
	}
	if limit > maxSightingLimit {
		limit = maxSightingLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT fingerprint, vid, pid, serial, port_path, system_path,
			first_seen, last_seen, last_removed, appearances, present
		FROM device_sightings
		ORDER BY last_seen DESC, fingerprint
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sightings: %w", err)
	}
	defer rows.Close()

	sightings := make([]Sighting, 0)
	for rows.Next() {
		s, err := scanSighting(rows)
		if err != nil {
			return nil, err
		}
		sightings = append(sightings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sightings: %w", err)
	}

	return sightings, nil
}

// MarkAllAbsent flags every stored sighting as not present.
func (r *SQLiteSightingRepository) MarkAllAbsent(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, "UPDATE device_sightings SET present = 0 WHERE present = 1")
	if err != nil {
		return 0, fmt.Errorf("resetting sightings: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}

// Prune deletes absent sightings older than the retention window.
func (r *SQLiteSightingRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be positive")
	}

	cutoff := formatTimestamp(time.Now().Add(-olderThan))
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM device_sightings WHERE present = 0 AND last_seen < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning sightings: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSighting(row rowScanner) (Sighting, error) {
	var (
		s           Sighting
		vid, pid    int64
		serial      sql.NullString
		firstSeen   string
		lastSeen    string
		lastRemoved sql.NullString
		present     int64
	)

	if err := row.Scan(&s.Fingerprint, &vid, &pid, &serial, &s.PortPath, &s.SystemPath,
		&firstSeen, &lastSeen, &lastRemoved, &s.Appearances, &present); err != nil {
		return Sighting{}, fmt.Errorf("scanning sighting: %w", err)
	}

	s.VID = uint16(vid) //nolint:gosec // Stored from a uint16
	s.PID = uint16(pid) //nolint:gosec // Stored from a uint16
	s.Present = present != 0
	if serial.Valid {
		s.Serial = Serial(serial.String)
	}

	var err error
	if s.FirstSeen, err = parseTimestamp(firstSeen); err != nil {
		return Sighting{}, err
	}
	if s.LastSeen, err = parseTimestamp(lastSeen); err != nil {
		return Sighting{}, err
	}
	if lastRemoved.Valid {
		t, err := parseTimestamp(lastRemoved.String)
		if err != nil {
			return Sighting{}, err
		}
		s.LastRemoved = &t
	}

	return s, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}
