package database

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
	"github.com/wikiguard/pii-scan-backend/internal/domain/scan"
)

// SeverityStore keeps aggregated severity counters. All writes go through a
// storage-native atomic add; user code never reads then writes.
type SeverityStore struct {
	db querier
}

// NewSeverityStore creates the severity counter store.
func NewSeverityStore(db querier) *SeverityStore {
	return &SeverityStore{db: db}
}

func (s *SeverityStore) withTx(tx pgx.Tx) *SeverityStore {
	return &SeverityStore{db: tx}
}

// Increment atomically adds the deltas to the (scan, space) counters,
// creating the row on first touch. Negative deltas are rejected.
func (s *SeverityStore) Increment(ctx context.Context, scanID, spaceKey string, high, medium, low int) error {
	if err := scan.ValidateDeltas(high, medium, low); err != nil {
		return err
	}
	if scanID == "" || spaceKey == "" {
		return errors.NewValidationError("MISSING_KEY", "scan ID and space key are required")
	}

	query := `
		INSERT INTO severity_counts (scan_id, space_key, high, medium, low)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scan_id, space_key) DO UPDATE SET
			high   = severity_counts.high   + EXCLUDED.high,
			medium = severity_counts.medium + EXCLUDED.medium,
			low    = severity_counts.low    + EXCLUDED.low`

	if _, err := s.db.Exec(ctx, query, scanID, spaceKey, high, medium, low); err != nil {
		return errors.NewPersistenceError("failed to increment severity counts").WithCause(err)
	}
	return nil
}

// Get returns the counters for one (scan, space) pair; zero counters when
// the pair has no findings yet.
func (s *SeverityStore) Get(ctx context.Context, scanID, spaceKey string) (*scan.SeverityCount, error) {
	var c scan.SeverityCount
	err := s.db.QueryRow(ctx, `
		SELECT scan_id, space_key, high, medium, low
		FROM severity_counts
		WHERE scan_id = $1 AND space_key = $2`, scanID, spaceKey).
		Scan(&c.ScanID, &c.SpaceKey, &c.High, &c.Medium, &c.Low)
	if err == pgx.ErrNoRows {
		return &scan.SeverityCount{ScanID: scanID, SpaceKey: spaceKey}, nil
	}
	if err != nil {
		return nil, errors.NewPersistenceError("failed to get severity counts").WithCause(err)
	}
	return &c, nil
}

// ListByScan returns all per-space counters of a scan.
func (s *SeverityStore) ListByScan(ctx context.Context, scanID string) ([]*scan.SeverityCount, error) {
	rows, err := s.db.Query(ctx, `
		SELECT scan_id, space_key, high, medium, low
		FROM severity_counts
		WHERE scan_id = $1
		ORDER BY space_key ASC`, scanID)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to list severity counts").WithCause(err)
	}
	defer rows.Close()

	var counts []*scan.SeverityCount
	for rows.Next() {
		var c scan.SeverityCount
		if err := rows.Scan(&c.ScanID, &c.SpaceKey, &c.High, &c.Medium, &c.Low); err != nil {
			return nil, errors.NewPersistenceError("failed to scan severity row").WithCause(err)
		}
		counts = append(counts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError("severity row iteration failed").WithCause(err)
	}
	return counts, nil
}

// DeleteByScan removes the counters of one scan.
func (s *SeverityStore) DeleteByScan(ctx context.Context, scanID string) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM severity_counts WHERE scan_id = $1`, scanID); err != nil {
		return errors.NewPersistenceError("failed to delete severity counts").WithCause(err)
	}
	return nil
}

// DeleteAll purges every counter row.
func (s *SeverityStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM severity_counts`); err != nil {
		return errors.NewPersistenceError("failed to purge severity counts").WithCause(err)
	}
	return nil
}
