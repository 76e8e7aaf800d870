package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
	"github.com/wikiguard/pii-scan-backend/internal/domain/pii"
)

// AuditStore persists reveal audit records.
type AuditStore struct {
	db querier
}

// NewAuditStore creates the reveal audit store.
func NewAuditStore(db querier) *AuditStore {
	return &AuditStore{db: db}
}

// Create writes a reveal audit record and fills in the generated ID.
func (s *AuditStore) Create(ctx context.Context, record *pii.AuditRecord) error {
	query := `
		INSERT INTO reveal_audit (
			scan_id, space_key, page_id, accessed_at,
			retention_until, purpose, pii_entities_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := s.db.QueryRow(ctx, query,
		record.ScanID,
		nullable(record.SpaceKey),
		nullable(record.PageID),
		record.AccessedAt,
		record.RetentionUntil,
		record.Purpose,
		record.PiiEntitiesCount,
	).Scan(&record.ID)
	if err != nil {
		return errors.NewPersistenceError("failed to create reveal audit record").WithCause(err)
	}
	return nil
}

// ListByScan returns the audit trail of one scan, newest first.
func (s *AuditStore) ListByScan(ctx context.Context, scanID string) ([]*pii.AuditRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, scan_id, space_key, page_id, accessed_at,
		       retention_until, purpose, pii_entities_count
		FROM reveal_audit
		WHERE scan_id = $1
		ORDER BY accessed_at DESC`, scanID)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to list audit records").WithCause(err)
	}
	defer rows.Close()

	var records []*pii.AuditRecord
	for rows.Next() {
		var (
			r                 pii.AuditRecord
			spaceKey, pageID sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ScanID, &spaceKey, &pageID, &r.AccessedAt,
			&r.RetentionUntil, &r.Purpose, &r.PiiEntitiesCount); err != nil {
			return nil, errors.NewPersistenceError("failed to scan audit row").WithCause(err)
		}
		r.SpaceKey = spaceKey.String
		r.PageID = pageID.String
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError("audit row iteration failed").WithCause(err)
	}
	return records, nil
}

// PurgeExpired deletes records whose retention window has passed and returns
// the number of rows removed.
func (s *AuditStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM reveal_audit WHERE retention_until < $1`, now)
	if err != nil {
		return 0, errors.NewPersistenceError("failed to purge expired audit records").WithCause(err)
	}
	return tag.RowsAffected(), nil
}

var _ pii.AuditRepository = (*AuditStore)(nil)
