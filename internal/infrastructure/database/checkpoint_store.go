package database

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
	"github.com/wikiguard/pii-scan-backend/internal/domain/scan"
)

// CheckpointStore persists per (scan, space) resume positions with an atomic
// conditional upsert. The status guard in the UPDATE arm enforces the
// transition table: terminal rows reject every change, active rows accept
// all arcs.
type CheckpointStore struct {
	db querier
}

// NewCheckpointStore creates the checkpoint store.
func NewCheckpointStore(db querier) *CheckpointStore {
	return &CheckpointStore{db: db}
}

func (s *CheckpointStore) withTx(tx pgx.Tx) *CheckpointStore {
	return &CheckpointStore{db: tx}
}

const checkpointColumns = `
	scan_id, space_key, last_page_id, last_attachment_name,
	status, progress_percentage, updated_at`

// Upsert inserts or updates a checkpoint in one atomic statement. Empty
// last-processed markers in the update preserve the stored values, so the
// resume position never regresses.
func (s *CheckpointStore) Upsert(ctx context.Context, cp *scan.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO scan_checkpoints (
			scan_id, space_key, last_page_id, last_attachment_name,
			status, progress_percentage, updated_at
		) VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)
		ON CONFLICT (scan_id, space_key) DO UPDATE SET
			last_page_id         = COALESCE(NULLIF(EXCLUDED.last_page_id, ''), scan_checkpoints.last_page_id),
			last_attachment_name = COALESCE(NULLIF(EXCLUDED.last_attachment_name, ''), scan_checkpoints.last_attachment_name),
			status               = EXCLUDED.status,
			progress_percentage  = EXCLUDED.progress_percentage,
			updated_at           = EXCLUDED.updated_at
		WHERE scan_checkpoints.status = EXCLUDED.status
		   OR scan_checkpoints.status IN ('RUNNING', 'PAUSED')`

	tag, err := s.db.Exec(ctx, query,
		cp.ScanID,
		cp.SpaceKey,
		cp.LastProcessedPageID,
		cp.LastProcessedAttachmentName,
		string(cp.Status),
		cp.ProgressPercentage,
		cp.UpdatedAt,
	)
	if err != nil {
		return errors.NewPersistenceError("failed to upsert checkpoint").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		// The guard blocked the write: the stored row is terminal.
		current, ferr := s.FindBy(ctx, cp.ScanID, cp.SpaceKey)
		from := "TERMINAL"
		if ferr == nil && current != nil {
			from = string(current.Status)
		}
		return errors.NewTransitionError(from, string(cp.Status))
	}
	return nil
}

// FindBy returns the checkpoint for one (scan, space) pair.
func (s *CheckpointStore) FindBy(ctx context.Context, scanID, spaceKey string) (*scan.Checkpoint, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+checkpointColumns+`
		FROM scan_checkpoints
		WHERE scan_id = $1 AND space_key = $2`, scanID, spaceKey)
	return scanCheckpointRow(row)
}

// FindByScan lists every checkpoint of a scan ordered by space key.
func (s *CheckpointStore) FindByScan(ctx context.Context, scanID string) ([]*scan.Checkpoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+checkpointColumns+`
		FROM scan_checkpoints
		WHERE scan_id = $1
		ORDER BY space_key ASC`, scanID)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to list checkpoints").WithCause(err)
	}
	defer rows.Close()
	return scanCheckpointRows(rows)
}

// FindBySpace lists every checkpoint recorded for a space across scans.
func (s *CheckpointStore) FindBySpace(ctx context.Context, spaceKey string) ([]*scan.Checkpoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+checkpointColumns+`
		FROM scan_checkpoints
		WHERE space_key = $1
		ORDER BY updated_at DESC`, spaceKey)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to list checkpoints by space").WithCause(err)
	}
	defer rows.Close()
	return scanCheckpointRows(rows)
}

// FindLatestBySpace returns the most recently updated checkpoint of a space.
func (s *CheckpointStore) FindLatestBySpace(ctx context.Context, spaceKey string) (*scan.Checkpoint, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+checkpointColumns+`
		FROM scan_checkpoints
		WHERE space_key = $1
		ORDER BY updated_at DESC
		LIMIT 1`, spaceKey)
	return scanCheckpointRow(row)
}

// FindRunning returns the single RUNNING checkpoint of a scan, if any.
func (s *CheckpointStore) FindRunning(ctx context.Context, scanID string) (*scan.Checkpoint, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+checkpointColumns+`
		FROM scan_checkpoints
		WHERE scan_id = $1 AND status = 'RUNNING'
		ORDER BY updated_at DESC
		LIMIT 1`, scanID)
	return scanCheckpointRow(row)
}

// FindLatestScanID returns the scan that most recently touched a checkpoint.
func (s *CheckpointStore) FindLatestScanID(ctx context.Context) (string, error) {
	var scanID string
	err := s.db.QueryRow(ctx, `
		SELECT scan_id FROM scan_checkpoints
		ORDER BY updated_at DESC
		LIMIT 1`).Scan(&scanID)
	if err == pgx.ErrNoRows {
		return "", errors.ErrScanNotFound
	}
	if err != nil {
		return "", errors.NewPersistenceError("failed to find latest scan").WithCause(err)
	}
	return scanID, nil
}

// DeleteByScan removes all checkpoints of one scan.
func (s *CheckpointStore) DeleteByScan(ctx context.Context, scanID string) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM scan_checkpoints WHERE scan_id = $1`, scanID); err != nil {
		return errors.NewPersistenceError("failed to delete checkpoints").WithCause(err)
	}
	return nil
}

// DeleteActive removes every non-terminal checkpoint.
func (s *CheckpointStore) DeleteActive(ctx context.Context) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM scan_checkpoints WHERE status IN ('RUNNING', 'PAUSED')`); err != nil {
		return errors.NewPersistenceError("failed to delete active checkpoints").WithCause(err)
	}
	return nil
}

// DeleteActiveForSpaces removes non-terminal checkpoints of specific spaces.
func (s *CheckpointStore) DeleteActiveForSpaces(ctx context.Context, spaceKeys []string) error {
	if len(spaceKeys) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx, `
		DELETE FROM scan_checkpoints
		WHERE status IN ('RUNNING', 'PAUSED') AND space_key = ANY($1)`, spaceKeys); err != nil {
		return errors.NewPersistenceError("failed to delete active checkpoints for spaces").WithCause(err)
	}
	return nil
}

// DeleteAll purges every checkpoint.
func (s *CheckpointStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM scan_checkpoints`); err != nil {
		return errors.NewPersistenceError("failed to purge checkpoints").WithCause(err)
	}
	return nil
}

func scanCheckpointRow(row pgx.Row) (*scan.Checkpoint, error) {
	var (
		cp               scan.Checkpoint
		lastPage, lastAtt sql.NullString
		status           string
	)
	err := row.Scan(&cp.ScanID, &cp.SpaceKey, &lastPage, &lastAtt,
		&status, &cp.ProgressPercentage, &cp.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, errors.NewPersistenceError("failed to scan checkpoint row").WithCause(err)
	}
	cp.LastProcessedPageID = lastPage.String
	cp.LastProcessedAttachmentName = lastAtt.String
	cp.Status = scan.Status(status)
	return &cp, nil
}

func scanCheckpointRows(rows pgx.Rows) ([]*scan.Checkpoint, error) {
	var cps []*scan.Checkpoint
	for rows.Next() {
		var (
			cp               scan.Checkpoint
			lastPage, lastAtt sql.NullString
			status           string
		)
		if err := rows.Scan(&cp.ScanID, &cp.SpaceKey, &lastPage, &lastAtt,
			&status, &cp.ProgressPercentage, &cp.UpdatedAt); err != nil {
			return nil, errors.NewPersistenceError("failed to scan checkpoint row").WithCause(err)
		}
		cp.LastProcessedPageID = lastPage.String
		cp.LastProcessedAttachmentName = lastAtt.String
		cp.Status = scan.Status(status)
		cps = append(cps, &cp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError("checkpoint row iteration failed").WithCause(err)
	}
	return cps, nil
}
