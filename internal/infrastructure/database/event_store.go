package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
	"github.com/wikiguard/pii-scan-backend/internal/domain/scan"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/crypto"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every store can
// run against the shared pool or inside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// seqCache holds the per-scan event sequence counters. Initialization is
// lazy from MAX(event_seq); entries are dropped on write failures and
// reconciled from storage on the next append.
type seqCache struct {
	mu   sync.Mutex
	next map[string]int64
}

func newSeqCache() *seqCache {
	return &seqCache{next: make(map[string]int64)}
}

func (c *seqCache) allocate(ctx context.Context, scanID string, maxSeq func(context.Context) (int64, error)) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.next[scanID]
	if !ok {
		stored, err := maxSeq(ctx)
		if err != nil {
			return 0, err
		}
		last = stored
	}
	seq := last + 1
	c.next[scanID] = seq
	return seq, nil
}

func (c *seqCache) invalidate(scanID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.next, scanID)
}

func (c *seqCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = make(map[string]int64)
}

// EventStore is the durable scan event log. Sensitive payload fields are
// encrypted before insertion; the original event is never mutated.
type EventStore struct {
	db     querier
	crypto *crypto.Service
	seq    *seqCache
}

// NewEventStore creates the event store over the shared pool.
func NewEventStore(db querier, cryptoSvc *crypto.Service) *EventStore {
	return &EventStore{db: db, crypto: cryptoSvc, seq: newSeqCache()}
}

// withTx returns a view of the store bound to a transaction. The sequence
// cache is shared with the parent.
func (s *EventStore) withTx(tx pgx.Tx) *EventStore {
	return &EventStore{db: tx, crypto: s.crypto, seq: s.seq}
}

// Append assigns the next per-scan sequence number, encrypts sensitive
// payload fields on a deep copy and writes the row. Callers running inside a
// transaction get contiguous sequences because the cache entry is dropped
// when the write fails.
func (s *EventStore) Append(ctx context.Context, event *scan.Event) error {
	if event.ScanID == "" {
		return errors.NewValidationError("MISSING_SCAN_ID", "scan ID is required")
	}

	seq, err := s.seq.allocate(ctx, event.ScanID, func(ctx context.Context) (int64, error) {
		return s.MaxSeq(ctx, event.ScanID)
	})
	if err != nil {
		return errors.NewPersistenceError("failed to allocate event sequence").WithCause(err)
	}

	stored := event.Clone()
	stored.EventSeq = seq
	if err := s.encryptPayload(stored); err != nil {
		s.seq.invalidate(event.ScanID)
		return err
	}

	payloadJSON, err := json.Marshal(stored.Payload)
	if err != nil {
		s.seq.invalidate(event.ScanID)
		return errors.NewPersistenceError("failed to marshal event payload").WithCause(err)
	}

	query := `
		INSERT INTO scan_events (
			scan_id, event_seq, space_key, event_type, ts,
			page_id, page_title, attachment_name, attachment_type, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = s.db.Exec(ctx, query,
		stored.ScanID,
		stored.EventSeq,
		nullable(stored.SpaceKey),
		string(stored.Type),
		stored.Timestamp,
		nullable(stored.PageID),
		nullable(stored.PageTitle),
		nullable(stored.AttachmentName),
		nullable(stored.AttachmentType),
		payloadJSON,
	)
	if err != nil {
		s.seq.invalidate(event.ScanID)
		return errors.NewPersistenceError("failed to store scan event").WithCause(err)
	}

	// Reflect the assigned sequence back so the caller can publish it.
	event.EventSeq = seq
	return nil
}

func (s *EventStore) encryptPayload(event *scan.Event) error {
	if event.Payload == nil {
		return nil
	}
	for _, e := range event.Payload.Entities {
		meta := crypto.Metadata{
			PiiType:       e.PiiType,
			PositionBegin: e.StartPosition,
			PositionEnd:   e.EndPosition,
		}
		if e.SensitiveValue != "" && !crypto.IsEncrypted(e.SensitiveValue) {
			token, err := s.crypto.Encrypt(e.SensitiveValue, meta)
			if err != nil {
				return err
			}
			e.SensitiveValue = token
		}
		if e.SensitiveContext != "" && !crypto.IsEncrypted(e.SensitiveContext) {
			token, err := s.crypto.Encrypt(e.SensitiveContext, meta)
			if err != nil {
				return err
			}
			e.SensitiveContext = token
		}
	}
	return nil
}

// MaxSeq returns the highest stored sequence for a scan, zero when the scan
// has no events.
func (s *EventStore) MaxSeq(ctx context.Context, scanID string) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(ctx,
		`SELECT MAX(event_seq) FROM scan_events WHERE scan_id = $1`, scanID).Scan(&max)
	if err != nil {
		return 0, errors.NewPersistenceError("failed to query max sequence").WithCause(err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// ListItems returns item and attachment events for a scan in sequence order.
func (s *EventStore) ListItems(ctx context.Context, scanID string, filter scan.ItemFilter) ([]*scan.Event, error) {
	query := `
		SELECT scan_id, event_seq, space_key, event_type, ts,
		       page_id, page_title, attachment_name, attachment_type, payload
		FROM scan_events
		WHERE scan_id = $1 AND event_type = ANY($2)`
	types := []string{string(scan.EventItem), string(scan.EventAttachmentItem)}
	if len(filter.Types) > 0 {
		types = types[:0]
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
	}
	args := []any{scanID, types}

	if filter.SpaceKey != "" {
		args = append(args, filter.SpaceKey)
		query += ` AND space_key = $3`
	}
	if filter.PageID != "" {
		args = append(args, filter.PageID)
		query += ` AND page_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY event_seq ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to list item events").WithCause(err)
	}
	defer rows.Close()

	return scanEventRows(rows)
}

// ListForExport streams every event of a scan, optionally narrowed to one
// space, in sequence order.
func (s *EventStore) ListForExport(ctx context.Context, scanID, spaceKey string) ([]*scan.Event, error) {
	query := `
		SELECT scan_id, event_seq, space_key, event_type, ts,
		       page_id, page_title, attachment_name, attachment_type, payload
		FROM scan_events
		WHERE scan_id = $1`
	args := []any{scanID}
	if spaceKey != "" {
		args = append(args, spaceKey)
		query += ` AND space_key = $2`
	}
	query += ` ORDER BY event_seq ASC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to list events for export").WithCause(err)
	}
	defer rows.Close()

	return scanEventRows(rows)
}

// DeleteAll purges the entire event log and resets the sequence cache.
func (s *EventStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM scan_events`); err != nil {
		return errors.NewPersistenceError("failed to purge scan events").WithCause(err)
	}
	s.seq.reset()
	return nil
}

func scanEventRows(rows pgx.Rows) ([]*scan.Event, error) {
	var events []*scan.Event
	for rows.Next() {
		var (
			e                                               scan.Event
			spaceKey, pageID, pageTitle, attName, attType   sql.NullString
			eventType                                       string
			ts                                              time.Time
			payloadJSON                                     []byte
		)
		if err := rows.Scan(&e.ScanID, &e.EventSeq, &spaceKey, &eventType, &ts,
			&pageID, &pageTitle, &attName, &attType, &payloadJSON); err != nil {
			return nil, errors.NewPersistenceError("failed to scan event row").WithCause(err)
		}
		e.SpaceKey = spaceKey.String
		e.Type = scan.EventType(eventType)
		e.Timestamp = ts
		e.PageID = pageID.String
		e.PageTitle = pageTitle.String
		e.AttachmentName = attName.String
		e.AttachmentType = attType.String
		if len(payloadJSON) > 0 {
			var p scan.Payload
			if err := json.Unmarshal(payloadJSON, &p); err != nil {
				return nil, errors.NewPersistenceError("failed to unmarshal event payload").WithCause(err)
			}
			e.Payload = &p
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError("event row iteration failed").WithCause(err)
	}
	return events, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

