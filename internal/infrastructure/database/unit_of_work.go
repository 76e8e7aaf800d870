package database

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/wikiguard/pii-scan-backend/internal/domain/scan"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/crypto"
)

// UnitOfWork binds the event, checkpoint and counter stores to one pool and
// runs per-item writes in a single transaction. The event sequence cache is
// shared between pooled and transactional views, and invalidated when a
// transaction rolls back so sequences stay contiguous.
type UnitOfWork struct {
	pool        *ConnectionPool
	events      *EventStore
	checkpoints *CheckpointStore
	counters    *SeverityStore
}

// NewUnitOfWork wires the three stores over the shared connection pool.
func NewUnitOfWork(pool *ConnectionPool, cryptoSvc *crypto.Service) *UnitOfWork {
	return &UnitOfWork{
		pool:        pool,
		events:      NewEventStore(pool.Pool(), cryptoSvc),
		checkpoints: NewCheckpointStore(pool.Pool()),
		counters:    NewSeverityStore(pool.Pool()),
	}
}

func (u *UnitOfWork) Events() scan.EventRepository             { return u.events }
func (u *UnitOfWork) Checkpoints() scan.CheckpointRepository   { return u.checkpoints }
func (u *UnitOfWork) Counters() scan.SeverityCountRepository   { return u.counters }

// InTx runs fn against transaction-bound store views. On rollback every scan
// touched by an event append has its cached sequence dropped, forcing the
// next append to reconcile from MAX(event_seq).
func (u *UnitOfWork) InTx(ctx context.Context, fn func(scan.Stores) error) error {
	touched := &touchTracker{}

	err := u.pool.Transaction(ctx, func(tx pgx.Tx) error {
		return fn(&txStores{
			events:      u.events.withTx(tx),
			checkpoints: u.checkpoints.withTx(tx),
			counters:    u.counters.withTx(tx),
			touched:     touched,
		})
	})
	if err != nil {
		for _, scanID := range touched.scanIDs {
			u.events.seq.invalidate(scanID)
		}
		return err
	}
	return nil
}

// txStores is the transaction-bound view handed to InTx callbacks.
type txStores struct {
	events      *EventStore
	checkpoints *CheckpointStore
	counters    *SeverityStore
	touched     *touchTracker
}

func (s *txStores) Events() scan.EventRepository {
	return &trackingEvents{EventStore: s.events, touched: s.touched}
}
func (s *txStores) Checkpoints() scan.CheckpointRepository { return s.checkpoints }
func (s *txStores) Counters() scan.SeverityCountRepository { return s.counters }

// touchTracker records which scans allocated sequences inside a transaction.
// InTx runs one callback at a time per tracker, so no locking is needed.
type touchTracker struct {
	scanIDs []string
}

func (t *touchTracker) note(scanID string) {
	for _, id := range t.scanIDs {
		if id == scanID {
			return
		}
	}
	t.scanIDs = append(t.scanIDs, scanID)
}

// trackingEvents wraps the transactional event store to record sequence
// allocations for rollback invalidation.
type trackingEvents struct {
	*EventStore
	touched *touchTracker
}

func (t *trackingEvents) Append(ctx context.Context, event *scan.Event) error {
	t.touched.note(event.ScanID)
	return t.EventStore.Append(ctx, event)
}

var _ scan.UnitOfWork = (*UnitOfWork)(nil)
