package scan

import (
	"context"
	"time"
)

// ItemFilter narrows item/attachment event listings.
type ItemFilter struct {
	SpaceKey string
	PageID   string
	Types    []EventType
	Limit    int
}

// EventRepository is the durable append-only scan event log. Append assigns
// the next per-scan sequence number and encrypts sensitive payload fields
// before the row is written.
type EventRepository interface {
	Append(ctx context.Context, event *Event) error
	MaxSeq(ctx context.Context, scanID string) (int64, error)
	ListItems(ctx context.Context, scanID string, filter ItemFilter) ([]*Event, error)
	ListForExport(ctx context.Context, scanID, spaceKey string) ([]*Event, error)
	DeleteAll(ctx context.Context) error
}

// CheckpointRepository stores per (scan, space) resume positions. Upsert is
// atomic and applies the Checkpoint merge semantics.
type CheckpointRepository interface {
	Upsert(ctx context.Context, cp *Checkpoint) error
	FindBy(ctx context.Context, scanID, spaceKey string) (*Checkpoint, error)
	FindByScan(ctx context.Context, scanID string) ([]*Checkpoint, error)
	FindBySpace(ctx context.Context, spaceKey string) ([]*Checkpoint, error)
	FindLatestBySpace(ctx context.Context, spaceKey string) (*Checkpoint, error)
	FindRunning(ctx context.Context, scanID string) (*Checkpoint, error)
	FindLatestScanID(ctx context.Context) (string, error)
	DeleteByScan(ctx context.Context, scanID string) error
	DeleteActive(ctx context.Context) error
	DeleteActiveForSpaces(ctx context.Context, spaceKeys []string) error
	DeleteAll(ctx context.Context) error
}

// SeverityCountRepository keeps aggregated counters per (scan, space).
// Increment is an atomic storage-native add.
type SeverityCountRepository interface {
	Increment(ctx context.Context, scanID, spaceKey string, high, medium, low int) error
	Get(ctx context.Context, scanID, spaceKey string) (*SeverityCount, error)
	ListByScan(ctx context.Context, scanID string) ([]*SeverityCount, error)
	DeleteByScan(ctx context.Context, scanID string) error
	DeleteAll(ctx context.Context) error
}

// Stores bundles the three repositories the orchestrator writes per item.
type Stores interface {
	Events() EventRepository
	Checkpoints() CheckpointRepository
	Counters() SeverityCountRepository
}

// UnitOfWork runs a function against transaction-bound stores. The event
// append, checkpoint upsert and counter increment for one item commit or
// roll back together.
type UnitOfWork interface {
	Stores
	InTx(ctx context.Context, fn func(Stores) error) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
