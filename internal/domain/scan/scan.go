package scan

import (
	"time"

	"github.com/google/uuid"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
)

// Status is the lifecycle state shared by scans and per-space checkpoints.
// RUNNING and PAUSED are the active states; COMPLETED and FAILED are terminal.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// IsActive reports whether the status still permits processing.
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusPaused
}

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo validates a status arc. Allowed arcs: RUNNING<->PAUSED,
// RUNNING|PAUSED->COMPLETED, RUNNING|PAUSED->FAILED. Same-state writes are
// permitted so upserts stay idempotent.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusRunning:
		return next == StatusPaused || next == StatusCompleted || next == StatusFailed
	case StatusPaused:
		return next == StatusRunning || next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Scan is the aggregate describing one discovery run over all spaces.
type Scan struct {
	ID          string    `json:"scan_id"`
	StartedAt   time.Time `json:"started_at"`
	Status      Status    `json:"status"`
	SpacesCount int       `json:"spaces_count"`
}

// NewScan allocates a fresh scan with a unique identifier.
func NewScan(spacesCount int) (*Scan, error) {
	if spacesCount < 0 {
		return nil, errors.NewValidationError("INVALID_SPACES_COUNT",
			"spaces count must not be negative")
	}
	return &Scan{
		ID:          uuid.NewString(),
		StartedAt:   time.Now().UTC(),
		Status:      StatusRunning,
		SpacesCount: spacesCount,
	}, nil
}
