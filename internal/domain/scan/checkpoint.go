package scan

import (
	"time"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
)

// Checkpoint is the durable resume position and status for one (scan, space)
// pair. LastProcessedPageID and LastProcessedAttachmentName never regress
// within a scan; merge semantics are enforced by Merge and by the storage
// upsert.
type Checkpoint struct {
	ScanID                      string    `json:"scan_id"`
	SpaceKey                    string    `json:"space_key"`
	LastProcessedPageID         string    `json:"last_processed_page_id,omitempty"`
	LastProcessedAttachmentName string    `json:"last_processed_attachment_name,omitempty"`
	Status                      Status    `json:"status"`
	ProgressPercentage          float64   `json:"progress_percentage"`
	UpdatedAt                   time.Time `json:"updated_at"`
}

// NewCheckpoint creates the first checkpoint for a space within a scan.
func NewCheckpoint(scanID, spaceKey string) (*Checkpoint, error) {
	if scanID == "" {
		return nil, errors.NewValidationError("MISSING_SCAN_ID", "scan ID is required")
	}
	if spaceKey == "" {
		return nil, errors.NewValidationError("MISSING_SPACE_KEY", "space key is required")
	}
	return &Checkpoint{
		ScanID:    scanID,
		SpaceKey:  spaceKey,
		Status:    StatusRunning,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Validate checks field invariants.
func (c *Checkpoint) Validate() error {
	if c.ScanID == "" {
		return errors.NewValidationError("MISSING_SCAN_ID", "scan ID is required")
	}
	if c.SpaceKey == "" {
		return errors.NewValidationError("MISSING_SPACE_KEY", "space key is required")
	}
	if c.ProgressPercentage < 0 || c.ProgressPercentage > 100 {
		return errors.NewValidationError("INVALID_PROGRESS",
			"progress percentage must be within [0,100]")
	}
	switch c.Status {
	case StatusRunning, StatusPaused, StatusCompleted, StatusFailed:
	default:
		return errors.NewValidationError("INVALID_STATUS", "unknown checkpoint status")
	}
	return nil
}

// Merge applies an update onto the current checkpoint, preserving the
// last-processed markers when the update carries empty values and rejecting
// illegal status arcs.
func (c *Checkpoint) Merge(update *Checkpoint) error {
	if !c.Status.CanTransitionTo(update.Status) {
		return errors.NewTransitionError(string(c.Status), string(update.Status))
	}
	if update.LastProcessedPageID != "" {
		c.LastProcessedPageID = update.LastProcessedPageID
	}
	if update.LastProcessedAttachmentName != "" {
		c.LastProcessedAttachmentName = update.LastProcessedAttachmentName
	}
	c.Status = update.Status
	c.ProgressPercentage = update.ProgressPercentage
	c.UpdatedAt = update.UpdatedAt
	return nil
}
