package pii

import (
	"context"
	"time"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
)

// AuditRecord is written on every reveal of plaintext PII. Records are
// purged once RetentionUntil has passed.
type AuditRecord struct {
	ID               int64     `json:"id"`
	ScanID           string    `json:"scan_id"`
	SpaceKey         string    `json:"space_key,omitempty"`
	PageID           string    `json:"page_id,omitempty"`
	AccessedAt       time.Time `json:"accessed_at"`
	RetentionUntil   time.Time `json:"retention_until"`
	Purpose          string    `json:"purpose"`
	PiiEntitiesCount int       `json:"pii_entities_count"`
}

// NewAuditRecord creates a reveal audit record with validation.
func NewAuditRecord(scanID, spaceKey, pageID, purpose string, entityCount, retentionDays int) (*AuditRecord, error) {
	if scanID == "" {
		return nil, errors.NewValidationError("MISSING_SCAN_ID", "scan ID is required")
	}
	if purpose == "" {
		return nil, errors.NewValidationError("MISSING_PURPOSE", "purpose is required")
	}
	if retentionDays <= 0 {
		return nil, errors.NewValidationError("INVALID_RETENTION",
			"retention days must be positive")
	}
	now := time.Now().UTC()
	return &AuditRecord{
		ScanID:           scanID,
		SpaceKey:         spaceKey,
		PageID:           pageID,
		AccessedAt:       now,
		RetentionUntil:   now.AddDate(0, 0, retentionDays),
		Purpose:          purpose,
		PiiEntitiesCount: entityCount,
	}, nil
}

// AuditRepository stores reveal audit records.
type AuditRepository interface {
	Create(ctx context.Context, record *AuditRecord) error
	ListByScan(ctx context.Context, scanID string) ([]*AuditRecord, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
