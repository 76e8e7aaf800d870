package scan

import (
	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
)

// SeverityCount is the aggregated finding count for one (scan, space) pair.
// Rows are only ever modified by atomic add, never overwritten.
type SeverityCount struct {
	ScanID   string `json:"scan_id"`
	SpaceKey string `json:"space_key"`
	High     int64  `json:"high"`
	Medium   int64  `json:"medium"`
	Low      int64  `json:"low"`
}

// Total returns the total number of findings.
func (c *SeverityCount) Total() int64 {
	return c.High + c.Medium + c.Low
}

// ValidateDeltas rejects negative increments.
func ValidateDeltas(high, medium, low int) error {
	if high < 0 || medium < 0 || low < 0 {
		return errors.NewValidationError("NEGATIVE_DELTA",
			"severity deltas must not be negative")
	}
	return nil
}
