package pii

import (
	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
)

// DetectedEntity is one PII finding inside a piece of source text.
// SensitiveValue and SensitiveContext are ciphertext once the entity has been
// persisted; MaskedContext stays plaintext. Positions refer to the normalized
// text that was fed to the detector.
type DetectedEntity struct {
	StartPosition    int     `json:"start_position"`
	EndPosition      int     `json:"end_position"`
	PiiType          string  `json:"pii_type"`
	Confidence       float64 `json:"confidence"`
	SensitiveValue   string  `json:"sensitive_value"`
	SensitiveContext string  `json:"sensitive_context"`
	MaskedContext    string  `json:"masked_context,omitempty"`
}

// NewDetectedEntity creates a detected entity with validation.
func NewDetectedEntity(piiType string, start, end int, confidence float64, value, context string) (*DetectedEntity, error) {
	if piiType == "" {
		return nil, errors.NewValidationError("MISSING_PII_TYPE", "pii type is required")
	}
	if start > end {
		return nil, errors.NewValidationError("INVALID_POSITIONS",
			"start position must not exceed end position")
	}
	if confidence < 0 || confidence > 1 {
		return nil, errors.NewValidationError("INVALID_CONFIDENCE",
			"confidence must be within [0,1]")
	}

	return &DetectedEntity{
		StartPosition:    start,
		EndPosition:      end,
		PiiType:          piiType,
		Confidence:       confidence,
		SensitiveValue:   value,
		SensitiveContext: context,
	}, nil
}

// Clone returns a deep copy so persistence-side encryption never mutates the
// caller's entity.
func (e *DetectedEntity) Clone() *DetectedEntity {
	c := *e
	return &c
}
