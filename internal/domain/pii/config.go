package pii

import (
	"context"
	"strings"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
)

// Detector enumerates the detector kinds the engine can drive.
type Detector string

const (
	DetectorGliner   Detector = "GLINER"
	DetectorPresidio Detector = "PRESIDIO"
	DetectorRegex    Detector = "REGEX"
)

// ParseDetector normalizes a detector name.
func ParseDetector(s string) (Detector, error) {
	switch Detector(strings.ToUpper(strings.TrimSpace(s))) {
	case DetectorGliner:
		return DetectorGliner, nil
	case DetectorPresidio:
		return DetectorPresidio, nil
	case DetectorRegex:
		return DetectorRegex, nil
	default:
		return "", errors.NewValidationError("UNKNOWN_DETECTOR", "detector must be one of GLINER, PRESIDIO, REGEX")
	}
}

// DetectionConfig is the singleton runtime configuration for detection.
type DetectionConfig struct {
	GlinerEnabled    bool    `json:"gliner_enabled"`
	PresidioEnabled  bool    `json:"presidio_enabled"`
	RegexEnabled     bool    `json:"regex_enabled"`
	DefaultThreshold float64 `json:"default_threshold"`
	LabelsPerBatch   int     `json:"labels_per_batch"`
}

// Validate enforces the config invariants: at least one detector enabled,
// threshold within [0,1], positive batch size.
func (c *DetectionConfig) Validate() error {
	if !c.GlinerEnabled && !c.PresidioEnabled && !c.RegexEnabled {
		return errors.NewConfigError("at least one detector must be enabled")
	}
	if c.DefaultThreshold < 0 || c.DefaultThreshold > 1 {
		return errors.NewConfigError("default threshold must be within [0,1]")
	}
	if c.LabelsPerBatch < 1 {
		return errors.NewConfigError("labels per batch must be at least 1")
	}
	return nil
}

// PiiTypeConfig tunes a single (detector, type) pair.
type PiiTypeConfig struct {
	Detector      Detector `json:"detector"`
	PiiType       string   `json:"pii_type"`
	Enabled       bool     `json:"enabled"`
	Threshold     float64  `json:"threshold"`
	Category      string   `json:"category"`
	CountryCode   string   `json:"country_code,omitempty"`
	DisplayName   string   `json:"display_name"`
	DetectorLabel string   `json:"detector_label"`
}

// Validate enforces per-type invariants.
func (c *PiiTypeConfig) Validate() error {
	if _, err := ParseDetector(string(c.Detector)); err != nil {
		return err
	}
	if strings.TrimSpace(c.PiiType) == "" {
		return errors.NewValidationError("MISSING_PII_TYPE", "pii type is required")
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return errors.NewConfigError("type threshold must be within [0,1]")
	}
	return nil
}

// ConfigRepository stores the detection configuration and the per-type
// tuning table.
type ConfigRepository interface {
	GetDetectionConfig(ctx context.Context) (*DetectionConfig, error)
	UpdateDetectionConfig(ctx context.Context, cfg *DetectionConfig) error
	ListTypeConfigs(ctx context.Context) ([]*PiiTypeConfig, error)
	GetTypeConfig(ctx context.Context, detector Detector, piiType string) (*PiiTypeConfig, error)
	UpsertTypeConfig(ctx context.Context, cfg *PiiTypeConfig) error
}
