package pii

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskContent(t *testing.T) {
	source := "john@example.com and hunter2"
	email, err := NewDetectedEntity("EMAIL", 0, 16, 0.95, "john@example.com", source)
	require.NoError(t, err)
	password, err := NewDetectedEntity("PASSWORD", 21, 28, 0.9, "hunter2", source)
	require.NoError(t, err)

	masked := MaskContent(source, []*DetectedEntity{password, email})

	assert.Equal(t, "[EMAIL] and [PASSWORD]", masked)
}

func TestMaskContent_NoEntities(t *testing.T) {
	assert.Equal(t, "plain text", MaskContent("plain text", nil))
}

func TestMaskContent_EmptySource(t *testing.T) {
	e, err := NewDetectedEntity("EMAIL", 0, 5, 0.9, "x", "")
	require.NoError(t, err)
	assert.Equal(t, "", MaskContent("", []*DetectedEntity{e}))
}

func TestMaskContent_PositionsOutsideSource(t *testing.T) {
	source := "short"
	e, err := NewDetectedEntity("EMAIL", 100, 200, 0.9, "x", source)
	require.NoError(t, err)

	masked := MaskContent(source, []*DetectedEntity{e})

	// Clamped to the end of the source; the token still appears.
	assert.Equal(t, "short[EMAIL]", masked)
}

func TestMaskContent_NegativeStartClamped(t *testing.T) {
	source := "abcdef"
	e := &DetectedEntity{PiiType: "SSN", StartPosition: -3, EndPosition: 3}

	assert.Equal(t, "[SSN]def", MaskContent(source, []*DetectedEntity{e}))
}

func TestMaskContent_OverlappingSpans(t *testing.T) {
	source := "0123456789"
	a := &DetectedEntity{PiiType: "A", StartPosition: 2, EndPosition: 6}
	b := &DetectedEntity{PiiType: "B", StartPosition: 4, EndPosition: 8}

	masked := MaskContent(source, []*DetectedEntity{a, b})

	// The earlier token swallows the overlap; no source leaks between them.
	assert.Equal(t, "01[A]89", masked)
}

func TestMaskContent_TruncatesLongOutput(t *testing.T) {
	source := strings.Repeat("a", maxMaskedLength+500)

	masked := MaskContent(source, nil)

	assert.LessOrEqual(t, utf8.RuneCountInString(masked), maxMaskedLength+1)
	assert.True(t, strings.HasSuffix(masked, ellipsisSentinel))
}

func TestMaskContent_NoEllipsisWithinBound(t *testing.T) {
	source := strings.Repeat("a", maxMaskedLength)

	masked := MaskContent(source, nil)

	assert.Equal(t, source, masked)
	assert.False(t, strings.HasSuffix(masked, ellipsisSentinel))
}

func TestDetectionConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     DetectionConfig
		wantErr bool
	}{
		{"valid", DetectionConfig{GlinerEnabled: true, DefaultThreshold: 0.5, LabelsPerBatch: 10}, false},
		{"threshold zero accepted", DetectionConfig{PresidioEnabled: true, DefaultThreshold: 0.0, LabelsPerBatch: 1}, false},
		{"threshold one accepted", DetectionConfig{RegexEnabled: true, DefaultThreshold: 1.0, LabelsPerBatch: 1}, false},
		{"threshold below zero rejected", DetectionConfig{GlinerEnabled: true, DefaultThreshold: -0.01, LabelsPerBatch: 1}, true},
		{"threshold above one rejected", DetectionConfig{GlinerEnabled: true, DefaultThreshold: 1.01, LabelsPerBatch: 1}, true},
		{"no detector enabled rejected", DetectionConfig{DefaultThreshold: 0.5, LabelsPerBatch: 1}, true},
		{"zero batch rejected", DetectionConfig{GlinerEnabled: true, DefaultThreshold: 0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewDetectedEntity_Validation(t *testing.T) {
	_, err := NewDetectedEntity("", 0, 1, 0.5, "v", "c")
	assert.Error(t, err)

	_, err = NewDetectedEntity("EMAIL", 5, 1, 0.5, "v", "c")
	assert.Error(t, err)

	_, err = NewDetectedEntity("EMAIL", 0, 1, 1.5, "v", "c")
	assert.Error(t, err)

	e, err := NewDetectedEntity("EMAIL", 3, 3, 0.5, "v", "c")
	require.NoError(t, err)
	assert.Equal(t, 3, e.StartPosition)
}
