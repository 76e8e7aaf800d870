package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		name    string
		piiType string
		want    Severity
	}{
		{"password is high", "PASSWORD", SeverityHigh},
		{"credit card is high", "CREDIT_CARD", SeverityHigh},
		{"api key is high", "API_KEY", SeverityHigh},
		{"aws key is high", "AWS_KEY", SeverityHigh},
		{"jwt token is high", "JWT_TOKEN", SeverityHigh},
		{"ssn is high", "SSN", SeverityHigh},
		{"us ssn is high", "US_SSN", SeverityHigh},
		{"iban is high", "IBAN", SeverityHigh},
		{"medical license is high", "MEDICAL_LICENSE", SeverityHigh},
		{"aadhaar is high", "IN_AADHAAR", SeverityHigh},
		{"driver license is medium", "DRIVER_LICENSE", SeverityMedium},
		{"passport is medium", "PASSPORT", SeverityMedium},
		{"tax number is medium", "TAX_NUMBER", SeverityMedium},
		{"national id is medium", "NATIONAL_ID", SeverityMedium},
		{"date of birth is medium", "DATE_OF_BIRTH", SeverityMedium},
		{"age is medium", "AGE", SeverityMedium},
		{"email is low", "EMAIL", SeverityLow},
		{"person is low", "PERSON", SeverityLow},
		{"location is low", "LOCATION", SeverityLow},
		{"phone is low", "PHONE_NUMBER", SeverityLow},
		{"unknown defaults to low", "SOMETHING_NEW", SeverityLow},
		{"case insensitive", "password", SeverityHigh},
		{"trims whitespace", "  Passport  ", SeverityMedium},
		{"empty defaults to low", "", SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SeverityFor(tt.piiType))
		})
	}
}

func TestCountSeverities(t *testing.T) {
	entities := mustEntities(t, []string{"EMAIL", "PASSWORD", "PASSPORT", "PERSON", "SSN"})

	delta := CountSeverities(entities)

	assert.Equal(t, 2, delta.High)
	assert.Equal(t, 1, delta.Medium)
	assert.Equal(t, 2, delta.Low)
	assert.Equal(t, len(entities), delta.Total())
}

func TestCountSeverities_SumMatchesEntityCount(t *testing.T) {
	// Mixed list including unknown types must still account for every entity.
	types := []string{"EMAIL", "FOO", "BAR", "CREDIT_CARD", "AGE", "", "URL"}
	entities := mustEntities(t, types)

	delta := CountSeverities(entities)
	assert.Equal(t, len(types), delta.Total())
}

func TestCountSeverities_Empty(t *testing.T) {
	delta := CountSeverities(nil)
	assert.Zero(t, delta.Total())
}

func mustEntities(t *testing.T, types []string) []*DetectedEntity {
	t.Helper()
	entities := make([]*DetectedEntity, 0, len(types))
	for i, typ := range types {
		if typ == "" {
			// Bypass constructor validation to model a detector returning an
			// unnamed label.
			entities = append(entities, &DetectedEntity{StartPosition: i, EndPosition: i + 1})
			continue
		}
		e, err := NewDetectedEntity(typ, i*10, i*10+5, 0.9, "value", "context")
		require.NoError(t, err)
		entities = append(entities, e)
	}
	return entities
}
