package pii

import "strings"

// Severity buckets a PII type for reporting.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// highSeverityTypes are secrets plus financial and medical identifiers.
var highSeverityTypes = map[string]struct{}{
	"PASSWORD":        {},
	"CREDIT_CARD":     {},
	"CREDIT_CARD_NUMBER": {},
	"API_KEY":         {},
	"AWS_KEY":         {},
	"AWS_ACCESS_KEY":  {},
	"AWS_SECRET_KEY":  {},
	"JWT_TOKEN":       {},
	"PRIVATE_KEY":     {},
	"SSN":             {},
	"US_SSN":          {},
	"IBAN":            {},
	"IBAN_CODE":       {},
	"BANK_ACCOUNT":    {},
	"ACCOUNT_NUMBER":  {},
	"US_BANK_NUMBER":  {},
	"MEDICAL_LICENSE": {},
	"MEDICAL_RECORD":  {},
	"IN_AADHAAR":      {},
	"CRYPTO":          {},
}

// mediumSeverityTypes are official documents and dates of birth.
var mediumSeverityTypes = map[string]struct{}{
	"DRIVER_LICENSE":    {},
	"US_DRIVER_LICENSE": {},
	"PASSPORT":          {},
	"US_PASSPORT":       {},
	"TAX_NUMBER":        {},
	"US_ITIN":           {},
	"UK_NINO":           {},
	"NATIONAL_ID":       {},
	"ID_CARD":           {},
	"IN_PAN":            {},
	"DATE_OF_BIRTH":     {},
	"AGE":               {},
}

// SeverityFor maps a detector type name to a severity bucket. Matching is
// case-insensitive after trimming; unknown types default to LOW.
func SeverityFor(piiType string) Severity {
	key := strings.ToUpper(strings.TrimSpace(piiType))
	if _, ok := highSeverityTypes[key]; ok {
		return SeverityHigh
	}
	if _, ok := mediumSeverityTypes[key]; ok {
		return SeverityMedium
	}
	return SeverityLow
}

// SeverityDelta is the per-item increment applied to the aggregated counters.
type SeverityDelta struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Total returns the number of entities the delta accounts for.
func (d SeverityDelta) Total() int {
	return d.High + d.Medium + d.Low
}

// CountSeverities buckets a list of detected entities. The sum of the
// returned delta always equals len(entities).
func CountSeverities(entities []*DetectedEntity) SeverityDelta {
	var d SeverityDelta
	for _, e := range entities {
		switch SeverityFor(e.PiiType) {
		case SeverityHigh:
			d.High++
		case SeverityMedium:
			d.Medium++
		default:
			d.Low++
		}
	}
	return d
}
