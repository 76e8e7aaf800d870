package extraction

import (
	"unicode"
	"unicode/utf8"

	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/config"
)

// qualityGate rejects extracted text that is unlikely to be prose: too
// short, mostly non-alphanumeric, unnaturally dense, or full of unprintable
// bytes. Rejected text is treated as "nothing to analyze", not as an error.
type qualityGate struct {
	minLength    int
	minAlnum     float64
	minSpace     float64
	minPrintable float64
	maxSpecial   float64
}

func newQualityGate(cfg *config.ExtractionConfig) qualityGate {
	return qualityGate{
		minLength:    cfg.MinTextLength,
		minAlnum:     cfg.MinAlnumRatio,
		minSpace:     cfg.MinSpaceRatio,
		minPrintable: cfg.MinPrintableRatio,
		maxSpecial:   cfg.MaxSpecialRatio,
	}
}

func (g qualityGate) passes(text string) bool {
	total := utf8.RuneCountInString(text)
	if total < g.minLength {
		return false
	}

	var alnum, space, printable, special int
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
		if unicode.IsSpace(r) {
			space++
		}
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			printable++
		}
		if isSpecial(r) {
			special++
		}
	}

	n := float64(total)
	if float64(alnum)/n < g.minAlnum {
		return false
	}
	if float64(space)/n < g.minSpace {
		return false
	}
	if float64(printable)/n < g.minPrintable {
		return false
	}
	if float64(special)/n > g.maxSpecial {
		return false
	}
	return true
}

func isSpecial(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
		return false
	}
	// Common prose punctuation does not count against the text.
	switch r {
	case '.', ',', ';', ':', '!', '?', '\'', '"', '-', '(', ')', '/', '@':
		return false
	}
	return true
}
