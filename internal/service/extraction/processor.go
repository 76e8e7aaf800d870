// Package extraction turns binary attachments into analyzable text. A fixed
// strategy registry maps formats to extractors and a quality gate filters
// out garbage extractions so the detection engine only sees prose.
package extraction

import (
	"context"

	"go.uber.org/zap"

	"github.com/wikiguard/pii-scan-backend/internal/domain/content"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/config"
)

// Processor runs attachment bytes through the first supporting strategy and
// gates the result on text quality. An empty string means "nothing to
// analyze"; only actual strategy failures return an error.
type Processor struct {
	strategies []Strategy
	gate       qualityGate
	logger     *zap.Logger
}

// NewProcessor builds the processor with the default strategy registry:
// plain text, then HTML, then CSV. Order matters; the first match wins.
func NewProcessor(cfg *config.ExtractionConfig, logger *zap.Logger) *Processor {
	return &Processor{
		strategies: []Strategy{
			plainTextStrategy{},
			htmlStrategy{},
			csvStrategy{},
		},
		gate:   newQualityGate(cfg),
		logger: logger,
	}
}

// Register appends an extra strategy, probed after the defaults. Used to
// plug in binary-format extractors without touching this package.
func (p *Processor) Register(s Strategy) {
	p.strategies = append(p.strategies, s)
}

// Supported reports whether any strategy can handle the attachment.
func (p *Processor) Supported(att content.Attachment) bool {
	for _, s := range p.strategies {
		if s.Supports(att) {
			return true
		}
	}
	return false
}

// Process extracts and gates text from attachment bytes. Unsupported formats
// and low-quality extractions yield empty text with no error.
func (p *Processor) Process(ctx context.Context, att content.Attachment, data []byte) (string, error) {
	for _, s := range p.strategies {
		if !s.Supports(att) {
			continue
		}

		text, err := s.Extract(ctx, att, data)
		if err != nil {
			return "", err
		}
		if !p.gate.passes(text) {
			p.logger.Debug("extracted text rejected by quality gate",
				zap.String("attachment", att.Name),
				zap.String("strategy", s.Name()),
				zap.Int("length", len(text)))
			return "", nil
		}
		return text, nil
	}

	p.logger.Debug("no extraction strategy for attachment",
		zap.String("attachment", att.Name),
		zap.String("media_type", att.MediaType))
	return "", nil
}
