// Package reveal decrypts stored PII entities for operator inspection. Every
// reveal is gated by configuration and leaves an audit record with a bounded
// retention window.
package reveal

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
	"github.com/wikiguard/pii-scan-backend/internal/domain/pii"
	"github.com/wikiguard/pii-scan-backend/internal/domain/scan"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/config"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/crypto"
)

// ErrRevealDisabled is returned while the reveal gate flag is off.
var ErrRevealDisabled = errors.NewForbiddenError("secret reveal is disabled by configuration")

var validate = validator.New()

// Request identifies the page whose entities should be revealed. Purpose is
// recorded verbatim in the audit trail.
type Request struct {
	ScanID   string `json:"scan_id" validate:"required"`
	SpaceKey string `json:"space_key" validate:"required"`
	PageID   string `json:"page_id" validate:"required"`
	Purpose  string `json:"purpose" validate:"required"`
}

// PageReveal is the decrypted result for one page, covering the page item and
// its attachment items.
type PageReveal struct {
	ScanID   string                `json:"scan_id"`
	SpaceKey string                `json:"space_key"`
	PageID   string                `json:"page_id"`
	Entities []*pii.DetectedEntity `json:"entities"`
}

// Service decrypts entities out of the event log and writes the audit trail.
type Service struct {
	events scan.EventRepository
	audits pii.AuditRepository
	crypto *crypto.Service
	cfg    *config.PIIConfig
	logger *zap.Logger
}

func NewService(events scan.EventRepository, audits pii.AuditRepository, cryptoSvc *crypto.Service, cfg *config.PIIConfig, logger *zap.Logger) *Service {
	return &Service{
		events: events,
		audits: audits,
		crypto: cryptoSvc,
		cfg:    cfg,
		logger: logger,
	}
}

// RevealPage decrypts all entities recorded for one page within a scan. The
// audit record is written before the plaintext leaves this method; if the
// audit write fails, nothing is revealed.
func (s *Service) RevealPage(ctx context.Context, req Request) (*PageReveal, error) {
	if !s.cfg.AllowSecretReveal {
		return nil, ErrRevealDisabled
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	items, err := s.events.ListItems(ctx, req.ScanID, scan.ItemFilter{
		SpaceKey: req.SpaceKey,
		PageID:   req.PageID,
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.NewNotFoundError("page " + req.PageID + " in scan " + req.ScanID)
	}

	var revealed []*pii.DetectedEntity
	for _, ev := range items {
		if ev.Payload == nil {
			continue
		}
		for _, entity := range ev.Payload.Entities {
			plain, err := s.decryptEntity(entity)
			if err != nil {
				return nil, err
			}
			revealed = append(revealed, plain)
		}
	}

	record, err := pii.NewAuditRecord(req.ScanID, req.SpaceKey, req.PageID,
		req.Purpose, len(revealed), s.cfg.AuditRetentionDays)
	if err != nil {
		return nil, err
	}
	if err := s.audits.Create(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info("pii entities revealed",
		zap.String("scan_id", req.ScanID),
		zap.String("space_key", req.SpaceKey),
		zap.String("page_id", req.PageID),
		zap.String("purpose", req.Purpose),
		zap.Int("entity_count", len(revealed)))

	return &PageReveal{
		ScanID:   req.ScanID,
		SpaceKey: req.SpaceKey,
		PageID:   req.PageID,
		Entities: revealed,
	}, nil
}

// AuditTrail lists the reveal audit records of one scan, newest first.
func (s *Service) AuditTrail(ctx context.Context, scanID string) ([]*pii.AuditRecord, error) {
	if scanID == "" {
		return nil, errors.NewValidationError("MISSING_SCAN_ID", "scan ID is required")
	}
	return s.audits.ListByScan(ctx, scanID)
}

func (s *Service) decryptEntity(entity *pii.DetectedEntity) (*pii.DetectedEntity, error) {
	plain := entity.Clone()
	meta := crypto.Metadata{
		PiiType:       plain.PiiType,
		PositionBegin: plain.StartPosition,
		PositionEnd:   plain.EndPosition,
	}
	if crypto.IsEncrypted(plain.SensitiveValue) {
		value, err := s.crypto.Decrypt(plain.SensitiveValue, meta)
		if err != nil {
			return nil, err
		}
		plain.SensitiveValue = value
	}
	if crypto.IsEncrypted(plain.SensitiveContext) {
		context, err := s.crypto.Decrypt(plain.SensitiveContext, meta)
		if err != nil {
			return nil, err
		}
		plain.SensitiveContext = context
	}
	return plain, nil
}

func validateRequest(req Request) error {
	if err := validate.Struct(req); err != nil {
		return errors.NewValidationError("INVALID_REQUEST", err.Error())
	}
	return nil
}
