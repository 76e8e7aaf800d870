package rest

import (
	"context"
	"net/http"

	"github.com/wikiguard/pii-scan-backend/internal/domain/pii"
	"github.com/wikiguard/pii-scan-backend/internal/service/reveal"
)

// RevealService decrypts stored entities under audit.
type RevealService interface {
	RevealPage(ctx context.Context, req reveal.Request) (*reveal.PageReveal, error)
	AuditTrail(ctx context.Context, scanID string) ([]*pii.AuditRecord, error)
}

// ConfigService reads and updates the detection configuration.
type ConfigService interface {
	GetDetectionConfig(ctx context.Context) (*pii.DetectionConfig, error)
	UpdateDetectionConfig(ctx context.Context, cfg *pii.DetectionConfig) error
	ListTypeConfigs(ctx context.Context) ([]*pii.PiiTypeConfig, error)
	GetTypeConfig(ctx context.Context, detector pii.Detector, piiType string) (*pii.PiiTypeConfig, error)
	UpsertTypeConfig(ctx context.Context, cfg *pii.PiiTypeConfig) error
}

func (h *Handler) handleRevealPage(w http.ResponseWriter, r *http.Request) {
	var req reveal.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	result, err := h.reveal.RevealPage(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	records, err := h.reveal.AuditTrail(r.Context(), r.PathValue("scanID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) handleGetDetectionConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.configs.GetDetectionConfig(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handlePutDetectionConfig(w http.ResponseWriter, r *http.Request) {
	var cfg pii.DetectionConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.configs.UpdateDetectionConfig(r.Context(), &cfg); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, &cfg)
}

func (h *Handler) handleListTypeConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.configs.ListTypeConfigs(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": configs})
}

// handlePutTypeConfigs replaces tuning for a batch of (detector, type) rows.
// The whole batch is validated before any row is written.
func (h *Handler) handlePutTypeConfigs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Types []*pii.PiiTypeConfig `json:"types"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	for _, cfg := range req.Types {
		detector, err := pii.ParseDetector(string(cfg.Detector))
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		cfg.Detector = detector
		if err := cfg.Validate(); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}
	for _, cfg := range req.Types {
		if err := h.configs.UpsertTypeConfig(r.Context(), cfg); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": req.Types})
}

func (h *Handler) handleGetTypeConfig(w http.ResponseWriter, r *http.Request) {
	detector, err := pii.ParseDetector(r.PathValue("detector"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	cfg, err := h.configs.GetTypeConfig(r.Context(), detector, r.PathValue("piiType"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handlePutTypeConfig upserts one (detector, type) tuning row. The identity
// comes from the path; the body carries only the tunables.
func (h *Handler) handlePutTypeConfig(w http.ResponseWriter, r *http.Request) {
	detector, err := pii.ParseDetector(r.PathValue("detector"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var cfg pii.PiiTypeConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	cfg.Detector = detector
	cfg.PiiType = r.PathValue("piiType")
	if err := cfg.Validate(); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.configs.UpsertTypeConfig(r.Context(), &cfg); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, &cfg)
}
