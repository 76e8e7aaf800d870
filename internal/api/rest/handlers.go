// Package rest exposes the scan engine over HTTP: JSON command endpoints,
// SSE and websocket event streams, and the PII configuration surface.
package rest

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
	"github.com/wikiguard/pii-scan-backend/internal/domain/scan"
	"github.com/wikiguard/pii-scan-backend/internal/service/scanning"
)

// ScanEngine is the engine surface the handlers drive.
type ScanEngine interface {
	StartAll(ctx context.Context) (*scanning.Stream, error)
	ResumeAll(ctx context.Context, scanID string, withReplay bool) (*scanning.Stream, error)
	Attach(scanID string, withReplay bool) *scanning.Stream
	Pause(ctx context.Context, scanID string) error
	Cancel(scanID string)
	PurgeAll(ctx context.Context) error
}

// Handler carries the dependencies of all HTTP endpoints.
type Handler struct {
	engine      ScanEngine
	checkpoints scan.CheckpointRepository
	counters    scan.SeverityCountRepository
	reveal      RevealService
	configs     ConfigService
	logger      *zap.Logger
}

func NewHandler(
	engine ScanEngine,
	checkpoints scan.CheckpointRepository,
	counters scan.SeverityCountRepository,
	revealSvc RevealService,
	configs ConfigService,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		engine:      engine,
		checkpoints: checkpoints,
		counters:    counters,
		reveal:      revealSvc,
		configs:     configs,
		logger:      logger,
	}
}

// handlePurge wipes all scan artifacts: events, checkpoints, counters and
// live buffers.
func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.PurgeAll(r.Context()); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "purged"})
}

// handleStartStream starts a fresh scan and streams its events over SSE.
func (h *Handler) handleStartStream(w http.ResponseWriter, r *http.Request) {
	stream, err := h.engine.StartAll(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.serveSSE(w, r, stream)
}

// handleAttachStream reattaches to an existing scan. A paused scan is
// resumed by the reattach; a running scan just gains a subscriber.
func (h *Handler) handleAttachStream(w http.ResponseWriter, r *http.Request) {
	scanID := r.PathValue("scanID")
	withReplay := r.URL.Query().Get("replay") != "false"

	stream, err := h.engine.ResumeAll(r.Context(), scanID, withReplay)
	if err != nil {
		// A finished scan still serves its buffered tail.
		if errors.IsType(err, errors.ErrorTypeBusiness) {
			stream = h.engine.Attach(scanID, withReplay)
		} else {
			writeError(w, r, h.logger, err)
			return
		}
	}
	h.serveSSE(w, r, stream)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	scanID := r.PathValue("scanID")
	if err := h.engine.Pause(r.Context(), scanID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"scan_id": scanID,
		"status":  "pausing",
	})
}

// handleResume kicks the resume job without consuming the stream; consumers
// follow up with an SSE reattach. Repeated calls are absorbed.
func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	scanID := r.PathValue("scanID")
	stream, err := h.engine.ResumeAll(r.Context(), scanID, false)
	if err != nil && !errors.IsType(err, errors.ErrorTypeBusiness) {
		writeError(w, r, h.logger, err)
		return
	}
	if stream != nil {
		stream.Close()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"scan_id": scanID,
		"status":  "resuming",
	})
}

// scanSummary is the aggregate view of one scan.
type scanSummary struct {
	ScanID      string    `json:"scan_id"`
	Status      string    `json:"status"`
	Progress    float64   `json:"progress"`
	SpacesTotal int       `json:"spaces_total"`
	SpacesDone  int       `json:"spaces_done"`
	High        int64     `json:"high"`
	Medium      int64     `json:"medium"`
	Low         int64     `json:"low"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (h *Handler) handleLastScan(w http.ResponseWriter, r *http.Request) {
	summary, err := h.lastScanSummary(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleLastScanSpaces(w http.ResponseWriter, r *http.Request) {
	scanID, err := h.checkpoints.FindLatestScanID(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	cps, err := h.checkpoints.FindByScan(r.Context(), scanID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scan_id": scanID,
		"spaces":  cps,
	})
}

// spaceSummary joins one space's checkpoint with its severity counters.
type spaceSummary struct {
	SpaceKey  string    `json:"space_key"`
	Status    string    `json:"status"`
	Progress  float64   `json:"progress"`
	High      int64     `json:"high"`
	Medium    int64     `json:"medium"`
	Low       int64     `json:"low"`
	Total     int64     `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (h *Handler) handleSpacesSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scanID, err := h.checkpoints.FindLatestScanID(ctx)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	cps, err := h.checkpoints.FindByScan(ctx, scanID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	counts, err := h.counters.ListByScan(ctx, scanID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	bySpace := make(map[string]*scan.SeverityCount, len(counts))
	for _, c := range counts {
		bySpace[c.SpaceKey] = c
	}
	summaries := make([]spaceSummary, 0, len(cps))
	for _, cp := range cps {
		row := spaceSummary{
			SpaceKey:  cp.SpaceKey,
			Status:    string(cp.Status),
			Progress:  cp.ProgressPercentage,
			UpdatedAt: cp.UpdatedAt,
		}
		if c, ok := bySpace[cp.SpaceKey]; ok {
			row.High, row.Medium, row.Low, row.Total = c.High, c.Medium, c.Low, c.Total()
		}
		summaries = append(summaries, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scan_id": scanID,
		"spaces":  summaries,
	})
}

func (h *Handler) lastScanSummary(ctx context.Context) (*scanSummary, error) {
	scanID, err := h.checkpoints.FindLatestScanID(ctx)
	if err != nil {
		return nil, err
	}
	cps, err := h.checkpoints.FindByScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	counts, err := h.counters.ListByScan(ctx, scanID)
	if err != nil {
		return nil, err
	}

	summary := &scanSummary{ScanID: scanID, SpacesTotal: len(cps)}
	var progressSum float64
	for _, cp := range cps {
		progressSum += cp.ProgressPercentage
		if cp.Status.IsTerminal() {
			summary.SpacesDone++
		}
		if cp.UpdatedAt.After(summary.UpdatedAt) {
			summary.UpdatedAt = cp.UpdatedAt
		}
	}
	if len(cps) > 0 {
		summary.Progress = progressSum / float64(len(cps))
	}
	summary.Status = string(aggregateStatus(cps))
	for _, c := range counts {
		summary.High += c.High
		summary.Medium += c.Medium
		summary.Low += c.Low
	}
	return summary, nil
}

// aggregateStatus folds per-space statuses into one scan status. Any running
// space keeps the scan running; a paused space marks the scan paused; a
// failed space taints an otherwise finished scan.
func aggregateStatus(cps []*scan.Checkpoint) scan.Status {
	var paused, failed bool
	for _, cp := range cps {
		switch cp.Status {
		case scan.StatusRunning:
			return scan.StatusRunning
		case scan.StatusPaused:
			paused = true
		case scan.StatusFailed:
			failed = true
		}
	}
	if paused {
		return scan.StatusPaused
	}
	if failed {
		return scan.StatusFailed
	}
	return scan.StatusCompleted
}
