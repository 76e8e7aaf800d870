package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wikiguard/pii-scan-backend/internal/domain/scan"
	"github.com/wikiguard/pii-scan-backend/internal/service/scanning"
)

const sseHeartbeatInterval = 15 * time.Second

// serveSSE streams scan events until the scan reaches a terminal event or
// the client goes away. A client disconnect only drops the subscription;
// the scan keeps running in the background.
func (h *Handler) serveSSE(w http.ResponseWriter, r *http.Request, stream *scanning.Stream) {
	defer stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-stream.Events:
			if !open {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				h.logger.Debug("sse write failed",
					zap.String("scan_id", stream.ScanID), zap.Error(err))
				return
			}
			flusher.Flush()
			if isTerminalEvent(ev) {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev *scan.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.EventSeq, ev.Type, data)
	return err
}

func isTerminalEvent(ev *scan.Event) bool {
	return ev.Type == scan.EventComplete || ev.Type == scan.EventPaused
}
