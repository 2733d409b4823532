package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/agentmesh/orchestrator/internal/metrics"
	"github.com/agentmesh/orchestrator/pkg/types"
)

// StreamEvents handles GET /api/v1/events
// It implements Server-Sent Events (SSE) for streaming coordination events.
// An optional task_id query parameter narrows the stream to one task.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	taskID := r.URL.Query().Get("task_id")
	requestID := GetRequestID(r.Context(), r)

	if h.events == nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "event stream not available", nil)
		return
	}

	metrics.SSEActiveConnections.Inc()
	defer metrics.SSEActiveConnections.Dec()

	h.logger.Info("SSE connection opened",
		slog.String("request_id", requestID),
		slog.String("task_id", taskID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, r, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}
	flusher.Flush()

	// Send a hello event
	h.writeSSE(w, flusher, types.Event{
		ID:        "0",
		Type:      "hello",
		Timestamp: time.Now().UTC(),
	})

	eventCh, cleanup := h.events.Subscribe()
	defer cleanup()

	done := r.Context().Done()

	// Heartbeat ticker to keep connection alive
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			duration := time.Since(startTime)
			metrics.SSEConnectionDuration.Observe(duration.Seconds())
			h.logger.Info("SSE connection closed",
				slog.String("request_id", requestID),
				slog.Duration("duration", duration),
				slog.String("reason", "client_disconnect"),
			)
			return

		case evt, ok := <-eventCh:
			if !ok {
				duration := time.Since(startTime)
				metrics.SSEConnectionDuration.Observe(duration.Seconds())
				h.logger.Info("SSE connection closed",
					slog.String("request_id", requestID),
					slog.Duration("duration", duration),
					slog.String("reason", "stream_closed"),
				)
				return
			}
			if taskID != "" && evt.TaskID != taskID {
				continue
			}
			h.writeSSE(w, flusher, evt)

		case <-heartbeat.C:
			h.writeComment(w, flusher, "heartbeat")
		}
	}
}

// writeSSE writes an event in SSE format and flushes.
func (h *Handlers) writeSSE(w http.ResponseWriter, flusher http.Flusher, evt types.Event) {
	data := evt.ToSSE()
	if _, err := w.Write(data); err != nil {
		h.logger.Error("failed to write SSE event", "error", err)
		return
	}
	flusher.Flush()
}

// writeComment writes an SSE comment (for heartbeats).
func (h *Handlers) writeComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	if _, err := w.Write([]byte(": " + comment + "\n\n")); err != nil {
		h.logger.Error("failed to write SSE comment", "error", err)
		return
	}
	flusher.Flush()
}
