package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/engine"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/ledger"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/model"
)

// handleStreamEvents streams a job's lifecycle events as SSE until the job
// reaches a terminal state or the client disconnects.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.ledger.GetJob(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job for events", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Already terminal: replay the final state once and end the stream.
	if model.Terminal(job.Status) {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEJSON(w, engine.Event{
			JobID:   job.ID,
			Status:  job.Status,
			Error:   job.ErrorMessage,
			Outputs: len(job.Outputs),
		})
		_ = writeSSEEvent(w, "done", "stream complete")
		return
	}

	// Non-terminal but nothing in this process is polling it (the job belongs
	// to a previous run). No events will ever arrive, so replay the current
	// state and end the stream instead of hanging.
	if !s.submitter.Broker().Active(id) {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEJSON(w, engine.Event{
			JobID:  job.ID,
			Status: job.Status,
			Error:  job.ErrorMessage,
		})
		_ = writeSSEEvent(w, "done", "stream complete")
		return
	}

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Safe even if the job finished between the status check above and this
	// call. Subscribing to a closed topic returns a closed channel, so the
	// loop below exits immediately.
	ch, unsub := s.submitter.Broker().Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSEJSON(w, ev); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

// writeSSEJSON writes one event as an SSE data frame with a JSON payload.
func writeSSEJSON(w http.ResponseWriter, ev engine.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte("data: " + string(data) + "\n\n"))
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	_, err := w.Write([]byte("event: " + eventType + "\ndata: " + data + "\n\n"))
	return err
}
