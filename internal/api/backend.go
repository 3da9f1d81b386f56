package api

import (
	"context"
	"encoding/json"
	"net/http"
)

// handleBackendStatus reports the compute backend's queue depth and system
// stats. Responses are cached briefly so a busy dashboard does not hammer the
// backend with identical probes.
func (s *Server) handleBackendStatus(w http.ResponseWriter, r *http.Request) {
	payload, err := s.cache.GetOrFetch(r.Context(), "backend:status", backendStatusTTL, func(ctx context.Context) ([]byte, error) {
		status, err := s.backend.Status(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(status)
	})
	if err != nil {
		s.logger.Error("backend status", "error", err)
		s.writeError(w, http.StatusBadGateway, "compute backend unreachable")
		return
	}

	s.writeRaw(w, http.StatusOK, payload)
}
