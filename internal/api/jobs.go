package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/engine"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/ledger"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createJobRequest is the JSON body for POST /v1/jobs.
type createJobRequest struct {
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params"`
}

// listJobsResponse wraps the paginated feed response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Kind == "" {
		s.writeError(w, http.StatusBadRequest, "kind is required")
		return
	}

	job, err := s.submitter.Submit(r.Context(), req.Kind, req.Params)
	if err != nil {
		var subErr *engine.SubmissionError
		if errors.As(err, &subErr) {
			s.writeError(w, http.StatusBadGateway, subErr.Error())
			return
		}
		s.logger.Error("submit job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	// The feed is stale the moment a new job exists.
	s.cache.InvalidateAll()

	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.ledger.GetJob(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

// handleListJobs serves the recent-jobs feed through the response cache. The
// feed is read at the UI's own refresh cadence, so a short TTL takes nearly
// all of the load off the ledger.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	key := fmt.Sprintf("jobs:l=%d:o=%d", limit, offset)
	payload, err := s.cache.GetOrFetch(r.Context(), key, s.feedTTL, func(ctx context.Context) ([]byte, error) {
		jobs, total, err := s.ledger.ListJobs(ctx, limit, offset)
		if err != nil {
			return nil, err
		}
		if jobs == nil {
			jobs = []*model.Job{}
		}
		return json.Marshal(listJobsResponse{
			Jobs:   jobs,
			Total:  total,
			Limit:  limit,
			Offset: offset,
		})
	})
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	s.writeRaw(w, http.StatusOK, payload)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeRaw writes an already-encoded JSON payload.
func (s *Server) writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
