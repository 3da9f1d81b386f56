// Package storage copies completed job outputs off the compute backend into
// durable storage, so results survive the backend's own history being pruned.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/model"
)

// Fetcher retrieves the raw bytes of one output from the compute backend.
type Fetcher interface {
	FetchOutput(ctx context.Context, ref model.OutputRef) ([]byte, error)
}

// Store persists a completed output durably and returns its stable URL.
type Store interface {
	Persist(ctx context.Context, jobID string, ref model.OutputRef) (string, error)
}

// DiskStore implements Store on the local filesystem, one directory per job.
// Files land under dir, but the returned URLs use urlPrefix, which must match
// the route the HTTP server mounts the directory at.
type DiskStore struct {
	dir       string
	urlPrefix string
	fetch     Fetcher
	logger    *slog.Logger
}

// NewDiskStore creates the root media directory if needed. urlPrefix is the
// public route the directory is served under, e.g. "/media".
func NewDiskStore(dir, urlPrefix string, fetch Fetcher, logger *slog.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &DiskStore{dir: dir, urlPrefix: urlPrefix, fetch: fetch, logger: logger}, nil
}

// Persist downloads the output from the backend and writes it under the job's
// directory. The returned URL is what the ledger records as the result
// location; it resolves through the server's media route regardless of where
// the media directory lives on disk.
func (d *DiskStore) Persist(ctx context.Context, jobID string, ref model.OutputRef) (string, error) {
	data, err := d.fetch.FetchOutput(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("download output: %w", err)
	}

	jobDir := filepath.Join(d.dir, jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}

	name := filepath.Base(ref.Filename)
	filePath := filepath.Join(jobDir, name)
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}

	url := path.Join(d.urlPrefix, jobID, name)
	d.logger.Debug("output persisted", "job_id", jobID, "path", filePath, "url", url, "bytes", len(data))
	return url, nil
}
