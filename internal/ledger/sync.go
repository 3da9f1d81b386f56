package ledger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/model"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/storage"
)

// Synchronizer mirrors job lifecycle transitions into the ledger. Ledger
// writes are best-effort: a failure is logged and swallowed so it can never
// mask the job outcome from the caller. Finalize runs exactly once per job no
// matter how many terminal paths race to report.
type Synchronizer struct {
	ledger Ledger
	store  storage.Store // nil disables result persistence
	logger *slog.Logger

	mu        sync.Mutex
	finalized map[string]bool
}

// NewSynchronizer creates a synchronizer. store may be nil when completed
// outputs should stay on the compute backend.
func NewSynchronizer(ledger Ledger, store storage.Store, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		ledger:    ledger,
		store:     store,
		logger:    logger,
		finalized: make(map[string]bool),
	}
}

// Create records a freshly submitted job. The engine calls this before the
// first status poll so a crash mid-poll always leaves a traceable entry.
func (s *Synchronizer) Create(ctx context.Context, job *model.Job) error {
	if err := s.ledger.CreateJob(ctx, job); err != nil {
		s.logger.Error("ledger create failed", "job_id", job.ID, "error", err)
		return err
	}
	return nil
}

// MarkProcessing transitions the ledger entry to processing.
func (s *Synchronizer) MarkProcessing(ctx context.Context, id string) {
	if err := s.ledger.UpdateJobStatus(ctx, id, model.StatusProcessing); err != nil {
		s.logger.Warn("ledger processing update failed", "job_id", id, "error", err)
	}
}

// Finalize records the terminal outcome for a job and returns the outcome as
// recorded. The first call wins; later calls return the input unchanged and
// touch nothing.
//
// A completed job with no output, or one whose result cannot be copied to
// durable storage, is recorded as failed: the compute step nominally
// succeeded, but the user has nothing to show for it.
func (s *Synchronizer) Finalize(ctx context.Context, id string, out Outcome) Outcome {
	s.mu.Lock()
	if s.finalized[id] {
		s.mu.Unlock()
		return out
	}
	s.finalized[id] = true
	s.mu.Unlock()

	if out.Status == model.StatusCompleted {
		out = s.persistOutputs(ctx, id, out)
	}

	if err := s.ledger.FinalizeJob(ctx, id, out); err != nil {
		s.logger.Error("ledger finalize failed", "job_id", id, "status", out.Status, "error", err)
	}
	return out
}

// persistOutputs copies each output to durable storage, downgrading the
// outcome to failed if the job has nothing to persist or persistence fails.
func (s *Synchronizer) persistOutputs(ctx context.Context, id string, out Outcome) Outcome {
	if len(out.Outputs) == 0 {
		return Outcome{
			Status:       model.StatusFailed,
			ErrorMessage: "completed but no output",
		}
	}
	if s.store == nil {
		return out
	}

	for i := range out.Outputs {
		url, err := s.store.Persist(ctx, id, out.Outputs[i])
		if err != nil {
			s.logger.Error("result persistence failed", "job_id", id, "filename", out.Outputs[i].Filename, "error", err)
			return Outcome{
				Status:       model.StatusFailed,
				ErrorMessage: "failed to store result: " + err.Error(),
			}
		}
		out.Outputs[i].URL = url
	}
	return out
}
