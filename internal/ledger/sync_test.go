package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/model"
)

// recordingLedger counts calls; CreateJob/UpdateJobStatus/FinalizeJob can be
// made to fail.
type recordingLedger struct {
	mu            sync.Mutex
	finalizeCalls int
	lastOutcome   Outcome
	finalizeErr   error
}

func (r *recordingLedger) CreateJob(context.Context, *model.Job) error { return nil }
func (r *recordingLedger) GetJob(context.Context, string) (*model.Job, error) {
	return nil, ErrNotFound
}
func (r *recordingLedger) ListJobs(context.Context, int, int) ([]*model.Job, int, error) {
	return nil, 0, nil
}
func (r *recordingLedger) UpdateJobStatus(context.Context, string, string) error { return nil }
func (r *recordingLedger) Close() error                                          { return nil }

func (r *recordingLedger) FinalizeJob(_ context.Context, _ string, out Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalizeCalls++
	r.lastOutcome = out
	return r.finalizeErr
}

func (r *recordingLedger) finalizeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalizeCalls
}

type fakeStore struct {
	calls atomic.Int32
	err   error
}

func (f *fakeStore) Persist(_ context.Context, jobID string, ref model.OutputRef) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "/media/" + jobID + "/" + ref.Filename, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestFinalizeExactlyOnceUnderConcurrency(t *testing.T) {
	rec := &recordingLedger{}
	s := NewSynchronizer(rec, nil, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Finalize(context.Background(), "job-1", Outcome{
				Status:       model.StatusTimedOut,
				ErrorMessage: "budget exceeded",
			})
		}()
	}
	wg.Wait()

	if got := rec.finalizeCount(); got != 1 {
		t.Errorf("ledger finalize calls = %d, want exactly 1", got)
	}
}

func TestFinalizeSecondCallIsNoop(t *testing.T) {
	rec := &recordingLedger{}
	s := NewSynchronizer(rec, nil, discardLogger())

	s.Finalize(context.Background(), "job-1", Outcome{Status: model.StatusFailed, ErrorMessage: "first"})
	s.Finalize(context.Background(), "job-1", Outcome{Status: model.StatusCompleted})

	if got := rec.finalizeCount(); got != 1 {
		t.Errorf("finalize calls = %d, want 1", got)
	}
	if rec.lastOutcome.Status != model.StatusFailed {
		t.Errorf("recorded outcome = %+v, first finalize must win", rec.lastOutcome)
	}
}

func TestFinalizeCompletedPersistsOutputs(t *testing.T) {
	rec := &recordingLedger{}
	store := &fakeStore{}
	s := NewSynchronizer(rec, store, discardLogger())

	out := s.Finalize(context.Background(), "job-1", Outcome{
		Status:  model.StatusCompleted,
		Outputs: []model.OutputRef{{Filename: "a.mp4"}, {Filename: "b.mp4"}},
	})

	if out.Status != model.StatusCompleted {
		t.Fatalf("status = %q", out.Status)
	}
	if store.calls.Load() != 2 {
		t.Errorf("persist calls = %d, want 2", store.calls.Load())
	}
	if out.Outputs[0].URL != "/media/job-1/a.mp4" {
		t.Errorf("output URL = %q", out.Outputs[0].URL)
	}
}

func TestFinalizeCompletedWithoutOutputsBecomesFailed(t *testing.T) {
	rec := &recordingLedger{}
	s := NewSynchronizer(rec, &fakeStore{}, discardLogger())

	out := s.Finalize(context.Background(), "job-1", Outcome{Status: model.StatusCompleted})

	if out.Status != model.StatusFailed {
		t.Errorf("status = %q, want failed", out.Status)
	}
	if out.ErrorMessage != "completed but no output" {
		t.Errorf("error = %q", out.ErrorMessage)
	}
	if rec.lastOutcome.Status != model.StatusFailed {
		t.Errorf("ledger recorded %+v", rec.lastOutcome)
	}
}

func TestFinalizeStorageFailureBecomesFailed(t *testing.T) {
	rec := &recordingLedger{}
	store := &fakeStore{err: errors.New("disk full")}
	s := NewSynchronizer(rec, store, discardLogger())

	out := s.Finalize(context.Background(), "job-1", Outcome{
		Status:  model.StatusCompleted,
		Outputs: []model.OutputRef{{Filename: "a.mp4"}},
	})

	if out.Status != model.StatusFailed {
		t.Errorf("status = %q, want failed when the upload fails", out.Status)
	}
}

// A ledger write failure must never mask the job outcome from the caller.
func TestFinalizeSwallowsLedgerFailure(t *testing.T) {
	rec := &recordingLedger{finalizeErr: errors.New("ledger down")}
	s := NewSynchronizer(rec, nil, discardLogger())

	out := s.Finalize(context.Background(), "job-1", Outcome{
		Status:  model.StatusCompleted,
		Outputs: []model.OutputRef{{Filename: "a.mp4"}},
	})
	if out.Status != model.StatusCompleted {
		t.Errorf("status = %q, ledger failure must not change the outcome", out.Status)
	}
}
