// Package engine turns a fire-and-forget job submission into a reliable
// terminal outcome: it submits workflow graphs to the compute backend, records
// the job in the ledger before polling starts, and drives each job's
// completion poller in its own goroutine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/comfy"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/ledger"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/model"
)

// Default poller tuning. MaxWait is the overall wall-clock budget for one job;
// PollInterval is the fixed delay between status fetches.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxWait      = 10 * time.Minute
)

// Backend is the compute service the engine submits to and polls.
// *comfy.Client satisfies it.
type Backend interface {
	SubmitPrompt(ctx context.Context, graph map[string]any) (string, error)
	History(ctx context.Context, handle string) (*comfy.JobStatus, error)
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options tunes the engine's polling behavior. Zero values take defaults;
// Clock and Sleep exist so tests can run without real time.
type Options struct {
	PollInterval  time.Duration
	MaxWait       time.Duration
	MaxWaitByKind map[string]time.Duration
	Clock         func() time.Time
	Sleep         SleepFunc
}

// SubmissionError marks a terminal failure to hand a job to the compute
// backend. It is never retried as a poll.
type SubmissionError struct {
	Msg string
	Err error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Engine orchestrates job submission and completion tracking.
type Engine struct {
	backend Backend
	builder comfy.Builder
	syncer  *ledger.Synchronizer
	broker  *EventBroker
	opts    Options
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. Pollers launched by Submit stop when Close is called.
func New(backend Backend, builder comfy.Builder, syncer *ledger.Synchronizer, opts Options, logger *slog.Logger) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		backend: backend,
		builder: builder,
		syncer:  syncer,
		broker:  NewEventBroker(),
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit builds the workflow graph for the given kind, hands it to the compute
// backend, records the job in the ledger, and launches the completion poller.
// It returns once the backend has acknowledged the job; the ledger entry is
// created (or its creation observably attempted) before the first poll.
func (e *Engine) Submit(ctx context.Context, kind string, params map[string]any) (*model.Job, error) {
	graph, err := e.builder.Build(kind, params)
	if err != nil {
		return nil, &SubmissionError{Msg: fmt.Sprintf("build %s workflow", kind), Err: err}
	}

	handle, err := e.backend.SubmitPrompt(ctx, graph)
	if err != nil {
		return nil, &SubmissionError{Msg: "submit to compute backend", Err: err}
	}
	if handle == "" {
		return nil, &SubmissionError{Msg: "compute backend returned no usable job handle"}
	}

	job := &model.Job{
		ID:          model.NewID(),
		Handle:      handle,
		Kind:        kind,
		Status:      model.StatusSubmitting,
		Params:      params,
		SubmittedAt: e.opts.Clock().UTC(),
	}

	// Best-effort but observably attempted before polling begins, so a crash
	// mid-poll leaves a recoverable record rather than an orphaned backend job.
	if err := e.syncer.Create(ctx, job); err != nil {
		e.logger.Warn("continuing without ledger entry", "job_id", job.ID, "error", err)
	}

	jobsSubmitted.WithLabelValues(kind).Inc()
	e.logger.Info("job submitted", "job_id", job.ID, "handle", handle, "kind", kind)

	// Open the topic before the poller starts so subscribers attaching between
	// Submit returning and the first Publish see the job as live.
	e.broker.Open(job.ID)

	jobCopy := *job
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.track(&jobCopy)
	}()

	return job, nil
}

// Broker returns the lifecycle event broker for streaming job updates.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Wait blocks until all in-flight job pollers complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close cancels every in-flight poller and waits for them to stop. Canceled
// jobs are not finalized as failed; their ledger entries stay at processing
// for recovery.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// track runs one job's lifecycle: processing → poll loop → finalize.
func (e *Engine) track(job *model.Job) {
	e.syncer.MarkProcessing(e.ctx, job.ID)
	e.broker.Publish(job.ID, Event{JobID: job.ID, Status: model.StatusProcessing})

	outcome, err := e.poll(e.ctx, job)
	if err != nil {
		// Cancellation is a distinct outcome, not a job failure. Leave the
		// entry at processing so it can be recovered or re-polled later.
		e.logger.Info("poll canceled", "job_id", job.ID, "error", err)
		e.broker.Close(job.ID)
		return
	}

	// Finalization must survive engine teardown that races the terminal poll.
	final := e.syncer.Finalize(context.WithoutCancel(e.ctx), job.ID, outcome)
	jobsFinished.WithLabelValues(job.Kind, final.Status).Inc()

	e.broker.Publish(job.ID, Event{
		JobID:   job.ID,
		Status:  final.Status,
		Error:   final.ErrorMessage,
		Outputs: len(final.Outputs),
	})
	e.broker.Close(job.ID)

	switch final.Status {
	case model.StatusCompleted:
		e.logger.Info("job completed", "job_id", job.ID, "outputs", len(final.Outputs))
	default:
		e.logger.Warn("job did not complete", "job_id", job.ID, "status", final.Status, "error", final.ErrorMessage)
	}
}

func (e *Engine) maxWaitFor(kind string) time.Duration {
	if d, ok := e.opts.MaxWaitByKind[kind]; ok && d > 0 {
		return d
	}
	return e.opts.MaxWait
}
