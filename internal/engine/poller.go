package engine

import (
	"context"
	"fmt"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/client"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/ledger"
	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/model"
)

// poll drives the completion state machine for one job until a terminal
// outcome or cancellation. The returned error is non-nil only for
// cancellation; every other path produces an outcome.
//
// Each cycle: check the wall-clock budget before any network call (a machine
// waking from sleep must not issue one more doomed request), then fetch the
// backend's status. Transient fetch failures are non-terminal and retry after
// the inter-poll delay, bounded only by the overall budget. Flaky status
// checks are far more common than real job failures.
func (e *Engine) poll(ctx context.Context, job *model.Job) (ledger.Outcome, error) {
	maxWait := e.maxWaitFor(job.Kind)

	for {
		if e.opts.Clock().Sub(job.SubmittedAt) > maxWait {
			return ledger.Outcome{
				Status:       model.StatusTimedOut,
				ErrorMessage: fmt.Sprintf("job did not finish within %s", maxWait),
			}, nil
		}

		status, err := e.backend.History(ctx, job.Handle)
		if err != nil {
			if client.IsCanceled(err) || ctx.Err() != nil {
				return ledger.Outcome{}, err
			}
			pollErrors.Inc()
			e.logger.Debug("status fetch failed, will retry", "job_id", job.ID, "error", err)
			if serr := e.sleep(ctx); serr != nil {
				return ledger.Outcome{}, serr
			}
			continue
		}
		pollCycles.Inc()

		switch {
		case status.Failed:
			// Terminal content error from the backend; never retried.
			return ledger.Outcome{
				Status:       model.StatusFailed,
				ErrorMessage: status.Error,
			}, nil

		case status.Done:
			if len(status.Outputs) == 0 {
				// A success signal with nothing to show is a failure, not a
				// reason to keep polling.
				return ledger.Outcome{
					Status:       model.StatusFailed,
					ErrorMessage: "completed but no output",
				}, nil
			}
			return ledger.Outcome{
				Status:  model.StatusCompleted,
				Outputs: status.Outputs,
			}, nil
		}

		if serr := e.sleep(ctx); serr != nil {
			return ledger.Outcome{}, serr
		}
	}
}

func (e *Engine) sleep(ctx context.Context) error {
	return e.opts.Sleep(ctx, e.opts.PollInterval)
}
