package ledger

import (
	"context"
	"errors"

	"github.com/VAPAI-Studio/multitalk-ui-sub001/internal/model"
)

// ErrNotFound is returned when a job is not in the ledger.
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when a status change would move a job out
// of a terminal state or skip the lifecycle order.
var ErrInvalidTransition = errors.New("invalid status transition")

// Outcome is the terminal result of a job handed to finalization.
type Outcome struct {
	Status       string
	Outputs      []model.OutputRef
	ErrorMessage string
}

// Ledger is the persistent record of job lifecycle and outcome.
type Ledger interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	UpdateJobStatus(ctx context.Context, id, status string) error
	FinalizeJob(ctx context.Context, id string, out Outcome) error
	Close() error
}
