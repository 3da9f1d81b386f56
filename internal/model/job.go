package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID mints a job identifier. ULIDs sort by creation time, which keeps the
// ledger's default listing in submission order.
func NewID() string {
	return ulid.Make().String()
}

// Job status constants.
const (
	StatusSubmitting = "submitting"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusTimedOut   = "timed_out"
)

// Job kind constants for the built-in workflow templates.
const (
	KindMultiTalk     = "multitalk"
	KindImageToImage  = "img2img"
	KindStyleTransfer = "style_transfer"
)

// validTransitions maps each status to the set of statuses it may transition to.
// Terminal statuses have no outgoing edges, so a finalized job can never revert.
var validTransitions = map[string]map[string]bool{
	StatusSubmitting: {
		StatusProcessing: true,
		StatusFailed:     true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTimedOut:  true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// OutputRef identifies one generated output on the compute backend, plus the
// durable URL it was copied to once finalized.
type OutputRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Job represents one media-generation job tracked from submission to a
// terminal outcome.
type Job struct {
	ID           string         `json:"id"`
	Handle       string         `json:"handle"`
	Kind         string         `json:"kind"`
	Status       string         `json:"status"`
	Params       map[string]any `json:"params,omitempty"`
	Outputs      []OutputRef    `json:"outputs,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	SubmittedAt  time.Time      `json:"submitted_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}
