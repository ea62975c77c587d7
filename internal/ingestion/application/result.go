package application

import (
	"errors"
	"fmt"

	feed "home-manager/internal/feed/domain"
	reports "home-manager/internal/reports/domain"
)

// Step names a reconciliation target.
type Step string

const (
	StepFeed       Step = "feed"
	StepComponents Step = "components"
	StepDirectory  Step = "directory"
	StepExpiry     Step = "expiry"
)

// ReconciliationFailure is the failure of a single target. Earlier targets
// are not rolled back and later ones still run.
type ReconciliationFailure struct {
	Step Step
	Err  error
}

func (e *ReconciliationFailure) Error() string {
	return fmt.Sprintf("ingestion: %s step failed: %v", e.Step, e.Err)
}

func (e *ReconciliationFailure) Unwrap() error { return e.Err }

// StepOutcome records how one step went.
type StepOutcome struct {
	Step     Step  `json:"step"`
	Attempts int   `json:"attempts"`
	Affected int   `json:"affected"`
	Skipped  bool  `json:"skipped,omitempty"`
	Err      error `json:"-"`
}

// IngestionResult aggregates the outcome of one report.
type IngestionResult struct {
	MessageID string
	Report    reports.StatusReport
	Entry     *feed.Entry
	Stale     bool
	Steps     []StepOutcome
}

// OK reports whether every step succeeded or was skipped.
func (r IngestionResult) OK() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return false
		}
	}
	return len(r.Steps) > 0
}

// Retryable reports whether redelivering the report may succeed. Every step
// is idempotent so any failed step makes the report retryable.
func (r IngestionResult) Retryable() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Err joins the step failures.
func (r IngestionResult) Err() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return errors.Join(errs...)
}

// Outcome returns the outcome of step, if recorded.
func (r IngestionResult) Outcome(step Step) (StepOutcome, bool) {
	for _, s := range r.Steps {
		if s.Step == step {
			return s, true
		}
	}
	return StepOutcome{}, false
}
