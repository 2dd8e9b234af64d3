package harness

import (
	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/testutil"
)

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step behaved as expected and
	// every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every event and docs-sync delivery after setup.
	Trace []testutil.TraceLine `json:"trace"`

	// Steps holds one entry per scenario step.
	Steps []StepResult `json:"steps"`

	// Records are the backlog records written by the steps.
	Records []model.SyncBacklogRecord `json:"records,omitempty"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []testutil.TraceLine{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
