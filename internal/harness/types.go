package harness

import "github.com/roach88/stitch/internal/ir"

// QueryOutcome is what one query step produced.
type QueryOutcome struct {
	Name string `json:"name"`

	// ExecutionID is the engine's ID of the run; deterministic under the
	// harness.
	ExecutionID string `json:"execution_id,omitempty"`

	// Records are the assembled records. Nil when the query failed.
	Records []ir.IRObject `json:"records,omitempty"`

	// Error is the kind of the failure, empty on success.
	Error string `json:"error,omitempty"`

	// Fetches is the number of adapter calls the query issued.
	Fetches int64 `json:"fetches"`

	// Buffers are the heap identities the execution allocated.
	Buffers []string `json:"buffers,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expectation and assertion holds.
	Pass bool `json:"pass"`

	// Queries holds one outcome per query step, in order.
	Queries []QueryOutcome `json:"queries"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Queries: []QueryOutcome{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Outcome returns the outcome of the named query.
func (r *Result) Outcome(name string) (QueryOutcome, bool) {
	for _, q := range r.Queries {
		if q.Name == name {
			return q, true
		}
	}
	return QueryOutcome{}, false
}
