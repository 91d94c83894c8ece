package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/stitch/internal/stitcherr"
)

// DefaultMaxFetches is the default maximum number of adapter fetches per
// execution. It stops a WHOSE node whose subquery rejects almost every
// parent from paging a large entity forever.
const DefaultMaxFetches = 10000

// FetchQuota bounds the adapter fetches of one execution.
//
// A zero or negative limit disables the quota.
type FetchQuota struct {
	limit int64
}

// NewFetchQuota creates a quota with the given limit.
func NewFetchQuota(limit int) *FetchQuota {
	return &FetchQuota{limit: int64(limit)}
}

// Check validates a fetch sequence number against the limit.
func (q *FetchQuota) Check(executionID string, seq int64) error {
	if q.limit > 0 && seq > q.limit {
		return stitcherr.Wrap(stitcherr.KindQuotaExceeded, &FetchesExceededError{
			ExecutionID: executionID,
			Fetches:     seq,
			Limit:       q.limit,
		}, "fetch quota")
	}
	return nil
}

// Limit returns the maximum number of fetches.
func (q *FetchQuota) Limit() int64 {
	return q.limit
}

// FetchesExceededError is the cause of a KindQuotaExceeded error.
type FetchesExceededError struct {
	ExecutionID string
	Fetches     int64
	Limit       int64
}

// Error implements the error interface.
func (e *FetchesExceededError) Error() string {
	return fmt.Sprintf("execution %s exceeded max fetches quota: %d fetches > %d limit",
		e.ExecutionID, e.Fetches, e.Limit)
}

// IsFetchesExceededError returns true if the error is a FetchesExceededError.
// Uses errors.As to handle wrapped errors.
func IsFetchesExceededError(err error) bool {
	var fe *FetchesExceededError
	return errors.As(err, &fe)
}
