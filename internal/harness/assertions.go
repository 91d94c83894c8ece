package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/stitch/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string        // Assertion type for categorization
	Expected string        // Human-readable expected outcome
	Actual   string        // Human-readable actual outcome
	Records  []ir.IRObject // Records the query returned
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  actual: %s\n", e.Actual)
	if len(e.Records) > 0 {
		fmt.Fprintf(&buf, "records:\n")
		for i, r := range e.Records {
			fmt.Fprintf(&buf, "  [%d] %s\n", i, render(r))
		}
	}
	return buf.String()
}

// expectRecords checks records equal expected exactly, in order.
func expectRecords(records []ir.IRObject, expected []map[string]any) error {
	want := make([]ir.IRObject, len(expected))
	for i, raw := range expected {
		rec, err := convertRecord(raw)
		if err != nil {
			return fmt.Errorf("expect[%d]: %w", i, err)
		}
		want[i] = rec
	}

	if len(records) != len(want) {
		return &AssertionError{
			Type:     "expect",
			Expected: fmt.Sprintf("%d records", len(want)),
			Actual:   fmt.Sprintf("%d records", len(records)),
			Records:  records,
		}
	}
	for i := range want {
		if !ir.Equal(records[i], want[i]) {
			return &AssertionError{
				Type:     "expect",
				Expected: fmt.Sprintf("record %d = %s", i, render(want[i])),
				Actual:   fmt.Sprintf("record %d = %s", i, render(records[i])),
				Records:  records,
			}
		}
	}
	return nil
}

// assertCount checks the number of records.
func assertCount(outcome QueryOutcome, a Assertion) error {
	if len(outcome.Records) != a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d records", a.Count),
			Actual:   fmt.Sprintf("%d records", len(outcome.Records)),
			Records:  outcome.Records,
		}
	}
	return nil
}

// assertContains checks some record carries every field of a.Record.
// Extra fields on the record are ignored.
func assertContains(outcome QueryOutcome, a Assertion) error {
	want, err := convertRecord(a.Record)
	if err != nil {
		return fmt.Errorf("contains: %w", err)
	}
	for _, r := range outcome.Records {
		if matchSubset(r, want) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertContains,
		Expected: fmt.Sprintf("a record matching %s", render(want)),
		Actual:   "not found",
		Records:  outcome.Records,
	}
}

// assertOrder checks the values of one attribute across all records.
func assertOrder(outcome QueryOutcome, a Assertion) error {
	want, err := ir.FromNative(a.Values)
	if err != nil {
		return fmt.Errorf("order: %w", err)
	}
	got := make(ir.IRArray, len(outcome.Records))
	for i, r := range outcome.Records {
		got[i] = r.Get(a.Attr)
	}
	if !ir.Equal(got, want) {
		return &AssertionError{
			Type:     AssertOrder,
			Expected: fmt.Sprintf("%s in order %s", a.Attr, render(want)),
			Actual:   render(got),
			Records:  outcome.Records,
		}
	}
	return nil
}

// assertBuffer checks the execution allocated a buffer.
func assertBuffer(outcome QueryOutcome, a Assertion) error {
	if slices.Contains(outcome.Buffers, a.Identity) {
		return nil
	}
	return &AssertionError{
		Type:     AssertBuffer,
		Expected: fmt.Sprintf("buffer %q", a.Identity),
		Actual:   fmt.Sprintf("buffers %v", outcome.Buffers),
	}
}

// assertMaxFetches bounds the number of adapter calls.
func assertMaxFetches(outcome QueryOutcome, a Assertion) error {
	if outcome.Fetches > a.Max {
		return &AssertionError{
			Type:     AssertMaxFetches,
			Expected: fmt.Sprintf("at most %d fetches", a.Max),
			Actual:   fmt.Sprintf("%d fetches", outcome.Fetches),
		}
	}
	return nil
}

// matchSubset checks if actual contains all expected fields.
func matchSubset(actual, expected ir.IRObject) bool {
	for key, want := range expected {
		got, exists := actual[key]
		if !exists || !ir.Equal(got, want) {
			return false
		}
	}
	return true
}

// render formats a value as canonical JSON for messages.
func render(v ir.IRValue) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// EvaluateAssertions evaluates all assertions against one query outcome.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(outcome QueryOutcome, assertions []Assertion) []string {
	var errors []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertCount:
			err = assertCount(outcome, a)
		case AssertContains:
			err = assertContains(outcome, a)
		case AssertOrder:
			err = assertOrder(outcome, a)
		case AssertBuffer:
			err = assertBuffer(outcome, a)
		case AssertMaxFetches:
			err = assertMaxFetches(outcome, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
