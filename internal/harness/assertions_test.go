package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitch/internal/ir"
)

func outcome() QueryOutcome {
	return QueryOutcome{
		Name: "q",
		Records: []ir.IRObject{
			{"id": ir.IRInt(1), "name": ir.IRString("Alice"), "pet": ir.IRObject{"name": ir.IRString("Fido")}},
			{"id": ir.IRInt(2), "name": ir.IRString("Bob"), "pet": ir.IRNull{}},
		},
		Fetches: 3,
		Buffers: []string{"person", "person#0"},
	}
}

func TestEvaluateAssertions(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"count matches", Assertion{Type: AssertCount, Count: 2}, ""},
		{"count differs", Assertion{Type: AssertCount, Count: 1}, "expected: 1 records"},
		{"contains scalar", Assertion{Type: AssertContains, Record: map[string]any{"name": "Bob"}}, ""},
		{"contains nested", Assertion{Type: AssertContains, Record: map[string]any{"pet": map[string]any{"name": "Fido"}}}, ""},
		{"contains null", Assertion{Type: AssertContains, Record: map[string]any{"id": 2, "pet": nil}}, ""},
		{"contains missing", Assertion{Type: AssertContains, Record: map[string]any{"name": "Carol"}}, `a record matching {"name":"Carol"}`},
		{"contains absent key", Assertion{Type: AssertContains, Record: map[string]any{"age": nil}}, "not found"},
		{"order matches", Assertion{Type: AssertOrder, Attr: "id", Values: []any{1, 2}}, ""},
		{"order differs", Assertion{Type: AssertOrder, Attr: "name", Values: []any{"Bob", "Alice"}}, `actual: ["Alice","Bob"]`},
		{"buffer present", Assertion{Type: AssertBuffer, Identity: "person#0"}, ""},
		{"buffer absent", Assertion{Type: AssertBuffer, Identity: "person#1"}, `buffer "person#1"`},
		{"fetches within", Assertion{Type: AssertMaxFetches, Max: 3}, ""},
		{"fetches over", Assertion{Type: AssertMaxFetches, Max: 2}, "at most 2 fetches"},
		{"unknown", Assertion{Type: "trace_count"}, `unknown assertion type "trace_count"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(outcome(), []Assertion{tt.assertion})
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.wantErr)
		})
	}
}

func TestExpectRecords(t *testing.T) {
	records := outcome().Records

	require.NoError(t, expectRecords(records, []map[string]any{
		{"id": 1, "name": "Alice", "pet": map[string]any{"name": "Fido"}},
		{"id": 2, "name": "Bob", "pet": nil},
	}))

	err := expectRecords(records, []map[string]any{
		{"id": 2, "name": "Bob", "pet": nil},
		{"id": 1, "name": "Alice", "pet": map[string]any{"name": "Fido"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `record 0 = {"id":2,"name":"Bob","pet":null}`)

	err = expectRecords(records, []map[string]any{{"id": 1, "name": "Alice"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected: 1 records")
	assert.Contains(t, err.Error(), "actual: 2 records")

	err = expectRecords(records, []map[string]any{{"x": 1.5}})
	assert.ErrorContains(t, err, "expect[0]")
}

func TestAssertionError_ListsRecords(t *testing.T) {
	err := &AssertionError{
		Type:     AssertCount,
		Expected: "1 records",
		Actual:   "2 records",
		Records:  outcome().Records,
	}
	msg := err.Error()
	assert.Contains(t, msg, "assertion failed: count")
	assert.Contains(t, msg, `[1] {"id":2,"name":"Bob","pet":null}`)
}
