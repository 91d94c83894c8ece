package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/stitch/internal/ir"
)

// Snapshot captures the observable output of a scenario execution.
// It serializes to canonical JSON so golden files are byte-stable.
// Buffer lists are left out: sibling branches allocate concurrently.
type Snapshot struct {
	ScenarioName string
	Queries      []QueryOutcome
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON
// serialization.
func (s *Snapshot) toCanonicalMap() map[string]any {
	queries := make([]any, len(s.Queries))
	for i, q := range s.Queries {
		m := map[string]any{
			"name":    q.Name,
			"fetches": q.Fetches,
		}
		if q.Error != "" {
			m["error"] = q.Error
		} else {
			records := make([]any, len(q.Records))
			for j, r := range q.Records {
				records[j] = r
			}
			m["records"] = records
		}
		queries[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"queries":       queries,
	}
}

// Canonical returns the canonical JSON form of the snapshot.
func (s *Snapshot) Canonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := Snapshot{ScenarioName: scenarioName, Queries: result.Queries}
	data, err := snapshot.Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
