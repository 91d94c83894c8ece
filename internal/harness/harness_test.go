package harness

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitch/internal/config"
	"github.com/roach88/stitch/internal/ir"
)

var kinds = []string{config.KindMemory, config.KindSQLite, config.KindBadger}

func loadZoo(t *testing.T) *Scenario {
	t.Helper()
	scenario, err := LoadScenario("testdata/scenarios/zoo.yaml")
	require.NoError(t, err)
	return scenario
}

func TestRun_ZooPassesUnderEveryKind(t *testing.T) {
	for _, kind := range kinds {
		t.Run(kind, func(t *testing.T) {
			result, err := Run(loadZoo(t), WithDatastoreKind(kind))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
			require.Len(t, result.Queries, 5)
		})
	}
}

func TestRun_Outcomes(t *testing.T) {
	result, err := Run(loadZoo(t))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	pets, ok := result.Outcome("alice_pets")
	require.True(t, ok)
	require.Len(t, pets.Records, 1)
	assert.Equal(t, ir.IRArray{
		ir.IRObject{"id": ir.IRInt(7), "name": ir.IRString("Tom"), "owner": ir.IRInt(1)},
		ir.IRObject{"id": ir.IRInt(5), "name": ir.IRString("Fido"), "owner": ir.IRInt(1)},
	}, pets.Records[0]["pets"])
	assert.Contains(t, pets.Buffers, "person")
	assert.Contains(t, pets.Buffers, "person.select.pets")

	malformed, ok := result.Outcome("malformed")
	require.True(t, ok)
	assert.Equal(t, "MALFORMED_QUERY", malformed.Error)
	assert.Nil(t, malformed.Records)
	assert.Empty(t, malformed.ExecutionID)

	_, ok = result.Outcome("missing")
	assert.False(t, ok)
}

func TestRun_DeterministicExecutionIDs(t *testing.T) {
	var ids []string
	result, err := Run(loadZoo(t))
	require.NoError(t, err)
	for _, q := range result.Queries {
		ids = append(ids, q.ExecutionID)
	}
	// The malformed query fails before an execution starts.
	assert.Equal(t, []string{"zoo-1", "zoo-2", "zoo-3", "", "zoo-4"}, ids)

	again, err := Run(loadZoo(t))
	require.NoError(t, err)
	assert.Equal(t, result.Queries, again.Queries)
}

const tinySchema = `entity: item: attributes: {
	name: {}
	rank: {type: "integer"}
}`

func tinyScenario(queries ...QueryStep) *Scenario {
	return &Scenario{
		Name:   "tiny",
		Schema: tinySchema,
		Fixtures: Fixtures{"item": {
			{"name": "a", "rank": 2},
			{"name": "b", "rank": 1},
		}},
		Queries: queries,
	}
}

func TestRun_ReportsFailures(t *testing.T) {
	tests := []struct {
		name string
		step QueryStep
		want string
	}{
		{
			name: "wrong records",
			step: QueryStep{Name: "q", From: "item", Query: map[string]any{"name": "a"}, Expect: []map[string]any{{"id": 1, "name": "b", "rank": 1}}},
			want: `q: assertion failed: expect`,
		},
		{
			name: "wrong count",
			step: QueryStep{Name: "q", From: "item", Query: map[string]any{}, Expect: []map[string]any{}},
			want: "expected: 0 records",
		},
		{
			name: "unexpected error",
			step: QueryStep{Name: "q", From: "item", Query: map[string]any{"where": 1, "nope": 1}},
			want: "q: unexpected error: MALFORMED_QUERY",
		},
		{
			name: "wrong error kind",
			step: QueryStep{Name: "q", From: "dragon", Query: map[string]any{}, ExpectError: "MALFORMED_QUERY"},
			want: "expected error MALFORMED_QUERY, got UNKNOWN_ENTITY",
		},
		{
			name: "missing error",
			step: QueryStep{Name: "q", From: "item", Query: map[string]any{}, ExpectError: "MALFORMED_QUERY"},
			want: "expected error MALFORMED_QUERY, query succeeded",
		},
		{
			name: "failed assertion",
			step: QueryStep{Name: "q", From: "item", Query: map[string]any{"sort": "rank"}, Assertions: []Assertion{
				{Type: AssertOrder, Attr: "name", Values: []any{"a", "b"}},
			}},
			want: "assertion failed: order",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Run(tinyScenario(tt.step))
			require.NoError(t, err)
			assert.False(t, result.Pass)
			require.Len(t, result.Errors, 1)
			assert.Contains(t, result.Errors[0], tt.want)
		})
	}
}

func TestRun_BatchSize(t *testing.T) {
	scenario := tinyScenario(QueryStep{
		Name:  "paged",
		From:  "item",
		Query: map[string]any{"limit": 1, "skip": 1, "where": map[string]any{"rank": map[string]any{">": 0}}},
		Expect: []map[string]any{
			{"id": 2, "name": "b", "rank": 1},
		},
		Assertions: []Assertion{{Type: AssertMaxFetches, Max: 1}},
	})
	scenario.BatchSize = 1

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_SetupErrors(t *testing.T) {
	badSchema := tinyScenario(QueryStep{Name: "q", From: "item", Query: map[string]any{}})
	badSchema.Schema = `entity: item: attributes: name: {type: "float"}`
	_, err := Run(badSchema)
	assert.Error(t, err)

	badFixture := tinyScenario(QueryStep{Name: "q", From: "item", Query: map[string]any{}})
	badFixture.Fixtures["ghost"] = []map[string]any{{"name": "boo"}}
	_, err = Run(badFixture)
	assert.ErrorContains(t, err, "failed to seed fixtures")

	wrongType := tinyScenario(QueryStep{Name: "q", From: "item", Query: map[string]any{}})
	wrongType.Fixtures["item"] = []map[string]any{{"rank": "high"}}
	_, err = Run(wrongType)
	assert.ErrorContains(t, err, "failed to seed fixtures: item")
}

func TestRun_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	result, err := Run(loadZoo(t), WithLogger(logger))
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Contains(t, buf.String(), `"execution":"zoo-1"`)
	assert.Contains(t, buf.String(), "query failed")
}

func linkedScenario() *Scenario {
	return &Scenario{
		Name: "linked",
		Schema: `entity: person: attributes: {
	name: {}
	best: {model: "toy"}
	toys: {collection: "toy"}
}
entity: toy: attributes: label: {}`,
		Fixtures: Fixtures{
			"person": {{"id": 1, "name": "Alice"}, {"id": 2, "name": "Bob"}},
			"toy":    {{"id": 20, "label": "rope"}, {"id": 21, "label": "ball"}},
		},
		Links: []LinkStep{
			{Entity: "person", Attr: "toys", Parent: 1, Related: 20},
			{Entity: "person", Attr: "toys", Parent: 1, Related: 21},
			{Entity: "person", Attr: "toys", Parent: 2, Related: 21},
		},
		Queries: []QueryStep{{
			Name:  "toys",
			From:  "person",
			Query: map[string]any{"select": map[string]any{"name": true, "toys": map[string]any{"sort": "label ASC"}}},
		}},
	}
}

func TestRun_LinksPopulateJunctionAssociations(t *testing.T) {
	ball := ir.IRObject{"id": ir.IRInt(21), "label": ir.IRString("ball")}
	rope := ir.IRObject{"id": ir.IRInt(20), "label": ir.IRString("rope")}

	for _, kind := range kinds {
		t.Run(kind, func(t *testing.T) {
			result, err := Run(linkedScenario(), WithDatastoreKind(kind))
			require.NoError(t, err)
			require.True(t, result.Pass, "errors: %v", result.Errors)

			toys, ok := result.Outcome("toys")
			require.True(t, ok)
			require.Len(t, toys.Records, 2)
			assert.Equal(t, ir.IRArray{ball, rope}, toys.Records[0]["toys"])
			assert.Equal(t, ir.IRArray{ball}, toys.Records[1]["toys"])
		})
	}
}

func TestRun_LinkErrors(t *testing.T) {
	tests := []struct {
		name string
		link LinkStep
	}{
		{"unknown association", LinkStep{Entity: "person", Attr: "ghost", Parent: 1, Related: 20}},
		{"scalar attribute", LinkStep{Entity: "person", Attr: "name", Parent: 1, Related: 20}},
		{"not a junction", LinkStep{Entity: "person", Attr: "best", Parent: 1, Related: 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := linkedScenario()
			scenario.Links = []LinkStep{tt.link}
			_, err := Run(scenario)
			assert.ErrorContains(t, err, "failed to seed links")
		})
	}
}
