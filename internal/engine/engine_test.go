package engine

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/stitch/internal/adapter"
	"github.com/roach88/stitch/internal/adapter/kvstore"
	"github.com/roach88/stitch/internal/adapter/memstore"
	"github.com/roach88/stitch/internal/adapter/sqlstore"
	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/logging"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/stitcherr"
)

const zooCUE = `
entity: person: attributes: {
	name:  {}
	age:   {type: "integer"}
	pet:   {model: "pet", columnName: "petId"}
	pets:  {collection: "pet", via: "owner"}
	toys:  {collection: "toy"}
	badge: {model: "badge"}
}
entity: pet: attributes: {
	name:  {}
	owner: {model: "person"}
}
entity: toy: {
	datastore: "side"
	attributes: label: {}
}
entity: badge: {
	datastore: "archive"
	attributes: label: {}
}
`

// store is what the fixture needs from a datastore.
type store interface {
	adapter.Adapter
	adapter.Finder
	adapter.BatchCreator
}

// spyStore counts finds per entity and fails them on demand.
type spyStore struct {
	store

	mu    sync.Mutex
	finds map[string]int
	fail  map[string]error
}

func spy(s store) *spyStore {
	return &spyStore{store: s, finds: make(map[string]int), fail: make(map[string]error)}
}

func (s *spyStore) Find(ctx context.Context, entity *schema.Entity, q adapter.Query) ([]ir.IRObject, error) {
	s.mu.Lock()
	s.finds[entity.Identity]++
	err := s.fail[entity.Identity]
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return s.store.Find(ctx, entity, q)
}

func (s *spyStore) totalFinds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.finds {
		n += c
	}
	return n
}

// writeOnly is a datastore that cannot serve queries.
type writeOnly struct{}

func (writeOnly) Kind() string { return "write-only" }

type fixture struct {
	t    *testing.T
	reg  *schema.Registry
	main *spyStore
	side *spyStore
	e    *Engine
}

func newMemFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	main, err := memstore.New()
	require.NoError(t, err)
	side, err := memstore.New()
	require.NoError(t, err)
	return newFixture(t, main, side, opts...)
}

func newFixture(t *testing.T, main, side store, opts ...Option) *fixture {
	t.Helper()
	reg, err := schema.CompileString(zooCUE, "zoo.cue")
	require.NoError(t, err)

	f := &fixture{t: t, reg: reg, main: spy(main), side: spy(side)}
	f.e = New(reg, map[string]adapter.Adapter{
		"default": f.main,
		"side":    f.side,
		"archive": writeOnly{},
	}, opts...)
	f.seed()
	return f
}

func (f *fixture) create(entity string, records ...ir.IRObject) {
	f.t.Helper()
	e, ok := f.reg.Entity(entity)
	require.True(f.t, ok, entity)
	target := f.main
	if e.Datastore == "side" {
		target = f.side
	}
	_, err := target.CreateEach(context.Background(), e, records)
	require.NoError(f.t, err)
}

func (f *fixture) seed() {
	f.create("person",
		rec("id", 1, "name", "Alice", "age", 50, "petId", 5),
		rec("id", 2, "name", "Bob", "age", 45, "petId", 6),
		rec("id", 3, "name", "Carol", "age", 30),
		rec("id", 4, "name", "Dave", "age", 60, "petId", 5),
	)
	f.create("pet",
		rec("id", 5, "name", "Fido", "owner", 1),
		rec("id", 6, "name", "Rex", "owner", 2),
		rec("id", 7, "name", "Tom", "owner", 1),
		rec("id", 8, "name", "Spot"),
	)
	f.create("toy",
		rec("id", 20, "label", "ball"),
		rec("id", 21, "label", "rope"),
		rec("id", 22, "label", "bone"),
	)

	toys, ok := f.reg.Association("person", "toys")
	require.True(f.t, ok)
	f.create(toys.Junction,
		toys.LinkRecord(ir.IRInt(1), ir.IRInt(20)),
		toys.LinkRecord(ir.IRInt(1), ir.IRInt(21)),
		toys.LinkRecord(ir.IRInt(2), ir.IRInt(21)),
	)
}

func (f *fixture) tree(raw any) *criteria.Tree {
	f.t.Helper()
	tree, err := criteria.Normalize(raw, f.reg, criteria.WithFrom("person"))
	require.NoError(f.t, err)
	return tree
}

func (f *fixture) execute(raw any) *Result {
	f.t.Helper()
	res, err := f.e.Execute(context.Background(), f.tree(raw))
	require.NoError(f.t, err)
	return res
}

func rec(kv ...any) ir.IRObject {
	obj := ir.IRObject{}
	for i := 0; i < len(kv); i += 2 {
		obj[kv[i].(string)] = ir.MustFromNative(kv[i+1])
	}
	return obj
}

func ids(records []ir.IRObject) []int64 {
	out := []int64{}
	for _, r := range records {
		out = append(out, int64(r["id"].(ir.IRInt)))
	}
	return out
}

func TestExecute_PersonWithPetNamedFido(t *testing.T) {
	reg, err := schema.CompileString(`
entity: person: attributes: {
	age: {type: "integer"}
	pet: {model: "pet", columnName: "petId"}
}
entity: pet: attributes: name: {}
`, "people.cue")
	require.NoError(t, err)

	s, err := memstore.New()
	require.NoError(t, err)
	ctx := context.Background()
	person, _ := reg.Entity("person")
	pet, _ := reg.Entity("pet")
	_, err = s.CreateEach(ctx, person, []ir.IRObject{
		rec("id", 1, "age", 50, "petId", 5),
		rec("id", 2, "age", 45, "petId", 6),
	})
	require.NoError(t, err)
	_, err = s.CreateEach(ctx, pet, []ir.IRObject{
		rec("id", 5, "name", "Fido"),
		rec("id", 6, "name", "Rex"),
	})
	require.NoError(t, err)

	tree, err := criteria.Normalize(map[string]any{
		"where": map[string]any{
			"age": map[string]any{">": 40},
			"pet": map[string]any{"whose": map[string]any{"name": "Fido"}, "min": 1},
		},
	}, reg, criteria.WithFrom("person"))
	require.NoError(t, err)

	e := New(reg, map[string]adapter.Adapter{schema.DefaultDatastore: s})
	res, err := e.Execute(ctx, tree)
	require.NoError(t, err)

	assert.Equal(t, []ir.IRObject{rec("id", 1, "age", 50, "petId", 5)}, res.Records)
}

func TestExecute_Whose(t *testing.T) {
	tests := []struct {
		name  string
		query any
		want  []int64
	}{
		{
			name:  "has-fk whose with flat criteria",
			query: map[string]any{"age": map[string]any{">": 40}, "pet": map[string]any{"whose": map[string]any{"name": "Fido"}}},
			want:  []int64{1, 4},
		},
		{
			name:  "bare nested object means at least one",
			query: map[string]any{"pet": map[string]any{"name": "Rex"}},
			want:  []int64{2},
		},
		{
			name:  "via-fk min two",
			query: map[string]any{"pets": map[string]any{"min": 2}},
			want:  []int64{1},
		},
		{
			name:  "via-fk max zero",
			query: map[string]any{"pets": map[string]any{"max": 0}},
			want:  []int64{3, 4},
		},
		{
			name:  "junction across datastores",
			query: map[string]any{"toys": map[string]any{"whose": map[string]any{"label": "rope"}}},
			want:  []int64{1, 2},
		},
		{
			name: "nested whose",
			query: map[string]any{"pet": map[string]any{"whose": map[string]any{
				"owner": map[string]any{"whose": map[string]any{"name": "Bob"}},
			}}},
			want: []int64{2},
		},
		{
			name: "two subqueries intersect",
			query: map[string]any{
				"pet":  map[string]any{"whose": map[string]any{"name": "Fido"}},
				"toys": map[string]any{"whose": map[string]any{"label": "ball"}},
			},
			want: []int64{1},
		},
		{
			name: "sort skip and limit apply to survivors",
			query: map[string]any{
				"where": map[string]any{"pet": map[string]any{"whose": map[string]any{"name": []any{"Fido", "Rex"}}}},
				"sort":  "age DESC",
				"skip":  1,
				"limit": 1,
			},
			want: []int64{1},
		},
		{
			name:  "unsatisfiable association with min zero keeps everyone",
			query: map[string]any{"badge": map[string]any{"min": 0}},
			want:  []int64{1, 2, 3, 4},
		},
		{
			name:  "unsatisfiable association with min one keeps nobody",
			query: map[string]any{"badge": map[string]any{"whose": map[string]any{"label": "gold"}}},
			want:  []int64{},
		},
	}

	for _, batchSize := range []int{2, 100} {
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newMemFixture(t, WithBatchSize(batchSize))
				res := f.execute(tt.query)
				assert.Equal(t, tt.want, ids(res.Records), "batch size %d", batchSize)
			})
		}
	}
}

func TestExecute_Populate(t *testing.T) {
	f := newMemFixture(t, WithBatchSize(2))

	res := f.execute(map[string]any{
		"where": map[string]any{"id": []any{1, 2, 3}},
		"select": map[string]any{
			"name": true,
			"pet":  true,
			"pets": map[string]any{"sort": "name DESC"},
			"toys": true,
		},
	})

	fido := rec("id", 5, "name", "Fido", "owner", 1)
	tom := rec("id", 7, "name", "Tom", "owner", 1)
	rex := rec("id", 6, "name", "Rex", "owner", 2)
	ball := rec("id", 20, "label", "ball")
	rope := rec("id", 21, "label", "rope")

	want := []ir.IRObject{
		{"id": ir.IRInt(1), "name": ir.IRString("Alice"), "pet": fido, "pets": ir.IRArray{tom, fido}, "toys": ir.IRArray{ball, rope}},
		{"id": ir.IRInt(2), "name": ir.IRString("Bob"), "pet": rex, "pets": ir.IRArray{rex}, "toys": ir.IRArray{rope}},
		{"id": ir.IRInt(3), "name": ir.IRString("Carol"), "pet": ir.IRNull{}, "pets": ir.IRArray{}, "toys": ir.IRArray{}},
	}
	assert.Equal(t, want, res.Records)

	var identities []string
	for _, b := range res.Buffers {
		identities = append(identities, b.Identity)
		if b.Identity == "person.select.toys~links" {
			assert.True(t, b.IsFootprint)
			assert.Equal(t, 3, b.Records)
		}
	}
	assert.Contains(t, identities, "person")
	assert.Contains(t, identities, "person#0")
	assert.Contains(t, identities, "person.select.pets")
	assert.Contains(t, identities, "person.select.toys~links")
}

func TestExecute_PopulateNestedPageAndSelect(t *testing.T) {
	f := newMemFixture(t)

	res := f.execute(map[string]any{
		"where": map[string]any{"id": 1},
		"select": map[string]any{
			"pets": map[string]any{
				"select": []any{"name"},
				"sort":   "name ASC",
				"limit":  1,
			},
		},
	})

	require.Len(t, res.Records, 1)
	assert.Equal(t, ir.IRArray{rec("id", 5, "name", "Fido")}, res.Records[0]["pets"])
	assert.Equal(t, ir.IRString("Alice"), res.Records[0]["name"], "no scalar selection keeps every attribute")
}

func TestExecute_PopulationMatchesWhoseBuffer(t *testing.T) {
	f := newMemFixture(t)
	person, _ := f.reg.Entity("person")
	ctx := context.Background()

	ctx, x := f.e.newExecution(ctx)
	n, err := x.run(ctx, "person", person, f.tree(map[string]any{
		"where":  map[string]any{"id": []any{1, 2}},
		"select": map[string]any{"pets": true},
	}))
	require.NoError(t, err)

	var populated []ir.IRObject
	for _, r := range x.integrate(n) {
		for _, p := range r["pets"].(ir.IRArray) {
			populated = append(populated, p.(ir.IRObject))
		}
	}
	byID := func(a, b ir.IRObject) int { return ir.Compare(a["id"], b["id"]) }
	slices.SortFunc(populated, byID)

	buffered := x.heap.Get("person.select.pets")
	slices.SortFunc(buffered, byID)
	assert.Equal(t, buffered, populated)

	ctx, y := f.e.newExecution(context.Background())
	_, err = y.run(ctx, "person", person, f.tree(map[string]any{"id": []any{1, 2}, "pets": map[string]any{"min": 1}}))
	require.NoError(t, err)

	filtered := y.heap.Get("person#0.where.pets")
	slices.SortFunc(filtered, byID)
	assert.Equal(t, filtered, populated, "population and WHOSE fetch the same related set")
	assert.Equal(t, []int64{5, 6, 7}, ids(populated))
}

func TestExecute_WhereFalseSkipsAdapter(t *testing.T) {
	f := newMemFixture(t)

	res := f.execute(false)

	assert.Empty(t, res.Records)
	assert.Zero(t, res.Fetches)
	assert.Zero(t, f.main.totalFinds())
}

func TestExecute_AdapterErrorAborts(t *testing.T) {
	f := newMemFixture(t)
	cause := errors.New("disk on fire")
	f.side.fail["toy"] = cause

	res, err := f.e.Execute(context.Background(), f.tree(map[string]any{
		"toys": map[string]any{"whose": map[string]any{"label": "ball"}},
	}))

	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, stitcherr.IsAdapter(err))
	assert.ErrorIs(t, err, cause)

	var serr *stitcherr.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "toy", serr.Entity)
	assert.Equal(t, "person#0.where.toys#0", serr.Identity)
}

func TestExecute_UnsatisfiableAssociationWarns(t *testing.T) {
	var buf bytes.Buffer
	logging.SetGlobalLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))
	t.Cleanup(func() { logging.SetGlobalLogger(zerolog.Nop()) })

	f := newMemFixture(t, WithIDGenerator(NewFixedGenerator("exec-1")))
	res := f.execute(map[string]any{
		"where":  map[string]any{"id": 1},
		"select": map[string]any{"badge": true, "pets": true},
	})

	require.Len(t, res.Records, 1)
	assert.Equal(t, ir.IRNull{}, res.Records[0]["badge"])
	assert.Len(t, res.Records[0]["pets"], 2)
	assert.Equal(t, "exec-1", res.ExecutionID)

	out := buf.String()
	assert.Contains(t, out, "association unsatisfiable")
	assert.Contains(t, out, `"attr":"badge"`)
	assert.Contains(t, out, `"execution":"exec-1"`)
}

func TestExecute_QuotaExceeded(t *testing.T) {
	f := newMemFixture(t, WithMaxFetches(1))

	_, err := f.e.Execute(context.Background(), f.tree(map[string]any{
		"pet": map[string]any{"whose": map[string]any{"name": "Fido"}},
	}))

	require.Error(t, err)
	assert.True(t, stitcherr.IsQuotaExceeded(err))
	assert.True(t, IsFetchesExceededError(err))
	assert.Equal(t, 1, f.main.totalFinds())
}

func TestExecute_Errors(t *testing.T) {
	f := newMemFixture(t)

	tests := []struct {
		name  string
		tree  *criteria.Tree
		check func(error) bool
	}{
		{"nil tree", nil, stitcherr.IsMalformedQuery},
		{"unknown entity", &criteria.Tree{From: "dragon", Select: criteria.Select{}, Limit: 30}, stitcherr.IsUnknownEntity},
		{"datastore cannot find", &criteria.Tree{From: "badge", Select: criteria.Select{}, Limit: 30}, stitcherr.IsMissingCapability},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.e.Execute(context.Background(), tt.tree)
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}
	assert.Zero(t, f.main.totalFinds())
}

func TestExecute_CancelledContext(t *testing.T) {
	f := newMemFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.e.Execute(ctx, f.tree(map[string]any{"age": 50}))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.main.totalFinds())
}

func TestExecute_ConcurrencyDoesNotChangeResults(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	query := map[string]any{
		"where": map[string]any{
			"pet":  map[string]any{"whose": map[string]any{"name": []any{"Fido", "Rex"}}},
			"toys": map[string]any{"min": 1},
		},
		"select": map[string]any{"pet": true, "pets": true, "toys": true},
	}

	serial := newMemFixture(t, WithConcurrency(1), WithBatchSize(1)).execute(query)
	parallel := newMemFixture(t, WithConcurrency(8), WithBatchSize(1)).execute(query)

	assert.Equal(t, []int64{1, 2}, ids(serial.Records))
	assert.Equal(t, serial.Records, parallel.Records)
}

func TestExecute_ConcurrentExecutionsAreIsolated(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newMemFixture(t, WithBatchSize(2))
	tree := f.tree(map[string]any{
		"where":  map[string]any{"pets": map[string]any{"min": 1}},
		"select": map[string]any{"pets": true},
	})

	const runs = 20
	results := make([]*Result, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.e.Execute(context.Background(), tree)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	for _, res := range results[1:] {
		require.NotNil(t, res)
		assert.Equal(t, results[0].Records, res.Records)
		assert.NotEqual(t, results[0].ExecutionID, res.ExecutionID)
	}
}

func TestExecute_AcrossAdapterKinds(t *testing.T) {
	sql, err := sqlstore.Open(filepath.Join(t.TempDir(), "main.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sql.Close() })
	kv, err := kvstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	reg, err := schema.CompileString(zooCUE, "zoo.cue")
	require.NoError(t, err)
	for _, e := range reg.Entities() {
		if e.Datastore == schema.DefaultDatastore {
			require.NoError(t, sql.Define(context.Background(), e))
		}
	}

	query := map[string]any{
		"where": map[string]any{
			"age":  map[string]any{">=": 45},
			"toys": map[string]any{"whose": map[string]any{"label": "rope"}},
		},
		"select": map[string]any{"name": true, "pet": true, "toys": map[string]any{"sort": "label DESC"}},
		"sort":   "name DESC",
	}

	mixed := newFixture(t, sql, kv, WithBatchSize(2)).execute(query)
	memory := newMemFixture(t, WithBatchSize(2)).execute(query)

	assert.Equal(t, []int64{2, 1}, ids(mixed.Records))
	assert.Equal(t, memory.Records, mixed.Records)
}

func TestIntegrate_AssemblesFromHeapBuffers(t *testing.T) {
	f := newMemFixture(t)
	f.seed()
	person, ok := f.reg.Entity("person")
	require.True(t, ok)

	ctx, x := f.e.newExecution(context.Background())
	n, err := x.run(ctx, "person", person, f.tree(map[string]any{
		"where":  map[string]any{"id": 3},
		"select": map[string]any{"name": true, "pets": true},
	}))
	require.NoError(t, err)

	carol := x.integrate(n)
	require.Len(t, carol, 1)
	assert.Equal(t, ir.IRArray{}, carol[0]["pets"])

	// Records reach the result through the buffers named by the branch
	// identities, child filter included.
	buddy := rec("id", 9, "name", "Buddy", "owner", 3)
	stray := rec("id", 10, "name", "Stray", "owner", 2)
	x.heap.Push("person.select.pets", "pet", []ir.IRObject{buddy, stray})
	x.heap.Push("person", "person", []ir.IRObject{rec("id", 1, "name", "Alice", "age", 50, "petId", 5)})

	got := x.integrate(n)
	assert.Equal(t, []ir.IRObject{
		{"id": ir.IRInt(1), "name": ir.IRString("Alice"), "pets": ir.IRArray{}},
		{"id": ir.IRInt(3), "name": ir.IRString("Carol"), "pets": ir.IRArray{buddy}},
	}, got)
}
