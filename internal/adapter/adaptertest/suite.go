// Package adaptertest is a conformance suite for datastore adapters.
//
// Every adapter must store and return records in the same form and must
// evaluate a page request exactly as adapter.Apply does in memory; the
// executor relies on that to mix datastores within one query.
package adaptertest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitch/internal/adapter"
	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/stitcherr"
)

// Schema is the CUE schema the suite runs against.
const Schema = `
entity: person: attributes: {
	name:   {type: "string", required: true}
	age:    {type: "integer"}
	active: {type: "boolean"}
	tags:   {type: "json"}
	pet:    {model: "pet", columnName: "petId"}
}
entity: pet: attributes: name: {}
entity: badge: {
	primaryKey: "code"
	attributes: {
		code:  {type: "string"}
		label: {}
	}
}
`

// Adapter is the capability set the suite requires.
type Adapter interface {
	adapter.Adapter
	adapter.Finder
	adapter.Creator
	adapter.BatchCreator
	adapter.Updater
	adapter.Destroyer
}

type fixture struct {
	t   *testing.T
	ctx context.Context
	reg *schema.Registry
	a   Adapter
}

// Run runs the suite. open must return a fresh, empty adapter on every call.
func Run(t *testing.T, open func(t *testing.T) Adapter) {
	newFixture := func(t *testing.T) *fixture {
		t.Helper()
		reg, err := schema.CompileString(Schema, "suite.cue")
		require.NoError(t, err)
		f := &fixture{t: t, ctx: context.Background(), reg: reg, a: open(t)}
		if d, ok := f.a.(adapter.Definer); ok {
			for _, e := range reg.Entities() {
				require.NoError(t, d.Define(f.ctx, e))
			}
		}
		return f
	}

	t.Run("CreateEachAssignsIntegerKeys", func(t *testing.T) {
		f := newFixture(t)
		created := f.seed()
		assert.Equal(t, []int64{1, 2, 3, 4}, ids(created))
	})

	t.Run("CreateKeepsGivenKeys", func(t *testing.T) {
		f := newFixture(t)
		pet := f.entity("pet")

		rex, err := f.a.Create(f.ctx, pet, obj("id", 10, "name", "Rex"))
		require.NoError(t, err)
		assert.Equal(t, ir.IRInt(10), rex["id"])

		next, err := f.a.Create(f.ctx, pet, obj("name", "Tom"))
		require.NoError(t, err)
		assert.Equal(t, ir.IRInt(11), next["id"], "next key follows the largest")

		_, err = f.a.Create(f.ctx, pet, obj("id", 10, "name", "Again"))
		assert.True(t, stitcherr.IsAdapter(err), "duplicate key: %v", err)
	})

	t.Run("StringKeysGetUUIDs", func(t *testing.T) {
		f := newFixture(t)
		badge, err := f.a.Create(f.ctx, f.entity("badge"), obj("label", "gold"))
		require.NoError(t, err)

		code, ok := badge["code"].(ir.IRString)
		require.True(t, ok)
		parsed, err := uuid.Parse(string(code))
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), parsed.Version())
	})

	t.Run("StoredForm", func(t *testing.T) {
		f := newFixture(t)
		f.seed()

		got := f.find("person", map[string]any{"where": map[string]any{"id": []any{1, 3}}})

		assert.Equal(t, []ir.IRObject{
			obj("id", 1, "name", "Alice", "age", 30, "active", true, "tags", []any{"a", "b"}, "petId", 1),
			obj("id", 3, "name", "Carol", "age", nil, "active", nil, "tags", nil, "petId", 2),
		}, got)
	})

	t.Run("FindMatchesInMemoryEvaluation", func(t *testing.T) {
		f := newFixture(t)
		f.seed()
		person := f.entity("person")
		all := f.find("person", map[string]any{"limit": 100})
		require.Len(t, all, 4)

		tests := []struct {
			name string
			raw  map[string]any
			want []int64
		}{
			{"everything", map[string]any{}, []int64{1, 2, 3, 4}},
			{"equality", where("name", "Alice"), []int64{1}},
			{"primary key list", where("id", []any{4, 2}), []int64{2, 4}},
			{"null foreign key", where("pet", nil), []int64{2}},
			{"foreign key", where("pet", 1), []int64{1, 4}},
			{"range skips null", where("age", map[string]any{">": 26}), []int64{1, 4}},
			{"not equal keeps null", where("age", map[string]any{"!=": 30}), []int64{2, 3, 4}},
			{"not in", where("id", map[string]any{"nin": []any{1, 2}}), []int64{3, 4}},
			{"contains ignores case", where("name", map[string]any{"contains": "AR"}), []int64{3}},
			{"starts with", where("name", map[string]any{"startsWith": "b"}), []int64{2}},
			{"ends with", where("name", map[string]any{"endsWith": "E"}), []int64{1, 4}},
			{"like wildcards are literal", where("name", map[string]any{"contains": "%"}), []int64{}},
			{"boolean", where("active", true), []int64{1, 4}},
			{"or", map[string]any{"where": map[string]any{"or": []any{
				map[string]any{"age": 25},
				map[string]any{"name": "dave"},
			}}}, []int64{2, 4}},
			{"where false", map[string]any{"where": false}, []int64{}},
			{"sort descending puts null last", map[string]any{"sort": "age DESC"}, []int64{4, 1, 2, 3}},
			{"sort by text is binary", map[string]any{"sort": "name ASC"}, []int64{1, 3, 2, 4}},
			{"skip and limit", map[string]any{"sort": "id DESC", "skip": 1, "limit": 2}, []int64{3, 2}},
			{"skip without limit", map[string]any{"skip": 3}, []int64{4}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				tree := f.normalize("person", tt.raw)
				q := adapter.QueryFor(person, tree)
				if _, hasLimit := tt.raw["limit"]; !hasLimit {
					q.Limit = criteria.Unbounded
				}

				got, err := f.a.Find(f.ctx, person, q)
				require.NoError(t, err)

				assert.Equal(t, tt.want, ids(got))
				assert.Equal(t, adapter.Apply(all, q), got)
			})
		}
	})

	t.Run("UpdateReturnsUpdatedRecords", func(t *testing.T) {
		f := newFixture(t)
		f.seed()
		person := f.entity("person")

		updated, err := f.a.Update(f.ctx, person, f.where("person", map[string]any{"age": map[string]any{">": 26}}), obj("age", 99))
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 4}, ids(updated))
		for _, r := range updated {
			assert.Equal(t, ir.IRInt(99), r["age"])
		}

		_, err = f.a.Update(f.ctx, person, f.where("person", map[string]any{"id": 2}), obj("pet", 2))
		require.NoError(t, err)

		got := f.find("person", map[string]any{"where": map[string]any{"age": 99}})
		assert.Equal(t, []int64{1, 4}, ids(got))
		bob := f.find("person", map[string]any{"where": map[string]any{"id": 2}})
		require.Len(t, bob, 1)
		assert.Equal(t, ir.IRInt(2), bob[0]["petId"], "model attribute names map to their key")

		_, err = f.a.Update(f.ctx, person, f.where("person", map[string]any{}), obj("id", 7))
		assert.True(t, stitcherr.IsMalformedQuery(err), "primary key is immutable: %v", err)
	})

	t.Run("DestroyReturnsRemovedRecords", func(t *testing.T) {
		f := newFixture(t)
		f.seed()
		person := f.entity("person")

		removed, err := f.a.Destroy(f.ctx, person, f.where("person", map[string]any{"name": "bob"}))
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, ids(removed))

		none, err := f.a.Destroy(f.ctx, person, f.where("person", map[string]any{"name": "nobody"}))
		require.NoError(t, err)
		assert.Empty(t, none)

		assert.Equal(t, []int64{1, 3, 4}, ids(f.find("person", map[string]any{})))
	})

	t.Run("CreateValidatesRecords", func(t *testing.T) {
		f := newFixture(t)
		person := f.entity("person")

		tests := []struct {
			name   string
			record ir.IRObject
		}{
			{"missing required", obj("age", 3)},
			{"unknown attribute", obj("name", "x", "color", "red")},
			{"wrong type", obj("name", "x", "age", "old")},
			{"wrong primary key type", obj("name", "x", "id", true)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.a.Create(f.ctx, person, tt.record)
				assert.True(t, stitcherr.IsMalformedQuery(err), "got %v", err)
			})
		}
		assert.Empty(t, f.find("person", map[string]any{}))
	})

	t.Run("CreateEachIsAtomic", func(t *testing.T) {
		f := newFixture(t)
		pet := f.entity("pet")

		_, err := f.a.CreateEach(f.ctx, pet, []ir.IRObject{
			obj("id", 50, "name", "first"),
			obj("id", 50, "name", "second"),
		})
		require.Error(t, err)

		assert.Empty(t, f.find("pet", map[string]any{}))
	})
}

// seed creates four people and two pets.
func (f *fixture) seed() []ir.IRObject {
	f.t.Helper()
	_, err := f.a.CreateEach(f.ctx, f.entity("pet"), []ir.IRObject{
		obj("name", "Rex"),
		obj("name", "Tom"),
	})
	require.NoError(f.t, err)

	created, err := f.a.CreateEach(f.ctx, f.entity("person"), []ir.IRObject{
		obj("name", "Alice", "age", 30, "active", true, "tags", []any{"a", "b"}, "pet", 1),
		obj("name", "bob", "age", 25, "active", false, "tags", map[string]any{}),
		obj("name", "Carol", "pet", 2),
		obj("name", "dave", "age", 40, "active", true, "petId", 1),
	})
	require.NoError(f.t, err)
	return created
}

func (f *fixture) entity(identity string) *schema.Entity {
	f.t.Helper()
	e, ok := f.reg.Entity(identity)
	require.True(f.t, ok)
	return e
}

func (f *fixture) normalize(from string, raw map[string]any) *criteria.Tree {
	f.t.Helper()
	tree, err := criteria.Normalize(raw, f.reg, criteria.WithFrom(from))
	require.NoError(f.t, err)
	return tree
}

// find returns every record of entity matching raw, ignoring the default
// limit unless raw sets one.
func (f *fixture) find(identity string, raw map[string]any) []ir.IRObject {
	f.t.Helper()
	e := f.entity(identity)
	q := adapter.QueryFor(e, f.normalize(identity, raw))
	if _, ok := raw["limit"]; !ok {
		q.Limit = criteria.Unbounded
	}
	got, err := f.a.Find(f.ctx, e, q)
	require.NoError(f.t, err)
	return got
}

func (f *fixture) where(identity string, raw map[string]any) criteria.Where {
	f.t.Helper()
	tree := f.normalize(identity, map[string]any{"where": raw})
	return adapter.RecordWhere(f.entity(identity), criteria.Flatten(tree.Where))
}

func where(attr string, v any) map[string]any {
	return map[string]any{"where": map[string]any{attr: v}}
}

func obj(kv ...any) ir.IRObject {
	out := ir.IRObject{}
	for i := 0; i < len(kv); i += 2 {
		out[kv[i].(string)] = ir.MustFromNative(kv[i+1])
	}
	return out
}

func ids(records []ir.IRObject) []int64 {
	out := []int64{}
	for _, r := range records {
		if id, ok := r["id"].(ir.IRInt); ok {
			out = append(out, int64(id))
		}
	}
	return out
}
