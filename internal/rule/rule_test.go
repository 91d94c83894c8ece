package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/schema"
)

const petsCUE = `
entity: person: attributes: {
	age:   {type: "integer"}
	pet:   {model: "pet", columnName: "petId"}
	dogs:  {collection: "pet", via: "owner"}
	toys:  {collection: "toy"}
	ghost: {model: "nobody"}
}
entity: pet: attributes: {
	name:  {}
	owner: {model: "person"}
}
entity: toy: attributes: label: {}
`

func registry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.CompileString(petsCUE, "pets.cue")
	require.NoError(t, err)
	return reg
}

func resolve(t *testing.T, entity, attr string) Rule {
	t.Helper()
	r, ok := Resolve(registry(t), entity, attr)
	require.True(t, ok)
	return r
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

func normalize(t *testing.T, from string, raw any) *criteria.Tree {
	t.Helper()
	tree, err := criteria.Normalize(raw, registry(t), criteria.WithFrom(from))
	require.NoError(t, err)
	return tree
}

func TestResolve(t *testing.T) {
	reg := registry(t)

	tests := []struct {
		attr  string
		shape schema.Shape
	}{
		{"pet", schema.ShapeHasFK},
		{"dogs", schema.ShapeViaFK},
		{"toys", schema.ShapeViaJunction},
	}
	for _, tt := range tests {
		t.Run(tt.attr, func(t *testing.T) {
			r, ok := Resolve(reg, "person", tt.attr)
			require.True(t, ok)
			assert.Equal(t, tt.shape, r.Shape())
			assert.Equal(t, "person", r.Parent().Identity)
			assert.Equal(t, tt.attr, r.AttrName())
		})
	}

	_, ok := Resolve(reg, "person", "ghost")
	assert.False(t, ok, "missing related entity is unsatisfiable")
	_, ok = Resolve(reg, "person", "age")
	assert.False(t, ok)
	_, ok = Resolve(reg, "nobody", "pet")
	assert.False(t, ok)

	toys, _ := Resolve(reg, "person", "toys")
	_, isLinker := toys.(Linker)
	assert.True(t, isLinker)
	pet, _ := Resolve(reg, "person", "pet")
	_, isLinker = pet.(Linker)
	assert.False(t, isLinker)
}

func TestHasFKCriteriaExcludesNullForeignKeys(t *testing.T) {
	r := resolve(t, "person", "pet")
	parents := []ir.IRObject{rec("id", 1, "petId", 10), rec("id", 2), rec("id", 3, "petId", nil), rec("id", 4, "petId", 10)}

	got := r.Criteria(parents, nil)

	assert.Equal(t, "pet", got.From)
	assert.Equal(t, criteria.Where{Attrs: map[string]criteria.Predicate{
		"id": criteria.Literal{Value: ir.IRArray{ir.IRInt(10)}},
	}}, got.Where)
	assert.Equal(t, criteria.Unbounded, got.Limit)
}

func TestCriteriaMergesFlatWhereWithoutMutatingOriginal(t *testing.T) {
	r := resolve(t, "person", "pet")
	original := normalize(t, "pet", map[string]any{
		"where": map[string]any{
			"name":  "Fido",
			"owner": map[string]any{"age": 3},
		},
		"limit": 2,
		"skip":  1,
	})
	before := original.Clone()

	got := r.Criteria([]ir.IRObject{rec("id", 1, "petId", 5), rec("id", 2, "petId", 6)}, original)

	assert.Equal(t, before, original)
	assert.Equal(t, criteria.Literal{Value: ir.IRArray{ir.IRInt(5), ir.IRInt(6)}}, got.Where.Attrs["id"])
	assert.Equal(t, criteria.Literal{Value: ir.IRString("Fido")}, got.Where.Attrs["name"])
	assert.NotContains(t, got.Where.Attrs, "owner", "subqueries are flattened away")
	assert.Zero(t, got.Skip)
	assert.Equal(t, criteria.Unbounded, got.Limit)
}

func TestCriteriaKeepsConflictingPrimaryKeyPredicate(t *testing.T) {
	r := resolve(t, "person", "pet")
	original := normalize(t, "pet", map[string]any{"id": map[string]any{">": 5}})

	got := r.Criteria([]ir.IRObject{rec("id", 1, "petId", 5), rec("id", 2, "petId", 6)}, original)

	assert.True(t, criteria.Match(rec("id", 6), got.Where))
	assert.False(t, criteria.Match(rec("id", 5), got.Where))
	assert.False(t, criteria.Match(rec("id", 7), got.Where))
}

func TestHasFKParentFilter(t *testing.T) {
	r := resolve(t, "person", "pet")
	parents := []ir.IRObject{rec("id", 1, "petId", 10), rec("id", 2, "petId", 99)}

	filter := r.ParentFilter(parents, nil, nil)

	assert.Equal(t, []ir.IRObject{rec("id", 1, "petId", 10)}, filter([]ir.IRObject{rec("id", 10)}))
	assert.Empty(t, filter(nil))
}

func TestParentFilterHonoursBounds(t *testing.T) {
	r := resolve(t, "person", "dogs")
	parents := []ir.IRObject{rec("id", 1), rec("id", 2), rec("id", 3)}
	children := []ir.IRObject{
		rec("id", 10, "owner", 1),
		rec("id", 11, "owner", 1),
		rec("id", 12, "owner", 2),
		rec("id", 12, "owner", 2),
	}

	tests := []struct {
		name  string
		where map[string]any
		want  []int64
	}{
		{"bare whose means at least one", map[string]any{"dogs": map[string]any{"name": "x"}}, []int64{1, 2}},
		{"min two", map[string]any{"dogs": map[string]any{"min": 2}}, []int64{1}},
		{"max zero", map[string]any{"dogs": map[string]any{"max": 0}}, []int64{3}},
		{"exactly one", map[string]any{"dogs": map[string]any{"min": 1, "max": 1}}, []int64{2}},
		{"min zero", map[string]any{"dogs": map[string]any{"min": 0}}, []int64{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parentTree := normalize(t, "person", map[string]any{"where": tt.where})
			got := r.ParentFilter(parents, nil, parentTree)(children)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestChildFilter(t *testing.T) {
	r := resolve(t, "person", "dogs")
	filtered := []ir.IRObject{rec("id", 2)}
	children := []ir.IRObject{rec("id", 10, "owner", 1), rec("id", 12, "owner", 2), rec("id", 13)}

	got := r.ChildFilter(filtered, nil, nil)(children)

	assert.Equal(t, []int64{12}, ids(got))
}

func TestViaFK(t *testing.T) {
	r := resolve(t, "person", "dogs")
	parents := []ir.IRObject{rec("id", 1), rec("id", 2), rec("id", 1)}

	got := r.Criteria(parents, nil)
	assert.Equal(t, criteria.Literal{Value: ir.IRArray{ir.IRInt(1), ir.IRInt(2)}}, got.Where.Attrs["owner"])

	children := []ir.IRObject{rec("id", 10, "owner", 1), rec("id", 11, "owner", 2), rec("id", 12, "owner", 1)}
	getChildren := r.BuildGetChildrenFn(children)
	assert.Equal(t, []int64{10, 12}, ids(getChildren(parents[0])))
	assert.Empty(t, getChildren(rec("id", 9)))

	getRelated := r.BuildGetRelatedFn(parents[:2])
	assert.Equal(t, []int64{2}, ids(getRelated(children[1])))
	assert.Empty(t, getRelated(rec("id", 13)))
}

func TestJunctionNeedsLinks(t *testing.T) {
	r := resolve(t, "person", "toys")
	linker := r.(Linker)
	parents := []ir.IRObject{rec("id", 1), rec("id", 2)}

	lc := linker.LinkCriteria(parents)
	assert.Equal(t, "person_toys__toy", lc.From)
	assert.Equal(t, criteria.Literal{Value: ir.IRArray{ir.IRInt(1), ir.IRInt(2)}}, lc.Where.Attrs["person_toys"])

	unbound := r.Criteria(parents, nil)
	assert.Equal(t, criteria.Literal{Value: ir.IRArray{}}, unbound.Where.Attrs["id"], "no links means no related ids")

	assoc := r.Association()
	rows := []ir.IRObject{
		assoc.LinkRecord(ir.IRInt(1), ir.IRInt(20)),
		assoc.LinkRecord(ir.IRInt(1), ir.IRInt(21)),
		assoc.LinkRecord(ir.IRInt(2), ir.IRInt(21)),
	}
	bound := linker.WithLinks(rows)

	got := bound.Criteria(parents, nil)
	assert.Equal(t, criteria.Literal{Value: ir.IRArray{ir.IRInt(20), ir.IRInt(21)}}, got.Where.Attrs["id"])

	toys := []ir.IRObject{rec("id", 21), rec("id", 20)}
	assert.Equal(t, []int64{21, 20}, ids(bound.BuildGetChildrenFn(toys)(parents[0])))
	assert.Equal(t, []int64{1, 2}, ids(bound.BuildGetRelatedFn(parents)(toys[0])))

	kept := bound.ParentFilter(parents, nil, nil)([]ir.IRObject{rec("id", 20)})
	assert.Equal(t, []int64{1}, ids(kept))
}
