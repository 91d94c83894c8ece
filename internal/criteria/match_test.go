package criteria

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitch/internal/ir"
)

func mustWhere(t *testing.T, raw map[string]any) Where {
	t.Helper()
	tree, err := Normalize(raw, nil)
	require.NoError(t, err)
	return tree.Where
}

func TestMatch(t *testing.T) {
	rec := ir.IRObject{
		"id":    ir.IRInt(1),
		"name":  ir.IRString("Fido the Dog"),
		"age":   ir.IRInt(7),
		"owner": ir.IRNull{},
	}

	tests := []struct {
		name  string
		where map[string]any
		want  bool
	}{
		{"empty", map[string]any{}, true},
		{"literal", map[string]any{"id": 1}, true},
		{"literal miss", map[string]any{"id": 2}, false},
		{"in list", map[string]any{"id": []any{3, 1}}, true},
		{"null literal", map[string]any{"owner": nil}, true},
		{"absent attr equals null", map[string]any{"missing": nil}, true},
		{"range", map[string]any{"age": map[string]any{">": 5, "<=": 7}}, true},
		{"range miss", map[string]any{"age": map[string]any{">": 7}}, false},
		{"range across kinds", map[string]any{"name": map[string]any{">": 1}}, false},
		{"range on null", map[string]any{"owner": map[string]any{"<": 1}}, false},
		{"not in", map[string]any{"id": map[string]any{"nin": []any{2, 3}}}, true},
		{"contains case-insensitive", map[string]any{"name": map[string]any{"contains": "THE"}}, true},
		{"startsWith", map[string]any{"name": map[string]any{"startsWith": "fido"}}, true},
		{"endsWith miss", map[string]any{"name": map[string]any{"endsWith": "cat"}}, false},
		{"contains on int", map[string]any{"age": map[string]any{"contains": "7"}}, false},
		{"or", map[string]any{"or": []any{map[string]any{"id": 9}, map[string]any{"age": 7}}}, true},
		{"or miss", map[string]any{"or": []any{map[string]any{"id": 9}}}, false},
		{"and", map[string]any{"and": []any{map[string]any{"id": 1}, map[string]any{"age": 8}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(rec, mustWhere(t, tt.where)))
		})
	}

	assert.False(t, Match(rec, Where{None: true}))
}

func TestFlattenDropsSubqueries(t *testing.T) {
	w := Where{Attrs: map[string]Predicate{
		"age": Literal{Value: ir.IRInt(3)},
		"pet": Subquery{Min: 1},
	}}

	flat := Flatten(w)

	assert.Equal(t, Where{Attrs: map[string]Predicate{"age": Literal{Value: ir.IRInt(3)}}}, flat)
	assert.Contains(t, w.Attrs, "pet", "input is not modified")
	assert.Nil(t, Flatten(Where{Attrs: map[string]Predicate{"pet": Subquery{}}}).Attrs)
}

func TestConjoin(t *testing.T) {
	pk := Where{Attrs: map[string]Predicate{"id": Literal{Value: ir.IRArray{ir.IRInt(10)}}}}

	t.Run("disjoint attrs merge", func(t *testing.T) {
		got := Conjoin(pk, Where{Attrs: map[string]Predicate{"name": Literal{Value: ir.IRString("Fido")}}})
		assert.Len(t, got.Attrs, 2)
		assert.Empty(t, got.And)
	})

	t.Run("conflicting attr moves to and", func(t *testing.T) {
		other := Where{Attrs: map[string]Predicate{"id": Comparison{Ops: map[Operator]ir.IRValue{OpGt: ir.IRInt(5)}}}}
		got := Conjoin(pk, other)

		assert.Equal(t, pk.Attrs["id"], got.Attrs["id"])
		require.Len(t, got.And, 1)
		assert.Equal(t, other.Attrs["id"], got.And[0].Attrs["id"])

		assert.True(t, Match(ir.IRObject{"id": ir.IRInt(10)}, got))
		assert.False(t, Match(ir.IRObject{"id": ir.IRInt(3)}, got))
	})

	t.Run("two ors both hold", func(t *testing.T) {
		a := Where{Or: []Where{{Attrs: map[string]Predicate{"x": Literal{Value: ir.IRInt(1)}}}}}
		b := Where{Or: []Where{{Attrs: map[string]Predicate{"y": Literal{Value: ir.IRInt(1)}}}}}
		got := Conjoin(a, b)

		assert.True(t, Match(ir.IRObject{"x": ir.IRInt(1), "y": ir.IRInt(1)}, got))
		assert.False(t, Match(ir.IRObject{"x": ir.IRInt(1)}, got))
	})

	t.Run("none wins", func(t *testing.T) {
		assert.True(t, Conjoin(pk, Where{None: true}).None)
	})
}

func TestSortRecordsStable(t *testing.T) {
	records := []ir.IRObject{
		{"id": ir.IRInt(1), "age": ir.IRInt(30)},
		{"id": ir.IRInt(2), "age": ir.IRInt(40)},
		{"id": ir.IRInt(3), "age": ir.IRInt(30)},
		{"id": ir.IRInt(4)},
	}

	SortRecords(records, []SortKey{{Attr: "age", Desc: true}})

	ids := make([]ir.IRValue, len(records))
	for i, r := range records {
		ids[i] = r["id"]
	}
	assert.Equal(t, []ir.IRValue{ir.IRInt(2), ir.IRInt(1), ir.IRInt(3), ir.IRInt(4)}, ids)
}

func TestPage(t *testing.T) {
	records := []ir.IRObject{{"id": ir.IRInt(1)}, {"id": ir.IRInt(2)}, {"id": ir.IRInt(3)}}

	assert.Len(t, Page(records, 1, 1), 1)
	assert.Len(t, Page(records, 0, -1), 3)
	assert.Empty(t, Page(records, 5, 10))
	assert.Len(t, Page(records, 2, 30), 1)
}

func TestParseSortForms(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want []SortKey
	}{
		{"string", "name, age desc", []SortKey{{Attr: "name"}, {Attr: "age", Desc: true}}},
		{"object numeric", map[string]any{"age": -1}, []SortKey{{Attr: "age", Desc: true}}},
		{"object multi-key sorted by name", map[string]any{"b": "asc", "a": "DESC"}, []SortKey{{Attr: "a", Desc: true}, {Attr: "b"}}},
		{"list", []any{map[string]any{"b": 1}, "a DESC"}, []SortKey{{Attr: "b"}, {Attr: "a", Desc: true}}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSort(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseSort("a, a desc")
	assert.Error(t, err)
}
