// Package criteria turns loose query input into a canonical operations tree.
//
// The tree is the only query form the rest of stitch understands. Every
// variant is a closed set of Go types: a where clause holds Predicate values
// (Literal, Comparison, Subquery), a select holds Projection values, and
// conjunction/disjunction are explicit And/Or branch lists.
package criteria

import (
	"maps"
	"slices"

	"github.com/roach88/stitch/internal/ir"
)

// DefaultLimit is the limit given to trees that do not specify one.
const DefaultLimit = 30

// Unbounded is the Limit of a tree that returns every match. Normalize never
// produces it; rules and the executor use it for internal fetches.
const Unbounded = -1

// Recognized operation-modifier keys of a tree.
var opMods = []string{"where", "select", "sort", "from", "skip", "limit"}

// Recognized subquery-modifier keys of a where attribute.
var subqueryMods = []string{"whose", "min", "max"}

// Tree is a canonical, fully defaulted query description.
type Tree struct {
	// From is the target entity identity. Empty when it could not be
	// resolved (a nested select naming an unknown association).
	From string

	Where  Where
	Select Select
	Sort   []SortKey
	Skip   int
	Limit  int
}

// Where is a conjunction of per-attribute predicates.
//
// A record matches iff None is false, every Attrs predicate holds, every
// And branch matches, and (when Or is non-empty) at least one Or branch
// matches. And/Or branches never contain subqueries.
type Where struct {
	// None is where:false, which matches nothing.
	None bool

	Attrs map[string]Predicate
	And   []Where
	Or    []Where
}

// Predicate is a sealed interface for the constraint on one attribute.
// Only Literal, Comparison, and Subquery implement it.
type Predicate interface {
	predicate()
}

// Literal matches by equality. An IRArray value matches any of its elements.
type Literal struct {
	Value ir.IRValue
}

func (Literal) predicate() {}

// Operator is a canonical sub-attribute comparison operator.
type Operator string

const (
	OpEq         Operator = "="
	OpNe         Operator = "!="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpIn         Operator = "in"
	OpNotIn      Operator = "nin"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
)

// operatorAliases maps every accepted sub-attribute modifier to its
// canonical Operator.
var operatorAliases = map[string]Operator{
	"=":                  OpEq,
	"equals":             OpEq,
	"!=":                 OpNe,
	"!":                  OpNe,
	"not":                OpNe,
	"<":                  OpLt,
	"lessThan":           OpLt,
	"<=":                 OpLte,
	"lessThanOrEqual":    OpLte,
	">":                  OpGt,
	"greaterThan":        OpGt,
	">=":                 OpGte,
	"greaterThanOrEqual": OpGte,
	"in":                 OpIn,
	"nin":                OpNotIn,
	"contains":           OpContains,
	"startsWith":         OpStartsWith,
	"endsWith":           OpEndsWith,
}

// Comparison holds one or more operators that must all hold.
type Comparison struct {
	Ops map[Operator]ir.IRValue
}

func (Comparison) predicate() {}

// SortedOps returns the operators in a deterministic order.
func (c Comparison) SortedOps() []Operator {
	return slices.Sorted(maps.Keys(c.Ops))
}

// Subquery asserts that the related set of an association, filtered by
// Whose, has a cardinality within [Min, Max]. Max nil means unbounded.
type Subquery struct {
	Whose Where
	Min   int
	Max   *int

	// From is the related entity when the lookup could resolve it.
	From string
}

func (Subquery) predicate() {}

// Accepts reports whether n related records satisfy the bounds.
func (s Subquery) Accepts(n int) bool {
	if n < s.Min {
		return false
	}
	return s.Max == nil || n <= *s.Max
}

// Select maps attribute names to projections. An empty Select keeps every
// attribute and populates nothing.
type Select map[string]Projection

// Projection is either a scalar attribute (Scalar) or a nested population
// tree (Nested). Exactly one is set.
type Projection struct {
	Scalar bool
	Nested *Tree
}

// SortKey orders records by one attribute.
type SortKey struct {
	Attr string
	Desc bool
}

// IsEmpty reports whether w matches every record.
func (w Where) IsEmpty() bool {
	return !w.None && len(w.Attrs) == 0 && len(w.And) == 0 && len(w.Or) == 0
}

// Subqueries returns the attribute names constrained by a Subquery, sorted.
func (w Where) Subqueries() []string {
	var out []string
	for attr, p := range w.Attrs {
		if _, ok := p.(Subquery); ok {
			out = append(out, attr)
		}
	}
	slices.Sort(out)
	return out
}

// ScalarAttrs returns the attributes projected with Scalar, sorted.
func (s Select) ScalarAttrs() []string {
	var out []string
	for attr, p := range s {
		if p.Scalar {
			out = append(out, attr)
		}
	}
	slices.Sort(out)
	return out
}

// Populated returns the attributes projected with a nested tree, sorted.
func (s Select) Populated() []string {
	var out []string
	for attr, p := range s {
		if p.Nested != nil {
			out = append(out, attr)
		}
	}
	slices.Sort(out)
	return out
}

// Clone returns a deep copy of t.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	out := &Tree{
		From:  t.From,
		Where: t.Where.Clone(),
		Sort:  slices.Clone(t.Sort),
		Skip:  t.Skip,
		Limit: t.Limit,
	}
	out.Select = make(Select, len(t.Select))
	for attr, p := range t.Select {
		out.Select[attr] = Projection{Scalar: p.Scalar, Nested: p.Nested.Clone()}
	}
	return out
}

// Clone returns a deep copy of w.
func (w Where) Clone() Where {
	out := Where{None: w.None}
	if w.Attrs != nil {
		out.Attrs = make(map[string]Predicate, len(w.Attrs))
		for attr, p := range w.Attrs {
			out.Attrs[attr] = clonePredicate(p)
		}
	}
	out.And = cloneWheres(w.And)
	out.Or = cloneWheres(w.Or)
	return out
}

func cloneWheres(ws []Where) []Where {
	if ws == nil {
		return nil
	}
	out := make([]Where, len(ws))
	for i, w := range ws {
		out[i] = w.Clone()
	}
	return out
}

func clonePredicate(p Predicate) Predicate {
	switch pv := p.(type) {
	case Literal:
		return Literal{Value: ir.Clone(pv.Value)}
	case Comparison:
		ops := make(map[Operator]ir.IRValue, len(pv.Ops))
		for op, v := range pv.Ops {
			ops[op] = ir.Clone(v)
		}
		return Comparison{Ops: ops}
	case Subquery:
		out := Subquery{Whose: pv.Whose.Clone(), Min: pv.Min, From: pv.From}
		if pv.Max != nil {
			m := *pv.Max
			out.Max = &m
		}
		return out
	}
	return p
}

// RenameAttrs returns a copy of w with every attribute name (including in
// And/Or branches) passed through rename. Subquery whose clauses are left
// alone since they belong to another entity.
func (w Where) RenameAttrs(rename func(string) string) Where {
	out := w.Clone()
	if out.Attrs != nil {
		renamed := make(map[string]Predicate, len(out.Attrs))
		for attr, p := range out.Attrs {
			renamed[rename(attr)] = p
		}
		out.Attrs = renamed
	}
	for i := range out.And {
		out.And[i] = out.And[i].RenameAttrs(rename)
	}
	for i := range out.Or {
		out.Or[i] = out.Or[i].RenameAttrs(rename)
	}
	return out
}

// Conjoin returns a where clause matching records that match both a and b.
// Attributes constrained on only one side are merged directly; an attribute
// constrained on both sides keeps a's predicate and moves b's into an And
// branch. Neither input is modified.
func Conjoin(a, b Where) Where {
	if a.None || b.None {
		return Where{None: true}
	}
	out := a.Clone()
	if out.Attrs == nil {
		out.Attrs = make(map[string]Predicate, len(b.Attrs))
	}

	conflicts := make(map[string]Predicate)
	for _, attr := range slices.Sorted(maps.Keys(b.Attrs)) {
		p := clonePredicate(b.Attrs[attr])
		if _, taken := out.Attrs[attr]; taken {
			conflicts[attr] = p
			continue
		}
		out.Attrs[attr] = p
	}
	if len(conflicts) > 0 {
		out.And = append(out.And, Where{Attrs: conflicts})
	}

	out.And = append(out.And, cloneWheres(b.And)...)
	switch {
	case len(b.Or) == 0:
	case len(out.Or) == 0:
		out.Or = cloneWheres(b.Or)
	default:
		out.And = append(out.And, Where{Or: cloneWheres(b.Or)})
	}
	return out
}
