// Package rule implements association rules.
//
// A Rule is bound to one (entity, attribute) association and knows how to
// derive the criteria for fetching the related records of a parent batch,
// and how to reconcile the two batches in memory afterwards:
//
//   - ChildFilter keeps only related records linked to a surviving parent
//     (population).
//   - ParentFilter keeps only parents whose linked, filtered related set
//     satisfies the Subquery bounds (WHOSE back-filter).
//
// Every shape shares that contract; only the link predicate differs. Junction
// shapes additionally implement Linker because their links live in a third
// entity that must be fetched first.
package rule

import (
	"slices"

	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/schema"
)

// Rule is the batch join strategy of one association.
type Rule interface {
	Shape() schema.Shape
	Parent() *schema.Entity
	AttrName() string
	Related() *schema.Entity
	Association() *schema.Association

	// BuildGetRelatedFn returns a function giving, for a related record,
	// the records of parents it is linked to.
	BuildGetRelatedFn(parents []ir.IRObject) func(child ir.IRObject) []ir.IRObject

	// BuildGetChildrenFn returns a function giving, for a parent record,
	// the records of children it is linked to, in children order.
	BuildGetChildrenFn(children []ir.IRObject) func(parent ir.IRObject) []ir.IRObject

	// Criteria derives the tree fetching the related records of parents.
	// The flat part of original's where clause is kept; its subqueries,
	// skip and limit are not. original is never modified.
	Criteria(parents []ir.IRObject, original *criteria.Tree) *criteria.Tree

	// ChildFilter returns a filter reducing a related batch to the records
	// linked to at least one of filteredParents.
	ChildFilter(filteredParents []ir.IRObject, child, parent *criteria.Tree) func([]ir.IRObject) []ir.IRObject

	// ParentFilter returns the WHOSE back-filter: given the final filtered
	// related set, it keeps the parents whose linked count satisfies the
	// Subquery on this attribute in parent's where clause (min 1 when
	// there is none).
	ParentFilter(filteredParents []ir.IRObject, child, parent *criteria.Tree) func([]ir.IRObject) []ir.IRObject
}

// Linker is implemented by rules whose links are stored in a junction
// entity. Until WithLinks is called the rule sees no links at all.
type Linker interface {
	Rule

	Junction() *schema.Entity

	// LinkCriteria derives the tree fetching the junction rows of parents.
	LinkCriteria(parents []ir.IRObject) *criteria.Tree

	// WithLinks returns a copy of the rule bound to junction rows.
	WithLinks(rows []ir.IRObject) Rule
}

// Resolve builds the rule of entity.attr. ok is false when the association
// is unknown or any entity it needs is not registered; callers treat such
// an association as unsatisfiable.
func Resolve(reg *schema.Registry, entity, attr string) (Rule, bool) {
	assoc, ok := reg.Association(entity, attr)
	if !ok {
		return nil, false
	}
	parent, ok := reg.Entity(assoc.Parent)
	if !ok {
		return nil, false
	}
	related, ok := reg.Entity(assoc.Related)
	if !ok {
		return nil, false
	}
	b := base{assoc: assoc, parent: parent, related: related}

	switch assoc.Shape {
	case schema.ShapeHasFK:
		return newHasFK(b), true
	case schema.ShapeViaFK:
		a, ok := parent.Attribute(assoc.AttrName)
		if !ok {
			return nil, false
		}
		return newViaFK(b, a.Via), true
	case schema.ShapeViaJunction, schema.ShapeManyToMany:
		junction, ok := reg.Entity(assoc.Junction)
		if !ok {
			return nil, false
		}
		return newJunction(b, junction, nil), true
	}
	return nil, false
}

type base struct {
	assoc   *schema.Association
	parent  *schema.Entity
	related *schema.Entity
}

func (b base) Shape() schema.Shape                { return b.assoc.Shape }
func (b base) Parent() *schema.Entity             { return b.parent }
func (b base) AttrName() string                   { return b.assoc.AttrName }
func (b base) Related() *schema.Entity            { return b.related }
func (b base) Association() *schema.Association   { return b.assoc }
func (b base) parentPK(p ir.IRObject) ir.IRValue  { return p.Get(b.parent.PrimaryKey) }
func (b base) relatedPK(c ir.IRObject) ir.IRValue { return c.Get(b.related.PrimaryKey) }

func (b base) subquery(parent *criteria.Tree) criteria.Subquery {
	if parent != nil {
		if sq, ok := parent.Where.Attrs[b.assoc.AttrName].(criteria.Subquery); ok {
			return sq
		}
	}
	return criteria.Subquery{Min: 1}
}

// linkRule implements Rule over two hooks: the link values a parent holds
// and the link value a related record holds. A parent and a related record
// are linked iff one of the former equals the latter.
type linkRule struct {
	base

	// fetchAttr is the related attribute Criteria constrains to the
	// parents' link values.
	fetchAttr string

	parentLinks func(p ir.IRObject) []ir.IRValue
	childLink   func(c ir.IRObject) ir.IRValue
}

// parentKeys returns the distinct non-null link keys of p.
func (r *linkRule) parentKeys(p ir.IRObject) []string {
	var keys []string
	for _, v := range r.parentLinks(p) {
		if ir.IsNull(v) {
			continue
		}
		k := ir.Key(v)
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

func (r *linkRule) childKey(c ir.IRObject) (string, bool) {
	v := r.childLink(c)
	if ir.IsNull(v) {
		return "", false
	}
	return ir.Key(v), true
}

// linkValues returns the distinct non-null link values of parents in
// first-seen order.
func (r *linkRule) linkValues(parents []ir.IRObject) ir.IRArray {
	out := ir.IRArray{}
	seen := make(map[string]struct{})
	for _, p := range parents {
		for _, v := range r.parentLinks(p) {
			if ir.IsNull(v) {
				continue
			}
			k := ir.Key(v)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func (r *linkRule) BuildGetRelatedFn(parents []ir.IRObject) func(ir.IRObject) []ir.IRObject {
	index := make(map[string][]ir.IRObject)
	for _, p := range parents {
		for _, k := range r.parentKeys(p) {
			index[k] = append(index[k], p)
		}
	}
	return func(child ir.IRObject) []ir.IRObject {
		k, ok := r.childKey(child)
		if !ok {
			return []ir.IRObject{}
		}
		return append([]ir.IRObject{}, index[k]...)
	}
}

func (r *linkRule) BuildGetChildrenFn(children []ir.IRObject) func(ir.IRObject) []ir.IRObject {
	index := make(map[string][]int)
	for i, c := range children {
		if k, ok := r.childKey(c); ok {
			index[k] = append(index[k], i)
		}
	}
	return func(parent ir.IRObject) []ir.IRObject {
		var positions []int
		for _, k := range r.parentKeys(parent) {
			positions = append(positions, index[k]...)
		}
		slices.Sort(positions)
		out := make([]ir.IRObject, 0, len(positions))
		for _, i := range positions {
			out = append(out, children[i])
		}
		return out
	}
}

func (r *linkRule) Criteria(parents []ir.IRObject, original *criteria.Tree) *criteria.Tree {
	out := &criteria.Tree{Select: criteria.Select{}}
	if original != nil {
		out = original.Clone()
	}
	out.From = r.related.Identity
	out.Skip = 0
	out.Limit = criteria.Unbounded

	injected := criteria.Where{Attrs: map[string]criteria.Predicate{
		r.fetchAttr: criteria.Literal{Value: r.linkValues(parents)},
	}}
	var flat criteria.Where
	if original != nil {
		flat = criteria.Flatten(original.Where)
	}
	out.Where = criteria.Conjoin(injected, flat)
	return out
}

func (r *linkRule) ChildFilter(filteredParents []ir.IRObject, _, _ *criteria.Tree) func([]ir.IRObject) []ir.IRObject {
	linked := make(map[string]struct{})
	for _, p := range filteredParents {
		for _, k := range r.parentKeys(p) {
			linked[k] = struct{}{}
		}
	}
	return func(batch []ir.IRObject) []ir.IRObject {
		out := make([]ir.IRObject, 0, len(batch))
		for _, c := range batch {
			k, ok := r.childKey(c)
			if !ok {
				continue
			}
			if _, hit := linked[k]; hit {
				out = append(out, c)
			}
		}
		return out
	}
}

func (r *linkRule) ParentFilter(filteredParents []ir.IRObject, _, parent *criteria.Tree) func([]ir.IRObject) []ir.IRObject {
	sq := r.subquery(parent)
	return func(filteredChildren []ir.IRObject) []ir.IRObject {
		counts := make(map[string]int)
		seen := make(map[string]struct{})
		for _, c := range filteredChildren {
			k, ok := r.childKey(c)
			if !ok {
				continue
			}
			id := ir.Key(r.relatedPK(c))
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			counts[k]++
		}

		out := make([]ir.IRObject, 0, len(filteredParents))
		for _, p := range filteredParents {
			n := 0
			for _, k := range r.parentKeys(p) {
				n += counts[k]
			}
			if sq.Accepts(n) {
				out = append(out, p)
			}
		}
		return out
	}
}
