package engine

import (
	"github.com/roach88/stitch/internal/adapter"
	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/ir"
)

// integrate assembles the caller-facing records of the root node: the
// survivors in its heap buffer deduplicated by primary key, sorted by the
// root sort, with populated associations attached. Heap records are never
// modified.
func (x *execution) integrate(n *node) []ir.IRObject {
	records := dedup(x.heap.Get(n.path), n.entity.PrimaryKey)
	criteria.SortRecords(records, adapter.RecordSort(n.entity, n.tree.Sort))

	a := x.reconcile(n)
	out := make([]ir.IRObject, len(records))
	for i, r := range records {
		out[i] = a.assemble(r)
	}
	return out
}

// assembler attaches the reconciled population buffers of one node.
type assembler struct {
	n        *node
	branches map[string]*attachment
}

// attachment is a population branch ready to be attached per parent.
type attachment struct {
	child       *assembler
	getChildren func(parent ir.IRObject) []ir.IRObject
}

// reconcile prepares every population branch below n once. A branch's
// records are read from its heap buffer and reduced by the rule's child
// filter against the parents held in n's buffer.
func (x *execution) reconcile(n *node) *assembler {
	a := &assembler{n: n, branches: make(map[string]*attachment, len(n.populated))}
	if len(n.populated) == 0 {
		return a
	}
	parents := x.heap.Get(n.path)
	for attr, p := range n.populated {
		if p.rule == nil || p.child == nil {
			a.branches[attr] = nil
			continue
		}
		children := p.rule.ChildFilter(parents, p.child.tree, n.tree)(x.heap.Get(p.child.path))
		a.branches[attr] = &attachment{
			child:       x.reconcile(p.child),
			getChildren: p.rule.BuildGetChildrenFn(children),
		}
	}
	return a
}

func (a *assembler) assemble(r ir.IRObject) ir.IRObject {
	out := project(a.n, r)
	for attr, b := range a.branches {
		out[attr] = a.attach(attr, b, r)
	}
	return out
}

// project copies the selected scalar attributes of r. The primary key is
// always kept; an empty scalar selection keeps everything.
func project(n *node, r ir.IRObject) ir.IRObject {
	scalars := n.tree.Select.ScalarAttrs()
	if len(scalars) == 0 {
		return ir.CloneObject(r)
	}
	out := ir.IRObject{}
	if v, ok := r[n.entity.PrimaryKey]; ok {
		out[n.entity.PrimaryKey] = ir.Clone(v)
	}
	for _, attr := range scalars {
		key := n.entity.KeyFor(attr)
		if v, ok := r[key]; ok {
			out[key] = ir.Clone(v)
		}
	}
	return out
}

// attach returns the populated value of attr for parent: an array for
// collections, the first linked record or null otherwise. The nested
// tree's sort, skip and limit apply per parent.
func (a *assembler) attach(attr string, b *attachment, parent ir.IRObject) ir.IRValue {
	toMany := false
	if at, ok := a.n.entity.Attribute(attr); ok {
		toMany = at.IsCollection()
	}
	if b == nil {
		if toMany {
			return ir.IRArray{}
		}
		return ir.IRNull{}
	}

	child := b.child.n
	nested := a.n.tree.Select[attr].Nested
	children := dedup(b.getChildren(parent), child.entity.PrimaryKey)
	criteria.SortRecords(children, adapter.RecordSort(child.entity, nested.Sort))
	children = criteria.Page(children, nested.Skip, nested.Limit)

	if !toMany {
		if len(children) == 0 {
			return ir.IRNull{}
		}
		return b.child.assemble(children[0])
	}
	out := make(ir.IRArray, len(children))
	for i, c := range children {
		out[i] = b.child.assemble(c)
	}
	return out
}

// dedup returns a new slice keeping the first record seen per primary key.
func dedup(records []ir.IRObject, pk string) []ir.IRObject {
	out := make([]ir.IRObject, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		k := ir.Key(r.Get(pk))
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}
