package engine

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/stitch/internal/adapter"
	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/heap"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/rule"
	"github.com/roach88/stitch/internal/schema"
)

// node is one resolved level of the criteria tree. Its survivors live in
// the heap buffer named by path.
type node struct {
	path   string
	entity *schema.Entity
	tree   *criteria.Tree

	// populated holds one entry per association projected by select.
	populated map[string]*population
}

// population is the resolved branch of one projected association. rule is
// nil when the association is unsatisfiable; child is nil when there was
// nothing to fetch.
type population struct {
	rule  rule.Rule
	child *node
}

// branch is the resolved WHOSE subtree of one page.
type branch struct {
	rule  rule.Rule
	child *node
}

// run resolves tree against entity and stores the survivors in the heap
// under path.
func (x *execution) run(ctx context.Context, path string, entity *schema.Entity, tree *criteria.Tree) (*node, error) {
	if _, err := x.heap.Malloc(path, heap.Meta{From: entity.Identity}); err != nil {
		return nil, err
	}
	n := &node{
		path:      path,
		entity:    entity,
		tree:      tree,
		populated: make(map[string]*population),
	}
	if tree.Where.None {
		x.log.Debug().Str("identity", path).Msg("where is false, nothing to fetch")
		return n, nil
	}

	survivors, err := x.fetch(ctx, n)
	if err != nil {
		return nil, err
	}
	x.heap.Push(path, entity.Identity, survivors)

	if err := x.populate(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// fetch pages n's entity out of its datastore. Each page gets its own
// buffer. A node without subqueries and with a bounded limit needs a single
// page; otherwise pages of batchSize are requested until the store runs dry
// or, for WHOSE nodes, enough parents survived to fill skip+limit.
func (x *execution) fetch(ctx context.Context, n *node) ([]ir.IRObject, error) {
	t := n.tree
	q := adapter.QueryFor(n.entity, t)
	whose := len(t.Where.Subqueries()) > 0

	if !whose && t.Limit >= 0 {
		identity := pageIdentity(n.path, 0)
		page, err := x.find(ctx, identity, n.entity, q)
		if err != nil {
			return nil, err
		}
		x.heap.Push(identity, n.entity.Identity, page)
		return page, nil
	}

	base := t.Skip
	if whose {
		base = 0
	}
	q.Limit = x.e.batchSize

	survivors := []ir.IRObject{}
	for i := 0; ; i++ {
		if whose && t.Limit >= 0 && len(survivors) >= t.Skip+t.Limit {
			break
		}
		identity := pageIdentity(n.path, i)
		q.Skip = base + i*x.e.batchSize
		page, err := x.find(ctx, identity, n.entity, q)
		if err != nil {
			return nil, err
		}
		x.heap.Push(identity, n.entity.Identity, page)

		kept := page
		if whose {
			if kept, err = x.backfilter(ctx, identity, n, page); err != nil {
				return nil, err
			}
		}
		survivors = append(survivors, kept...)
		if len(page) < x.e.batchSize {
			break
		}
	}

	if whose {
		return criteria.Page(survivors, t.Skip, t.Limit), nil
	}
	return survivors, nil
}

func pageIdentity(path string, i int) string {
	return path + "#" + strconv.Itoa(i)
}

// backfilter resolves every WHOSE subquery of n against one page and keeps
// the parents satisfying all of them. Branches run concurrently; the
// filters are applied once every branch has finished.
func (x *execution) backfilter(ctx context.Context, pageID string, n *node, page []ir.IRObject) ([]ir.IRObject, error) {
	if len(page) == 0 {
		return page, nil
	}
	attrs := n.tree.Where.Subqueries()
	branches := make([]branch, len(attrs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.e.concurrency)
	for i, attr := range attrs {
		g.Go(func() error {
			b, err := x.whose(gctx, pageID+".where."+attr, n, attr, page)
			branches[i] = b
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	kept := page
	for i, attr := range attrs {
		b := branches[i]
		if b.rule == nil {
			sq := n.tree.Where.Attrs[attr].(criteria.Subquery)
			if !sq.Accepts(0) {
				return []ir.IRObject{}, nil
			}
			continue
		}
		kept = b.rule.ParentFilter(kept, b.child.tree, n.tree)(x.heap.Get(b.child.path))
	}
	return kept, nil
}

// whose runs the subtree of one WHOSE subquery for a page of parents.
func (x *execution) whose(ctx context.Context, identity string, n *node, attr string, parents []ir.IRObject) (branch, error) {
	r, ok := x.resolve(n.entity, attr)
	if !ok {
		return branch{}, nil
	}
	r, err := x.bindLinks(ctx, identity, r, parents)
	if err != nil {
		return branch{}, err
	}

	sq := n.tree.Where.Attrs[attr].(criteria.Subquery)
	original := &criteria.Tree{
		From:   r.Related().Identity,
		Where:  sq.Whose,
		Select: criteria.Select{},
		Limit:  criteria.Unbounded,
	}
	child, err := x.run(ctx, identity, r.Related(), derive(r, parents, original))
	if err != nil {
		return branch{}, err
	}
	return branch{rule: r, child: child}, nil
}

// populate resolves every association projected by n's select.
func (x *execution) populate(ctx context.Context, n *node) error {
	attrs := n.tree.Select.Populated()
	if len(attrs) == 0 {
		return nil
	}
	pops := make([]*population, len(attrs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.e.concurrency)
	for i, attr := range attrs {
		g.Go(func() error {
			p, err := x.populateOne(gctx, n, attr)
			pops[i] = p
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, attr := range attrs {
		n.populated[attr] = pops[i]
	}
	return nil
}

func (x *execution) populateOne(ctx context.Context, n *node, attr string) (*population, error) {
	r, ok := x.resolve(n.entity, attr)
	if !ok {
		return &population{}, nil
	}
	parents := x.heap.Get(n.path)
	if len(parents) == 0 {
		return &population{rule: r}, nil
	}

	identity := n.path + ".select." + attr
	r, err := x.bindLinks(ctx, identity, r, parents)
	if err != nil {
		return nil, err
	}
	child, err := x.run(ctx, identity, r.Related(), derive(r, parents, n.tree.Select[attr].Nested))
	if err != nil {
		return nil, err
	}
	return &population{rule: r, child: child}, nil
}

// resolve builds the rule of entity.attr. An association whose related
// entity (or junction) is missing, or lives in a datastore that cannot
// find, is unsatisfiable and contributes an empty related set.
func (x *execution) resolve(entity *schema.Entity, attr string) (rule.Rule, bool) {
	unsatisfiable := func(reason string) (rule.Rule, bool) {
		x.log.Warn().
			Str("entity", entity.Identity).
			Str("attr", attr).
			Str("reason", reason).
			Msg("association unsatisfiable, using empty related set")
		return nil, false
	}

	r, ok := rule.Resolve(x.e.reg, entity.Identity, attr)
	if !ok {
		return unsatisfiable("related entity not registered")
	}
	if _, ok := x.e.finder(r.Related()); !ok {
		return unsatisfiable("related datastore cannot find")
	}
	if l, isLinker := r.(rule.Linker); isLinker {
		if _, ok := x.e.finder(l.Junction()); !ok {
			return unsatisfiable("junction datastore cannot find")
		}
	}
	return r, true
}

// bindLinks fetches the junction rows of parents for rules that need them.
// The rows are kept in a footprint buffer next to the branch.
func (x *execution) bindLinks(ctx context.Context, branch string, r rule.Rule, parents []ir.IRObject) (rule.Rule, error) {
	l, ok := r.(rule.Linker)
	if !ok {
		return r, nil
	}
	junction := l.Junction()
	identity := branch + "~links"
	if _, err := x.heap.Malloc(identity, heap.Meta{From: junction.Identity, IsFootprint: true}); err != nil {
		return nil, err
	}

	q := adapter.QueryFor(junction, l.LinkCriteria(parents))
	q.Limit = x.e.batchSize
	for i := 0; ; i++ {
		q.Skip = i * x.e.batchSize
		rows, err := x.find(ctx, identity, junction, q)
		if err != nil {
			return nil, err
		}
		x.heap.PushFootprints(identity, junction.Identity, rows)
		if len(rows) < x.e.batchSize {
			break
		}
	}
	return l.WithLinks(x.heap.Get(identity)), nil
}

// derive builds the child tree of a branch. The rule keeps only the flat
// part of original's where; nested subqueries are put back so the child
// node resolves them in turn.
func derive(r rule.Rule, parents []ir.IRObject, original *criteria.Tree) *criteria.Tree {
	derived := r.Criteria(parents, original)
	if derived.Where.None || original == nil {
		return derived
	}
	nested := original.Where.Clone()
	subqueries := nested.Subqueries()
	if len(subqueries) == 0 {
		return derived
	}

	where := criteria.Where{Attrs: make(map[string]criteria.Predicate, len(subqueries))}
	for _, attr := range subqueries {
		where.Attrs[attr] = nested.Attrs[attr]
	}
	where.And = []criteria.Where{derived.Where}
	derived.Where = where
	return derived
}
