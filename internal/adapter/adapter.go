// Package adapter defines the boundary between the query core and the
// datastores it reads from.
//
// An adapter is a capability-typed client of one backing store. The core
// discovers capabilities by type assertion: a datastore that is not a Finder
// cannot serve queries, and associations that need it are unsatisfiable.
// Mutation capabilities exist for the ORM surface only.
package adapter

import (
	"context"

	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/schema"
)

// Adapter is any datastore client. Kind names the implementation.
type Adapter interface {
	Kind() string
}

// Query is one page request against one entity. Where is flat and keyed
// by record keys. Limit < 0 is unbounded.
type Query struct {
	Where criteria.Where
	Sort  []criteria.SortKey
	Skip  int
	Limit int
}

// Finder reads a page of records.
type Finder interface {
	Find(ctx context.Context, entity *schema.Entity, q Query) ([]ir.IRObject, error)
}

// Creator inserts one record and returns it as stored.
type Creator interface {
	Create(ctx context.Context, entity *schema.Entity, record ir.IRObject) (ir.IRObject, error)
}

// BatchCreator inserts records atomically and returns them as stored.
type BatchCreator interface {
	CreateEach(ctx context.Context, entity *schema.Entity, records []ir.IRObject) ([]ir.IRObject, error)
}

// Updater sets values on every record matching where and returns the
// updated records.
type Updater interface {
	Update(ctx context.Context, entity *schema.Entity, where criteria.Where, values ir.IRObject) ([]ir.IRObject, error)
}

// Destroyer deletes every record matching where and returns them.
type Destroyer interface {
	Destroy(ctx context.Context, entity *schema.Entity, where criteria.Where) ([]ir.IRObject, error)
}

// Definer prepares storage for an entity. It is idempotent.
type Definer interface {
	Define(ctx context.Context, entity *schema.Entity) error
}

// Closer releases the resources of an adapter.
type Closer interface {
	Close() error
}

// QueryFor builds the page request of a tree against entity: subqueries
// are dropped and attribute names become record keys. The primary key is
// appended to the sort so pages are deterministic.
func QueryFor(entity *schema.Entity, t *criteria.Tree) Query {
	return Query{
		Where: RecordWhere(entity, criteria.Flatten(t.Where)),
		Sort:  RecordSort(entity, t.Sort),
		Skip:  t.Skip,
		Limit: t.Limit,
	}
}

// RecordWhere renames the attributes of a flat where clause to the record
// keys of entity.
func RecordWhere(entity *schema.Entity, w criteria.Where) criteria.Where {
	return w.RenameAttrs(entity.KeyFor)
}

// RecordSort renames sort attributes to record keys and appends the primary
// key as a tiebreaker when it is not already sorted on.
func RecordSort(entity *schema.Entity, keys []criteria.SortKey) []criteria.SortKey {
	out := make([]criteria.SortKey, 0, len(keys)+1)
	hasPK := false
	for _, k := range keys {
		attr := entity.KeyFor(k.Attr)
		if attr == entity.PrimaryKey {
			hasPK = true
		}
		out = append(out, criteria.SortKey{Attr: attr, Desc: k.Desc})
	}
	if !hasPK {
		out = append(out, criteria.SortKey{Attr: entity.PrimaryKey})
	}
	return out
}

// Apply evaluates q over records in memory. Adapters without a query
// language of their own use it after a scan. Records is not modified.
func Apply(records []ir.IRObject, q Query) []ir.IRObject {
	out := criteria.Filter(records, q.Where)
	criteria.SortRecords(out, q.Sort)
	return criteria.Page(out, q.Skip, q.Limit)
}
