// Package memstore is an in-memory datastore adapter backed by go-memdb.
//
// Every entity shares one table keyed by (entity, canonical primary key).
// Transactions give readers a consistent snapshot while a write is in
// progress, and batch creates are all-or-nothing.
package memstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/hashicorp/go-memdb"

	"github.com/roach88/stitch/internal/adapter"
	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/stitcherr"
)

// Kind is the adapter kind name.
const Kind = "memory"

const (
	tableRecords = "records"

	indexID     = "id"
	indexEntity = "entity"
)

// row is the stored form of a record. Rows are immutable once inserted.
type row struct {
	Entity string
	Key    string
	Record ir.IRObject
}

var dbSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableRecords: {
			Name: tableRecords,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:   indexID,
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Entity"},
							&memdb.StringFieldIndex{Field: "Key"},
						},
					},
				},
				indexEntity: {
					Name:    indexEntity,
					Unique:  false,
					Indexer: &memdb.StringFieldIndex{Field: "Entity"},
				},
			},
		},
	},
}

// Store is an in-memory adapter.
type Store struct {
	db *memdb.MemDB
}

var (
	_ adapter.Finder       = (*Store)(nil)
	_ adapter.Creator      = (*Store)(nil)
	_ adapter.BatchCreator = (*Store)(nil)
	_ adapter.Updater      = (*Store)(nil)
	_ adapter.Destroyer    = (*Store)(nil)
)

// New returns an empty store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(dbSchema)
	if err != nil {
		return nil, fmt.Errorf("create memdb: %w", err)
	}
	return &Store{db: db}, nil
}

// Kind implements adapter.Adapter.
func (s *Store) Kind() string { return Kind }

// Find implements adapter.Finder.
func (s *Store) Find(_ context.Context, entity *schema.Entity, q adapter.Query) ([]ir.IRObject, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	rows, err := scan(txn, entity)
	if err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "find").WithEntity(entity.Identity)
	}
	return ir.CloneObjects(adapter.Apply(records(rows), q)), nil
}

// Create implements adapter.Creator.
func (s *Store) Create(ctx context.Context, entity *schema.Entity, record ir.IRObject) (ir.IRObject, error) {
	out, err := s.CreateEach(ctx, entity, []ir.IRObject{record})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// CreateEach implements adapter.BatchCreator.
func (s *Store) CreateEach(_ context.Context, entity *schema.Entity, in []ir.IRObject) ([]ir.IRObject, error) {
	prepared := make([]ir.IRObject, len(in))
	for i, r := range in {
		p, err := adapter.Prepare(entity, r)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := scan(txn, entity)
	if err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "create").WithEntity(entity.Identity)
	}
	last := adapter.MaxIntKey(entity, records(existing))
	next := func() int64 {
		last++
		return last
	}

	for _, rec := range prepared {
		if err := adapter.AssignKey(entity, rec, next); err != nil {
			return nil, err
		}
		if id, ok := rec.Get(entity.PrimaryKey).(ir.IRInt); ok && int64(id) > last {
			last = int64(id)
		}

		key := ir.Key(rec.Get(entity.PrimaryKey))
		found, err := txn.First(tableRecords, indexID, entity.Identity, key)
		if err != nil {
			return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "create").WithEntity(entity.Identity)
		}
		if found != nil {
			return nil, stitcherr.New(stitcherr.KindAdapter,
				"duplicate primary key %s", key).WithEntity(entity.Identity)
		}
		if err := txn.Insert(tableRecords, &row{Entity: entity.Identity, Key: key, Record: ir.CloneObject(rec)}); err != nil {
			return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "create").WithEntity(entity.Identity)
		}
	}

	txn.Commit()
	return prepared, nil
}

// Update implements adapter.Updater.
func (s *Store) Update(_ context.Context, entity *schema.Entity, where criteria.Where, values ir.IRObject) ([]ir.IRObject, error) {
	set, err := adapter.PrepareValues(entity, values)
	if err != nil {
		return nil, err
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	matched, err := match(txn, entity, where)
	if err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "update").WithEntity(entity.Identity)
	}

	out := make([]ir.IRObject, 0, len(matched))
	for _, r := range matched {
		rec := ir.CloneObject(r.Record)
		for k, v := range set {
			rec[k] = ir.Clone(v)
		}
		if err := txn.Insert(tableRecords, &row{Entity: r.Entity, Key: r.Key, Record: rec}); err != nil {
			return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "update").WithEntity(entity.Identity)
		}
		out = append(out, ir.CloneObject(rec))
	}

	txn.Commit()
	return out, nil
}

// Destroy implements adapter.Destroyer.
func (s *Store) Destroy(_ context.Context, entity *schema.Entity, where criteria.Where) ([]ir.IRObject, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	matched, err := match(txn, entity, where)
	if err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "destroy").WithEntity(entity.Identity)
	}

	out := make([]ir.IRObject, 0, len(matched))
	for _, r := range matched {
		if err := txn.Delete(tableRecords, r); err != nil {
			return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "destroy").WithEntity(entity.Identity)
		}
		out = append(out, ir.CloneObject(r.Record))
	}

	txn.Commit()
	return out, nil
}

// scan returns every row of entity.
func scan(txn *memdb.Txn, entity *schema.Entity) ([]*row, error) {
	it, err := txn.Get(tableRecords, indexEntity, entity.Identity)
	if err != nil {
		return nil, err
	}
	var out []*row
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*row))
	}
	return out, nil
}

// match returns the rows of entity matching where in primary key order.
func match(txn *memdb.Txn, entity *schema.Entity, where criteria.Where) ([]*row, error) {
	rows, err := scan(txn, entity)
	if err != nil {
		return nil, err
	}
	var matched []*row
	for _, r := range rows {
		if criteria.Match(r.Record, where) {
			matched = append(matched, r)
		}
	}
	pk := adapter.RecordSort(entity, nil)
	slices.SortStableFunc(matched, func(a, b *row) int {
		return criteria.CompareRecords(a.Record, b.Record, pk)
	})
	return matched, nil
}

func records(rows []*row) []ir.IRObject {
	out := make([]ir.IRObject, len(rows))
	for i, r := range rows {
		out[i] = r.Record
	}
	return out
}
