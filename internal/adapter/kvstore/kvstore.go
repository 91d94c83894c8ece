// Package kvstore is a key-value datastore adapter backed by BadgerDB.
//
// Records are stored as canonical JSON under "<entity>\x00<primary key>".
// Queries scan the entity prefix and evaluate the page request in memory.
// Writes are serialized so integer key assignment never conflicts.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/stitch/internal/adapter"
	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/stitcherr"
)

// Kind is the adapter kind name.
const Kind = "badger"

// Options configures a Store.
type Options struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in memory; it is lost on Close.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool
}

// Store is a BadgerDB-backed adapter.
type Store struct {
	db *badger.DB

	// mu serializes write transactions.
	mu sync.Mutex
}

var (
	_ adapter.Finder       = (*Store)(nil)
	_ adapter.Creator      = (*Store)(nil)
	_ adapter.BatchCreator = (*Store)(nil)
	_ adapter.Updater      = (*Store)(nil)
	_ adapter.Destroyer    = (*Store)(nil)
	_ adapter.Closer       = (*Store)(nil)
)

// Open opens or creates a store.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store that lives in memory only.
func OpenInMemory() (*Store, error) {
	return Open(Options{InMemory: true})
}

// Kind implements adapter.Adapter.
func (s *Store) Kind() string { return Kind }

// Close implements adapter.Closer.
func (s *Store) Close() error {
	return s.db.Close()
}

// Find implements adapter.Finder.
func (s *Store) Find(_ context.Context, entity *schema.Entity, q adapter.Query) ([]ir.IRObject, error) {
	var out []ir.IRObject
	err := s.db.View(func(txn *badger.Txn) error {
		all, err := scan(txn, entity)
		if err != nil {
			return err
		}
		out = adapter.Apply(all, q)
		return nil
	})
	if err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "find").WithEntity(entity.Identity)
	}
	return out, nil
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

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := scan(txn, entity)
		if err != nil {
			return err
		}
		last := adapter.MaxIntKey(entity, existing)
		next := func() int64 {
			last++
			return last
		}

		for _, rec := range prepared {
			if err := adapter.AssignKey(entity, rec, next); err != nil {
				return err
			}
			if id, ok := rec.Get(entity.PrimaryKey).(ir.IRInt); ok && int64(id) > last {
				last = int64(id)
			}

			key := recordKey(entity, rec)
			_, err := txn.Get(key)
			if err == nil {
				return fmt.Errorf("duplicate primary key %s", ir.Key(rec.Get(entity.PrimaryKey)))
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := put(txn, key, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if stitcherr.IsMalformedQuery(err) {
			return nil, err
		}
		return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "create").WithEntity(entity.Identity)
	}
	return prepared, nil
}

// Update implements adapter.Updater.
func (s *Store) Update(_ context.Context, entity *schema.Entity, where criteria.Where, values ir.IRObject) ([]ir.IRObject, error) {
	set, err := adapter.PrepareValues(entity, values)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ir.IRObject
	err = s.db.Update(func(txn *badger.Txn) error {
		matched, err := match(txn, entity, where)
		if err != nil {
			return err
		}
		for _, rec := range matched {
			for k, v := range set {
				rec[k] = ir.Clone(v)
			}
			if err := put(txn, recordKey(entity, rec), rec); err != nil {
				return err
			}
		}
		out = matched
		return nil
	})
	if err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "update").WithEntity(entity.Identity)
	}
	return out, nil
}

// Destroy implements adapter.Destroyer.
func (s *Store) Destroy(_ context.Context, entity *schema.Entity, where criteria.Where) ([]ir.IRObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ir.IRObject
	err := s.db.Update(func(txn *badger.Txn) error {
		matched, err := match(txn, entity, where)
		if err != nil {
			return err
		}
		for _, rec := range matched {
			if err := txn.Delete(recordKey(entity, rec)); err != nil {
				return err
			}
		}
		out = matched
		return nil
	})
	if err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "destroy").WithEntity(entity.Identity)
	}
	return out, nil
}

// prefix returns the key prefix of every record of entity.
func prefix(entity *schema.Entity) []byte {
	return append([]byte(entity.Identity), 0)
}

func recordKey(entity *schema.Entity, rec ir.IRObject) []byte {
	return append(prefix(entity), ir.Key(rec.Get(entity.PrimaryKey))...)
}

func put(txn *badger.Txn, key []byte, rec ir.IRObject) error {
	data, err := ir.MarshalCanonical(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return txn.Set(key, data)
}

// scan decodes every record of entity in key order.
func scan(txn *badger.Txn, entity *schema.Entity) ([]ir.IRObject, error) {
	p := prefix(entity)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = p
	it := txn.NewIterator(opts)
	defer it.Close()

	out := []ir.IRObject{}
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		var rec ir.IRObject
		err := it.Item().Value(func(val []byte) error {
			v, err := ir.UnmarshalIRValue(val)
			if err != nil {
				return err
			}
			obj, ok := v.(ir.IRObject)
			if !ok {
				return fmt.Errorf("stored value is %T, not an object", v)
			}
			rec = obj
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("decode %q: %w", it.Item().Key(), err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// match returns the records of entity matching where in primary key order.
func match(txn *badger.Txn, entity *schema.Entity, where criteria.Where) ([]ir.IRObject, error) {
	all, err := scan(txn, entity)
	if err != nil {
		return nil, err
	}
	matched := criteria.Filter(all, where)
	criteria.SortRecords(matched, adapter.RecordSort(entity, nil))
	return matched, nil
}
