package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/stitch/internal/adapter"
	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/querysql"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/stitcherr"
)

var sb = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Create implements adapter.Creator.
func (s *Store) Create(ctx context.Context, entity *schema.Entity, record ir.IRObject) (ir.IRObject, error) {
	out, err := s.CreateEach(ctx, entity, []ir.IRObject{record})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// CreateEach implements adapter.BatchCreator. Either every record is
// inserted or none is.
func (s *Store) CreateEach(ctx context.Context, entity *schema.Entity, records []ir.IRObject) ([]ir.IRObject, error) {
	prepared := make([]ir.IRObject, len(records))
	for i, r := range records {
		p, err := adapter.Prepare(entity, r)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range prepared {
			if err := insert(ctx, tx, entity, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "create").WithEntity(entity.Identity)
	}
	return prepared, nil
}

// insert writes rec and fills its primary key when SQLite assigned it.
func insert(ctx context.Context, db querier, entity *schema.Entity, rec ir.IRObject) error {
	pk := entity.Attributes[entity.PrimaryKey]
	rowid := ir.IsNull(rec.Get(pk.Key())) && pk.Type == schema.TypeInteger
	if !rowid {
		if err := adapter.AssignKey(entity, rec, nil); err != nil {
			return err
		}
	}

	var (
		cols []string
		vals []any
	)
	for _, a := range entity.StoredAttributes() {
		if rowid && a == pk {
			continue
		}
		v, err := querysql.Param(rec.Get(a.Key()))
		if err != nil {
			return fmt.Errorf("attribute %s: %w", a.Name, err)
		}
		cols = append(cols, querysql.Quote(a.Column()))
		vals = append(vals, v)
	}
	query := "INSERT INTO " + querysql.Quote(entity.Identity) + " DEFAULT VALUES"
	var args []any
	if len(cols) > 0 {
		var err error
		query, args, err = sb.Insert(querysql.Quote(entity.Identity)).Columns(cols...).Values(vals...).ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	if rowid {
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read assigned key: %w", err)
		}
		rec[pk.Key()] = ir.IRInt(id)
	}
	return nil
}

// Update implements adapter.Updater.
func (s *Store) Update(ctx context.Context, entity *schema.Entity, where criteria.Where, values ir.IRObject) ([]ir.IRObject, error) {
	set, err := adapter.PrepareValues(entity, values)
	if err != nil {
		return nil, err
	}

	var matched []ir.IRObject
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		matched, err = find(ctx, tx, entity, everything(entity, where))
		if err != nil || len(matched) == 0 || len(set) == 0 {
			return err
		}

		stmt := sb.Update(querysql.Quote(entity.Identity))
		for _, k := range set.SortedKeys() {
			v, err := querysql.Param(set[k])
			if err != nil {
				return fmt.Errorf("attribute %s: %w", k, err)
			}
			stmt = stmt.Set(querysql.Quote(columnOf(entity, k)), v)
		}
		keys, err := primaryKeys(entity, matched)
		if err != nil {
			return err
		}
		query, args, err := stmt.Where(keys).ToSql()
		if err != nil {
			return fmt.Errorf("build update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "update").WithEntity(entity.Identity)
	}

	for _, rec := range matched {
		for k, v := range set {
			rec[k] = ir.Clone(v)
		}
	}
	return matched, nil
}

// Destroy implements adapter.Destroyer.
func (s *Store) Destroy(ctx context.Context, entity *schema.Entity, where criteria.Where) ([]ir.IRObject, error) {
	var matched []ir.IRObject
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		matched, err = find(ctx, tx, entity, everything(entity, where))
		if err != nil || len(matched) == 0 {
			return err
		}
		keys, err := primaryKeys(entity, matched)
		if err != nil {
			return err
		}
		query, args, err := sb.Delete(querysql.Quote(entity.Identity)).Where(keys).ToSql()
		if err != nil {
			return fmt.Errorf("build delete: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "destroy").WithEntity(entity.Identity)
	}
	return matched, nil
}

func everything(entity *schema.Entity, where criteria.Where) adapter.Query {
	return adapter.Query{
		Where: where,
		Sort:  adapter.RecordSort(entity, nil),
		Limit: criteria.Unbounded,
	}
}

func primaryKeys(entity *schema.Entity, records []ir.IRObject) (sq.Eq, error) {
	pk := entity.Attributes[entity.PrimaryKey]
	values := make([]any, len(records))
	for i, r := range records {
		v, err := querysql.Param(r.Get(pk.Key()))
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return sq.Eq{querysql.Quote(pk.Column()): values}, nil
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
