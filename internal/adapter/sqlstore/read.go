package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/roach88/stitch/internal/adapter"
	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/queryir"
	"github.com/roach88/stitch/internal/querysql"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/stitcherr"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Find implements adapter.Finder.
func (s *Store) Find(ctx context.Context, entity *schema.Entity, q adapter.Query) ([]ir.IRObject, error) {
	out, err := find(ctx, s.db, entity, q)
	if err != nil {
		return nil, stitcherr.Wrap(stitcherr.KindAdapter, err, "find").WithEntity(entity.Identity)
	}
	return out, nil
}

func find(ctx context.Context, db querier, entity *schema.Entity, q adapter.Query) ([]ir.IRObject, error) {
	toColumn := func(key string) string { return columnOf(entity, key) }

	sort := make([]criteria.SortKey, len(q.Sort))
	for i, k := range q.Sort {
		sort[i] = criteria.SortKey{Attr: toColumn(k.Attr), Desc: k.Desc}
	}
	sel := queryir.Lower(entity.Identity, q.Where.RenameAttrs(toColumn), sort, q.Skip, q.Limit)

	stored := entity.StoredAttributes()
	for _, a := range stored {
		sel.Columns = append(sel.Columns, a.Column())
	}

	query, args, err := querysql.Compile(sel)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	records := []ir.IRObject{}
	for rows.Next() {
		raw := make([]any, len(stored))
		dest := make([]any, len(stored))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}

		rec := make(ir.IRObject, len(stored))
		for i, a := range stored {
			v, err := decode(entity, a, raw[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", a.Column(), err)
			}
			rec[a.Key()] = v
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return records, nil
}

// columnOf maps a record key to its column. Unknown keys map to
// themselves and match nothing.
func columnOf(entity *schema.Entity, key string) string {
	for _, a := range entity.StoredAttributes() {
		if a.Key() == key {
			return a.Column()
		}
	}
	return key
}

// decode converts a driver value to the IR form of the attribute's type.
func decode(entity *schema.Entity, a *schema.Attribute, raw any) (ir.IRValue, error) {
	if raw == nil {
		return ir.IRNull{}, nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}

	if a.Model != "" {
		switch v := raw.(type) {
		case int64:
			return ir.IRInt(v), nil
		case string:
			return ir.IRString(v), nil
		}
		return nil, fmt.Errorf("unexpected foreign key value %T", raw)
	}

	switch entity.StoredType(a, nil) {
	case schema.TypeInteger:
		if v, ok := raw.(int64); ok {
			return ir.IRInt(v), nil
		}
	case schema.TypeBoolean:
		switch v := raw.(type) {
		case int64:
			return ir.IRBool(v != 0), nil
		case bool:
			return ir.IRBool(v), nil
		}
	case schema.TypeString:
		switch v := raw.(type) {
		case string:
			return ir.IRString(v), nil
		case int64:
			return ir.IRString(strconv.FormatInt(v, 10)), nil
		}
	case schema.TypeJSON:
		if v, ok := raw.(string); ok {
			return ir.UnmarshalIRValue([]byte(v))
		}
	}
	return nil, fmt.Errorf("unexpected %s value %T", a.Type, raw)
}
