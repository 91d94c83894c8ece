// Package querysql compiles queryir to parameterized SQLite SQL.
//
// Every statement has an ORDER BY with COLLATE BINARY so text ordering does
// not depend on the connection's collation, and every value is a bound
// parameter. Identifiers are always double-quoted.
package querysql

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/queryir"
)

var sb = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Compile converts a query to SQL and its parameters.
func Compile(q queryir.Query) (string, []any, error) {
	switch query := q.(type) {
	case queryir.Select:
		return compileSelect(query)
	case *queryir.Select:
		return compileSelect(*query)
	case nil:
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	return "", nil, fmt.Errorf("unsupported query type: %T", q)
}

// CompileWhere converts a predicate to a WHERE fragment. A nil predicate
// compiles to a true condition.
func CompileWhere(p queryir.Predicate) (sq.Sqlizer, error) {
	if p == nil {
		return sq.Expr("1 = 1"), nil
	}
	return compilePredicate(p)
}

func compileSelect(q queryir.Select) (string, []any, error) {
	if q.From == "" {
		return "", nil, fmt.Errorf("select has no source table")
	}

	cols := []string{"*"}
	if len(q.Columns) > 0 {
		cols = make([]string, len(q.Columns))
		for i, c := range q.Columns {
			cols[i] = Quote(c)
		}
	}

	stmt := sb.Select(cols...).From(Quote(q.From))
	if q.Filter != nil {
		where, err := compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		stmt = stmt.Where(where)
	}
	stmt = stmt.OrderBy(orderBy(q)...)

	switch {
	case q.Limit >= 0:
		stmt = stmt.Limit(uint64(q.Limit))
		if q.Offset > 0 {
			stmt = stmt.Offset(uint64(q.Offset))
		}
	case q.Offset > 0:
		// SQLite only accepts OFFSET after a LIMIT.
		stmt = stmt.Suffix("LIMIT -1 OFFSET ?", q.Offset)
	}

	sql, args, err := stmt.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build select: %w", err)
	}
	return sql, args, nil
}

// orderBy always returns at least one term. Queries with no order fall back
// to rowid so paging stays deterministic.
func orderBy(q queryir.Select) []string {
	if len(q.Order) == 0 {
		return []string{"rowid ASC"}
	}
	terms := make([]string, len(q.Order))
	for i, o := range q.Order {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		terms[i] = fmt.Sprintf("%s COLLATE BINARY %s", Quote(o.Field), dir)
	}
	return terms
}

func compilePredicate(p queryir.Predicate) (sq.Sqlizer, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		v, err := Param(pred.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", pred.Field, err)
		}
		return sq.Eq{Quote(pred.Field): v}, nil

	case queryir.In:
		values := make([]any, len(pred.Values))
		for i, item := range pred.Values {
			v, err := Param(item)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", pred.Field, err)
			}
			values[i] = v
		}
		return sq.Eq{Quote(pred.Field): values}, nil

	case queryir.IsNull:
		return sq.Eq{Quote(pred.Field): nil}, nil

	case queryir.Compare:
		v, err := Param(pred.Value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", pred.Field, err)
		}
		col := Quote(pred.Field)
		return sq.Expr(fmt.Sprintf("(typeof(%s) = '%s' AND %s %s ?)", col, storageClass(pred.Value), col, pred.Op), v), nil

	case queryir.Match:
		col := Quote(pred.Field)
		return sq.Expr(fmt.Sprintf(`(typeof(%s) = 'text' AND %s LIKE ? ESCAPE '\')`, col, col), likePattern(pred.Mode, pred.Value)), nil

	case queryir.Not:
		inner, err := compilePredicate(pred.Predicate)
		if err != nil {
			return nil, err
		}
		sql, args, err := inner.ToSql()
		if err != nil {
			return nil, err
		}
		// Null-safe: a comparison against NULL is false, so its negation
		// holds.
		return sq.Expr("NOT COALESCE(("+sql+"), 0)", args...), nil

	case queryir.And:
		out := sq.And{}
		for _, sub := range pred.Predicates {
			c, err := compilePredicate(sub)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil

	case queryir.Or:
		out := sq.Or{}
		for _, sub := range pred.Predicates {
			c, err := compilePredicate(sub)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported predicate type: %T", p)
}

// Quote double-quotes an identifier.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Param converts a value to a driver parameter. Arrays and objects are
// stored as canonical JSON text.
func Param(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRBool:
		return bool(val), nil
	case ir.IRNull, nil:
		return nil, nil
	case ir.IRArray, ir.IRObject:
		data, err := ir.MarshalCanonical(val)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
}

func storageClass(v ir.IRValue) string {
	switch v.(type) {
	case ir.IRInt, ir.IRBool:
		return "integer"
	}
	return "text"
}

func likePattern(mode queryir.MatchMode, s string) string {
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	switch mode {
	case queryir.Prefix:
		return s + "%"
	case queryir.Suffix:
		return "%" + s
	}
	return "%" + s + "%"
}
