package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/stitch/internal/querysql"
	"github.com/roach88/stitch/internal/schema"
	"github.com/roach88/stitch/internal/stitcherr"
)

// Define creates the table of an entity and adds columns missing from an
// existing table. It is idempotent.
func (s *Store) Define(ctx context.Context, entity *schema.Entity) error {
	var cols []string
	for _, a := range entity.StoredAttributes() {
		cols = append(cols, columnDef(entity, a))
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		querysql.Quote(entity.Identity), strings.Join(cols, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return stitcherr.Wrap(stitcherr.KindAdapter, err, "define table").WithEntity(entity.Identity)
	}

	existing, err := s.columns(ctx, entity.Identity)
	if err != nil {
		return stitcherr.Wrap(stitcherr.KindAdapter, err, "read table info").WithEntity(entity.Identity)
	}
	for _, a := range entity.StoredAttributes() {
		if existing[a.Column()] || a.Name == entity.PrimaryKey {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
			querysql.Quote(entity.Identity), columnDef(entity, a))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return stitcherr.Wrap(stitcherr.KindAdapter, err, "add column %s", a.Column()).WithEntity(entity.Identity)
		}
	}
	return nil
}

func (s *Store) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", querysql.Quote(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func columnDef(entity *schema.Entity, a *schema.Attribute) string {
	col := querysql.Quote(a.Column())
	if a.Model != "" {
		return col
	}
	typ := "TEXT"
	switch a.Type {
	case schema.TypeInteger, schema.TypeBoolean:
		typ = "INTEGER"
	}
	if a.Name == entity.PrimaryKey {
		return col + " " + typ + " PRIMARY KEY NOT NULL"
	}
	return col + " " + typ
}
