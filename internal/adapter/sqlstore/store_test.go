package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stitch/internal/adapter"
	"github.com/roach88/stitch/internal/adapter/adaptertest"
	"github.com/roach88/stitch/internal/criteria"
	"github.com/roach88/stitch/internal/ir"
	"github.com/roach88/stitch/internal/schema"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T) adaptertest.Adapter {
		return createTestStore(t)
	})
}

func TestConformanceInMemory(t *testing.T) {
	adaptertest.Run(t, func(t *testing.T) adaptertest.Adapter {
		s, err := Open(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "test.db"))
	if err == nil {
		t.Error("Open() should fail for a path in a missing directory")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db returned %v", err)
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "sqlite", createTestStore(t).Kind())
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, s.verifyPragma(ctx, tt.name, tt.want))
		})
	}
}

const defineCUE = `
entity: person: attributes: {
	name: {columnName: "full_name"}
	age:  {type: "integer"}
	pet:  {model: "pet", columnName: "petId"}
}
entity: pet: {}
`

func TestDefineCreatesTypedColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	reg, err := schema.CompileString(defineCUE, "define.cue")
	require.NoError(t, err)
	person, _ := reg.Entity("person")

	require.NoError(t, s.Define(ctx, person))
	require.NoError(t, s.Define(ctx, person), "define is idempotent")

	rows, err := s.DB().Query(`SELECT name, type, pk FROM pragma_table_info('person') ORDER BY name`)
	require.NoError(t, err)
	defer rows.Close()

	type column struct {
		name, typ string
		pk        int
	}
	var got []column
	for rows.Next() {
		var c column
		require.NoError(t, rows.Scan(&c.name, &c.typ, &c.pk))
		got = append(got, c)
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, []column{
		{"age", "INTEGER", 0},
		{"full_name", "TEXT", 0},
		{"id", "INTEGER", 1},
		{"petId", "", 0},
	}, got)
}

func TestDefineAddsMissingColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.DB().Exec(`CREATE TABLE "pet" ("id" INTEGER PRIMARY KEY NOT NULL)`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`INSERT INTO "pet" ("id") VALUES (1)`)
	require.NoError(t, err)

	reg, err := schema.CompileString(`entity: pet: attributes: name: {}`, "pet.cue")
	require.NoError(t, err)
	pet, _ := reg.Entity("pet")
	require.NoError(t, s.Define(ctx, pet))

	var name any
	require.NoError(t, s.DB().QueryRow(`SELECT "name" FROM "pet" WHERE "id" = 1`).Scan(&name))
	assert.Nil(t, name)
}

func TestColumnNamesAreMappedToRecordKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	reg, err := schema.CompileString(defineCUE, "define.cue")
	require.NoError(t, err)
	person, _ := reg.Entity("person")
	require.NoError(t, s.Define(ctx, person))

	_, err = s.DB().Exec(`INSERT INTO "person" ("id", "full_name", "age", "petId") VALUES (1, 'Ann', 7, 3)`)
	require.NoError(t, err)

	got, err := s.Find(ctx, person, adapter.Query{
		Where: criteria.Where{Attrs: map[string]criteria.Predicate{
			"name": criteria.Literal{Value: ir.IRString("Ann")},
		}},
		Sort:  adapter.RecordSort(person, nil),
		Limit: criteria.Unbounded,
	})
	require.NoError(t, err)

	assert.Equal(t, []ir.IRObject{{
		"id":    ir.IRInt(1),
		"name":  ir.IRString("Ann"),
		"age":   ir.IRInt(7),
		"petId": ir.IRInt(3),
	}}, got)
}
