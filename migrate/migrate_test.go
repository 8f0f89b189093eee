package migrate

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/toeirei/cipherbun"
)

func migrationsFS() fstest.MapFS {
	return fstest.MapFS{
		"0001_init.up.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT);"),
		},
		"0002_add_color.up.sql": &fstest.MapFile{
			Data: []byte("ALTER TABLE widgets ADD COLUMN color TEXT;"),
		},
		"README.md": &fstest.MapFile{Data: []byte("not a migration")},
	}
}

func tableColumns(t *testing.T, h *cipherbun.OpenHelper, table string) []string {
	t.Helper()
	rows, err := h.GetConnectionSource().DB().Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatalf("failed to read table info: %v", err)
	}
	defer func() { _ = rows.Close() }()
	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		cols = append(cols, name)
	}
	return cols
}

func hasColumn(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}

func TestOnCreate_AppliesAllMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	h, err := cipherbun.New(path, 2, New(migrationsFS(), ".", 2))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := h.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = h.Close() }()

	cols := tableColumns(t, h, "widgets")
	if !hasColumn(cols, "name") || !hasColumn(cols, "color") {
		t.Fatalf("expected both migrations applied, columns: %v", cols)
	}
}

func TestOnUpgrade_AppliesOnlyPendingMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	fsys := migrationsFS()

	h1, err := cipherbun.New(path, 1, New(fsys, ".", 1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := h1.Open(context.Background()); err != nil {
		t.Fatalf("Open at v1 failed: %v", err)
	}
	cols := tableColumns(t, h1, "widgets")
	if hasColumn(cols, "color") {
		t.Fatalf("v1 open must not apply the v2 migration, columns: %v", cols)
	}
	if err := h1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	h2, err := cipherbun.New(path, 2, New(fsys, ".", 2))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := h2.Open(context.Background()); err != nil {
		t.Fatalf("Open at v2 failed: %v", err)
	}
	defer func() { _ = h2.Close() }()

	cols = tableColumns(t, h2, "widgets")
	if !hasColumn(cols, "color") {
		t.Fatalf("upgrade must apply the pending migration, columns: %v", cols)
	}
}

func TestList_RejectsBadVersionPrefix(t *testing.T) {
	fsys := fstest.MapFS{
		"nope.up.sql": &fstest.MapFile{Data: []byte("SELECT 1;")},
	}
	c := New(fsys, ".", 1)
	if _, err := c.list(); err == nil {
		t.Fatalf("expected a file without a version prefix to fail")
	}

	fsys = fstest.MapFS{
		"zero_init.up.sql": &fstest.MapFile{Data: []byte("SELECT 1;")},
	}
	c = New(fsys, ".", 1)
	if _, err := c.list(); err == nil {
		t.Fatalf("expected a non-numeric version prefix to fail")
	}
}

func TestApply_FaultRollsBackAndPropagates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	fsys := fstest.MapFS{
		"0001_bad.up.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE ok (id INTEGER); THIS IS NOT SQL;"),
		},
	}
	h, err := cipherbun.New(path, 1, New(fsys, ".", 1))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := h.Open(context.Background()); err == nil {
		_ = h.Close()
		t.Fatalf("expected Open to fail on a broken migration")
	}
}
