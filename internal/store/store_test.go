package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glyph.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("store file missing: %v", err)
	}
}

func TestOpen_ReopenKeepsTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glyph.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"glyphs", "glyph_targets", "commits", "provenance"} {
		var n int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		if err != nil || n != 1 {
			t.Errorf("table %s: count=%d err=%v", table, n, err)
		}
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := createTestStore(t)

	// SQLite reports enum pragmas by their numeric or lowercase form.
	want := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	}
	for name, expected := range want {
		got, err := s.pragma(name)
		if err != nil {
			t.Errorf("PRAGMA %s: %v", name, err)
			continue
		}
		if got != expected {
			t.Errorf("PRAGMA %s = %q, want %q", name, got, expected)
		}
	}
}

func TestOpen_RecordsSchemaVersion(t *testing.T) {
	s := createTestStore(t)

	got, err := s.pragma("user_version")
	if err != nil {
		t.Fatalf("PRAGMA user_version: %v", err)
	}
	if got != "2" || schemaVersion() != 2 {
		t.Errorf("user_version = %s, schemaVersion() = %d", got, schemaVersion())
	}
}

func TestOpen_MigratesOldFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	// A version 0 file: no provenance index and no commits.next_id.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if _, err := db.Exec(`DROP INDEX idx_provenance_glyph`); err != nil {
		t.Fatalf("drop index: %v", err)
	}
	if _, err := db.Exec(`ALTER TABLE commits DROP COLUMN next_id`); err != nil {
		t.Fatalf("drop column: %v", err)
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_provenance_glyph'`).Scan(&n); err != nil {
		t.Fatalf("query index: %v", err)
	}
	if n != 1 {
		t.Error("provenance index was not restored by migration")
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('commits') WHERE name = 'next_id'`).Scan(&n); err != nil {
		t.Fatalf("query column: %v", err)
	}
	if n != 1 {
		t.Error("commits.next_id was not added by migration")
	}
}

func TestOpen_MissingDirectory(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "no", "such", "glyph.db")); err == nil {
		t.Error("Open() in a missing directory should fail")
	}
}

func TestClose_ZeroStore(t *testing.T) {
	var s Store
	if err := s.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}
