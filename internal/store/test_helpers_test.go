package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/glyph/internal/ir"
)

// createTestStore opens a fresh store in a temp directory.
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

func node(id ir.GlyphID, typ string, attrs map[string]ir.Value) ir.GlyphRecord {
	if attrs == nil {
		attrs = map[string]ir.Value{}
	}
	return ir.GlyphRecord{ID: id, Type: typ, Attrs: attrs}
}

func edge(id ir.GlyphID, typ string, targets ...ir.GlyphID) ir.GlyphRecord {
	return ir.GlyphRecord{ID: id, Type: typ, Targets: targets, Attrs: map[string]ir.Value{}}
}

// seedPeople applies the usual two-commit history:
// seq 1 creates ann(1), bob(2) and knows(3: 1->2);
// seq 2 renames bob and has rule "greet" create note(4).
func seedPeople(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	if err := s.Apply(ctx, ir.Batch{
		Seq:  1,
		TxID: "tx-1",
		Upserts: []ir.GlyphRecord{
			node(1, "Person", map[string]ir.Value{"name": ir.String("ann")}),
			node(2, "Person", map[string]ir.Value{"name": ir.String("bob")}),
			edge(3, "knows", 1, 2),
		},
	}); err != nil {
		t.Fatalf("Apply(1) failed: %v", err)
	}
	if err := s.Apply(ctx, ir.Batch{
		Seq:  2,
		TxID: "tx-2",
		Upserts: []ir.GlyphRecord{
			node(2, "Person", map[string]ir.Value{"name": ir.String("robert")}),
			node(4, "Note", map[string]ir.Value{"text": ir.String("hi")}),
		},
		Effects: []ir.Effect{{Glyph: 4, Op: ir.OpCreate, Rule: "greet"}},
	}); err != nil {
		t.Fatalf("Apply(2) failed: %v", err)
	}
}
