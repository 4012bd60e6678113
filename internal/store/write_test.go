package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/roach88/glyph/internal/ir"
)

func TestApply_WritesGlyphsAndTargets(t *testing.T) {
	s := createTestStore(t)
	seedPeople(t, s)
	ctx := context.Background()

	rec, err := s.Glyph(ctx, 3)
	if err != nil {
		t.Fatalf("Glyph(3) failed: %v", err)
	}
	if rec.Type != "knows" {
		t.Errorf("Type = %q, want knows", rec.Type)
	}
	if len(rec.Targets) != 2 || rec.Targets[0] != 1 || rec.Targets[1] != 2 {
		t.Errorf("Targets = %v, want [1 2]", rec.Targets)
	}

	bob, err := s.Glyph(ctx, 2)
	if err != nil {
		t.Fatalf("Glyph(2) failed: %v", err)
	}
	if !ir.Equal(bob.Attrs["name"], ir.String("robert")) {
		t.Errorf("name = %s, want \"robert\"", ir.Format(bob.Attrs["name"]))
	}
}

func TestApply_IdempotentPerSeq(t *testing.T) {
	s := createTestStore(t)
	seedPeople(t, s)
	ctx := context.Background()

	// Re-applying seq 1 must not resurrect the old name.
	err := s.Apply(ctx, ir.Batch{
		Seq:     1,
		TxID:    "tx-1",
		Upserts: []ir.GlyphRecord{node(2, "Person", map[string]ir.Value{"name": ir.String("bob")})},
	})
	if err != nil {
		t.Fatalf("re-Apply(1) failed: %v", err)
	}

	bob, err := s.Glyph(ctx, 2)
	if err != nil {
		t.Fatalf("Glyph(2) failed: %v", err)
	}
	if !ir.Equal(bob.Attrs["name"], ir.String("robert")) {
		t.Errorf("name = %s after replayed batch, want \"robert\"", ir.Format(bob.Attrs["name"]))
	}

	commits, err := s.Commits(ctx)
	if err != nil {
		t.Fatalf("Commits() failed: %v", err)
	}
	if len(commits) != 2 {
		t.Errorf("len(commits) = %d, want 2", len(commits))
	}
}

func TestApply_DeleteEdgeBeforeTarget(t *testing.T) {
	s := createTestStore(t)
	seedPeople(t, s)
	ctx := context.Background()

	// Ascending order in the batch; the store must still drop 3 before 2.
	if err := s.Apply(ctx, ir.Batch{Seq: 3, TxID: "tx-3", Deletes: []ir.GlyphID{2, 3}}); err != nil {
		t.Fatalf("Apply(3) failed: %v", err)
	}

	if _, err := s.Glyph(ctx, 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("Glyph(3) err = %v, want ErrNotFound", err)
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM glyph_targets").Scan(&n); err != nil {
		t.Fatalf("count targets failed: %v", err)
	}
	if n != 0 {
		t.Errorf("glyph_targets rows = %d, want 0 after edge delete", n)
	}
}

func TestApply_DanglingTargetRejected(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Apply(ctx, ir.Batch{
		Seq:     1,
		TxID:    "tx-1",
		Upserts: []ir.GlyphRecord{edge(2, "knows", 1, 1)},
	})
	if err == nil {
		t.Fatal("Apply() with a missing target should fail")
	}

	// Failed batch leaves nothing behind.
	seq, err := s.Seq(ctx)
	if err != nil {
		t.Fatalf("Seq() failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("Seq() = %d after failed apply, want 0", seq)
	}
	recs, err := s.Dump(ctx, Filter{})
	if err != nil {
		t.Fatalf("Dump() failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Dump() = %d glyphs after failed apply, want 0", len(recs))
	}
}

func TestApply_ZeroSeqRejected(t *testing.T) {
	s := createTestStore(t)
	err := s.Apply(context.Background(), ir.Batch{TxID: "tx"})
	if err == nil || !strings.Contains(err.Error(), "seq must be positive") {
		t.Errorf("Apply(seq 0) err = %v, want seq must be positive", err)
	}
}

func TestApply_RecordsBatchHash(t *testing.T) {
	s := createTestStore(t)
	seedPeople(t, s)

	commits, err := s.Commits(context.Background())
	if err != nil {
		t.Fatalf("Commits() failed: %v", err)
	}
	for _, c := range commits {
		if len(c.BatchHash) != 64 {
			t.Errorf("commit %d hash = %q, want 64 hex chars", c.Seq, c.BatchHash)
		}
	}
	if commits[0].Upserts != 3 || commits[1].Upserts != 2 {
		t.Errorf("upsert counts = %d, %d; want 3, 2", commits[0].Upserts, commits[1].Upserts)
	}
	if commits[0].BatchHash == commits[1].BatchHash {
		t.Error("distinct batches share a hash")
	}
}
