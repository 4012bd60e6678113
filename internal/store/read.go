package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/glyph/internal/ir"
)

// ErrNotFound is returned by point reads for a missing row.
var ErrNotFound = errors.New("not found")

// Filter narrows Dump. The zero Filter selects every glyph.
type Filter struct {
	// Types restricts the dump to glyphs of the named types.
	Types []string
}

// Commit is one row of the commit log.
type Commit struct {
	Seq       uint64
	TxID      string
	BatchHash string
	Upserts   int
	Deletes   int
}

// ProvenanceRecord attributes one change to the rule that made it.
type ProvenanceRecord struct {
	Seq   uint64
	Glyph ir.GlyphID
	Op    string
	Attr  string
	Rule  string
}

// Load returns every stored glyph ordered by id, plus the last applied
// commit sequence (0 for an empty store).
func (s *Store) Load(ctx context.Context) ([]ir.GlyphRecord, uint64, error) {
	recs, err := s.Dump(ctx, Filter{})
	if err != nil {
		return nil, 0, fmt.Errorf("load: %w", err)
	}
	seq, err := s.Seq(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load: %w", err)
	}
	return recs, seq, nil
}

// Seq returns the highest applied commit sequence.
func (s *Store) Seq(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM commits`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// NextID returns the lowest glyph id that is safe to allocate: above every
// recorded high-water mark, every stored glyph and every glyph named in
// provenance. Files written before next_id existed fall back to the
// latter two.
func (s *Store) NextID(ctx context.Context) (ir.GlyphID, error) {
	var next sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(n) FROM (
			SELECT MAX(next_id) AS n FROM commits
			UNION ALL SELECT MAX(id) + 1 FROM glyphs
			UNION ALL SELECT MAX(glyph_id) + 1 FROM provenance
		)
	`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("read next id: %w", err)
	}
	if !next.Valid {
		return 0, nil
	}
	return ir.GlyphID(next.Int64), nil
}

// Glyph reads a single glyph by id.
// Returns ErrNotFound if it does not exist.
func (s *Store) Glyph(ctx context.Context, id ir.GlyphID) (ir.GlyphRecord, error) {
	var (
		rec   ir.GlyphRecord
		attrs string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, attrs FROM glyphs WHERE id = ?
	`, id).Scan(&rec.ID, &rec.Type, &attrs)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.GlyphRecord{}, fmt.Errorf("read glyph %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.GlyphRecord{}, fmt.Errorf("read glyph %d: %w", id, err)
	}
	if rec.Attrs, err = unmarshalAttrs(attrs); err != nil {
		return ir.GlyphRecord{}, fmt.Errorf("read glyph %d: %w", id, err)
	}
	targets, err := s.readTargets(ctx, "WHERE edge_id = ?", id)
	if err != nil {
		return ir.GlyphRecord{}, err
	}
	rec.Targets = targets[id]
	return rec, nil
}

// Dump returns glyphs matching f in ascending id order.
// CRITICAL: ORDER BY id for deterministic output.
func (s *Store) Dump(ctx context.Context, f Filter) ([]ir.GlyphRecord, error) {
	query := `SELECT id, type, attrs FROM glyphs`
	var args []any
	if len(f.Types) > 0 {
		query += ` WHERE type IN (?` + strings.Repeat(`, ?`, len(f.Types)-1) + `)`
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dump glyphs: %w", err)
	}
	defer rows.Close()

	var recs []ir.GlyphRecord
	for rows.Next() {
		var (
			rec   ir.GlyphRecord
			attrs string
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &attrs); err != nil {
			return nil, fmt.Errorf("dump glyphs: scan: %w", err)
		}
		if rec.Attrs, err = unmarshalAttrs(attrs); err != nil {
			return nil, fmt.Errorf("dump glyph %d: %w", rec.ID, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dump glyphs: %w", err)
	}

	targets, err := s.readTargets(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].Targets = targets[recs[i].ID]
	}
	return recs, nil
}

// readTargets loads ordered edge targets keyed by edge id.
func (s *Store) readTargets(ctx context.Context, where string, args ...any) (map[ir.GlyphID][]ir.GlyphID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT edge_id, target_id FROM glyph_targets `+where+`
		ORDER BY edge_id ASC, pos ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	defer rows.Close()

	out := make(map[ir.GlyphID][]ir.GlyphID)
	for rows.Next() {
		var edge, target ir.GlyphID
		if err := rows.Scan(&edge, &target); err != nil {
			return nil, fmt.Errorf("read targets: scan: %w", err)
		}
		out[edge] = append(out[edge], target)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	return out, nil
}

// Commits returns the commit log in sequence order.
func (s *Store) Commits(ctx context.Context) ([]Commit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, tx_id, batch_hash, upserts, deletes
		FROM commits
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read commits: %w", err)
	}
	defer rows.Close()

	var out []Commit
	for rows.Next() {
		var c Commit
		if err := rows.Scan(&c.Seq, &c.TxID, &c.BatchHash, &c.Upserts, &c.Deletes); err != nil {
			return nil, fmt.Errorf("read commits: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Provenance returns every rule effect recorded for a glyph, oldest first.
// The glyph need not still exist.
func (s *Store) Provenance(ctx context.Context, id ir.GlyphID) ([]ProvenanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, glyph_id, op, attr, rule
		FROM provenance
		WHERE glyph_id = ?
		ORDER BY seq ASC, op ASC, attr ASC, rule ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("read provenance for %d: %w", id, err)
	}
	defer rows.Close()

	var out []ProvenanceRecord
	for rows.Next() {
		var p ProvenanceRecord
		if err := rows.Scan(&p.Seq, &p.Glyph, &p.Op, &p.Attr, &p.Rule); err != nil {
			return nil, fmt.Errorf("read provenance for %d: scan: %w", id, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Batches returns the stored batches up to and including upTo (0 = all)
// in sequence order.
func (s *Store) Batches(ctx context.Context, upTo uint64) ([]ir.Batch, error) {
	query := `SELECT batch FROM commits`
	var args []any
	if upTo > 0 {
		query += ` WHERE seq <= ?`
		args = append(args, upTo)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read batches: %w", err)
	}
	defer rows.Close()

	var out []ir.Batch
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("read batches: scan: %w", err)
		}
		b, err := unmarshalBatch(data)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
