package store

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/glyph/internal/ir"
)

// Apply writes one committed batch atomically: deletes, upserts, the
// commit log row and its provenance rows land in a single SQL transaction.
//
// Apply is idempotent per Seq. A batch whose seq is already logged is
// ignored, so a caller that crashed between Apply and acknowledging the
// commit can retry safely.
//
// Deletes run in descending id order so edges go before their targets;
// upserts run ascending so targets exist before the edges that use them.
func (s *Store) Apply(ctx context.Context, b ir.Batch) (err error) {
	if b.Seq == 0 {
		return fmt.Errorf("apply batch: seq must be positive")
	}

	batchJSON, err := marshalBatch(b)
	if err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply batch %d: begin: %w", b.Seq, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var existing uint64
	err = tx.QueryRowContext(ctx, `SELECT seq FROM commits WHERE seq = ?`, b.Seq).Scan(&existing)
	switch {
	case err == nil:
		// Already applied.
		return tx.Rollback()
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("apply batch %d: check seq: %w", b.Seq, err)
	}
	err = nil

	deletes := slices.Clone(b.Deletes)
	slices.SortFunc(deletes, func(a, b ir.GlyphID) int { return cmp.Compare(b, a) })
	for _, id := range deletes {
		if _, err = tx.ExecContext(ctx, `DELETE FROM glyphs WHERE id = ?`, id); err != nil {
			return fmt.Errorf("apply batch %d: delete glyph %d: %w", b.Seq, id, err)
		}
	}

	upserts := slices.Clone(b.Upserts)
	slices.SortFunc(upserts, func(a, b ir.GlyphRecord) int { return cmp.Compare(a.ID, b.ID) })
	for _, rec := range upserts {
		if err = upsertGlyph(ctx, tx, b.Seq, rec); err != nil {
			return fmt.Errorf("apply batch %d: %w", b.Seq, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO commits (seq, tx_id, batch, batch_hash, upserts, deletes, next_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		b.Seq,
		b.TxID,
		string(batchJSON),
		ir.BatchHash(batchJSON),
		len(b.Upserts),
		len(b.Deletes),
		b.NextID,
	)
	if err != nil {
		return fmt.Errorf("apply batch %d: write commit: %w", b.Seq, err)
	}

	for _, e := range b.Effects {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO provenance (seq, glyph_id, op, attr, rule)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, b.Seq, e.Glyph, e.Op.String(), e.Attr, e.Rule)
		if err != nil {
			return fmt.Errorf("apply batch %d: write provenance: %w", b.Seq, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("apply batch %d: commit: %w", b.Seq, err)
	}
	return nil
}

// upsertGlyph inserts a new glyph with its targets, or replaces the
// attributes of an existing one. Targets never change after creation.
func upsertGlyph(ctx context.Context, tx *sql.Tx, seq uint64, rec ir.GlyphRecord) error {
	attrsJSON, err := marshalAttrs(rec.Attrs)
	if err != nil {
		return fmt.Errorf("glyph %d: %w", rec.ID, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO glyphs (id, type, attrs, seq)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.ID, rec.Type, attrsJSON, seq)
	if err != nil {
		return fmt.Errorf("insert glyph %d: %w", rec.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert glyph %d: rows affected: %w", rec.ID, err)
	}
	if n == 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE glyphs SET attrs = ?, seq = ? WHERE id = ?
		`, attrsJSON, seq, rec.ID)
		if err != nil {
			return fmt.Errorf("update glyph %d: %w", rec.ID, err)
		}
		return nil
	}

	for pos, target := range rec.Targets {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO glyph_targets (edge_id, pos, target_id)
			VALUES (?, ?, ?)
		`, rec.ID, pos, target)
		if err != nil {
			return fmt.Errorf("insert glyph %d target %d: %w", rec.ID, pos, err)
		}
	}
	return nil
}
