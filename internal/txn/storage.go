package txn

import (
	"context"
	"fmt"

	"github.com/roach88/glyph/internal/graph"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/schema"
)

// Storage makes committed changes durable. Apply is called once per
// commit, under the commit lock, before the change becomes visible; an
// error aborts the transaction. Load returns every stored glyph and the
// last applied sequence when the manager opens, and NextID the id
// allocator's high-water mark (0 when the store has none).
type Storage interface {
	Load(ctx context.Context) ([]ir.GlyphRecord, uint64, error)
	NextID(ctx context.Context) (ir.GlyphID, error)
	Apply(ctx context.Context, b ir.Batch) error
	Close() error
}

// toBatch converts a change set into its storage form.
func toBatch(reg *schema.Registry, cs *graph.ChangeSet, seq uint64, txID string, records []ir.Mutation) ir.Batch {
	b := ir.Batch{Seq: seq, TxID: txID, Deletes: cs.Deleted}
	for _, m := range records {
		if m.Cause != "" {
			b.Effects = append(b.Effects, ir.Effect{Glyph: m.Glyph, Op: m.Op, Attr: m.Attr, Rule: m.Cause})
		}
	}
	for _, list := range [][]*ir.Glyph{cs.Created, cs.Modified} {
		for _, g := range list {
			b.Upserts = append(b.Upserts, ir.GlyphRecord{
				ID:      g.ID,
				Type:    reg.TypeName(g.Type),
				Targets: g.Targets,
				Attrs:   g.Attrs,
			})
		}
	}
	return b
}

// fromRecords resolves stored type names against reg.
func fromRecords(reg *schema.Registry, recs []ir.GlyphRecord) ([]*ir.Glyph, error) {
	out := make([]*ir.Glyph, len(recs))
	for i, r := range recs {
		t, ok := reg.Lookup(r.Type)
		if !ok || t.Kind == schema.KindScalar {
			return nil, &ir.Error{
				Kind:    ir.KindSchema,
				Message: fmt.Sprintf("stored glyph has unknown type %q", r.Type),
				Glyph:   r.ID,
				Type:    r.Type,
			}
		}
		attrs := r.Attrs
		if attrs == nil {
			attrs = map[string]ir.Value{}
		}
		out[i] = &ir.Glyph{ID: r.ID, Type: t.ID, Targets: r.Targets, Attrs: attrs}
	}
	return out, nil
}
