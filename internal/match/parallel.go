package match

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/pattern"
)

// parallelMatch splits the first plan step's candidates across workers.
// Each worker runs an independent search on its own slot vector; results
// are concatenated in candidate order so output matches the sequential
// search exactly.
func (m *Matcher) parallelMatch(ctx context.Context, c *pattern.Compiled, seed []ir.GlyphID, names []string) ([]ir.Binding, error) {
	root := m.newSearch(ctx, c, seed, nil)
	if !root.seedOK() || !root.checkAll(root.plan.Conds, root.plan.Not) {
		return nil, root.err
	}
	if len(root.plan.Steps) == 0 {
		return []ir.Binding{{Names: names, IDs: slices.Clone(root.slots)}}, nil
	}
	first := &root.plan.Steps[0]
	cands := root.candidates(first)

	results := make([][]ir.Binding, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallelism)
	for idx, cand := range cands {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var local []ir.Binding
			s := m.newSearch(gctx, c, seed, func(ids []ir.GlyphID) bool {
				local = append(local, ir.Binding{Names: names, IDs: slices.Clone(ids)})
				return true
			})
			s.visit(0, &s.plan.Steps[0], cand)
			results[idx] = local
			return s.err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []ir.Binding
	for _, r := range results {
		out = append(out, r...)
	}
	m.logger.Debug("parallel match",
		"plan", root.plan.String(),
		"candidates", len(cands),
		"bindings", len(out),
		"workers", m.parallelism)
	return out, nil
}
