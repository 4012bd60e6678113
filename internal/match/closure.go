package match

import (
	"slices"

	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/pattern"
)

// reach walks closure edge e breadth-first from start and returns the
// reachable glyphs in ascending id order.
//
// Forward follows edges from target 0 to target 1; backward the reverse.
// ClosurePlus returns glyphs at one or more hops (start itself only if a
// cycle leads back to it); ClosureStar also returns start. A non-zero
// MaxDepth stops expansion after that many hops. The visited set makes
// cycles terminate.
func (s *search) reach(start ir.GlyphID, e pattern.Edge, forward bool) []ir.GlyphID {
	from, to := 0, 1
	if !forward {
		from, to = 1, 0
	}

	visited := make(map[ir.GlyphID]bool)
	var out []ir.GlyphID
	if e.Closure == pattern.ClosureStar {
		visited[start] = true
		out = append(out, start)
	}

	frontier := []ir.GlyphID{start}
	for depth := 1; len(frontier) > 0; depth++ {
		if e.MaxDepth > 0 && depth > e.MaxDepth {
			break
		}
		var next []ir.GlyphID
		for _, cur := range frontier {
			for _, eid := range s.m.view.Incoming(cur) {
				g, ok := s.m.view.Glyph(eid)
				if !ok || len(g.Targets) != 2 || g.Targets[from] != cur || !s.reg.IsA(g.Type, e.Type) {
					continue
				}
				n := g.Targets[to]
				if visited[n] {
					continue
				}
				visited[n] = true
				out = append(out, n)
				next = append(next, n)
			}
		}
		frontier = next
	}
	slices.Sort(out)
	return out
}
