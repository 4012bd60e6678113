// Package graph holds committed glyph state and the per-transaction
// overlay that gives a transaction its view of the world.
//
// Graph is the committed store: glyphs by id, a type index and an incoming
// adjacency index (edge ids by target). Slices returned by the indexes are
// never mutated after publication, so readers can hold them without locks.
//
// Overlay buffers one transaction's creates, deletes and attribute sets on
// top of a Graph and implements View with the transaction's own changes
// applied. Nothing in an Overlay is visible to other transactions.
package graph

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/glyph/internal/ir"
)

// View is read access to a consistent set of glyphs.
//
// Returned glyphs and slices are shared and must not be modified.
type View interface {
	// Glyph returns the glyph with the given id if it is visible.
	Glyph(id ir.GlyphID) (*ir.Glyph, bool)

	// ByType returns visible glyphs of exactly type t in ascending id order.
	ByType(t ir.TypeID) []ir.GlyphID

	// Incoming returns visible edges that have id among their targets, in
	// ascending id order, without duplicates.
	Incoming(id ir.GlyphID) []ir.GlyphID
}

type entry struct {
	glyph   *ir.Glyph
	version uint64
}

// Graph is committed state. It is safe for concurrent use; writes happen
// only through Apply.
type Graph struct {
	mu       sync.RWMutex
	glyphs   map[ir.GlyphID]entry
	byType   map[ir.TypeID][]ir.GlyphID
	incoming map[ir.GlyphID][]ir.GlyphID
	seq      uint64

	nextID atomic.Int64
}

// New returns an empty graph whose first allocated id is 1.
func New() *Graph {
	g := &Graph{
		glyphs:   make(map[ir.GlyphID]entry),
		byType:   make(map[ir.TypeID][]ir.GlyphID),
		incoming: make(map[ir.GlyphID][]ir.GlyphID),
	}
	g.nextID.Store(1)
	return g
}

// Load builds a graph from existing glyphs, e.g. read from storage.
// Every edge target must be present.
func Load(glyphs []*ir.Glyph, seq uint64) (*Graph, error) {
	g := New()
	g.seq = seq
	maxID := ir.GlyphID(0)
	for _, gl := range glyphs {
		if gl.ID <= 0 {
			return nil, fmt.Errorf("load: invalid glyph id %d", gl.ID)
		}
		if _, dup := g.glyphs[gl.ID]; dup {
			return nil, fmt.Errorf("load: duplicate glyph id %d", gl.ID)
		}
		g.glyphs[gl.ID] = entry{glyph: gl, version: seq}
		maxID = max(maxID, gl.ID)
	}
	for _, gl := range glyphs {
		for _, t := range gl.Targets {
			if _, ok := g.glyphs[t]; !ok {
				return nil, &ir.Error{Kind: ir.KindInternal, Message: fmt.Sprintf("dangling target %d", t), Glyph: gl.ID}
			}
		}
	}
	ids := make([]ir.GlyphID, 0, len(glyphs))
	for id := range g.glyphs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		gl := g.glyphs[id].glyph
		g.byType[gl.Type] = append(g.byType[gl.Type], id)
		for _, t := range uniqueTargets(gl.Targets) {
			g.incoming[t] = append(g.incoming[t], id)
		}
	}
	g.nextID.Store(int64(maxID) + 1)
	return g, nil
}

// NextID returns the id the next AllocID call would hand out.
func (g *Graph) NextID() ir.GlyphID {
	return ir.GlyphID(g.nextID.Load())
}

// Reserve makes sure no id below next is ever allocated. Lower values
// leave the allocator alone.
func (g *Graph) Reserve(next ir.GlyphID) {
	for {
		cur := g.nextID.Load()
		if int64(next) <= cur || g.nextID.CompareAndSwap(cur, int64(next)) {
			return
		}
	}
}

// AllocID reserves a fresh glyph id. IDs are never reused, including ids
// allocated by transactions that later abort.
func (g *Graph) AllocID() ir.GlyphID {
	return ir.GlyphID(g.nextID.Add(1) - 1)
}

// Glyph implements View.
func (g *Graph) Glyph(id ir.GlyphID) (*ir.Glyph, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.glyphs[id]
	return e.glyph, ok
}

// ByType implements View.
func (g *Graph) ByType(t ir.TypeID) []ir.GlyphID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.byType[t]
}

// Incoming implements View.
func (g *Graph) Incoming(id ir.GlyphID) []ir.GlyphID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.incoming[id]
}

// Version returns the commit sequence that last changed id, and whether
// the glyph exists.
func (g *Graph) Version(id ir.GlyphID) (uint64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.glyphs[id]
	return e.version, ok
}

// Seq returns the sequence number of the last applied change set.
func (g *Graph) Seq() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.seq
}

// Len returns the number of committed glyphs.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.glyphs)
}

// All returns every committed glyph in ascending id order.
func (g *Graph) All() []*ir.Glyph {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*ir.Glyph, 0, len(g.glyphs))
	for _, e := range g.glyphs {
		out = append(out, e.glyph)
	}
	slices.SortFunc(out, func(a, b *ir.Glyph) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Validate reports a conflict if any glyph in cs.Reads changed or
// disappeared since the transaction observed it.
func (g *Graph) Validate(cs *ChangeSet) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]ir.GlyphID, 0, len(cs.Reads))
	for id := range cs.Reads {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		e, ok := g.glyphs[id]
		if !ok {
			return &ir.Error{Kind: ir.KindConflict, Message: "glyph was deleted by a concurrent transaction", Glyph: id}
		}
		if e.version != cs.Reads[id] {
			return &ir.Error{Kind: ir.KindConflict, Message: "glyph was changed by a concurrent transaction", Glyph: id}
		}
	}
	return nil
}

// Apply publishes a change set as commit seq. Deletes must already include
// every cascaded edge; Apply reports an internal error rather than leave a
// dangling reference.
func (g *Graph) Apply(cs *ChangeSet, seq uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkClosed(cs); err != nil {
		return err
	}

	touchedTypes := make(map[ir.TypeID]bool)
	touchedIncoming := make(map[ir.GlyphID]bool)

	for _, id := range cs.Deleted {
		e, ok := g.glyphs[id]
		if !ok {
			continue
		}
		delete(g.glyphs, id)
		delete(g.incoming, id)
		touchedTypes[e.glyph.Type] = true
		for _, t := range e.glyph.Targets {
			touchedIncoming[t] = true
		}
	}
	for _, gl := range cs.Modified {
		g.glyphs[gl.ID] = entry{glyph: gl, version: seq}
	}
	for _, gl := range cs.Created {
		g.glyphs[gl.ID] = entry{glyph: gl, version: seq}
		touchedTypes[gl.Type] = true
		for _, t := range gl.Targets {
			touchedIncoming[t] = true
			// A new edge changes the cascade set of its targets.
			if te, ok := g.glyphs[t]; ok {
				te.version = seq
				g.glyphs[t] = te
			}
		}
	}

	// Rebuild affected index slices copy-on-write.
	for t := range touchedTypes {
		g.byType[t] = g.rebuildType(t, cs)
		if len(g.byType[t]) == 0 {
			delete(g.byType, t)
		}
	}
	for id := range touchedIncoming {
		if _, ok := g.glyphs[id]; !ok {
			delete(g.incoming, id)
			continue
		}
		g.incoming[id] = g.rebuildIncoming(id, cs)
		if len(g.incoming[id]) == 0 {
			delete(g.incoming, id)
		}
	}
	g.seq = seq
	return nil
}

// checkClosed verifies that after applying cs no surviving edge targets a
// deleted glyph and every created edge's targets exist.
func (g *Graph) checkClosed(cs *ChangeSet) error {
	deleted := make(map[ir.GlyphID]bool, len(cs.Deleted))
	for _, id := range cs.Deleted {
		deleted[id] = true
	}
	created := make(map[ir.GlyphID]bool, len(cs.Created))
	for _, gl := range cs.Created {
		created[gl.ID] = true
	}
	for _, id := range cs.Deleted {
		for _, in := range g.incoming[id] {
			if !deleted[in] {
				return &ir.Error{Kind: ir.KindInternal, Message: fmt.Sprintf("delete would leave edge %d dangling", in), Glyph: id}
			}
		}
	}
	for _, gl := range cs.Created {
		for _, t := range gl.Targets {
			_, committed := g.glyphs[t]
			if deleted[t] || (!committed && !created[t]) {
				return &ir.Error{Kind: ir.KindInternal, Message: fmt.Sprintf("created edge targets missing glyph %d", t), Glyph: gl.ID}
			}
		}
	}
	return nil
}

func (g *Graph) rebuildType(t ir.TypeID, cs *ChangeSet) []ir.GlyphID {
	old := g.byType[t]
	out := make([]ir.GlyphID, 0, len(old)+len(cs.Created))
	for _, id := range old {
		if _, ok := g.glyphs[id]; ok {
			out = append(out, id)
		}
	}
	for _, gl := range cs.Created {
		if gl.Type == t {
			out = append(out, gl.ID)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (g *Graph) rebuildIncoming(id ir.GlyphID, cs *ChangeSet) []ir.GlyphID {
	old := g.incoming[id]
	out := make([]ir.GlyphID, 0, len(old)+1)
	for _, e := range old {
		if _, ok := g.glyphs[e]; ok {
			out = append(out, e)
		}
	}
	for _, gl := range cs.Created {
		if slices.Contains(gl.Targets, id) {
			out = append(out, gl.ID)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func uniqueTargets(targets []ir.GlyphID) []ir.GlyphID {
	if len(targets) < 2 {
		return targets
	}
	out := slices.Clone(targets)
	slices.Sort(out)
	return slices.Compact(out)
}
