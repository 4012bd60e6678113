package graph

import (
	"cmp"
	"slices"

	"github.com/roach88/glyph/internal/ir"
)

// ChangeSet is the net effect of a transaction, ready to merge.
type ChangeSet struct {
	// Created glyphs that survived to commit, by ascending id.
	Created []*ir.Glyph

	// Modified committed glyphs carrying their new attributes, by id.
	Modified []*ir.Glyph

	// Deleted committed glyph ids, ascending.
	Deleted []ir.GlyphID

	// Reads maps committed glyphs the transaction depends on to the
	// version it observed.
	Reads map[ir.GlyphID]uint64
}

// Empty reports whether applying the change set would change nothing.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Created) == 0 && len(cs.Modified) == 0 && len(cs.Deleted) == 0
}

// Overlay is a transaction-local buffer over a Graph. It is not safe for
// concurrent mutation; concurrent reads are safe while no mutation runs.
type Overlay struct {
	base *Graph

	created         map[ir.GlyphID]*ir.Glyph
	modified        map[ir.GlyphID]*ir.Glyph
	deleted         map[ir.GlyphID]bool
	createdByType   map[ir.TypeID][]ir.GlyphID
	createdIncoming map[ir.GlyphID][]ir.GlyphID
	reads           map[ir.GlyphID]uint64
}

// NewOverlay starts an empty buffer over base.
func NewOverlay(base *Graph) *Overlay {
	return &Overlay{
		base:            base,
		created:         make(map[ir.GlyphID]*ir.Glyph),
		modified:        make(map[ir.GlyphID]*ir.Glyph),
		deleted:         make(map[ir.GlyphID]bool),
		createdByType:   make(map[ir.TypeID][]ir.GlyphID),
		createdIncoming: make(map[ir.GlyphID][]ir.GlyphID),
		reads:           make(map[ir.GlyphID]uint64),
	}
}

// Base returns the committed graph under the overlay.
func (o *Overlay) Base() *Graph {
	return o.base
}

// Glyph implements View.
func (o *Overlay) Glyph(id ir.GlyphID) (*ir.Glyph, bool) {
	if o.deleted[id] {
		return nil, false
	}
	if g, ok := o.modified[id]; ok {
		return g, true
	}
	if g, ok := o.created[id]; ok {
		return g, true
	}
	return o.base.Glyph(id)
}

// ByType implements View.
func (o *Overlay) ByType(t ir.TypeID) []ir.GlyphID {
	return o.merge(o.base.ByType(t), o.createdByType[t])
}

// Incoming implements View.
func (o *Overlay) Incoming(id ir.GlyphID) []ir.GlyphID {
	return o.merge(o.base.Incoming(id), o.createdIncoming[id])
}

// merge combines committed and buffered id lists, dropping deleted ids.
// Both inputs are sorted.
func (o *Overlay) merge(base, local []ir.GlyphID) []ir.GlyphID {
	if len(local) == 0 && len(o.deleted) == 0 {
		return base
	}
	out := make([]ir.GlyphID, 0, len(base)+len(local))
	i, j := 0, 0
	for i < len(base) || j < len(local) {
		var id ir.GlyphID
		switch {
		case j >= len(local) || (i < len(base) && base[i] < local[j]):
			id = base[i]
			i++
		default:
			id = local[j]
			j++
		}
		if !o.deleted[id] {
			out = append(out, id)
		}
	}
	return out
}

// IsCreated reports whether id was created in this transaction.
func (o *Overlay) IsCreated(id ir.GlyphID) bool {
	_, ok := o.created[id]
	return ok
}

// Observe records the committed version of id so the commit fails if a
// concurrent transaction changes it first. Buffered glyphs are ignored.
func (o *Overlay) Observe(id ir.GlyphID) {
	if _, ok := o.created[id]; ok {
		return
	}
	if _, seen := o.reads[id]; seen {
		return
	}
	if v, ok := o.base.Version(id); ok {
		o.reads[id] = v
	}
}

// Create buffers a new glyph. The caller allocates g.ID from the base
// graph and has validated type, targets and attributes.
func (o *Overlay) Create(g *ir.Glyph) {
	o.created[g.ID] = g
	o.createdByType[g.Type] = insertSorted(o.createdByType[g.Type], g.ID)
	for _, t := range uniqueTargets(g.Targets) {
		o.createdIncoming[t] = insertSorted(o.createdIncoming[t], g.ID)
		o.Observe(t)
	}
}

// Delete removes one glyph from the view. Cascading is the caller's job.
func (o *Overlay) Delete(id ir.GlyphID) {
	if g, ok := o.created[id]; ok {
		delete(o.created, id)
		o.createdByType[g.Type] = removeSorted(o.createdByType[g.Type], id)
		for _, t := range uniqueTargets(g.Targets) {
			o.createdIncoming[t] = removeSorted(o.createdIncoming[t], id)
		}
		delete(o.createdIncoming, id)
		return
	}
	o.Observe(id)
	delete(o.modified, id)
	o.deleted[id] = true
}

// SetAttr buffers an attribute value. A null value removes the attribute.
func (o *Overlay) SetAttr(id ir.GlyphID, name string, v ir.Value) {
	g, ok := o.created[id]
	if !ok {
		g, ok = o.modified[id]
	}
	if !ok {
		base, exists := o.base.Glyph(id)
		if !exists {
			return
		}
		o.Observe(id)
		g = base.Clone()
		o.modified[id] = g
	}
	if ir.IsNull(v) {
		delete(g.Attrs, name)
		return
	}
	if g.Attrs == nil {
		g.Attrs = make(map[string]ir.Value)
	}
	g.Attrs[name] = v
}

// Changes returns the buffered net effect.
func (o *Overlay) Changes() *ChangeSet {
	cs := &ChangeSet{Reads: make(map[ir.GlyphID]uint64, len(o.reads))}
	for id, v := range o.reads {
		cs.Reads[id] = v
	}
	for _, g := range o.created {
		cs.Created = append(cs.Created, g)
	}
	for _, g := range o.modified {
		cs.Modified = append(cs.Modified, g)
	}
	for id := range o.deleted {
		cs.Deleted = append(cs.Deleted, id)
	}
	byID := func(a, b *ir.Glyph) int { return cmp.Compare(a.ID, b.ID) }
	slices.SortFunc(cs.Created, byID)
	slices.SortFunc(cs.Modified, byID)
	slices.Sort(cs.Deleted)
	return cs
}

// Reset discards every buffered change.
func (o *Overlay) Reset() {
	*o = *NewOverlay(o.base)
}

func insertSorted(s []ir.GlyphID, id ir.GlyphID) []ir.GlyphID {
	i, found := slices.BinarySearch(s, id)
	if found {
		return s
	}
	return slices.Insert(s, i, id)
}

func removeSorted(s []ir.GlyphID, id ir.GlyphID) []ir.GlyphID {
	i, found := slices.BinarySearch(s, id)
	if !found {
		return s
	}
	return slices.Delete(s, i, i+1)
}
