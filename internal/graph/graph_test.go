package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/glyph/internal/ir"
)

const (
	typeNode ir.TypeID = 10
	typeEdge ir.TypeID = 11
)

func node(id ir.GlyphID) *ir.Glyph {
	return &ir.Glyph{ID: id, Type: typeNode, Attrs: map[string]ir.Value{"n": ir.Int(id)}}
}

func edge(id ir.GlyphID, targets ...ir.GlyphID) *ir.Glyph {
	return &ir.Glyph{ID: id, Type: typeEdge, Targets: targets}
}

// seeded returns 1 -> 2 (edge 3) and an edge 4 about edge 3 and node 1.
func seeded(t *testing.T) *Graph {
	t.Helper()
	g, err := Load([]*ir.Glyph{node(1), node(2), edge(3, 1, 2), edge(4, 3, 1)}, 7)
	require.NoError(t, err)
	return g
}

// ===== Graph =====

func TestLoadBuildsIndexes(t *testing.T) {
	g := seeded(t)

	assert.Equal(t, []ir.GlyphID{1, 2}, g.ByType(typeNode))
	assert.Equal(t, []ir.GlyphID{3, 4}, g.ByType(typeEdge))
	assert.Equal(t, []ir.GlyphID{3, 4}, g.Incoming(1))
	assert.Equal(t, []ir.GlyphID{3}, g.Incoming(2))
	assert.Equal(t, []ir.GlyphID{4}, g.Incoming(3))
	assert.Empty(t, g.Incoming(4))
	assert.Equal(t, uint64(7), g.Seq())
	assert.Equal(t, 4, g.Len())
	assert.Equal(t, ir.GlyphID(5), g.AllocID(), "ids continue after the highest loaded id")
	assert.Equal(t, ir.GlyphID(6), g.AllocID())
}

func TestReserveRaisesAllocator(t *testing.T) {
	g := seeded(t)
	assert.Equal(t, ir.GlyphID(5), g.NextID())

	g.Reserve(9)
	assert.Equal(t, ir.GlyphID(9), g.NextID())
	g.Reserve(2)
	assert.Equal(t, ir.GlyphID(9), g.NextID(), "a lower mark is ignored")
	assert.Equal(t, ir.GlyphID(9), g.AllocID())
	assert.Equal(t, ir.GlyphID(10), g.NextID())
}

func TestLoadRejectsDanglingTarget(t *testing.T) {
	_, err := Load([]*ir.Glyph{node(1), edge(2, 1, 9)}, 0)
	require.Error(t, err)
	assert.Equal(t, ir.KindInternal, ir.KindOfError(err))
}

func TestLoadRejectsDuplicates(t *testing.T) {
	_, err := Load([]*ir.Glyph{node(1), node(1)}, 0)
	require.Error(t, err)
}

func TestIncomingDeduplicatesSelfLoops(t *testing.T) {
	g, err := Load([]*ir.Glyph{node(1), edge(2, 1, 1)}, 0)
	require.NoError(t, err)
	assert.Equal(t, []ir.GlyphID{2}, g.Incoming(1))
}

func TestApplyPublishesChanges(t *testing.T) {
	g := seeded(t)
	o := NewOverlay(g)

	o.Create(node(10))
	o.Create(edge(11, 2, 10))
	o.SetAttr(1, "n", ir.Int(100))
	o.Delete(4)

	cs := o.Changes()
	require.NoError(t, g.Validate(cs))
	require.NoError(t, g.Apply(cs, 8))

	got, ok := g.Glyph(1)
	require.True(t, ok)
	assert.Equal(t, ir.Int(100), got.Attr("n"))
	_, ok = g.Glyph(4)
	assert.False(t, ok)

	assert.Equal(t, []ir.GlyphID{1, 2, 10}, g.ByType(typeNode))
	assert.Equal(t, []ir.GlyphID{3, 11}, g.ByType(typeEdge))
	assert.Equal(t, []ir.GlyphID{3}, g.Incoming(1))
	assert.Equal(t, []ir.GlyphID{3, 11}, g.Incoming(2))
	assert.Empty(t, g.Incoming(3))

	v, _ := g.Version(2)
	assert.Equal(t, uint64(8), v, "new incoming edge bumps the target version")
	v, _ = g.Version(3)
	assert.Equal(t, uint64(7), v)
	assert.Equal(t, uint64(8), g.Seq())
}

func TestApplyRefusesDanglingDelete(t *testing.T) {
	g := seeded(t)
	cs := &ChangeSet{Deleted: []ir.GlyphID{2}}
	err := g.Apply(cs, 8)
	require.Error(t, err)
	assert.Equal(t, ir.KindInternal, ir.KindOfError(err))

	_, ok := g.Glyph(2)
	assert.True(t, ok, "nothing applied")
}

func TestApplyRefusesEdgeToMissingTarget(t *testing.T) {
	g := seeded(t)
	cs := &ChangeSet{Created: []*ir.Glyph{edge(20, 1, 99)}}
	require.Error(t, g.Apply(cs, 8))
}

func TestValidateDetectsConcurrentChanges(t *testing.T) {
	g := seeded(t)

	a := NewOverlay(g)
	b := NewOverlay(g)
	a.SetAttr(2, "n", ir.Int(1))
	b.Create(edge(20, 2, 1))

	csB := b.Changes()
	require.NoError(t, g.Validate(csB))
	require.NoError(t, g.Apply(csB, 8))

	err := g.Validate(a.Changes())
	require.Error(t, err)
	assert.True(t, ir.IsConflictError(err))
	assert.Contains(t, err.Error(), "glyph=2")
}

func TestValidateDetectsConcurrentDelete(t *testing.T) {
	g := seeded(t)

	a := NewOverlay(g)
	a.Create(edge(20, 4, 4))

	require.NoError(t, g.Apply(&ChangeSet{Deleted: []ir.GlyphID{4}}, 8))

	err := g.Validate(a.Changes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deleted")
}

// ===== Overlay =====

func TestOverlayVisibility(t *testing.T) {
	g := seeded(t)
	o := NewOverlay(g)

	o.Create(node(5))
	o.SetAttr(2, "n", ir.String("changed"))
	o.Delete(4)

	assert.Equal(t, []ir.GlyphID{1, 2, 5}, o.ByType(typeNode))
	assert.Equal(t, []ir.GlyphID{3}, o.ByType(typeEdge))
	assert.Equal(t, []ir.GlyphID{3}, o.Incoming(1))

	got, ok := o.Glyph(2)
	require.True(t, ok)
	assert.Equal(t, ir.String("changed"), got.Attr("n"))

	base, _ := g.Glyph(2)
	assert.Equal(t, ir.Int(2), base.Attr("n"), "committed state untouched")
	assert.Equal(t, []ir.GlyphID{1, 2}, g.ByType(typeNode))

	_, ok = o.Glyph(4)
	assert.False(t, ok)
	assert.True(t, o.IsCreated(5))
	assert.False(t, o.IsCreated(1))
}

func TestOverlayCreateThenDelete(t *testing.T) {
	g := seeded(t)
	o := NewOverlay(g)

	o.Create(node(5))
	o.Create(edge(6, 5, 1))
	o.Delete(6)
	o.Delete(5)

	assert.Equal(t, []ir.GlyphID{3, 4}, o.Incoming(1))
	assert.True(t, o.Changes().Empty())
}

func TestOverlaySetNullRemovesAttr(t *testing.T) {
	o := NewOverlay(seeded(t))
	o.SetAttr(1, "n", ir.Null{})
	got, _ := o.Glyph(1)
	_, present := got.Attrs["n"]
	assert.False(t, present)
}

func TestOverlayMergeKeepsOrderAcrossInterleavedIDs(t *testing.T) {
	g := seeded(t)
	o := NewOverlay(g)
	o.Create(node(6))
	require.NoError(t, g.Apply(&ChangeSet{Created: []*ir.Glyph{node(5), node(9)}}, 8))
	assert.Equal(t, []ir.GlyphID{1, 2, 5, 6, 9}, o.ByType(typeNode))
}

func TestOverlayResetAndChanges(t *testing.T) {
	g := seeded(t)
	o := NewOverlay(g)
	o.Create(node(7))
	o.Create(node(5))
	o.SetAttr(2, "x", ir.Int(1))
	o.SetAttr(1, "x", ir.Int(1))
	o.Delete(4)

	cs := o.Changes()
	require.Len(t, cs.Created, 2)
	assert.Equal(t, ir.GlyphID(5), cs.Created[0].ID)
	assert.Equal(t, []ir.GlyphID{4}, cs.Deleted)
	assert.Equal(t, ir.GlyphID(1), cs.Modified[0].ID)
	assert.Contains(t, cs.Reads, ir.GlyphID(1))
	assert.Contains(t, cs.Reads, ir.GlyphID(4))

	o.Reset()
	assert.True(t, o.Changes().Empty())
	assert.Same(t, g, o.Base())
}
