package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/glyph/internal/ir"
)

func TestStepClock(t *testing.T) {
	c := NewStepClock(time.Second)
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(time.Second), c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, Epoch.Add(time.Minute+2*time.Second), c.Now())

	c.Reset()
	assert.Equal(t, Epoch, c.Now())

	frozen := NewStepClock(0)
	assert.Equal(t, frozen.Now(), frozen.Now())
}

func TestSeqIDs(t *testing.T) {
	g := NewSeqIDs("")
	assert.Equal(t, "tx-1", g.Generate())
	assert.Equal(t, "tx-2", g.Generate())
	assert.Equal(t, "run-1", NewSeqIDs("run").Generate())
}

func TestTaskRegistryAndGraphBuilder(t *testing.T) {
	reg := TaskRegistry(t)
	b := NewGraph(t, reg)
	chain := b.Chain(3)
	task := b.Node("Task", map[string]ir.Value{"title": ir.String("x")})
	b.Edge("assigned", task, chain[0])
	g := b.Build()

	assert.Equal(t, []ir.GlyphID{1, 2, 4}, chain)
	assert.Equal(t, 7, g.Len())
	assert.Equal(t, []ir.GlyphID{3, 7}, g.Incoming(1))
	assert.Equal(t, []ir.GlyphID{task}, g.ByType(TypeID(t, reg, "Task")))

	likes, _ := reg.Lookup("likes")
	require.Equal(t, 2, likes.Arity)
}
