// Package testutil provides fabricated registries, graph builders and
// deterministic clocks for tests.
package testutil

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/glyph/internal/graph"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/schema"
)

// TaskSchema declares a small project-tracking schema used across tests:
//
//	Item (abstract) { title: string, required }
//	Task  : Item    { est: int, done: bool = false, created: time = now() }
//	Note  : Item
//	Person          { name: string, required, unique; age: int }
//	assigned(Task, Person)      depends(Task, Task)
//	follows(Person, Person)     knows(Person, Person) { since: int }
//	likes : knows               about(any, Note)
//	tagged(Item) { label: string }
func TaskSchema() *schema.Builder {
	return schema.NewBuilder().
		Add(schema.TypeSpec{Name: "Item", Abstract: true, Attrs: []schema.AttrSpec{
			{Name: "title", Type: "string", Required: true},
		}}).
		Add(schema.TypeSpec{Name: "Task", Parent: "Item", Attrs: []schema.AttrSpec{
			{Name: "est", Type: "int"},
			{Name: "done", Type: "bool", Default: ir.Bool(false)},
			{Name: "created", Type: "time", DefaultNow: true},
			{Name: "owner", Type: "Person"},
		}}).
		Add(schema.TypeSpec{Name: "Note", Parent: "Item"}).
		Node("Person",
			schema.AttrSpec{Name: "name", Type: "string", Required: true, Unique: true},
			schema.AttrSpec{Name: "age", Type: "int"}).
		Edge("assigned", []string{"Task", "Person"}).
		Edge("depends", []string{"Task", "Task"}).
		Edge("follows", []string{"Person", "Person"}).
		Edge("knows", []string{"Person", "Person"}, schema.AttrSpec{Name: "since", Type: "int"}).
		Add(schema.TypeSpec{Name: "likes", Parent: "knows"}).
		Edge("about", []string{"any", "Note"}).
		Edge("tagged", []string{"Item"}, schema.AttrSpec{Name: "label", Type: "string"})
}

// TaskRegistry builds TaskSchema.
func TaskRegistry(t testing.TB) *schema.Registry {
	t.Helper()
	r, err := TaskSchema().Build()
	require.NoError(t, err)
	return r
}

// TypeID looks up a type that must exist.
func TypeID(t testing.TB, r *schema.Registry, name string) ir.TypeID {
	t.Helper()
	typ, ok := r.Lookup(name)
	require.True(t, ok, "type %s", name)
	return typ.ID
}

// GraphBuilder assembles committed graphs for matcher and engine tests.
// IDs are assigned sequentially from 1 in call order.
type GraphBuilder struct {
	t      testing.TB
	reg    *schema.Registry
	glyphs []*ir.Glyph
}

// NewGraph starts a builder over reg.
func NewGraph(t testing.TB, reg *schema.Registry) *GraphBuilder {
	return &GraphBuilder{t: t, reg: reg}
}

// Add appends a glyph of the named type and returns its id.
func (b *GraphBuilder) Add(typeName string, attrs map[string]ir.Value, targets ...ir.GlyphID) ir.GlyphID {
	b.t.Helper()
	id := ir.GlyphID(len(b.glyphs) + 1)
	if attrs == nil {
		attrs = map[string]ir.Value{}
	}
	b.glyphs = append(b.glyphs, &ir.Glyph{
		ID:      id,
		Type:    TypeID(b.t, b.reg, typeName),
		Targets: targets,
		Attrs:   attrs,
	})
	return id
}

// Node appends an arity-0 glyph.
func (b *GraphBuilder) Node(typeName string, attrs map[string]ir.Value) ir.GlyphID {
	b.t.Helper()
	return b.Add(typeName, attrs)
}

// Edge appends an edge glyph without attributes.
func (b *GraphBuilder) Edge(typeName string, targets ...ir.GlyphID) ir.GlyphID {
	b.t.Helper()
	return b.Add(typeName, nil, targets...)
}

// Build loads the glyphs into a committed graph.
func (b *GraphBuilder) Build() *graph.Graph {
	b.t.Helper()
	g, err := graph.Load(b.glyphs, 1)
	require.NoError(b.t, err)
	return g
}

// Chain adds n Person nodes linked by follows edges p1 -> p2 -> ... and
// returns the node ids in order.
func (b *GraphBuilder) Chain(n int) []ir.GlyphID {
	b.t.Helper()
	ids := make([]ir.GlyphID, n)
	for i := range ids {
		ids[i] = b.Node("Person", map[string]ir.Value{"name": ir.String("p" + strconv.Itoa(i+1))})
		if i > 0 {
			b.Edge("follows", ids[i-1], ids[i])
		}
	}
	return ids
}
