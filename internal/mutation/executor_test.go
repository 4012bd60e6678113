package mutation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/glyph/internal/graph"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/schema"
	"github.com/roach88/glyph/internal/testutil"
)

type fixture struct {
	reg *schema.Registry
	g   *graph.Graph
	ov  *graph.Overlay
	ex  *Executor
}

func newFixture(t *testing.T, build func(b *testutil.GraphBuilder)) *fixture {
	t.Helper()
	reg := testutil.TaskRegistry(t)
	b := testutil.NewGraph(t, reg)
	if build != nil {
		build(b)
	}
	g := b.Build()
	ov := graph.NewOverlay(g)
	clock := testutil.NewStepClock(time.Second)
	return &fixture{reg: reg, g: g, ov: ov, ex: New(ov, reg, WithClock(clock.Now))}
}

func (f *fixture) typ(t *testing.T, name string) ir.TypeID {
	return testutil.TypeID(t, f.reg, name)
}

// ===== CREATE =====

func TestCreateNodeWithDefaults(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.ex.Create(f.typ(t, "Task"), nil, map[string]ir.Value{"title": ir.String("x")})
	require.NoError(t, err)
	assert.NotZero(t, id)

	g, ok := f.ov.Glyph(id)
	require.True(t, ok)
	assert.Equal(t, ir.String("x"), g.Attr("title"))
	assert.Equal(t, ir.Bool(false), g.Attr("done"), "static default")
	assert.Equal(t, ir.TimeOf(testutil.Epoch), g.Attr("created"), "now() default")
	assert.Equal(t, ir.Null{}, g.Attr("est"))

	_, visible := f.g.Glyph(id)
	assert.False(t, visible, "buffered until commit")

	require.Len(t, f.ex.Records(), 1)
	assert.Equal(t, ir.OpCreate, f.ex.Records()[0].Op)
	assert.True(t, f.ex.Touched()[f.typ(t, "Task")])
}

func TestCreateThenSetSameValueInTransaction(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.ex.Create(f.typ(t, "Task"), nil, map[string]ir.Value{"title": ir.String("x")})
	require.NoError(t, err)

	changed, err := f.ex.Set(id, "title", ir.String("x"))
	require.NoError(t, err)
	assert.False(t, changed)

	g, _ := f.ov.Glyph(id)
	assert.Equal(t, ir.String("x"), g.Attr("title"))
}

func TestCreateEdge(t *testing.T) {
	var task, person ir.GlyphID
	f := newFixture(t, func(b *testutil.GraphBuilder) {
		task = b.Node("Task", map[string]ir.Value{"title": ir.String("t")})
		person = b.Node("Person", map[string]ir.Value{"name": ir.String("p")})
	})
	id, err := f.ex.Create(f.typ(t, "assigned"), []ir.GlyphID{task, person}, nil)
	require.NoError(t, err)
	assert.Equal(t, []ir.GlyphID{id}, f.ov.Incoming(person))
	assert.Equal(t, []ir.GlyphID{task, person, id}, f.ex.Written(), "targets count as written")

	// Subtype edges satisfy the parent's signature.
	_, err = f.ex.Create(f.typ(t, "likes"), []ir.GlyphID{person, person}, nil)
	require.NoError(t, err)
}

func TestCreateErrors(t *testing.T) {
	var task, person, note ir.GlyphID
	f := newFixture(t, func(b *testutil.GraphBuilder) {
		task = b.Node("Task", map[string]ir.Value{"title": ir.String("t")})
		person = b.Node("Person", map[string]ir.Value{"name": ir.String("p")})
		note = b.Node("Note", map[string]ir.Value{"title": ir.String("n")})
	})

	tests := []struct {
		name    string
		typ     string
		targets []ir.GlyphID
		attrs   map[string]ir.Value
		kind    ir.ErrorKind
		want    string
	}{
		{"abstract", "Item", nil, map[string]ir.Value{"title": ir.String("x")}, ir.KindSchema, "abstract"},
		{"arity", "assigned", []ir.GlyphID{task}, nil, ir.KindSchema, "arity mismatch"},
		{"node with targets", "Task", []ir.GlyphID{task}, map[string]ir.Value{"title": ir.String("x")}, ir.KindSchema, "arity mismatch"},
		{"missing target", "assigned", []ir.GlyphID{task, 999}, nil, ir.KindSchema, "does not exist"},
		{"signature", "assigned", []ir.GlyphID{person, person}, nil, ir.KindSchema, "signature requires Task"},
		{"signature subtype of wrong parent", "tagged", []ir.GlyphID{person}, nil, ir.KindSchema, "signature requires Item"},
		{"undeclared attribute", "Task", nil, map[string]ir.Value{"title": ir.String("x"), "color": ir.String("red")}, ir.KindSchema, "undeclared attribute"},
		{"missing required", "Task", nil, nil, ir.KindValue, "missing required"},
		{"null required", "Task", nil, map[string]ir.Value{"title": ir.Null{}}, ir.KindValue, "missing required"},
		{"type mismatch", "Task", nil, map[string]ir.Value{"title": ir.Int(3)}, ir.KindValue, "type mismatch"},
		{"ref to wrong type", "Task", nil, map[string]ir.Value{"title": ir.String("x"), "owner": ir.Ref(note)}, ir.KindValue, "requires Person"},
		{"ref to missing glyph", "Task", nil, map[string]ir.Value{"title": ir.String("x"), "owner": ir.Ref(999)}, ir.KindValue, "missing glyph"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ex.Create(f.typ(t, tt.typ), tt.targets, tt.attrs)
			require.Error(t, err)
			assert.Equal(t, tt.kind, ir.KindOfError(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := f.ex.Create(0, nil, nil)
	assert.True(t, ir.IsSchemaError(err))
	_, err = f.ex.Create(1, nil, nil)
	assert.True(t, ir.IsSchemaError(err), "scalar descriptors are not instantiable")

	assert.Empty(t, f.ex.Records(), "failed statements leave no records")
	assert.True(t, f.ov.Changes().Empty())
}

func TestCreateEdgeToMissingGlyphHasNoSideEffects(t *testing.T) {
	var person ir.GlyphID
	f := newFixture(t, func(b *testutil.GraphBuilder) {
		person = b.Node("Person", map[string]ir.Value{"name": ir.String("p")})
	})
	_, err := f.ex.Create(f.typ(t, "knows"), []ir.GlyphID{person, 42}, nil)
	require.Error(t, err)
	assert.True(t, ir.IsSchemaError(err))

	var ie *ir.Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ir.GlyphID(42), ie.Glyph)

	assert.True(t, f.ov.Changes().Empty())
	assert.Empty(t, f.ov.Incoming(person))
	assert.Empty(t, f.ex.Touched())
}

func TestCreateWidensIntToFloat(t *testing.T) {
	reg, err := schema.NewBuilder().
		Node("Gauge", schema.AttrSpec{Name: "reading", Type: "float"}).
		Build()
	require.NoError(t, err)
	ov := graph.NewOverlay(graph.New())
	ex := New(ov, reg)

	gauge, _ := reg.Lookup("Gauge")
	id, err := ex.Create(gauge.ID, nil, map[string]ir.Value{"reading": ir.Int(3)})
	require.NoError(t, err)
	g, _ := ov.Glyph(id)
	assert.Equal(t, ir.Float(3), g.Attr("reading"))
}

func TestLookupType(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.ex.LookupType("Task")
	require.NoError(t, err)
	assert.Equal(t, f.typ(t, "Task"), id)

	_, err = f.ex.LookupType("Ghost")
	assert.True(t, ir.IsSchemaError(err))
	_, err = f.ex.LookupType("int")
	assert.True(t, ir.IsSchemaError(err))
}

// ===== DELETE =====

func TestDeleteCascadesThroughHigherOrderEdges(t *testing.T) {
	var a, c, knows, note, about, tag ir.GlyphID
	f := newFixture(t, func(b *testutil.GraphBuilder) {
		a = b.Node("Person", map[string]ir.Value{"name": ir.String("a")})
		c = b.Node("Person", map[string]ir.Value{"name": ir.String("c")})
		knows = b.Edge("knows", a, c)
		note = b.Node("Note", map[string]ir.Value{"title": ir.String("n")})
		about = b.Edge("about", knows, note)
		tag = b.Add("tagged", map[string]ir.Value{"label": ir.String("l")}, note)
	})

	n, err := f.ex.Delete(a)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "a, knows and the about edge on knows")

	for _, id := range []ir.GlyphID{a, knows, about} {
		_, ok := f.ov.Glyph(id)
		assert.False(t, ok, "glyph %d survives", id)
	}
	for _, id := range []ir.GlyphID{c, note, tag} {
		_, ok := f.ov.Glyph(id)
		assert.True(t, ok, "glyph %d was removed", id)
	}
	assert.Equal(t, []ir.GlyphID{tag}, f.ov.Incoming(note))

	var order []ir.GlyphID
	for _, m := range f.ex.Records() {
		assert.Equal(t, ir.OpDelete, m.Op)
		order = append(order, m.Glyph)
	}
	assert.Equal(t, []ir.GlyphID{about, knows, a}, order, "edges go before their targets")

	// The committed graph stays closed once the change set is applied.
	require.NoError(t, f.g.Apply(f.ov.Changes(), 2))
	assert.Equal(t, 3, f.g.Len())
}

func TestDeleteInsideTransactionCascadesOverBufferedEdges(t *testing.T) {
	var p ir.GlyphID
	f := newFixture(t, func(b *testutil.GraphBuilder) {
		p = b.Node("Person", map[string]ir.Value{"name": ir.String("p")})
	})
	q, err := f.ex.Create(f.typ(t, "Person"), nil, map[string]ir.Value{"name": ir.String("q")})
	require.NoError(t, err)
	e, err := f.ex.Create(f.typ(t, "follows"), []ir.GlyphID{p, q}, nil)
	require.NoError(t, err)

	n, err := f.ex.Delete(p)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, ok := f.ov.Glyph(e)
	assert.False(t, ok)

	cs := f.ov.Changes()
	assert.Equal(t, []ir.GlyphID{p}, cs.Deleted, "buffered edge vanishes without a trace")
	require.Len(t, cs.Created, 1)
	assert.Equal(t, q, cs.Created[0].ID)
	assert.Equal(t, 2, f.ex.Deleted())
}

func TestDeleteClearsReferencesToRemovedGlyphs(t *testing.T) {
	var p, q, owned, other ir.GlyphID
	f := newFixture(t, func(b *testutil.GraphBuilder) {
		p = b.Node("Person", map[string]ir.Value{"name": ir.String("p")})
		q = b.Node("Person", map[string]ir.Value{"name": ir.String("q")})
		owned = b.Node("Task", map[string]ir.Value{"title": ir.String("a"), "owner": ir.Ref(p)})
		other = b.Node("Task", map[string]ir.Value{"title": ir.String("b"), "owner": ir.Ref(q)})
	})

	n, err := f.ex.Delete(p)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	g, ok := f.ov.Glyph(owned)
	require.True(t, ok)
	assert.Equal(t, ir.Null{}, g.Attr("owner"))
	g, _ = f.ov.Glyph(other)
	assert.Equal(t, ir.Ref(q), g.Attr("owner"))

	recs := f.ex.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, ir.OpSet, recs[0].Op)
	assert.Equal(t, owned, recs[0].Glyph)
	assert.Equal(t, ir.Ref(p), recs[0].Old)
	assert.Equal(t, ir.OpDelete, recs[1].Op)
	assert.True(t, f.ex.Touched()[f.typ(t, "Task")])
}

func TestDeleteRefusesToClearRequiredReference(t *testing.T) {
	reg, err := testutil.TaskSchema().
		Node("Badge", schema.AttrSpec{Name: "holder", Type: "Person", Required: true}).
		Build()
	require.NoError(t, err)
	b := testutil.NewGraph(t, reg)
	p := b.Node("Person", map[string]ir.Value{"name": ir.String("p")})
	badge := b.Node("Badge", map[string]ir.Value{"holder": ir.Ref(p)})
	ov := graph.NewOverlay(b.Build())
	ex := New(ov, reg)

	_, err = ex.Delete(p)
	require.Error(t, err)
	assert.True(t, ir.IsValueError(err))
	var ie *ir.Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, badge, ie.Glyph)
	assert.Equal(t, "holder", ie.Attr)

	_, ok := ov.Glyph(p)
	assert.True(t, ok, "nothing buffered")
	assert.Empty(t, ex.Records())
}

func TestDeleteMissing(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.ex.Delete(7)
	assert.True(t, ir.IsNotFoundError(err))
	assert.True(t, ir.IsStatementError(err))
}

// ===== SET =====

func TestSetIsIdempotent(t *testing.T) {
	var task ir.GlyphID
	f := newFixture(t, func(b *testutil.GraphBuilder) {
		task = b.Node("Task", map[string]ir.Value{"title": ir.String("t"), "est": ir.Int(1)})
	})
	f.ex.TakeTouched()

	changed, err := f.ex.Set(task, "est", ir.Int(5))
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = f.ex.Set(task, "est", ir.Int(5))
	require.NoError(t, err)
	assert.False(t, changed)

	require.Len(t, f.ex.Records(), 1)
	rec := f.ex.Records()[0]
	assert.Equal(t, ir.OpSet, rec.Op)
	assert.Equal(t, ir.Int(1), rec.Old)
	assert.Equal(t, ir.Int(5), rec.New)

	assert.Len(t, f.ex.TakeTouched(), 1)
	_, err = f.ex.Set(task, "est", ir.Int(5))
	require.NoError(t, err)
	assert.Empty(t, f.ex.TakeTouched(), "no-op set touches nothing")

	base, _ := f.g.Glyph(task)
	assert.Equal(t, ir.Int(1), base.Attr("est"), "committed glyph untouched")
}

func TestSetNullClearsOptional(t *testing.T) {
	var task ir.GlyphID
	f := newFixture(t, func(b *testutil.GraphBuilder) {
		task = b.Node("Task", map[string]ir.Value{"title": ir.String("t"), "est": ir.Int(1)})
	})
	changed, err := f.ex.Set(task, "est", ir.Null{})
	require.NoError(t, err)
	assert.True(t, changed)
	g, _ := f.ov.Glyph(task)
	_, present := g.Attrs["est"]
	assert.False(t, present)

	changed, err = f.ex.Set(task, "est", nil)
	require.NoError(t, err)
	assert.False(t, changed, "already null")
}

func TestSetErrors(t *testing.T) {
	var task, person ir.GlyphID
	f := newFixture(t, func(b *testutil.GraphBuilder) {
		task = b.Node("Task", map[string]ir.Value{"title": ir.String("t")})
		person = b.Node("Person", map[string]ir.Value{"name": ir.String("p")})
	})

	_, err := f.ex.Set(999, "title", ir.String("x"))
	assert.True(t, ir.IsNotFoundError(err))

	_, err = f.ex.Set(task, "color", ir.String("x"))
	assert.True(t, ir.IsSchemaError(err))

	_, err = f.ex.Set(task, "est", ir.String("many"))
	assert.True(t, ir.IsValueError(err))
	var ie *ir.Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, task, ie.Glyph)
	assert.Equal(t, "est", ie.Attr)

	_, err = f.ex.Set(task, "title", ir.Null{})
	assert.True(t, ir.IsValueError(err))

	_, err = f.ex.Set(task, "owner", ir.Ref(task))
	assert.True(t, ir.IsValueError(err))

	changed, err := f.ex.Set(task, "owner", ir.Ref(person))
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestCauseIsRecorded(t *testing.T) {
	f := newFixture(t, nil)
	f.ex.SetCause("auto-assign")
	_, err := f.ex.Create(f.typ(t, "Person"), nil, map[string]ir.Value{"name": ir.String("bot")})
	require.NoError(t, err)
	f.ex.SetCause("")
	_, err = f.ex.Create(f.typ(t, "Person"), nil, map[string]ir.Value{"name": ir.String("human")})
	require.NoError(t, err)

	recs := f.ex.Records()
	assert.Equal(t, "auto-assign", recs[0].Cause)
	assert.Equal(t, "", recs[1].Cause)

	f.ex.Reset()
	assert.Empty(t, f.ex.Records())
	assert.Empty(t, f.ex.Touched())
}

// ===== Uniqueness =====

func TestCheckUnique(t *testing.T) {
	var alice ir.GlyphID
	f := newFixture(t, func(b *testutil.GraphBuilder) {
		alice = b.Node("Person", map[string]ir.Value{"name": ir.String("alice")})
	})
	bob, err := f.ex.Create(f.typ(t, "Person"), nil, map[string]ir.Value{"name": ir.String("alice")})
	require.NoError(t, err)

	err = f.ex.CheckUnique()
	require.Error(t, err)
	assert.True(t, ir.IsValueError(err))
	var ie *ir.Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, bob, ie.Glyph)
	assert.Equal(t, "name", ie.Attr)

	// Swapping values inside the transaction is fine once settled.
	_, err = f.ex.Set(alice, "name", ir.String("bob"))
	require.NoError(t, err)
	assert.NoError(t, f.ex.CheckUnique())
}
