package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/glyph/internal/ir"
)

// fakeEnv binds slot i to slots[i] and serves glyphs from a map. Every
// aggregate iterates over subs, binding the sub-env's slot 0.
type fakeEnv struct {
	slots  []ir.GlyphID
	glyphs map[ir.GlyphID]*ir.Glyph
	subs   []ir.GlyphID
}

func (e *fakeEnv) Slot(i int) ir.GlyphID {
	if i < len(e.slots) {
		return e.slots[i]
	}
	return 0
}

func (e *fakeEnv) Glyph(id ir.GlyphID) (*ir.Glyph, bool) {
	g, ok := e.glyphs[id]
	return g, ok
}

func (e *fakeEnv) TypeName(id ir.TypeID) string {
	return map[ir.TypeID]string{1: "Task", 2: "dep"}[id]
}

func (e *fakeEnv) Now() ir.Time { return ir.Time(1000) }

func (e *fakeEnv) Each(a *Agg, fn func(Env) bool) {
	for _, id := range e.subs {
		if !fn(&fakeEnv{slots: []ir.GlyphID{id}, glyphs: e.glyphs}) {
			return
		}
	}
}

func newEnv() *fakeEnv {
	return &fakeEnv{
		slots: []ir.GlyphID{1, 2, 3},
		glyphs: map[ir.GlyphID]*ir.Glyph{
			1: {ID: 1, Type: 1, Attrs: map[string]ir.Value{"title": ir.String("Write"), "est": ir.Int(3)}},
			2: {ID: 2, Type: 1, Attrs: map[string]ir.Value{"title": ir.String("Test"), "est": ir.Float(1.5)}},
			3: {ID: 3, Type: 2, Targets: []ir.GlyphID{1, 2}},
		},
	}
}

func slotsOf(names ...string) SlotFunc {
	return func(name string) (int, bool) {
		for i, n := range names {
			if n == name {
				return i, true
			}
		}
		return 0, false
	}
}

// aggAtSlot0 resolves aggregates so that Of sees the sub-match in slot 0.
func aggAtSlot0(a *Agg) (*Agg, error) {
	out := &Agg{Fn: a.Fn}
	if a.Of != nil {
		of, err := Resolve(a.Of, slotsOf("x"), nil)
		if err != nil {
			return nil, err
		}
		out.Of = of
	}
	return out, nil
}

func eval(t *testing.T, n Node, env *fakeEnv) ir.Value {
	t.Helper()
	r, err := Resolve(n, slotsOf("a", "b", "e"), aggAtSlot0)
	require.NoError(t, err)
	return Eval(r, env)
}

func TestEvalBasics(t *testing.T) {
	env := newEnv()
	tests := []struct {
		name string
		n    Node
		want ir.Value
	}{
		{"literal", I(4), ir.Int(4)},
		{"var is ref", V("a"), ir.Ref(1)},
		{"attr", A("a", "title"), ir.String("Write")},
		{"missing attr is null", A("a", "nope"), ir.Null{}},
		{"int add", Op("+", I(2), I(3)), ir.Int(5)},
		{"int div truncates", Op("/", I(7), I(2)), ir.Int(3)},
		{"mixed arith widens", Op("+", A("a", "est"), A("b", "est")), ir.Float(4.5)},
		{"string concat", Op("+", S("a"), S("b")), ir.String("ab")},
		{"compare", Op("<", A("b", "est"), A("a", "est")), ir.Bool(true)},
		{"equality across numeric kinds", Eq(I(1), L(ir.Float(1))), ir.Bool(true)},
		{"equality across kinds", Eq(S("1"), I(1)), ir.Bool(false)},
		{"var identity", Op("!=", V("a"), V("b")), ir.Bool(true)},
		{"logic", Op("and", Eq(I(1), I(1)), Not(Eq(I(1), I(2)))), ir.Bool(true)},
		{"negate", &Unary{Op: "-", X: I(3)}, ir.Int(-3)},
		{"time minus int", Op("-", Fn("now"), I(10)), ir.Time(990)},
		{"time minus time", Op("-", Fn("now"), L(ir.Time(400))), ir.Int(600)},
		{"time plus string", Op("+", Fn("now"), S("x")), ir.Null{}},
		{"float mod", Op("%", L(ir.Float(5.5)), I(2)), ir.Float(1.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, tt.n, env))
		})
	}
}

func TestEvalNullPropagates(t *testing.T) {
	env := newEnv()
	null := L(ir.Null{})
	for _, n := range []Node{
		Op("+", null, I(1)),
		Op("==", null, null),
		Op("and", null, Eq(I(1), I(1))),
		Op("<", I(1), A("a", "nope")),
		Not(null),
		Fn("lower", null),
		Fn("target", V("e"), null),
	} {
		assert.True(t, ir.IsNull(eval(t, n, env)), "%#v", n)
	}
}

func TestEvalTotalOnBadInput(t *testing.T) {
	env := newEnv()
	for _, n := range []Node{
		Op("/", I(1), I(0)),
		Op("%", I(1), I(0)),
		Op("/", L(ir.Float(1)), I(0)),
		Op("-", S("a"), S("b")),
		Op("<", S("a"), I(1)),
		Op("and", I(1), I(1)),
		Not(I(1)),
		Fn("abs", S("x")),
		Fn("target", V("e"), I(9)),
		Fn("type", I(1)),
	} {
		assert.True(t, ir.IsNull(eval(t, n, env)), "%#v", n)
	}
}

func TestEvalBuiltins(t *testing.T) {
	env := newEnv()
	assert.Equal(t, ir.Time(1000), eval(t, Fn("now"), env))
	assert.Equal(t, ir.Int(3), eval(t, Fn("id", V("e")), env))
	assert.Equal(t, ir.String("dep"), eval(t, Fn("type", V("e")), env))
	assert.Equal(t, ir.Int(2), eval(t, Fn("arity", V("e")), env))
	assert.Equal(t, ir.Ref(2), eval(t, Fn("target", V("e"), I(1)), env))
	assert.Equal(t, ir.String("x"), eval(t, Fn("coalesce", A("a", "nope"), S("x")), env))
	assert.Equal(t, ir.Bool(true), eval(t, Fn("is_null", A("a", "nope")), env))
	assert.Equal(t, ir.Int(4), eval(t, Fn("abs", I(-4)), env))
	assert.Equal(t, ir.String("write"), eval(t, Fn("lower", A("a", "title")), env))
	assert.Equal(t, ir.String("TEST"), eval(t, Fn("upper", A("b", "title")), env))
	assert.Equal(t, ir.Int(5), eval(t, Fn("len", A("a", "title")), env))
}

func TestEvalAggregates(t *testing.T) {
	env := newEnv()
	env.subs = []ir.GlyphID{1, 2, 3}

	assert.Equal(t, ir.Int(3), eval(t, Aggregate("count", nil, nil), env))
	assert.Equal(t, ir.Int(2), eval(t, Aggregate("count", nil, A("x", "est")), env), "count skips nulls")
	assert.Equal(t, ir.Float(4.5), eval(t, Aggregate("sum", nil, A("x", "est")), env))
	assert.Equal(t, ir.Float(2.25), eval(t, Aggregate("avg", nil, A("x", "est")), env))
	assert.Equal(t, ir.Float(1.5), eval(t, Aggregate("min", nil, A("x", "est")), env))
	assert.Equal(t, ir.Int(3), eval(t, Aggregate("max", nil, A("x", "est")), env))
	assert.Equal(t, ir.List{ir.String("Write"), ir.String("Test")}, eval(t, Aggregate("collect", nil, A("x", "title")), env))
	assert.Equal(t, ir.Null{}, eval(t, Aggregate("sum", nil, A("x", "title")), env), "sum of strings")

	env.subs = nil
	assert.Equal(t, ir.Int(0), eval(t, Aggregate("count", nil, nil), env))
	assert.Equal(t, ir.Int(0), eval(t, Aggregate("sum", nil, A("x", "est")), env))
	assert.Equal(t, ir.Null{}, eval(t, Aggregate("avg", nil, A("x", "est")), env))
	assert.Equal(t, ir.Null{}, eval(t, Aggregate("max", nil, A("x", "est")), env))
	assert.Equal(t, ir.List{}, eval(t, Aggregate("collect", nil, A("x", "est")), env))
}

func TestTruthy(t *testing.T) {
	assert.True(t, Truthy(ir.Bool(true)))
	assert.False(t, Truthy(ir.Bool(false)))
	assert.False(t, Truthy(ir.Null{}))
	assert.False(t, Truthy(ir.Int(1)))
}
