package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/glyph/internal/ir"
)

func TestResolveAssignsSlots(t *testing.T) {
	n, err := Resolve(Op("==", A("b", "x"), V("a")), slotsOf("a", "b"), nil)
	require.NoError(t, err)

	bin := n.(*Binary)
	assert.Equal(t, 1, bin.L.(*Attr).Slot)
	assert.Equal(t, 0, bin.R.(*Var).Slot)
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	in := &Var{Name: "b"}
	_, err := Resolve(in, slotsOf("a", "b"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, in.Slot)
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		n    Node
		want string
	}{
		{"undeclared var", V("zz"), "undeclared variable"},
		{"undeclared attr var", A("zz", "x"), "undeclared variable"},
		{"unknown op", Op("**", I(1), I(2)), "unknown operator"},
		{"unknown unary", &Unary{Op: "~", X: I(1)}, "unknown unary"},
		{"unknown fn", Fn("explode"), "unknown function"},
		{"wrong arity", Fn("target", V("a")), "wrong number"},
		{"unknown aggregate", Aggregate("median", nil, I(1)), "unknown aggregate"},
		{"sum needs expression", Aggregate("sum", nil, nil), "requires an expression"},
		{"aggregates disallowed", Aggregate("count", nil, nil), "not allowed"},
		{"nil", nil, "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.n, slotsOf("a"), nil)
			require.Error(t, err)
			assert.True(t, ir.IsSchemaError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFreeVars(t *testing.T) {
	n := Op("and",
		Op(">", A("t", "est"), Aggregate("sum", nil, A("s", "est"))),
		Op("!=", V("u"), V("t")))
	assert.Equal(t, []string{"t", "u"}, FreeVars(n), "aggregate internals excluded")
	assert.True(t, HasAggregate(n))
	assert.False(t, HasAggregate(Eq(V("a"), V("b"))))
	assert.True(t, UsesNow(Op("<", A("t", "due"), Fn("now"))))
	assert.False(t, UsesNow(I(1)))
}
