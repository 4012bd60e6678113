package ontology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/glyph/internal/expr"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/pattern"
	"github.com/roach88/glyph/internal/testutil"
)

func assignRule() Rule {
	return Rule{
		Name:    "auto-note",
		Pattern: pattern.New().Edge("assigned", "t", "p"),
		Productions: []Production{
			{Op: ir.OpCreate, Type: "Note", Attrs: map[string]expr.Node{"title": expr.A("t", "title")}, As: "n"},
			{Op: ir.OpCreate, Type: "about", Targets: []expr.Node{expr.V("t"), expr.V("n")}},
			{Op: ir.OpSet, Target: expr.V("p"), Attr: "age", Value: expr.I(30)},
		},
	}
}

func TestCompileRule(t *testing.T) {
	reg := testutil.TaskRegistry(t)
	o, err := Compile(reg, []Rule{assignRule()}, nil)
	require.NoError(t, err)

	r, ok := o.Rule("auto-note")
	require.True(t, ok)
	assert.Equal(t, "auto-note", r.ID())
	assert.Equal(t, 1, r.Extra)
	require.Len(t, r.Productions, 3)
	assert.Equal(t, 2, r.Productions[0].As, "first slot after t and p")
	assert.Equal(t, 2, r.Productions[1].Targets[1].(*expr.Var).Slot)
	assert.Equal(t, -1, r.Productions[1].As)

	writes, anyType := r.Writes()
	assert.False(t, anyType)
	assert.ElementsMatch(t, []ir.TypeID{
		testutil.TypeID(t, reg, "Note"),
		testutil.TypeID(t, reg, "about"),
		testutil.TypeID(t, reg, "Person"),
	}, writes)
}

func TestCompileRuleErrors(t *testing.T) {
	reg := testutil.TaskRegistry(t)
	base := pattern.New().Node("t", "Task")
	tests := []struct {
		name string
		rule Rule
		want string
	}{
		{"unnamed", Rule{Pattern: base}, "has no name"},
		{"bad pattern", Rule{Name: "r", Pattern: pattern.New().Node("t", "Ghost")}, "unknown type"},
		{"unknown create type", Rule{Name: "r", Pattern: base, Productions: []Production{{Op: ir.OpCreate, Type: "Ghost"}}}, "unknown type"},
		{"abstract create", Rule{Name: "r", Pattern: base, Productions: []Production{{Op: ir.OpCreate, Type: "Item"}}}, "abstract"},
		{"arity", Rule{Name: "r", Pattern: base, Productions: []Production{{Op: ir.OpCreate, Type: "depends", Targets: []expr.Node{expr.V("t")}}}}, "arity mismatch"},
		{"undeclared attr", Rule{Name: "r", Pattern: base, Productions: []Production{{Op: ir.OpCreate, Type: "Note", Attrs: map[string]expr.Node{"color": expr.S("x")}}}}, "undeclared attribute"},
		{"undeclared variable", Rule{Name: "r", Pattern: base, Productions: []Production{{Op: ir.OpDelete, Target: expr.V("q")}}}, "undeclared variable"},
		{"forward reference", Rule{Name: "r", Pattern: base, Productions: []Production{
			{Op: ir.OpCreate, Type: "depends", Targets: []expr.Node{expr.V("t"), expr.V("n")}},
			{Op: ir.OpCreate, Type: "Task", Attrs: map[string]expr.Node{"title": expr.S("x")}, As: "n"},
		}}, "undeclared variable"},
		{"name clash", Rule{Name: "r", Pattern: base, Productions: []Production{{Op: ir.OpCreate, Type: "Note", As: "t"}}}, "already bound"},
		{"set without value", Rule{Name: "r", Pattern: base, Productions: []Production{{Op: ir.OpSet, Target: expr.V("t"), Attr: "est"}}}, "needs an attribute"},
		{"delete without target", Rule{Name: "r", Pattern: base, Productions: []Production{{Op: ir.OpDelete}}}, "needs a target"},
		{"named delete", Rule{Name: "r", Pattern: base, Productions: []Production{{Op: ir.OpDelete, Target: expr.V("t"), As: "x"}}}, "only create"},
		{"unknown op", Rule{Name: "r", Pattern: base, Productions: []Production{{}}}, "unknown production op"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(reg, []Rule{tt.rule}, nil)
			require.Error(t, err)
			assert.True(t, ir.IsSchemaError(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
			if tt.rule.Name != "" {
				var ie *ir.Error
				require.ErrorAs(t, err, &ie)
				assert.Equal(t, "r", ie.Rule)
			}
		})
	}

	_, err := Compile(reg, []Rule{{Name: "dup", Pattern: base}, {Name: "dup", Pattern: base}}, nil)
	assert.Contains(t, err.Error(), "duplicate rule")
}

func TestRuleOrderAndIndex(t *testing.T) {
	reg := testutil.TaskRegistry(t)
	rules := []Rule{
		{Name: "b-low", Pattern: pattern.New().Node("t", "Task")},
		{Name: "z-high", Pattern: pattern.New().Node("p", "Person"), Priority: 10},
		{Name: "a-low", Pattern: pattern.New().Node("t", "Task")},
		{Name: "manual", Pattern: pattern.New().Node("t", "Task"), Manual: true, Priority: 99},
	}
	o, err := Compile(reg, rules, nil)
	require.NoError(t, err)

	var names []string
	for _, r := range o.Rules {
		names = append(names, r.ID())
	}
	assert.Equal(t, []string{"manual", "z-high", "a-low", "b-low"}, names)

	task := testutil.TypeID(t, reg, "Task")
	woken := o.RulesFor(map[ir.TypeID]bool{task: true})
	require.Len(t, woken, 2, "manual rules are never woken")
	assert.Equal(t, "a-low", woken[0].ID())

	assert.Empty(t, o.RulesFor(map[ir.TypeID]bool{testutil.TypeID(t, reg, "Note"): true}))
}

func TestCompileConstraints(t *testing.T) {
	reg := testutil.TaskRegistry(t)
	cons := []Constraint{
		{Name: "positive-est", Pattern: pattern.New().Node("t", "Task"), Check: expr.Op(">", expr.A("t", "est"), expr.I(0))},
		{Name: "task-has-owner", Pattern: pattern.New().Node("t", "Task"), Require: pattern.New().Edge("assigned", "t", "_")},
		{Name: "few-friends", Pattern: pattern.New().Node("p", "Person"), Require: pattern.New().Edge("knows", "p", "_"), Max: 3, Soft: true},
	}
	o, err := Compile(reg, nil, cons)
	require.NoError(t, err)
	require.Len(t, o.Constraints, 3)
	assert.Equal(t, "few-friends", o.Constraints[0].ID(), "sorted by name")

	pos := o.Constraints[1]
	assert.True(t, pos.Local())
	owner := o.Constraints[2]
	assert.False(t, owner.Local())
	lo, hi := owner.Bounds()
	assert.Equal(t, 1, lo)
	assert.Equal(t, 0, hi)
	lo, hi = o.Constraints[0].Bounds()
	assert.Equal(t, 0, lo)
	assert.Equal(t, 3, hi)

	assigned := testutil.TypeID(t, reg, "assigned")
	affected := o.ConstraintsFor(map[ir.TypeID]bool{assigned: true})
	require.Len(t, affected, 1)
	assert.Equal(t, "task-has-owner", affected[0].ID(), "required pattern types trigger")

	likes := testutil.TypeID(t, reg, "likes")
	affected = o.ConstraintsFor(map[ir.TypeID]bool{likes: true})
	require.Len(t, affected, 1)
	assert.Equal(t, "few-friends", affected[0].ID())
}

func TestCompileConstraintErrors(t *testing.T) {
	reg := testutil.TaskRegistry(t)
	tests := []struct {
		name string
		c    Constraint
		want string
	}{
		{"no body", Constraint{Name: "c", Pattern: pattern.New().Node("t", "Task")}, "needs a check"},
		{"bad check", Constraint{Name: "c", Pattern: pattern.New().Node("t", "Task"), Check: expr.A("q", "est")}, "undeclared variable"},
		{"bad bounds", Constraint{Name: "c", Pattern: pattern.New().Node("t", "Task"), Require: pattern.New().Edge("assigned", "t", "_"), Min: 3, Max: 1}, "cardinality"},
		{"bad require", Constraint{Name: "c", Pattern: pattern.New().Node("t", "Task"), Require: pattern.New().Edge("nope", "t")}, "unknown edge type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(reg, nil, []Constraint{tt.c})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			var ie *ir.Error
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, "c", ie.Constraint)
		})
	}
}

func TestWakes(t *testing.T) {
	reg := testutil.TaskRegistry(t)
	rules := []Rule{
		assignRule(),
		{Name: "on-note", Pattern: pattern.New().Node("n", "Note")},
		{Name: "on-depends", Pattern: pattern.New().Edge("depends", "a", "b")},
		{Name: "reaper", Pattern: pattern.New().Node("t", "Task"), Productions: []Production{{Op: ir.OpDelete, Target: expr.V("t")}}},
	}
	o, err := Compile(reg, rules, nil)
	require.NoError(t, err)
	get := func(name string) *CompiledRule {
		r, ok := o.Rule(name)
		require.True(t, ok)
		return r
	}

	assert.True(t, get("auto-note").Wakes(get("on-note")))
	assert.False(t, get("auto-note").Wakes(get("on-depends")))
	assert.True(t, get("reaper").Wakes(get("on-depends")), "deletes may cascade anywhere")
	_, anyType := get("reaper").Writes()
	assert.True(t, anyType)
}
