package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/testutil"
)

// taskContext builds a committed graph with one task assigned to ann.
func taskContext(t *testing.T) *AssertionContext {
	t.Helper()
	reg := testutil.TaskRegistry(t)
	b := testutil.NewGraph(t, reg)
	ann := b.Node("Person", map[string]ir.Value{"name": ir.String("ann"), "age": ir.Int(40)})
	task := b.Node("Task", map[string]ir.Value{"title": ir.String("docs"), "owner": ir.Ref(ann)})
	note := b.Node("Note", map[string]ir.Value{"title": ir.String("n")})
	edge := b.Edge("assigned", task, ann)
	return &AssertionContext{
		Graph:    b.Build(),
		Registry: reg,
		Names: map[string]ir.GlyphID{
			"ann": ann, "task": task, "note": note, "a1": edge, "gone": 99,
		},
	}
}

func TestEvaluateAssertions_Pass(t *testing.T) {
	actx := taskContext(t)

	errs := EvaluateAssertions([]Assertion{
		{Type: AssertCount, GlyphType: "Task", Count: 1},
		{Type: AssertCount, GlyphType: "Item", Count: 2},
		{Type: AssertCount, GlyphType: "depends", Count: 0},
		{Type: AssertAttr, Glyph: "ann", Attr: "age", Value: 40.0},
		{Type: AssertAttr, Glyph: "task", Attr: "owner", Value: map[string]any{"ref": "ann"}},
		{Type: AssertAttr, Glyph: "task", Attr: "est"},
		{Type: AssertExists, Glyph: "note"},
		{Type: AssertMissing, Glyph: "gone"},
		{Type: AssertTargets, Glyph: "a1", Targets: []string{"task", "ann"}},
	}, actx)
	assert.Empty(t, errs)
}

func TestEvaluateAssertions_Failures(t *testing.T) {
	actx := taskContext(t)

	tests := []struct {
		name    string
		a       Assertion
		wantErr string
	}{
		{"count", Assertion{Type: AssertCount, GlyphType: "Task", Count: 3}, "Expected: 3 Task glyph(s)"},
		{"unknown type", Assertion{Type: AssertCount, GlyphType: "Ghost"}, `unknown type "Ghost"`},
		{"attr value", Assertion{Type: AssertAttr, Glyph: "ann", Attr: "name", Value: "bob"}, `Actual: ann.name = "ann"`},
		{"attr on missing", Assertion{Type: AssertAttr, Glyph: "gone", Attr: "name"}, "glyph not found"},
		{"attr unsupported", Assertion{Type: AssertAttr, Glyph: "ann", Attr: "name", Value: []any{1}}, "unsupported expected value"},
		{"exists", Assertion{Type: AssertExists, Glyph: "gone"}, "Actual: absent"},
		{"missing", Assertion{Type: AssertMissing, Glyph: "ann"}, "Actual: live"},
		{"unknown name", Assertion{Type: AssertExists, Glyph: "who"}, `unknown glyph name "who"`},
		{"targets", Assertion{Type: AssertTargets, Glyph: "a1", Targets: []string{"ann", "task"}}, "Assertion failed: targets"},
		{"unknown assertion", Assertion{Type: "final_state"}, `unknown assertion type "final_state"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions([]Assertion{tt.a}, actx)
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], "assertion[0]")
			assert.Contains(t, errs[0], tt.wantErr)
		})
	}
}
