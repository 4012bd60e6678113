package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/glyph/internal/graph"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/schema"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// AssertionContext provides what assertions inspect: the committed graph,
// the registry that names its types and the names bound by create steps.
type AssertionContext struct {
	Graph    *graph.Graph
	Registry *schema.Registry
	Names    map[string]ir.GlyphID
}

func (c *AssertionContext) glyph(name string) (ir.GlyphID, *ir.Glyph, error) {
	id, ok := c.Names[name]
	if !ok {
		return 0, nil, fmt.Errorf("unknown glyph name %q", name)
	}
	g, _ := c.Graph.Glyph(id)
	return id, g, nil
}

// assertCount checks the number of live glyphs of a type, subtypes
// included.
func assertCount(actx *AssertionContext, a Assertion) error {
	t, ok := actx.Registry.Lookup(a.GlyphType)
	if !ok {
		return fmt.Errorf("count: unknown type %q", a.GlyphType)
	}
	n := 0
	for _, sub := range actx.Registry.Descendants(t.ID) {
		n += len(actx.Graph.ByType(sub))
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d %s glyph(s)", a.Count, a.GlyphType),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

// assertAttr compares an attribute with the expected value. Int and Float
// compare numerically.
func assertAttr(actx *AssertionContext, a Assertion) error {
	id, g, err := actx.glyph(a.Glyph)
	if err != nil {
		return err
	}
	if g == nil {
		return &AssertionError{
			Type:     AssertAttr,
			Expected: fmt.Sprintf("%s (#%d) to exist", a.Glyph, id),
			Actual:   "glyph not found",
		}
	}
	want, err := expectedValue(actx.Names, a.Value)
	if err != nil {
		return fmt.Errorf("attr: %w", err)
	}
	got := g.Attr(a.Attr)
	if !ir.Equal(got, want) {
		return &AssertionError{
			Type:     AssertAttr,
			Expected: fmt.Sprintf("%s.%s = %s", a.Glyph, a.Attr, ir.Format(want)),
			Actual:   fmt.Sprintf("%s.%s = %s", a.Glyph, a.Attr, ir.Format(got)),
		}
	}
	return nil
}

func assertExists(actx *AssertionContext, a Assertion) error {
	id, g, err := actx.glyph(a.Glyph)
	if err != nil {
		return err
	}
	live := g != nil
	if want := a.Type == AssertExists; live != want {
		state := func(b bool) string {
			if b {
				return "live"
			}
			return "absent"
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s (#%d) %s", a.Glyph, id, state(want)),
			Actual:   state(live),
		}
	}
	return nil
}

func assertTargets(actx *AssertionContext, a Assertion) error {
	id, g, err := actx.glyph(a.Glyph)
	if err != nil {
		return err
	}
	if g == nil {
		return &AssertionError{
			Type:     AssertTargets,
			Expected: fmt.Sprintf("%s (#%d) to exist", a.Glyph, id),
			Actual:   "glyph not found",
		}
	}
	want := make([]ir.GlyphID, len(a.Targets))
	for i, name := range a.Targets {
		tid, ok := actx.Names[name]
		if !ok {
			return fmt.Errorf("targets: unknown glyph name %q", name)
		}
		want[i] = tid
	}
	if !slices.Equal(g.Targets, want) {
		return &AssertionError{
			Type:     AssertTargets,
			Expected: fmt.Sprintf("%s -> %v", a.Glyph, want),
			Actual:   fmt.Sprintf("%v", g.Targets),
		}
	}
	return nil
}

// expectedValue converts a YAML scalar from an assertion. Only the value
// kinds a scenario can write are accepted.
func expectedValue(names map[string]ir.GlyphID, v any) (ir.Value, error) {
	switch val := v.(type) {
	case nil:
		return ir.Null{}, nil
	case string:
		return ir.String(val), nil
	case int:
		return ir.Int(val), nil
	case float64:
		return ir.Float(val), nil
	case bool:
		return ir.Bool(val), nil
	case map[string]any:
		if name, ok := val["ref"].(string); ok && len(val) == 1 {
			id, found := names[name]
			if !found {
				return nil, fmt.Errorf("unknown glyph name %q", name)
			}
			return ir.Ref(id), nil
		}
	}
	return nil, fmt.Errorf("unsupported expected value %v (%T)", v, v)
}

// EvaluateAssertions evaluates all assertions against the committed state.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertCount:
			err = assertCount(actx, assertion)
		case AssertAttr:
			err = assertAttr(actx, assertion)
		case AssertExists, AssertMissing:
			err = assertExists(actx, assertion)
		case AssertTargets:
			err = assertTargets(actx, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}

		if err != nil {
			errors = append(errors, fmt.Sprintf("assertion[%d]: %v", i, err))
		}
	}

	return errors
}
