package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/glyph/internal/ir"
)

// Snapshot captures the trace and final durable state of a scenario.
// It is serialized with ir.MarshalCanonical so identical runs produce
// identical bytes.
type Snapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Glyphs       []ir.GlyphRecord
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"name":    ev.Name,
			"outcome": ev.Outcome,
		}
		if ev.Outcome == OutcomeAborted {
			m["error"] = ev.Error
			if len(ev.Violations) > 0 {
				m["violations"] = ev.Violations
			}
		} else {
			m["seq"] = ev.Seq
			m["created"] = ev.Created
			m["modified"] = ev.Modified
			m["deleted"] = ev.Deleted
			m["firings"] = ev.Firings
			m["warnings"] = ev.Warnings
			m["mutations"] = ev.Mutations
		}
		trace[i] = m
	}

	glyphs := make([]any, len(s.Glyphs))
	for i, g := range s.Glyphs {
		attrs := g.Attrs
		if attrs == nil {
			attrs = map[string]ir.Value{}
		}
		glyphs[i] = map[string]any{
			"id":      g.ID,
			"type":    g.Type,
			"targets": g.Targets,
			"attrs":   attrs,
		}
	}

	return map[string]any{
		"scenario":     s.ScenarioName,
		"transactions": trace,
		"glyphs":       glyphs,
	}
}

// MarshalSnapshot renders a scenario result as canonical JSON.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	snap := Snapshot{ScenarioName: name, Trace: result.Trace, Glyphs: result.Glyphs}
	return ir.MarshalCanonical(snap.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
