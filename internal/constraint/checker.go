// Package constraint validates a transaction's buffered state against the
// ontology's constraints.
//
// Checking runs once, after rule quiescence. Only constraints triggered by
// a type the transaction touched are evaluated. Local constraints are
// re-matched from the glyphs the transaction wrote; the rest, including
// every cardinality and existence obligation, are evaluated over the
// whole buffered graph. All violations are collected: hard ones fail the
// commit together, soft ones become warnings.
package constraint

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/glyph/internal/expr"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/match"
	"github.com/roach88/glyph/internal/ontology"
)

// Checker evaluates constraints. It holds no per-transaction state and is
// safe for concurrent use.
type Checker struct {
	onto        *ontology.Ontology
	parallelism int
	logger      *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithParallelism checks up to n constraints concurrently.
//
// Default: 1 (sequential)
func WithParallelism(n int) Option {
	return func(c *Checker) { c.parallelism = max(n, 1) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// New creates a checker for the ontology's constraints.
func New(onto *ontology.Ontology, opts ...Option) *Checker {
	c := &Checker{onto: onto, parallelism: 1, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is the outcome of one check.
type Result struct {
	Violations []Violation // hard
	Warnings   []Violation // soft
	Checked    []string    // constraint names evaluated
}

// Err returns a *ViolationError if any hard constraint failed.
func (r *Result) Err() error {
	if len(r.Violations) == 0 {
		return nil
	}
	return &ViolationError{Violations: r.Violations}
}

// Check evaluates every constraint triggered by touched against the
// matcher's view. written lists the live glyphs the transaction created
// or changed; local constraints are seeded from it.
//
// The returned error reports a failure to evaluate (e.g. cancellation),
// never a violation; see Result.Err.
func (c *Checker) Check(ctx context.Context, m *match.Matcher, touched map[ir.TypeID]bool, written []ir.GlyphID) (*Result, error) {
	cons := c.onto.ConstraintsFor(touched)
	res := &Result{}
	if len(cons) == 0 {
		return res, nil
	}

	found := make([][]Violation, len(cons))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i, cc := range cons {
		g.Go(func() error {
			vs, err := c.checkOne(gctx, m, cc, written)
			if err != nil {
				return fmt.Errorf("constraint %s: %w", cc.ID(), err)
			}
			found[i] = vs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, cc := range cons {
		res.Checked = append(res.Checked, cc.ID())
		for _, v := range found[i] {
			if v.Soft {
				res.Warnings = append(res.Warnings, v)
				c.logger.Warn("soft constraint violated", "constraint", v.Constraint, "binding", v.Binding.String())
			} else {
				res.Violations = append(res.Violations, v)
			}
		}
	}
	sortViolations(res.Violations)
	sortViolations(res.Warnings)
	c.logger.Debug("constraints checked",
		"checked", len(cons),
		"violations", len(res.Violations),
		"warnings", len(res.Warnings))
	return res, nil
}

// checkOne returns the violations of one constraint, sorted by binding.
func (c *Checker) checkOne(ctx context.Context, m *match.Matcher, cc *ontology.CompiledConstraint, written []ir.GlyphID) ([]Violation, error) {
	bindings, err := c.bindings(ctx, m, cc, written)
	if err != nil {
		return nil, err
	}
	lo, hi := cc.Bounds()

	var out []Violation
	for _, b := range bindings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cc.Check != nil {
			v := expr.Eval(cc.Check, m.Env(ctx, cc.Pattern, b.IDs))
			if !ir.IsNull(v) && !expr.Truthy(v) {
				out = append(out, c.violation(cc, b, -1))
				continue
			}
		}
		if cc.Require != nil {
			slots := make([]ir.GlyphID, len(cc.Require.Vars))
			copy(slots, b.IDs)
			n, err := m.CountSlots(ctx, cc.Require, slots)
			if err != nil {
				return nil, err
			}
			if n < lo || (hi > 0 && n > hi) {
				out = append(out, c.violation(cc, b, n))
			}
		}
	}
	return out, nil
}

// bindings matches the constraint's pattern: seeded from written glyphs
// when the constraint is local, over the whole view otherwise.
func (c *Checker) bindings(ctx context.Context, m *match.Matcher, cc *ontology.CompiledConstraint, written []ir.GlyphID) ([]ir.Binding, error) {
	p := cc.Pattern
	if !cc.Local() || len(p.Vars) == 0 {
		return m.MatchSlots(ctx, p, make([]ir.GlyphID, len(p.Vars)))
	}

	seen := make(map[string]bool)
	var out []ir.Binding
	view := m.View()
	for _, id := range written {
		g, ok := view.Glyph(id)
		if !ok {
			continue
		}
		for slot, v := range p.Vars {
			if !accepts(p.Registry.IsA, g.Type, v.Types) {
				continue
			}
			seed := make([]ir.GlyphID, len(p.Vars))
			seed[slot] = id
			bs, err := m.MatchSlots(ctx, p, seed)
			if err != nil {
				return nil, err
			}
			for _, b := range bs {
				if k := b.Key(); !seen[k] {
					seen[k] = true
					out = append(out, b)
				}
			}
		}
	}
	slices.SortFunc(out, func(a, b ir.Binding) int { return ir.CompareIdentity(a.IDs, b.IDs) })
	return out, nil
}

func accepts(isA func(sub, super ir.TypeID) bool, t ir.TypeID, want []ir.TypeID) bool {
	for _, w := range want {
		if !isA(t, w) {
			return false
		}
	}
	return true
}

func (c *Checker) violation(cc *ontology.CompiledConstraint, b ir.Binding, n int) Violation {
	return Violation{
		Constraint: cc.ID(),
		Binding:    b,
		Soft:       cc.Constraint.Soft,
		Message:    cc.Constraint.Message,
		Count:      n,
	}
}

// sortViolations orders violations by constraint name, then binding.
func sortViolations(vs []Violation) {
	slices.SortStableFunc(vs, func(a, b Violation) int {
		if c := cmp.Compare(a.Constraint, b.Constraint); c != 0 {
			return c
		}
		return ir.CompareIdentity(a.Binding.IDs, b.Binding.IDs)
	})
}
