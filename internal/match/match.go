// Package match executes compiled patterns against a graph view.
//
// The matcher runs a backtracking search over the plan chosen by the
// pattern compiler. Every yielded binding satisfies every type, edge and
// condition constraint of the pattern (soundness) and every such binding
// is yielded exactly once (completeness). Output order is deterministic
// for a given view.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/glyph/internal/expr"
	"github.com/roach88/glyph/internal/graph"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/pattern"
	"github.com/roach88/glyph/internal/schema"
)

// Seed pre-binds pattern variables by name.
type Seed map[string]ir.GlyphID

// Matcher runs patterns against one view. It holds no per-call state and
// may be shared by goroutines as long as the view is not mutated.
type Matcher struct {
	view        graph.View
	now         ir.Time
	parallelism int
	logger      *slog.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithNow sets the value returned by now() in conditions.
func WithNow(t ir.Time) Option {
	return func(m *Matcher) { m.now = t }
}

// WithParallelism fans the first plan step out over n workers. Values
// below 2 keep matching sequential.
func WithParallelism(n int) Option {
	return func(m *Matcher) { m.parallelism = n }
}

// WithLogger sets the logger used for plan diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) { m.logger = l }
}

// New creates a matcher over view.
func New(view graph.View, opts ...Option) *Matcher {
	m := &Matcher{view: view, parallelism: 1, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// View returns the view the matcher reads.
func (m *Matcher) View() graph.View {
	return m.view
}

// Match returns every binding of c consistent with seed.
func (m *Matcher) Match(ctx context.Context, c *pattern.Compiled, seed Seed) ([]ir.Binding, error) {
	slots, err := SeedSlots(c, seed)
	if err != nil {
		return nil, err
	}
	return m.MatchSlots(ctx, c, slots)
}

// Each calls fn for every binding until fn returns false.
func (m *Matcher) Each(ctx context.Context, c *pattern.Compiled, seed Seed, fn func(ir.Binding) bool) error {
	slots, err := SeedSlots(c, seed)
	if err != nil {
		return err
	}
	names := c.Names()
	if m.parallelism > 1 {
		all, err := m.MatchSlots(ctx, c, slots)
		if err != nil {
			return err
		}
		for _, b := range all {
			if !fn(b) {
				return nil
			}
		}
		return nil
	}
	s := m.newSearch(ctx, c, slots, func(ids []ir.GlyphID) bool {
		return fn(ir.Binding{Names: names, IDs: slices.Clone(ids)})
	})
	s.start()
	return s.err
}

// Exists reports whether at least one binding exists.
func (m *Matcher) Exists(ctx context.Context, c *pattern.Compiled, seed Seed) (bool, error) {
	found := false
	err := m.Each(ctx, c, seed, func(ir.Binding) bool {
		found = true
		return false
	})
	return found, err
}

// MatchSlots is Match with the seed given positionally: slots[i] pre-binds
// c.Vars[i], zero leaves it free. For sub-patterns the inherited prefix
// must be filled.
func (m *Matcher) MatchSlots(ctx context.Context, c *pattern.Compiled, slots []ir.GlyphID) ([]ir.Binding, error) {
	if len(slots) != len(c.Vars) {
		return nil, ir.Errorf(ir.KindInternal, "seed has %d slots, pattern has %d variables", len(slots), len(c.Vars))
	}
	names := c.Names()
	if m.parallelism > 1 {
		return m.parallelMatch(ctx, c, slots, names)
	}
	var out []ir.Binding
	s := m.newSearch(ctx, c, slots, func(ids []ir.GlyphID) bool {
		out = append(out, ir.Binding{Names: names, IDs: slices.Clone(ids)})
		return true
	})
	s.start()
	return out, s.err
}

// CountSlots counts bindings without materializing them.
func (m *Matcher) CountSlots(ctx context.Context, c *pattern.Compiled, slots []ir.GlyphID) (int, error) {
	if len(slots) != len(c.Vars) {
		return 0, ir.Errorf(ir.KindInternal, "seed has %d slots, pattern has %d variables", len(slots), len(c.Vars))
	}
	n := 0
	s := m.newSearch(ctx, c, slots, func([]ir.GlyphID) bool {
		n++
		return true
	})
	s.start()
	return n, s.err
}

// Env returns an expression environment over a complete binding of c.
// Rule productions and constraint checks evaluate against it. slots may
// extend past c's variables; aggregates see only c's own slots.
func (m *Matcher) Env(ctx context.Context, c *pattern.Compiled, slots []ir.GlyphID) expr.Env {
	return &search{ctx: ctx, m: m, c: c, reg: c.Registry, slots: slots}
}

// SeedSlots converts a named seed into positional slots.
func SeedSlots(c *pattern.Compiled, seed Seed) ([]ir.GlyphID, error) {
	slots := make([]ir.GlyphID, len(c.Vars))
	for name, id := range seed {
		slot, ok := c.Slot(name)
		if !ok {
			return nil, &ir.Error{
				Kind:    ir.KindSchema,
				Message: fmt.Sprintf("seed references undeclared variable %q", name),
				Details: map[string]string{"variable": name},
			}
		}
		slots[slot] = id
	}
	return slots, nil
}

// search is the state of one backtracking run.
type search struct {
	ctx  context.Context
	m    *Matcher
	c    *pattern.Compiled
	reg  *schema.Registry
	plan *pattern.Plan

	slots []ir.GlyphID
	emit  func([]ir.GlyphID) bool

	stopped bool
	err     error
}

func (m *Matcher) newSearch(ctx context.Context, c *pattern.Compiled, seed []ir.GlyphID, emit func([]ir.GlyphID) bool) *search {
	slots := slices.Clone(seed)
	bound := make([]bool, len(slots))
	for i, id := range slots {
		bound[i] = id != 0
	}
	return &search{
		ctx:   ctx,
		m:     m,
		c:     c,
		reg:   c.Registry,
		plan:  c.Plan(bound),
		slots: slots,
		emit:  emit,
	}
}

// start validates seeded slots and runs the plan.
func (s *search) start() {
	if !s.seedOK() {
		return
	}
	if !s.checkAll(s.plan.Conds, s.plan.Not) {
		return
	}
	s.run(0)
}

func (s *search) seedOK() bool {
	for slot := s.c.Outer; slot < len(s.slots); slot++ {
		if id := s.slots[slot]; id != 0 && !s.typeOK(slot, id) {
			return false
		}
	}
	return true
}

func (s *search) stop(err error) {
	s.stopped = true
	if s.err == nil {
		s.err = err
	}
}

func (s *search) run(i int) {
	if s.stopped {
		return
	}
	if i == len(s.plan.Steps) {
		if !s.emit(s.slots) {
			s.stopped = true
		}
		return
	}
	st := &s.plan.Steps[i]
	for _, cand := range s.candidates(st) {
		if i == 0 {
			if err := s.ctx.Err(); err != nil {
				s.stop(err)
				return
			}
		}
		s.visit(i, st, cand)
		if s.stopped {
			return
		}
	}
}

// candidates lists the ids a step enumerates: glyphs for scans and
// closure endpoints, edges for edge steps.
func (s *search) candidates(st *pattern.Step) []ir.GlyphID {
	switch st.Kind {
	case pattern.StepScan:
		return s.scan(s.c.Vars[st.Var].Type)
	case pattern.StepAlias:
		return []ir.GlyphID{s.slots[s.c.Edges[st.Edge].Alias]}
	case pattern.StepAdjacent:
		e := s.c.Edges[st.Edge]
		return s.m.view.Incoming(s.slots[e.Targets[st.From]])
	case pattern.StepEdgeScan:
		return s.scan(s.c.Edges[st.Edge].Type)
	case pattern.StepClosure:
		e := s.c.Edges[st.Edge]
		start := s.slots[e.Targets[st.From]]
		return s.reach(start, e, st.From == 0)
	}
	return nil
}

// visit binds one candidate at step i and descends.
func (s *search) visit(i int, st *pattern.Step, cand ir.GlyphID) {
	switch st.Kind {
	case pattern.StepScan:
		if !s.typeOK(st.Var, cand) {
			return
		}
		s.slots[st.Var] = cand
		if s.checkAll(st.Conds, st.Not) {
			s.run(i + 1)
		}
		s.slots[st.Var] = 0

	case pattern.StepClosure:
		e := s.c.Edges[st.Edge]
		other := e.Targets[1-st.From]
		if s.slots[other] != 0 {
			if s.slots[other] == cand && s.checkAll(st.Conds, st.Not) {
				s.run(i + 1)
			}
			return
		}
		if !s.typeOK(other, cand) {
			return
		}
		s.slots[other] = cand
		if s.checkAll(st.Conds, st.Not) {
			s.run(i + 1)
		}
		s.slots[other] = 0

	default:
		s.tryEdge(i, st, cand)
	}
}

// tryEdge binds edge candidate id against the step's edge pattern.
func (s *search) tryEdge(i int, st *pattern.Step, id ir.GlyphID) {
	e := &s.c.Edges[st.Edge]
	g, ok := s.m.view.Glyph(id)
	if !ok || len(g.Targets) != len(e.Targets) || !s.reg.IsA(g.Type, e.Type) {
		return
	}

	var assigned []int
	undo := func() {
		for _, slot := range assigned {
			s.slots[slot] = 0
		}
	}
	defer undo()

	for p, slot := range e.Targets {
		want := g.Targets[p]
		switch cur := s.slots[slot]; {
		case cur == want:
		case cur != 0:
			return
		default:
			if !s.typeOK(slot, want) {
				return
			}
			s.slots[slot] = want
			assigned = append(assigned, slot)
		}
	}
	if e.Alias >= 0 {
		switch cur := s.slots[e.Alias]; {
		case cur == id:
		case cur != 0:
			return
		default:
			if !s.typeOK(e.Alias, id) {
				return
			}
			s.slots[e.Alias] = id
			assigned = append(assigned, e.Alias)
		}
	} else if s.duplicateTuple(st, g) {
		// Parallel edges without an alias yield the same binding once.
		return
	}
	if s.checkAll(st.Conds, st.Not) {
		s.run(i + 1)
	}
}

// duplicateTuple reports whether an earlier candidate of this step already
// produced the same target tuple. Candidates arrive in ascending id order,
// so it suffices to look for a lower-id parallel edge.
func (s *search) duplicateTuple(st *pattern.Step, g *ir.Glyph) bool {
	e := &s.c.Edges[st.Edge]
	for _, other := range s.m.view.Incoming(g.Targets[0]) {
		if other >= g.ID {
			break
		}
		og, ok := s.m.view.Glyph(other)
		if !ok || !s.reg.IsA(og.Type, e.Type) || !slices.Equal(og.Targets, g.Targets) {
			continue
		}
		return true
	}
	return false
}

// typeOK checks every type constraint of slot against glyph id.
func (s *search) typeOK(slot int, id ir.GlyphID) bool {
	g, ok := s.m.view.Glyph(id)
	if !ok {
		return false
	}
	for _, t := range s.c.Vars[slot].Types {
		if !s.reg.IsA(g.Type, t) {
			return false
		}
	}
	return true
}

// scan lists visible glyphs of type t or any subtype, ascending. Zero
// scans every type.
func (s *search) scan(t ir.TypeID) []ir.GlyphID {
	var types []ir.TypeID
	if t == 0 {
		for _, typ := range s.reg.Types() {
			types = append(types, typ.ID)
		}
	} else {
		types = s.reg.Descendants(t)
	}
	if len(types) == 1 {
		return s.m.view.ByType(types[0])
	}
	var out []ir.GlyphID
	for _, typ := range types {
		out = append(out, s.m.view.ByType(typ)...)
	}
	slices.Sort(out)
	return out
}

// checkAll evaluates conditions and negations that just became bound.
func (s *search) checkAll(conds, nots []int) bool {
	for _, ci := range conds {
		if !expr.Truthy(expr.Eval(s.c.Conds[ci].Expr, s)) {
			return false
		}
	}
	for _, ni := range nots {
		if s.subExists(s.c.Not[ni]) {
			return false
		}
	}
	return true
}

func (s *search) subSearch(sub *pattern.Compiled, emit func(*search, []ir.GlyphID) bool) *search {
	seed := make([]ir.GlyphID, len(sub.Vars))
	copy(seed, s.slots[:len(s.c.Vars)])
	var child *search
	child = s.m.newSearch(s.ctx, sub, seed, func(ids []ir.GlyphID) bool {
		return emit(child, ids)
	})
	return child
}

func (s *search) subExists(sub *pattern.Compiled) bool {
	found := false
	child := s.subSearch(sub, func(*search, []ir.GlyphID) bool {
		found = true
		return false
	})
	child.start()
	if child.err != nil {
		s.stop(child.err)
	}
	return found
}

// expr.Env implementation.

func (s *search) Slot(i int) ir.GlyphID {
	if i < 0 || i >= len(s.slots) {
		return 0
	}
	return s.slots[i]
}

func (s *search) Glyph(id ir.GlyphID) (*ir.Glyph, bool) {
	if id == 0 {
		return nil, false
	}
	return s.m.view.Glyph(id)
}

func (s *search) TypeName(id ir.TypeID) string {
	return s.reg.TypeName(id)
}

func (s *search) Now() ir.Time {
	return s.m.now
}

func (s *search) Each(a *expr.Agg, fn func(expr.Env) bool) {
	if a.Index < 0 || a.Index >= len(s.c.Aggs) {
		return
	}
	child := s.subSearch(s.c.Aggs[a.Index], func(cs *search, _ []ir.GlyphID) bool {
		return fn(cs)
	})
	child.start()
	if child.err != nil {
		s.stop(child.err)
	}
}
