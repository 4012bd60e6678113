package pattern

import (
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/roach88/glyph/internal/expr"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/schema"
)

// Var is a resolved pattern variable occupying one binding slot.
type Var struct {
	Name string

	// Type is the scan type: the most specific constraint, or zero.
	Type ir.TypeID

	// Types lists every type constraint the bound glyph must satisfy.
	Types []ir.TypeID

	// Anon marks variables introduced by "_".
	Anon bool

	// Outer marks slots inherited from an enclosing pattern. They are
	// always bound before a sub-pattern runs.
	Outer bool

	// Alias is the index of the edge whose id this variable binds, or -1.
	Alias int
}

// Edge is a resolved edge pattern.
type Edge struct {
	Type     ir.TypeID
	TypeName string
	Targets  []int // slots
	Alias    int   // slot, or -1
	Closure  Closure
	MaxDepth int
}

// Cond is a resolved condition and the slots it reads.
type Cond struct {
	Expr expr.Node
	Deps []int
}

// Compiled is a resolved pattern. It is immutable after Compile returns
// and safe for concurrent use.
type Compiled struct {
	Vars  []Var
	Edges []Edge
	Conds []Cond

	// Not holds compiled NOT EXISTS sub-patterns.
	Not []*Compiled

	// Aggs holds sub-patterns of aggregates, indexed by expr.Agg.Index.
	Aggs []*Compiled

	// Outer is the number of leading slots inherited from the enclosing
	// pattern.
	Outer int

	// UsesOuter lists inherited slots the sub-pattern actually reads.
	UsesOuter []int

	// Registry is the schema version the pattern was compiled against.
	Registry *schema.Registry

	index      map[string]int
	triggers   map[ir.TypeID]bool
	anyTrigger bool
	condRefs   map[int]bool
	anon       *int

	plans sync.Map // bound-mask key -> *Plan
}

// Compile resolves ast against reg.
//
// Errors are schema errors: unknown type or edge type, arity mismatch
// between an edge pattern and its type, closure on a non-binary edge, and
// references to undeclared variables.
func Compile(ast *AST, reg *schema.Registry) (*Compiled, error) {
	if ast == nil {
		return nil, ir.Errorf(ir.KindSchema, "nil pattern")
	}
	n := 0
	return compileScope(ast, reg, nil, &n)
}

// Sub compiles ast as a correlated sub-pattern of c: every variable of c
// is visible and pre-bound when the sub-pattern runs.
func (c *Compiled) Sub(ast *AST) (*Compiled, error) {
	if ast == nil {
		return nil, ir.Errorf(ir.KindSchema, "nil sub-pattern")
	}
	return compileScope(ast, c.Registry, c, c.anon)
}

// Slot returns the slot of a named variable.
func (c *Compiled) Slot(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

// Names returns variable names in slot order. Bindings share this slice.
func (c *Compiled) Names() []string {
	names := make([]string, len(c.Vars))
	for i, v := range c.Vars {
		names[i] = v.Name
	}
	return names
}

// Bind resolves an expression in this pattern's scope, for use by rule
// productions and constraint checks evaluated against its bindings.
// Aggregates are compiled as sub-patterns of c.
func (c *Compiled) Bind(n expr.Node) (expr.Node, error) {
	r, _, err := c.resolveExpr(n)
	return r, err
}

// BindCondition is Bind for an expression whose value decides which
// bindings pass, such as a constraint check. The attributes it reads
// become triggers.
func (c *Compiled) BindCondition(n expr.Node) (expr.Node, error) {
	r, deps, err := c.resolveExpr(n)
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		c.watch(d)
	}
	return r, nil
}

// BindExtended is Bind with extra names appended to the scope: extra[i]
// resolves to slot len(c.Vars)+i. Rule productions use it to refer to
// glyphs created by earlier productions. Aggregates cannot see extras.
func (c *Compiled) BindExtended(n expr.Node, extra []string) (expr.Node, error) {
	if len(extra) == 0 {
		return c.Bind(n)
	}
	slot := func(name string) (int, bool) {
		if s, ok := c.index[name]; ok {
			return s, true
		}
		if i := slices.Index(extra, name); i >= 0 {
			return len(c.Vars) + i, true
		}
		return 0, false
	}
	agg := func(a *expr.Agg) (*expr.Agg, error) {
		r, _, err := c.resolveExpr(a)
		if err != nil {
			return nil, err
		}
		return r.(*expr.Agg), nil
	}
	return expr.Resolve(n, slot, agg)
}

// Triggers reports whether a change to a glyph of any of the given exact
// types can change this pattern's matches.
func (c *Compiled) Triggers(touched map[ir.TypeID]bool) bool {
	if c.anyTrigger {
		return len(touched) > 0
	}
	for t := range touched {
		if c.triggers[t] {
			return true
		}
	}
	return false
}

// TriggerTypes returns the exact types whose changes affect this pattern,
// sorted. The boolean is true when any type may affect it.
func (c *Compiled) TriggerTypes() ([]ir.TypeID, bool) {
	out := make([]ir.TypeID, 0, len(c.triggers))
	for t := range c.triggers {
		out = append(out, t)
	}
	slices.Sort(out)
	return out, c.anyTrigger
}

// Local reports whether every match of the pattern is determined by the
// glyphs it binds: no negation, aggregates or closures. Local patterns can
// be re-checked from the glyphs a transaction touched.
func (c *Compiled) Local() bool {
	if len(c.Not) > 0 || len(c.Aggs) > 0 {
		return false
	}
	for _, e := range c.Edges {
		if e.Closure != ClosureNone {
			return false
		}
	}
	return true
}

func compileScope(ast *AST, reg *schema.Registry, outer *Compiled, anon *int) (*Compiled, error) {
	c := &Compiled{
		Registry: reg,
		index:    make(map[string]int),
		triggers: make(map[ir.TypeID]bool),
		condRefs: make(map[int]bool),
		anon:     anon,
	}
	if outer != nil {
		for _, v := range outer.Vars {
			v.Outer = true
			v.Alias = -1
			c.index[v.Name] = len(c.Vars)
			c.Vars = append(c.Vars, v)
		}
		c.Outer = len(c.Vars)
	}

	for _, nv := range ast.Nodes {
		if nv.Name == "" {
			return nil, ir.Errorf(ir.KindSchema, "node variable without a name")
		}
		t, err := c.nodeType(nv.Type)
		if err != nil {
			return nil, err
		}
		slot := c.declare(nv.Name)
		c.constrain(slot, t)
	}

	var negated []*AST
	inEdge := make(map[int]bool)
	for _, ep := range ast.Edges {
		if ep.Negated {
			if ep.Alias != "" {
				return nil, ir.Errorf(ir.KindSchema, "negated edge %s cannot bind alias %q", ep.Type, ep.Alias)
			}
			cp := ep
			cp.Negated = false
			negated = append(negated, &AST{Edges: []EdgePat{cp}})
			continue
		}
		e, err := c.edge(ep)
		if err != nil {
			return nil, err
		}
		for _, s := range e.Targets {
			inEdge[s] = true
		}
		c.Edges = append(c.Edges, e)
	}

	for _, w := range ast.Where {
		r, deps, err := c.resolveExpr(w)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			c.watch(d)
		}
		c.Conds = append(c.Conds, Cond{Expr: r, Deps: deps})
	}

	// Negated sub-patterns are compiled after all positive variables exist
	// so that shared names resolve to the enclosing scope.
	for _, sub := range append(negated, ast.Not...) {
		if sub == nil {
			continue
		}
		compiled, err := compileScope(sub, reg, c, anon)
		if err != nil {
			return nil, err
		}
		c.Not = append(c.Not, compiled)
	}

	for slot := c.Outer; slot < len(c.Vars); slot++ {
		v := c.Vars[slot]
		if v.Type != 0 {
			for _, d := range reg.Descendants(v.Type) {
				c.triggers[d] = true
			}
		} else if !inEdge[slot] {
			c.anyTrigger = true
		}
	}
	for _, e := range c.Edges {
		for _, d := range reg.Descendants(e.Type) {
			c.triggers[d] = true
		}
	}
	for _, sub := range append(slices.Clone(c.Not), c.Aggs...) {
		c.merge(sub)
	}

	if outer != nil {
		c.UsesOuter = c.outerUses()
	}
	return c, nil
}

// watch records that a condition reads slot. A change to any glyph that
// can bind there may flip the condition, inherited slots included; an
// untyped slot can bind a glyph of any type.
func (c *Compiled) watch(slot int) {
	c.condRefs[slot] = true
	t := c.Vars[slot].Type
	if t == 0 {
		c.anyTrigger = true
		return
	}
	for _, d := range c.Registry.Descendants(t) {
		c.triggers[d] = true
	}
}

func (c *Compiled) merge(sub *Compiled) {
	for t := range sub.triggers {
		c.triggers[t] = true
	}
	if sub.anyTrigger {
		c.anyTrigger = true
	}
}

// outerUses collects inherited slots referenced by edges, conditions or
// nested sub-patterns.
func (c *Compiled) outerUses() []int {
	used := make(map[int]bool)
	for _, e := range c.Edges {
		for _, s := range e.Targets {
			used[s] = true
		}
	}
	for _, cond := range c.Conds {
		for _, d := range cond.Deps {
			used[d] = true
		}
	}
	for s := range c.condRefs {
		used[s] = true
	}
	for _, sub := range append(slices.Clone(c.Not), c.Aggs...) {
		for _, s := range sub.UsesOuter {
			used[s] = true
		}
	}
	var out []int
	for s := range used {
		if s < c.Outer {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}

func (c *Compiled) nodeType(name string) (ir.TypeID, error) {
	if name == "" || name == "any" {
		return 0, nil
	}
	t, ok := c.Registry.Lookup(name)
	if !ok || t.Kind == schema.KindScalar {
		return 0, &ir.Error{Kind: ir.KindSchema, Message: fmt.Sprintf("unknown type %q", name), Type: name}
	}
	return t.ID, nil
}

func (c *Compiled) edge(ep EdgePat) (Edge, error) {
	t, ok := c.Registry.Lookup(ep.Type)
	if !ok || t.Kind == schema.KindScalar {
		return Edge{}, &ir.Error{Kind: ir.KindSchema, Message: fmt.Sprintf("unknown edge type %q", ep.Type), Type: ep.Type}
	}
	if t.Kind != schema.KindEdge {
		return Edge{}, &ir.Error{Kind: ir.KindSchema, Message: fmt.Sprintf("%s is a node type, not an edge type", ep.Type), Type: ep.Type}
	}
	if len(ep.Targets) != t.Arity {
		return Edge{}, &ir.Error{
			Kind:    ir.KindSchema,
			Message: fmt.Sprintf("arity mismatch: pattern has %d targets, %s has arity %d", len(ep.Targets), ep.Type, t.Arity),
			Type:    ep.Type,
		}
	}
	e := Edge{Type: t.ID, TypeName: t.Name, Alias: -1, Closure: ep.Closure, MaxDepth: ep.MaxDepth}
	if ep.Closure != ClosureNone {
		if t.Arity != 2 {
			return Edge{}, &ir.Error{Kind: ir.KindSchema, Message: fmt.Sprintf("closure %s%s requires a binary edge type", ep.Type, ep.Closure), Type: ep.Type}
		}
		if ep.Alias != "" {
			return Edge{}, &ir.Error{Kind: ir.KindSchema, Message: fmt.Sprintf("closure %s%s cannot bind an alias", ep.Type, ep.Closure), Type: ep.Type}
		}
	}
	if ep.MaxDepth < 0 {
		return Edge{}, &ir.Error{Kind: ir.KindSchema, Message: "closure depth bound must not be negative", Type: ep.Type}
	}

	for i, name := range ep.Targets {
		if name == "" {
			return Edge{}, &ir.Error{Kind: ir.KindSchema, Message: fmt.Sprintf("edge %s: target %d has no variable", ep.Type, i), Type: ep.Type}
		}
		slot := c.declare(name)
		if ep.Closure == ClosureNone && !c.Vars[slot].Outer {
			c.constrain(slot, t.Signature[i])
		}
		e.Targets = append(e.Targets, slot)
	}

	if ep.Alias != "" {
		if ep.Alias == Anon {
			return Edge{}, &ir.Error{Kind: ir.KindSchema, Message: "edge alias cannot be anonymous", Type: ep.Type}
		}
		slot := c.declare(ep.Alias)
		v := &c.Vars[slot]
		if v.Outer {
			// Matching a known edge glyph: the alias acts as a bound target.
			e.Alias = slot
			return e, nil
		}
		if v.Alias >= 0 {
			return Edge{}, &ir.Error{Kind: ir.KindSchema, Message: fmt.Sprintf("alias %q bound by more than one edge", ep.Alias), Type: ep.Type}
		}
		v.Alias = len(c.Edges)
		c.constrain(slot, t.ID)
		e.Alias = slot
	}
	return e, nil
}

// declare returns the slot for name, creating it on first use. Every "_"
// gets a fresh slot.
func (c *Compiled) declare(name string) int {
	if name == Anon {
		*c.anon++
		name = "_" + strconv.Itoa(*c.anon)
		c.Vars = append(c.Vars, Var{Name: name, Anon: true, Alias: -1})
		c.index[name] = len(c.Vars) - 1
		return len(c.Vars) - 1
	}
	if slot, ok := c.index[name]; ok {
		return slot
	}
	c.Vars = append(c.Vars, Var{Name: name, Alias: -1})
	c.index[name] = len(c.Vars) - 1
	return len(c.Vars) - 1
}

// constrain adds a type constraint, keeping the most specific one as the
// scan type.
func (c *Compiled) constrain(slot int, t ir.TypeID) {
	if t == 0 {
		return
	}
	v := &c.Vars[slot]
	if slices.Contains(v.Types, t) {
		return
	}
	v.Types = append(v.Types, t)
	if v.Type == 0 || c.Registry.IsA(t, v.Type) {
		v.Type = t
	}
}

// resolveExpr binds names to slots and compiles aggregates. It returns the
// slots the expression reads, including inherited slots read by its
// aggregates.
func (c *Compiled) resolveExpr(n expr.Node) (expr.Node, []int, error) {
	var deps []int
	slot := func(name string) (int, bool) {
		s, ok := c.index[name]
		if ok {
			deps = append(deps, s)
		}
		return s, ok
	}
	agg := func(a *expr.Agg) (*expr.Agg, error) {
		sub, ok := a.Pattern.(*AST)
		if !ok || sub == nil {
			return nil, ir.Errorf(ir.KindSchema, "aggregate %s requires a pattern", a.Fn)
		}
		compiled, err := compileScope(sub, c.Registry, c, c.anon)
		if err != nil {
			return nil, err
		}
		out := &expr.Agg{Fn: a.Fn, Index: len(c.Aggs)}
		if a.Of != nil {
			of, ofDeps, err := compiled.resolveExpr(a.Of)
			if err != nil {
				return nil, err
			}
			for _, d := range ofDeps {
				compiled.watch(d)
			}
			compiled.UsesOuter = compiled.outerUses()
			out.Of = of
		}
		c.Aggs = append(c.Aggs, compiled)
		c.merge(compiled)
		deps = append(deps, compiled.UsesOuter...)
		return out, nil
	}
	r, err := expr.Resolve(n, slot, agg)
	if err != nil {
		return nil, nil, err
	}
	slices.Sort(deps)
	return r, slices.Compact(deps), nil
}
