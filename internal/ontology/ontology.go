// Package ontology binds rules and constraints to a schema registry.
//
// Rules and constraints are declared over pattern ASTs and expression
// ASTs. Compile resolves them once against a registry and indexes them by
// the exact types that can affect them, which is how the rule engine and
// the constraint checker find candidates for a set of touched types.
package ontology

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/glyph/internal/expr"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/pattern"
	"github.com/roach88/glyph/internal/schema"
)

// Production is one mutation a rule performs per match.
type Production struct {
	Op ir.MutationOp

	// Type, Targets and Attrs describe an OpCreate. As names the created
	// glyph so later productions of the same rule can refer to it.
	Type    string
	Targets []expr.Node
	Attrs   map[string]expr.Node
	As      string

	// Target selects the glyph for OpDelete and OpSet.
	Target expr.Node

	// Attr and Value describe an OpSet.
	Attr  string
	Value expr.Node
}

// Rule fires its productions once per distinct match of Pattern.
type Rule struct {
	Name        string
	Pattern     *pattern.AST
	Productions []Production

	// Priority orders competing matches; higher fires first.
	Priority int

	// Manual rules never fire on their own; see Tx.Fire.
	Manual bool
}

// Constraint must hold for every match of Pattern.
//
// Check is evaluated per match; anything but true is a violation, except
// null, which counts as satisfied. When Require is set the number of its
// matches per outer binding must lie in [Min, Max] (Max zero is
// unbounded, and both zero means at least one).
type Constraint struct {
	Name    string
	Pattern *pattern.AST
	Check   expr.Node

	Require  *pattern.AST
	Min, Max int

	// Soft constraints warn instead of aborting.
	Soft    bool
	Message string
}

// CompiledProduction is a Production resolved against its rule's scope.
// Expression slots past the pattern's variables refer to glyphs created
// by earlier productions.
type CompiledProduction struct {
	Op      ir.MutationOp
	Type    ir.TypeID
	Targets []expr.Node
	Attrs   map[string]expr.Node
	As      int // extra slot, or -1
	Target  expr.Node
	Attr    string
	Value   expr.Node
}

// CompiledRule is a resolved rule.
type CompiledRule struct {
	Rule        *Rule
	Pattern     *pattern.Compiled
	Productions []CompiledProduction

	// Extra is the number of production-created slots after the pattern's
	// variables.
	Extra int
}

// ID is the rule's stable identity, used for ordering and deduplication.
func (r *CompiledRule) ID() string { return r.Rule.Name }

// CompiledConstraint is a resolved constraint.
type CompiledConstraint struct {
	Constraint *Constraint
	Pattern    *pattern.Compiled
	Check      expr.Node
	Require    *pattern.Compiled
}

// ID is the constraint's stable identity.
func (c *CompiledConstraint) ID() string { return c.Constraint.Name }

// Triggers reports whether a change to any of the touched types can
// change the constraint's outcome.
func (c *CompiledConstraint) Triggers(touched map[ir.TypeID]bool) bool {
	return c.Pattern.Triggers(touched) || (c.Require != nil && c.Require.Triggers(touched))
}

// Bounds returns the accepted match count of Require. With neither bound
// set the requirement is existence: at least one match.
func (c *CompiledConstraint) Bounds() (lo, hi int) {
	lo, hi = c.Constraint.Min, c.Constraint.Max
	if lo == 0 && hi == 0 {
		lo = 1
	}
	return lo, hi
}

// Local reports whether the constraint can be checked from the glyphs a
// transaction wrote: a local pattern, no cardinality bound.
func (c *CompiledConstraint) Local() bool {
	return c.Require == nil && c.Pattern.Local()
}

// Ontology is an immutable schema plus its compiled rules and
// constraints.
type Ontology struct {
	Schema      *schema.Registry
	Rules       []*CompiledRule       // by priority desc, then ID
	Constraints []*CompiledConstraint // by ID

	rules map[string]*CompiledRule
}

// Compile resolves rules and constraints against reg. Errors are schema
// errors naming the offending rule or constraint.
func Compile(reg *schema.Registry, rules []Rule, constraints []Constraint) (*Ontology, error) {
	o := &Ontology{Schema: reg, rules: make(map[string]*CompiledRule, len(rules))}
	for i := range rules {
		r := &rules[i]
		if r.Name == "" {
			return nil, ir.Errorf(ir.KindSchema, "rule %d has no name", i)
		}
		if _, dup := o.rules[r.Name]; dup {
			return nil, &ir.Error{Kind: ir.KindSchema, Message: "duplicate rule name", Rule: r.Name}
		}
		cr, err := compileRule(reg, r)
		if err != nil {
			return nil, withRule(err, r.Name)
		}
		o.rules[r.Name] = cr
		o.Rules = append(o.Rules, cr)
	}
	slices.SortFunc(o.Rules, func(a, b *CompiledRule) int {
		if c := cmp.Compare(b.Rule.Priority, a.Rule.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})

	seen := make(map[string]bool, len(constraints))
	for i := range constraints {
		c := &constraints[i]
		if c.Name == "" {
			return nil, ir.Errorf(ir.KindSchema, "constraint %d has no name", i)
		}
		if seen[c.Name] {
			return nil, &ir.Error{Kind: ir.KindSchema, Message: "duplicate constraint name", Constraint: c.Name}
		}
		seen[c.Name] = true
		cc, err := compileConstraint(reg, c)
		if err != nil {
			return nil, withConstraint(err, c.Name)
		}
		o.Constraints = append(o.Constraints, cc)
	}
	slices.SortFunc(o.Constraints, func(a, b *CompiledConstraint) int {
		return cmp.Compare(a.ID(), b.ID())
	})
	return o, nil
}

// Rule returns a rule by name.
func (o *Ontology) Rule(name string) (*CompiledRule, bool) {
	r, ok := o.rules[name]
	return r, ok
}

// RulesFor returns the automatic rules a change to touched can wake, in
// firing order.
func (o *Ontology) RulesFor(touched map[ir.TypeID]bool) []*CompiledRule {
	var out []*CompiledRule
	for _, r := range o.Rules {
		if !r.Rule.Manual && r.Pattern.Triggers(touched) {
			out = append(out, r)
		}
	}
	return out
}

// ConstraintsFor returns the constraints affected by touched, by ID.
func (o *Ontology) ConstraintsFor(touched map[ir.TypeID]bool) []*CompiledConstraint {
	var out []*CompiledConstraint
	for _, c := range o.Constraints {
		if c.Triggers(touched) {
			out = append(out, c)
		}
	}
	return out
}

func compileRule(reg *schema.Registry, r *Rule) (*CompiledRule, error) {
	c, err := pattern.Compile(r.Pattern, reg)
	if err != nil {
		return nil, err
	}
	cr := &CompiledRule{Rule: r, Pattern: c}
	var extra []string
	for i, p := range r.Productions {
		cp, err := compileProduction(c, reg, p, extra)
		if err != nil {
			return nil, fmt.Errorf("production %d: %w", i, err)
		}
		if p.As != "" {
			if _, clash := c.Slot(p.As); clash || slices.Contains(extra, p.As) {
				return nil, ir.Errorf(ir.KindSchema, "production %d: name %q already bound", i, p.As)
			}
			cp.As = len(c.Vars) + len(extra)
			extra = append(extra, p.As)
		}
		cr.Productions = append(cr.Productions, cp)
	}
	cr.Extra = len(extra)
	return cr, nil
}

func compileProduction(c *pattern.Compiled, reg *schema.Registry, p Production, extra []string) (CompiledProduction, error) {
	cp := CompiledProduction{Op: p.Op, As: -1, Attr: p.Attr}
	bind := func(n expr.Node) (expr.Node, error) { return c.BindExtended(n, extra) }

	switch p.Op {
	case ir.OpCreate:
		t, ok := reg.Lookup(p.Type)
		if !ok || t.Kind == schema.KindScalar {
			return cp, &ir.Error{Kind: ir.KindSchema, Message: fmt.Sprintf("unknown type %q", p.Type), Type: p.Type}
		}
		if t.Abstract {
			return cp, &ir.Error{Kind: ir.KindSchema, Message: "cannot create an abstract type", Type: p.Type}
		}
		if len(p.Targets) != t.Arity {
			return cp, &ir.Error{
				Kind:    ir.KindSchema,
				Message: fmt.Sprintf("arity mismatch: %d targets, %s has arity %d", len(p.Targets), t.Name, t.Arity),
				Type:    p.Type,
			}
		}
		cp.Type = t.ID
		for _, tn := range p.Targets {
			b, err := bind(tn)
			if err != nil {
				return cp, err
			}
			cp.Targets = append(cp.Targets, b)
		}
		cp.Attrs = make(map[string]expr.Node, len(p.Attrs))
		for name, an := range p.Attrs {
			if _, ok := t.Attr(name); !ok {
				return cp, &ir.Error{Kind: ir.KindSchema, Message: "undeclared attribute", Type: t.Name, Attr: name}
			}
			b, err := bind(an)
			if err != nil {
				return cp, err
			}
			cp.Attrs[name] = b
		}
	case ir.OpDelete, ir.OpSet:
		if p.Target == nil {
			return cp, ir.Errorf(ir.KindSchema, "%s production needs a target", p.Op)
		}
		b, err := bind(p.Target)
		if err != nil {
			return cp, err
		}
		cp.Target = b
		if p.Op == ir.OpSet {
			if p.Attr == "" || p.Value == nil {
				return cp, ir.Errorf(ir.KindSchema, "set production needs an attribute and a value")
			}
			v, err := bind(p.Value)
			if err != nil {
				return cp, err
			}
			cp.Value = v
		}
		if p.As != "" {
			return cp, ir.Errorf(ir.KindSchema, "only create productions can bind a name")
		}
	default:
		return cp, ir.Errorf(ir.KindSchema, "unknown production op %d", p.Op)
	}
	return cp, nil
}

func compileConstraint(reg *schema.Registry, c *Constraint) (*CompiledConstraint, error) {
	p, err := pattern.Compile(c.Pattern, reg)
	if err != nil {
		return nil, err
	}
	cc := &CompiledConstraint{Constraint: c, Pattern: p}
	if c.Check == nil && c.Require == nil {
		return nil, ir.Errorf(ir.KindSchema, "constraint needs a check or a required pattern")
	}
	if c.Check != nil {
		if cc.Check, err = p.BindCondition(c.Check); err != nil {
			return nil, err
		}
	}
	if c.Require != nil {
		if c.Min < 0 || (c.Max > 0 && c.Max < c.Min) {
			return nil, ir.Errorf(ir.KindSchema, "invalid cardinality bounds [%d, %d]", c.Min, c.Max)
		}
		if cc.Require, err = p.Sub(c.Require); err != nil {
			return nil, err
		}
	}
	return cc, nil
}

func withRule(err error, name string) error {
	if e, ok := asError(err); ok && e.Rule == "" {
		e.Rule = name
	}
	return err
}

func withConstraint(err error, name string) error {
	if e, ok := asError(err); ok && e.Constraint == "" {
		e.Constraint = name
	}
	return err
}

func asError(err error) (*ir.Error, bool) {
	var e *ir.Error
	ok := errors.As(err, &e)
	return e, ok
}
