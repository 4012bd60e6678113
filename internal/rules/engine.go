// Package rules runs a transaction's rules to quiescence.
//
// The engine repeatedly picks the highest-priority unfired match among
// the rules woken by recent changes, applies its productions through the
// mutation executor, and records the (rule, binding identity) pair so it
// never fires twice. Ties are broken by ascending rule id, then ascending
// binding identity, so a given transaction always fires in the same
// order. Depth and action ceilings turn a runaway rule set into a
// RULE_LIMIT error instead of a hang.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/glyph/internal/expr"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/match"
	"github.com/roach88/glyph/internal/mutation"
	"github.com/roach88/glyph/internal/ontology"
)

// Engine is the rule state of one transaction. It is not safe for
// concurrent use.
type Engine struct {
	onto    *ontology.Ontology
	ex      *mutation.Executor
	matcher *match.Matcher
	logger  *slog.Logger

	fired   *FiredSet
	depth   *Quota
	actions *Quota

	// pending holds woken rules and their unfired matches, nil when the
	// matches must be recomputed.
	pending map[*ontology.CompiledRule][]ir.Binding

	onFire func(ruleID string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDepth sets the maximum number of firings per transaction.
//
// Default: 1000 (DefaultMaxDepth)
func WithMaxDepth(n int) Option {
	return func(e *Engine) { e.depth = NewQuota("depth", n) }
}

// WithMaxActions sets the maximum number of productions applied per
// transaction.
//
// Default: 10000 (DefaultMaxActions)
func WithMaxActions(n int) Option {
	return func(e *Engine) { e.actions = NewQuota("actions", n) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithFireHook registers a callback run after each firing, e.g. to count
// firings in metrics.
func WithFireHook(fn func(ruleID string)) Option {
	return func(e *Engine) { e.onFire = fn }
}

// New creates the engine for one transaction. The matcher must read the
// executor's view so that rules see their own mutations.
func New(onto *ontology.Ontology, ex *mutation.Executor, m *match.Matcher, opts ...Option) *Engine {
	e := &Engine{
		onto:    onto,
		ex:      ex,
		matcher: m,
		logger:  slog.Default(),
		fired:   NewFiredSet(),
		depth:   NewQuota("depth", DefaultMaxDepth),
		actions: NewQuota("actions", DefaultMaxActions),
		pending: make(map[*ontology.CompiledRule][]ir.Binding),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Fired returns the set of pairs fired so far.
func (e *Engine) Fired() *FiredSet {
	return e.fired
}

// Depth returns the number of firings so far.
func (e *Engine) Depth() int {
	return e.depth.Current()
}

// Run fires automatic rules until no woken rule has an unfired match.
// Types touched before the call wake the first rules.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.wake(e.ex.TakeTouched())

		r, b, err := e.next(ctx)
		if err != nil {
			return err
		}
		if r == nil {
			e.logger.Debug("rules quiescent", "firings", e.depth.Current(), "actions", e.actions.Current())
			return nil
		}
		if err := e.fire(ctx, r, b); err != nil {
			return err
		}
	}
}

// Fire runs the named rule for every unfired match consistent with seed,
// regardless of its manual flag. Matches are recomputed after each firing,
// so a firing that deletes or changes the glyphs of a later match retires
// it. It returns the number of firings. Follow-up automatic rules run on
// the next Run.
func (e *Engine) Fire(ctx context.Context, name string, seed match.Seed) (int, error) {
	r, ok := e.onto.Rule(name)
	if !ok {
		return 0, &ir.Error{Kind: ir.KindSchema, Message: "unknown rule", Rule: name}
	}
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		bindings, err := e.unfired(ctx, r, seed)
		if err != nil {
			return n, err
		}
		if len(bindings) == 0 {
			return n, nil
		}
		if err := e.fire(ctx, r, bindings[0]); err != nil {
			return n, err
		}
		n++
	}
}

// wake marks every automatic rule triggered by touched as stale.
func (e *Engine) wake(touched map[ir.TypeID]bool) {
	if len(touched) == 0 {
		return
	}
	for _, r := range e.onto.RulesFor(touched) {
		e.pending[r] = nil
	}
}

// next selects the highest-priority unfired match among pending rules.
// Rules without one leave the pending set until woken again.
func (e *Engine) next(ctx context.Context) (*ontology.CompiledRule, ir.Binding, error) {
	for _, r := range e.onto.Rules {
		cached, woken := e.pending[r]
		if !woken {
			continue
		}
		if cached == nil {
			fresh, err := e.unfired(ctx, r, nil)
			if err != nil {
				return nil, ir.Binding{}, err
			}
			cached = fresh
		}
		if len(cached) == 0 {
			// Stays out until a later change wakes it.
			delete(e.pending, r)
			continue
		}
		e.pending[r] = cached[1:]
		return r, cached[0], nil
	}
	return nil, ir.Binding{}, nil
}

// unfired matches r under seed and drops pairs that already fired, sorted by
// identity.
func (e *Engine) unfired(ctx context.Context, r *ontology.CompiledRule, seed match.Seed) ([]ir.Binding, error) {
	all, err := e.matcher.Match(ctx, r.Pattern, seed)
	if err != nil {
		return nil, fmt.Errorf("match rule %s: %w", r.ID(), err)
	}
	out := all[:0]
	for _, b := range all {
		if !e.fired.Has(r.ID(), b.IDs) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b ir.Binding) int { return ir.CompareIdentity(a.IDs, b.IDs) })
	e.logger.Debug("rule matched", "rule", r.ID(), "matches", len(all), "unfired", len(out))
	return out, nil
}

// fire applies r's productions for binding b in declared order.
func (e *Engine) fire(ctx context.Context, r *ontology.CompiledRule, b ir.Binding) error {
	e.fired.Record(r.ID(), b.IDs)
	if err := e.depth.Check(r.ID()); err != nil {
		return err
	}
	e.ex.SetCause(r.ID())
	defer e.ex.SetCause("")

	slots := make([]ir.GlyphID, len(b.IDs)+r.Extra)
	copy(slots, b.IDs)
	env := e.matcher.Env(ctx, r.Pattern, slots)
	for i, p := range r.Productions {
		if err := e.actions.Check(r.ID()); err != nil {
			return err
		}
		if err := e.apply(env, slots, p); err != nil {
			return withRule(fmt.Errorf("rule %s production %d: %w", r.ID(), i, err), r.ID())
		}
	}
	e.logger.Info("rule fired", "rule", r.ID(), "binding", b.String(), "depth", e.depth.Current())
	if e.onFire != nil {
		e.onFire(r.ID())
	}
	return nil
}

func (e *Engine) apply(env expr.Env, slots []ir.GlyphID, p ontology.CompiledProduction) error {
	switch p.Op {
	case ir.OpCreate:
		targets := make([]ir.GlyphID, len(p.Targets))
		for i, t := range p.Targets {
			id, err := glyphOf(expr.Eval(t, env))
			if err != nil {
				return fmt.Errorf("target %d: %w", i, err)
			}
			targets[i] = id
		}
		attrs := make(map[string]ir.Value, len(p.Attrs))
		for name, n := range p.Attrs {
			attrs[name] = expr.Eval(n, env)
		}
		id, err := e.ex.Create(p.Type, targets, attrs)
		if err != nil {
			return err
		}
		if p.As >= 0 {
			slots[p.As] = id
		}
	case ir.OpDelete:
		id, err := glyphOf(expr.Eval(p.Target, env))
		if err != nil {
			return err
		}
		if _, ok := e.ex.View().Glyph(id); !ok {
			// Already removed, typically by an earlier cascade.
			return nil
		}
		if _, err := e.ex.Delete(id); err != nil {
			return err
		}
	case ir.OpSet:
		id, err := glyphOf(expr.Eval(p.Target, env))
		if err != nil {
			return err
		}
		if _, err := e.ex.Set(id, p.Attr, expr.Eval(p.Value, env)); err != nil {
			return err
		}
	}
	return nil
}

// glyphOf converts an evaluated target expression into a glyph id. Only
// references name glyphs; an integer such as id(x) is rejected.
func glyphOf(v ir.Value) (ir.GlyphID, error) {
	switch x := v.(type) {
	case ir.Ref:
		return ir.GlyphID(x), nil
	default:
		return 0, ir.Errorf(ir.KindValue, "production target evaluated to %s, want a glyph", ir.Format(v))
	}
}

func withRule(err error, rule string) error {
	var ie *ir.Error
	if errors.As(err, &ie) && ie.Rule == "" {
		ie.Rule = rule
	}
	return err
}
