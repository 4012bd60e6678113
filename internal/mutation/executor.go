// Package mutation validates and applies CREATE, DELETE and SET to a
// transaction buffer.
//
// Every operation validates completely before touching the buffer, so a
// failed statement leaves no partial effect. Schema and not-found errors
// are fatal to the statement only; value errors are fatal to the
// transaction and the caller is expected to abort.
package mutation

import (
	"cmp"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/roach88/glyph/internal/graph"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/schema"
)

// Executor applies mutations to one overlay. It is owned by a single
// transaction and is not safe for concurrent use.
type Executor struct {
	ov     *graph.Overlay
	reg    *schema.Registry
	now    func() time.Time
	logger *slog.Logger

	cause   string
	records []ir.Mutation

	// touched holds exact types changed since the last TakeTouched.
	touched map[ir.TypeID]bool
	// allTouched holds every exact type changed in the transaction.
	allTouched map[ir.TypeID]bool
	// written holds live glyphs created or set, plus targets of created
	// edges, for seeding constraint checks.
	written map[ir.GlyphID]bool
	deleted int
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the source of now() defaults.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithLogger sets the logger for mutation tracing.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an executor writing to ov and validating against reg.
func New(ov *graph.Overlay, reg *schema.Registry, opts ...Option) *Executor {
	e := &Executor{
		ov:         ov,
		reg:        reg,
		now:        time.Now,
		logger:     slog.Default(),
		touched:    make(map[ir.TypeID]bool),
		allTouched: make(map[ir.TypeID]bool),
		written:    make(map[ir.GlyphID]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// View returns the buffered view the executor writes to.
func (e *Executor) View() graph.View {
	return e.ov
}

// Registry returns the schema the executor validates against.
func (e *Executor) Registry() *schema.Registry {
	return e.reg
}

// SetCause tags subsequent mutation records with a rule name. An empty
// cause marks user mutations.
func (e *Executor) SetCause(rule string) {
	e.cause = rule
}

// LookupType resolves a type name for CREATE.
func (e *Executor) LookupType(name string) (ir.TypeID, error) {
	t, ok := e.reg.Lookup(name)
	if !ok || t.Kind == schema.KindScalar {
		return 0, &ir.Error{Kind: ir.KindSchema, Message: fmt.Sprintf("unknown type %q", name), Type: name}
	}
	return t.ID, nil
}

// Create validates and buffers a new glyph, returning its id.
//
// Omitted attributes take their declared default; now() defaults read the
// executor clock. A null supplied value counts as omitted.
func (e *Executor) Create(typ ir.TypeID, targets []ir.GlyphID, attrs map[string]ir.Value) (ir.GlyphID, error) {
	t, ok := e.reg.Type(typ)
	if !ok || t.Kind == schema.KindScalar {
		return 0, &ir.Error{Kind: ir.KindSchema, Message: fmt.Sprintf("unknown type id %d", typ)}
	}
	if t.Abstract {
		return 0, &ir.Error{Kind: ir.KindSchema, Message: "cannot create an abstract type", Type: t.Name}
	}
	if len(targets) != t.Arity {
		return 0, &ir.Error{
			Kind:    ir.KindSchema,
			Message: fmt.Sprintf("arity mismatch: got %d targets, %s has arity %d", len(targets), t.Name, t.Arity),
			Type:    t.Name,
		}
	}
	for i, tid := range targets {
		tg, ok := e.ov.Glyph(tid)
		if !ok {
			return 0, &ir.Error{
				Kind:    ir.KindSchema,
				Message: fmt.Sprintf("target %d does not exist", i),
				Glyph:   tid,
				Type:    t.Name,
			}
		}
		if want := t.Signature[i]; !e.reg.IsA(tg.Type, want) {
			return 0, &ir.Error{
				Kind:    ir.KindSchema,
				Message: fmt.Sprintf("target %d is a %s, signature requires %s", i, e.reg.TypeName(tg.Type), e.reg.TypeName(want)),
				Glyph:   tid,
				Type:    t.Name,
			}
		}
	}

	values := make(map[string]ir.Value, len(t.Attrs()))
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		decl, ok := t.Attr(name)
		if !ok {
			return 0, undeclaredAttr(t, name)
		}
		v, err := e.conform(t, decl, attrs[name])
		if err != nil {
			return 0, err
		}
		if !ir.IsNull(v) {
			values[name] = v
		}
	}
	for _, decl := range t.Attrs() {
		if _, ok := values[decl.Name]; ok {
			continue
		}
		switch {
		case decl.DefaultNow:
			values[decl.Name] = ir.TimeOf(e.now())
		case !ir.IsNull(decl.Default):
			values[decl.Name] = decl.Default
		case decl.Required:
			return 0, &ir.Error{Kind: ir.KindValue, Message: "missing required attribute", Type: t.Name, Attr: decl.Name}
		}
	}

	g := &ir.Glyph{
		ID:      e.ov.Base().AllocID(),
		Type:    t.ID,
		Targets: slices.Clone(targets),
		Attrs:   values,
	}
	e.ov.Create(g)
	e.touch(t.ID)
	e.written[g.ID] = true
	for _, tid := range g.Targets {
		e.written[tid] = true
	}
	e.record(ir.Mutation{Op: ir.OpCreate, Glyph: g.ID, Type: t.ID})
	e.logger.Debug("create", "glyph", g.ID, "type", t.Name, "cause", e.cause)
	return g.ID, nil
}

// Delete removes id and, transitively, every edge that targets a deleted
// glyph. It returns the number of glyphs removed.
//
// Targets always exist when an edge is created, so an edge's id is larger
// than any of its targets' ids; deleting in descending id order therefore
// removes every edge before the glyphs it references.
func (e *Executor) Delete(id ir.GlyphID) (int, error) {
	if _, ok := e.ov.Glyph(id); !ok {
		return 0, &ir.Error{Kind: ir.KindNotFound, Message: "delete of missing glyph", Glyph: id}
	}

	seen := map[ir.GlyphID]bool{id: true}
	work := []ir.GlyphID{id}
	for i := 0; i < len(work); i++ {
		for _, edge := range e.ov.Incoming(work[i]) {
			if !seen[edge] {
				seen[edge] = true
				work = append(work, edge)
			}
		}
	}
	slices.SortFunc(work, func(a, b ir.GlyphID) int { return cmp.Compare(b, a) })

	refs, err := e.referrers(seen)
	if err != nil {
		return 0, err
	}
	for _, r := range refs {
		if _, err := e.Set(r.glyph, r.attr, ir.Null{}); err != nil {
			return 0, err
		}
	}

	for _, gid := range work {
		g, ok := e.ov.Glyph(gid)
		if !ok {
			return 0, &ir.Error{Kind: ir.KindInternal, Message: "cascade reached a missing glyph", Glyph: gid}
		}
		e.ov.Delete(gid)
		delete(e.written, gid)
		e.touch(g.Type)
		e.record(ir.Mutation{Op: ir.OpDelete, Glyph: gid, Type: g.Type})
	}
	e.deleted += len(work)
	e.logger.Debug("delete", "glyph", id, "cascade", len(work)-1, "cause", e.cause)
	return len(work), nil
}

type danglingRef struct {
	glyph ir.GlyphID
	attr  string
}

// referrers lists the reference attributes of surviving glyphs that point
// into doomed. A required reference fails the delete before anything is
// buffered.
func (e *Executor) referrers(doomed map[ir.GlyphID]bool) ([]danglingRef, error) {
	var out []danglingRef
	for _, t := range e.reg.Types() {
		var decls []schema.AttrDecl
		for _, d := range t.Attrs() {
			if d.Type == ir.KindRef {
				decls = append(decls, d)
			}
		}
		if len(decls) == 0 {
			continue
		}
		for _, gid := range e.ov.ByType(t.ID) {
			if doomed[gid] {
				continue
			}
			g, ok := e.ov.Glyph(gid)
			if !ok {
				continue
			}
			for _, d := range decls {
				ref, isRef := g.Attr(d.Name).(ir.Ref)
				if !isRef || !doomed[ir.GlyphID(ref)] {
					continue
				}
				if d.Required {
					return nil, &ir.Error{
						Kind:    ir.KindValue,
						Message: fmt.Sprintf("delete would clear required reference to glyph %d", ref),
						Glyph:   gid,
						Type:    t.Name,
						Attr:    d.Name,
					}
				}
				out = append(out, danglingRef{glyph: gid, attr: d.Name})
			}
		}
	}
	return out, nil
}

// Set buffers an attribute value. It reports whether anything changed:
// setting the current value is a no-op that produces no record and
// touches no type. Null clears an optional attribute.
func (e *Executor) Set(id ir.GlyphID, attr string, v ir.Value) (bool, error) {
	g, ok := e.ov.Glyph(id)
	if !ok {
		return false, &ir.Error{Kind: ir.KindNotFound, Message: "set on missing glyph", Glyph: id, Attr: attr}
	}
	t, ok := e.reg.Type(g.Type)
	if !ok {
		return false, &ir.Error{Kind: ir.KindInternal, Message: "glyph has unknown type", Glyph: id}
	}
	decl, ok := t.Attr(attr)
	if !ok {
		err := undeclaredAttr(t, attr)
		err.Glyph = id
		return false, err
	}
	nv, err := e.conform(t, decl, v)
	if err != nil {
		if err.Glyph == 0 {
			err.Glyph = id
		}
		return false, err
	}
	if ir.IsNull(nv) && decl.Required {
		return false, &ir.Error{Kind: ir.KindValue, Message: "cannot clear required attribute", Glyph: id, Type: t.Name, Attr: attr}
	}

	old := g.Attr(attr)
	if ir.KindOf(old) == ir.KindOf(nv) && ir.Equal(old, nv) {
		return false, nil
	}
	e.ov.SetAttr(id, attr, nv)
	e.touch(g.Type)
	e.written[id] = true
	e.record(ir.Mutation{Op: ir.OpSet, Glyph: id, Type: g.Type, Attr: attr, Old: old, New: nv})
	e.logger.Debug("set", "glyph", id, "attr", attr, "value", ir.Format(nv), "cause", e.cause)
	return true, nil
}

// conform checks a value against its declaration, including the target
// type of reference attributes.
func (e *Executor) conform(t *schema.Type, decl *schema.AttrDecl, v ir.Value) (ir.Value, *ir.Error) {
	nv, ok := decl.Conform(v)
	if !ok {
		return nil, &ir.Error{
			Kind:    ir.KindValue,
			Message: fmt.Sprintf("type mismatch: %s attribute given %s", decl.Type, ir.KindOf(v)),
			Type:    t.Name,
			Attr:    decl.Name,
		}
	}
	if ref, isRef := nv.(ir.Ref); isRef {
		target, exists := e.ov.Glyph(ir.GlyphID(ref))
		if !exists {
			return nil, &ir.Error{Kind: ir.KindValue, Message: "reference to missing glyph", Glyph: ir.GlyphID(ref), Type: t.Name, Attr: decl.Name}
		}
		if !e.reg.IsA(target.Type, decl.RefType) {
			return nil, &ir.Error{
				Kind:    ir.KindValue,
				Message: fmt.Sprintf("reference to %s, attribute requires %s", e.reg.TypeName(target.Type), e.reg.TypeName(decl.RefType)),
				Glyph:   ir.GlyphID(ref),
				Type:    t.Name,
				Attr:    decl.Name,
			}
		}
	}
	return nv, nil
}

func undeclaredAttr(t *schema.Type, name string) *ir.Error {
	return &ir.Error{Kind: ir.KindSchema, Message: "undeclared attribute", Type: t.Name, Attr: name}
}

func (e *Executor) touch(t ir.TypeID) {
	e.touched[t] = true
	e.allTouched[t] = true
}

func (e *Executor) record(m ir.Mutation) {
	m.Cause = e.cause
	e.records = append(e.records, m)
}

// Records returns every effective mutation in application order.
func (e *Executor) Records() []ir.Mutation {
	return e.records
}

// TakeTouched returns the exact types changed since the previous call and
// starts a new window.
func (e *Executor) TakeTouched() map[ir.TypeID]bool {
	out := e.touched
	e.touched = make(map[ir.TypeID]bool)
	return out
}

// Touched returns every exact type changed in the transaction.
func (e *Executor) Touched() map[ir.TypeID]bool {
	return e.allTouched
}

// Written returns the live glyphs whose state or incident edges changed,
// ascending.
func (e *Executor) Written() []ir.GlyphID {
	out := make([]ir.GlyphID, 0, len(e.written))
	for id := range e.written {
		if _, ok := e.ov.Glyph(id); ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Deleted returns the number of glyphs removed, cascades included.
func (e *Executor) Deleted() int {
	return e.deleted
}

// Reset forgets records and touched types after the buffer was discarded.
func (e *Executor) Reset() {
	e.records = nil
	e.touched = make(map[ir.TypeID]bool)
	e.allTouched = make(map[ir.TypeID]bool)
	e.written = make(map[ir.GlyphID]bool)
	e.deleted = 0
	e.cause = ""
}
