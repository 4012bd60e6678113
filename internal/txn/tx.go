package txn

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/glyph/internal/constraint"
	"github.com/roach88/glyph/internal/graph"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/match"
	"github.com/roach88/glyph/internal/mutation"
	"github.com/roach88/glyph/internal/pattern"
	"github.com/roach88/glyph/internal/rules"
)

type state uint8

const (
	stateOpen state = iota
	stateCommitted
	stateAborted
)

func (s state) String() string {
	switch s {
	case stateCommitted:
		return "committed"
	case stateAborted:
		return "aborted"
	default:
		return "open"
	}
}

// Tx is one transaction. It is not safe for concurrent use.
//
// Schema and not-found errors fail only the statement that raised them.
// Every other error aborts the transaction: its buffer is discarded and
// later calls fail with TX_CLOSED.
type Tx struct {
	id      string
	m       *Manager
	started time.Time
	state   state

	ov      *graph.Overlay
	ex      *mutation.Executor
	matcher *match.Matcher
	eng     *rules.Engine
}

// CommitResult describes a successful commit.
type CommitResult struct {
	TxID string
	Seq  uint64

	Created  []ir.GlyphID
	Modified []ir.GlyphID
	Deleted  []ir.GlyphID

	// Mutations lists every effective mutation in application order,
	// including those produced by rules.
	Mutations []ir.Mutation
	Firings   int

	// Warnings holds soft constraint violations.
	Warnings []constraint.Violation
}

// Begin starts a transaction. ctx is used only for the trace span
// linking the transaction to its caller.
func (m *Manager) Begin(ctx context.Context) *Tx {
	tx := &Tx{
		id:      m.ids.Generate(),
		m:       m,
		started: m.now(),
		ov:      graph.NewOverlay(m.graph),
	}
	tx.ex = mutation.New(tx.ov, m.onto.Schema,
		mutation.WithClock(m.now),
		mutation.WithLogger(m.logger))
	tx.matcher = match.New(tx.ov,
		match.WithNow(ir.TimeOf(tx.started)),
		match.WithParallelism(m.parallelism),
		match.WithLogger(m.logger))
	tx.eng = rules.New(m.onto, tx.ex, tx.matcher,
		rules.WithMaxDepth(m.maxDepth),
		rules.WithMaxActions(m.maxActions),
		rules.WithLogger(m.logger.With("tx", tx.id)),
		rules.WithFireHook(func(rule string) { ruleFirings.WithLabelValues(rule).Inc() }))
	trace.SpanFromContext(ctx).AddEvent("txn.begin", trace.WithAttributes(attribute.String("txn.id", tx.id)))
	m.logger.Debug("transaction begun", "tx", tx.id, "seq", m.graph.Seq())
	return tx
}

// ID returns the transaction id.
func (tx *Tx) ID() string {
	return tx.id
}

// View returns the transaction's read view.
func (tx *Tx) View() graph.View {
	return tx.ov
}

func (tx *Tx) checkOpen() error {
	if tx.state != stateOpen {
		return &ir.Error{
			Kind:    ir.KindTxClosed,
			Message: "transaction is " + tx.state.String(),
			Details: map[string]string{"tx": tx.id},
		}
	}
	return nil
}

// fail aborts the transaction unless err is fatal to the statement only.
func (tx *Tx) fail(err error) error {
	if err != nil && !ir.IsStatementError(err) {
		tx.discard(err)
	}
	return err
}

func (tx *Tx) discard(cause error) {
	tx.ov.Reset()
	tx.ex.Reset()
	tx.eng.Fired().Clear()
	tx.state = stateAborted
	abortsTotal.WithLabelValues(abortKind(cause)).Inc()
	if cause != nil {
		tx.m.logger.Error("transaction aborted", "tx", tx.id, "error", cause)
	}
}

// Create buffers a new glyph of the named type and returns its id.
func (tx *Tx) Create(typeName string, targets []ir.GlyphID, attrs map[string]ir.Value) (ir.GlyphID, error) {
	if err := tx.checkOpen(); err != nil {
		return 0, err
	}
	typ, err := tx.ex.LookupType(typeName)
	if err != nil {
		return 0, err
	}
	id, err := tx.ex.Create(typ, targets, attrs)
	return id, tx.fail(err)
}

// Delete buffers the deletion of id and every edge that depends on it.
// It returns the number of glyphs removed.
func (tx *Tx) Delete(id ir.GlyphID) (int, error) {
	if err := tx.checkOpen(); err != nil {
		return 0, err
	}
	n, err := tx.ex.Delete(id)
	return n, tx.fail(err)
}

// Set buffers an attribute value and reports whether it changed.
func (tx *Tx) Set(id ir.GlyphID, attr string, v ir.Value) (bool, error) {
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	changed, err := tx.ex.Set(id, attr, v)
	return changed, tx.fail(err)
}

// Get returns a copy of the glyph as the transaction sees it.
func (tx *Tx) Get(id ir.GlyphID) (*ir.Glyph, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	g, ok := tx.ov.Glyph(id)
	if !ok {
		return nil, &ir.Error{Kind: ir.KindNotFound, Message: "glyph not found", Glyph: id}
	}
	return g.Clone(), nil
}

// Query streams the bindings of a pattern over the transaction's view.
// seed pre-binds variables by name. Compile errors are yielded once.
func (tx *Tx) Query(ctx context.Context, ast *pattern.AST, seed match.Seed) iter.Seq2[ir.Binding, error] {
	return func(yield func(ir.Binding, error) bool) {
		if err := tx.checkOpen(); err != nil {
			yield(ir.Binding{}, err)
			return
		}
		c, err := pattern.Compile(ast, tx.m.onto.Schema)
		if err != nil {
			yield(ir.Binding{}, err)
			return
		}
		stopped := false
		err = tx.matcher.Each(ctx, c, seed, func(b ir.Binding) bool {
			if !yield(b, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(ir.Binding{}, err)
		}
	}
}

// QueryAll collects every binding of a pattern.
func (tx *Tx) QueryAll(ctx context.Context, ast *pattern.AST, seed match.Seed) ([]ir.Binding, error) {
	var out []ir.Binding
	for b, err := range tx.Query(ctx, ast, seed) {
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Fire runs a rule, typically a manual one, for every unfired match
// consistent with seed. Automatic rules woken by its productions run at
// commit. It returns the number of firings.
func (tx *Tx) Fire(ctx context.Context, rule string, seed match.Seed) (int, error) {
	if err := tx.checkOpen(); err != nil {
		return 0, err
	}
	if _, ok := tx.m.onto.Rule(rule); !ok {
		return 0, &ir.Error{Kind: ir.KindSchema, Message: "unknown rule", Rule: rule}
	}
	n, err := tx.eng.Fire(ctx, rule, seed)
	if err != nil {
		// Productions may have applied partially.
		tx.discard(err)
		return n, err
	}
	return n, nil
}

// Abort discards the transaction. Aborting a closed transaction is a
// no-op.
func (tx *Tx) Abort() {
	if tx.state != stateOpen {
		return
	}
	tx.discard(nil)
	tx.m.logger.Debug("transaction aborted by caller", "tx", tx.id)
}

// Commit runs rules to quiescence, validates and publishes the buffer.
// On any error the transaction is aborted and nothing becomes visible.
func (tx *Tx) Commit(ctx context.Context) (*CommitResult, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "txn.Commit", trace.WithAttributes(attribute.String("txn.id", tx.id)))
	defer span.End()

	m := tx.m
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	start := time.Now()
	res, err := tx.commit(ctx)
	commitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		tx.discard(err)
		return nil, err
	}
	tx.state = stateCommitted
	commitsTotal.Inc()
	for _, w := range res.Warnings {
		constraintWarnings.WithLabelValues(w.Constraint).Inc()
	}
	span.SetAttributes(
		attribute.Int64("txn.seq", int64(res.Seq)),
		attribute.Int("txn.mutations", len(res.Mutations)),
		attribute.Int("txn.firings", res.Firings))
	span.SetStatus(codes.Ok, "")
	m.logger.Info("transaction committed",
		"tx", tx.id,
		"seq", res.Seq,
		"created", len(res.Created),
		"modified", len(res.Modified),
		"deleted", len(res.Deleted),
		"firings", res.Firings,
		"warnings", len(res.Warnings))
	return res, nil
}

// commit runs the pipeline. The caller holds commitMu.
func (tx *Tx) commit(ctx context.Context) (*CommitResult, error) {
	m := tx.m

	rctx, span := tracer.Start(ctx, "txn.react")
	err := tx.eng.Run(rctx)
	span.SetAttributes(attribute.Int("rules.firings", tx.eng.Depth()))
	span.End()
	if err != nil {
		return nil, err
	}

	vctx, span := tracer.Start(ctx, "txn.validate")
	warnings, err := tx.validate(vctx)
	span.End()
	if err != nil {
		return nil, err
	}

	_, span = tracer.Start(ctx, "txn.merge")
	defer span.End()
	cs := tx.ov.Changes()
	if err := m.graph.Validate(cs); err != nil {
		return nil, err
	}
	seq := m.graph.Seq()
	if !cs.Empty() {
		seq++
		if m.storage != nil {
			b := toBatch(m.onto.Schema, cs, seq, tx.id, tx.ex.Records())
			b.NextID = m.graph.NextID()
			if err := m.storage.Apply(ctx, b); err != nil {
				return nil, fmt.Errorf("storage apply: %w", err)
			}
		}
		if err := m.graph.Apply(cs, seq); err != nil {
			return nil, err
		}
	}

	res := &CommitResult{
		TxID:      tx.id,
		Seq:       seq,
		Deleted:   cs.Deleted,
		Mutations: tx.ex.Records(),
		Firings:   tx.eng.Depth(),
		Warnings:  warnings,
	}
	for _, g := range cs.Created {
		res.Created = append(res.Created, g.ID)
	}
	for _, g := range cs.Modified {
		res.Modified = append(res.Modified, g.ID)
	}
	return res, nil
}

// validate checks uniqueness and constraints, returning soft warnings.
func (tx *Tx) validate(ctx context.Context) ([]constraint.Violation, error) {
	if err := tx.ex.CheckUnique(); err != nil {
		return nil, err
	}
	res, err := tx.m.checker.Check(ctx, tx.matcher, tx.ex.Touched(), tx.ex.Written())
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return res.Warnings, nil
}

func kindOf(err error) ir.ErrorKind {
	if k := ir.KindOfError(err); k != "" {
		return k
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "CANCELED"
	}
	return ""
}
