package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/roach88/glyph/internal/compiler"
	"github.com/roach88/glyph/internal/constraint"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/match"
	"github.com/roach88/glyph/internal/schema"
	"github.com/roach88/glyph/internal/store"
	"github.com/roach88/glyph/internal/testutil"
	"github.com/roach88/glyph/internal/txn"
)

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock and transaction ids.
type Harness struct {
	mgr   *txn.Manager
	reg   *schema.Registry
	names map[string]ir.GlyphID
}

// Option configures a run.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger routes kernel logs to l. By default they are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory SQLite store for isolation, so
// every commit also goes through the durability path. The returned error
// reports a scenario that could not run at all; failed expectations and
// assertions are recorded in the Result.
//
// Execution flow:
// 1. Compile the ontology
// 2. Open an in-memory store and a transaction manager over it
// 3. Run each transaction and compare it with its expect clause
// 4. Evaluate assertions against the committed graph
// 5. Read back the durable state for golden comparison
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := config{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	compiled, err := compiler.Load(scenario.Ontology)
	if err != nil {
		return nil, fmt.Errorf("failed to load ontology: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	clock := testutil.NewStepClock(time.Second)
	txOpts := []txn.Option{
		txn.WithStorage(st),
		txn.WithClock(clock.Now),
		txn.WithIDGenerator(testutil.NewSeqIDs("tx")),
		txn.WithLogger(cfg.logger),
	}
	if l := scenario.Limits; l != nil {
		if l.MaxDepth > 0 {
			txOpts = append(txOpts, txn.WithMaxDepth(l.MaxDepth))
		}
		if l.MaxActions > 0 {
			txOpts = append(txOpts, txn.WithMaxActions(l.MaxActions))
		}
	}
	mgr, err := txn.New(ctx, compiled.Ontology, txOpts...)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to open transaction manager: %w", err)
	}
	defer mgr.Close()

	result := NewResult()
	h := New(mgr)
	h.names = result.Names

	for i, t := range scenario.Transactions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev, stepErrs := h.Execute(ctx, i, t)
		result.AddTrace(ev)
		for _, msg := range stepErrs {
			result.AddError(msg)
		}
		for _, msg := range CheckExpect(ev, t.Expect) {
			result.AddError(fmt.Sprintf("transaction %q: %s", ev.Name, msg))
		}
	}

	actx := &AssertionContext{Graph: mgr.Graph(), Registry: h.reg, Names: h.names}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}

	glyphs, err := st.Dump(ctx, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	if len(glyphs) != mgr.Graph().Len() {
		result.AddError(fmt.Sprintf("durable state has %d glyphs, committed graph has %d", len(glyphs), mgr.Graph().Len()))
	}
	result.Glyphs = glyphs

	return result, nil
}

// New returns a harness that runs transactions against mgr. Names bound
// by create steps live as long as the harness.
func New(mgr *txn.Manager) *Harness {
	return &Harness{
		mgr:   mgr,
		reg:   mgr.Ontology().Schema,
		names: make(map[string]ir.GlyphID),
	}
}

// Names returns the glyph ids bound by create steps so far.
func (h *Harness) Names() map[string]ir.GlyphID {
	return h.names
}

// Execute runs one transaction and describes its outcome. index names
// an unnamed transaction. Statement failures the step does not expect
// abort the transaction; mismatched step expectations are returned as
// messages.
func (h *Harness) Execute(ctx context.Context, index int, t Transaction) (TraceEvent, []string) {
	var stepErrs []string
	tx := h.mgr.Begin(ctx)
	ev := TraceEvent{Name: t.Name, TxID: tx.ID()}
	if ev.Name == "" {
		ev.Name = "tx" + strconv.Itoa(index+1)
	}

	for j, step := range t.Steps {
		err := h.executeStep(ctx, tx, step)
		if step.Error != "" {
			if got := string(ir.KindOfError(err)); got == step.Error && ir.IsStatementError(err) {
				continue
			}
			stepErrs = append(stepErrs, fmt.Sprintf("transaction %q step %d: expected %s statement error, got %v", ev.Name, j, step.Error, err))
		}
		if err != nil {
			tx.Abort()
			return aborted(ev, err), stepErrs
		}
	}

	res, err := tx.Commit(ctx)
	if err != nil {
		return aborted(ev, err), stepErrs
	}
	ev.Outcome = OutcomeCommitted
	ev.Seq = res.Seq
	ev.Created = res.Created
	ev.Modified = res.Modified
	ev.Deleted = res.Deleted
	ev.Firings = res.Firings
	for _, w := range res.Warnings {
		ev.Warnings = append(ev.Warnings, w.Constraint)
	}
	for _, m := range res.Mutations {
		ev.Mutations = append(ev.Mutations, describeMutation(h.reg, m))
	}
	return ev, stepErrs
}

func (h *Harness) executeStep(ctx context.Context, tx *txn.Tx, step Step) error {
	switch {
	case step.Create != nil:
		c := step.Create
		targets := make([]ir.GlyphID, len(c.Targets))
		for i, name := range c.Targets {
			id, err := h.resolve(name)
			if err != nil {
				return err
			}
			targets[i] = id
		}
		attrs, err := h.convertAttrs(c.Attrs)
		if err != nil {
			return err
		}
		id, err := tx.Create(c.Type, targets, attrs)
		if err != nil {
			return err
		}
		if c.As != "" {
			h.names[c.As] = id
		}
		return nil

	case step.Delete != "":
		id, err := h.resolve(step.Delete)
		if err != nil {
			return err
		}
		_, err = tx.Delete(id)
		return err

	case step.Set != nil:
		id, err := h.resolve(step.Set.Glyph)
		if err != nil {
			return err
		}
		v, err := h.convertValue(step.Set.Value)
		if err != nil {
			return err
		}
		_, err = tx.Set(id, step.Set.Attr, v)
		return err

	case step.Fire != nil:
		seed := make(match.Seed, len(step.Fire.Seed))
		for v, name := range step.Fire.Seed {
			id, err := h.resolve(name)
			if err != nil {
				return err
			}
			seed[v] = id
		}
		_, err := tx.Fire(ctx, step.Fire.Rule, seed)
		return err
	}
	return fmt.Errorf("empty step")
}

// resolve maps a bound name, or a literal numeric id, to a glyph id.
func (h *Harness) resolve(name string) (ir.GlyphID, error) {
	if id, ok := h.names[name]; ok {
		return id, nil
	}
	if n, err := strconv.ParseInt(name, 10, 64); err == nil && n > 0 {
		return ir.GlyphID(n), nil
	}
	return 0, fmt.Errorf("unknown glyph name %q", name)
}

func (h *Harness) convertAttrs(attrs map[string]any) (map[string]ir.Value, error) {
	out := make(map[string]ir.Value, len(attrs))
	for k, v := range attrs {
		val, err := h.convertValue(v)
		if err != nil {
			return nil, fmt.Errorf("attr %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

// convertValue maps a decoded YAML value to an attribute value.
// {ref: name} is a glyph reference and {time: RFC3339} an instant.
func (h *Harness) convertValue(v any) (ir.Value, error) {
	switch val := v.(type) {
	case nil:
		return ir.Null{}, nil
	case string:
		return ir.String(val), nil
	case int:
		return ir.Int(val), nil
	case int64:
		return ir.Int(val), nil
	case float64:
		return ir.Float(val), nil
	case bool:
		return ir.Bool(val), nil
	case []any:
		list := make(ir.List, len(val))
		for i, e := range val {
			ev, err := h.convertValue(e)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			list[i] = ev
		}
		return list, nil
	case map[string]any:
		if len(val) != 1 {
			return nil, fmt.Errorf("tagged value must have exactly one key")
		}
		if name, ok := val["ref"].(string); ok {
			id, err := h.resolve(name)
			if err != nil {
				return nil, err
			}
			return ir.Ref(id), nil
		}
		if s, ok := val["time"].(string); ok {
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("time value: %w", err)
			}
			return ir.TimeOf(ts), nil
		}
		return nil, fmt.Errorf("unknown tagged value %v", val)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func aborted(ev TraceEvent, err error) TraceEvent {
	ev.Outcome = OutcomeAborted
	ev.Error = string(ir.KindOfError(err))
	if ev.Error == "" {
		ev.Error = "ERROR"
	}
	ev.Message = err.Error()
	var verr *constraint.ViolationError
	if errors.As(err, &verr) {
		for _, v := range verr.Violations {
			ev.Violations = append(ev.Violations, v.Constraint)
		}
	}
	return ev
}

// CheckExpect compares a transaction's outcome with its expect clause.
// A nil clause expects a commit.
func CheckExpect(ev TraceEvent, e *Expect) []string {
	if e == nil {
		if ev.Outcome != OutcomeCommitted {
			return []string{fmt.Sprintf("expected commit, aborted: %s", ev.Message)}
		}
		return nil
	}

	var errs []string
	if ev.Outcome != e.Outcome {
		msg := fmt.Sprintf("expected outcome %s, got %s", e.Outcome, ev.Outcome)
		if ev.Message != "" {
			msg += ": " + ev.Message
		}
		return []string{msg}
	}
	if e.Error != "" && ev.Error != e.Error {
		errs = append(errs, fmt.Sprintf("expected error %s, got %s: %s", e.Error, ev.Error, ev.Message))
	}
	if e.Firings != nil && ev.Firings != *e.Firings {
		errs = append(errs, fmt.Sprintf("expected %d firings, got %d", *e.Firings, ev.Firings))
	}
	if e.Warnings != nil && !slices.Equal(ev.Warnings, e.Warnings) {
		errs = append(errs, fmt.Sprintf("expected warnings %v, got %v", e.Warnings, ev.Warnings))
	}
	if e.Violations != nil && !slices.Equal(ev.Violations, e.Violations) {
		errs = append(errs, fmt.Sprintf("expected violations %v, got %v", e.Violations, ev.Violations))
	}
	return errs
}

// describeMutation renders a mutation record for the trace.
func describeMutation(reg *schema.Registry, m ir.Mutation) string {
	var s string
	switch m.Op {
	case ir.OpSet:
		s = fmt.Sprintf("set #%d.%s = %s", m.Glyph, m.Attr, ir.Format(m.New))
	default:
		s = fmt.Sprintf("%s #%d %s", m.Op, m.Glyph, reg.TypeName(m.Type))
	}
	if m.Cause != "" {
		s += " (" + m.Cause + ")"
	}
	return s
}
