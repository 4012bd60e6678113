// Package txn orchestrates transactions over the glyph kernel.
//
// A transaction buffers CREATE, DELETE and SET in an overlay of the
// committed graph. Commit runs the pipeline under a single commit lock:
//
//	react     fire automatic rules to quiescence
//	validate  attribute uniqueness, then every triggered constraint
//	merge     optimistic conflict check, durable Apply, publish
//
// Any failure discards the whole buffer. Queries inside a transaction see
// committed state with the transaction's own changes overlaid; no
// transaction sees another's buffer.
package txn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/glyph/internal/constraint"
	"github.com/roach88/glyph/internal/graph"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/ontology"
	"github.com/roach88/glyph/internal/rules"
)

// Manager owns the committed graph and hands out transactions.
//
// Thread-safety: Begin, Update and the accessors are safe for concurrent
// use. Each Tx must be used by one goroutine at a time.
type Manager struct {
	onto    *ontology.Ontology
	graph   *graph.Graph
	checker *constraint.Checker
	storage Storage

	// commitMu serializes the commit pipeline.
	commitMu sync.Mutex

	maxDepth    int
	maxActions  int
	parallelism int
	logger      *slog.Logger
	now         func() time.Time
	ids         IDGenerator
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxDepth sets the maximum number of rule firings per transaction.
//
// Default: 1000 (rules.DefaultMaxDepth)
func WithMaxDepth(n int) Option {
	return func(m *Manager) { m.maxDepth = n }
}

// WithMaxActions sets the maximum number of rule productions applied per
// transaction.
//
// Default: 10000 (rules.DefaultMaxActions)
func WithMaxActions(n int) Option {
	return func(m *Manager) { m.maxActions = n }
}

// WithStorage sets the durability backend. Its contents are loaded when
// the manager opens.
func WithStorage(s Storage) Option {
	return func(m *Manager) { m.storage = s }
}

// WithLogger sets the logger for the manager and every component it
// drives.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithParallelism sets the worker count for matching and constraint
// checking.
//
// Default: 1 (sequential)
func WithParallelism(n int) Option {
	return func(m *Manager) { m.parallelism = max(n, 1) }
}

// WithClock sets the source of now(), both for defaults and for
// expressions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator sets the transaction id generator.
//
// Default: UUIDv7Generator
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) { m.ids = g }
}

// New creates a manager for onto. With a storage backend the committed
// graph is loaded from it; otherwise the graph starts empty.
func New(ctx context.Context, onto *ontology.Ontology, opts ...Option) (*Manager, error) {
	m := &Manager{
		onto:        onto,
		maxDepth:    rules.DefaultMaxDepth,
		maxActions:  rules.DefaultMaxActions,
		parallelism: 1,
		logger:      slog.Default(),
		now:         time.Now,
		ids:         UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.checker = constraint.New(onto,
		constraint.WithParallelism(m.parallelism),
		constraint.WithLogger(m.logger))

	if m.storage == nil {
		m.graph = graph.New()
		return m, nil
	}
	recs, seq, err := m.storage.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load storage: %w", err)
	}
	glyphs, err := fromRecords(onto.Schema, recs)
	if err != nil {
		return nil, fmt.Errorf("load storage: %w", err)
	}
	if m.graph, err = graph.Load(glyphs, seq); err != nil {
		return nil, fmt.Errorf("load storage: %w", err)
	}
	var next ir.GlyphID
	if next, err = m.storage.NextID(ctx); err != nil {
		return nil, fmt.Errorf("load storage: %w", err)
	}
	m.graph.Reserve(next)
	m.logger.Info("graph loaded", "glyphs", len(glyphs), "seq", seq, "next_id", m.graph.NextID())
	return m, nil
}

// Ontology returns the schema, rules and constraints in force.
func (m *Manager) Ontology() *ontology.Ontology {
	return m.onto
}

// Graph returns the committed graph. It is safe to read concurrently.
func (m *Manager) Graph() *graph.Graph {
	return m.graph
}

// Seq returns the sequence number of the last commit.
func (m *Manager) Seq() uint64 {
	return m.graph.Seq()
}

// Close releases the storage backend.
func (m *Manager) Close() error {
	if m.storage == nil {
		return nil
	}
	return m.storage.Close()
}

// Update runs fn in a new transaction and commits it. The transaction is
// aborted if fn returns an error.
func (m *Manager) Update(ctx context.Context, fn func(tx *Tx) error) (*CommitResult, error) {
	tx := m.Begin(ctx)
	if err := fn(tx); err != nil {
		tx.Abort()
		return nil, err
	}
	return tx.Commit(ctx)
}
