package harness

import (
	"github.com/roach88/glyph/internal/ir"
)

// TraceEvent records the outcome of one scenario transaction.
type TraceEvent struct {
	Name    string `json:"name"`
	TxID    string `json:"tx_id"`
	Outcome string `json:"outcome"`

	// Error is the error kind of an aborted transaction.
	Error string `json:"error,omitempty"`

	// Message is the full error text of an aborted transaction.
	Message string `json:"-"`

	Seq      uint64       `json:"seq,omitempty"`
	Created  []ir.GlyphID `json:"created"`
	Modified []ir.GlyphID `json:"modified"`
	Deleted  []ir.GlyphID `json:"deleted"`
	Firings  int          `json:"firings"`
	Warnings []string     `json:"warnings"`

	// Violations names the hard constraints that aborted the commit.
	Violations []string `json:"violations,omitempty"`

	// Mutations renders each effective mutation, e.g.
	// "set #1.available = false (mark-unavailable)".
	Mutations []string `json:"mutations"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per transaction, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Glyphs is the final durable state, ordered by id.
	Glyphs []ir.GlyphRecord `json:"-"`

	// Names maps the names bound by create steps to glyph ids.
	Names map[string]ir.GlyphID `json:"-"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Names:  make(map[string]ir.GlyphID),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a transaction event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
