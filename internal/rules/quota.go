package rules

import (
	"errors"
	"fmt"

	"github.com/roach88/glyph/internal/ir"
)

// Default ceilings per transaction.
const (
	DefaultMaxDepth   = 1000
	DefaultMaxActions = 10000
)

// Quota counts one kind of rule-engine work and fails once the count
// passes its limit. Two quotas run side by side: firings (depth) catch
// long chains of distinct matches, actions catch firings that each
// produce many mutations. Together with the fired set they guarantee the
// quiescence loop halts.
type Quota struct {
	name    string
	limit   int
	current int
}

// NewQuota creates a quota named for error reporting. A limit below one
// is treated as one.
func NewQuota(name string, limit int) *Quota {
	return &Quota{name: name, limit: max(limit, 1)}
}

// Check increments the counter and returns a *LimitError once it exceeds
// the limit.
func (q *Quota) Check(ruleID string) error {
	q.current++
	if q.current > q.limit {
		return &LimitError{Quota: q.name, Count: q.current, Limit: q.limit, Rule: ruleID}
	}
	return nil
}

// Current returns the count so far.
func (q *Quota) Current() int {
	return q.current
}

// Limit returns the configured ceiling.
func (q *Quota) Limit() int {
	return q.limit
}

// Reset sets the counter back to zero.
func (q *Quota) Reset() {
	q.current = 0
}

// LimitError reports an exceeded ceiling. It is fatal to the transaction
// and unwraps to an ir.Error of kind RULE_LIMIT.
type LimitError struct {
	Quota string // "depth" or "actions"
	Count int
	Limit int
	Rule  string // rule that was firing
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("rule %s exceeded max %s: %d > %d", e.Rule, e.Quota, e.Count, e.Limit)
}

// Unwrap exposes the structured kernel error.
func (e *LimitError) Unwrap() error {
	return &ir.Error{
		Kind:    ir.KindRuleLimit,
		Message: fmt.Sprintf("max %s exceeded", e.Quota),
		Rule:    e.Rule,
		Details: map[string]string{"limit": fmt.Sprint(e.Limit)},
	}
}

// IsLimitError returns true if err is a *LimitError.
// Uses errors.As to handle wrapped errors.
func IsLimitError(err error) bool {
	var le *LimitError
	return errors.As(err, &le)
}
