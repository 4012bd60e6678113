package constraint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/glyph/internal/ir"
)

// Violation is one failed check: a binding of the constraint's pattern
// for which the check was not true, or whose required sub-pattern matched
// outside the accepted bounds.
type Violation struct {
	Constraint string
	Binding    ir.Binding
	Soft       bool
	Message    string

	// Count is the observed number of required matches, or -1 for a
	// failed check expression.
	Count int
}

// String renders the violation for logs and CLI output.
func (v Violation) String() string {
	var sb strings.Builder
	sb.WriteString(v.Constraint)
	sb.WriteByte(' ')
	sb.WriteString(v.Binding.String())
	if v.Count >= 0 {
		sb.WriteString(" matched ")
		sb.WriteString(strconv.Itoa(v.Count))
	}
	if v.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(v.Message)
	}
	return sb.String()
}

// ViolationError carries every hard violation found at commit. The
// caller sees the full set at once, sorted by constraint then binding.
type ViolationError struct {
	Violations []Violation
}

// Error implements the error interface.
func (e *ViolationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("%d hard constraint violation(s): %s", len(e.Violations), strings.Join(parts, "; "))
}

// Unwrap exposes the structured kernel error. Constraint names the first
// violated constraint.
func (e *ViolationError) Unwrap() error {
	ie := &ir.Error{
		Kind:    ir.KindConstraint,
		Message: "hard constraint violated",
		Details: map[string]string{"violations": strconv.Itoa(len(e.Violations))},
	}
	if len(e.Violations) > 0 {
		ie.Constraint = e.Violations[0].Constraint
	}
	return ie
}

// Names returns the distinct violated constraint names in order.
func (e *ViolationError) Names() []string {
	var out []string
	for _, v := range e.Violations {
		if len(out) == 0 || out[len(out)-1] != v.Constraint {
			out = append(out, v.Constraint)
		}
	}
	return out
}

// AsViolationError extracts a *ViolationError from err.
func AsViolationError(err error) (*ViolationError, bool) {
	var ve *ViolationError
	ok := errors.As(err, &ve)
	return ve, ok
}
