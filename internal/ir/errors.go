package ir

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind categorizes kernel errors.
type ErrorKind string

const (
	// KindSchema: unknown type/edge-type/attribute, arity or signature
	// mismatch. Fatal to the current statement only.
	KindSchema ErrorKind = "SCHEMA"

	// KindValue: missing required attribute, value type mismatch,
	// uniqueness violation. Aborts the transaction.
	KindValue ErrorKind = "VALUE"

	// KindNotFound: DELETE or SET on a glyph that does not exist.
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindRuleLimit: rule engine depth or action ceiling exceeded.
	KindRuleLimit ErrorKind = "RULE_LIMIT"

	// KindConstraint: one or more hard constraints failed at commit.
	KindConstraint ErrorKind = "CONSTRAINT"

	// KindConflict: a concurrently committed transaction changed an entity
	// this transaction depends on.
	KindConflict ErrorKind = "CONFLICT"

	// KindTxClosed: the transaction was already committed or aborted.
	KindTxClosed ErrorKind = "TX_CLOSED"

	// KindInternal: an invariant violation inside the kernel (e.g. a
	// dangling edge reference). Never expected in correct operation.
	KindInternal ErrorKind = "INTERNAL"
)

// Error is the structured error value returned across the kernel boundary.
//
// The identifying fields are optional; populate whichever apply so callers
// can report the offending entity without parsing Message.
type Error struct {
	Kind    ErrorKind
	Message string

	Glyph      GlyphID
	Type       string
	Attr       string
	Rule       string
	Constraint string

	// Details contains additional context.
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	sb.WriteString(": ")
	sb.WriteString(e.Message)

	var ctx []string
	if e.Glyph != 0 {
		ctx = append(ctx, fmt.Sprintf("glyph=%d", e.Glyph))
	}
	if e.Type != "" {
		ctx = append(ctx, "type="+e.Type)
	}
	if e.Attr != "" {
		ctx = append(ctx, "attr="+e.Attr)
	}
	if e.Rule != "" {
		ctx = append(ctx, "rule="+e.Rule)
	}
	if e.Constraint != "" {
		ctx = append(ctx, "constraint="+e.Constraint)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ctx = append(ctx, k+"="+e.Details[k])
		}
	}
	if len(ctx) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(ctx, ", "))
		sb.WriteByte(')')
	}
	return sb.String()
}

// Errorf builds an *Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOfError returns the ErrorKind of err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func KindOfError(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsSchemaError reports whether err is a schema error.
func IsSchemaError(err error) bool { return KindOfError(err) == KindSchema }

// IsValueError reports whether err is a value error.
func IsValueError(err error) bool { return KindOfError(err) == KindValue }

// IsNotFoundError reports whether err refers to a missing glyph.
func IsNotFoundError(err error) bool { return KindOfError(err) == KindNotFound }

// IsRuleLimitError reports whether err is a rule-engine ceiling error.
func IsRuleLimitError(err error) bool { return KindOfError(err) == KindRuleLimit }

// IsConstraintError reports whether err reports hard constraint violations.
func IsConstraintError(err error) bool { return KindOfError(err) == KindConstraint }

// IsConflictError reports whether err is a concurrent-commit conflict.
func IsConflictError(err error) bool { return KindOfError(err) == KindConflict }

// IsStatementError reports whether err is fatal to the statement only,
// leaving the transaction usable.
func IsStatementError(err error) bool {
	switch KindOfError(err) {
	case KindSchema, KindNotFound:
		return true
	default:
		return false
	}
}
