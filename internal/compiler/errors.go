package compiler

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// CompileError locates a problem in an ontology file. Field is the dotted
// path into the ontology (types.Book.attrs.copies, rules.withdraw.set).
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if !e.Pos.IsValid() {
		return e.Field + ": " + e.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
}

func compileErr(field string, pos token.Pos, format string, args ...any) *CompileError {
	return &CompileError{Field: field, Message: fmt.Sprintf(format, args...), Pos: pos}
}

// formatCUEError keeps the first of possibly many CUE errors and carries
// its position over, so every decode failure reads like a CompileError.
func formatCUEError(field string, err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	ce := &CompileError{Field: field, Message: errs[0].Error()}
	if pos := errors.Positions(errs[0]); len(pos) > 0 {
		ce.Pos = pos[0]
	}
	return ce
}
