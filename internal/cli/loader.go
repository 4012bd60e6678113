package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/glyph/internal/compiler"
	"github.com/roach88/glyph/internal/ir"
)

// LoadError represents an error that occurred while loading an ontology.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Line returns the source line of the error, or 0.
func (e *LoadError) Line() int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

// LoadOntology checks dir and compiles the CUE ontology package in it.
// Every failure is a *LoadError carrying one of the codes below.
func LoadOntology(dir string) (*compiler.Result, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("ontology directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing ontology directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	result, err := compiler.Load(dir)
	if err != nil {
		return nil, convertCompileError(err)
	}
	return result, nil
}

// FindCUEFiles returns the .cue files of the package in dir. Packages are
// not recursive, so subdirectories are skipped.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	var kernelErr *ir.Error
	if errors.As(err, &kernelErr) {
		code := ErrCodeInvalidType
		switch {
		case kernelErr.Rule != "":
			code = ErrCodeInvalidRule
		case kernelErr.Constraint != "":
			code = ErrCodeInvalidConstraint
		}
		return &LoadError{Code: code, Message: kernelErr.Error()}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeStoreFailed = "E008" // Store open/read error
	ErrCodeBadConfig   = "E009" // Config file error

	// Ontology errors
	ErrCodeInvalidShape      = "E100" // Document does not match the ontology shape
	ErrCodeInvalidType       = "E101" // Type or attribute declaration
	ErrCodeInvalidRule       = "E110" // Rule pattern or production
	ErrCodeInvalidConstraint = "E120" // Constraint pattern, check or bounds

	// Scenario and transaction errors
	ErrCodeScenario = "E200" // Scenario file invalid
	ErrCodeAborted  = "E201" // Transaction aborted
	ErrCodeLogCheck = "E300" // Commit log verification failed
)

// MapFieldToErrorCode maps a compiler error field to an error code.
// Fields are dotted paths such as "rules.mark-unavailable.produce[0]".
func MapFieldToErrorCode(field string) string {
	head, _, _ := strings.Cut(field, ".")
	switch head {
	case "load":
		return ErrCodeLoadFailed
	case "cue":
		return ErrCodeBuildFailed
	case "ontology":
		return ErrCodeInvalidShape
	case "types":
		return ErrCodeInvalidType
	case "rules":
		return ErrCodeInvalidRule
	case "constraints":
		return ErrCodeInvalidConstraint
	default:
		return ErrCodeGeneric
	}
}
