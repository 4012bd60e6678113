package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/glyph/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool                    `json:"valid"`
	Errors      []ValidationIssue       `json:"errors,omitempty"`
	Warnings    []compiler.CycleWarning `json:"warnings"`
	Files       int                     `json:"files,omitempty"`
	Types       int                     `json:"types"`
	Rules       int                     `json:"rules"`
	Constraints int                     `json:"constraints"`
}

// ValidationIssue is one ontology error.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <ontology-dir>",
		Short: "Validate an ontology",
		Long: `Compile a CUE ontology package and report errors.

Rules that can re-trigger one another are reported as warnings; they
are legal, and the rule depth ceiling stops the ones that never settle.

Exit codes:
  0 - Ontology is valid (warnings allowed)
  1 - Ontology has errors
  2 - Command error (directory not found, no CUE files)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	result, err := LoadOntology(dir)
	if err != nil {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			loadErr = &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
		}
		if isCommandError(loadErr.Code) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidationErrors(formatter, []ValidationIssue{{
			Code:    loadErr.Code,
			Message: loadErr.Message,
			Line:    loadErr.Line(),
		}})
	}

	formatter.VerboseLog("Compiled %d CUE file(s) in %s", result.Files, dir)
	o := result.Ontology
	for _, r := range o.Rules {
		formatter.VerboseLog("Rule: %s (priority %d)", r.ID(), r.Rule.Priority)
	}
	for _, c := range o.Constraints {
		formatter.VerboseLog("Constraint: %s", c.ID())
	}

	return outputValidateSuccess(formatter, ValidationResult{
		Valid:       true,
		Warnings:    result.Warnings,
		Files:       result.Files,
		Types:       len(o.Schema.Types()),
		Rules:       len(o.Rules),
		Constraints: len(o.Constraints),
	})
}

// isCommandError reports whether a load error code means the input could
// not be read at all, as opposed to an invalid ontology.
func isCommandError(code string) bool {
	switch code {
	case ErrCodeScanError, ErrCodeNoFiles, ErrCodeNotFound:
		return true
	}
	return false
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Ontology valid: %d type(s), %d rule(s), %d constraint(s)\n",
		result.Types, result.Rules, result.Constraints)
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "⚠ %s\n", warn.Message)
	}
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs ontology errors.
func outputValidationErrors(formatter *OutputFormatter, errs []ValidationIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs, Warnings: []compiler.CycleWarning{}},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}
		if err := writeJSON(formatter.Writer, response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
