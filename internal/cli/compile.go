package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/glyph/internal/compiler"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/ontology"
	"github.com/roach88/glyph/internal/schema"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// OntologySummary describes a compiled ontology.
type OntologySummary struct {
	SchemaVersion uint64                  `json:"schema_version"`
	Types         []TypeSummary           `json:"types"`
	Rules         []RuleSummary           `json:"rules"`
	Constraints   []ConstraintSummary     `json:"constraints"`
	Warnings      []compiler.CycleWarning `json:"warnings"`
}

// TypeSummary describes a node or edge type.
type TypeSummary struct {
	Name      string        `json:"name"`
	Kind      string        `json:"kind"`
	Parent    string        `json:"parent,omitempty"`
	Signature []string      `json:"signature,omitempty"`
	Abstract  bool          `json:"abstract,omitempty"`
	Sealed    bool          `json:"sealed,omitempty"`
	Attrs     []AttrSummary `json:"attrs"`
}

// AttrSummary describes one attribute, inherited ones included.
type AttrSummary struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	RefType  string `json:"ref_type,omitempty"`
	Required bool   `json:"required,omitempty"`
	Unique   bool   `json:"unique,omitempty"`
	Default  string `json:"default,omitempty"`
}

// RuleSummary describes a rule. Writes lists the types its productions
// may change; "*" means any type.
type RuleSummary struct {
	Name        string   `json:"name"`
	Priority    int      `json:"priority"`
	Manual      bool     `json:"manual,omitempty"`
	Productions int      `json:"productions"`
	Writes      []string `json:"writes"`
}

// ConstraintSummary describes a constraint.
type ConstraintSummary struct {
	Name    string `json:"name"`
	Soft    bool   `json:"soft,omitempty"`
	Require bool   `json:"require,omitempty"`
	Min     int    `json:"min,omitempty"`
	Max     int    `json:"max,omitempty"`
	Local   bool   `json:"local"`
	Message string `json:"message,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <ontology-dir>",
		Short: "Compile an ontology and describe it",
		Long: `Compile a CUE ontology package and print its types, rules and
constraints as resolved by the kernel: inherited attributes, rule firing
order and the types each rule writes.

Examples:
  glyph compile ./ontology
  glyph compile ./ontology -o ontology.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	result, err := LoadOntology(dir)
	if err != nil {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			loadErr = &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
		}
		return outputCompileError(formatter, loadErr)
	}

	formatter.VerboseLog("Compiled %d CUE file(s) in %s", result.Files, dir)
	summary := Summarize(result)

	if opts.Output != "" {
		if err := writeSummaryToFile(summary, opts.Output); err != nil {
			return outputCompileError(formatter, &LoadError{Code: ErrCodeWriteFailed, Message: fmt.Sprintf("writing output file: %v", err)})
		}
	}

	return outputCompileSuccess(formatter, summary, opts.Output)
}

// Summarize describes a compiled ontology. Types are in registry order,
// rules in firing order and constraints by name.
func Summarize(result *compiler.Result) *OntologySummary {
	o := result.Ontology
	reg := o.Schema
	s := &OntologySummary{
		SchemaVersion: reg.Version(),
		Types:         []TypeSummary{},
		Rules:         []RuleSummary{},
		Constraints:   []ConstraintSummary{},
		Warnings:      result.Warnings,
	}
	for _, t := range reg.Types() {
		s.Types = append(s.Types, summarizeType(reg, t))
	}
	for _, r := range o.Rules {
		s.Rules = append(s.Rules, summarizeRule(reg, r))
	}
	for _, c := range o.Constraints {
		lo, hi := c.Bounds()
		cs := ConstraintSummary{
			Name:    c.ID(),
			Soft:    c.Constraint.Soft,
			Require: c.Require != nil,
			Local:   c.Local(),
			Message: c.Constraint.Message,
		}
		if cs.Require {
			cs.Min, cs.Max = lo, hi
		}
		s.Constraints = append(s.Constraints, cs)
	}
	return s
}

func summarizeType(reg *schema.Registry, t *schema.Type) TypeSummary {
	ts := TypeSummary{
		Name:     t.Name,
		Kind:     t.Kind.String(),
		Abstract: t.Abstract,
		Sealed:   t.Sealed,
		Attrs:    []AttrSummary{},
	}
	if t.Parent != 0 {
		ts.Parent = reg.TypeName(t.Parent)
	}
	for _, sig := range t.Signature {
		name := "*"
		if sig != 0 {
			name = reg.TypeName(sig)
		}
		ts.Signature = append(ts.Signature, name)
	}
	for _, a := range t.Attrs() {
		as := AttrSummary{
			Name:     a.Name,
			Type:     a.Type.String(),
			Required: a.Required,
			Unique:   a.Unique,
		}
		if a.RefType != 0 {
			as.RefType = reg.TypeName(a.RefType)
		}
		switch {
		case a.DefaultNow:
			as.Default = "now()"
		case !ir.IsNull(a.Default):
			as.Default = ir.Format(a.Default)
		}
		ts.Attrs = append(ts.Attrs, as)
	}
	return ts
}

func summarizeRule(reg *schema.Registry, r *ontology.CompiledRule) RuleSummary {
	rs := RuleSummary{
		Name:        r.ID(),
		Priority:    r.Rule.Priority,
		Manual:      r.Rule.Manual,
		Productions: len(r.Productions),
		Writes:      []string{},
	}
	writes, anyType := r.Writes()
	if anyType {
		rs.Writes = append(rs.Writes, "*")
		return rs
	}
	for _, t := range writes {
		rs.Writes = append(rs.Writes, reg.TypeName(t))
	}
	return rs
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, s *OntologySummary, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(s)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d type(s), %d rule(s), %d constraint(s)\n\n",
		len(s.Types), len(s.Rules), len(s.Constraints))

	if len(s.Types) > 0 {
		fmt.Fprintln(w, "Types:")
		for _, t := range s.Types {
			fmt.Fprintf(w, "  %s (%s", t.Name, t.Kind)
			if len(t.Signature) > 0 {
				fmt.Fprintf(w, " %v", t.Signature)
			}
			fmt.Fprintf(w, "): %d attr(s)\n", len(t.Attrs))
		}
		fmt.Fprintln(w)
	}

	if len(s.Rules) > 0 {
		fmt.Fprintln(w, "Rules (firing order):")
		for _, r := range s.Rules {
			mode := ""
			if r.Manual {
				mode = ", manual"
			}
			fmt.Fprintf(w, "  %s: priority %d%s → %v\n", r.Name, r.Priority, mode, r.Writes)
		}
		fmt.Fprintln(w)
	}

	if len(s.Constraints) > 0 {
		fmt.Fprintln(w, "Constraints:")
		for _, c := range s.Constraints {
			kind := "hard"
			if c.Soft {
				kind = "soft"
			}
			fmt.Fprintf(w, "  %s: %s\n", c.Name, kind)
		}
		fmt.Fprintln(w)
	}

	for _, warn := range s.Warnings {
		fmt.Fprintf(w, "⚠ %s\n", warn.Message)
	}

	if outputFile != "" {
		fmt.Fprintf(w, "Wrote ontology summary to %s\n", outputFile)
	}

	return nil
}

// outputCompileError outputs a compilation error. Compilation errors are
// command-level errors (exit code 2).
func outputCompileError(formatter *OutputFormatter, loadErr *LoadError) error {
	if formatter.Format != "json" && loadErr.Pos.IsValid() {
		fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
			loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
	}
	_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message))
}

// writeSummaryToFile writes the summary as indented JSON.
func writeSummaryToFile(s *OntologySummary, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	if err := writeJSON(f, s); err != nil {
		f.Close()
		return fmt.Errorf("marshaling summary: %w", err)
	}
	return f.Close()
}
