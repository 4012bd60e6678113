package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/glyph/internal/harness"
)

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Scenario     string               `json:"scenario"`
	Pass         bool                 `json:"pass"`
	Errors       []string             `json:"errors,omitempty"`
	Transactions []harness.TraceEvent `json:"transactions"`
	Glyphs       []json.RawMessage    `json:"glyphs"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one scenario and print its trace",
		Long: `Run a scenario against a fresh in-memory store and print every
transaction's outcome, the mutations it applied and the final graph.

Exit codes:
  0 - Every expectation and assertion held
  1 - The scenario failed
  2 - Command error (unreadable scenario, ontology does not compile)

Examples:
  glyph run ./scenarios/checkout.yaml
  glyph run ./scenarios/checkout.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runScenarioFile(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	formatter.VerboseLog("Running scenario %s (%d transaction(s))", scenario.Name, len(scenario.Transactions))

	result, err := harness.Run(cmd.Context(), scenario, harness.WithLogger(formatter.Logger()))
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	if formatter.Format == "json" {
		glyphs, err := glyphsJSON(result.Glyphs)
		if err != nil {
			return err
		}
		resp := CLIResponse{
			Status: "ok",
			Data: RunResult{
				Scenario:     scenario.Name,
				Pass:         result.Pass,
				Errors:       result.Errors,
				Transactions: result.Trace,
				Glyphs:       glyphs,
			},
		}
		if !result.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeScenario, Message: result.Errors[0]}
		}
		if err := writeJSON(formatter.Writer, resp); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		fmt.Fprintf(w, "Scenario: %s\n\n", scenario.Name)
		for _, ev := range result.Trace {
			writeTraceEvent(w, ev, true)
		}
		fmt.Fprintf(w, "\nGlyphs (%d):\n", len(result.Glyphs))
		for _, g := range result.Glyphs {
			fmt.Fprintf(w, "  %s\n", formatGlyph(g))
		}
		fmt.Fprintln(w)
		if result.Pass {
			fmt.Fprintln(w, "✓ Scenario passed")
		} else {
			fmt.Fprintln(w, "✗ Scenario failed")
			for _, e := range result.Errors {
				fmt.Fprintf(w, "  %s\n", e)
			}
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed with %d error(s)", scenario.Name, len(result.Errors)))
	}
	return nil
}

// writeTraceEvent prints one transaction outcome. With mutations set the
// applied mutations follow, one per line.
func writeTraceEvent(w io.Writer, ev harness.TraceEvent, mutations bool) {
	if ev.Outcome == harness.OutcomeAborted {
		fmt.Fprintf(w, "✗ %s: aborted (%s)\n", ev.Name, ev.Error)
		fmt.Fprintf(w, "    %s\n", ev.Message)
		return
	}
	fmt.Fprintf(w, "✓ %s: committed seq=%d created=%v modified=%v deleted=%v firings=%d\n",
		ev.Name, ev.Seq, ev.Created, ev.Modified, ev.Deleted, ev.Firings)
	for _, warn := range ev.Warnings {
		fmt.Fprintf(w, "    ⚠ %s\n", warn)
	}
	if mutations {
		for _, m := range ev.Mutations {
			fmt.Fprintf(w, "    %s\n", m)
		}
	}
}
