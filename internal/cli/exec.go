package cli

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/glyph/internal/harness"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/txn"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Ontology string
	Database string
}

// ExecResult is the JSON payload of the exec command.
type ExecResult struct {
	Transactions []harness.TraceEvent  `json:"transactions"`
	Names        map[string]ir.GlyphID `json:"names"`
	Seq          uint64                `json:"seq"`
	Errors       []string              `json:"errors,omitempty"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <transactions.yaml>",
		Short: "Apply transactions to a durable store",
		Long: `Apply a list of transactions to the configured store.

The file holds a "transactions:" list in the scenario format. Each
transaction commits or aborts on its own; names bound with "as" are
visible to later transactions in the same file, and glyphs committed by
earlier runs are addressed by numeric id.

The backend comes from --config (sqlite by default); --db overrides its
path.

Exit codes:
  0 - Every transaction met its expectation (commit when none is given)
  1 - A transaction aborted unexpectedly or missed its expectation
  2 - Command error (ontology, store or file could not be opened)

Examples:
  glyph exec --ontology ./ontology --db ./glyph.db seed.yaml
  glyph exec --config glyph.yaml --ontology ./ontology changes.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Ontology, "ontology", "", "path to ontology directory (required)")
	_ = cmd.MarkFlagRequired("ontology")
	cmd.Flags().StringVar(&opts.Database, "db", "", "store path (overrides the config file)")

	return cmd
}

func runExec(opts *ExecOptions, txFile string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := formatter.Logger()

	cfg, err := resolveConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}

	compiled, err := LoadOntology(opts.Ontology)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
		}
		return WrapExitError(ExitCommandError, "failed to load ontology", err)
	}

	data, err := os.ReadFile(txFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read transactions file", err)
	}
	transactions, err := harness.ParseTransactions(data)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to parse transactions", err)
	}

	storage, err := cfg.OpenStorage(logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	mgr, err := txn.New(ctx, compiled.Ontology, cfg.ManagerOptions(storage, logger)...)
	if err != nil {
		if storage != nil {
			storage.Close()
		}
		return WrapExitError(ExitCommandError, "failed to open transaction manager", err)
	}
	defer mgr.Close()
	formatter.VerboseLog("Opened %s store at seq %d", cfg.Storage.Backend, mgr.Seq())

	h := harness.New(mgr)
	result := ExecResult{Transactions: make([]harness.TraceEvent, 0, len(transactions))}
	for i, t := range transactions {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, stepErrs := h.Execute(ctx, i, t)
		result.Transactions = append(result.Transactions, ev)
		result.Errors = append(result.Errors, stepErrs...)
		for _, msg := range harness.CheckExpect(ev, t.Expect) {
			result.Errors = append(result.Errors, fmt.Sprintf("transaction %q: %s", ev.Name, msg))
		}
	}
	result.Names = h.Names()
	result.Seq = mgr.Seq()

	if formatter.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if len(result.Errors) > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeAborted, Message: result.Errors[0]}
		}
		if err := writeJSON(formatter.Writer, resp); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		for _, ev := range result.Transactions {
			writeTraceEvent(w, ev, opts.Verbose)
		}
		if len(result.Names) > 0 {
			fmt.Fprintln(w, "\nNames:")
			for _, name := range slices.Sorted(maps.Keys(result.Names)) {
				fmt.Fprintf(w, "  %s = #%d\n", name, result.Names[name])
			}
		}
		fmt.Fprintf(w, "\nStore at seq %d\n", result.Seq)
		for _, e := range result.Errors {
			fmt.Fprintf(w, "✗ %s\n", e)
		}
	}

	if len(result.Errors) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d transaction problem(s)", len(result.Errors)))
	}
	return nil
}
