package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Seq      uint64 // optional - stop after this commit
	Verify   bool
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	Seq    uint64            `json:"seq"`
	Count  int               `json:"count"`
	Glyphs []json.RawMessage `json:"glyphs"`

	// Verified is set with --verify: every batch hash matched and the
	// full replay equals the stored state.
	Verified *bool  `json:"verified,omitempty"`
	Problem  string `json:"problem,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild graph state from the commit log",
		Long: `Fold the commit log of a SQLite store and print the resulting glyphs.

--seq stops after that commit, showing the graph as it was then.
--verify recomputes every batch hash and checks that replaying the
whole log reproduces the stored glyphs exactly.

Exit codes:
  0 - Replay succeeded (and verified, with --verify)
  1 - Verification failed
  2 - Command error (store not found, non-sqlite backend, etc.)

Examples:
  glyph replay --db ./glyph.db
  glyph replay --db ./glyph.db --seq 3
  glyph replay --db ./glyph.db --verify --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "store path (overrides the config file)")
	cmd.Flags().Uint64Var(&opts.Seq, "seq", 0, "replay up to and including this commit")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "verify batch hashes and stored state")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := resolveConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	storage, err := openForRead(cfg)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return err
	}
	defer storage.Close()
	st, err := sqliteOnly(storage, "replay")
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return err
	}

	replayed, err := st.Replay(ctx, opts.Seq)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay commit log", err)
	}
	glyphs, err := glyphsJSON(replayed.Glyphs)
	if err != nil {
		return err
	}
	result := ReplayResult{Seq: replayed.Seq, Count: len(replayed.Glyphs), Glyphs: glyphs}
	formatter.VerboseLog("Replayed %d commit(s)", replayed.Seq)

	if opts.Verify {
		problem, err := verifyStore(ctx, st)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to verify store", err)
		}
		ok := problem == ""
		result.Verified = &ok
		result.Problem = problem
	}

	if formatter.Format == "json" {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(formatter, result, replayed.Glyphs)
}

// verifyStore checks the commit log against its hashes and against the
// stored glyph table. It returns a description of the first problem
// found, or "".
func verifyStore(ctx context.Context, st *store.Store) (string, error) {
	if err := st.VerifyLog(ctx); err != nil {
		return err.Error(), nil
	}

	full, err := st.Replay(ctx, 0)
	if err != nil {
		return "", err
	}
	stored, err := st.Dump(ctx, store.Filter{})
	if err != nil {
		return "", err
	}
	if len(full.Glyphs) != len(stored) {
		return fmt.Sprintf("replay produced %d glyph(s), store holds %d", len(full.Glyphs), len(stored)), nil
	}
	for i := range stored {
		same, err := sameRecord(full.Glyphs[i], stored[i])
		if err != nil {
			return "", err
		}
		if !same {
			return fmt.Sprintf("glyph %d differs between replay and store", stored[i].ID), nil
		}
	}
	return "", nil
}

func sameRecord(a, b ir.GlyphRecord) (bool, error) {
	ja, err := glyphJSON(a)
	if err != nil {
		return false, err
	}
	jb, err := glyphJSON(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ja, jb), nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(formatter *OutputFormatter, result ReplayResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	failed := result.Verified != nil && !*result.Verified
	if failed {
		response.Status = "error"
		response.Error = &CLIError{Code: ErrCodeLogCheck, Message: result.Problem}
	}

	if err := writeJSON(formatter.Writer, response); err != nil {
		return err
	}
	if failed {
		return NewExitError(ExitFailure, "log verification failed: "+result.Problem)
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(formatter *OutputFormatter, result ReplayResult, recs []ir.GlyphRecord) error {
	w := formatter.Writer

	fmt.Fprintf(w, "Replay Summary: %d glyph(s) at seq %d\n", result.Count, result.Seq)
	if formatter.Verbose {
		for _, rec := range recs {
			fmt.Fprintf(w, "  %s\n", formatGlyph(rec))
		}
	}

	if result.Verified == nil {
		return nil
	}
	fmt.Fprintln(w)
	if *result.Verified {
		fmt.Fprintln(w, "✓ Commit log verified")
		return nil
	}
	fmt.Fprintf(w, "✗ Verification failed: %s\n", result.Problem)
	return NewExitError(ExitFailure, "log verification failed: "+result.Problem)
}
