package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/store"
	"github.com/roach88/glyph/internal/txn"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Database string
	Types    []string
	Glyph    int64
}

// DumpResult is the JSON payload of the dump command.
type DumpResult struct {
	Seq    uint64            `json:"seq"`
	Count  int               `json:"count"`
	Glyphs []json.RawMessage `json:"glyphs"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "List stored glyphs",
		Long: `List the glyphs in a durable store in id order.

--type matches type names exactly and may be repeated; subtypes are not
included. --glyph prints a single glyph.

Examples:
  glyph dump --db ./glyph.db
  glyph dump --db ./glyph.db --type Book --type Member
  glyph dump --db ./glyph.db --glyph 3 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "store path (overrides the config file)")
	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "only glyphs of this exact type (repeatable)")
	cmd.Flags().Int64Var(&opts.Glyph, "glyph", 0, "only the glyph with this id")

	return cmd
}

func runDump(opts *DumpOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := resolveConfig(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	st, err := openForRead(cfg)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return err
	}
	defer st.Close()

	recs, seq, err := readGlyphs(ctx, st, opts.Types)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read glyphs", err)
	}
	if opts.Glyph != 0 {
		recs = slices.DeleteFunc(recs, func(r ir.GlyphRecord) bool { return r.ID != ir.GlyphID(opts.Glyph) })
		if len(recs) == 0 {
			msg := fmt.Sprintf("glyph %d not found", opts.Glyph)
			_ = formatter.Error(ErrCodeNotFound, msg, nil)
			return NewExitError(ExitFailure, msg)
		}
	}

	if formatter.Format == "json" {
		glyphs, err := glyphsJSON(recs)
		if err != nil {
			return err
		}
		return formatter.Success(DumpResult{Seq: seq, Count: len(recs), Glyphs: glyphs})
	}

	w := formatter.Writer
	for _, rec := range recs {
		fmt.Fprintln(w, formatGlyph(rec))
	}
	fmt.Fprintf(w, "\n%d glyph(s) at seq %d\n", len(recs), seq)
	return nil
}

// openForRead opens the configured store for inspection. Unlike exec it
// refuses to create a missing store.
func openForRead(cfg *Config) (txn.Storage, error) {
	if cfg.Storage.Backend == BackendMemory {
		return nil, NewExitError(ExitCommandError, "the memory backend keeps nothing to read")
	}
	if _, err := os.Stat(cfg.Storage.Path); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("store not found: %s", cfg.Storage.Path))
	}
	st, err := cfg.OpenStorage(nil)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return st, nil
}

// readGlyphs returns the stored glyphs of the given types (all when
// empty) and the last applied sequence.
func readGlyphs(ctx context.Context, st txn.Storage, types []string) ([]ir.GlyphRecord, uint64, error) {
	if s, ok := st.(*store.Store); ok {
		recs, err := s.Dump(ctx, store.Filter{Types: types})
		if err != nil {
			return nil, 0, err
		}
		seq, err := s.Seq(ctx)
		return recs, seq, err
	}

	recs, seq, err := st.Load(ctx)
	if err != nil {
		return nil, 0, err
	}
	if len(types) > 0 {
		recs = slices.DeleteFunc(recs, func(r ir.GlyphRecord) bool { return !slices.Contains(types, r.Type) })
	}
	return recs, seq, nil
}

// sqliteOnly narrows st to the SQLite backend for commands that read its
// hashed commit log.
func sqliteOnly(st txn.Storage, command string) (*store.Store, error) {
	if s, ok := st.(*store.Store); ok {
		return s, nil
	}
	return nil, NewExitError(ExitCommandError, fmt.Sprintf("%s requires the sqlite backend", command))
}
