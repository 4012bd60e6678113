package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/store"
	"github.com/roach88/glyph/internal/store/badgerstore"
	"github.com/roach88/glyph/internal/txn"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Database string
	Glyph    int64 // optional - provenance of one glyph
}

// LogEntry is one commit of the log.
type LogEntry struct {
	Seq       uint64 `json:"seq"`
	TxID      string `json:"tx_id"`
	BatchHash string `json:"batch_hash,omitempty"`
	Upserts   int    `json:"upserts"`
	Deletes   int    `json:"deletes"`
	Effects   int    `json:"effects"`
}

// ProvenanceEntry attributes one change of a glyph to a rule.
type ProvenanceEntry struct {
	Seq  uint64 `json:"seq"`
	Op   string `json:"op"`
	Attr string `json:"attr,omitempty"`
	Rule string `json:"rule"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the commit log or a glyph's provenance",
		Long: `Show the commit log of a durable store, oldest first.

With --glyph, show which rules created, set or deleted that glyph
instead. Provenance outlives the glyph, so deleted ids can be traced.

Examples:
  glyph log --db ./glyph.db
  glyph log --db ./glyph.db --glyph 1
  glyph log --db ./glyph.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "store path (overrides the config file)")
	cmd.Flags().Int64Var(&opts.Glyph, "glyph", 0, "show provenance of this glyph id")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
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

	if opts.Glyph != 0 {
		entries, err := readProvenance(ctx, st, ir.GlyphID(opts.Glyph))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read provenance", err)
		}
		if formatter.Format == "json" {
			return formatter.Success(entries)
		}
		writeProvenance(formatter.Writer, opts.Glyph, entries)
		return nil
	}

	entries, err := readLog(ctx, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read commit log", err)
	}
	if formatter.Format == "json" {
		return formatter.Success(entries)
	}

	w := formatter.Writer
	if len(entries) == 0 {
		fmt.Fprintln(w, "No commits found.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "seq %d  tx %s  upserts=%d deletes=%d effects=%d\n",
			e.Seq, e.TxID, e.Upserts, e.Deletes, e.Effects)
		if opts.Verbose && e.BatchHash != "" {
			fmt.Fprintf(w, "  hash %s\n", e.BatchHash)
		}
	}
	return nil
}

// readLog reads the commit log of either backend. Only SQLite records
// batch hashes.
func readLog(ctx context.Context, st txn.Storage) ([]LogEntry, error) {
	out := []LogEntry{}
	switch s := st.(type) {
	case *store.Store:
		commits, err := s.Commits(ctx)
		if err != nil {
			return nil, err
		}
		batches, err := s.Batches(ctx, 0)
		if err != nil {
			return nil, err
		}
		counts := make(map[uint64]int, len(batches))
		for _, b := range batches {
			counts[b.Seq] = len(b.Effects)
		}
		for _, c := range commits {
			out = append(out, LogEntry{
				Seq:       c.Seq,
				TxID:      c.TxID,
				BatchHash: c.BatchHash,
				Upserts:   c.Upserts,
				Deletes:   c.Deletes,
				Effects:   counts[c.Seq],
			})
		}
	case *badgerstore.Store:
		commits, err := s.Commits(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range commits {
			out = append(out, LogEntry{
				Seq:     c.Seq,
				TxID:    c.TxID,
				Upserts: c.Upserts,
				Deletes: len(c.Deletes),
				Effects: len(c.Effects),
			})
		}
	default:
		return nil, fmt.Errorf("unsupported store %T", st)
	}
	return out, nil
}

func readProvenance(ctx context.Context, st txn.Storage, id ir.GlyphID) ([]ProvenanceEntry, error) {
	out := []ProvenanceEntry{}
	switch s := st.(type) {
	case *store.Store:
		prov, err := s.Provenance(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, p := range prov {
			out = append(out, ProvenanceEntry{Seq: p.Seq, Op: p.Op, Attr: p.Attr, Rule: p.Rule})
		}
	case *badgerstore.Store:
		commits, err := s.Commits(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range commits {
			for _, e := range c.Effects {
				if e.Glyph == id {
					out = append(out, ProvenanceEntry{Seq: c.Seq, Op: e.Op.String(), Attr: e.Attr, Rule: e.Rule})
				}
			}
		}
	default:
		return nil, fmt.Errorf("unsupported store %T", st)
	}
	return out, nil
}

func writeProvenance(w io.Writer, id int64, entries []ProvenanceEntry) {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No rule effects recorded for #%d.\n", id)
		return
	}
	fmt.Fprintf(w, "Provenance of #%d:\n", id)
	for _, e := range entries {
		if e.Attr != "" {
			fmt.Fprintf(w, "  seq %d  %s .%s  by %s\n", e.Seq, e.Op, e.Attr, e.Rule)
			continue
		}
		fmt.Fprintf(w, "  seq %d  %s  by %s\n", e.Seq, e.Op, e.Rule)
	}
}
