// Package badgerstore is an embedded key-value durability backend for
// committed glyphs, built on BadgerDB.
//
// Layout:
//
//	g/<id>   msgpack glyph envelope, attributes as canonical JSON
//	c/<seq>  msgpack commit envelope
//	meta/seq last applied commit sequence
//	meta/next_id  id allocator high-water mark
//
// Ids and sequences are big-endian so prefix iteration yields id order.
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/glyph/internal/ir"
)

var (
	prefixGlyph  = []byte("g/")
	prefixCommit = []byte("c/")
	keySeq       = []byte("meta/seq")
	keyNextID    = []byte("meta/next_id")
)

// Config holds configuration for a Store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory.
	Path string

	// InMemory keeps everything in RAM. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	// Default: false.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil disables them.
	Logger *slog.Logger
}

// Store persists committed batches in BadgerDB.
// Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// glyphEnvelope is the on-disk form of one glyph.
type glyphEnvelope struct {
	ID      ir.GlyphID   `msgpack:"id"`
	Type    string       `msgpack:"type"`
	Targets []ir.GlyphID `msgpack:"targets,omitempty"`
	Attrs   []byte       `msgpack:"attrs"`
	Seq     uint64       `msgpack:"seq"`
}

// commitEnvelope is the on-disk form of one commit log entry.
type commitEnvelope struct {
	Seq     uint64       `msgpack:"seq"`
	TxID    string       `msgpack:"tx_id"`
	Upserts int          `msgpack:"upserts"`
	Deletes []ir.GlyphID `msgpack:"deletes,omitempty"`
	Effects []effect     `msgpack:"effects,omitempty"`
}

type effect struct {
	Glyph ir.GlyphID `msgpack:"glyph"`
	Op    uint8      `msgpack:"op"`
	Attr  string     `msgpack:"attr,omitempty"`
	Rule  string     `msgpack:"rule"`
}

// Open creates or opens a store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Apply writes one batch in a single Badger transaction. A batch whose
// seq was already applied is ignored.
func (s *Store) Apply(ctx context.Context, b ir.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Seq == 0 {
		return errors.New("apply batch: seq must be positive")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		ck := key(prefixCommit, b.Seq)
		if _, err := txn.Get(ck); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("apply batch %d: %w", b.Seq, err)
		}

		for _, id := range b.Deletes {
			if err := txn.Delete(key(prefixGlyph, uint64(id))); err != nil {
				return fmt.Errorf("apply batch %d: delete glyph %d: %w", b.Seq, id, err)
			}
		}
		for _, rec := range b.Upserts {
			attrs, err := ir.EncodeAttrs(rec.Attrs)
			if err != nil {
				return fmt.Errorf("apply batch %d: glyph %d: %w", b.Seq, rec.ID, err)
			}
			val, err := msgpack.Marshal(glyphEnvelope{
				ID:      rec.ID,
				Type:    rec.Type,
				Targets: rec.Targets,
				Attrs:   attrs,
				Seq:     b.Seq,
			})
			if err != nil {
				return fmt.Errorf("apply batch %d: glyph %d: %w", b.Seq, rec.ID, err)
			}
			if err := txn.Set(key(prefixGlyph, uint64(rec.ID)), val); err != nil {
				return fmt.Errorf("apply batch %d: glyph %d: %w", b.Seq, rec.ID, err)
			}
		}

		env := commitEnvelope{Seq: b.Seq, TxID: b.TxID, Upserts: len(b.Upserts), Deletes: b.Deletes}
		for _, e := range b.Effects {
			env.Effects = append(env.Effects, effect{Glyph: e.Glyph, Op: uint8(e.Op), Attr: e.Attr, Rule: e.Rule})
		}
		val, err := msgpack.Marshal(env)
		if err != nil {
			return fmt.Errorf("apply batch %d: %w", b.Seq, err)
		}
		if err := txn.Set(ck, val); err != nil {
			return fmt.Errorf("apply batch %d: %w", b.Seq, err)
		}

		next, err := readUint(txn, keyNextID)
		if err != nil {
			return fmt.Errorf("apply batch %d: %w", b.Seq, err)
		}
		if uint64(b.NextID) > next {
			if err := txn.Set(keyNextID, binary.BigEndian.AppendUint64(nil, uint64(b.NextID))); err != nil {
				return fmt.Errorf("apply batch %d: %w", b.Seq, err)
			}
		}
		return txn.Set(keySeq, binary.BigEndian.AppendUint64(nil, b.Seq))
	})
}

// NextID returns the recorded id high-water mark, or 0 if no batch
// carried one. Load's glyphs cover the rest.
func (s *Store) NextID(ctx context.Context) (ir.GlyphID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var next uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		next, err = readUint(txn, keyNextID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("read next id: %w", err)
	}
	return ir.GlyphID(next), nil
}

// readUint reads a big-endian counter; a missing key reads as 0.
func readUint(txn *badger.Txn, k []byte) (uint64, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(v []byte) error {
		n = binary.BigEndian.Uint64(v)
		return nil
	})
	return n, err
}

// Load returns every glyph in id order and the last applied sequence.
func (s *Store) Load(ctx context.Context) ([]ir.GlyphRecord, uint64, error) {
	var (
		recs []ir.GlyphRecord
		seq  uint64
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if seq, err = readUint(txn, keySeq); err != nil {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixGlyph
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefixGlyph); it.ValidForPrefix(prefixGlyph); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var env glyphEnvelope
			if err := it.Item().Value(func(v []byte) error {
				return msgpack.Unmarshal(v, &env)
			}); err != nil {
				return fmt.Errorf("decode glyph: %w", err)
			}
			attrs, err := ir.DecodeAttrs(env.Attrs)
			if err != nil {
				return fmt.Errorf("decode glyph %d: %w", env.ID, err)
			}
			var targets []ir.GlyphID
			if len(env.Targets) > 0 {
				targets = env.Targets
			}
			recs = append(recs, ir.GlyphRecord{ID: env.ID, Type: env.Type, Targets: targets, Attrs: attrs})
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("load: %w", err)
	}
	return recs, seq, nil
}

// Commit is one entry of the commit log.
type Commit struct {
	Seq     uint64
	TxID    string
	Upserts int
	Deletes []ir.GlyphID
	Effects []ir.Effect
}

// Commits returns the commit log in sequence order.
func (s *Store) Commits(ctx context.Context) ([]Commit, error) {
	var out []Commit
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixCommit
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefixCommit); it.ValidForPrefix(prefixCommit); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var env commitEnvelope
			if err := it.Item().Value(func(v []byte) error {
				return msgpack.Unmarshal(v, &env)
			}); err != nil {
				return fmt.Errorf("decode commit: %w", err)
			}
			c := Commit{Seq: env.Seq, TxID: env.TxID, Upserts: env.Upserts, Deletes: env.Deletes}
			for _, e := range env.Effects {
				c.Effects = append(c.Effects, ir.Effect{Glyph: e.Glyph, Op: ir.MutationOp(e.Op), Attr: e.Attr, Rule: e.Rule})
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read commits: %w", err)
	}
	return out, nil
}

func key(prefix []byte, n uint64) []byte {
	k := make([]byte, len(prefix)+8)
	copy(k, prefix)
	binary.BigEndian.PutUint64(k[len(prefix):], n)
	return k
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
