// Package store provides SQLite-backed durable storage for committed
// glyphs.
//
// The store keeps the current graph plus an append-only commit log:
//   - Glyphs: one row per live glyph, attributes as canonical JSON
//   - Glyph targets: ordered edge targets, referentially checked
//   - Commits: every applied batch, canonical JSON plus its hash
//   - Provenance: which rule created, deleted or set which glyph
//
// # Critical Patterns
//
// Apply is idempotent per commit sequence: re-applying a batch whose seq
// is already logged is a no-op, so a caller may retry after a crash.
//
// All reads are ordered by id (and seq for history) so dumps are
// byte-for-byte reproducible.
//
// Replay folds the commit log and must reproduce the glyph tables; it is
// the consistency check for the current-state tables.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Edge targets must exist
package store
