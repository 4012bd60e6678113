// Package ir provides the core data types shared by every layer of the
// glyph kernel: glyphs, attribute values, bindings, mutation records and
// structured errors.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This ensures IR remains the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Value is a sealed sum type; nil and Null are interchangeable
//   - Glyph IDs are int64, allocated monotonically, never reused
//   - Canonical JSON (RFC 8785 ordering, NFC strings) is the only
//     encoding used for persisted attribute blobs and hashes
package ir
