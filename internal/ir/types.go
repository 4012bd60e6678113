package ir

import (
	"slices"
	"strconv"
	"strings"
)

// GlyphID identifies a glyph. IDs are allocated monotonically by the graph
// and are never reused within a graph instance. Zero is never a valid ID.
type GlyphID int64

// TypeID identifies a type descriptor in a schema registry. Zero means
// "no type" (an unconstrained signature position or pattern variable).
type TypeID int32

// Glyph is the sole data primitive: nodes have no targets, edges have one
// or more. A target may itself be an edge (higher-order edge).
//
// Glyphs handed out by a graph view are shared and MUST NOT be mutated;
// use Clone to obtain a private copy.
type Glyph struct {
	ID      GlyphID
	Type    TypeID
	Targets []GlyphID
	Attrs   map[string]Value
}

// Arity returns the number of targets.
func (g *Glyph) Arity() int {
	return len(g.Targets)
}

// IsEdge reports whether the glyph has at least one target.
func (g *Glyph) IsEdge() bool {
	return len(g.Targets) > 0
}

// Attr returns the attribute value, or Null if unset.
func (g *Glyph) Attr(name string) Value {
	if v, ok := g.Attrs[name]; ok && v != nil {
		return v
	}
	return Null{}
}

// Clone returns a deep copy of the glyph (targets slice and attribute map).
func (g *Glyph) Clone() *Glyph {
	c := &Glyph{
		ID:      g.ID,
		Type:    g.Type,
		Targets: slices.Clone(g.Targets),
		Attrs:   make(map[string]Value, len(g.Attrs)),
	}
	for k, v := range g.Attrs {
		c.Attrs[k] = v
	}
	return c
}

// SortedAttrNames returns attribute names in byte order for deterministic output.
func (g *Glyph) SortedAttrNames() []string {
	names := make([]string, 0, len(g.Attrs))
	for k := range g.Attrs {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// Binding maps pattern variables to glyph IDs. Names is shared with the
// compiled pattern that produced it and must not be modified.
//
// Two bindings are distinct iff their IDs differ in any position,
// including anonymous and edge-alias variables.
type Binding struct {
	Names []string
	IDs   []GlyphID
}

// Get returns the glyph bound to name.
func (b Binding) Get(name string) (GlyphID, bool) {
	for i, n := range b.Names {
		if n == name {
			return b.IDs[i], b.IDs[i] != 0
		}
	}
	return 0, false
}

// Identity returns the ordered tuple of bound glyph IDs.
func (b Binding) Identity() []GlyphID {
	return b.IDs
}

// Key renders the identity as a compact string usable as a map key.
func (b Binding) Key() string {
	return IdentityKey(b.IDs)
}

// Map converts the binding into a name → ID map, skipping anonymous
// variables (names beginning with '_').
func (b Binding) Map() map[string]GlyphID {
	m := make(map[string]GlyphID, len(b.Names))
	for i, n := range b.Names {
		if strings.HasPrefix(n, "_") {
			continue
		}
		m[n] = b.IDs[i]
	}
	return m
}

// String renders the binding as "{a=#1, b=#2}".
func (b Binding) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, n := range b.Names {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(n)
		sb.WriteString("=#")
		sb.WriteString(strconv.FormatInt(int64(b.IDs[i]), 10))
	}
	sb.WriteByte('}')
	return sb.String()
}

// IdentityKey renders an identity tuple as "1,2,3".
func IdentityKey(ids []GlyphID) string {
	var sb strings.Builder
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(int64(id), 10))
	}
	return sb.String()
}

// CompareIdentity orders identity tuples lexicographically by glyph ID.
func CompareIdentity(a, b []GlyphID) int {
	return slices.Compare(a, b)
}

// MutationOp is one of the three elementary mutations.
type MutationOp uint8

const (
	OpCreate MutationOp = iota + 1
	OpDelete
	OpSet
)

func (op MutationOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpSet:
		return "set"
	default:
		return "unknown"
	}
}

// Mutation records one effective change applied to a transaction buffer.
// No-op SETs never produce a record.
type Mutation struct {
	Op    MutationOp
	Glyph GlyphID
	Type  TypeID
	Attr  string // OpSet only
	Old   Value  // OpSet only
	New   Value  // OpSet only
	Cause string // rule name that produced it, or "" for user mutations
}

// GlyphRecord is the storage form of a glyph. Types are stored by name so
// that records survive registry rebuilds that renumber type IDs.
type GlyphRecord struct {
	ID      GlyphID          `msgpack:"id"`
	Type    string           `msgpack:"type"`
	Targets []GlyphID        `msgpack:"targets"`
	Attrs   map[string]Value `msgpack:"-"`
}

// Batch is the unit handed to a durability backend on commit. Deletes
// are ascending; edges always have larger ids than their targets.
type Batch struct {
	Seq     uint64
	TxID    string
	Upserts []GlyphRecord
	Deletes []GlyphID

	// Effects attributes rule-produced mutations to their rules.
	Effects []Effect

	// NextID is the first glyph id not yet handed out when the batch
	// committed. Storage keeps the highest value seen so ids of deleted
	// glyphs are not reissued after a restart.
	NextID GlyphID
}

// Effect records that a rule created, deleted or set a glyph.
type Effect struct {
	Glyph GlyphID
	Op    MutationOp
	Attr  string
	Rule  string
}
