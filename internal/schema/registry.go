package schema

import (
	"slices"

	"github.com/roach88/glyph/internal/ir"
)

// Kind tags the descriptor variant.
type Kind uint8

const (
	KindScalar Kind = iota + 1
	KindNode
	KindEdge
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindNode:
		return "node"
	case KindEdge:
		return "edge"
	default:
		return "unknown"
	}
}

// Scalar type names. Attribute declarations reference one of these, or the
// name of a node/edge type to declare a reference attribute.
var scalarNames = []struct {
	name string
	kind ir.Kind
}{
	{"string", ir.KindString},
	{"int", ir.KindInt},
	{"float", ir.KindFloat},
	{"bool", ir.KindBool},
	{"time", ir.KindTime},
	{"ref", ir.KindRef},
}

// AttrDecl declares one attribute of a type.
type AttrDecl struct {
	Name string

	// Type is the value kind the attribute holds.
	Type ir.Kind

	// RefType narrows a reference attribute to glyphs of this type (or a
	// subtype). Zero accepts any glyph.
	RefType ir.TypeID

	Required bool
	Unique   bool

	// Default is applied on CREATE when the attribute is not supplied.
	Default ir.Value

	// DefaultNow applies the transaction clock on CREATE. Only valid for
	// time attributes.
	DefaultNow bool

	// Owner is the type that declared the attribute.
	Owner ir.TypeID
}

// HasDefault reports whether CREATE can fill the attribute when omitted.
func (a *AttrDecl) HasDefault() bool {
	return a.DefaultNow || !ir.IsNull(a.Default)
}

// Conform checks v against the declared kind. Int values are widened into
// float attributes. Null always conforms; required-ness is checked
// separately.
func (a *AttrDecl) Conform(v ir.Value) (ir.Value, bool) {
	if ir.IsNull(v) {
		return ir.Null{}, true
	}
	if v.Kind() == a.Type {
		return v, true
	}
	if a.Type == ir.KindFloat {
		if n, ok := v.(ir.Int); ok {
			return ir.Float(n), true
		}
	}
	return nil, false
}

// Type is a descriptor in the registry.
type Type struct {
	ID   ir.TypeID
	Name string
	Kind Kind

	// Scalar is the value kind for KindScalar descriptors.
	Scalar ir.Kind

	// Parent is the supertype, or zero.
	Parent ir.TypeID

	Arity int

	// Signature holds one type constraint per target position. Zero
	// accepts any glyph.
	Signature []ir.TypeID

	Abstract bool
	Sealed   bool

	// attrs holds own and inherited declarations, sorted by name.
	attrs []AttrDecl
}

// IsEdge reports whether the type describes edges.
func (t *Type) IsEdge() bool {
	return t.Kind == KindEdge
}

// Attrs returns all attribute declarations, own and inherited, by name.
func (t *Type) Attrs() []AttrDecl {
	return t.attrs
}

// Attr looks up an attribute declaration, including inherited ones.
func (t *Type) Attr(name string) (*AttrDecl, bool) {
	i, ok := slices.BinarySearchFunc(t.attrs, name, func(a AttrDecl, n string) int {
		switch {
		case a.Name < n:
			return -1
		case a.Name > n:
			return 1
		default:
			return 0
		}
	})
	if !ok {
		return nil, false
	}
	return &t.attrs[i], true
}

// UniqueAttrs returns the names of attributes declared unique.
func (t *Type) UniqueAttrs() []string {
	var out []string
	for _, a := range t.attrs {
		if a.Unique {
			out = append(out, a.Name)
		}
	}
	return out
}

// Registry is an immutable, versioned set of type descriptors.
// All methods are safe for concurrent use.
type Registry struct {
	version uint64
	types   []*Type // index = ID-1
	byName  map[string]*Type

	// descendants maps a type to itself plus every transitive subtype,
	// sorted by ID.
	descendants map[ir.TypeID][]ir.TypeID

	// specs are retained so Extend can rebuild with additions.
	specs []TypeSpec
}

// Version increases with every Builder.Build derived from this lineage.
func (r *Registry) Version() uint64 {
	return r.version
}

// Type returns the descriptor for id.
func (r *Registry) Type(id ir.TypeID) (*Type, bool) {
	if id <= 0 || int(id) > len(r.types) {
		return nil, false
	}
	return r.types[id-1], true
}

// Lookup returns the descriptor named name.
func (r *Registry) Lookup(name string) (*Type, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// TypeName returns the name of id, or "" if unknown.
func (r *Registry) TypeName(id ir.TypeID) string {
	if t, ok := r.Type(id); ok {
		return t.Name
	}
	return ""
}

// Types returns every node and edge type in ID order. Scalars are omitted.
func (r *Registry) Types() []*Type {
	out := make([]*Type, 0, len(r.types))
	for _, t := range r.types {
		if t.Kind != KindScalar {
			out = append(out, t)
		}
	}
	return out
}

// IsA reports whether sub equals super or inherits from it.
// A zero super matches everything.
func (r *Registry) IsA(sub, super ir.TypeID) bool {
	if super == 0 || sub == super {
		return true
	}
	for t, ok := r.Type(sub); ok && t.Parent != 0; t, ok = r.Type(t.Parent) {
		if t.Parent == super {
			return true
		}
	}
	return false
}

// Descendants returns id plus all its transitive subtypes, sorted by ID.
// The slice is shared and must not be modified.
func (r *Registry) Descendants(id ir.TypeID) []ir.TypeID {
	return r.descendants[id]
}

// Extend returns a Builder seeded with this registry's declarations.
// Building it produces a new registry with a higher version.
func (r *Registry) Extend() *Builder {
	b := NewBuilder()
	b.version = r.version
	b.specs = slices.Clone(r.specs)
	return b
}
