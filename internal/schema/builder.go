package schema

import (
	"fmt"
	"slices"

	"github.com/roach88/glyph/internal/ir"
)

// TypeSpec declares a node or edge type by name.
//
// Arity is taken from Signature when present, otherwise from Arity,
// otherwise inherited from Parent. A subtype that omits Signature inherits
// the parent's signature.
type TypeSpec struct {
	Name   string
	Parent string

	Arity int

	// Signature names the accepted type per target position. "" or "any"
	// accepts any glyph.
	Signature []string

	Attrs []AttrSpec

	Abstract bool
	Sealed   bool
}

// AttrSpec declares an attribute. Type is a scalar name ("string", "int",
// "float", "bool", "time", "ref") or the name of a node/edge type, which
// declares a reference narrowed to that type.
type AttrSpec struct {
	Name       string
	Type       string
	Required   bool
	Unique     bool
	Default    ir.Value
	DefaultNow bool
}

// Builder accumulates type declarations and produces a Registry.
type Builder struct {
	version uint64
	specs   []TypeSpec
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a type declaration. Declarations may reference types added
// later; resolution happens in Build.
func (b *Builder) Add(spec TypeSpec) *Builder {
	b.specs = append(b.specs, spec)
	return b
}

// Node declares a node type with the given attributes.
func (b *Builder) Node(name string, attrs ...AttrSpec) *Builder {
	return b.Add(TypeSpec{Name: name, Attrs: attrs})
}

// Edge declares an edge type whose arity is len(signature).
func (b *Builder) Edge(name string, signature []string, attrs ...AttrSpec) *Builder {
	return b.Add(TypeSpec{Name: name, Signature: signature, Attrs: attrs})
}

// Build validates every declaration and returns a new Registry.
//
// Validation rules:
//   - type names are unique and do not shadow scalar names
//   - parents exist, are not sealed, and inheritance is acyclic
//   - a subtype keeps its parent's arity
//   - a subtype's signature position must be the parent's type or a subtype of it
//   - attribute types, defaults and overrides are consistent
func (b *Builder) Build() (*Registry, error) {
	r := &Registry{
		version:     b.version + 1,
		byName:      make(map[string]*Type),
		descendants: make(map[ir.TypeID][]ir.TypeID),
		specs:       slices.Clone(b.specs),
	}

	for _, s := range scalarNames {
		t := &Type{ID: ir.TypeID(len(r.types) + 1), Name: s.name, Kind: KindScalar, Scalar: s.kind, Sealed: true}
		r.types = append(r.types, t)
		r.byName[s.name] = t
	}
	r.byName["any"] = nil

	// Phase 1: allocate IDs in declaration order.
	specByID := make(map[ir.TypeID]*TypeSpec, len(b.specs))
	for i := range b.specs {
		s := &b.specs[i]
		if s.Name == "" {
			return nil, schemaErr("", "type name must not be empty")
		}
		if _, dup := r.byName[s.Name]; dup {
			return nil, schemaErr(s.Name, "duplicate or reserved type name")
		}
		t := &Type{ID: ir.TypeID(len(r.types) + 1), Name: s.Name, Abstract: s.Abstract, Sealed: s.Sealed}
		r.types = append(r.types, t)
		r.byName[s.Name] = t
		specByID[t.ID] = s
	}
	delete(r.byName, "any")

	// Phase 2: link parents.
	for id, s := range specByID {
		if s.Parent == "" {
			continue
		}
		p, ok := r.byName[s.Parent]
		if !ok || p.Kind == KindScalar {
			return nil, schemaErr(s.Name, fmt.Sprintf("unknown parent type %q", s.Parent))
		}
		if p.Sealed {
			return nil, schemaErr(s.Name, fmt.Sprintf("parent type %q is sealed", s.Parent))
		}
		r.types[id-1].Parent = p.ID
	}

	order, err := r.inheritanceOrder(specByID)
	if err != nil {
		return nil, err
	}

	// Phase 3: resolve arity, signature and attributes parents-first.
	for _, id := range order {
		if err := r.resolve(r.types[id-1], specByID[id]); err != nil {
			return nil, err
		}
	}

	for _, t := range r.types {
		if t.Kind == KindScalar {
			continue
		}
		for _, anc := range r.ancestry(t.ID) {
			r.descendants[anc] = append(r.descendants[anc], t.ID)
		}
	}
	return r, nil
}

// inheritanceOrder returns declared type IDs such that parents precede
// children, rejecting cycles.
func (r *Registry) inheritanceOrder(specs map[ir.TypeID]*TypeSpec) ([]ir.TypeID, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[ir.TypeID]int, len(specs))
	order := make([]ir.TypeID, 0, len(specs))

	ids := make([]ir.TypeID, 0, len(specs))
	for id := range specs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, start := range ids {
		// Walk up the parent chain iteratively, then emit top-down.
		var chain []ir.TypeID
		for id := start; id != 0 && state[id] != done; id = r.types[id-1].Parent {
			if state[id] == visiting {
				return nil, schemaErr(r.types[id-1].Name, "inheritance cycle")
			}
			state[id] = visiting
			chain = append(chain, id)
		}
		for i := len(chain) - 1; i >= 0; i-- {
			state[chain[i]] = done
			order = append(order, chain[i])
		}
	}
	return order, nil
}

func (r *Registry) resolve(t *Type, s *TypeSpec) error {
	var parent *Type
	if t.Parent != 0 {
		parent = r.types[t.Parent-1]
	}

	switch {
	case len(s.Signature) > 0:
		if s.Arity != 0 && s.Arity != len(s.Signature) {
			return schemaErr(t.Name, fmt.Sprintf("arity %d does not match signature length %d", s.Arity, len(s.Signature)))
		}
		t.Arity = len(s.Signature)
		t.Signature = make([]ir.TypeID, len(s.Signature))
		for i, name := range s.Signature {
			if name == "" || name == "any" {
				continue
			}
			st, ok := r.byName[name]
			if !ok || st.Kind == KindScalar {
				return schemaErr(t.Name, fmt.Sprintf("signature position %d: unknown type %q", i, name))
			}
			t.Signature[i] = st.ID
		}
	case s.Arity > 0:
		t.Arity = s.Arity
		t.Signature = make([]ir.TypeID, s.Arity)
	case parent != nil:
		t.Arity = parent.Arity
		t.Signature = slices.Clone(parent.Signature)
	}
	if s.Arity < 0 {
		return schemaErr(t.Name, "arity must not be negative")
	}

	if parent != nil {
		if t.Arity != parent.Arity {
			return schemaErr(t.Name, fmt.Sprintf("arity %d differs from parent %s arity %d", t.Arity, parent.Name, parent.Arity))
		}
		for i, want := range parent.Signature {
			if !r.IsA(t.Signature[i], want) {
				return schemaErr(t.Name, fmt.Sprintf("signature position %d widens parent %s (%s is not a %s)",
					i, parent.Name, r.typeLabel(t.Signature[i]), r.typeLabel(want)))
			}
		}
	}

	if t.Arity == 0 {
		t.Kind = KindNode
	} else {
		t.Kind = KindEdge
	}

	var inherited []AttrDecl
	if parent != nil {
		inherited = parent.attrs
	}
	attrs := slices.Clone(inherited)
	seen := make(map[string]bool, len(s.Attrs))
	for _, as := range s.Attrs {
		if as.Name == "" {
			return schemaErr(t.Name, "attribute name must not be empty")
		}
		if seen[as.Name] {
			return attrErr(t.Name, as.Name, "duplicate attribute")
		}
		seen[as.Name] = true

		decl, err := r.resolveAttr(t, as)
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(attrs, func(a AttrDecl) bool { return a.Name == as.Name })
		if idx < 0 {
			attrs = append(attrs, decl)
			continue
		}
		prev := attrs[idx]
		if prev.Type != decl.Type || !r.IsA(decl.RefType, prev.RefType) {
			return attrErr(t.Name, as.Name, "override changes the inherited attribute type")
		}
		attrs[idx] = decl
	}
	slices.SortFunc(attrs, func(a, b AttrDecl) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	t.attrs = attrs
	return nil
}

func (r *Registry) resolveAttr(t *Type, as AttrSpec) (AttrDecl, error) {
	decl := AttrDecl{
		Name:       as.Name,
		Required:   as.Required,
		Unique:     as.Unique,
		DefaultNow: as.DefaultNow,
		Owner:      t.ID,
	}
	at, ok := r.byName[as.Type]
	if !ok {
		return decl, attrErr(t.Name, as.Name, fmt.Sprintf("unknown attribute type %q", as.Type))
	}
	if at.Kind == KindScalar {
		decl.Type = at.Scalar
	} else {
		decl.Type = ir.KindRef
		decl.RefType = at.ID
	}

	if decl.DefaultNow && decl.Type != ir.KindTime {
		return decl, attrErr(t.Name, as.Name, "now() default requires a time attribute")
	}
	if !ir.IsNull(as.Default) {
		v, ok := decl.Conform(as.Default)
		if !ok {
			return decl, attrErr(t.Name, as.Name, fmt.Sprintf("default %s is not a %s", ir.Format(as.Default), decl.Type))
		}
		decl.Default = v
	}
	return decl, nil
}

// ancestry returns id followed by each of its supertypes.
func (r *Registry) ancestry(id ir.TypeID) []ir.TypeID {
	var out []ir.TypeID
	for id != 0 {
		out = append(out, id)
		id = r.types[id-1].Parent
	}
	return out
}

func (r *Registry) typeLabel(id ir.TypeID) string {
	if id == 0 {
		return "any"
	}
	return r.types[id-1].Name
}

func schemaErr(typeName, msg string) error {
	return &ir.Error{Kind: ir.KindSchema, Message: msg, Type: typeName}
}

func attrErr(typeName, attr, msg string) error {
	return &ir.Error{Kind: ir.KindSchema, Message: msg, Type: typeName, Attr: attr}
}
