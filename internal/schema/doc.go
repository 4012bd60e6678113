// Package schema is the glyph type registry.
//
// A Registry is an immutable, versioned set of descriptors. Every
// descriptor is one of three variants: a scalar (the value kinds that
// attributes may hold), a node type (arity 0) or an edge type (arity > 0).
// Schema changes go through a Builder and yield a new Registry with a
// higher version; registries already handed out never change, so matches
// and transactions in flight keep a consistent view.
//
// The registry is passed explicitly to every component that needs it.
// There is no package-level registry.
package schema
