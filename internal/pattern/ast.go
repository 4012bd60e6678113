// Package pattern compiles graph patterns into an index-aware form.
//
// A pattern is a set of node variables, edge patterns over those
// variables, boolean conditions and negated sub-patterns. Compile
// resolves every name against a schema registry, checks arities and
// variable scoping, and records which types can change the pattern's
// result. Plan picks a join order for a given set of pre-bound variables.
//
// Matching itself lives in package match.
package pattern

import (
	"github.com/roach88/glyph/internal/expr"
)

// Closure selects transitive traversal for a binary edge pattern.
type Closure uint8

const (
	// ClosureNone matches exactly one edge.
	ClosureNone Closure = iota
	// ClosurePlus matches paths of one or more edges (edge+).
	ClosurePlus
	// ClosureStar matches paths of zero or more edges (edge*).
	ClosureStar
)

func (c Closure) String() string {
	switch c {
	case ClosurePlus:
		return "+"
	case ClosureStar:
		return "*"
	default:
		return ""
	}
}

// Anon is the anonymous variable name. Every occurrence is a distinct
// variable that still counts toward binding identity.
const Anon = "_"

// NodeVar declares a variable with a type constraint. An empty Type (or
// "any") leaves the variable unconstrained.
type NodeVar struct {
	Name string
	Type string
}

// EdgePat matches edges of Type (or a subtype) whose targets bind to the
// named variables in order.
type EdgePat struct {
	Type    string
	Targets []string

	// Alias binds the matched edge's own id.
	Alias string

	// Negated turns the edge into NOT EXISTS(edge).
	Negated bool

	Closure Closure

	// MaxDepth bounds closure traversal in hops; zero is unbounded.
	MaxDepth int
}

// AST is a parsed, not yet resolved pattern.
type AST struct {
	Nodes []NodeVar
	Edges []EdgePat
	Where []expr.Node

	// Not holds NOT EXISTS sub-patterns. They may reference any variable
	// of the enclosing pattern and may declare local ones.
	Not []*AST
}

// Node appends a node variable.
func (a *AST) Node(name, typ string) *AST {
	a.Nodes = append(a.Nodes, NodeVar{Name: name, Type: typ})
	return a
}

// Edge appends an edge pattern.
func (a *AST) Edge(typ string, targets ...string) *AST {
	a.Edges = append(a.Edges, EdgePat{Type: typ, Targets: targets})
	return a
}

// AliasEdge appends an edge pattern that binds the edge itself to alias.
func (a *AST) AliasEdge(alias, typ string, targets ...string) *AST {
	a.Edges = append(a.Edges, EdgePat{Type: typ, Targets: targets, Alias: alias})
	return a
}

// Path appends a closure edge pattern between from and to.
func (a *AST) Path(typ string, mode Closure, from, to string) *AST {
	a.Edges = append(a.Edges, EdgePat{Type: typ, Targets: []string{from, to}, Closure: mode})
	return a
}

// Filter appends a condition.
func (a *AST) Filter(cond expr.Node) *AST {
	a.Where = append(a.Where, cond)
	return a
}

// Without appends a NOT EXISTS sub-pattern.
func (a *AST) Without(sub *AST) *AST {
	a.Not = append(a.Not, sub)
	return a
}

// New starts an empty pattern.
func New() *AST {
	return &AST{}
}
