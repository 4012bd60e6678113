// Package expr defines the expression language shared by pattern
// conditions, constraint checks and rule productions.
//
// Expressions arrive as already-parsed trees. The pattern compiler calls
// Resolve to bind variable names to binding slots before evaluation, so
// an unbound variable is a compile-time error and never a runtime one.
//
// Evaluation is pure and total: null operands propagate, type mismatches
// and division by zero yield null, and nothing panics on user data.
package expr

import (
	"github.com/roach88/glyph/internal/ir"
)

// Node is a sealed interface over expression tree nodes.
type Node interface {
	node()
}

// Lit is a constant.
type Lit struct {
	Value ir.Value
}

// Var evaluates to a Ref to the glyph bound to Name.
type Var struct {
	Name string
	Slot int // set by Resolve
}

// Attr reads attribute Name of the glyph bound to Var.
type Attr struct {
	Var  string
	Name string
	Slot int // set by Resolve
}

// Unary applies a prefix operator.
type Unary struct {
	Op string // "-" or "not"
	X  Node
}

// Binary applies an infix operator.
//
// Arithmetic: + - * / %   Comparison: == != < <= > >=   Logic: and or
type Binary struct {
	Op   string
	L, R Node
}

// Call invokes a built-in function by name.
type Call struct {
	Fn   string
	Args []Node
}

// Agg evaluates Of over every match of a correlated sub-pattern and folds
// the results with Fn (count, sum, avg, min, max, collect).
//
// Pattern carries the uncompiled sub-pattern (a *pattern.AST); the pattern
// compiler replaces it with Index, a handle the evaluation Env understands.
type Agg struct {
	Fn      string
	Pattern any
	Of      Node
	Index   int
}

func (*Lit) node()    {}
func (*Var) node()    {}
func (*Attr) node()   {}
func (*Unary) node()  {}
func (*Binary) node() {}
func (*Call) node()   {}
func (*Agg) node()    {}

// Constructors keep hand-written trees in tests and fixtures short.

// L wraps a value.
func L(v ir.Value) Node { return &Lit{Value: v} }

// S is a string literal.
func S(s string) Node { return &Lit{Value: ir.String(s)} }

// I is an int literal.
func I(n int64) Node { return &Lit{Value: ir.Int(n)} }

// V references a pattern variable.
func V(name string) Node { return &Var{Name: name} }

// A reads variable.attr.
func A(v, name string) Node { return &Attr{Var: v, Name: name} }

// Op builds a binary expression.
func Op(op string, l, r Node) Node { return &Binary{Op: op, L: l, R: r} }

// Eq is shorthand for Op("==", l, r).
func Eq(l, r Node) Node { return Op("==", l, r) }

// Not negates x.
func Not(x Node) Node { return &Unary{Op: "not", X: x} }

// Fn calls a built-in.
func Fn(name string, args ...Node) Node { return &Call{Fn: name, Args: args} }

// Aggregate builds an aggregate over sub-pattern sub.
func Aggregate(fn string, sub any, of Node) Node { return &Agg{Fn: fn, Pattern: sub, Of: of} }
