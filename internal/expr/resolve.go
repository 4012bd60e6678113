package expr

import (
	"fmt"
	"slices"

	"github.com/roach88/glyph/internal/ir"
)

var binaryOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true,
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"and": true, "or": true,
}

// arity bounds per built-in; max -1 means variadic.
var builtins = map[string][2]int{
	"now":      {0, 0},
	"id":       {1, 1},
	"type":     {1, 1},
	"arity":    {1, 1},
	"target":   {2, 2},
	"coalesce": {1, -1},
	"is_null":  {1, 1},
	"abs":      {1, 1},
	"lower":    {1, 1},
	"upper":    {1, 1},
	"len":      {1, 1},
}

var aggregates = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true, "collect": true,
}

// SlotFunc maps a variable name to its binding slot.
type SlotFunc func(name string) (int, bool)

// AggFunc compiles an aggregate's sub-pattern and resolves its Of
// expression in the sub-pattern's scope.
type AggFunc func(a *Agg) (*Agg, error)

// Resolve returns a copy of n with every variable bound to a slot and
// every aggregate compiled. Unknown variables, operators and functions
// are schema errors.
func Resolve(n Node, slots SlotFunc, aggs AggFunc) (Node, error) {
	switch x := n.(type) {
	case nil:
		return nil, ir.Errorf(ir.KindSchema, "empty expression")
	case *Lit:
		v := x.Value
		if v == nil {
			v = ir.Null{}
		}
		return &Lit{Value: v}, nil
	case *Var:
		slot, ok := slots(x.Name)
		if !ok {
			return nil, undeclared(x.Name)
		}
		return &Var{Name: x.Name, Slot: slot}, nil
	case *Attr:
		slot, ok := slots(x.Var)
		if !ok {
			return nil, undeclared(x.Var)
		}
		return &Attr{Var: x.Var, Name: x.Name, Slot: slot}, nil
	case *Unary:
		if x.Op != "-" && x.Op != "not" {
			return nil, ir.Errorf(ir.KindSchema, "unknown unary operator %q", x.Op)
		}
		inner, err := Resolve(x.X, slots, aggs)
		if err != nil {
			return nil, err
		}
		return &Unary{Op: x.Op, X: inner}, nil
	case *Binary:
		if !binaryOps[x.Op] {
			return nil, ir.Errorf(ir.KindSchema, "unknown operator %q", x.Op)
		}
		l, err := Resolve(x.L, slots, aggs)
		if err != nil {
			return nil, err
		}
		r, err := Resolve(x.R, slots, aggs)
		if err != nil {
			return nil, err
		}
		return &Binary{Op: x.Op, L: l, R: r}, nil
	case *Call:
		bounds, ok := builtins[x.Fn]
		if !ok {
			return nil, ir.Errorf(ir.KindSchema, "unknown function %q", x.Fn)
		}
		if len(x.Args) < bounds[0] || (bounds[1] >= 0 && len(x.Args) > bounds[1]) {
			return nil, ir.Errorf(ir.KindSchema, "function %s: wrong number of arguments (%d)", x.Fn, len(x.Args))
		}
		args := make([]Node, len(x.Args))
		for i, a := range x.Args {
			r, err := Resolve(a, slots, aggs)
			if err != nil {
				return nil, err
			}
			args[i] = r
		}
		return &Call{Fn: x.Fn, Args: args}, nil
	case *Agg:
		if !aggregates[x.Fn] {
			return nil, ir.Errorf(ir.KindSchema, "unknown aggregate %q", x.Fn)
		}
		if x.Of == nil && x.Fn != "count" {
			return nil, ir.Errorf(ir.KindSchema, "aggregate %s requires an expression", x.Fn)
		}
		if aggs == nil {
			return nil, ir.Errorf(ir.KindSchema, "aggregates are not allowed here")
		}
		return aggs(x)
	default:
		return nil, ir.Errorf(ir.KindInternal, "unknown expression node %T", n)
	}
}

func undeclared(name string) error {
	return &ir.Error{
		Kind:    ir.KindSchema,
		Message: fmt.Sprintf("reference to undeclared variable %q", name),
		Details: map[string]string{"variable": name},
	}
}

// FreeVars lists the variable names n references outside aggregates,
// deduplicated and sorted.
func FreeVars(n Node) []string {
	var out []string
	walk(n, func(x Node) bool {
		switch v := x.(type) {
		case *Var:
			out = append(out, v.Name)
		case *Attr:
			out = append(out, v.Var)
		case *Agg:
			return false
		}
		return true
	})
	slices.Sort(out)
	return slices.Compact(out)
}

// HasAggregate reports whether n contains an aggregate.
func HasAggregate(n Node) bool {
	found := false
	walk(n, func(x Node) bool {
		if _, ok := x.(*Agg); ok {
			found = true
		}
		return !found
	})
	return found
}

// UsesNow reports whether n reads the clock.
func UsesNow(n Node) bool {
	found := false
	walk(n, func(x Node) bool {
		if c, ok := x.(*Call); ok && c.Fn == "now" {
			found = true
		}
		return !found
	})
	return found
}

// walk visits n depth-first; visit returning false prunes the subtree.
func walk(n Node, visit func(Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	switch x := n.(type) {
	case *Unary:
		walk(x.X, visit)
	case *Binary:
		walk(x.L, visit)
		walk(x.R, visit)
	case *Call:
		for _, a := range x.Args {
			walk(a, visit)
		}
	case *Agg:
		walk(x.Of, visit)
	}
}
