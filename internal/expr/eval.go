package expr

import (
	"math"
	"strings"

	"github.com/roach88/glyph/internal/ir"
)

// Env supplies bindings and graph access to the evaluator.
type Env interface {
	// Slot returns the glyph bound to slot i, or zero if unbound.
	Slot(i int) ir.GlyphID

	// Glyph returns a visible glyph.
	Glyph(id ir.GlyphID) (*ir.Glyph, bool)

	// TypeName renders a type ID.
	TypeName(id ir.TypeID) string

	// Now is the transaction clock.
	Now() ir.Time

	// Each calls fn with an Env for every match of a's sub-pattern,
	// in deterministic order, until fn returns false.
	Each(a *Agg, fn func(Env) bool)
}

// Truthy reports whether v is Bool(true). Null and non-bools are false.
func Truthy(v ir.Value) bool {
	b, ok := v.(ir.Bool)
	return ok && bool(b)
}

// Eval evaluates a resolved expression.
func Eval(n Node, env Env) ir.Value {
	switch x := n.(type) {
	case *Lit:
		return x.Value
	case *Var:
		id := env.Slot(x.Slot)
		if id == 0 {
			return ir.Null{}
		}
		return ir.Ref(id)
	case *Attr:
		g, ok := env.Glyph(env.Slot(x.Slot))
		if !ok {
			return ir.Null{}
		}
		return g.Attr(x.Name)
	case *Unary:
		return evalUnary(x.Op, Eval(x.X, env))
	case *Binary:
		return evalBinary(x.Op, Eval(x.L, env), Eval(x.R, env))
	case *Call:
		return evalCall(x, env)
	case *Agg:
		return evalAgg(x, env)
	default:
		return ir.Null{}
	}
}

func evalUnary(op string, v ir.Value) ir.Value {
	switch val := v.(type) {
	case ir.Int:
		if op == "-" {
			return -val
		}
	case ir.Float:
		if op == "-" {
			return -val
		}
	case ir.Bool:
		if op == "not" {
			return !val
		}
	}
	return ir.Null{}
}

func evalBinary(op string, l, r ir.Value) ir.Value {
	if ir.IsNull(l) || ir.IsNull(r) {
		return ir.Null{}
	}
	switch op {
	case "and", "or":
		lb, lok := l.(ir.Bool)
		rb, rok := r.(ir.Bool)
		if !lok || !rok {
			return ir.Null{}
		}
		if op == "and" {
			return lb && rb
		}
		return lb || rb
	case "==":
		return ir.Bool(ir.Equal(l, r))
	case "!=":
		return ir.Bool(!ir.Equal(l, r))
	case "<", "<=", ">", ">=":
		c, ok := ir.Compare(l, r)
		if !ok {
			return ir.Null{}
		}
		switch op {
		case "<":
			return ir.Bool(c < 0)
		case "<=":
			return ir.Bool(c <= 0)
		case ">":
			return ir.Bool(c > 0)
		default:
			return ir.Bool(c >= 0)
		}
	}
	return arith(op, l, r)
}

func arith(op string, l, r ir.Value) ir.Value {
	if op == "+" {
		if ls, ok := l.(ir.String); ok {
			if rs, ok := r.(ir.String); ok {
				return ls + rs
			}
			return ir.Null{}
		}
	}
	li, lInt := l.(ir.Int)
	ri, rInt := r.(ir.Int)
	if lInt && rInt {
		switch op {
		case "+":
			return li + ri
		case "-":
			return li - ri
		case "*":
			return li * ri
		case "/":
			if ri == 0 {
				return ir.Null{}
			}
			return li / ri
		case "%":
			if ri == 0 {
				return ir.Null{}
			}
			return li % ri
		}
		return ir.Null{}
	}
	// Time arithmetic: time ± int nanoseconds, time - time.
	if lt, ok := l.(ir.Time); ok {
		switch rv := r.(type) {
		case ir.Int:
			switch op {
			case "+":
				return lt + ir.Time(rv)
			case "-":
				return lt - ir.Time(rv)
			}
		case ir.Time:
			if op == "-" {
				return ir.Int(lt - rv)
			}
		}
		return ir.Null{}
	}
	lf, lok := ir.Numeric(l)
	rf, rok := ir.Numeric(r)
	if !lok || !rok {
		return ir.Null{}
	}
	switch op {
	case "+":
		return ir.FloatValue(lf + rf)
	case "-":
		return ir.FloatValue(lf - rf)
	case "*":
		return ir.FloatValue(lf * rf)
	case "/":
		if rf == 0 {
			return ir.Null{}
		}
		return ir.FloatValue(lf / rf)
	case "%":
		if rf == 0 {
			return ir.Null{}
		}
		return ir.FloatValue(math.Mod(lf, rf))
	}
	return ir.Null{}
}

func evalCall(c *Call, env Env) ir.Value {
	switch c.Fn {
	case "now":
		return env.Now()
	case "coalesce":
		for _, a := range c.Args {
			if v := Eval(a, env); !ir.IsNull(v) {
				return v
			}
		}
		return ir.Null{}
	case "is_null":
		return ir.Bool(ir.IsNull(Eval(c.Args[0], env)))
	}

	args := make([]ir.Value, len(c.Args))
	for i, a := range c.Args {
		args[i] = Eval(a, env)
		if ir.IsNull(args[i]) {
			return ir.Null{}
		}
	}

	switch c.Fn {
	case "id":
		if ref, ok := args[0].(ir.Ref); ok {
			return ir.Int(ref)
		}
	case "type", "arity":
		ref, ok := args[0].(ir.Ref)
		if !ok {
			return ir.Null{}
		}
		g, ok := env.Glyph(ir.GlyphID(ref))
		if !ok {
			return ir.Null{}
		}
		if c.Fn == "type" {
			return ir.String(env.TypeName(g.Type))
		}
		return ir.Int(g.Arity())
	case "target":
		ref, ok := args[0].(ir.Ref)
		idx, iok := args[1].(ir.Int)
		if !ok || !iok {
			return ir.Null{}
		}
		g, ok := env.Glyph(ir.GlyphID(ref))
		if !ok || idx < 0 || int(idx) >= g.Arity() {
			return ir.Null{}
		}
		return ir.Ref(g.Targets[idx])
	case "abs":
		switch v := args[0].(type) {
		case ir.Int:
			if v < 0 {
				return -v
			}
			return v
		case ir.Float:
			return ir.Float(math.Abs(float64(v)))
		}
	case "lower", "upper":
		s, ok := args[0].(ir.String)
		if !ok {
			return ir.Null{}
		}
		if c.Fn == "lower" {
			return ir.String(strings.ToLower(string(s)))
		}
		return ir.String(strings.ToUpper(string(s)))
	case "len":
		switch v := args[0].(type) {
		case ir.String:
			return ir.Int(len([]rune(string(v))))
		case ir.List:
			return ir.Int(len(v))
		}
	}
	return ir.Null{}
}

func evalAgg(a *Agg, env Env) ir.Value {
	var (
		count   int64
		values  []ir.Value
		allInts = true
		isum    int64
		fsum    float64
	)
	env.Each(a, func(sub Env) bool {
		if a.Of == nil {
			count++
			return true
		}
		v := Eval(a.Of, sub)
		if ir.IsNull(v) {
			return true
		}
		count++
		values = append(values, v)
		switch n := v.(type) {
		case ir.Int:
			isum += int64(n)
			fsum += float64(n)
		case ir.Float:
			allInts = false
			fsum += float64(n)
		}
		return true
	})

	switch a.Fn {
	case "count":
		return ir.Int(count)
	case "collect":
		if values == nil {
			return ir.List{}
		}
		return ir.List(values)
	case "sum", "avg":
		for _, v := range values {
			if _, ok := ir.Numeric(v); !ok {
				return ir.Null{}
			}
		}
		if a.Fn == "sum" {
			if allInts {
				return ir.Int(isum)
			}
			return ir.FloatValue(fsum)
		}
		if count == 0 {
			return ir.Null{}
		}
		return ir.FloatValue(fsum / float64(count))
	case "min", "max":
		var best ir.Value
		for _, v := range values {
			if best == nil {
				best = v
				continue
			}
			c, ok := ir.Compare(v, best)
			if !ok {
				return ir.Null{}
			}
			if (a.Fn == "min" && c < 0) || (a.Fn == "max" && c > 0) {
				best = v
			}
		}
		if best == nil {
			return ir.Null{}
		}
		return best
	}
	return ir.Null{}
}
