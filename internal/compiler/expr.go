package compiler

import (
	"strconv"
	"strings"

	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/literal"
	"cuelang.org/go/cue/parser"
	"cuelang.org/go/cue/token"

	"github.com/roach88/glyph/internal/expr"
	"github.com/roach88/glyph/internal/ir"
)

// Expressions are written in CUE expression syntax and converted to expr
// trees:
//
//	t.estimate > 0 && !is_null(p.name)
//	t.hours rem 8 == 0
//	count_done >= 2          // a named aggregate
//
// && || ! map to and, or, not; rem and mod map to %.
var binaryOps = map[token.Token]string{
	token.LAND: "and",
	token.LOR:  "or",
	token.EQL:  "==",
	token.NEQ:  "!=",
	token.LSS:  "<",
	token.LEQ:  "<=",
	token.GTR:  ">",
	token.GEQ:  ">=",
	token.ADD:  "+",
	token.SUB:  "-",
	token.MUL:  "*",
	token.QUO:  "/",
	token.IREM: "%",
	token.IMOD: "%",
}

// exprParser converts expression strings, substituting named aggregates.
type exprParser struct {
	field string
	pos   token.Pos
	aggs  map[string]*expr.Agg
}

func (p *exprParser) parse(src string) (expr.Node, error) {
	x, err := parser.ParseExpr(p.field, src)
	if err != nil {
		return nil, compileErr(p.field, p.pos, "parse %q: %v", src, err)
	}
	return p.convert(x)
}

func (p *exprParser) convert(x ast.Expr) (expr.Node, error) {
	switch n := x.(type) {
	case *ast.ParenExpr:
		return p.convert(n.X)

	case *ast.BasicLit:
		return p.literal(n)

	case *ast.Ident:
		if a, ok := p.aggs[n.Name]; ok {
			return a, nil
		}
		return expr.V(n.Name), nil

	case *ast.SelectorExpr:
		v, ok := n.X.(*ast.Ident)
		if !ok {
			return nil, compileErr(p.field, p.pos, "attribute access must be var.attr")
		}
		name, _, err := ast.LabelName(n.Sel)
		if err != nil {
			return nil, compileErr(p.field, p.pos, "attribute name: %v", err)
		}
		return expr.A(v.Name, name), nil

	case *ast.UnaryExpr:
		operand, err := p.convert(n.X)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case token.SUB:
			return &expr.Unary{Op: "-", X: operand}, nil
		case token.NOT:
			return expr.Not(operand), nil
		case token.ADD:
			return operand, nil
		}
		return nil, compileErr(p.field, p.pos, "unsupported unary operator %s", n.Op)

	case *ast.BinaryExpr:
		op, ok := binaryOps[n.Op]
		if !ok {
			return nil, compileErr(p.field, p.pos, "unsupported operator %s", n.Op)
		}
		l, err := p.convert(n.X)
		if err != nil {
			return nil, err
		}
		r, err := p.convert(n.Y)
		if err != nil {
			return nil, err
		}
		return expr.Op(op, l, r), nil

	case *ast.CallExpr:
		fn, ok := n.Fun.(*ast.Ident)
		if !ok {
			return nil, compileErr(p.field, p.pos, "call target must be a function name")
		}
		args := make([]expr.Node, len(n.Args))
		for i, a := range n.Args {
			arg, err := p.convert(a)
			if err != nil {
				return nil, err
			}
			args[i] = arg
		}
		return expr.Fn(fn.Name, args...), nil
	}
	return nil, compileErr(p.field, p.pos, "unsupported expression %T", x)
}

func (p *exprParser) literal(n *ast.BasicLit) (expr.Node, error) {
	switch n.Kind {
	case token.NULL:
		return expr.L(ir.Null{}), nil
	case token.TRUE:
		return expr.L(ir.Bool(true)), nil
	case token.FALSE:
		return expr.L(ir.Bool(false)), nil
	case token.INT:
		i, err := strconv.ParseInt(strings.ReplaceAll(n.Value, "_", ""), 0, 64)
		if err != nil {
			return nil, compileErr(p.field, p.pos, "integer literal %s: %v", n.Value, err)
		}
		return expr.I(i), nil
	case token.FLOAT:
		f, err := strconv.ParseFloat(strings.ReplaceAll(n.Value, "_", ""), 64)
		if err != nil {
			return nil, compileErr(p.field, p.pos, "float literal %s: %v", n.Value, err)
		}
		return expr.L(ir.Float(f)), nil
	case token.STRING:
		s, err := literal.Unquote(n.Value)
		if err != nil {
			return nil, compileErr(p.field, p.pos, "string literal %s: %v", n.Value, err)
		}
		return expr.S(s), nil
	}
	return nil, compileErr(p.field, p.pos, "unsupported literal %s", n.Value)
}
