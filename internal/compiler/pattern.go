package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/glyph/internal/expr"
	"github.com/roach88/glyph/internal/pattern"
)

var closures = map[string]pattern.Closure{
	"":  pattern.ClosureNone,
	"+": pattern.ClosurePlus,
	"*": pattern.ClosureStar,
}

// parsePattern decodes a #Pattern value. Aggregates declared on the
// pattern are visible to its where clauses and to exprs, which the caller
// uses for checks and productions.
func parsePattern(v cue.Value, field string) (*pattern.AST, *exprParser, error) {
	ast := pattern.New()
	ep := &exprParser{field: field, pos: v.Pos(), aggs: map[string]*expr.Agg{}}

	if nodes := v.LookupPath(cue.ParsePath("nodes")); nodes.Exists() {
		iter, err := nodes.Fields()
		if err != nil {
			return nil, nil, formatCUEError(field+".nodes", err)
		}
		for iter.Next() {
			typ, err := iter.Value().String()
			if err != nil {
				return nil, nil, formatCUEError(field+".nodes", err)
			}
			ast.Node(iter.Label(), typ)
		}
	}

	if edges := v.LookupPath(cue.ParsePath("edges")); edges.Exists() {
		iter, err := edges.List()
		if err != nil {
			return nil, nil, formatCUEError(field+".edges", err)
		}
		for i := 0; iter.Next(); i++ {
			edge, err := parseEdge(iter.Value(), fmt.Sprintf("%s.edges[%d]", field, i))
			if err != nil {
				return nil, nil, err
			}
			ast.Edges = append(ast.Edges, edge)
		}
	}

	if aggs := v.LookupPath(cue.ParsePath("aggregates")); aggs.Exists() {
		iter, err := aggs.Fields()
		if err != nil {
			return nil, nil, formatCUEError(field+".aggregates", err)
		}
		for iter.Next() {
			name := iter.Label()
			a, err := parseAggregate(iter.Value(), field+".aggregates."+name)
			if err != nil {
				return nil, nil, err
			}
			ep.aggs[name] = a
		}
	}

	if where := v.LookupPath(cue.ParsePath("where")); where.Exists() {
		srcs, err := stringList(where, field+".where")
		if err != nil {
			return nil, nil, err
		}
		for _, src := range srcs {
			cond, err := ep.parse(src)
			if err != nil {
				return nil, nil, err
			}
			ast.Filter(cond)
		}
	}

	if not := v.LookupPath(cue.ParsePath("not")); not.Exists() {
		iter, err := not.List()
		if err != nil {
			return nil, nil, formatCUEError(field+".not", err)
		}
		for i := 0; iter.Next(); i++ {
			sub, _, err := parsePattern(iter.Value(), fmt.Sprintf("%s.not[%d]", field, i))
			if err != nil {
				return nil, nil, err
			}
			ast.Without(sub)
		}
	}

	return ast, ep, nil
}

func parseEdge(v cue.Value, field string) (pattern.EdgePat, error) {
	var ep pattern.EdgePat
	var err error
	if ep.Type, err = v.LookupPath(cue.ParsePath("type")).String(); err != nil {
		return ep, formatCUEError(field+".type", err)
	}
	if ep.Targets, err = stringList(v.LookupPath(cue.ParsePath("targets")), field+".targets"); err != nil {
		return ep, err
	}
	if ep.Alias, err = optString(v, "alias", field); err != nil {
		return ep, err
	}
	if ep.Negated, err = optBool(v, "negated", field); err != nil {
		return ep, err
	}
	mode, err := optString(v, "closure", field)
	if err != nil {
		return ep, err
	}
	ep.Closure = closures[mode]
	if ep.MaxDepth, err = optInt(v, "max_depth", field); err != nil {
		return ep, err
	}
	return ep, nil
}

func parseAggregate(v cue.Value, field string) (*expr.Agg, error) {
	fn, err := v.LookupPath(cue.ParsePath("fn")).String()
	if err != nil {
		return nil, formatCUEError(field+".fn", err)
	}
	sub, ep, err := parsePattern(v.LookupPath(cue.ParsePath("match")), field+".match")
	if err != nil {
		return nil, err
	}
	a := &expr.Agg{Fn: fn, Pattern: sub}
	of, err := optString(v, "of", field)
	if err != nil {
		return nil, err
	}
	if of != "" {
		if a.Of, err = ep.parse(of); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(field, err)
	}
	out := []string{}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func optString(v cue.Value, name, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(field+"."+name, err)
	}
	return s, nil
}

func optBool(v cue.Value, name, field string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, formatCUEError(field+"."+name, err)
	}
	return b, nil
}

func optInt(v cue.Value, name, field string) (int, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return 0, nil
	}
	n, err := f.Int64()
	if err != nil {
		return 0, formatCUEError(field+"."+name, err)
	}
	return int(n), nil
}
