// Package compiler turns CUE ontology documents into a schema registry
// plus compiled rules and constraints, and analyzes the result.
//
// A document has three top-level structs, all optional:
//
//	types:       {Task: {attrs: {title: {type: "string", required: true}}}}
//	rules:       {close: {match: {...}, produce: [{set: "t", attr: "done", value: "true"}]}}
//	constraints: {"positive-estimate": {match: {nodes: {t: "Task"}}, check: "t.estimate > 0"}}
//
// Patterns, checks and production values are CUE expression strings; see
// exprParser for the operator mapping.
package compiler

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/glyph/internal/expr"
	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/ontology"
	"github.com/roach88/glyph/internal/schema"
)

//go:embed ontology.cue
var ontologySchema string

// Result is a compiled ontology plus static analysis findings.
type Result struct {
	Ontology *ontology.Ontology
	Warnings []CycleWarning
	Files    int
}

// CompileOntology validates v against the ontology shape and compiles it.
func CompileOntology(v cue.Value) (*ontology.Ontology, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError("cue", err)
	}

	shape := v.Context().CompileString(ontologySchema, cue.Filename("ontology.cue"))
	if err := shape.Err(); err != nil {
		return nil, fmt.Errorf("ontology schema: %w", err)
	}
	v = shape.LookupPath(cue.ParsePath("#Ontology")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError("ontology", err)
	}

	b := schema.NewBuilder()
	if types := v.LookupPath(cue.ParsePath("types")); types.Exists() {
		if err := parseTypes(types, b); err != nil {
			return nil, err
		}
	}
	reg, err := b.Build()
	if err != nil {
		return nil, err
	}

	var rules []ontology.Rule
	if rv := v.LookupPath(cue.ParsePath("rules")); rv.Exists() {
		iter, err := rv.Fields()
		if err != nil {
			return nil, formatCUEError("rules", err)
		}
		for iter.Next() {
			r, err := parseRule(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			rules = append(rules, r)
		}
	}

	var constraints []ontology.Constraint
	if cv := v.LookupPath(cue.ParsePath("constraints")); cv.Exists() {
		iter, err := cv.Fields()
		if err != nil {
			return nil, formatCUEError("constraints", err)
		}
		for iter.Next() {
			c, err := parseConstraint(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			constraints = append(constraints, c)
		}
	}

	return ontology.Compile(reg, rules, constraints)
}

// CompileString compiles a single CUE document. name is used in error
// positions.
func CompileString(name, src string) (*Result, error) {
	v := cuecontext.New().CompileString(src, cue.Filename(name))
	o, err := CompileOntology(v)
	if err != nil {
		return nil, err
	}
	return &Result{Ontology: o, Warnings: AnalyzeRuleCycles(o), Files: 1}, nil
}

// Load compiles the CUE package in dir.
func Load(dir string) (*Result, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("ontology directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError("load", inst.Err)
	}

	v := cuecontext.New().BuildInstance(inst)
	o, err := CompileOntology(v)
	if err != nil {
		return nil, err
	}
	return &Result{Ontology: o, Warnings: AnalyzeRuleCycles(o), Files: len(files)}, nil
}

func parseRule(name string, v cue.Value) (ontology.Rule, error) {
	field := "rules." + name
	r := ontology.Rule{Name: name}

	ast, ep, err := parsePattern(v.LookupPath(cue.ParsePath("match")), field+".match")
	if err != nil {
		return r, err
	}
	r.Pattern = ast
	if r.Priority, err = optInt(v, "priority", field); err != nil {
		return r, err
	}
	if r.Manual, err = optBool(v, "manual", field); err != nil {
		return r, err
	}

	iter, err := v.LookupPath(cue.ParsePath("produce")).List()
	if err != nil {
		return r, formatCUEError(field+".produce", err)
	}
	for i := 0; iter.Next(); i++ {
		p, err := parseProduction(iter.Value(), fmt.Sprintf("%s.produce[%d]", field, i), ep)
		if err != nil {
			return r, err
		}
		r.Productions = append(r.Productions, p)
	}
	return r, nil
}

// parseProduction decodes one of {create}, {delete} or {set, attr, value}.
func parseProduction(v cue.Value, field string, ep *exprParser) (ontology.Production, error) {
	var p ontology.Production
	create, err := optString(v, "create", field)
	if err != nil {
		return p, err
	}
	del, err := optString(v, "delete", field)
	if err != nil {
		return p, err
	}
	set, err := optString(v, "set", field)
	if err != nil {
		return p, err
	}

	n := 0
	for _, s := range []string{create, del, set} {
		if s != "" {
			n++
		}
	}
	if n != 1 {
		return p, compileErr(field, v.Pos(), "exactly one of create, delete or set is required")
	}

	switch {
	case create != "":
		p.Op = ir.OpCreate
		p.Type = create
		if p.As, err = optString(v, "as", field); err != nil {
			return p, err
		}
		if tv := v.LookupPath(cue.ParsePath("targets")); tv.Exists() {
			srcs, err := stringList(tv, field+".targets")
			if err != nil {
				return p, err
			}
			for _, src := range srcs {
				t, err := ep.parse(src)
				if err != nil {
					return p, err
				}
				p.Targets = append(p.Targets, t)
			}
		}
		if av := v.LookupPath(cue.ParsePath("attrs")); av.Exists() {
			iter, err := av.Fields()
			if err != nil {
				return p, formatCUEError(field+".attrs", err)
			}
			p.Attrs = map[string]expr.Node{}
			for iter.Next() {
				src, err := iter.Value().String()
				if err != nil {
					return p, formatCUEError(field+".attrs", err)
				}
				if p.Attrs[iter.Label()], err = ep.parse(src); err != nil {
					return p, err
				}
			}
		}
	case del != "":
		p.Op = ir.OpDelete
		if p.Target, err = ep.parse(del); err != nil {
			return p, err
		}
	default:
		p.Op = ir.OpSet
		if p.Target, err = ep.parse(set); err != nil {
			return p, err
		}
		if p.Attr, err = optString(v, "attr", field); err != nil {
			return p, err
		}
		if p.Attr == "" {
			return p, compileErr(field, v.Pos(), "set requires attr")
		}
		value, err := optString(v, "value", field)
		if err != nil {
			return p, err
		}
		if value == "" {
			return p, compileErr(field, v.Pos(), "set requires value")
		}
		if p.Value, err = ep.parse(value); err != nil {
			return p, err
		}
	}
	return p, nil
}

func parseConstraint(name string, v cue.Value) (ontology.Constraint, error) {
	field := "constraints." + name
	c := ontology.Constraint{Name: name}

	ast, ep, err := parsePattern(v.LookupPath(cue.ParsePath("match")), field+".match")
	if err != nil {
		return c, err
	}
	c.Pattern = ast

	check, err := optString(v, "check", field)
	if err != nil {
		return c, err
	}
	if check != "" {
		if c.Check, err = ep.parse(check); err != nil {
			return c, err
		}
	}
	if rv := v.LookupPath(cue.ParsePath("require")); rv.Exists() {
		if c.Require, _, err = parsePattern(rv, field+".require"); err != nil {
			return c, err
		}
	}
	if c.Check == nil && c.Require == nil {
		return c, compileErr(field, v.Pos(), "check or require is required")
	}
	if c.Min, err = optInt(v, "min", field); err != nil {
		return c, err
	}
	if c.Max, err = optInt(v, "max", field); err != nil {
		return c, err
	}
	if c.Soft, err = optBool(v, "soft", field); err != nil {
		return c, err
	}
	if c.Message, err = optString(v, "message", field); err != nil {
		return c, err
	}
	return c, nil
}
