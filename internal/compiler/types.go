package compiler

import (
	"time"

	"cuelang.org/go/cue"

	"github.com/roach88/glyph/internal/ir"
	"github.com/roach88/glyph/internal/schema"
)

// parseTypes adds every declared type to b, in declaration order.
func parseTypes(v cue.Value, b *schema.Builder) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError("types", err)
	}
	for iter.Next() {
		spec, err := parseType(iter.Label(), iter.Value())
		if err != nil {
			return err
		}
		b.Add(spec)
	}
	return nil
}

func parseType(name string, v cue.Value) (schema.TypeSpec, error) {
	field := "types." + name
	spec := schema.TypeSpec{Name: name}
	var err error

	if spec.Parent, err = optString(v, "parent", field); err != nil {
		return spec, err
	}
	if spec.Arity, err = optInt(v, "arity", field); err != nil {
		return spec, err
	}
	if sig := v.LookupPath(cue.ParsePath("signature")); sig.Exists() {
		if spec.Signature, err = stringList(sig, field+".signature"); err != nil {
			return spec, err
		}
	}
	if spec.Abstract, err = optBool(v, "abstract", field); err != nil {
		return spec, err
	}
	if spec.Sealed, err = optBool(v, "sealed", field); err != nil {
		return spec, err
	}

	if attrs := v.LookupPath(cue.ParsePath("attrs")); attrs.Exists() {
		iter, err := attrs.Fields()
		if err != nil {
			return spec, formatCUEError(field+".attrs", err)
		}
		for iter.Next() {
			as, err := parseAttr(iter.Label(), iter.Value(), field+".attrs."+iter.Label())
			if err != nil {
				return spec, err
			}
			spec.Attrs = append(spec.Attrs, as)
		}
	}
	return spec, nil
}

func parseAttr(name string, v cue.Value, field string) (schema.AttrSpec, error) {
	as := schema.AttrSpec{Name: name}
	var err error

	if as.Type, err = v.LookupPath(cue.ParsePath("type")).String(); err != nil {
		return as, formatCUEError(field+".type", err)
	}
	if as.Required, err = optBool(v, "required", field); err != nil {
		return as, err
	}
	if as.Unique, err = optBool(v, "unique", field); err != nil {
		return as, err
	}
	if as.DefaultNow, err = optBool(v, "default_now", field); err != nil {
		return as, err
	}
	if def := v.LookupPath(cue.ParsePath("default")); def.Exists() {
		if as.Default, err = cueValue(def, as.Type, field+".default"); err != nil {
			return as, err
		}
	}
	return as, nil
}

// cueValue converts a concrete CUE scalar into a Value. A string default
// for a time attribute is parsed as RFC 3339.
func cueValue(v cue.Value, attrType, field string) (ir.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		return ir.Bool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		return ir.Int(n), nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		return ir.Float(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		if attrType == "time" {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, compileErr(field, v.Pos(), "time default: %v", err)
			}
			return ir.TimeOf(t), nil
		}
		return ir.String(s), nil
	}
	return nil, compileErr(field, v.Pos(), "default must be a concrete scalar, got %v", v.Kind())
}
