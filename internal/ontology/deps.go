package ontology

import (
	"slices"

	"github.com/roach88/glyph/internal/expr"
	"github.com/roach88/glyph/internal/ir"
)

// Writes returns the exact types the rule's productions may change,
// sorted. The boolean is true when a production may change any type:
// deletes cascade unpredictably, and a set on an untyped target can land
// anywhere.
func (r *CompiledRule) Writes() ([]ir.TypeID, bool) {
	reg := r.Pattern.Registry
	set := make(map[ir.TypeID]bool)
	created := make(map[int]ir.TypeID)
	for _, p := range r.Productions {
		switch p.Op {
		case ir.OpCreate:
			set[p.Type] = true
			if p.As >= 0 {
				created[p.As] = p.Type
			}
		case ir.OpDelete:
			return nil, true
		case ir.OpSet:
			v, ok := p.Target.(*expr.Var)
			if !ok {
				return nil, true
			}
			var t ir.TypeID
			if v.Slot < len(r.Pattern.Vars) {
				t = r.Pattern.Vars[v.Slot].Type
			} else {
				t = created[v.Slot]
			}
			if t == 0 {
				return nil, true
			}
			for _, d := range reg.Descendants(t) {
				set[d] = true
			}
		}
	}
	out := make([]ir.TypeID, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	slices.Sort(out)
	return out, false
}

// Wakes reports whether firing r can wake other: some type r writes is
// among other's trigger types. Manual rules are never woken.
func (r *CompiledRule) Wakes(other *CompiledRule) bool {
	if other.Rule.Manual {
		return false
	}
	writes, anyType := r.Writes()
	if anyType {
		return true
	}
	touched := make(map[ir.TypeID]bool, len(writes))
	for _, t := range writes {
		touched[t] = true
	}
	return other.Pattern.Triggers(touched)
}
