package pattern

import (
	"strings"
)

// StepKind says how a plan step produces candidates.
type StepKind uint8

const (
	// StepScan binds Var from a type-indexed scan.
	StepScan StepKind = iota + 1
	// StepAlias reads an edge whose alias is already bound and binds its
	// targets.
	StepAlias
	// StepAdjacent enumerates edges incoming to the glyph bound at target
	// position From and binds the edge's remaining targets.
	StepAdjacent
	// StepEdgeScan enumerates edges by type when nothing about them is
	// bound yet.
	StepEdgeScan
	// StepClosure walks a closure edge breadth-first from the endpoint at
	// position From (0 forward, 1 backward).
	StepClosure
)

func (k StepKind) String() string {
	switch k {
	case StepScan:
		return "scan"
	case StepAlias:
		return "alias"
	case StepAdjacent:
		return "adjacent"
	case StepEdgeScan:
		return "edge-scan"
	case StepClosure:
		return "closure"
	default:
		return "unknown"
	}
}

// Step is one level of the backtracking search.
type Step struct {
	Kind StepKind
	Var  int
	Edge int
	From int

	// Conds and Not list conditions and negated sub-patterns whose inputs
	// are all bound once this step has bound its variables.
	Conds []int
	Not   []int
}

// Plan is a join order for one set of pre-bound slots.
type Plan struct {
	// Conds and Not are checkable before the first step.
	Conds []int
	Not   []int

	Steps []Step
}

// String renders the plan for debugging, e.g. "scan(a) adjacent(knows@0)".
func (p *Plan) String() string {
	var sb strings.Builder
	for i, s := range p.Steps {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(s.Kind.String())
	}
	return sb.String()
}

// Plan returns the join order used when the slots marked in bound are
// seeded. Inherited slots are always treated as bound. Plans are cached per
// bound set.
func (c *Compiled) Plan(bound []bool) *Plan {
	mask := make([]bool, len(c.Vars))
	copy(mask, bound)
	for i := 0; i < c.Outer; i++ {
		mask[i] = true
	}
	key := maskKey(mask)
	if p, ok := c.plans.Load(key); ok {
		return p.(*Plan)
	}
	p := c.plan(mask)
	actual, _ := c.plans.LoadOrStore(key, p)
	return actual.(*Plan)
}

func maskKey(mask []bool) string {
	b := make([]byte, len(mask))
	for i, m := range mask {
		if m {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}

// plan greedily orders steps by estimated selectivity:
//
//  1. an edge whose alias is bound (one candidate)
//  2. an edge with a bound target (adjacency lookup)
//  3. a closure edge with a bound endpoint (BFS)
//  4. a typed variable that appears in a pending edge (type scan)
//  5. an edge-type scan
//  6. any remaining typed, then untyped, variable (scan)
func (c *Compiled) plan(bound []bool) *Plan {
	p := &Plan{}
	edgeDone := make([]bool, len(c.Edges))
	condDone := make([]bool, len(c.Conds))
	notDone := make([]bool, len(c.Not))

	p.Conds, p.Not = c.ready(bound, condDone, notDone)

	for {
		step, ok := c.nextStep(bound, edgeDone)
		if !ok {
			break
		}
		switch step.Kind {
		case StepScan:
			bound[step.Var] = true
		default:
			e := c.Edges[step.Edge]
			edgeDone[step.Edge] = true
			for _, s := range e.Targets {
				bound[s] = true
			}
			if e.Alias >= 0 {
				bound[e.Alias] = true
			}
		}
		step.Conds, step.Not = c.ready(bound, condDone, notDone)
		p.Steps = append(p.Steps, step)
	}
	return p
}

func (c *Compiled) nextStep(bound, edgeDone []bool) (Step, bool) {
	for i, e := range c.Edges {
		if !edgeDone[i] && e.Closure == ClosureNone && e.Alias >= 0 && bound[e.Alias] {
			return Step{Kind: StepAlias, Edge: i}, true
		}
	}
	for i, e := range c.Edges {
		if edgeDone[i] || e.Closure != ClosureNone {
			continue
		}
		for pos, s := range e.Targets {
			if bound[s] {
				return Step{Kind: StepAdjacent, Edge: i, From: pos}, true
			}
		}
	}
	for i, e := range c.Edges {
		if edgeDone[i] || e.Closure == ClosureNone {
			continue
		}
		if bound[e.Targets[0]] {
			return Step{Kind: StepClosure, Edge: i, From: 0}, true
		}
		if bound[e.Targets[1]] {
			return Step{Kind: StepClosure, Edge: i, From: 1}, true
		}
	}

	pending := make(map[int]bool)
	for i, e := range c.Edges {
		if edgeDone[i] {
			continue
		}
		for _, s := range e.Targets {
			pending[s] = true
		}
	}
	for slot, v := range c.Vars {
		if !bound[slot] && v.Type != 0 && pending[slot] && v.Alias < 0 {
			return Step{Kind: StepScan, Var: slot}, true
		}
	}
	for i, e := range c.Edges {
		if !edgeDone[i] && e.Closure == ClosureNone {
			return Step{Kind: StepEdgeScan, Edge: i}, true
		}
	}
	for slot, v := range c.Vars {
		if !bound[slot] && v.Type != 0 {
			return Step{Kind: StepScan, Var: slot}, true
		}
	}
	for slot := range c.Vars {
		if !bound[slot] {
			return Step{Kind: StepScan, Var: slot}, true
		}
	}
	return Step{}, false
}

// ready returns conditions and sub-patterns that became evaluable.
func (c *Compiled) ready(bound, condDone, notDone []bool) (conds, nots []int) {
	for i, cond := range c.Conds {
		if !condDone[i] && allBound(bound, cond.Deps) {
			condDone[i] = true
			conds = append(conds, i)
		}
	}
	for i, sub := range c.Not {
		if !notDone[i] && allBound(bound, sub.UsesOuter) {
			notDone[i] = true
			nots = append(nots, i)
		}
	}
	return conds, nots
}

func allBound(bound []bool, slots []int) bool {
	for _, s := range slots {
		if !bound[s] {
			return false
		}
	}
	return true
}
