package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/glyph/internal/ontology"
)

// CycleWarning reports rules that can re-trigger one another.
//
// Cycles are warnings, not errors, because they may be intentional:
// a rule whose pattern stops matching after it fires (a NOT EXISTS guard,
// a flag it sets) terminates on its own. The depth ceiling catches the
// ones that do not.
type CycleWarning struct {
	Path    []string `json:"path"`    // ["a", "b", "a"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning"
}

// AnalyzeRuleCycles links rule r to rule s when a glyph type r writes can
// wake s, and reports every strongly connected component of that graph
// with more than one rule, or a single rule that wakes itself.
//
// Manual rules are never woken, so they only appear as cycle sources.
// Warnings are ordered by their first rule id.
func AnalyzeRuleCycles(o *ontology.Ontology) []CycleWarning {
	if len(o.Rules) == 0 {
		return []CycleWarning{}
	}

	graph := buildDependencyGraph(o)
	sccs := tarjanSCC(graph)

	warnings := []CycleWarning{}
	for _, scc := range sccs {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return strings.Compare(a.Path[0], b.Path[0])
	})
	return warnings
}

// dependencyGraph maps rule id → ids of rules it can wake, sorted.
type dependencyGraph map[string][]string

func buildDependencyGraph(o *ontology.Ontology) dependencyGraph {
	graph := make(dependencyGraph, len(o.Rules))
	for _, r := range o.Rules {
		edges := []string{}
		for _, s := range o.Rules {
			if r.Wakes(s) {
				edges = append(edges, s.ID())
			}
		}
		slices.Sort(edges)
		graph[r.ID()] = edges
	}
	return graph
}

func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// sccWalker holds the bookkeeping for one run of Tarjan's algorithm.
type sccWalker struct {
	graph   dependencyGraph
	next    int
	order   map[string]int
	low     map[string]int
	pending []string
	onPath  map[string]bool
	out     [][]string
}

// tarjanSCC returns the strongly connected components of graph. Roots are
// tried in sorted order and each component comes back sorted, so the
// result is stable across runs.
func tarjanSCC(graph dependencyGraph) [][]string {
	w := &sccWalker{
		graph:  graph,
		order:  make(map[string]int, len(graph)),
		low:    make(map[string]int, len(graph)),
		onPath: make(map[string]bool, len(graph)),
	}
	roots := make([]string, 0, len(graph))
	for id := range graph {
		roots = append(roots, id)
	}
	slices.Sort(roots)
	for _, id := range roots {
		if _, seen := w.order[id]; !seen {
			w.visit(id)
		}
	}
	return w.out
}

func (w *sccWalker) visit(v string) {
	w.order[v] = w.next
	w.low[v] = w.next
	w.next++
	w.pending = append(w.pending, v)
	w.onPath[v] = true

	for _, u := range w.graph[v] {
		switch _, seen := w.order[u]; {
		case !seen:
			w.visit(u)
			w.low[v] = min(w.low[v], w.low[u])
		case w.onPath[u]:
			w.low[v] = min(w.low[v], w.order[u])
		}
	}

	if w.low[v] != w.order[v] {
		return
	}
	var comp []string
	for {
		top := w.pending[len(w.pending)-1]
		w.pending = w.pending[:len(w.pending)-1]
		w.onPath[top] = false
		comp = append(comp, top)
		if top == v {
			break
		}
	}
	slices.Sort(comp)
	w.out = append(w.out, comp)
}

func cycleSCCToWarning(scc []string, graph dependencyGraph) CycleWarning {
	if len(scc) == 1 {
		id := scc[0]
		return CycleWarning{
			Path:    []string{id, id},
			Message: fmt.Sprintf("Self-triggering rule detected: %s → %s", id, id),
			Level:   "warning",
		}
	}

	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("Potential rule cycle detected: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath walks from the first SCC member along edges that
// stay inside the SCC until it returns to the start or runs out of
// unvisited members.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}

	inSCC := make(map[string]bool, len(scc))
	for _, node := range scc {
		inSCC[node] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)

	for {
		visited[current] = true

		// Prefer unvisited members so the path covers the SCC.
		var next string
		for _, neighbor := range graph[current] {
			if inSCC[neighbor] && !visited[neighbor] {
				next = neighbor
				break
			}
		}
		if next == "" && slices.Contains(graph[current], start) {
			next = start
		}
		if next == "" {
			break
		}

		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}

	return path
}
