// Package harness runs conformance scenarios against the glyph kernel.
//
// A scenario loads a CUE ontology, executes a sequence of transactions
// through the transaction manager and checks each commit outcome and the
// final committed state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	ontology: ../ontology/library
//	limits: { max_depth: 100 }
//	transactions:
//	  - name: seed
//	    steps:
//	      - create: { type: Book, as: dune, attrs: { title: Dune } }
//	      - create: { type: loan, targets: [ann, dune] }
//	      - set: { glyph: dune, attr: copies, value: 2 }
//	      - set: { glyph: dune, attr: pages, value: 1 }
//	        error: SCHEMA
//	      - fire: { rule: withdraw, seed: { b: dune } }
//	      - delete: dune
//	    expect:
//	      outcome: committed
//	      firings: 1
//	      warnings: [task-has-owner]
//	assertions:
//	  - type: count
//	    glyph_type: Book
//	    count: 1
//	  - type: attr
//	    glyph: dune
//	    attr: available
//	    value: true
//
// Attribute values are YAML scalars; {ref: name} is a reference to a named
// glyph and {time: "2024-01-01T00:00:00Z"} an instant.
//
// # Assertion Types
//
//   - count: number of live glyphs of a type, subtypes included
//   - attr: an attribute of a named glyph equals a value
//   - exists / missing: a named glyph is live / was deleted
//   - targets: an edge's targets are exactly the named glyphs
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite store, a step clock starting at
// testutil.Epoch and sequential transaction ids, so the snapshot of trace
// and final state is byte-identical across runs and can be compared
// against golden files (see RunWithGolden).
package harness
