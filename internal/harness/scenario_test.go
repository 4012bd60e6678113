package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes content to dir/test.yaml next to an empty
// ontology directory named "onto".
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "onto"), 0755))
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalScenario = `
name: test_scenario
description: "Test scenario for validation"
ontology: onto
transactions:
  - name: seed
    steps:
      - create: { type: Book, as: dune, attrs: { title: Dune, copies: 2 } }
      - set: { glyph: dune, attr: copies, value: 3 }
      - fire: { rule: withdraw, seed: { b: dune } }
      - delete: dune
        error: NOT_FOUND
    expect:
      outcome: committed
      firings: 1
assertions:
  - type: count
    glyph_type: Book
    count: 0
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, minimalScenario)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "onto"), scenario.Ontology)
	require.Len(t, scenario.Transactions, 1)
	steps := scenario.Transactions[0].Steps
	require.Len(t, steps, 4)
	assert.Equal(t, "Book", steps[0].Create.Type)
	assert.Equal(t, "Dune", steps[0].Create.Attrs["title"])
	assert.Equal(t, 2, steps[0].Create.Attrs["copies"])
	assert.Equal(t, 3, steps[1].Set.Value)
	assert.Equal(t, map[string]string{"b": "dune"}, steps[2].Fire.Seed)
	assert.Equal(t, "NOT_FOUND", steps[3].Error)
	require.NotNil(t, scenario.Transactions[0].Expect.Firings)
	assert.Equal(t, 1, *scenario.Transactions[0].Expect.Firings)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MissingOntologyDir(t *testing.T) {
	path := writeScenario(t, `
name: s
description: d
ontology: elsewhere
transactions:
  - steps: [{ delete: x }]
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ontology not found")
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	path := writeScenario(t, minimalScenario)
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "onto"), 0755))

	scenario, err := LoadScenarioWithBasePath(path, base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "onto"), scenario.Ontology)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\nontology: o\ntransactions: [{steps: [{delete: x}]}]",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\nontology: o\ntransactions: [{steps: [{delete: x}]}]",
			wantErr: "description is required",
		},
		{
			name:    "missing ontology",
			content: "name: n\ndescription: d\ntransactions: [{steps: [{delete: x}]}]",
			wantErr: "ontology is required",
		},
		{
			name:    "no transactions",
			content: "name: n\ndescription: d\nontology: o",
			wantErr: "transactions list is required",
		},
		{
			name:    "unknown field",
			content: "name: n\ndescription: d\nontology: o\nassertion: []\ntransactions: [{steps: [{delete: x}]}]",
			wantErr: "field assertion not found",
		},
		{
			name:    "empty steps",
			content: "name: n\ndescription: d\nontology: o\ntransactions: [{name: t}]",
			wantErr: "transactions[0]: steps list is required",
		},
		{
			name:    "two operations",
			content: "name: n\ndescription: d\nontology: o\ntransactions: [{steps: [{delete: x, fire: {rule: r}}]}]",
			wantErr: "exactly one of create, delete, set, fire",
		},
		{
			name:    "create without type",
			content: "name: n\ndescription: d\nontology: o\ntransactions: [{steps: [{create: {as: x}}]}]",
			wantErr: "create requires type",
		},
		{
			name:    "set without attr",
			content: "name: n\ndescription: d\nontology: o\ntransactions: [{steps: [{set: {glyph: x}}]}]",
			wantErr: "set requires glyph and attr",
		},
		{
			name:    "unknown step error kind",
			content: "name: n\ndescription: d\nontology: o\ntransactions: [{steps: [{delete: x, error: OOPS}]}]",
			wantErr: `unknown error kind "OOPS"`,
		},
		{
			name:    "bad outcome",
			content: "name: n\ndescription: d\nontology: o\ntransactions: [{steps: [{delete: x}], expect: {outcome: maybe}}]",
			wantErr: "outcome must be",
		},
		{
			name:    "error on committed",
			content: "name: n\ndescription: d\nontology: o\ntransactions: [{steps: [{delete: x}], expect: {outcome: committed, error: VALUE}}]",
			wantErr: "error requires outcome",
		},
		{
			name:    "negative limits",
			content: "name: n\ndescription: d\nontology: o\nlimits: {max_depth: -1}\ntransactions: [{steps: [{delete: x}]}]",
			wantErr: "limits must be non-negative",
		},
		{
			name:    "unknown assertion",
			content: "name: n\ndescription: d\nontology: o\ntransactions: [{steps: [{delete: x}]}]\nassertions: [{type: trace_order}]",
			wantErr: `unknown assertion type "trace_order"`,
		},
		{
			name:    "count without type",
			content: "name: n\ndescription: d\nontology: o\ntransactions: [{steps: [{delete: x}]}]\nassertions: [{type: count, count: 1}]",
			wantErr: "glyph_type is required",
		},
		{
			name:    "attr without attr",
			content: "name: n\ndescription: d\nontology: o\ntransactions: [{steps: [{delete: x}]}]\nassertions: [{type: attr, glyph: g}]",
			wantErr: "glyph and attr are required",
		},
		{
			name:    "missing without glyph",
			content: "name: n\ndescription: d\nontology: o\ntransactions: [{steps: [{delete: x}]}]\nassertions: [{type: missing}]",
			wantErr: "glyph is required for missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseTransactions(t *testing.T) {
	txs, err := ParseTransactions([]byte(`
transactions:
  - name: seed
    steps:
      - create: { type: Book, as: dune, attrs: { title: Dune } }
  - steps:
      - delete: "1"
    expect:
      outcome: aborted
      error: CONSTRAINT
`))
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "seed", txs[0].Name)
	assert.Nil(t, txs[0].Expect)
	assert.Equal(t, "1", txs[1].Steps[0].Delete)
	assert.Equal(t, OutcomeAborted, txs[1].Expect.Outcome)
}

func TestParseTransactions_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"empty", "", "transactions list is required"},
		{"scenario fields", "name: n\ntransactions: [{steps: [{delete: x}]}]", "field name not found"},
		{"empty steps", "transactions: [{name: t}]", "transactions[0]: steps list is required"},
		{"bad outcome", "transactions: [{steps: [{delete: x}], expect: {outcome: maybe}}]", "outcome must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTransactions([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
