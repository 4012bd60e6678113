package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenarioDir writes two small library scenarios into a temp dir.
func writeScenarioDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	onto := absLibrary(t)
	writeFile(t, dir, "seed.yaml", `
name: seed
description: "Create a book"
ontology: `+onto+`
transactions:
  - steps:
      - create: { type: Book, as: dune, attrs: { title: Dune } }
assertions:
  - type: attr
    glyph: dune
    attr: available
    value: true
`)
	writeFile(t, dir, "loan.yaml", `
name: loan
description: "Lending the only copy"
ontology: `+onto+`
transactions:
  - steps:
      - create: { type: Book, as: dune, attrs: { title: Dune } }
      - create: { type: Member, as: ann, attrs: { name: Ann } }
      - create: { type: loan, targets: [ann, dune] }
    expect:
      outcome: committed
      firings: 1
`)
	return dir
}

func TestTestCommandMissingArgs(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandLibraryScenarios(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "✓ checkout")
	assert.Contains(t, output, "✓ loan_limit")
	assert.Contains(t, output, "✓ rule_limit")
	assert.Contains(t, output, "Test Summary: 3 passed, 0 failed, 3 total")
	assert.Contains(t, output, "✓ All scenarios passed")
}

func TestTestCommandFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenariosDir, "--filter", "loan*"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "loan_limit", resp.Data.Scenarios[0].Name)
}

func TestTestCommandGoldenRoundTrip(t *testing.T) {
	dir := writeScenarioDir(t)

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir, "--update"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ seed (golden updated)")
	assert.FileExists(t, filepath.Join(dir, "golden", "seed.golden"))
	assert.FileExists(t, filepath.Join(dir, "golden", "loan.golden"))

	buf.Reset()
	cmd = NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Test Summary: 2 passed, 0 failed, 2 total")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "loan.golden"), []byte("{}"), 0644))

	buf.Reset()
	cmd = NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✗ loan")
	assert.Contains(t, buf.String(), "snapshot does not match golden file")
	assert.Contains(t, buf.String(), "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandFailingScenarioJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", `
name: bad
description: "Expects a glyph that was never created"
ontology: `+absLibrary(t)+`
transactions:
  - steps:
      - create: { type: Book, attrs: { title: Dune } }
assertions:
  - type: count
    glyph_type: Book
    count: 2
`)

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeScenario, resp.Error.Code)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"/nonexistent/scenarios"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No scenarios found.")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestFindScenarioFiles(t *testing.T) {
	files, err := findScenarioFiles(scenariosDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tests := []struct {
		filter string
		want   int
	}{
		{"checkout", 1},
		{"*_limit", 2},
		{"nothing*", 0},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			files, err := findScenarioFiles(scenariosDir, tt.filter)
			require.NoError(t, err)
			assert.Len(t, files, tt.want)
		})
	}
}

func TestFindScenarioFilesInvalidFilter(t *testing.T) {
	_, err := findScenarioFiles(scenariosDir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("scenarios", "golden", "checkout.golden"),
		goldenFilePath(filepath.Join("scenarios", "checkout.yaml")))
}
