package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	libraryOntology = filepath.Join("..", "harness", "testdata", "ontology", "library")
	scenariosDir    = filepath.Join("..", "harness", "testdata", "scenarios")
	brokenOntology  = filepath.Join("..", "compiler", "testdata", "broken")
)

// execute runs the root command with args and returns stdout and the
// command error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func absLibrary(t *testing.T) string {
	t.Helper()
	abs, err := filepath.Abs(libraryOntology)
	require.NoError(t, err)
	return abs
}

const seedTransactions = `
transactions:
  - name: seed
    steps:
      - create: { type: Book, as: dune, attrs: { title: Dune, copies: 1 } }
      - create: { type: Member, as: ann, attrs: { name: Ann } }
  - name: ann borrows dune
    steps:
      - create: { type: loan, as: l1, targets: [ann, dune] }
    expect:
      outcome: committed
      firings: 1
`

// seedStore applies seedTransactions to a fresh store and returns the
// store path. Glyph ids are 1 (dune), 2 (ann) and 3 (l1); the store
// ends at seq 2.
func seedStore(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	txFile := writeFile(t, dir, "seed.yaml", seedTransactions)
	db := filepath.Join(dir, "glyph.db")

	args := []string{"exec", "--ontology", libraryOntology, "--db", db, txFile}
	if backend != BackendSQLite {
		cfg := writeFile(t, dir, "glyph.yaml", "storage:\n  backend: "+backend+"\n  path: "+db+"\n")
		args = append([]string{"--config", cfg}, args...)
	}
	_, err := execute(t, args...)
	require.NoError(t, err)
	return db
}
