package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/glyph/internal/ir"
)

// Scenario defines a conformance test scenario.
// A scenario loads an ontology, runs a sequence of transactions against a
// fresh graph and asserts on each transaction's outcome and on the final
// committed state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Ontology is the directory of the CUE ontology package.
	// Relative paths are resolved against the scenario file location.
	Ontology string `yaml:"ontology"`

	// Limits overrides the rule engine ceilings.
	Limits *Limits `yaml:"limits,omitempty"`

	// Transactions run in order, each against the state left by the
	// previous committed ones.
	Transactions []Transaction `yaml:"transactions"`

	// Assertions validate the final committed state.
	// Supported types: count, attr, exists, missing, targets
	Assertions []Assertion `yaml:"assertions"`
}

// Limits mirrors txn.WithMaxDepth and txn.WithMaxActions. Zero keeps the
// default.
type Limits struct {
	MaxDepth   int `yaml:"max_depth,omitempty"`
	MaxActions int `yaml:"max_actions,omitempty"`
}

// Transaction is a group of steps committed together.
type Transaction struct {
	// Name labels the transaction in the trace.
	Name string `yaml:"name"`

	Steps []Step `yaml:"steps"`

	// Expect describes the commit outcome. If nil the transaction must
	// commit.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Step is one statement. Exactly one of Create, Delete, Set and Fire is
// set.
type Step struct {
	Create *CreateStep `yaml:"create,omitempty"`

	// Delete names the glyph to delete.
	Delete string `yaml:"delete,omitempty"`

	Set  *SetStep  `yaml:"set,omitempty"`
	Fire *FireStep `yaml:"fire,omitempty"`

	// Error is the kind of a statement error the step must raise. The
	// transaction stays open and continues with the next step.
	Error string `yaml:"error,omitempty"`
}

// CreateStep creates a glyph. As binds the new id to a name later steps
// and assertions can refer to.
type CreateStep struct {
	Type    string         `yaml:"type"`
	As      string         `yaml:"as,omitempty"`
	Targets []string       `yaml:"targets,omitempty"`
	Attrs   map[string]any `yaml:"attrs,omitempty"`
}

// SetStep assigns one attribute.
type SetStep struct {
	Glyph string `yaml:"glyph"`
	Attr  string `yaml:"attr"`
	Value any    `yaml:"value"`
}

// FireStep runs a rule. Seed pre-binds pattern variables to named
// glyphs.
type FireStep struct {
	Rule string            `yaml:"rule"`
	Seed map[string]string `yaml:"seed,omitempty"`
}

// Expect specifies the expected commit outcome.
type Expect struct {
	// Outcome is "committed" or "aborted".
	Outcome string `yaml:"outcome"`

	// Error is the error kind of an aborted transaction (e.g. "CONSTRAINT").
	Error string `yaml:"error,omitempty"`

	// Firings is the expected number of rule firings.
	Firings *int `yaml:"firings,omitempty"`

	// Warnings lists the soft constraints expected to be violated, in
	// report order.
	Warnings []string `yaml:"warnings,omitempty"`

	// Violations lists the hard constraints expected to abort the commit.
	Violations []string `yaml:"violations,omitempty"`
}

// Assertion validates the final committed state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "count": number of glyphs of GlyphType (subtypes included)
	// - "attr": attribute Attr of Glyph equals Value
	// - "exists": Glyph is live
	// - "missing": Glyph is not live
	// - "targets": Glyph's targets are exactly Targets
	Type string `yaml:"type"`

	// GlyphType is the type name (used by count).
	GlyphType string `yaml:"glyph_type,omitempty"`

	// Count is the expected number of glyphs (used by count).
	Count int `yaml:"count,omitempty"`

	// Glyph names a glyph bound by a create step's "as".
	Glyph string `yaml:"glyph,omitempty"`

	// Attr and Value are used by attr. A missing value asserts null.
	Attr  string `yaml:"attr,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Targets lists glyph names (used by targets).
	Targets []string `yaml:"targets,omitempty"`
}

// Assertion type constants.
const (
	AssertCount   = "count"
	AssertAttr    = "attr"
	AssertExists  = "exists"
	AssertMissing = "missing"
	AssertTargets = "targets"
)

// Transaction outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeAborted   = "aborted"
)

// LoadScenario reads and parses a scenario YAML file. The ontology path is
// resolved relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the ontology path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if !filepath.IsAbs(scenario.Ontology) && basePath != "" {
		scenario.Ontology = filepath.Join(basePath, scenario.Ontology)
	}
	if _, err := os.Stat(scenario.Ontology); err != nil {
		return nil, fmt.Errorf("invalid scenario: ontology not found: %s", scenario.Ontology)
	}

	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML. Paths are left as
// written.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// ParseTransactions decodes a document holding only a transactions list,
// the input of glyph exec. Expect clauses are validated like a scenario's.
func ParseTransactions(data []byte) ([]Transaction, error) {
	var doc struct {
		Transactions []Transaction `yaml:"transactions"`
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(doc.Transactions) == 0 {
		return nil, fmt.Errorf("invalid transactions: transactions list is required and must be non-empty")
	}
	for i, tx := range doc.Transactions {
		if err := validateTransaction(i, &tx); err != nil {
			return nil, fmt.Errorf("invalid transactions: %w", err)
		}
	}
	return doc.Transactions, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Ontology == "" {
		return fmt.Errorf("ontology is required")
	}

	if len(s.Transactions) == 0 {
		return fmt.Errorf("transactions list is required and must be non-empty")
	}

	if s.Limits != nil && (s.Limits.MaxDepth < 0 || s.Limits.MaxActions < 0) {
		return fmt.Errorf("limits must be non-negative")
	}

	for i, tx := range s.Transactions {
		if err := validateTransaction(i, &tx); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateTransaction(index int, tx *Transaction) error {
	if len(tx.Steps) == 0 {
		return fmt.Errorf("transactions[%d]: steps list is required and must be non-empty", index)
	}
	for j, step := range tx.Steps {
		n := 0
		if step.Create != nil {
			n++
			if step.Create.Type == "" {
				return fmt.Errorf("transactions[%d].steps[%d]: create requires type", index, j)
			}
		}
		if step.Delete != "" {
			n++
		}
		if step.Set != nil {
			n++
			if step.Set.Glyph == "" || step.Set.Attr == "" {
				return fmt.Errorf("transactions[%d].steps[%d]: set requires glyph and attr", index, j)
			}
		}
		if step.Fire != nil {
			n++
			if step.Fire.Rule == "" {
				return fmt.Errorf("transactions[%d].steps[%d]: fire requires rule", index, j)
			}
		}
		if n != 1 {
			return fmt.Errorf("transactions[%d].steps[%d]: exactly one of create, delete, set, fire is required", index, j)
		}
		if step.Error != "" && !validKind(step.Error) {
			return fmt.Errorf("transactions[%d].steps[%d]: unknown error kind %q", index, j, step.Error)
		}
	}

	if e := tx.Expect; e != nil {
		switch e.Outcome {
		case OutcomeCommitted:
			if e.Error != "" {
				return fmt.Errorf("transactions[%d].expect: error requires outcome %q", index, OutcomeAborted)
			}
		case OutcomeAborted:
			if e.Error != "" && !validKind(e.Error) {
				return fmt.Errorf("transactions[%d].expect: unknown error kind %q", index, e.Error)
			}
		default:
			return fmt.Errorf("transactions[%d].expect: outcome must be %q or %q", index, OutcomeCommitted, OutcomeAborted)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCount:
		if a.GlyphType == "" {
			return fmt.Errorf("assertions[%d]: glyph_type is required for count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for count", index)
		}
	case AssertAttr:
		if a.Glyph == "" || a.Attr == "" {
			return fmt.Errorf("assertions[%d]: glyph and attr are required for attr", index)
		}
	case AssertExists, AssertMissing:
		if a.Glyph == "" {
			return fmt.Errorf("assertions[%d]: glyph is required for %s", index, a.Type)
		}
	case AssertTargets:
		if a.Glyph == "" {
			return fmt.Errorf("assertions[%d]: glyph is required for targets", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func validKind(k string) bool {
	switch ir.ErrorKind(k) {
	case ir.KindSchema, ir.KindValue, ir.KindNotFound, ir.KindRuleLimit,
		ir.KindConstraint, ir.KindConflict, ir.KindTxClosed, ir.KindInternal:
		return true
	default:
		return false
	}
}
