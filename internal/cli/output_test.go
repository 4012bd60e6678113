package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/glyph/internal/ir"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeInvalidRule, "unknown variable b", map[string]string{"rule": "mark-unavailable"})
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E110", resp.Error.Code)
	assert.Equal(t, "unknown variable b", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success("Ontology valid")
	require.NoError(t, err)
	assert.Equal(t, "Ontology valid\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			err := formatter.Error("E005", "store not found", map[string]string{"path": "glyph.db"})
			require.NoError(t, err)
			assert.Contains(t, buf.String(), "Error [E005]: store not found")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details:")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			errBuf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    buf,
				ErrWriter: errBuf,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("Compiling %s", "library.cue")

			assert.Empty(t, buf.String(), "verbose output must not corrupt stdout")
			if tt.wantLog {
				assert.Contains(t, errBuf.String(), "Compiling library.cue")
			} else {
				assert.Empty(t, errBuf.String())
			}
		})
	}
}

func TestOutputFormatter_GetErrWriterFallback(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}
	assert.Same(t, buf, formatter.GetErrWriter())
}

// =============================================================================
// Exit codes
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"exit error", NewExitError(ExitCommandError, "bad path"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("run: %w", NewExitError(ExitFailure, "failed")), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestWrapExitError(t *testing.T) {
	inner := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "failed to open store", inner)

	assert.Equal(t, "failed to open store: disk full", err.Error())
	assert.ErrorIs(t, err, inner)
}

// =============================================================================
// Glyph rendering
// =============================================================================

func TestFormatGlyph(t *testing.T) {
	tests := []struct {
		name string
		rec  ir.GlyphRecord
		want string
	}{
		{
			name: "node",
			rec: ir.GlyphRecord{ID: 1, Type: "Book", Attrs: map[string]ir.Value{
				"title":  ir.String("Dune"),
				"copies": ir.Int(1),
			}},
			want: `#1 Book {copies: 1, title: "Dune"}`,
		},
		{
			name: "edge without attributes",
			rec:  ir.GlyphRecord{ID: 4, Type: "loan", Targets: []ir.GlyphID{2, 1}},
			want: "#4 loan(2, 1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatGlyph(tt.rec))
		})
	}
}

func TestGlyphJSON_Canonical(t *testing.T) {
	raw, err := glyphJSON(ir.GlyphRecord{ID: 1, Type: "Book", Attrs: map[string]ir.Value{
		"title":  ir.String("Dune"),
		"copies": ir.Int(1),
	}})
	require.NoError(t, err)
	assert.Equal(t, `{"attrs":{"copies":1,"title":"Dune"},"id":1,"targets":[],"type":"Book"}`, string(raw))
}
