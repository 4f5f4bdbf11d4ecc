package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JonMunkholm/DbChat/internal/config"
	"github.com/JonMunkholm/DbChat/internal/nl2sql"
	"github.com/JonMunkholm/DbChat/internal/query"
)

func plainREPL(ast assistant) (*repl, *bytes.Buffer) {
	var out bytes.Buffer
	return &repl{
		assistant: ast,
		out:       &out,
		width:     defaultWidth,
		styles:    newREPLStyles(false),
	}, &out
}

func TestREPL_ExitWords(t *testing.T) {
	ast := &fakeAssistant{}
	r, _ := plainREPL(ast)

	for _, line := range []string{"exit", "quit", "  QUIT "} {
		assert.False(t, r.handle(context.Background(), line), line)
	}
	assert.True(t, r.handle(context.Background(), "   "))
	assert.Empty(t, ast.questions)
}

func TestREPL_ShowsSQLRowsAndAnalysis(t *testing.T) {
	cols := []string{"id"}
	res := &query.Result{Columns: cols}
	for i := range 7 {
		res.Rows = append(res.Rows, query.NewRow(cols, []any{int64(i)}))
	}
	ast := &fakeAssistant{answer: &nl2sql.Answer{
		Kind:     nl2sql.AnswerAnalysis,
		SQL:      "SELECT id FROM t",
		Rows:     res,
		Analysis: &nl2sql.Analysis{Analysis: "Seven ids.", Suggestions: "Group them."},
	}}
	r, out := plainREPL(ast)

	require.True(t, r.handle(context.Background(), "list ids"))
	got := out.String()
	assert.Contains(t, got, "Generated SQL:\nSELECT id FROM t")
	assert.Contains(t, got, "Results (first 5 of 7 rows):")
	assert.Contains(t, got, `{"id":4}`)
	assert.NotContains(t, got, `{"id":5}`)
	assert.Contains(t, got, "Seven ids.")
	assert.Contains(t, got, "Group them.")
}

func TestREPL_DatabaseErrorShowsSQL(t *testing.T) {
	ast := &fakeAssistant{answer: &nl2sql.Answer{
		Kind:    nl2sql.AnswerDatabaseError,
		SQL:     "SELECT * FROM nope",
		DBError: &query.DatabaseError{Message: "no such table: nope"},
	}}
	r, out := plainREPL(ast)

	r.handle(context.Background(), "customers")
	assert.Contains(t, out.String(), "Database Error: no such table: nope")
	assert.Contains(t, out.String(), "SQL: SELECT * FROM nope")
}

func TestREPL_TextAndErrors(t *testing.T) {
	ast := &fakeAssistant{answer: &nl2sql.Answer{Kind: nl2sql.AnswerText, Text: "Hello there."}}
	r, out := plainREPL(ast)
	r.handle(context.Background(), "hi")
	assert.Contains(t, out.String(), "Hello there.")

	out.Reset()
	ast.err = errors.New("provider down")
	assert.True(t, r.handle(context.Background(), "hi"))
	assert.Contains(t, out.String(), "Error: provider down")
}

func TestAnalysisMarkdown(t *testing.T) {
	md := analysisMarkdown(&nl2sql.Analysis{Analysis: "A", ProductRecommendations: "P"})
	assert.Equal(t, "## Analysis\n\nA\n\n## Product recommendations\n\nP", md)
}

func TestWriteOutput(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, writeOutput(&stdout, "", []byte("a")))
	require.NoError(t, writeOutput(&stdout, "-", []byte("b")))
	assert.Equal(t, "ab", stdout.String())

	path := filepath.Join(t.TempDir(), "schema_prompt.txt")
	require.NoError(t, writeOutput(&stdout, path, []byte("   t table:\n")))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "   t table:\n", string(b))
}

func TestNewEmbedder_WithoutKeyFails(t *testing.T) {
	e, dims, err := newEmbedder(config.EmbeddingConfig{Model: "text-embedding-3-small"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, defaultVectorWidth, dims)

	_, err = e.Embed(context.Background(), "q")
	assert.ErrorIs(t, err, errEmbeddingUnavailable)
}

func TestNewEmbedder_DimensionsFromModel(t *testing.T) {
	_, dims, err := newEmbedder(config.EmbeddingConfig{APIKey: "sk-test", Model: "text-embedding-3-large"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3072, dims)

	_, dims, err = newEmbedder(config.EmbeddingConfig{APIKey: "sk-test", Model: "custom", Dimensions: 8}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 8, dims)
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "chat", "index", "schema", "mcp"} {
		assert.Contains(t, names, want)
	}

	dump, _, err := root.Find([]string{"schema", "dump"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dump.Use, "dump"))
}
