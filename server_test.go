package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JonMunkholm/DbChat/internal/nl2sql"
	"github.com/JonMunkholm/DbChat/internal/query"
	"github.com/JonMunkholm/DbChat/internal/schema"
)

type fakeAssistant struct {
	answer *nl2sql.Answer
	stream *nl2sql.StreamAnswer
	gen    *nl2sql.Generation
	schema string
	err    error

	questions []string
}

func (f *fakeAssistant) Ask(_ context.Context, q string) (*nl2sql.Answer, error) {
	f.questions = append(f.questions, q)
	return f.answer, f.err
}

func (f *fakeAssistant) AskStream(_ context.Context, q string) (*nl2sql.StreamAnswer, error) {
	f.questions = append(f.questions, q)
	return f.stream, f.err
}

func (f *fakeAssistant) GenerateSQL(_ context.Context, q string) (*nl2sql.Generation, error) {
	f.questions = append(f.questions, q)
	return f.gen, f.err
}

func (f *fakeAssistant) SchemaFor(_ context.Context, q string) (string, error) {
	f.questions = append(f.questions, q)
	return f.schema, f.err
}

type fakeExecutor struct {
	res  *query.Result
	err  error
	seen []string
}

func (f *fakeExecutor) Execute(_ context.Context, sql string) (*query.Result, error) {
	f.seen = append(f.seen, sql)
	return f.res, f.err
}

func sampleRows() *query.Result {
	cols := []string{"company_name", "revenue"}
	return &query.Result{Columns: cols, Rows: []query.Row{
		query.NewRow(cols, []any{"Acme", 12.5}),
		query.NewRow(cols, []any{"Globex", 9.0}),
	}}
}

func newTestAPI(ast assistant, exec nl2sql.Executor) *api {
	return &api{assistant: ast, executor: exec, schema: schema.NewCache(), logger: zap.NewNop()}
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeChat(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// ============================================================================
// /api/chat
// ============================================================================

func TestHandleChat_SQLAnalysis(t *testing.T) {
	ast := &fakeAssistant{answer: &nl2sql.Answer{
		Kind: nl2sql.AnswerAnalysis,
		SQL:  "SELECT company_name FROM companies",
		Rows: sampleRows(),
		Analysis: &nl2sql.Analysis{
			Analysis:    "Acme leads.",
			Suggestions: "Break down by quarter.",
		},
	}}
	rec := post(t, newTestAPI(ast, nil).routes(), "/api/chat", `{"message":"  top companies  "}`)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeChat(t, rec)
	assert.Equal(t, "sql_analysis", out["type"])
	resp := out["response"].(map[string]any)
	assert.Equal(t, "SELECT company_name FROM companies", resp["sql_query"])
	assert.Equal(t, "Acme leads.", resp["analysis"])
	assert.Equal(t, "Break down by quarter.", resp["suggestions"])
	assert.Equal(t, "", resp["product_recommendations"])
	assert.Equal(t, []string{"top companies"}, ast.questions)
}

func TestHandleChat_Text(t *testing.T) {
	ast := &fakeAssistant{answer: &nl2sql.Answer{Kind: nl2sql.AnswerText, Text: "Hello!"}}
	rec := post(t, newTestAPI(ast, nil).routes(), "/api/chat", `{"message":"hi"}`)

	out := decodeChat(t, rec)
	assert.Equal(t, "text", out["type"])
	assert.Equal(t, "Hello!", out["response"])
}

func TestHandleChat_DatabaseError(t *testing.T) {
	ast := &fakeAssistant{answer: &nl2sql.Answer{
		Kind:    nl2sql.AnswerDatabaseError,
		SQL:     "SELECT * FROM nope",
		DBError: &query.DatabaseError{Message: "no such table: nope", SQL: "SELECT * FROM nope"},
	}}
	rec := post(t, newTestAPI(ast, nil).routes(), "/api/chat", `{"message":"count customers"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeChat(t, rec)
	assert.Equal(t, "error", out["type"])
	assert.Equal(t, "Database Error: no such table: nope", out["response"])
}

func TestHandleChat_PipelineErrorApologizes(t *testing.T) {
	ast := &fakeAssistant{err: errors.New("anthropic: 401 invalid x-api-key")}
	rec := post(t, newTestAPI(ast, nil).routes(), "/api/chat", `{"message":"count customers"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeChat(t, rec)
	assert.Equal(t, "error", out["type"])
	assert.Equal(t, chatApology, out["response"])
	assert.NotContains(t, rec.Body.String(), "x-api-key")
}

func TestHandleChat_BadRequest(t *testing.T) {
	ast := &fakeAssistant{}
	h := newTestAPI(ast, nil).routes()

	for _, body := range []string{`{`, `{"message":"   "}`, `{}`} {
		rec := post(t, h, "/api/chat", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "error", decodeChat(t, rec)["type"], body)
	}
	assert.Empty(t, ast.questions)
}

// ============================================================================
// /api/chat/stream
// ============================================================================

func TestHandleChatStream_Text(t *testing.T) {
	ast := &fakeAssistant{stream: &nl2sql.StreamAnswer{Text: nl2sql.StaticText("Hel", "lo", " there")}}
	rec := post(t, newTestAPI(ast, nil).routes(), "/api/chat/stream", `{"message":"hi"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Equal(t, "Hello there", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestHandleChatStream_Analysis(t *testing.T) {
	ast := &fakeAssistant{stream: &nl2sql.StreamAnswer{
		SQL:  "SELECT 1",
		Rows: sampleRows(),
		Analysis: &nl2sql.Analysis{
			Analysis:               "Two companies.",
			Suggestions:            "Add a year filter.",
			ProductRecommendations: "Try the analytics add-on.",
		},
	}}
	rec := post(t, newTestAPI(ast, nil).routes(), "/api/chat/stream", `{"message":"companies"}`)

	want := "Analysis:\nTwo companies.\n\nSuggestions:\nAdd a year filter.\n\nProduct recommendations:\nTry the analytics add-on."
	assert.Equal(t, want, rec.Body.String())
}

func TestHandleChatStream_AnalysisWithoutOptionalSections(t *testing.T) {
	ast := &fakeAssistant{stream: &nl2sql.StreamAnswer{
		SQL:      "SELECT 1",
		Analysis: &nl2sql.Analysis{Analysis: "One row."},
	}}
	rec := post(t, newTestAPI(ast, nil).routes(), "/api/chat/stream", `{"message":"companies"}`)
	assert.Equal(t, "Analysis:\nOne row.", rec.Body.String())
}

func TestHandleChatStream_DatabaseError(t *testing.T) {
	ast := &fakeAssistant{stream: &nl2sql.StreamAnswer{
		SQL:     "SELECT x",
		DBError: &query.DatabaseError{Message: "no such column: x"},
	}}
	rec := post(t, newTestAPI(ast, nil).routes(), "/api/chat/stream", `{"message":"customers"}`)
	assert.Equal(t, "Database Error: no such column: x", rec.Body.String())
}

func TestHandleChatStream_PipelineError(t *testing.T) {
	ast := &fakeAssistant{err: errors.New("boom")}
	rec := post(t, newTestAPI(ast, nil).routes(), "/api/chat/stream", `{"message":"customers"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, chatApology, rec.Body.String())
}

// ============================================================================
// /api/generate-sql and /api/export
// ============================================================================

func TestHandleGenerateSQL(t *testing.T) {
	ast := &fakeAssistant{gen: &nl2sql.Generation{
		SQL:    "SELECT COUNT(*) FROM customers",
		Forced: true,
		Attempts: []nl2sql.Attempt{
			{Number: 1, Outcome: nl2sql.OutcomeTextOnly},
			{Number: 2, Outcome: nl2sql.OutcomeToolInvoked, Escalated: true},
		},
	}}
	rec := post(t, newTestAPI(ast, nil).routes(), "/api/generate-sql", `{"message":"how many customers"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		SQL      string `json:"sql"`
		Attempts []struct {
			Number    int    `json:"number"`
			Outcome   string `json:"outcome"`
			Escalated bool   `json:"escalated"`
		} `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "SELECT COUNT(*) FROM customers", out.SQL)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, "text_only", out.Attempts[0].Outcome)
	assert.Equal(t, "tool_invoked", out.Attempts[1].Outcome)
	assert.True(t, out.Attempts[1].Escalated)
}

func TestHandleGenerateSQL_Error(t *testing.T) {
	ast := &fakeAssistant{err: errors.New("rate limited")}
	rec := post(t, newTestAPI(ast, nil).routes(), "/api/generate-sql", `{"message":"how many customers"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "rate limited")
}

func TestHandleExportCSV(t *testing.T) {
	exec := &fakeExecutor{res: sampleRows()}
	rec := post(t, newTestAPI(&fakeAssistant{}, exec).routes(), "/api/export", `{"sql":"SELECT company_name, revenue FROM companies"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=export_")
	assert.Equal(t, "company_name,revenue\nAcme,12.5\nGlobex,9\n", rec.Body.String())
	assert.Equal(t, []string{"SELECT company_name, revenue FROM companies"}, exec.seen)
}

func TestHandleExportCSV_Rejects(t *testing.T) {
	exec := &fakeExecutor{err: &query.DatabaseError{Message: "no such table: t"}}
	h := newTestAPI(&fakeAssistant{}, exec).routes()

	rec := post(t, h, "/api/export", `{"sql":"DELETE FROM companies"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, exec.seen)

	rec = post(t, h, "/api/export", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, h, "/api/export", `{"sql":"SELECT * FROM t"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Database Error: no such table: t")
}

// ============================================================================
// Schema and health
// ============================================================================

func TestSchemaEndpoints(t *testing.T) {
	h := newTestAPI(&fakeAssistant{}, nil)
	h.schema.Set(schema.CompaniesTables())

	refreshed := 0
	h.refresh = func(context.Context) error {
		refreshed++
		return nil
	}
	routes := h.routes()

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/schema", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out schemaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, len(schema.CompaniesTables()), out.TableCount)
	assert.NotEmpty(t, out.LastRefresh)

	rec = post(t, routes, "/schema/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, refreshed)
}

func TestSchemaRefresh_Failures(t *testing.T) {
	h := newTestAPI(&fakeAssistant{}, nil)
	rec := post(t, h.routes(), "/schema/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.refresh = func(context.Context) error { return errors.New("connection refused") }
	rec = post(t, h.routes(), "/schema/refresh", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestAPI(&fakeAssistant{}, nil).routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

// ============================================================================
// MCP tools
// ============================================================================

func toolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestMCP_AskDatabase(t *testing.T) {
	ast := &fakeAssistant{answer: &nl2sql.Answer{Kind: nl2sql.AnswerText, Text: "Hi"}}
	tools := &mcpTools{assistant: ast, logger: zap.NewNop()}

	res, err := tools.askDatabase(context.Background(), toolRequest(map[string]any{"question": "hello"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"type":"text","response":"Hi"}`, resultText(t, res))
	assert.Equal(t, []string{"hello"}, ast.questions)
}

func TestMCP_AskDatabaseErrors(t *testing.T) {
	ast := &fakeAssistant{err: errors.New("boom")}
	tools := &mcpTools{assistant: ast, logger: zap.NewNop()}

	res, err := tools.askDatabase(context.Background(), toolRequest(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Empty(t, ast.questions)

	res, err = tools.askDatabase(context.Background(), toolRequest(map[string]any{"question": "q"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, chatApology, resultText(t, res))
}

func TestMCP_DescribeSchema(t *testing.T) {
	ast := &fakeAssistant{schema: "\n   companies table:"}
	tools := &mcpTools{assistant: ast, logger: zap.NewNop()}

	res, err := tools.describeSchema(context.Background(), toolRequest(map[string]any{"question": "revenue"}))
	require.NoError(t, err)
	assert.Equal(t, "\n   companies table:", resultText(t, res))
}

func TestMCP_ServerListsTools(t *testing.T) {
	s := newMCPServer(&fakeAssistant{}, nil)

	msg := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"ask_database"`)
	assert.Contains(t, string(b), `"describe_schema"`)
}
