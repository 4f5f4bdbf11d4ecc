package query

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackingOpen records every handle the executor opens.
func trackingOpen(handles *[]*sql.DB) OpenFunc {
	return func(driver, dsn string) (*sql.DB, error) {
		db, err := sql.Open(driver, dsn)
		if err == nil {
			*handles = append(*handles, db)
		}
		return db, err
	}
}

func assertClosed(t *testing.T, handles []*sql.DB) {
	t.Helper()
	require.NotEmpty(t, handles)
	for _, db := range handles {
		assert.ErrorContains(t, db.Ping(), "database is closed")
	}
}

func tempDB(t *testing.T, setup ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range setup {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return path
}

func TestExecute_SelectLiteral(t *testing.T) {
	var handles []*sql.DB
	exec := NewExecutor("sqlite", ":memory:", Options{Open: trackingOpen(&handles)})
	assert.Equal(t, "sqlite", exec.Driver())

	res, err := exec.Execute(context.Background(), "SELECT 1 AS x")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, map[string]any{"x": int64(1)}, res.Rows[0].Map())

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"x":1}]`, string(b))

	assertClosed(t, handles)
}

func TestExecute_UpdateCommits(t *testing.T) {
	path := tempDB(t,
		"CREATE TABLE t (a INTEGER)",
		"INSERT INTO t (a) VALUES (0), (5)",
	)
	exec := NewExecutor("sqlite", path, Options{})

	res, err := exec.Execute(context.Background(), "UPDATE t SET a=1")
	require.NoError(t, err)
	assert.Empty(t, res.Rows)

	b, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))

	check, err := exec.Execute(context.Background(), "SELECT COUNT(*) AS n FROM t WHERE a = 1")
	require.NoError(t, err)
	n, ok := check.Rows[0].Get("n")
	require.True(t, ok)
	assert.Equal(t, int64(2), n)
}

func TestExecute_InvalidSQL(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{"syntax", "SELEC * FRM nowhere", "syntax error"},
		{"missing table", "SELECT * FROM missing_table", "no such table: missing_table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var handles []*sql.DB
			exec := NewExecutor("sqlite", ":memory:", Options{Open: trackingOpen(&handles)})

			_, err := exec.Execute(context.Background(), tt.sql)
			require.Error(t, err)

			var dbErr *DatabaseError
			require.ErrorAs(t, err, &dbErr)
			assert.Contains(t, dbErr.Message, tt.want)
			assert.Equal(t, tt.sql, dbErr.SQL)
			assert.NotContains(t, dbErr.Error(), "FROM")

			assertClosed(t, handles)
		})
	}
}

func TestExecute_FailedStatementRollsBack(t *testing.T) {
	path := tempDB(t,
		"CREATE TABLE t (a INTEGER NOT NULL)",
		"INSERT INTO t (a) VALUES (7)",
	)
	exec := NewExecutor("sqlite", path, Options{})

	_, err := exec.Execute(context.Background(), "UPDATE t SET a = NULL")
	require.Error(t, err)

	res, err := exec.Execute(context.Background(), "SELECT a FROM t")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(7)}, res.Rows[0].Map())
}

func TestExecute_ReadOnlyGuard(t *testing.T) {
	var handles []*sql.DB
	exec := NewExecutor("sqlite", ":memory:", Options{ReadOnly: true, Open: trackingOpen(&handles)})

	_, err := exec.Execute(context.Background(), "DELETE FROM t")
	require.ErrorIs(t, err, ErrReadOnly)
	assert.Empty(t, handles, "guard must reject before opening a connection")

	_, err = exec.Execute(context.Background(), "  -- count\nSELECT 1")
	require.NoError(t, err)
}

func TestExecute_EmptyQuery(t *testing.T) {
	exec := NewExecutor("sqlite", ":memory:", Options{})
	_, err := exec.Execute(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyQuery)
}

func TestExecute_ColumnOrderAndValues(t *testing.T) {
	path := tempDB(t,
		"CREATE TABLE c (zeta TEXT, alpha REAL, blob BLOB, missing TEXT)",
		"INSERT INTO c VALUES ('z', 1.5, X'6869', NULL)",
	)
	exec := NewExecutor("sqlite", path, Options{Timeout: 5 * time.Second})

	res, err := exec.Execute(context.Background(), "SELECT zeta, alpha, blob, missing FROM c")
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "blob", "missing"}, res.Columns)

	b, err := json.Marshal(res.Rows[0])
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"z","alpha":1.5,"blob":"hi","missing":null}`, string(b))
}

func TestNormalizeRow(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 5, time.UTC)
	got := normalizeRow(
		[]any{[]byte("12.50"), "3", []byte("text"), ts, nil, int64(4)},
		[]string{"NUMERIC", "decimal", "VARCHAR", "TIMESTAMP", "TEXT", "INT8"},
	)
	want := []any{12.5, 3.0, "text", "2024-03-01T12:30:00.000000005Z", nil, int64(4)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("normalizeRow mismatch (-want +got):\n%s", diff)
	}
}

func TestLeadingKeyword(t *testing.T) {
	tests := map[string]string{
		"select * from t":                   "SELECT",
		"  WITH x AS (SELECT 1) SELECT *":   "WITH",
		"(SELECT 1) UNION (SELECT 2)":       "SELECT",
		"-- note\n-- more\nexplain select 1": "EXPLAIN",
		"/* hint */ VALUES (1)":             "VALUES",
		"UPDATE t SET a=1":                  "UPDATE",
		"insert into t values (1)":          "INSERT",
		"-- only a comment":                 "",
		"":                                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, LeadingKeyword(in), in)
	}

	assert.True(t, IsSelect("show tables"))
	assert.True(t, IsSelect("TABLE customers"))
	assert.False(t, IsSelect("DROP TABLE customers"))
}

func TestResult_WriteCSV(t *testing.T) {
	res := &Result{
		Columns: []string{"name", "total", "note"},
		Rows: []Row{
			NewRow([]string{"name", "total", "note"}, []any{"Acme, Inc", 10.25, nil}),
			NewRow([]string{"name", "total", "note"}, []any{"Globex", int64(3), "ok"}),
		},
	}
	var buf bytes.Buffer
	require.NoError(t, res.WriteCSV(&buf))
	assert.Equal(t, "name,total,note\n\"Acme, Inc\",10.25,\nGlobex,3,ok\n", buf.String())
}

func TestResult_JSON(t *testing.T) {
	res := &Result{Rows: []Row{NewRow([]string{"b", "a"}, []any{1, 2})}}
	out, err := res.JSON()
	require.NoError(t, err)
	assert.Equal(t, "[\n  {\n    \"b\": 1,\n    \"a\": 2\n  }\n]", out)

	empty, err := (&Result{}).JSON()
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)
}
