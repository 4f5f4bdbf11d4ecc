package query

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Row maps column names to values and keeps the query's column order.
type Row struct {
	columns []string
	values  []any
}

// NewRow builds a row from parallel column and value slices.
func NewRow(columns []string, values []any) Row {
	return Row{columns: columns, values: values}
}

// Columns returns the column names in query order.
func (r Row) Columns() []string { return r.columns }

// Get returns the value of the named column.
func (r Row) Get(column string) (any, bool) {
	for i, c := range r.columns {
		if c == column {
			return r.values[i], true
		}
	}
	return nil, false
}

// Map returns the row as a plain map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i, c := range r.columns {
		m[c] = r.values[i]
	}
	return m
}

// MarshalJSON encodes the row as an object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Result is the outcome of one statement. Columns is empty for statements
// that return no rows.
type Result struct {
	Columns []string
	Rows    []Row
}

// MarshalJSON encodes the result as its row array.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.Rows == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r.Rows)
}

// JSON returns the rows indented for inclusion in a prompt.
func (r *Result) JSON() (string, error) {
	if len(r.Rows) == 0 {
		return "[]", nil
	}
	b, err := json.MarshalIndent(r.Rows, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteCSV writes a header line followed by one record per row.
func (r *Result) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(r.Columns); err != nil {
		return err
	}
	record := make([]string, len(r.Columns))
	for _, row := range r.Rows {
		for i, v := range row.values {
			record[i] = formatCSVValue(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCSVValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// numericTypes are database type names whose values arrive as text and are
// coerced to float64.
var numericTypes = map[string]bool{
	"NUMERIC": true,
	"DECIMAL": true,
}

func normalizeRow(values []any, typeNames []string) []any {
	row := make([]any, len(values))
	for i, v := range values {
		numeric := i < len(typeNames) && numericTypes[strings.ToUpper(typeNames[i])]
		switch val := v.(type) {
		case nil:
			row[i] = nil
		case []byte:
			row[i] = textValue(string(val), numeric)
		case string:
			row[i] = textValue(val, numeric)
		case time.Time:
			row[i] = val.Format(time.RFC3339Nano)
		default:
			row[i] = val
		}
	}
	return row
}

func textValue(s string, numeric bool) any {
	if numeric {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}
