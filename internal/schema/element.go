package schema

import "fmt"

// ElementType distinguishes table entries from column entries.
type ElementType int

const (
	TableElement ElementType = iota
	ColumnElement
)

func (t ElementType) String() string {
	switch t {
	case TableElement:
		return "table"
	case ColumnElement:
		return "column"
	default:
		return fmt.Sprintf("ElementType(%d)", int(t))
	}
}

// Element is one catalog entry: a table, or a column of a table.
// ColumnName is empty for tables. Embedding is nil until computed.
type Element struct {
	ID          int64
	Type        ElementType
	TableName   string
	ColumnName  string
	Description string
	Embedding   []float32
}

// Key identifies an element independent of its storage id.
func (e Element) Key() string {
	if e.Type == TableElement {
		return e.TableName
	}
	return e.TableName + "." + e.ColumnName
}

// EmbeddingText is the text that represents the element to the embedding
// model.
func (e Element) EmbeddingText() string {
	if e.Type == TableElement {
		return fmt.Sprintf("Table: %s\nDescription: %s", e.TableName, e.Description)
	}
	return fmt.Sprintf("Table: %s\nColumn: %s\nDescription: %s", e.TableName, e.ColumnName, e.Description)
}

// Elements flattens introspected tables into catalog elements, one per table
// followed by one per column. Column comments become descriptions.
func Elements(tables []Table) []Element {
	var out []Element
	for _, t := range tables {
		out = append(out, Element{Type: TableElement, TableName: t.Name, Description: t.Description})
		for _, c := range t.Columns {
			out = append(out, Element{
				Type:        ColumnElement,
				TableName:   t.Name,
				ColumnName:  c.Name,
				Description: c.Comment,
			})
		}
	}
	return out
}
