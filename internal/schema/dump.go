package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PromptText renders tables in the block format used for hardcoded schema
// descriptions, with primary and foreign keys annotated inline.
func PromptText(tables []Table) string {
	var sb strings.Builder
	for _, t := range tables {
		fmt.Fprintf(&sb, "\n   %s table:\n", t.Name)
		if t.Description != "" {
			fmt.Fprintf(&sb, "   Description: %s\n", t.Description)
		}
		if len(t.Columns) == 0 {
			continue
		}
		sb.WriteString("   Columns:\n")
		for _, col := range t.Columns {
			sb.WriteString(columnLine(t, col))
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func columnLine(t Table, col Column) string {
	var sb strings.Builder
	sb.WriteString("      * ")
	sb.WriteString(col.Name)
	if col.IsPK {
		sb.WriteString(" (PRIMARY KEY)")
	}
	for _, fk := range t.ForeignKeys {
		if fk.Column == col.Name {
			fmt.Fprintf(&sb, " (FOREIGN KEY references %s.%s)", fk.ForeignTable, fk.ForeignColumn)
			break
		}
	}
	if col.Comment != "" {
		sb.WriteString(": ")
		sb.WriteString(col.Comment)
	} else {
		fmt.Fprintf(&sb, " (%s)", col.Type)
	}
	return sb.String()
}

// RawJSON returns the introspected tables as indented JSON.
func RawJSON(tables []Table) ([]byte, error) {
	b, err := json.MarshalIndent(tables, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return b, nil
}
