package nl2sql

import (
	"strings"

	"github.com/JonMunkholm/DbChat/internal/llm"
	"github.com/JonMunkholm/DbChat/internal/ranking"
	"github.com/JonMunkholm/DbChat/internal/schema"
)

// Composer renders schema context for the generation prompt.
type Composer struct {
	hardcoded string
	persona   string
}

// NewComposer returns a Composer. A non-empty hardcoded schema replaces
// ranked matches for every question.
func NewComposer(hardcoded, persona string) *Composer {
	return &Composer{hardcoded: hardcoded, persona: persona}
}

// Hardcoded reports whether ranking is bypassed.
func (c *Composer) Hardcoded() bool { return c.hardcoded != "" }

// Compose groups matches by table in first-seen order. Each table block
// carries its description, when the table itself matched, followed by one
// bullet per matched column. With no matches the example schema is used.
func (c *Composer) Compose(matches []ranking.Match) string {
	if c.Hardcoded() {
		return c.hardcoded
	}
	if len(matches) == 0 {
		return schema.ExampleSchema
	}

	type block struct {
		description string
		columns     []schema.Element
	}
	var order []string
	blocks := make(map[string]*block)

	for _, m := range matches {
		el := m.Element
		b, ok := blocks[el.TableName]
		if !ok {
			b = &block{}
			blocks[el.TableName] = b
			order = append(order, el.TableName)
		}
		if el.Type == schema.TableElement {
			b.description = el.Description
		} else {
			b.columns = append(b.columns, el)
		}
	}

	var lines []string
	for _, name := range order {
		b := blocks[name]
		lines = append(lines, "\n   "+name+" table:")
		if b.description != "" {
			lines = append(lines, "   Description: "+b.description)
		}
		for _, col := range b.columns {
			line := "      * " + col.ColumnName
			if col.Description != "" {
				line += ": " + col.Description
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// SystemPrompt builds the generation system prompt around a schema
// description.
func (c *Composer) SystemPrompt(schemaDescription string) string {
	return llm.BuildSystemPrompt(schemaDescription, c.persona)
}
