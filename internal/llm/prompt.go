package llm

import (
	"fmt"
	"strings"
)

const (
	// forcedPrefix is prepended to the first user turn when the question is
	// classified as a data question.
	forcedPrefix = "IMPORTANT: If this question involves customer or database information, you MUST use the generate_sql tool: "

	// escalatedPrefix is used for the single retry after the model ignored
	// the tool.
	escalatedPrefix = "GENERATE SQL QUERY FOR THIS QUESTION, DO NOT EXPLAIN OR ASK FOR CLARIFICATION: "
)

// ForcedUserTurn wraps a data question with an instruction to use the tool.
func ForcedUserTurn(question string) string {
	return forcedPrefix + question
}

// EscalatedUserTurn is the stronger wording for the retry attempt.
func EscalatedUserTurn(question string) string {
	return escalatedPrefix + question
}

// BuildSystemPrompt constructs the system prompt with schema context for SQL
// generation. persona, when set, is added as an extra section.
func BuildSystemPrompt(schemaDescription, persona string) string {
	var sb strings.Builder
	sb.WriteString(`You are a friendly and helpful AI assistant specializing in database querying.

Database Expert:
- Convert natural language questions into SQL queries based on the provided schema
- When a user asks for customer, sales or other stored data, ALWAYS call the generate_sql tool
- The generate_sql tool takes exactly one SQL statement
- The database has the following tables and columns:
`)
	sb.WriteString(schemaDescription)
	sb.WriteString("\n")

	if p := strings.TrimSpace(persona); p != "" {
		sb.WriteString("\n")
		sb.WriteString(p)
		sb.WriteString("\n")
	}

	sb.WriteString(`
IMPORTANT INSTRUCTIONS FOR DATABASE QUERIES:
1. ALWAYS use the generate_sql tool if the question involves stored data or database information
2. Only use the tables and columns listed above. Do not invent tables or columns
3. Join tables using the primary and foreign keys shown in the schema when they are marked
4. If the schema doesn't contain exactly what the user is asking for, use the most relevant tables and columns
5. It's better to generate a SQL query that might not be perfect than to ask for clarification
6. Use JOINs, subqueries, and advanced SQL features when appropriate

IMPORTANT: Do not include any internal thinking or reasoning in your responses. Only provide the final output.`)
	return sb.String()
}

// BuildAnalysisSystemPrompt constructs the system prompt for result analysis.
func BuildAnalysisSystemPrompt(persona string) string {
	var sb strings.Builder
	sb.WriteString(`You are a friendly and helpful data analyst.
You will receive:
1. The original user question
2. The SQL query that was executed
3. The results of that query

Your task is to:
1. Analyze the results in a clear, business-oriented way
2. Point out any interesting patterns or insights
3. Answer the user's original question using the data
4. Suggest any relevant follow-up queries they might be interested in
`)
	if p := strings.TrimSpace(persona); p != "" {
		sb.WriteString("5. When appropriate, make recommendations using this context:\n")
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	sb.WriteString(`
Use the analyze_data tool to structure your response with:
- Required analysis section
- Optional suggestions for follow-up queries
- Optional product recommendations based on the data

IMPORTANT: Do not include any internal thinking or reasoning in your responses. Only provide the final output.`)
	return sb.String()
}

// BuildAnalysisMessage formats the analysis user turn. results is the JSON
// encoding of the result rows.
func BuildAnalysisMessage(question, sql, results string) string {
	return fmt.Sprintf("Original question: %s\nSQL Query executed: %s\nQuery Results: %s\n\nPlease analyze these results and provide insights.",
		question, sql, results)
}
