package llm

// ToolDefinition defines a tool that can be called by the LLM.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ParameterProperty defines a parameter property in JSON Schema format.
type ParameterProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// NewToolDefinition creates a tool definition with an object JSON Schema.
func NewToolDefinition(name, description string, properties map[string]ParameterProperty, required []string) ToolDefinition {
	props := make(map[string]any, len(properties))
	for k, v := range properties {
		props[k] = map[string]any{
			"type":        v.Type,
			"description": v.Description,
		}
	}
	if required == nil {
		required = []string{}
	}

	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

const (
	// GenerateSQLTool is the only tool declared during SQL generation.
	GenerateSQLTool = "generate_sql"

	// AnalyzeDataTool is the only tool declared during result analysis.
	AnalyzeDataTool = "analyze_data"
)

// GenerateSQLDefinition declares generate_sql(sql_query).
func GenerateSQLDefinition() ToolDefinition {
	return NewToolDefinition(
		GenerateSQLTool,
		"Generate a SQL query based on the user's request and the database schema",
		map[string]ParameterProperty{
			"sql_query": {Type: "string", Description: "The SQL query to execute"},
		},
		[]string{"sql_query"},
	)
}

// AnalyzeDataDefinition declares analyze_data(analysis, suggestions,
// product_recommendations).
func AnalyzeDataDefinition() ToolDefinition {
	return NewToolDefinition(
		AnalyzeDataTool,
		"Analyze query results and provide insights",
		map[string]ParameterProperty{
			"analysis":                {Type: "string", Description: "Analysis of the query results"},
			"suggestions":             {Type: "string", Description: "Suggested follow-up queries"},
			"product_recommendations": {Type: "string", Description: "Product recommendations based on the data (optional)"},
		},
		[]string{"analysis"},
	)
}
