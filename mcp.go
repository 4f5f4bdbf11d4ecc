package main

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/JonMunkholm/DbChat/internal/logging"
)

const (
	mcpServerName    = "dbchat"
	mcpServerVersion = "0.1.0"
)

type mcpTools struct {
	assistant assistant
	logger    *zap.Logger
}

// newMCPServer exposes the pipeline as the ask_database and describe_schema
// tools.
func newMCPServer(ast assistant, logger *zap.Logger) *server.MCPServer {
	s := server.NewMCPServer(mcpServerName, mcpServerVersion, server.WithToolCapabilities(true))

	t := &mcpTools{assistant: ast, logger: logging.OrNop(logger).Named("mcp")}
	s.AddTool(askDatabaseTool(), t.askDatabase)
	s.AddTool(describeSchemaTool(), t.describeSchema)
	return s
}

func askDatabaseTool() mcp.Tool {
	return mcp.NewTool("ask_database",
		mcp.WithDescription("Answer a natural-language question about the database. "+
			"Generates SQL, runs it and returns the SQL with an analysis of the results, "+
			"or a plain-text reply when no query is needed. The response is the same JSON "+
			`envelope as /api/chat: {"type": "sql_analysis"|"text"|"error", "response": ...}.`),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question, in plain language"),
		),
	)
}

func describeSchemaTool() mcp.Tool {
	return mcp.NewTool("describe_schema",
		mcp.WithDescription("Return the tables and columns most relevant to a question, "+
			"formatted the way they are given to the SQL generator."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("The question to select schema context for"),
		),
	)
}

func (t *mcpTools) askDatabase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ans, err := t.assistant.Ask(ctx, question)
	if err != nil {
		t.logger.Error("ask_database failed", zap.Error(err))
		return mcp.NewToolResultError(chatApology), nil
	}

	b, err := json.Marshal(chatEnvelope(ans))
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

func (t *mcpTools) describeSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	desc, err := t.assistant.SchemaFor(ctx, question)
	if err != nil {
		t.logger.Error("describe_schema failed", zap.Error(err))
		return mcp.NewToolResultError("schema lookup failed: " + err.Error()), nil
	}
	return mcp.NewToolResultText(desc), nil
}
