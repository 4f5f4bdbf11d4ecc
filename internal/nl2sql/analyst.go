package nl2sql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JonMunkholm/DbChat/internal/llm"
	"github.com/JonMunkholm/DbChat/internal/logging"
	"github.com/JonMunkholm/DbChat/internal/query"
)

// AnalysisApology is returned when the model neither called analyze_data
// nor wrote any text.
const AnalysisApology = "I couldn't analyze the results. Please try again with a different query."

// Analysis is the explanation of a query result. Structured is false when
// the model answered in prose and Analysis holds that filtered text.
type Analysis struct {
	Analysis               string `json:"analysis"`
	Suggestions            string `json:"suggestions,omitempty"`
	ProductRecommendations string `json:"product_recommendations,omitempty"`
	Structured             bool   `json:"-"`
}

// Analyst asks the model to explain query results.
type Analyst struct {
	provider llm.Provider
	persona  string
	opts     GeneratorOptions
	logger   *zap.Logger
}

// NewAnalyst returns an Analyst. persona is added to the analysis prompt.
func NewAnalyst(provider llm.Provider, persona string, opts GeneratorOptions) *Analyst {
	return &Analyst{
		provider: provider,
		persona:  persona,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger).Named("analyze"),
	}
}

// Analyze makes one request with analyze_data declared. There is no
// escalation: a prose reply becomes the analysis text.
func (a *Analyst) Analyze(ctx context.Context, question, sql string, res *query.Result) (*Analysis, error) {
	results, err := res.JSON()
	if err != nil {
		return nil, fmt.Errorf("encode results: %w", err)
	}

	resp, err := a.provider.Complete(ctx, llm.Request{
		System:      llm.BuildAnalysisSystemPrompt(a.persona),
		User:        llm.BuildAnalysisMessage(question, sql, results),
		Tools:       []llm.ToolDefinition{llm.AnalyzeDataDefinition()},
		ToolChoice:  llm.ToolChoiceAuto,
		MaxTokens:   a.opts.MaxTokens,
		Temperature: a.opts.Temperature,
	})
	if err != nil {
		a.logger.Error("analysis failed", zap.Error(err))
		return nil, &GenerationError{Stage: "analyze", Attempt: 1, Err: err}
	}

	if block, ok := resp.ToolCall(llm.AnalyzeDataTool); ok {
		var out Analysis
		if err := json.Unmarshal(block.Input, &out); err == nil && strings.TrimSpace(out.Analysis) != "" {
			out.Structured = true
			return &out, nil
		}
		a.logger.Warn("unusable analyze_data input", zap.ByteString("input", block.Input))
	}

	text := filteredText(resp)
	if text == "" {
		text = AnalysisApology
	}
	return &Analysis{Analysis: text}, nil
}
