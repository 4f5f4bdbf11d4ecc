package nl2sql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JonMunkholm/DbChat/internal/llm"
	"github.com/JonMunkholm/DbChat/internal/logging"
)

// GenerationApology is returned when the model produced neither SQL nor
// usable text.
const GenerationApology = "I couldn't generate a proper response. Please try rephrasing your question."

// GenerationError is a provider failure during generation or analysis. It is
// fatal to the whole request.
type GenerationError struct {
	Stage   string // "generate" or "analyze"
	Attempt int
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s attempt %d: %v", e.Stage, e.Attempt, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Outcome is what one generation attempt produced.
type Outcome int

const (
	// OutcomeToolInvoked means generate_sql was called with a usable query.
	OutcomeToolInvoked Outcome = iota
	// OutcomeTextOnly means the model answered in prose.
	OutcomeTextOnly
	// OutcomeFailed means the tool was called with missing or invalid input.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeToolInvoked:
		return "tool_invoked"
	case OutcomeTextOnly:
		return "text_only"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Attempt records one request to the model.
type Attempt struct {
	Number    int
	Outcome   Outcome
	Escalated bool
	Text      string // filtered prose from this attempt
}

// MarshalJSON includes the outcome name.
func (a Attempt) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Number    int    `json:"number"`
		Outcome   string `json:"outcome"`
		Escalated bool   `json:"escalated"`
	}{a.Number, a.Outcome.String(), a.Escalated})
}

// Generation is the result of the generation protocol. Exactly one of SQL
// and Text is set.
type Generation struct {
	SQL      string
	Text     string
	Forced   bool
	Attempts []Attempt
}

// HasSQL reports whether the model produced a query.
func (g *Generation) HasSQL() bool { return g.SQL != "" }

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	MaxTokens   int
	Temperature *float32
	Logger      *zap.Logger
}

// Generator runs the SQL generation protocol against a provider.
type Generator struct {
	provider   llm.Provider
	classifier *Classifier
	opts       GeneratorOptions
	logger     *zap.Logger
}

// NewGenerator returns a Generator.
func NewGenerator(provider llm.Provider, classifier *Classifier, opts GeneratorOptions) *Generator {
	if classifier == nil {
		classifier = NewClassifier(nil, nil)
	}
	return &Generator{
		provider:   provider,
		classifier: classifier,
		opts:       opts,
		logger:     logging.OrNop(opts.Logger).Named("generate"),
	}
}

// state is a position in the generation protocol.
type state int

const (
	stateStart state = iota
	stateFirstAttempt
	stateNeedsEscalation
	stateSecondAttempt
	stateToolInvoked
	stateTextFallback
)

func (g *Generator) request(system, user string) llm.Request {
	return llm.Request{
		System:      system,
		User:        user,
		Tools:       []llm.ToolDefinition{llm.GenerateSQLDefinition()},
		ToolChoice:  llm.ToolChoiceAuto,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: g.opts.Temperature,
	}
}

// Generate asks the model for SQL answering question. A data question
// that gets a prose reply is retried once with stronger wording; any other
// prose reply is returned as filtered text. Provider failures return a
// *GenerationError.
func (g *Generator) Generate(ctx context.Context, question, system string) (*Generation, error) {
	gen := &Generation{}
	var text string

	st := stateStart
	for {
		switch st {
		case stateStart:
			gen.Forced = g.classifier.ForceStructured(question)
			st = stateFirstAttempt

		case stateFirstAttempt, stateSecondAttempt:
			user := question
			escalated := st == stateSecondAttempt
			switch {
			case escalated:
				user = llm.EscalatedUserTurn(question)
			case gen.Forced:
				user = llm.ForcedUserTurn(question)
			}

			attempt, err := g.attempt(ctx, len(gen.Attempts)+1, escalated, system, user)
			if err != nil {
				return nil, err
			}
			gen.Attempts = append(gen.Attempts, attempt.Attempt)

			switch {
			case attempt.Outcome == OutcomeToolInvoked:
				gen.SQL = attempt.sql
				st = stateToolInvoked
			case !escalated && gen.Forced:
				st = stateNeedsEscalation
			default:
				text = attempt.Text
				st = stateTextFallback
			}

		case stateNeedsEscalation:
			g.logger.Info("model skipped the sql tool, escalating", zap.String("question", question))
			st = stateSecondAttempt

		case stateToolInvoked:
			g.logger.Debug("sql generated",
				zap.String("sql", gen.SQL),
				zap.Int("attempts", len(gen.Attempts)))
			return gen, nil

		case stateTextFallback:
			if text == "" {
				text = GenerationApology
			}
			gen.Text = text
			g.logger.Debug("text fallback", zap.Int("attempts", len(gen.Attempts)))
			return gen, nil
		}
	}
}

type attemptResult struct {
	Attempt
	sql string
}

func (g *Generator) attempt(ctx context.Context, n int, escalated bool, system, user string) (attemptResult, error) {
	resp, err := g.provider.Complete(ctx, g.request(system, user))
	if err != nil {
		g.logger.Error("generation failed", zap.Int("attempt", n), zap.Error(err))
		return attemptResult{}, &GenerationError{Stage: "generate", Attempt: n, Err: err}
	}

	res := attemptResult{Attempt: Attempt{Number: n, Escalated: escalated, Text: filteredText(resp)}}
	block, ok := resp.ToolCall(llm.GenerateSQLTool)
	if !ok {
		res.Outcome = OutcomeTextOnly
		return res, nil
	}

	sql, err := extractSQL(block.Input)
	if err != nil {
		g.logger.Warn("unusable generate_sql input", zap.Int("attempt", n), zap.Error(err))
		res.Outcome = OutcomeFailed
		return res, nil
	}
	res.Outcome = OutcomeToolInvoked
	res.sql = sql
	return res, nil
}

// filteredText joins the response's text blocks with reasoning sections
// removed.
func filteredText(resp *llm.Response) string {
	var parts []string
	for _, b := range resp.Blocks {
		if b.Kind != llm.TextKind {
			continue
		}
		if t := llm.StripThinking(b.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

type generateSQLInput struct {
	SQLQuery string `json:"sql_query"`
}

func extractSQL(input json.RawMessage) (string, error) {
	var in generateSQLInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", fmt.Errorf("decode tool input: %w", err)
	}
	sql := strings.TrimSpace(in.SQLQuery)
	if sql == "" {
		return "", fmt.Errorf("sql_query is empty")
	}
	return sql, nil
}
