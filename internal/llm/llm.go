// Package llm provides LLM provider integrations for tool-constrained SQL
// generation and result analysis.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JonMunkholm/DbChat/internal/logging"
)

// Provider defines the interface for LLM integrations.
type Provider interface {
	// Complete sends one request and returns the whole response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends one request and delivers the response as events. The
	// channel is closed after MessageStop or Error, or when ctx is done.
	Stream(ctx context.Context, req Request) (<-chan Event, error)

	// Name returns the provider name for logging/debugging.
	Name() string
}

// ToolChoice tells the model whether it must call a tool.
type ToolChoice int

const (
	// ToolChoiceAuto leaves tool use to the model.
	ToolChoiceAuto ToolChoice = iota
	// ToolChoiceRequired forces a call to one of the declared tools.
	ToolChoiceRequired
)

// Request is a single-turn chat request.
type Request struct {
	System      string
	User        string
	Tools       []ToolDefinition
	ToolChoice  ToolChoice
	MaxTokens   int // 0 = provider default
	Temperature *float32
}

// BlockKind tags a ContentBlock variant.
type BlockKind int

const (
	TextKind BlockKind = iota
	ToolUseKind
)

func (k BlockKind) String() string {
	if k == ToolUseKind {
		return "tool_use"
	}
	return "text"
}

// ContentBlock is either a text span or a tool invocation. Providers decode
// their native blocks into this form; callers switch on Kind.
type ContentBlock struct {
	Kind BlockKind

	// Text is set for TextKind.
	Text string

	// ToolID, ToolName and Input are set for ToolUseKind.
	ToolID   string
	ToolName string
	Input    json.RawMessage
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: TextKind, Text: text}
}

// ToolUseBlock returns a tool invocation content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Kind: ToolUseKind, ToolID: id, ToolName: name, Input: input}
}

// Response is an ordered list of content blocks.
type Response struct {
	Blocks     []ContentBlock
	StopReason string
	Tokens     int // Tokens used (for cost tracking)
}

// ToolCall returns the first invocation of the named tool.
func (r *Response) ToolCall(name string) (ContentBlock, bool) {
	for _, b := range r.Blocks {
		if b.Kind == ToolUseKind && b.ToolName == name {
			return b, true
		}
	}
	return ContentBlock{}, false
}

// Config holds LLM provider configuration.
type Config struct {
	Provider string // "anthropic" or "openai"
	APIKey   string // API key for the provider
	Model    string // Model name (e.g., "gpt-4o", "claude-sonnet-4-20250514")
	BaseURL  string // Base URL (for OpenRouter, proxies, etc.)
	Logger   *zap.Logger
}

// NewProvider creates an LLM provider based on configuration.
func NewProvider(cfg Config) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}
	logger := logging.OrNop(cfg.Logger).Named("llm")

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "anthropic":
		if cfg.Model == "" {
			cfg.Model = "claude-sonnet-4-20250514"
		}
		return NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.BaseURL, logger), nil

	case "openai":
		if cfg.Model == "" {
			cfg.Model = "gpt-4o"
		}
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL, logger), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: anthropic, openai)", cfg.Provider)
	}
}
