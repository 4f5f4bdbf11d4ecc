package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIProvider implements the Provider interface for OpenAI-compatible APIs.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIProvider creates a new OpenAI provider. baseURL may be empty.
func NewOpenAIProvider(apiKey, model, baseURL string, logger *zap.Logger) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) request(req Request) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(req.Tools) > 0 {
		out.ToolChoice = "auto"
		if req.ToolChoice == ToolChoiceRequired {
			out.ToolChoice = "required"
		}
	}
	return out
}

// Complete sends one chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.request(req))
	if err != nil {
		classified := ClassifyError(p.Name(), err)
		p.logger.Error("openai request failed", zap.String("model", p.model), zap.Error(classified))
		return nil, classified
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Type: ErrorTypeResponse, Provider: p.Name(), Message: "no choices in response"}
	}

	choice := resp.Choices[0]
	out := &Response{
		StopReason: string(choice.FinishReason),
		Tokens:     resp.Usage.TotalTokens,
	}
	if choice.Message.Content != "" {
		out.Blocks = append(out.Blocks, TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Blocks = append(out.Blocks, ToolUseBlock(tc.ID, tc.Function.Name, toolInput(tc.Function.Arguments)))
	}

	p.logger.Debug("openai response",
		zap.String("model", p.model),
		zap.Int("blocks", len(out.Blocks)),
		zap.Int("tokens", out.Tokens),
		zap.String("stop_reason", out.StopReason))
	return out, nil
}

func toolInput(args string) json.RawMessage {
	if args == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(args)
}

// Stream sends one streaming chat completion request and translates chunks
// into block events. Text and each tool call get their own block index, in
// order of first appearance.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	creq := p.request(req)
	creq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		classified := ClassifyError(p.Name(), err)
		p.logger.Error("openai stream failed", zap.String("model", p.model), zap.Error(classified))
		return nil, classified
	}

	ch := make(chan Event)
	emit := emitter{ctx: ctx, ch: ch}

	go func() {
		defer close(ch)
		defer stream.Close()

		asm := newBlockAssembler()
		textIndex := -1
		toolIndex := make(map[int]int)
		var open []int
		next := 0

		stopAll := func() bool {
			for _, idx := range open {
				block := asm.stop(idx)
				if !emit.send(Event{Type: BlockStop, Index: idx, Kind: block.Kind, ToolName: block.ToolName, Block: block}) {
					return false
				}
			}
			open = nil
			return true
		}

		if !emit.send(Event{Type: MessageStart}) {
			return
		}

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				classified := ClassifyError(p.Name(), err)
				p.logger.Error("openai stream interrupted", zap.String("model", p.model), zap.Error(classified))
				emit.send(Event{Type: ErrorEvent, Err: classified})
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta

			if delta.Content != "" {
				if textIndex < 0 {
					textIndex = next
					next++
					asm.start(textIndex, TextKind, "", "")
					open = append(open, textIndex)
					if !emit.send(Event{Type: BlockStart, Index: textIndex, Kind: TextKind}) {
						return
					}
				}
				asm.text(textIndex, delta.Content)
				if !emit.send(Event{Type: BlockDelta, Index: textIndex, Text: delta.Content}) {
					return
				}
			}

			for _, tc := range delta.ToolCalls {
				key := 0
				if tc.Index != nil {
					key = *tc.Index
				}
				idx, ok := toolIndex[key]
				if !ok {
					// A tool call ends any open text block.
					if textIndex >= 0 && slices.Contains(open, textIndex) {
						block := asm.stop(textIndex)
						open = slices.DeleteFunc(open, func(i int) bool { return i == textIndex })
						if !emit.send(Event{Type: BlockStop, Index: textIndex, Kind: TextKind, Block: block}) {
							return
						}
					}
					idx = next
					next++
					toolIndex[key] = idx
					asm.start(idx, ToolUseKind, tc.ID, tc.Function.Name)
					open = append(open, idx)
					if !emit.send(Event{Type: BlockStart, Index: idx, Kind: ToolUseKind, ToolName: tc.Function.Name}) {
						return
					}
				}
				if tc.Function.Arguments != "" {
					asm.json(idx, tc.Function.Arguments)
					if !emit.send(Event{Type: BlockDelta, Index: idx, Kind: ToolUseKind, PartialJSON: tc.Function.Arguments}) {
						return
					}
				}
			}
		}

		if !stopAll() {
			return
		}
		emit.send(Event{Type: MessageStop})
	}()

	return ch, nil
}
