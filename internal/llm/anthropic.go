package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicProvider implements the Provider interface for Anthropic's Claude API.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

// NewAnthropicProvider creates a new Anthropic provider. baseURL may be empty.
func NewAnthropicProvider(apiKey, model, baseURL string, logger *zap.Logger) *AnthropicProvider {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
		logger: logger,
	}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) request(req Request) anthropic.MessagesRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	user := req.User
	out := anthropic.MessagesRequest{
		Model:       anthropic.Model(p.model),
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &user},
			}},
		},
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropic.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	if len(req.Tools) > 0 {
		choice := &anthropic.ToolChoice{Type: "auto"}
		if req.ToolChoice == ToolChoiceRequired {
			choice = &anthropic.ToolChoice{Type: "any"}
		}
		out.ToolChoice = choice
	}
	return out
}

// Complete sends one messages request.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := p.client.CreateMessages(ctx, p.request(req))
	if err != nil {
		classified := ClassifyError(p.Name(), err)
		p.logger.Error("anthropic request failed", zap.String("model", p.model), zap.Error(classified))
		return nil, classified
	}

	out := &Response{
		StopReason: string(resp.StopReason),
		Tokens:     resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	for _, c := range resp.Content {
		if b, ok := anthropicBlock(c); ok {
			out.Blocks = append(out.Blocks, b)
		}
	}

	p.logger.Debug("anthropic response",
		zap.String("model", p.model),
		zap.Int("blocks", len(out.Blocks)),
		zap.Int("tokens", out.Tokens),
		zap.String("stop_reason", out.StopReason))
	return out, nil
}

// anthropicBlock decodes a native content block. Unknown block types are
// dropped.
func anthropicBlock(c anthropic.MessageContent) (ContentBlock, bool) {
	switch c.Type {
	case "text":
		if c.Text == nil {
			return TextBlock(""), true
		}
		return TextBlock(*c.Text), true
	case "tool_use":
		if c.MessageContentToolUse == nil {
			return ContentBlock{}, false
		}
		input := c.MessageContentToolUse.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return ToolUseBlock(c.MessageContentToolUse.ID, c.MessageContentToolUse.Name, input), true
	default:
		return ContentBlock{}, false
	}
}

// Stream sends one streaming messages request. Events are produced from the
// SDK callbacks on a separate goroutine.
func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	ch := make(chan Event)
	emit := emitter{ctx: ctx, ch: ch}
	asm := newBlockAssembler()
	var failed bool

	streamReq := anthropic.MessagesStreamRequest{
		MessagesRequest: p.request(req),
		OnMessageStart: func(anthropic.MessagesEventMessageStartData) {
			emit.send(Event{Type: MessageStart})
		},
		OnContentBlockStart: func(data anthropic.MessagesEventContentBlockStartData) {
			ev := Event{Type: BlockStart, Index: data.Index, Kind: TextKind}
			var id, name string
			if data.ContentBlock.Type == "tool_use" && data.ContentBlock.MessageContentToolUse != nil {
				ev.Kind = ToolUseKind
				id = data.ContentBlock.MessageContentToolUse.ID
				name = data.ContentBlock.MessageContentToolUse.Name
				ev.ToolName = name
			}
			asm.start(data.Index, ev.Kind, id, name)
			emit.send(ev)
		},
		OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
			ev := Event{Type: BlockDelta, Index: data.Index}
			switch data.Delta.Type {
			case "text_delta":
				if data.Delta.Text != nil {
					ev.Text = *data.Delta.Text
					asm.text(data.Index, ev.Text)
				}
			case "input_json_delta":
				ev.Kind = ToolUseKind
				if data.Delta.PartialJson != nil {
					ev.PartialJSON = *data.Delta.PartialJson
					asm.json(data.Index, ev.PartialJSON)
				}
			default:
				return
			}
			emit.send(ev)
		},
		OnContentBlockStop: func(data anthropic.MessagesEventContentBlockStopData, _ anthropic.MessageContent) {
			block := asm.stop(data.Index)
			emit.send(Event{Type: BlockStop, Index: data.Index, Kind: block.Kind, ToolName: block.ToolName, Block: block})
		},
		OnError: func(resp anthropic.ErrorResponse) {
			msg := resp.Type
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			failed = true
			emit.send(Event{Type: ErrorEvent, Err: fmt.Errorf("anthropic stream: %s", msg)})
		},
	}

	go func() {
		defer close(ch)

		_, err := p.client.CreateMessagesStream(ctx, streamReq)
		if failed {
			return
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			classified := ClassifyError(p.Name(), err)
			p.logger.Error("anthropic stream failed", zap.String("model", p.model), zap.Error(classified))
			emit.send(Event{Type: ErrorEvent, Err: classified})
			return
		}
		emit.send(Event{Type: MessageStop})
	}()

	return ch, nil
}
