package llm

import (
	"context"
	"strings"
)

// EventType identifies a streaming event.
type EventType int

const (
	MessageStart EventType = iota
	BlockStart
	BlockDelta
	BlockStop
	MessageStop
	ErrorEvent
)

func (t EventType) String() string {
	switch t {
	case MessageStart:
		return "message_start"
	case BlockStart:
		return "content_block_start"
	case BlockDelta:
		return "content_block_delta"
	case BlockStop:
		return "content_block_stop"
	case MessageStop:
		return "message_stop"
	case ErrorEvent:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one increment of a streamed response.
type Event struct {
	Type  EventType
	Index int

	// Kind and ToolName describe the block on BlockStart and BlockStop.
	Kind     BlockKind
	ToolName string

	// Text or PartialJSON carry a BlockDelta increment.
	Text        string
	PartialJSON string

	// Block is the fully assembled block on BlockStop.
	Block ContentBlock

	// Err is set on ErrorEvent.
	Err error
}

// blockAssembler accumulates deltas per block index so BlockStop can carry
// the complete block. Tool input is only exposed once assembled.
type blockAssembler struct {
	blocks map[int]*assembling
}

type assembling struct {
	kind  BlockKind
	id    string
	name  string
	text  strings.Builder
	input strings.Builder
}

func newBlockAssembler() *blockAssembler {
	return &blockAssembler{blocks: make(map[int]*assembling)}
}

func (a *blockAssembler) start(index int, kind BlockKind, id, name string) {
	a.blocks[index] = &assembling{kind: kind, id: id, name: name}
}

func (a *blockAssembler) get(index int) *assembling {
	b, ok := a.blocks[index]
	if !ok {
		b = &assembling{}
		a.blocks[index] = b
	}
	return b
}

func (a *blockAssembler) text(index int, s string) {
	a.get(index).text.WriteString(s)
}

func (a *blockAssembler) json(index int, s string) {
	a.get(index).input.WriteString(s)
}

func (a *blockAssembler) stop(index int) ContentBlock {
	b := a.get(index)
	delete(a.blocks, index)
	if b.kind == ToolUseKind {
		input := b.input.String()
		if strings.TrimSpace(input) == "" {
			input = "{}"
		}
		return ToolUseBlock(b.id, b.name, []byte(input))
	}
	return TextBlock(b.text.String())
}

// emitter sends events unless the consumer has gone away.
type emitter struct {
	ctx context.Context
	ch  chan<- Event
}

func (e emitter) send(ev Event) bool {
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}
