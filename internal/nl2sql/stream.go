package nl2sql

import (
	"context"
	"iter"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JonMunkholm/DbChat/internal/llm"
)

// ErrToolIncomplete is the text answer given when a streamed generate_sql
// call ends before its input is assembled, or with unusable input.
const ErrToolIncomplete = "Error: SQL Tool call incomplete."

// StreamGeneration is the decided outcome of a streamed generation. Exactly
// one of SQL and Text is set.
type StreamGeneration struct {
	SQL    string
	Text   *TextStream
	Forced bool
}

// TextStream yields the text increments of a free-text answer. It can be
// consumed once; later calls to Chunks yield nothing.
type TextStream struct {
	buffered []string
	events   <-chan llm.Event
	cancel   context.CancelFunc

	mu       sync.Mutex
	consumed bool
	err      error
}

// StaticText returns a TextStream over fixed chunks.
func StaticText(chunks ...string) *TextStream {
	return &TextStream{buffered: chunks, cancel: func() {}}
}

// Chunks returns the text increments in order. A provider error ends the
// sequence with a trailing "[Error during streaming: ...]" marker. Stopping
// early releases the underlying stream.
func (s *TextStream) Chunks() iter.Seq[string] {
	return func(yield func(string) bool) {
		s.mu.Lock()
		if s.consumed {
			s.mu.Unlock()
			return
		}
		s.consumed = true
		s.mu.Unlock()
		defer s.cancel()

		for _, c := range s.buffered {
			if !yield(c) {
				return
			}
		}
		if s.events == nil {
			return
		}
		for ev := range s.events {
			switch ev.Type {
			case llm.BlockDelta:
				if ev.Text == "" {
					continue
				}
				if !yield(ev.Text) {
					return
				}
			case llm.ErrorEvent:
				s.setErr(ev.Err)
				yield("\n[Error during streaming: " + errMessage(ev.Err) + "]")
				return
			case llm.MessageStop:
				return
			}
		}
	}
}

// Collect consumes the stream and returns the concatenated text.
func (s *TextStream) Collect() string {
	var sb strings.Builder
	for c := range s.Chunks() {
		sb.WriteString(c)
	}
	return sb.String()
}

// Close releases the stream without consuming it.
func (s *TextStream) Close() {
	s.mu.Lock()
	s.consumed = true
	s.mu.Unlock()
	s.cancel()
}

// Err returns the provider error that ended the stream, if any.
func (s *TextStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *TextStream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// GenerateStream is the single-attempt streaming variant of Generate. The
// first content block decides the path: a generate_sql call is read until
// its input is fully assembled, anything else becomes a TextStream that
// starts with the events seen so far. Provider failures before that
// decision return a *GenerationError.
func (g *Generator) GenerateStream(ctx context.Context, question, system string) (*StreamGeneration, error) {
	forced := g.classifier.ForceStructured(question)
	user := question
	if forced {
		user = llm.ForcedUserTurn(question)
	}

	ctx, cancel := context.WithCancel(ctx)
	events, err := g.provider.Stream(ctx, g.request(system, user))
	if err != nil {
		cancel()
		g.logger.Error("generation stream failed", zap.Error(err))
		return nil, &GenerationError{Stage: "generate", Attempt: 1, Err: err}
	}

	out := &StreamGeneration{Forced: forced}
	toolIndex := -1

	for ev := range events {
		switch ev.Type {
		case llm.MessageStart:
			continue

		case llm.ErrorEvent:
			cancel()
			if toolIndex >= 0 {
				g.logger.Warn("stream failed during sql tool call", zap.Error(ev.Err))
				out.Text = StaticText(ErrToolIncomplete)
				return out, nil
			}
			g.logger.Error("generation stream error", zap.Error(ev.Err))
			return nil, &GenerationError{Stage: "generate", Attempt: 1, Err: ev.Err}

		case llm.MessageStop:
			cancel()
			if toolIndex >= 0 {
				out.Text = StaticText(ErrToolIncomplete)
			} else {
				out.Text = StaticText(GenerationApology)
			}
			return out, nil

		case llm.BlockStart:
			if toolIndex >= 0 {
				continue
			}
			if ev.Kind == llm.ToolUseKind && ev.ToolName == llm.GenerateSQLTool {
				toolIndex = ev.Index
				continue
			}
			g.logger.Debug("streaming text answer", zap.Stringer("kind", ev.Kind))
			out.Text = &TextStream{events: events, cancel: cancel}
			return out, nil

		case llm.BlockDelta:
			if toolIndex >= 0 {
				continue
			}
			// Text arriving without a block start still decides the path.
			out.Text = &TextStream{buffered: []string{ev.Text}, events: events, cancel: cancel}
			return out, nil

		case llm.BlockStop:
			if ev.Index != toolIndex {
				continue
			}
			cancel()
			sql, err := extractSQL(ev.Block.Input)
			if err != nil {
				g.logger.Warn("unusable streamed generate_sql input", zap.Error(err))
				out.Text = StaticText(ErrToolIncomplete)
				return out, nil
			}
			out.SQL = sql
			g.logger.Debug("sql generated from stream", zap.String("sql", sql))
			return out, nil
		}
	}

	// Closed without MessageStop, normally because the context ended.
	ctxErr := ctx.Err()
	cancel()
	if ctxErr != nil {
		return nil, &GenerationError{Stage: "generate", Attempt: 1, Err: ctxErr}
	}
	if toolIndex >= 0 {
		out.Text = StaticText(ErrToolIncomplete)
	} else {
		out.Text = StaticText(GenerationApology)
	}
	return out, nil
}
