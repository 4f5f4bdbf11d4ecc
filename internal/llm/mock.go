package llm

import (
	"context"
	"sync"
)

// MockProvider is a Provider driven by function fields, for tests.
type MockProvider struct {
	CompleteFunc func(ctx context.Context, req Request) (*Response, error)
	StreamFunc   func(ctx context.Context, req Request) (<-chan Event, error)

	mu       sync.Mutex
	requests []Request
}

// Name returns "mock".
func (m *MockProvider) Name() string { return "mock" }

// Complete records req and delegates to CompleteFunc.
func (m *MockProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	m.record(req)
	if m.CompleteFunc == nil {
		return &Response{}, nil
	}
	return m.CompleteFunc(ctx, req)
}

// Stream records req and delegates to StreamFunc.
func (m *MockProvider) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	m.record(req)
	if m.StreamFunc == nil {
		ch := make(chan Event)
		close(ch)
		return ch, nil
	}
	return m.StreamFunc(ctx, req)
}

// Requests returns the requests seen so far.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns how many requests were made.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockProvider) record(req Request) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
}

// ReplayStream returns a StreamFunc that sends events in order and closes
// the channel, stopping early if ctx is done.
func ReplayStream(events ...Event) func(ctx context.Context, req Request) (<-chan Event, error) {
	return func(ctx context.Context, _ Request) (<-chan Event, error) {
		ch := make(chan Event)
		go func() {
			defer close(ch)
			emit := emitter{ctx: ctx, ch: ch}
			for _, ev := range events {
				if !emit.send(ev) {
					return
				}
			}
		}()
		return ch, nil
	}
}
