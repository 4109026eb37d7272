package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/maloferriol/my-local-ai-agent/internal/llm"
	"github.com/maloferriol/my-local-ai-agent/internal/tools"
)

// scriptedTurn is one model call's worth of canned stream output.
type scriptedTurn struct {
	events  []llm.Event
	err     error // returned from Recv after events drain, instead of io.EOF
	chatErr error // returned from Chat itself, before any stream exists
}

// mockProvider replays scripted turns in order and records every request it
// receives so tests can assert on the history sent to the model.
type mockProvider struct {
	turns    []scriptedTurn
	requests []llm.ChatRequest
}

func (p *mockProvider) Name() string { return "mock" }

func (p *mockProvider) Chat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	p.requests = append(p.requests, req)
	if len(p.turns) == 0 {
		return nil, fmt.Errorf("unexpected model call %d", len(p.requests))
	}
	turn := p.turns[0]
	p.turns = p.turns[1:]
	if turn.chatErr != nil {
		return nil, turn.chatErr
	}
	return &mockStream{events: turn.events, err: turn.err}, nil
}

func (p *mockProvider) addTurn(events ...llm.Event) {
	p.turns = append(p.turns, scriptedTurn{events: events})
}

type mockStream struct {
	events []llm.Event
	err    error
	pos    int
}

func (s *mockStream) Recv() (llm.Event, error) {
	if s.pos < len(s.events) {
		event := s.events[s.pos]
		s.pos++
		return event, nil
	}
	if s.err != nil {
		return llm.Event{}, s.err
	}
	return llm.Event{}, io.EOF
}

func (s *mockStream) Close() error { return nil }

func thinkingDelta(text string) llm.Event {
	return llm.Event{Type: llm.EventThinking, Text: text}
}

func contentDelta(text string) llm.Event {
	return llm.Event{Type: llm.EventContent, Text: text}
}

func toolCall(id, name string, args string) llm.Event {
	return llm.Event{Type: llm.EventToolCall, Tool: &llm.ToolCall{
		ID:        id,
		Name:      name,
		Arguments: json.RawMessage(args),
	}}
}

func doneEvent() llm.Event {
	return llm.Event{Type: llm.EventDone, Metrics: &llm.Metrics{PromptTokens: 10, CompletionTokens: 5}}
}

// mockTool returns a fixed result or error.
type mockTool struct {
	name   string
	result string
	err    error
	calls  int
}

func (m *mockTool) Spec() tools.Spec {
	return tools.Spec{Name: m.name, Description: "mock tool", Status: tools.StatusActive}
}

func (m *mockTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.result, nil
}

// collectEvents drains a stream, returning the events plus the terminal
// error (nil after a normal EOF).
func collectEvents(stream *Stream) ([]Event, error) {
	var events []Event
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

func stages(events []Event) []Stage {
	out := make([]Stage, 0, len(events))
	for _, e := range events {
		out = append(out, e.Stage)
	}
	return out
}
