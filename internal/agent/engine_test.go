package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/maloferriol/my-local-ai-agent/internal/conversation"
	"github.com/maloferriol/my-local-ai-agent/internal/llm"
	"github.com/maloferriol/my-local-ai-agent/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, store conversation.Store) *conversation.Manager {
	t.Helper()
	if store == nil {
		store = conversation.NewNoopStore()
	}
	incoming := &conversation.Conversation{
		Messages: []conversation.Message{
			{Role: llm.RoleUser, Content: "hello", Model: "test-model"},
		},
	}
	mgr, err := conversation.NewManager(context.Background(), store, incoming, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func newTestEngine(provider llm.Provider, registry *tools.Registry, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	return NewEngine(provider, registry, opts)
}

func TestEngineRun_FinalizeWithoutTools(t *testing.T) {
	provider := &mockProvider{}
	provider.addTurn(
		thinkingDelta("pondering "),
		thinkingDelta("deeply"),
		contentDelta("Hello, "),
		contentDelta("world!"),
		doneEvent(),
	)

	engine := newTestEngine(provider, nil, Options{})
	mgr := newTestManager(t, nil)

	stream := engine.Run(context.Background(), mgr, "test-model", ModelCapabilities{})
	events, err := collectEvents(stream)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	want := []Stage{StageMetadata, StageThinking, StageThinking, StageContent, StageContent, StageFinalize}
	got := stages(events)
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stages = %v, want %v", got, want)
		}
	}

	if events[0].ConversationID != mgr.ID() {
		t.Errorf("metadata conversation_id = %d, want %d", events[0].ConversationID, mgr.ID())
	}

	// The persisted assistant message carries the full concatenation of the
	// streamed deltas.
	msgs := mgr.Conversation().Messages
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleAssistant {
		t.Fatalf("last message role = %q, want assistant", last.Role)
	}
	if last.Content != "Hello, world!" {
		t.Errorf("assistant content = %q, want %q", last.Content, "Hello, world!")
	}
	if last.Thinking != "pondering deeply" {
		t.Errorf("assistant thinking = %q, want %q", last.Thinking, "pondering deeply")
	}

	// Recv after EOF keeps returning EOF.
	if _, err := stream.Recv(); err != io.EOF {
		t.Errorf("Recv after EOF = %v, want io.EOF", err)
	}
}

func TestEngineRun_ToolLoop(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&mockTool{name: "get_weather", result: "sunny"})
	registry.Register(&mockTool{name: "get_time", result: "noon"})

	provider := &mockProvider{}
	provider.addTurn(
		contentDelta("checking..."),
		toolCall("id-1", "get_weather", `{"city":"Paris"}`),
		toolCall("id-2", "get_time", `{}`),
		doneEvent(),
	)
	provider.addTurn(
		contentDelta("It is sunny at noon."),
		doneEvent(),
	)

	engine := newTestEngine(provider, registry, Options{})
	mgr := newTestManager(t, nil)

	stream := engine.Run(context.Background(), mgr, "test-model", ModelCapabilities{Tools: true})
	events, err := collectEvents(stream)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	want := []Stage{StageMetadata, StageContent, StageToolResult, StageToolResult, StageContent, StageFinalize}
	got := stages(events)
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stages = %v, want %v", got, want)
		}
	}

	// Tool results come back in call order.
	if events[2].Tool != "get_weather" || events[2].Result != "sunny" {
		t.Errorf("first tool_result = %+v", events[2])
	}
	if events[3].Tool != "get_time" || events[3].Result != "noon" {
		t.Errorf("second tool_result = %+v", events[3])
	}
	if string(events[2].Args) != `{"city":"Paris"}` {
		t.Errorf("tool_result args = %s", events[2].Args)
	}

	// History: user, assistant(+calls), tool, tool, assistant.
	msgs := mgr.Conversation().Messages
	roles := make([]llm.Role, 0, len(msgs))
	for _, m := range msgs {
		roles = append(roles, m.Role)
	}
	wantRoles := []llm.Role{llm.RoleUser, llm.RoleAssistant, llm.RoleTool, llm.RoleTool, llm.RoleAssistant}
	if len(roles) != len(wantRoles) {
		t.Fatalf("roles = %v, want %v", roles, wantRoles)
	}
	for i := range wantRoles {
		if roles[i] != wantRoles[i] {
			t.Fatalf("roles = %v, want %v", roles, wantRoles)
		}
	}
	if len(msgs[1].ToolCalls) != 2 {
		t.Errorf("assistant tool calls = %d, want 2", len(msgs[1].ToolCalls))
	}
	for i, m := range msgs {
		if m.Step != i+1 {
			t.Errorf("message %d step = %d, want %d", i, m.Step, i+1)
		}
	}

	// The second model call sees the tool results.
	if len(provider.requests) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(provider.requests))
	}
	second := provider.requests[1].Messages
	foundResult := false
	for _, m := range second {
		if m.Role == llm.RoleTool && m.Content == "sunny" {
			foundResult = true
		}
	}
	if !foundResult {
		t.Error("second request missing tool result message")
	}
	if len(provider.requests[0].Tools) != 2 {
		t.Errorf("first request tools = %d, want 2", len(provider.requests[0].Tools))
	}
}

func TestEngineRun_ToolNotFound(t *testing.T) {
	provider := &mockProvider{}
	provider.addTurn(
		toolCall("id-1", "no_such_tool", `{}`),
		doneEvent(),
	)
	provider.addTurn(
		contentDelta("giving up"),
		doneEvent(),
	)

	engine := newTestEngine(provider, tools.NewRegistry(), Options{})
	mgr := newTestManager(t, nil)

	stream := engine.Run(context.Background(), mgr, "test-model", ModelCapabilities{Tools: true})
	events, err := collectEvents(stream)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	var toolErr *Event
	for i := range events {
		if events[i].Stage == StageToolError {
			toolErr = &events[i]
		}
	}
	if toolErr == nil {
		t.Fatal("missing tool_error event")
	}
	if toolErr.Tool != "no_such_tool" || !strings.Contains(toolErr.Error, "not found") {
		t.Errorf("tool_error = %+v", toolErr)
	}

	// Unresolved names never persist a tool message.
	for _, m := range mgr.Conversation().Messages {
		if m.Role == llm.RoleTool {
			t.Fatalf("unexpected tool message persisted: %+v", m)
		}
	}
	if events[len(events)-1].Stage != StageFinalize {
		t.Errorf("final stage = %q, want finalize_answer", events[len(events)-1].Stage)
	}
}

func TestEngineRun_ToolExecutionError(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&mockTool{name: "broken", err: errors.New("boom")})
	registry.Register(&mockTool{name: "working", result: "ok"})

	provider := &mockProvider{}
	provider.addTurn(
		toolCall("id-1", "broken", `{}`),
		toolCall("id-2", "working", `{}`),
		doneEvent(),
	)
	provider.addTurn(
		contentDelta("done"),
		doneEvent(),
	)

	engine := newTestEngine(provider, registry, Options{})
	mgr := newTestManager(t, nil)

	stream := engine.Run(context.Background(), mgr, "test-model", ModelCapabilities{Tools: true})
	events, err := collectEvents(stream)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	want := []Stage{StageMetadata, StageToolError, StageToolResult, StageContent, StageFinalize}
	got := stages(events)
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stages = %v, want %v", got, want)
		}
	}
	if events[1].Tool != "broken" || events[1].Error != "boom" {
		t.Errorf("tool_error = %+v", events[1])
	}

	// Only the successful call persists a tool message.
	toolMsgs := 0
	for _, m := range mgr.Conversation().Messages {
		if m.Role == llm.RoleTool {
			toolMsgs++
			if m.Content != "ok" || m.ToolName != "working" {
				t.Errorf("tool message = %+v", m)
			}
		}
	}
	if toolMsgs != 1 {
		t.Errorf("persisted tool messages = %d, want 1", toolMsgs)
	}
}

func TestEngineRun_EmptyToolNameSkipped(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&mockTool{name: "working", result: "ok"})

	provider := &mockProvider{}
	provider.addTurn(
		toolCall("id-1", "", `{}`),
		toolCall("id-2", "working", `{}`),
		doneEvent(),
	)
	provider.addTurn(
		contentDelta("done"),
		doneEvent(),
	)

	engine := newTestEngine(provider, registry, Options{})
	mgr := newTestManager(t, nil)

	stream := engine.Run(context.Background(), mgr, "test-model", ModelCapabilities{Tools: true})
	events, err := collectEvents(stream)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	// The nameless call produces no event at all.
	for _, e := range events {
		if e.Stage == StageToolError {
			t.Fatalf("unexpected tool_error: %+v", e)
		}
	}
	results := 0
	for _, e := range events {
		if e.Stage == StageToolResult {
			results++
		}
	}
	if results != 1 {
		t.Errorf("tool_result events = %d, want 1", results)
	}
}

func TestEngineRun_TransportErrorBeforeStream(t *testing.T) {
	provider := &mockProvider{
		turns: []scriptedTurn{{chatErr: errors.New("connection refused")}},
	}

	engine := newTestEngine(provider, nil, Options{})
	mgr := newTestManager(t, nil)

	stream := engine.Run(context.Background(), mgr, "test-model", ModelCapabilities{})
	events, err := collectEvents(stream)
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("terminal error = %v", err)
	}

	last := events[len(events)-1]
	if last.Stage != StageError {
		t.Fatalf("last stage = %q, want error", last.Stage)
	}
	if !strings.Contains(last.Response, "Model communication error") {
		t.Errorf("error event response = %q", last.Response)
	}
}

func TestEngineRun_TransportErrorMidStream(t *testing.T) {
	provider := &mockProvider{
		turns: []scriptedTurn{{
			events: []llm.Event{contentDelta("partial")},
			err:    errors.New("stream reset"),
		}},
	}

	engine := newTestEngine(provider, nil, Options{})
	mgr := newTestManager(t, nil)

	stream := engine.Run(context.Background(), mgr, "test-model", ModelCapabilities{})
	events, err := collectEvents(stream)
	if err == nil {
		t.Fatal("expected terminal error")
	}

	got := stages(events)
	want := []Stage{StageMetadata, StageContent, StageError}
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stages = %v, want %v", got, want)
		}
	}

	// A failed turn persists nothing beyond the user message.
	if n := len(mgr.Conversation().Messages); n != 1 {
		t.Errorf("persisted messages = %d, want 1", n)
	}
}

func TestEngineRun_MaxTurnsExceeded(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&mockTool{name: "loop", result: "again"})

	provider := &mockProvider{}
	for i := 0; i < 3; i++ {
		provider.addTurn(toolCall("", "loop", `{}`), doneEvent())
	}

	engine := newTestEngine(provider, registry, Options{MaxTurns: 2})
	mgr := newTestManager(t, nil)

	stream := engine.Run(context.Background(), mgr, "test-model", ModelCapabilities{Tools: true})
	events, err := collectEvents(stream)
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if !strings.Contains(err.Error(), "max turns") {
		t.Errorf("terminal error = %v", err)
	}

	last := events[len(events)-1]
	if last.Stage != StageError {
		t.Fatalf("last stage = %q, want error", last.Stage)
	}
	if len(provider.requests) != 2 {
		t.Errorf("provider calls = %d, want 2", len(provider.requests))
	}
}

func TestEngineRun_ToolCallIDsAssigned(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&mockTool{name: "working", result: "ok"})

	provider := &mockProvider{}
	provider.addTurn(toolCall("", "working", `{}`), doneEvent())
	provider.addTurn(contentDelta("done"), doneEvent())

	engine := newTestEngine(provider, registry, Options{})
	mgr := newTestManager(t, nil)

	stream := engine.Run(context.Background(), mgr, "test-model", ModelCapabilities{Tools: true})
	if _, err := collectEvents(stream); err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	var assistant *conversation.Message
	for i, m := range mgr.Conversation().Messages {
		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			assistant = &mgr.Conversation().Messages[i]
		}
	}
	if assistant == nil {
		t.Fatal("missing assistant message with tool calls")
	}
	if assistant.ToolCalls[0].ID == "" {
		t.Error("tool call id not assigned")
	}
}

func TestEngineRun_CapabilitiesGateTools(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&mockTool{name: "working", result: "ok"})

	provider := &mockProvider{}
	provider.addTurn(contentDelta("plain"), doneEvent())

	engine := newTestEngine(provider, registry, Options{})
	mgr := newTestManager(t, nil)

	stream := engine.Run(context.Background(), mgr, "test-model", ModelCapabilities{Tools: false, Thinking: "low"})
	if _, err := collectEvents(stream); err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	if len(provider.requests[0].Tools) != 0 {
		t.Errorf("tools sent despite capability off: %d", len(provider.requests[0].Tools))
	}
	if provider.requests[0].Think != "low" {
		t.Errorf("think = %q, want %q", provider.requests[0].Think, "low")
	}
}

// failingStore wraps a working store but rejects appends for one role.
type failingStore struct {
	conversation.Store
	failRole llm.Role
}

func (s *failingStore) AppendMessage(ctx context.Context, conversationID int64, msg *conversation.Message) error {
	if msg.Role == s.failRole {
		return errors.New("disk full")
	}
	return s.Store.AppendMessage(ctx, conversationID, msg)
}

func TestEngineRun_PersistenceFailureIsFatal(t *testing.T) {
	provider := &mockProvider{}
	provider.addTurn(contentDelta("answer"), doneEvent())

	engine := newTestEngine(provider, nil, Options{})
	store := &failingStore{Store: conversation.NewNoopStore(), failRole: llm.RoleAssistant}
	mgr := newTestManager(t, store)

	stream := engine.Run(context.Background(), mgr, "test-model", ModelCapabilities{})
	events, err := collectEvents(stream)
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("terminal error = %v", err)
	}

	last := events[len(events)-1]
	if last.Stage != StageError || !strings.Contains(last.Response, "Persistence error") {
		t.Errorf("last event = %+v", last)
	}
}
