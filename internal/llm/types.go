package llm

import (
	"context"
	"encoding/json"
)

// Provider streams model output events for a single chat turn.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (Stream, error)
}

// Stream yields events until io.EOF. A non-EOF error from Recv is a
// transport failure; the stream is finished either way and must be Closed.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// ChatRequest represents one streaming call to the model backend.
type ChatRequest struct {
	Model    string
	Messages []Message
	// Think selects the reasoning effort ("low", "medium", "high").
	// Empty means the model's thinking channel is not requested.
	Think string
	// Tools is nil when the selected model does not support tool calling.
	Tools []ToolSpec
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single chat message as sent to the backend.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
}

// ToolCall is a model-requested tool invocation. Arguments hold the raw JSON
// object exactly as the backend delivered it; the backend assembles argument
// fragments itself, so a ToolCall is complete once received.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolSpec describes a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// EventType describes streaming adapter events.
type EventType string

const (
	EventThinking EventType = "thinking"
	EventContent  EventType = "content"
	EventToolCall EventType = "tool_call"
	EventDone     EventType = "done"
)

// Event represents one streamed model output update.
type Event struct {
	Type EventType
	Text string
	Tool *ToolCall
	// Metrics is set on EventDone when the backend reports token counts.
	Metrics *Metrics
}

// Metrics captures token usage reported by the terminal frame.
type Metrics struct {
	PromptTokens     int
	CompletionTokens int
}

func SystemText(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

func UserText(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// ToolResultMessage creates the tool role message fed back to the model
// after a successful tool execution.
func ToolResultMessage(name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolName: name}
}
