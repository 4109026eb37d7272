package conversation

import (
	"time"

	"github.com/maloferriol/my-local-ai-agent/internal/llm"
)

// Message is a single persisted entry in a conversation. Messages are
// append-only: once stored they are never reordered or mutated.
type Message struct {
	ID             int64 `json:"id,omitempty"`
	ConversationID int64 `json:"conversation_id,omitempty"`

	// Step is the 1-based position of this message within its conversation;
	// it strictly increases by one per appended message regardless of role.
	Step      int            `json:"step,omitempty"`
	Role      llm.Role       `json:"role"`
	Content   string         `json:"content"`
	Thinking  string         `json:"thinking,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`
	Model     string         `json:"model,omitempty"`
	UUID      string         `json:"uuid,omitempty"`
	CreatedAt time.Time      `json:"timestamp,omitempty"`
}

// Conversation is an ordered, append-only message sequence.
type Conversation struct {
	ID        int64     `json:"id,omitempty"`
	UUID      string    `json:"uuid,omitempty"`
	Title     string    `json:"title,omitempty"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
}

// LastMessage returns the final message, or nil when empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// ToLLM converts a message to the chat form sent to the model backend.
func (m *Message) ToLLM() llm.Message {
	return llm.Message{
		Role:      m.Role,
		Content:   m.Content,
		Thinking:  m.Thinking,
		ToolCalls: m.ToolCalls,
		ToolName:  m.ToolName,
	}
}

// LLMMessages converts the full history for a model call.
func (c *Conversation) LLMMessages() []llm.Message {
	out := make([]llm.Message, 0, len(c.Messages))
	for i := range c.Messages {
		out = append(out, c.Messages[i].ToLLM())
	}
	return out
}

// Summary is a lightweight view of a conversation for listing.
type Summary struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title,omitempty"`
	Model        string    `json:"model,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
