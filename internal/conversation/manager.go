package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maloferriol/my-local-ai-agent/internal/llm"
)

// Manager owns the conversation state for the duration of one request.
// It loads or creates the backing conversation, appends messages in order,
// and persists every append through the Store before returning.
//
// A Manager is not safe for concurrent use; each request gets its own.
type Manager struct {
	store  Store
	conv   *Conversation
	logger *slog.Logger
}

// NewManager resolves the incoming conversation payload against the store.
// When incoming carries an id, that conversation is loaded; otherwise (or
// when the id is unknown) a new conversation is started. If the payload ends
// with a user message not yet present in the history, it is appended.
func NewManager(ctx context.Context, store Store, incoming *Conversation, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{store: store, logger: logger}

	if incoming != nil && incoming.ID != 0 {
		conv, err := store.GetConversation(ctx, incoming.ID)
		if err != nil {
			return nil, fmt.Errorf("load conversation %d: %w", incoming.ID, err)
		}
		if conv == nil {
			logger.Warn("conversation not found, starting new", "conversation_id", incoming.ID)
		} else {
			logger.Info("loaded conversation", "conversation_id", conv.ID, "messages", len(conv.Messages))
			m.conv = conv
		}
	}

	if m.conv == nil {
		title := ""
		model := ""
		if incoming != nil {
			title = incoming.Title
			model = incoming.Model
		}
		id, err := store.CreateConversation(ctx, title, model)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		now := time.Now()
		m.conv = &Conversation{
			ID:        id,
			Title:     title,
			Model:     model,
			CreatedAt: now,
			UpdatedAt: now,
		}
		logger.Info("started conversation", "conversation_id", id)
	}

	if incoming != nil {
		if last := incoming.LastMessage(); last != nil && last.Role == llm.RoleUser {
			if !m.hasMessageContent(last.Content) {
				if err := m.AppendUser(ctx, last.Content, last.Model); err != nil {
					return nil, err
				}
			}
		}
	}

	return m, nil
}

// Conversation returns the managed conversation.
func (m *Manager) Conversation() *Conversation {
	return m.conv
}

// ID returns the managed conversation's id.
func (m *Manager) ID() int64 {
	return m.conv.ID
}

// hasMessageContent reports whether any message already carries content.
// Guards against re-appending the user message a client echoes back.
func (m *Manager) hasMessageContent(content string) bool {
	for i := range m.conv.Messages {
		if m.conv.Messages[i].Content == content {
			return true
		}
	}
	return false
}

// AppendUser appends and persists a user message.
func (m *Manager) AppendUser(ctx context.Context, content, model string) error {
	return m.append(ctx, &Message{
		Role:    llm.RoleUser,
		Content: content,
		Model:   model,
	})
}

// AppendAssistant appends and persists an assistant message, including any
// tool calls requested during the turn.
func (m *Manager) AppendAssistant(ctx context.Context, content, thinking, model string, toolCalls []llm.ToolCall) error {
	return m.append(ctx, &Message{
		Role:      llm.RoleAssistant,
		Content:   content,
		Thinking:  thinking,
		Model:     model,
		ToolCalls: toolCalls,
	})
}

// AppendTool appends and persists a tool result message.
func (m *Manager) AppendTool(ctx context.Context, content, toolName, model string) error {
	return m.append(ctx, &Message{
		Role:     llm.RoleTool,
		Content:  content,
		ToolName: toolName,
		Model:    model,
	})
}

func (m *Manager) append(ctx context.Context, msg *Message) error {
	msg.Step = len(m.conv.Messages) + 1
	msg.CreatedAt = time.Now()

	if err := m.store.AppendMessage(ctx, m.conv.ID, msg); err != nil {
		return fmt.Errorf("persist %s message: %w", msg.Role, err)
	}

	m.conv.Messages = append(m.conv.Messages, *msg)
	m.conv.UpdatedAt = msg.CreatedAt

	m.logger.Debug("appended message",
		"conversation_id", m.conv.ID,
		"step", msg.Step,
		"role", msg.Role)
	return nil
}

// LLMMessages returns the full history in the form sent to the model.
func (m *Manager) LLMMessages() []llm.Message {
	return m.conv.LLMMessages()
}
