package conversation

import (
	"context"
)

// Store is the persistence interface for conversations. The engine issues
// writes sequentially for a given conversation; implementations only need to
// be safe for use across requests.
type Store interface {
	CreateConversation(ctx context.Context, title, model string) (int64, error)
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]Summary, error)

	AppendMessage(ctx context.Context, conversationID int64, msg *Message) error

	Close() error
}

// NoopStore discards everything. Used when persistence is disabled.
type NoopStore struct {
	nextID int64
}

func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (s *NoopStore) CreateConversation(ctx context.Context, title, model string) (int64, error) {
	s.nextID++
	return s.nextID, nil
}

func (s *NoopStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	return nil, nil
}

func (s *NoopStore) ListConversations(ctx context.Context, limit int) ([]Summary, error) {
	return nil, nil
}

func (s *NoopStore) AppendMessage(ctx context.Context, conversationID int64, msg *Message) error {
	return nil
}

func (s *NoopStore) Close() error {
	return nil
}
