package memory

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/wikirag-core/server/internal/agent/model"
)

// Memory is the append-only conversation log for one conversation.
// Messages are immutable once appended and Snapshot returns them in
// emission order. Ownership: exactly one in-flight turn may use a
// Memory at a time; sessions enforce that serialization.
type Memory interface {
	Append(ctx context.Context, msg *schema.Message) error
	Snapshot(ctx context.Context) ([]*schema.Message, error)
	Len(ctx context.Context) (int, error)
}

// ConversationMemory binds a conversation ID to a repository and
// optionally bounds the snapshot view to the most recent messages.
type ConversationMemory struct {
	repo           model.ConversationRepository
	conversationID string
	maxMessages    int
}

func New(repo model.ConversationRepository, conversationID string, cfg model.ConversationConfig) *ConversationMemory {
	return &ConversationMemory{
		repo:           repo,
		conversationID: conversationID,
		maxMessages:    cfg.MaxMessages,
	}
}

func (m *ConversationMemory) Append(ctx context.Context, msg *schema.Message) error {
	return m.repo.AddMessage(ctx, m.conversationID, msg)
}

// Snapshot returns the ordered history. When a message budget is set the
// oldest messages are trimmed from the view only; the stored log keeps
// every message.
func (m *ConversationMemory) Snapshot(ctx context.Context) ([]*schema.Message, error) {
	history, err := m.repo.LoadHistory(ctx, m.conversationID)
	if err != nil {
		return nil, err
	}
	if m.maxMessages > 0 {
		return trimTail(history.Messages, m.maxMessages), nil
	}
	return history.Messages, nil
}

func (m *ConversationMemory) Len(ctx context.Context) (int, error) {
	return m.repo.GetMessageCount(ctx, m.conversationID)
}

var _ Memory = (*ConversationMemory)(nil)

// trimTail keeps the most recent maxMessages entries.
func trimTail(messages []*schema.Message, maxMessages int) []*schema.Message {
	if len(messages) <= maxMessages {
		result := make([]*schema.Message, len(messages))
		copy(result, messages)
		return result
	}
	source := messages[len(messages)-maxMessages:]
	result := make([]*schema.Message, len(source))
	copy(result, source)
	return result
}
