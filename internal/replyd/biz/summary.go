package biz

import (
	"context"
	"sync"

	"github.com/kart-io/reply-x/internal/model"
	"github.com/kart-io/reply-x/pkg/errors"
	"github.com/kart-io/reply-x/pkg/llm"
)

// MessageReader exposes a customer's recent message history for
// summarization.
type MessageReader interface {
	RecentMessages(ctx context.Context, customerID string, limit int) ([]string, error)
}

// Summarizer produces structured summaries of customer conversations.
type Summarizer struct {
	analysis llm.AnalysisProvider
	messages MessageReader
	limit    int
}

// NewSummarizer creates a summarizer reading up to limit recent messages.
func NewSummarizer(analysis llm.AnalysisProvider, messages MessageReader, limit int) *Summarizer {
	if limit <= 0 {
		limit = 50
	}
	return &Summarizer{
		analysis: analysis,
		messages: messages,
		limit:    limit,
	}
}

// SummarizeConversation summarizes the customer's recent messages.
func (s *Summarizer) SummarizeConversation(ctx context.Context, customerID string) (*model.ConversationSummary, error) {
	if customerID == "" {
		return nil, errors.ErrValidation.WithMessage("customer id is required")
	}

	messages, err := s.messages.RecentMessages(ctx, customerID, s.limit)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, errors.ErrNotFound.WithMessagef("no messages recorded for customer %q", customerID)
	}

	result, err := s.analysis.Summarize(ctx, messages)
	if err != nil {
		return nil, errors.ErrUpstreamAnalysis.WithCause(err)
	}

	return &model.ConversationSummary{
		Summary:       result.Summary,
		KeyPoints:     result.KeyPoints,
		CustomerNeeds: result.CustomerNeeds,
		ActionItems:   result.ActionItems,
	}, nil
}

// InMemoryMessageLog is a bounded per-customer message log. It doubles as
// the default MessageReader when no external conversation store is wired.
type InMemoryMessageLog struct {
	mu       sync.RWMutex
	messages map[string][]string
	capacity int
}

// NewInMemoryMessageLog creates a message log keeping up to capacity
// messages per customer.
func NewInMemoryMessageLog(capacity int) *InMemoryMessageLog {
	if capacity <= 0 {
		capacity = 200
	}
	return &InMemoryMessageLog{
		messages: make(map[string][]string),
		capacity: capacity,
	}
}

// Append records a message for a customer, evicting the oldest beyond
// capacity.
func (l *InMemoryMessageLog) Append(customerID, message string) {
	if customerID == "" || message == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	msgs := append(l.messages[customerID], message)
	if len(msgs) > l.capacity {
		msgs = msgs[len(msgs)-l.capacity:]
	}
	l.messages[customerID] = msgs
}

// RecentMessages implements MessageReader.
func (l *InMemoryMessageLog) RecentMessages(ctx context.Context, customerID string, limit int) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	msgs := l.messages[customerID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]string, len(msgs))
	copy(out, msgs)
	return out, nil
}

var _ MessageReader = (*InMemoryMessageLog)(nil)
