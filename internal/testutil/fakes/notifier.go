package fakes

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/davidleathers/bundle-exchange-backend/internal/service/negotiation"
)

// Notifier records conversations and messages. Conversations are keyed by
// the unordered buyer/seller pair.
type Notifier struct {
	mu            sync.Mutex
	conversations map[[2]uuid.UUID]uuid.UUID
	messages      []negotiation.Message

	// PostErr makes every PostSystemMessage call fail
	PostErr error
	// ConversationErr makes every GetOrCreateConversation call fail
	ConversationErr error
}

func NewNotifier() *Notifier {
	return &Notifier{conversations: make(map[[2]uuid.UUID]uuid.UUID)}
}

func (n *Notifier) GetOrCreateConversation(_ context.Context, buyerID, sellerID uuid.UUID) (uuid.UUID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ConversationErr != nil {
		return uuid.Nil, n.ConversationErr
	}

	key := pairKey(buyerID, sellerID)
	if id, ok := n.conversations[key]; ok {
		return id, nil
	}
	id := uuid.New()
	n.conversations[key] = id
	return id, nil
}

func (n *Notifier) PostSystemMessage(_ context.Context, msg negotiation.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.PostErr != nil {
		return n.PostErr
	}
	n.messages = append(n.messages, msg)
	return nil
}

// Messages returns every posted message in order
func (n *Notifier) Messages() []negotiation.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]negotiation.Message(nil), n.messages...)
}

func pairKey(a, b uuid.UUID) [2]uuid.UUID {
	if a.String() < b.String() {
		return [2]uuid.UUID{a, b}
	}
	return [2]uuid.UUID{b, a}
}
