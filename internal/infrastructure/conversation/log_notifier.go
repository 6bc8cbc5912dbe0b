package conversation

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/bundle-exchange-backend/internal/service/negotiation"
)

var conversationNamespace = uuid.MustParse("6f1c9a52-3d0e-4b7a-9a43-1f6c0e8d2b71")

// LogNotifier stands in for the conversation service in local setups. Each
// user pair maps to a stable conversation id and messages go to the log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("conversation")}
}

func (n *LogNotifier) GetOrCreateConversation(_ context.Context, buyerID, sellerID uuid.UUID) (uuid.UUID, error) {
	return PairID(buyerID, sellerID), nil
}

func (n *LogNotifier) PostSystemMessage(_ context.Context, msg negotiation.Message) error {
	n.logger.Info("system message",
		zap.String("conversation_id", msg.ConversationID.String()),
		zap.String("sender_id", msg.SenderID.String()),
		zap.String("recipient_id", msg.RecipientID.String()),
		zap.String("bundle_id", msg.BundleID.String()),
		zap.String("content", msg.Content))
	return nil
}

// PairID derives a conversation id from an unordered pair of users
func PairID(a, b uuid.UUID) uuid.UUID {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	name := make([]byte, 0, 32)
	name = append(name, a[:]...)
	name = append(name, b[:]...)
	return uuid.NewSHA1(conversationNamespace, name)
}
