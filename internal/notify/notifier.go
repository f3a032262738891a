// Package notify reports outcomes back to the requesting conversation.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/tgdownloader/internal/channel"
)

// ErrNotifyFailed marks a reply that could not be delivered.
var ErrNotifyFailed = errors.New("notify failed")

// Sender delivers an outbound message.
type Sender interface {
	Send(ctx context.Context, msg channel.OutboundMessage) error
}

// Notifier sends plain text replies. Delivery is attempted once.
type Notifier struct {
	sender Sender
	logger *slog.Logger
}

// New creates a Notifier sending through sender.
func New(log *slog.Logger, sender Sender) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		sender: sender,
		logger: log.With(slog.String("service", "notify")),
	}
}

// Notify sends text to conversationID. Failures are logged and returned
// wrapped in ErrNotifyFailed; callers may ignore them.
func (n *Notifier) Notify(ctx context.Context, conversationID, text string) error {
	conversationID = strings.TrimSpace(conversationID)
	if n.sender == nil {
		err := fmt.Errorf("%w: no sender configured", ErrNotifyFailed)
		n.logger.Error("notify failed", slog.String("conversation_id", conversationID), slog.Any("error", err))
		return err
	}
	err := n.sender.Send(ctx, channel.OutboundMessage{
		Target:  conversationID,
		Message: channel.Message{Text: text},
	})
	if err != nil {
		n.logger.Error("notify failed", slog.String("conversation_id", conversationID), slog.Any("error", err))
		return fmt.Errorf("%w: %v", ErrNotifyFailed, err)
	}
	n.logger.Debug("notified", slog.String("conversation_id", conversationID))
	return nil
}
