package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/notify"
)

// Sender delivers a notification over one secondary channel. A sender
// owns its own timeout and retry policy; the dispatcher fires it once and
// treats errors as logged-and-dropped. Implementations should dedupe by
// notification id if the upstream provider may be retried externally.
type Sender interface {
	Send(ctx context.Context, n *notify.Notification, channel notify.Channel) error
	Supports(channel notify.Channel) bool
}

// MultiSender routes each channel to the first underlying sender that
// supports it.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over the given senders.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders, logger: logger}
}

// Send routes the notification to the first sender supporting the channel.
func (m *MultiSender) Send(ctx context.Context, n *notify.Notification, channel notify.Channel) error {
	for _, sender := range m.senders {
		if sender.Supports(channel) {
			m.logger.Debug("routing notification to sender",
				zap.String("channel", string(channel)),
				zap.String("notification_id", n.ID.String()),
			)
			return sender.Send(ctx, n, channel)
		}
	}
	return fmt.Errorf("no sender found for channel: %s", channel)
}

// Supports reports whether any underlying sender handles the channel.
func (m *MultiSender) Supports(channel notify.Channel) bool {
	for _, sender := range m.senders {
		if sender.Supports(channel) {
			return true
		}
	}
	return false
}

// LogSender logs deliveries instead of sending them. Development and test
// stand-in for the real channel senders.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, n *notify.Notification, channel notify.Channel) error {
	s.logger.Info("logging notification (development mode)",
		zap.String("notification_id", n.ID.String()),
		zap.String("channel", string(channel)),
		zap.String("recipient_id", n.RecipientID),
		zap.String("title", n.Title),
	)
	return nil
}

func (s *LogSender) Supports(channel notify.Channel) bool {
	return channel == notify.ChannelPush || channel == notify.ChannelEmail || channel == notify.ChannelSMS
}
