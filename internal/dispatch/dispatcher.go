// Package dispatch fans a stored notification out to its eligible
// secondary channels. In-app delivery is the engine's feed publish and
// never passes through here.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/metrics"
	"github.com/projectpulse/beacon/internal/notify"
)

// secondaryChannels are the channels that leave the process. Sound and
// vibration are client-side cues carried on the in-app stream, so the
// dispatcher ignores them.
var secondaryChannels = []notify.Channel{
	notify.ChannelPush,
	notify.ChannelEmail,
	notify.ChannelSMS,
}

// Dispatcher hands one notification to each eligible channel sender. Each
// channel runs on its own goroutine so a slow or hung sender never blocks
// the others. The dispatcher fires once per channel per notification and
// never retries; channel senders own their retry policy.
type Dispatcher struct {
	sender Sender
	logger *zap.Logger
}

// New creates a dispatcher over a (usually multi-) sender.
func New(sender Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, logger: logger}
}

// Dispatch delivers the notification on every secondary channel in the
// eligibility set. It returns when all channel hand-offs have completed
// or the context is cancelled; errors are logged and dropped, never
// propagated. Secondary delivery is best effort.
func (d *Dispatcher) Dispatch(ctx context.Context, n *notify.Notification, channels notify.ChannelSet) {
	var wg sync.WaitGroup
	for _, ch := range secondaryChannels {
		if !channels.Has(ch) {
			continue
		}
		if !d.sender.Supports(ch) {
			d.logger.Debug("no sender configured for channel",
				zap.String("channel", string(ch)),
				zap.String("notification_id", n.ID.String()),
			)
			metrics.RecordChannelDispatch(string(ch), "unconfigured")
			continue
		}

		wg.Add(1)
		go func(ch notify.Channel) {
			defer wg.Done()
			d.sendOne(ctx, n, ch)
		}(ch)
	}
	wg.Wait()
}

func (d *Dispatcher) sendOne(ctx context.Context, n *notify.Notification, ch notify.Channel) {
	err := d.sender.Send(ctx, n, ch)
	if err == nil {
		metrics.RecordChannelDispatch(string(ch), "sent")
		d.logger.Info("notification delivered",
			zap.String("channel", string(ch)),
			zap.String("notification_id", n.ID.String()),
		)
		return
	}

	outcome := "failed"
	if errors.Is(err, context.Canceled) {
		// The notification was deleted before this channel fired.
		outcome = "cancelled"
	}
	metrics.RecordChannelDispatch(string(ch), outcome)
	d.logger.Warn("channel delivery dropped",
		zap.Error(err),
		zap.String("channel", string(ch)),
		zap.String("notification_id", n.ID.String()),
		zap.String("recipient_id", n.RecipientID),
	)
}
