package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/notify"
)

// Snapshot is a consistent, fully-ordered view of a recipient's
// notifications plus derived stats at one instant. Ordering is createdAt
// descending with id ascending as the tiebreak.
type Snapshot struct {
	RecipientID   string                 `json:"recipient_id"`
	Seq           uint64                 `json:"seq"`
	Notifications []*notify.Notification `json:"notifications"`
	Stats         *Stats                 `json:"stats"`

	// Cues tells the client whether to play a sound or vibrate for the
	// mutation that produced this snapshot. Sound and vibration are
	// client-side channels carried over the in-app stream.
	Cues []notify.Channel `json:"cues,omitempty"`
}

// Subscriber receives a recipient's snapshots in publication order. Slow
// consumers have stale snapshots dropped rather than blocking the engine;
// a later snapshot always supersedes an earlier one.
type Subscriber struct {
	ch      chan *Snapshot
	closed  bool
	lastSeq uint64
	mu      sync.Mutex
}

func newSubscriber(buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 1
	}
	return &Subscriber{ch: make(chan *Snapshot, buffer)}
}

// C returns the channel snapshots arrive on. It is closed when the
// subscription ends.
func (s *Subscriber) C() <-chan *Snapshot { return s.ch }

// Close ends the subscription. Idempotent.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.ch)
		s.closed = true
	}
}

// send delivers a snapshot without blocking. Snapshots are sequenced
// under the shard lock but published outside it, so two publishes can
// race here in either order; anything at or below the last accepted seq
// is stale and dropped. When the buffer is full the oldest queued
// snapshot is discarded first. Together these guarantee a subscriber
// never observes an older snapshot after a newer one.
func (s *Subscriber) send(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || snap.Seq <= s.lastSeq {
		return
	}
	s.lastSeq = snap.Seq
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// feedHub fans a recipient's snapshots out to its subscribers. One hub per
// recipient shard; subscribers for other recipients are unaffected.
type feedHub struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	buffer int
	logger *zap.Logger
}

func newFeedHub(buffer int, logger *zap.Logger) *feedHub {
	return &feedHub{
		subs:   make(map[*Subscriber]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// subscribe registers a new subscriber whose lifetime is bound to ctx.
func (h *feedHub) subscribe(ctx context.Context) *Subscriber {
	sub := newSubscriber(h.buffer)
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			h.unsubscribe(sub)
		}()
	}
	return sub
}

func (h *feedHub) unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.Close()
}

// publish pushes a snapshot to every active subscriber.
func (h *feedHub) publish(snap *Snapshot) {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.send(snap)
	}
	if len(subs) > 0 {
		h.logger.Debug("feed snapshot published",
			zap.String("recipient_id", snap.RecipientID),
			zap.Uint64("seq", snap.Seq),
			zap.Int("subscribers", len(subs)),
		)
	}
}

func (h *feedHub) close() {
	h.mu.Lock()
	for sub := range h.subs {
		sub.Close()
	}
	clear(h.subs)
	h.mu.Unlock()
}
