package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/metrics"
	"github.com/projectpulse/beacon/internal/notify"
)

// Dispatcher hands a stored notification to its secondary channel senders
// (push, email, sms). In-app delivery is the engine's own feed publish and
// never goes through the dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *notify.Notification, channels notify.ChannelSet)
}

// SettingsSource supplies a recipient's current delivery preferences.
type SettingsSource interface {
	Get(ctx context.Context, recipientID string) (*notify.Settings, error)
}

// History mirrors engine state to durable storage. All methods are
// best-effort from the engine's point of view: the in-memory shard is
// authoritative for feeds and stats. A nil History disables mirroring.
type History interface {
	SaveNotification(ctx context.Context, n *notify.Notification) error
	UpdateFlags(ctx context.Context, n *notify.Notification) error
	DeleteNotification(ctx context.Context, id uuid.UUID) error
	LoadRecipient(ctx context.Context, recipientID string) ([]*notify.Notification, error)
}

// Config tunes the engine.
type Config struct {
	// FeedBuffer is the per-subscriber snapshot buffer. Stale snapshots
	// are dropped for slow consumers.
	FeedBuffer int
}

// Engine owns every recipient's notification set, settings-gated delivery
// decisions, lifecycle transitions, derived stats, and live feed. Each
// recipient is an independent unit of concurrency: one shard, one mutex.
type Engine struct {
	mu     sync.RWMutex
	shards map[string]*shard
	index  map[uuid.UUID]string // notification id -> recipient id

	settings   SettingsSource
	dispatcher Dispatcher
	history    History
	config     Config
	logger     *zap.Logger
	now        func() time.Time

	// cancels tracks in-flight secondary-channel dispatches so Delete can
	// abort sends not yet handed to a channel sender.
	cancelMu sync.Mutex
	cancels  map[uuid.UUID]context.CancelFunc
}

// shard is one recipient's serialized state.
type shard struct {
	mu            sync.Mutex
	recipientID   string
	notifications map[uuid.UUID]*notify.Notification
	stats         *Stats
	hub           *feedHub
	seq           uint64
	hydrated      bool
	nextExpiry    time.Time // earliest future expiresAt; zero when none
}

// New creates an engine. dispatcher and history may be nil (delivery to
// secondary channels and durable mirroring disabled, respectively).
func New(settings SettingsSource, dispatcher Dispatcher, history History, cfg Config, logger *zap.Logger) *Engine {
	if cfg.FeedBuffer == 0 {
		cfg.FeedBuffer = 8
	}
	return &Engine{
		shards:     make(map[string]*shard),
		index:      make(map[uuid.UUID]string),
		settings:   settings,
		dispatcher: dispatcher,
		history:    history,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
		cancels:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// WithClock overrides the engine's time source. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// shardFor returns the recipient's shard, creating and hydrating it on
// first access.
func (e *Engine) shardFor(ctx context.Context, recipientID string) *shard {
	e.mu.RLock()
	sh, ok := e.shards[recipientID]
	e.mu.RUnlock()
	if ok {
		return sh
	}

	e.mu.Lock()
	if sh, ok = e.shards[recipientID]; !ok {
		sh = &shard{
			recipientID:   recipientID,
			notifications: make(map[uuid.UUID]*notify.Notification),
			stats:         NewStats(),
			hub:           newFeedHub(e.config.FeedBuffer, e.logger),
		}
		e.shards[recipientID] = sh
	}
	e.mu.Unlock()

	e.hydrate(ctx, sh)
	return sh
}

// hydrate loads a recipient's stored notifications from the durable
// mirror the first time the shard is touched.
func (e *Engine) hydrate(ctx context.Context, sh *shard) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.hydrated {
		return
	}
	sh.hydrated = true
	if e.history == nil {
		return
	}

	stored, err := e.history.LoadRecipient(ctx, sh.recipientID)
	if err != nil {
		e.logger.Warn("failed to hydrate recipient from history",
			zap.Error(err),
			zap.String("recipient_id", sh.recipientID),
		)
		return
	}

	now := e.now()
	e.mu.Lock()
	for _, n := range stored {
		sh.notifications[n.ID] = n
		e.index[n.ID] = sh.recipientID
	}
	e.mu.Unlock()
	sh.stats = Recompute(sh.setLocked(), now)
	sh.trackExpiryLocked()
}

// Create classifies, stores, publishes, and dispatches a notification.
// Returns the stored notification and its eligibility set. The feed
// reflects the notification before Create returns; secondary channels are
// handed off asynchronously and never block or fail the call.
func (e *Engine) Create(ctx context.Context, req notify.CreateRequest) (*notify.Notification, notify.ChannelSet, error) {
	now := e.now()

	n, err := notify.Classify(req, now)
	if err != nil {
		return nil, nil, err
	}

	settings, err := e.settings.Get(ctx, n.RecipientID)
	if err != nil {
		return nil, nil, err
	}

	channels := notify.Decide(n, settings, now)

	// A muted category or priority empties the set: the notification is
	// archived on arrival so it stays out of the unread feed but remains
	// visible in explicit archived/all queries.
	if channels.Empty() {
		n.IsArchived = true
		at := now
		n.ArchivedAt = &at
		metrics.RecordChannelSuppression("mute")
	} else if n.Priority != notify.PriorityUrgent && notify.InQuietWindow(settings.QuietHours, now) {
		metrics.RecordChannelSuppression("quiet_hours")
	}

	sh := e.shardFor(ctx, n.RecipientID)
	sh.mu.Lock()
	sh.notifications[n.ID] = n
	sh.stats.Apply(Transition{Kind: TransitionCreate, After: n, Now: now})
	sh.trackExpiryLocked()
	stored := *n
	snap := sh.snapshotLocked(now, cuesFor(channels))
	sh.mu.Unlock()
	n = &stored

	e.mu.Lock()
	e.index[n.ID] = n.RecipientID
	e.mu.Unlock()

	if e.history != nil {
		if err := e.history.SaveNotification(ctx, n); err != nil {
			e.logger.Error("failed to mirror notification to history",
				zap.Error(err),
				zap.String("notification_id", n.ID.String()),
			)
		}
	}

	sh.hub.publish(snap)
	metrics.RecordNotificationCreated(string(n.Type), string(n.Priority), string(n.Category))

	e.logger.Info("notification created",
		zap.String("notification_id", n.ID.String()),
		zap.String("recipient_id", n.RecipientID),
		zap.String("priority", string(n.Priority)),
		zap.String("channels", channels.String()),
	)

	e.dispatchSecondary(n, channels)
	return n, channels, nil
}

// cuesFor extracts the client-side cue channels carried on the in-app stream.
func cuesFor(channels notify.ChannelSet) []notify.Channel {
	var cues []notify.Channel
	if channels.Has(notify.ChannelSound) {
		cues = append(cues, notify.ChannelSound)
	}
	if channels.Has(notify.ChannelVibration) {
		cues = append(cues, notify.ChannelVibration)
	}
	return cues
}

// dispatchSecondary fires the push/email/sms hand-off on its own goroutine
// with a cancellable per-notification context.
func (e *Engine) dispatchSecondary(n *notify.Notification, channels notify.ChannelSet) {
	if e.dispatcher == nil {
		return
	}
	if !channels.Has(notify.ChannelPush) && !channels.Has(notify.ChannelEmail) && !channels.Has(notify.ChannelSMS) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelMu.Lock()
	e.cancels[n.ID] = cancel
	e.cancelMu.Unlock()

	go func() {
		defer func() {
			e.cancelMu.Lock()
			delete(e.cancels, n.ID)
			e.cancelMu.Unlock()
			cancel()
		}()
		e.dispatcher.Dispatch(ctx, n, channels)
	}()
}

// mutate runs fn on the notification under its shard lock, applies the
// stats transition, mirrors the flags, and publishes a fresh snapshot.
// fn returns false when the mutation is an idempotent no-op.
func (e *Engine) mutate(ctx context.Context, id uuid.UUID, kind TransitionKind, fn func(n *notify.Notification, now time.Time) bool) error {
	e.mu.RLock()
	recipientID, ok := e.index[id]
	e.mu.RUnlock()
	if !ok {
		return notify.ErrNotFound
	}

	sh := e.shardFor(ctx, recipientID)
	now := e.now()

	sh.mu.Lock()
	n, ok := sh.notifications[id]
	if !ok {
		sh.mu.Unlock()
		return notify.ErrNotFound
	}

	before := *n
	if !fn(n, now) {
		sh.mu.Unlock()
		return nil
	}
	sh.stats.Apply(Transition{Kind: kind, Before: &before, After: n, Now: now})
	after := *n
	snap := sh.snapshotLocked(now, nil)
	sh.mu.Unlock()

	if e.history != nil {
		if err := e.history.UpdateFlags(ctx, &after); err != nil {
			e.logger.Error("failed to mirror lifecycle transition",
				zap.Error(err),
				zap.String("notification_id", id.String()),
			)
		}
	}

	sh.hub.publish(snap)
	metrics.RecordLifecycleTransition(kind.String())
	return nil
}

// MarkRead flips a notification to read. Idempotent: a second call leaves
// readAt untouched.
func (e *Engine) MarkRead(ctx context.Context, id uuid.UUID) error {
	return e.mutate(ctx, id, TransitionMarkRead, func(n *notify.Notification, now time.Time) bool {
		if n.IsRead {
			return false
		}
		n.IsRead = true
		at := now
		n.ReadAt = &at
		return true
	})
}

// MarkUnread reverses MarkRead. Not exposed to end users but required for
// automation.
func (e *Engine) MarkUnread(ctx context.Context, id uuid.UUID) error {
	return e.mutate(ctx, id, TransitionMarkUnread, func(n *notify.Notification, now time.Time) bool {
		if !n.IsRead {
			return false
		}
		n.IsRead = false
		n.ReadAt = nil
		return true
	})
}

// Pin sets the pinned flag. Valid from any non-deleted state; archiving
// does not unpin.
func (e *Engine) Pin(ctx context.Context, id uuid.UUID) error {
	return e.mutate(ctx, id, TransitionPin, func(n *notify.Notification, now time.Time) bool {
		if n.IsPinned {
			return false
		}
		n.IsPinned = true
		at := now
		n.PinnedAt = &at
		return true
	})
}

// Unpin clears the pinned flag.
func (e *Engine) Unpin(ctx context.Context, id uuid.UUID) error {
	return e.mutate(ctx, id, TransitionUnpin, func(n *notify.Notification, now time.Time) bool {
		if !n.IsPinned {
			return false
		}
		n.IsPinned = false
		n.PinnedAt = nil
		return true
	})
}

// Archive moves a notification out of the active feed. The read/unread
// flag is preserved underneath.
func (e *Engine) Archive(ctx context.Context, id uuid.UUID) error {
	return e.mutate(ctx, id, TransitionArchive, func(n *notify.Notification, now time.Time) bool {
		if n.IsArchived {
			return false
		}
		n.IsArchived = true
		at := now
		n.ArchivedAt = &at
		return true
	})
}

// Unarchive restores an archived notification to its previous read/unread
// state.
func (e *Engine) Unarchive(ctx context.Context, id uuid.UUID) error {
	return e.mutate(ctx, id, TransitionUnarchive, func(n *notify.Notification, now time.Time) bool {
		if !n.IsArchived {
			return false
		}
		n.IsArchived = false
		n.ArchivedAt = nil
		return true
	})
}

// Delete removes a notification permanently. Irreversible; stats reflect
// the removal atomically, and any secondary-channel send not yet handed to
// a sender is cancelled best-effort.
func (e *Engine) Delete(ctx context.Context, id uuid.UUID) error {
	e.mu.RLock()
	recipientID, ok := e.index[id]
	e.mu.RUnlock()
	if !ok {
		return notify.ErrNotFound
	}

	sh := e.shardFor(ctx, recipientID)
	now := e.now()

	sh.mu.Lock()
	n, ok := sh.notifications[id]
	if !ok {
		sh.mu.Unlock()
		return notify.ErrNotFound
	}
	delete(sh.notifications, id)
	sh.stats.Apply(Transition{Kind: TransitionDelete, Before: n, Now: now})
	sh.trackExpiryLocked()
	snap := sh.snapshotLocked(now, nil)
	sh.mu.Unlock()

	e.mu.Lock()
	delete(e.index, id)
	e.mu.Unlock()

	e.cancelMu.Lock()
	if cancel, ok := e.cancels[id]; ok {
		cancel()
		delete(e.cancels, id)
	}
	e.cancelMu.Unlock()

	if e.history != nil {
		if err := e.history.DeleteNotification(ctx, id); err != nil {
			e.logger.Error("failed to mirror delete",
				zap.Error(err),
				zap.String("notification_id", id.String()),
			)
		}
	}

	sh.hub.publish(snap)
	metrics.RecordLifecycleTransition("delete")
	return nil
}

// Get returns a copy of one notification.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*notify.Notification, error) {
	e.mu.RLock()
	recipientID, ok := e.index[id]
	e.mu.RUnlock()
	if !ok {
		return nil, notify.ErrNotFound
	}

	sh := e.shardFor(ctx, recipientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	n, ok := sh.notifications[id]
	if !ok {
		return nil, notify.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

// FeedQuery selects which slice of the stored set a feed call returns.
type FeedQuery string

const (
	// FeedDefault is the live feed: non-archived, non-expired.
	FeedDefault FeedQuery = ""
	// FeedArchived returns archived notifications only.
	FeedArchived FeedQuery = "archived"
	// FeedAll returns everything, expired and archived included.
	FeedAll FeedQuery = "all"
)

// Feed returns the recipient's current snapshot for the given query.
func (e *Engine) Feed(ctx context.Context, recipientID string, q FeedQuery) *Snapshot {
	sh := e.shardFor(ctx, recipientID)
	now := e.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	snap := sh.snapshotLocked(now, nil)
	switch q {
	case FeedArchived:
		snap.Notifications = filter(sh.setLocked(), func(n *notify.Notification) bool {
			return n.IsArchived
		})
		sortFeed(snap.Notifications)
	case FeedAll:
		snap.Notifications = sh.setLocked()
		sortFeed(snap.Notifications)
	}
	return snap
}

// StatsFor returns current stats for a recipient.
func (e *Engine) StatsFor(ctx context.Context, recipientID string) *Stats {
	sh := e.shardFor(ctx, recipientID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.reconcileExpiryLocked(e.now())
	return sh.stats.Clone()
}

// Subscribe registers a live feed subscriber for one recipient. The
// current snapshot is delivered immediately, then one snapshot per store
// mutation. The subscription ends when ctx is cancelled.
func (e *Engine) Subscribe(ctx context.Context, recipientID string) *Subscriber {
	sh := e.shardFor(ctx, recipientID)

	sh.mu.Lock()
	snap := sh.snapshotLocked(e.now(), nil)
	sh.mu.Unlock()

	sub := sh.hub.subscribe(ctx)
	sub.send(snap)
	return sub
}

// RecipientIDs lists recipients with live shards, for the janitor sweep.
func (e *Engine) RecipientIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.shards))
	for id := range e.shards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close shuts down all feed hubs.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sh := range e.shards {
		sh.hub.close()
	}
}

// setLocked returns all notifications in the shard. Caller holds sh.mu.
func (sh *shard) setLocked() []*notify.Notification {
	out := make([]*notify.Notification, 0, len(sh.notifications))
	for _, n := range sh.notifications {
		cp := *n
		out = append(out, &cp)
	}
	return out
}

// snapshotLocked builds the default-feed snapshot. Caller holds sh.mu.
func (sh *shard) snapshotLocked(now time.Time, cues []notify.Channel) *Snapshot {
	sh.reconcileExpiryLocked(now)
	sh.seq++
	feed := filter(sh.setLocked(), func(n *notify.Notification) bool {
		return !n.IsArchived && !n.IsExpired(now)
	})
	sortFeed(feed)
	return &Snapshot{
		RecipientID:   sh.recipientID,
		Seq:           sh.seq,
		Notifications: feed,
		Stats:         sh.stats.Clone(),
		Cues:          cues,
	}
}

// trackExpiryLocked records the earliest future expiry in the shard so
// stats can be reconciled lazily once it passes. Caller holds sh.mu.
func (sh *shard) trackExpiryLocked() {
	sh.nextExpiry = time.Time{}
	for _, n := range sh.notifications {
		if n.ExpiresAt == nil {
			continue
		}
		if sh.nextExpiry.IsZero() || n.ExpiresAt.Before(sh.nextExpiry) {
			sh.nextExpiry = *n.ExpiresAt
		}
	}
}

// reconcileExpiryLocked recomputes stats when a notification has crossed
// its expiry deadline since the last mutation. Expiry is deterministic and
// immutable, so this keeps the incremental stats equal to a full rescan
// without rescanning on every read. Caller holds sh.mu.
func (sh *shard) reconcileExpiryLocked(now time.Time) {
	if sh.nextExpiry.IsZero() || now.Before(sh.nextExpiry) {
		return
	}
	sh.stats = Recompute(sh.setLocked(), now)
	sh.nextExpiry = time.Time{}
	for _, n := range sh.notifications {
		// An expiry equal to now is not yet expired (expiry is strict),
		// so it must stay tracked for the read that lands just after.
		if n.ExpiresAt != nil && !n.ExpiresAt.Before(now) {
			if sh.nextExpiry.IsZero() || n.ExpiresAt.Before(sh.nextExpiry) {
				sh.nextExpiry = *n.ExpiresAt
			}
		}
	}
}

func filter(set []*notify.Notification, keep func(*notify.Notification) bool) []*notify.Notification {
	out := make([]*notify.Notification, 0, len(set))
	for _, n := range set {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

// sortFeed orders createdAt descending, id ascending on ties, so every
// snapshot is deterministic.
func sortFeed(set []*notify.Notification) {
	sort.Slice(set, func(i, j int) bool {
		if !set[i].CreatedAt.Equal(set[j].CreatedAt) {
			return set[i].CreatedAt.After(set[j].CreatedAt)
		}
		return set[i].ID.String() < set[j].ID.String()
	})
}

func (k TransitionKind) String() string {
	switch k {
	case TransitionCreate:
		return "create"
	case TransitionMarkRead:
		return "mark_read"
	case TransitionMarkUnread:
		return "mark_unread"
	case TransitionPin:
		return "pin"
	case TransitionUnpin:
		return "unpin"
	case TransitionArchive:
		return "archive"
	case TransitionUnarchive:
		return "unarchive"
	case TransitionDelete:
		return "delete"
	default:
		return "unknown"
	}
}
