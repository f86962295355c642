package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/notify"
)

// RetentionResult reports what one retention pass changed for a recipient.
type RetentionResult struct {
	AutoArchived int
	Pruned       int
	Expired      int
}

// expiredGrace is how long an expired notification is kept around before
// the janitor removes it outright. Expiry itself is a query-time filter;
// removal is just housekeeping.
const expiredGrace = 7 * 24 * time.Hour

// ApplyRetention enforces the recipient's retention policy: auto-archive
// of read notifications older than the configured age, pruning beyond the
// stored-count cap (oldest archived first, then oldest read), and removal
// of notifications expired longer than the grace period. Called
// periodically by the janitor, never by request handlers.
func (e *Engine) ApplyRetention(ctx context.Context, recipientID string) (RetentionResult, error) {
	var res RetentionResult

	settings, err := e.settings.Get(ctx, recipientID)
	if err != nil {
		return res, err
	}

	sh := e.shardFor(ctx, recipientID)
	now := e.now()

	sh.mu.Lock()

	// Auto-archive: read and older than N days.
	var autoArchived []*notify.Notification
	if settings.AutoArchive && settings.AutoArchiveDays > 0 {
		cutoff := now.AddDate(0, 0, -settings.AutoArchiveDays)
		for _, n := range sh.notifications {
			if n.IsArchived || !n.IsRead || n.CreatedAt.After(cutoff) {
				continue
			}
			before := *n
			n.IsArchived = true
			at := now
			n.ArchivedAt = &at
			sh.stats.Apply(Transition{Kind: TransitionArchive, Before: &before, After: n, Now: now})
			cp := *n
			autoArchived = append(autoArchived, &cp)
			res.AutoArchived++
		}
	}

	// Hard-remove long-expired notifications.
	var removed []uuid.UUID
	for id, n := range sh.notifications {
		if n.ExpiresAt != nil && now.Sub(*n.ExpiresAt) > expiredGrace {
			sh.stats.Apply(Transition{Kind: TransitionDelete, Before: n, Now: now})
			delete(sh.notifications, id)
			removed = append(removed, id)
			res.Expired++
		}
	}

	// Prune past the soft cap: oldest archived first, then oldest read.
	// Unread and pinned notifications are never pruned.
	maxStored := settings.MaxNotifications
	if maxStored < 1 {
		maxStored = notify.DefaultMaxNotifications
	}
	if over := len(sh.notifications) - maxStored; over > 0 {
		for _, id := range pruneCandidates(sh.notifications, over) {
			n := sh.notifications[id]
			sh.stats.Apply(Transition{Kind: TransitionDelete, Before: n, Now: now})
			delete(sh.notifications, id)
			removed = append(removed, id)
			res.Pruned++
		}
	}

	changed := res.AutoArchived+res.Pruned+res.Expired > 0
	var snap *Snapshot
	if changed {
		sh.trackExpiryLocked()
		snap = sh.snapshotLocked(now, nil)
	}
	sh.mu.Unlock()

	if !changed {
		return res, nil
	}

	e.mu.Lock()
	for _, id := range removed {
		delete(e.index, id)
	}
	e.mu.Unlock()

	if e.history != nil {
		for _, n := range autoArchived {
			if err := e.history.UpdateFlags(ctx, n); err != nil {
				e.logger.Warn("failed to mirror auto-archive",
					zap.Error(err),
					zap.String("notification_id", n.ID.String()),
				)
			}
		}
		for _, id := range removed {
			if err := e.history.DeleteNotification(ctx, id); err != nil {
				e.logger.Warn("failed to mirror retention delete",
					zap.Error(err),
					zap.String("notification_id", id.String()),
				)
			}
		}
	}

	sh.hub.publish(snap)
	e.logger.Info("retention pass applied",
		zap.String("recipient_id", recipientID),
		zap.Int("auto_archived", res.AutoArchived),
		zap.Int("pruned", res.Pruned),
		zap.Int("expired_removed", res.Expired),
	)
	return res, nil
}

// pruneCandidates picks up to n ids to drop: archived before read, oldest
// first within each class.
func pruneCandidates(set map[uuid.UUID]*notify.Notification, n int) []uuid.UUID {
	var archived, read []*notify.Notification
	for _, notif := range set {
		if notif.IsPinned || (!notif.IsRead && !notif.IsArchived) {
			continue
		}
		if notif.IsArchived {
			archived = append(archived, notif)
		} else {
			read = append(read, notif)
		}
	}
	oldestFirst := func(s []*notify.Notification) {
		sort.Slice(s, func(i, j int) bool { return s[i].CreatedAt.Before(s[j].CreatedAt) })
	}
	oldestFirst(archived)
	oldestFirst(read)

	out := make([]uuid.UUID, 0, n)
	for _, notif := range append(archived, read...) {
		if len(out) == n {
			break
		}
		out = append(out, notif.ID)
	}
	return out
}
