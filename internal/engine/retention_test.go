package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/projectpulse/beacon/internal/notify"
)

func agedNotif(clock *fakeClock, age time.Duration, mut func(*notify.Notification)) *notify.Notification {
	n := mkNotif(clock.Now().Add(-age), notify.TypeInfo, notify.PriorityMedium, notify.CategoryGeneral)
	if mut != nil {
		mut(n)
	}
	return n
}

func markRead(clock *fakeClock) func(*notify.Notification) {
	return func(n *notify.Notification) {
		n.IsRead = true
		at := clock.Now().Add(-time.Hour)
		n.ReadAt = &at
	}
}

func TestApplyRetention_AutoArchivesOldReadNotifications(t *testing.T) {
	eng, settings, _, history, clock := newTestEngine(t)
	ctx := context.Background()

	cfg := notify.DefaultSettings()
	cfg.AutoArchive = true
	cfg.AutoArchiveDays = 30
	settings.set("user-1", cfg)

	oldRead := agedNotif(clock, 40*24*time.Hour, markRead(clock))
	freshRead := agedNotif(clock, 10*24*time.Hour, markRead(clock))
	oldUnread := agedNotif(clock, 40*24*time.Hour, nil)
	history.preload = map[string][]*notify.Notification{
		"user-1": {oldRead, freshRead, oldUnread},
	}

	res, err := eng.ApplyRetention(ctx, "user-1")
	if err != nil {
		t.Fatalf("ApplyRetention: %v", err)
	}
	if res.AutoArchived != 1 || res.Pruned != 0 || res.Expired != 0 {
		t.Fatalf("result = %+v, want exactly one auto-archive", res)
	}

	got, _ := eng.Get(ctx, oldRead.ID)
	if !got.IsArchived || got.ArchivedAt == nil {
		t.Error("old read notification was not archived")
	}
	for _, keep := range []uuid.UUID{freshRead.ID, oldUnread.ID} {
		got, _ := eng.Get(ctx, keep)
		if got.IsArchived {
			t.Errorf("%s must not be archived", keep)
		}
	}

	if stats := eng.StatsFor(ctx, "user-1"); stats.Total != 2 || stats.Archived != 1 {
		t.Errorf("stats after retention: %+v", stats)
	}

	history.mu.Lock()
	updated := history.updated
	history.mu.Unlock()
	if updated != 1 {
		t.Errorf("history updated %d times, want 1", updated)
	}
}

func TestApplyRetention_AutoArchiveOffByDefault(t *testing.T) {
	eng, _, _, history, clock := newTestEngine(t)

	history.preload = map[string][]*notify.Notification{
		"user-1": {agedNotif(clock, 90*24*time.Hour, markRead(clock))},
	}

	res, err := eng.ApplyRetention(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ApplyRetention: %v", err)
	}
	if res.AutoArchived != 0 {
		t.Errorf("auto-archive ran with the feature disabled: %+v", res)
	}
}

func TestApplyRetention_RemovesLongExpired(t *testing.T) {
	eng, _, _, history, clock := newTestEngine(t)
	ctx := context.Background()

	longGone := agedNotif(clock, 30*24*time.Hour, func(n *notify.Notification) {
		at := clock.Now().Add(-8 * 24 * time.Hour)
		n.ExpiresAt = &at
	})
	recentlyExpired := agedNotif(clock, 30*24*time.Hour, func(n *notify.Notification) {
		at := clock.Now().Add(-24 * time.Hour)
		n.ExpiresAt = &at
	})
	history.preload = map[string][]*notify.Notification{
		"user-1": {longGone, recentlyExpired},
	}

	res, err := eng.ApplyRetention(ctx, "user-1")
	if err != nil {
		t.Fatalf("ApplyRetention: %v", err)
	}
	if res.Expired != 1 {
		t.Fatalf("result = %+v, want one expired removal", res)
	}

	if _, err := eng.Get(ctx, longGone.ID); err == nil {
		t.Error("notification past the expiry grace period must be removed")
	}
	if _, err := eng.Get(ctx, recentlyExpired.ID); err != nil {
		t.Error("notification within the grace period must be kept")
	}

	history.mu.Lock()
	deleted := len(history.deleted) == 1 && history.deleted[0] == longGone.ID
	history.mu.Unlock()
	if !deleted {
		t.Error("removal was not mirrored to history")
	}
}

func TestApplyRetention_PrunesOverCap(t *testing.T) {
	eng, settings, _, history, clock := newTestEngine(t)
	ctx := context.Background()

	cfg := notify.DefaultSettings()
	cfg.MaxNotifications = 2
	settings.set("user-1", cfg)

	archive := func(n *notify.Notification) {
		n.IsArchived = true
		at := clock.Now().Add(-time.Hour)
		n.ArchivedAt = &at
	}

	pinnedArchived := agedNotif(clock, 100*24*time.Hour, func(n *notify.Notification) {
		archive(n)
		n.IsPinned = true
		at := clock.Now().Add(-time.Hour)
		n.PinnedAt = &at
	})
	unread := agedNotif(clock, 90*24*time.Hour, nil)
	oldArchived := agedNotif(clock, 80*24*time.Hour, archive)
	newArchived := agedNotif(clock, 5*24*time.Hour, archive)
	oldRead := agedNotif(clock, 60*24*time.Hour, markRead(clock))
	history.preload = map[string][]*notify.Notification{
		"user-1": {pinnedArchived, unread, oldArchived, newArchived, oldRead},
	}

	res, err := eng.ApplyRetention(ctx, "user-1")
	if err != nil {
		t.Fatalf("ApplyRetention: %v", err)
	}
	if res.Pruned != 3 {
		t.Fatalf("result = %+v, want three pruned", res)
	}

	// Pinned and unread survive even over the cap.
	for _, keep := range []uuid.UUID{pinnedArchived.ID, unread.ID} {
		if _, err := eng.Get(ctx, keep); err != nil {
			t.Errorf("%s must survive pruning", keep)
		}
	}
	for _, gone := range []uuid.UUID{oldArchived.ID, newArchived.ID, oldRead.ID} {
		if _, err := eng.Get(ctx, gone); err == nil {
			t.Errorf("%s should have been pruned", gone)
		}
	}
}

func TestApplyRetention_PruneOrderArchivedBeforeRead(t *testing.T) {
	eng, settings, _, history, clock := newTestEngine(t)
	ctx := context.Background()

	cfg := notify.DefaultSettings()
	cfg.MaxNotifications = 2
	settings.set("user-1", cfg)

	// Read is older in wall time, but the archived one goes first anyway.
	oldRead := agedNotif(clock, 90*24*time.Hour, markRead(clock))
	archived := agedNotif(clock, 10*24*time.Hour, func(n *notify.Notification) {
		n.IsArchived = true
		at := clock.Now().Add(-time.Hour)
		n.ArchivedAt = &at
	})
	newRead := agedNotif(clock, 5*24*time.Hour, markRead(clock))
	history.preload = map[string][]*notify.Notification{
		"user-1": {oldRead, archived, newRead},
	}

	res, err := eng.ApplyRetention(ctx, "user-1")
	if err != nil {
		t.Fatalf("ApplyRetention: %v", err)
	}
	if res.Pruned != 1 {
		t.Fatalf("result = %+v, want one pruned", res)
	}
	if _, err := eng.Get(ctx, archived.ID); err == nil {
		t.Error("archived notification must be pruned before any read one")
	}
	if _, err := eng.Get(ctx, oldRead.ID); err != nil {
		t.Error("read notification pruned while an archived candidate existed")
	}
}

func TestApplyRetention_NoWorkIsQuiet(t *testing.T) {
	eng, _, dispatcher, history, _ := newTestEngine(t)
	ctx := context.Background()

	eng.Create(ctx, testRequest("user-1"))
	dispatcher.wait(t)

	res, err := eng.ApplyRetention(ctx, "user-1")
	if err != nil {
		t.Fatalf("ApplyRetention: %v", err)
	}
	if res != (RetentionResult{}) {
		t.Errorf("result = %+v, want zero", res)
	}

	history.mu.Lock()
	updated, deleted := history.updated, len(history.deleted)
	history.mu.Unlock()
	if updated != 0 || deleted != 0 {
		t.Error("idle retention pass must not touch history")
	}
}

func TestApplyRetention_SettingsFailure(t *testing.T) {
	eng, settings, _, _, _ := newTestEngine(t)
	settings.err = context.DeadlineExceeded

	if _, err := eng.ApplyRetention(context.Background(), "user-1"); err == nil {
		t.Fatal("want error when settings cannot be loaded")
	}
}
