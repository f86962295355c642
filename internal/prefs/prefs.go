// Package prefs owns each recipient's notification settings: lazy
// default creation, partial patches, and per-recipient update
// serialization.
package prefs

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/notify"
)

// Backing persists settings durably. A nil Backing keeps settings
// in-memory only.
type Backing interface {
	LoadSettings(ctx context.Context, recipientID string) (*notify.Settings, error)
	SaveSettings(ctx context.Context, recipientID string, s *notify.Settings) error
}

// Store is the only component allowed to construct default settings.
// Concurrent patches for one recipient are serialized through a per-key
// lock; different recipients never contend.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	backing Backing
	logger  *zap.Logger
}

type entry struct {
	mu       sync.Mutex
	settings *notify.Settings
}

// NewStore creates a preference store. backing may be nil.
func NewStore(backing Backing, logger *zap.Logger) *Store {
	return &Store{
		entries: make(map[string]*entry),
		backing: backing,
		logger:  logger,
	}
}

func (s *Store) entryFor(ctx context.Context, recipientID string) *entry {
	s.mu.RLock()
	en, ok := s.entries[recipientID]
	s.mu.RUnlock()
	if ok {
		return en
	}

	s.mu.Lock()
	if en, ok = s.entries[recipientID]; ok {
		s.mu.Unlock()
		return en
	}
	en = &entry{}
	s.entries[recipientID] = en
	s.mu.Unlock()

	en.mu.Lock()
	defer en.mu.Unlock()
	if en.settings != nil {
		return en
	}
	if s.backing != nil {
		stored, err := s.backing.LoadSettings(ctx, recipientID)
		if err != nil {
			s.logger.Warn("failed to load settings, falling back to defaults",
				zap.Error(err),
				zap.String("recipient_id", recipientID),
			)
		} else if stored != nil {
			en.settings = stored
			return en
		}
	}
	en.settings = notify.DefaultSettings()
	return en
}

// Get returns the recipient's settings, creating defaults on first access.
// The returned value is a copy; mutations only land through Update.
func (s *Store) Get(ctx context.Context, recipientID string) (*notify.Settings, error) {
	if recipientID == "" {
		return nil, &notify.ValidationError{Field: "recipient_id", Reason: "is required"}
	}
	en := s.entryFor(ctx, recipientID)
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.settings.Clone(), nil
}

// Update applies a partial patch under the recipient's lock and returns
// the merged result. Patches merge shallowly at the top level and one
// level deep for quiet hours and the category/priority maps.
func (s *Store) Update(ctx context.Context, recipientID string, patch *notify.SettingsPatch) (*notify.Settings, error) {
	if recipientID == "" {
		return nil, &notify.ValidationError{Field: "recipient_id", Reason: "is required"}
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	en := s.entryFor(ctx, recipientID)
	en.mu.Lock()
	patch.Apply(en.settings)
	merged := en.settings.Clone()
	en.mu.Unlock()

	if s.backing != nil {
		if err := s.backing.SaveSettings(ctx, recipientID, merged); err != nil {
			return nil, fmt.Errorf("persist settings for %s: %w", recipientID, err)
		}
	}

	s.logger.Info("settings updated", zap.String("recipient_id", recipientID))
	return merged, nil
}
