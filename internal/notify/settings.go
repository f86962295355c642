package notify

// QuietHours is a recipient-configured window during which non-urgent
// secondary-channel delivery is suppressed. Start/End are wall-clock
// "HH:MM"; Start > End means the window wraps midnight.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// Settings holds one recipient's delivery preferences. Created lazily with
// defaults on first access; never deleted while the recipient exists.
type Settings struct {
	EmailNotifications bool `json:"email_notifications"`
	PushNotifications  bool `json:"push_notifications"`
	SMSNotifications   bool `json:"sms_notifications"`
	InAppNotifications bool `json:"in_app_notifications"`
	SoundEnabled       bool `json:"sound_enabled"`
	VibrationEnabled   bool `json:"vibration_enabled"`

	QuietHours QuietHours `json:"quiet_hours"`

	Categories map[Category]bool `json:"categories"`
	Priorities map[Priority]bool `json:"priorities"`

	AutoArchive     bool `json:"auto_archive"`
	AutoArchiveDays int  `json:"auto_archive_days"`

	MaxNotifications int `json:"max_notifications"`
}

// DefaultMaxNotifications is the soft cap on stored notifications per
// recipient before the janitor starts pruning.
const DefaultMaxNotifications = 100

// DefaultSettings returns the documented defaults: every category and
// priority enabled, push/in-app/sound/vibration on, email/sms off, quiet
// hours and auto-archive disabled.
func DefaultSettings() *Settings {
	return &Settings{
		EmailNotifications: false,
		PushNotifications:  true,
		SMSNotifications:   false,
		InAppNotifications: true,
		SoundEnabled:       true,
		VibrationEnabled:   true,
		QuietHours:         QuietHours{Enabled: false, Start: "22:00", End: "08:00"},
		Categories: map[Category]bool{
			CategoryGeneral:       true,
			CategoryProject:       true,
			CategoryBilling:       true,
			CategorySupport:       true,
			CategorySystem:        true,
			CategoryCollaboration: true,
		},
		Priorities: map[Priority]bool{
			PriorityLow:    true,
			PriorityMedium: true,
			PriorityHigh:   true,
			PriorityUrgent: true,
		},
		AutoArchive:      false,
		AutoArchiveDays:  30,
		MaxNotifications: DefaultMaxNotifications,
	}
}

// CategoryEnabled treats a category missing from the map as enabled, so a
// partial patch can never silently mute everything else.
func (s *Settings) CategoryEnabled(c Category) bool {
	enabled, ok := s.Categories[c]
	return !ok || enabled
}

// PriorityEnabled treats a priority missing from the map as enabled.
func (s *Settings) PriorityEnabled(p Priority) bool {
	enabled, ok := s.Priorities[p]
	return !ok || enabled
}

// Clone returns a deep copy so callers can hand settings across goroutine
// boundaries without aliasing the stored maps.
func (s *Settings) Clone() *Settings {
	cp := *s
	cp.Categories = make(map[Category]bool, len(s.Categories))
	for k, v := range s.Categories {
		cp.Categories[k] = v
	}
	cp.Priorities = make(map[Priority]bool, len(s.Priorities))
	for k, v := range s.Priorities {
		cp.Priorities[k] = v
	}
	return &cp
}

// QuietHoursPatch mirrors QuietHours with optional fields for partial updates.
type QuietHoursPatch struct {
	Enabled *bool   `json:"enabled,omitempty"`
	Start   *string `json:"start,omitempty"`
	End     *string `json:"end,omitempty"`
}

// SettingsPatch is a partial update. Nil fields are left untouched; the
// category/priority maps merge key-by-key rather than replacing wholesale.
type SettingsPatch struct {
	EmailNotifications *bool `json:"email_notifications,omitempty"`
	PushNotifications  *bool `json:"push_notifications,omitempty"`
	SMSNotifications   *bool `json:"sms_notifications,omitempty"`
	InAppNotifications *bool `json:"in_app_notifications,omitempty"`
	SoundEnabled       *bool `json:"sound_enabled,omitempty"`
	VibrationEnabled   *bool `json:"vibration_enabled,omitempty"`

	QuietHours *QuietHoursPatch `json:"quiet_hours,omitempty"`

	Categories map[Category]bool `json:"categories,omitempty"`
	Priorities map[Priority]bool `json:"priorities,omitempty"`

	AutoArchive     *bool `json:"auto_archive,omitempty"`
	AutoArchiveDays *int  `json:"auto_archive_days,omitempty"`

	MaxNotifications *int `json:"max_notifications,omitempty"`
}

// Validate rejects patches that would leave settings unusable.
func (p *SettingsPatch) Validate() error {
	if p.QuietHours != nil {
		if p.QuietHours.Start != nil {
			if _, err := ParseClock(*p.QuietHours.Start); err != nil {
				return &ValidationError{Field: "quiet_hours.start", Reason: "must be HH:MM"}
			}
		}
		if p.QuietHours.End != nil {
			if _, err := ParseClock(*p.QuietHours.End); err != nil {
				return &ValidationError{Field: "quiet_hours.end", Reason: "must be HH:MM"}
			}
		}
	}
	for c := range p.Categories {
		if !ValidCategory(c) {
			return &ValidationError{Field: "categories", Reason: "contains an unknown category"}
		}
	}
	for pr := range p.Priorities {
		if !ValidPriority(pr) {
			return &ValidationError{Field: "priorities", Reason: "contains an unknown priority"}
		}
	}
	if p.AutoArchiveDays != nil && *p.AutoArchiveDays < 1 {
		return &ValidationError{Field: "auto_archive_days", Reason: "must be at least 1"}
	}
	if p.MaxNotifications != nil && *p.MaxNotifications < 1 {
		return &ValidationError{Field: "max_notifications", Reason: "must be at least 1"}
	}
	return nil
}

// Apply merges the patch into s: shallow at the top level, one level deep
// for quiet hours and the category/priority maps.
func (p *SettingsPatch) Apply(s *Settings) {
	if p.EmailNotifications != nil {
		s.EmailNotifications = *p.EmailNotifications
	}
	if p.PushNotifications != nil {
		s.PushNotifications = *p.PushNotifications
	}
	if p.SMSNotifications != nil {
		s.SMSNotifications = *p.SMSNotifications
	}
	if p.InAppNotifications != nil {
		s.InAppNotifications = *p.InAppNotifications
	}
	if p.SoundEnabled != nil {
		s.SoundEnabled = *p.SoundEnabled
	}
	if p.VibrationEnabled != nil {
		s.VibrationEnabled = *p.VibrationEnabled
	}
	if p.QuietHours != nil {
		if p.QuietHours.Enabled != nil {
			s.QuietHours.Enabled = *p.QuietHours.Enabled
		}
		if p.QuietHours.Start != nil {
			s.QuietHours.Start = *p.QuietHours.Start
		}
		if p.QuietHours.End != nil {
			s.QuietHours.End = *p.QuietHours.End
		}
	}
	for c, enabled := range p.Categories {
		s.Categories[c] = enabled
	}
	for pr, enabled := range p.Priorities {
		s.Priorities[pr] = enabled
	}
	if p.AutoArchive != nil {
		s.AutoArchive = *p.AutoArchive
	}
	if p.AutoArchiveDays != nil {
		s.AutoArchiveDays = *p.AutoArchiveDays
	}
	if p.MaxNotifications != nil {
		s.MaxNotifications = *p.MaxNotifications
	}
}
