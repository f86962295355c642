package notify

import (
	"errors"
	"testing"
)

func boolPtr(b bool) *bool { return &b }
func strPtr(s string) *string { return &s }
func intPtr(i int) *int { return &i }

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	if s.EmailNotifications || s.SMSNotifications {
		t.Error("email and sms must default off")
	}
	if !s.PushNotifications || !s.InAppNotifications || !s.SoundEnabled || !s.VibrationEnabled {
		t.Error("push, in-app, sound, vibration must default on")
	}
	if s.QuietHours.Enabled {
		t.Error("quiet hours must default disabled")
	}
	if s.AutoArchive {
		t.Error("auto-archive must default disabled")
	}
	if s.MaxNotifications != DefaultMaxNotifications {
		t.Errorf("max notifications = %d, want %d", s.MaxNotifications, DefaultMaxNotifications)
	}
	for _, c := range []Category{CategoryGeneral, CategoryProject, CategoryBilling, CategorySupport, CategorySystem, CategoryCollaboration} {
		if !s.CategoryEnabled(c) {
			t.Errorf("category %s must default enabled", c)
		}
	}
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent} {
		if !s.PriorityEnabled(p) {
			t.Errorf("priority %s must default enabled", p)
		}
	}
}

func TestCategoryEnabled_MissingKeyMeansEnabled(t *testing.T) {
	s := &Settings{Categories: map[Category]bool{CategoryBilling: false}}

	if s.CategoryEnabled(CategoryBilling) {
		t.Error("explicit false must disable")
	}
	if !s.CategoryEnabled(CategoryGeneral) {
		t.Error("missing key must count as enabled")
	}
}

func TestSettings_Clone(t *testing.T) {
	s := DefaultSettings()
	cp := s.Clone()

	cp.Categories[CategoryBilling] = false
	cp.EmailNotifications = true

	if !s.Categories[CategoryBilling] {
		t.Error("clone must not alias the categories map")
	}
	if s.EmailNotifications {
		t.Error("clone must not alias scalar fields")
	}
}

func TestSettingsPatch_Validate(t *testing.T) {
	tests := []struct {
		name      string
		patch     SettingsPatch
		wantField string
	}{
		{"empty patch", SettingsPatch{}, ""},
		{"valid quiet hours", SettingsPatch{QuietHours: &QuietHoursPatch{Start: strPtr("21:30"), End: strPtr("07:00")}}, ""},
		{"bad quiet hours start", SettingsPatch{QuietHours: &QuietHoursPatch{Start: strPtr("25:00")}}, "quiet_hours.start"},
		{"bad quiet hours end", SettingsPatch{QuietHours: &QuietHoursPatch{End: strPtr("noon")}}, "quiet_hours.end"},
		{"unknown category", SettingsPatch{Categories: map[Category]bool{Category("gossip"): true}}, "categories"},
		{"unknown priority", SettingsPatch{Priorities: map[Priority]bool{Priority("extreme"): true}}, "priorities"},
		{"zero auto archive days", SettingsPatch{AutoArchiveDays: intPtr(0)}, "auto_archive_days"},
		{"zero max notifications", SettingsPatch{MaxNotifications: intPtr(0)}, "max_notifications"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.patch.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("error field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestSettingsPatch_Apply(t *testing.T) {
	s := DefaultSettings()

	patch := SettingsPatch{
		EmailNotifications: boolPtr(true),
		SoundEnabled:       boolPtr(false),
		QuietHours:         &QuietHoursPatch{Enabled: boolPtr(true), Start: strPtr("23:00")},
		Categories:         map[Category]bool{CategoryBilling: false},
		MaxNotifications:   intPtr(50),
	}
	patch.Apply(s)

	if !s.EmailNotifications {
		t.Error("email toggle not applied")
	}
	if s.SoundEnabled {
		t.Error("sound toggle not applied")
	}
	// Untouched fields keep their values
	if !s.PushNotifications {
		t.Error("push must survive an unrelated patch")
	}
	if !s.QuietHours.Enabled || s.QuietHours.Start != "23:00" {
		t.Errorf("quiet hours not merged: %+v", s.QuietHours)
	}
	if s.QuietHours.End != "08:00" {
		t.Errorf("quiet hours end must survive a partial patch, got %q", s.QuietHours.End)
	}
	if s.Categories[CategoryBilling] {
		t.Error("category mute not applied")
	}
	if !s.Categories[CategoryGeneral] {
		t.Error("category map must merge, not replace")
	}
	if s.MaxNotifications != 50 {
		t.Errorf("max notifications = %d, want 50", s.MaxNotifications)
	}
}
