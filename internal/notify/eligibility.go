package notify

import (
	"fmt"
	"strings"
	"time"
)

// Channel is a delivery mechanism that may independently succeed or fail.
type Channel string

const (
	ChannelInApp     Channel = "in_app"
	ChannelPush      Channel = "push"
	ChannelSound     Channel = "sound"
	ChannelVibration Channel = "vibration"
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
)

// ChannelSet is the subset of channels a notification may use for one
// recipient at decision time. An empty set still means the notification is
// stored and visible in explicit all/archived queries.
type ChannelSet map[Channel]bool

func (cs ChannelSet) Has(c Channel) bool { return cs[c] }

func (cs ChannelSet) Empty() bool { return len(cs) == 0 }

// Slice returns the channels in a fixed order, for logging and wire output.
func (cs ChannelSet) Slice() []Channel {
	order := []Channel{ChannelInApp, ChannelPush, ChannelSound, ChannelVibration, ChannelEmail, ChannelSMS}
	out := make([]Channel, 0, len(cs))
	for _, c := range order {
		if cs[c] {
			out = append(out, c)
		}
	}
	return out
}

func (cs ChannelSet) String() string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs.Slice() {
		parts = append(parts, string(c))
	}
	return strings.Join(parts, ",")
}

// Clock is minutes since midnight.
type Clock int

// ParseClock parses "HH:MM" wall-clock time.
func ParseClock(s string) (Clock, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("parse clock %q: out of range", s)
	}
	return Clock(h*60 + m), nil
}

// InQuietWindow reports whether now falls inside [start, end), treating
// start > end as a window that wraps midnight. Both boundaries are
// evaluated against the same instant.
func InQuietWindow(qh QuietHours, now time.Time) bool {
	if !qh.Enabled {
		return false
	}
	start, err := ParseClock(qh.Start)
	if err != nil {
		return false
	}
	end, err := ParseClock(qh.End)
	if err != nil {
		return false
	}
	cur := Clock(now.Hour()*60 + now.Minute())
	if start == end {
		return false
	}
	if start < end {
		return cur >= start && cur < end
	}
	// Overnight wrap, e.g. 22:00 -> 08:00.
	return cur >= start || cur < end
}

// Decide computes the eligibility set for one notification against the
// recipient's settings. Exclusions apply in order: category mute, priority
// mute, channel toggles, quiet hours. A muted category or priority empties
// the set entirely; the notification is still persisted and remains
// visible in explicit queries. In-app is controlled solely by muting — the
// in-app feed is the system of record, so toggles and quiet hours never
// remove it. Urgent bypasses quiet hours only, not muting.
func Decide(n *Notification, s *Settings, now time.Time) ChannelSet {
	set := ChannelSet{}

	if !s.CategoryEnabled(n.Category) {
		return set
	}
	if !s.PriorityEnabled(n.Priority) {
		return set
	}

	// In-app is the system of record: the toggle exists in settings for
	// client symmetry but never disables the feed itself.
	set[ChannelInApp] = true

	if s.PushNotifications {
		set[ChannelPush] = true
	}
	if s.SoundEnabled {
		set[ChannelSound] = true
	}
	if s.VibrationEnabled {
		set[ChannelVibration] = true
	}
	if s.EmailNotifications {
		set[ChannelEmail] = true
	}
	if s.SMSNotifications {
		set[ChannelSMS] = true
	}

	if n.Priority != PriorityUrgent && InQuietWindow(s.QuietHours, now) {
		delete(set, ChannelPush)
		delete(set, ChannelSound)
		delete(set, ChannelVibration)
	}

	return set
}
