package notify

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies what kind of event a notification describes.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
	TypeSystem  Type = "system"
	TypeProject Type = "project"
	TypeTask    Type = "task"
	TypeFile    Type = "file"
	TypeComment Type = "comment"
	TypePayment Type = "payment"
)

// Priority orders notifications by urgency. Urgent bypasses quiet hours.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Category groups notifications for per-category muting.
type Category string

const (
	CategoryGeneral       Category = "general"
	CategoryProject       Category = "project"
	CategoryBilling       Category = "billing"
	CategorySupport       Category = "support"
	CategorySystem        Category = "system"
	CategoryCollaboration Category = "collaboration"
)

// SenderRole identifies which side of the dashboard originated the event.
type SenderRole string

const (
	RoleAdmin  SenderRole = "admin"
	RoleClient SenderRole = "client"
)

// Action is a call-to-action rendered by the feed consumer. The engine
// stores actions verbatim and never interprets them.
type Action struct {
	Label string `json:"label"`
	Kind  string `json:"kind"`
	URL   string `json:"url,omitempty"`
}

// Notification is one event directed at exactly one recipient. Everything
// except the three lifecycle flags (and their paired timestamps) is
// immutable after classification.
type Notification struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Type     Type      `json:"type"`
	Priority Priority  `json:"priority"`
	Category Category  `json:"category"`

	SenderID    string     `json:"sender_id"`
	SenderName  string     `json:"sender_name"`
	SenderRole  SenderRole `json:"sender_role"`
	RecipientID string     `json:"recipient_id"`

	// Cross-references used for deep-linking only.
	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	FileID    string `json:"file_id,omitempty"`
	CommentID string `json:"comment_id,omitempty"`
	RoomID    string `json:"room_id,omitempty"`

	IsRead     bool `json:"is_read"`
	IsArchived bool `json:"is_archived"`
	IsPinned   bool `json:"is_pinned"`

	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	PinnedAt   *time.Time `json:"pinned_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`

	Actions []Action `json:"actions,omitempty"`
}

// IsExpired reports whether the notification's deadline has passed at the
// given instant. Expired notifications drop out of the unread feed without
// any stored-state change.
func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && now.After(*n.ExpiresAt)
}

// ValidType reports whether t is one of the closed set of types.
func ValidType(t Type) bool {
	switch t {
	case TypeInfo, TypeSuccess, TypeWarning, TypeError, TypeSystem,
		TypeProject, TypeTask, TypeFile, TypeComment, TypePayment:
		return true
	}
	return false
}

// ValidPriority reports whether p is one of the closed set of priorities.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ValidCategory reports whether c is one of the closed set of categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryGeneral, CategoryProject, CategoryBilling,
		CategorySupport, CategorySystem, CategoryCollaboration:
		return true
	}
	return false
}

// ValidSenderRole reports whether r is admin or client.
func ValidSenderRole(r SenderRole) bool {
	return r == RoleAdmin || r == RoleClient
}
