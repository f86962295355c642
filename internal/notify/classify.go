package notify

import (
	"time"

	"github.com/google/uuid"
)

// CreateRequest is the raw notification-creation input produced by feature
// modules (projects, tickets, tasks, files, chat).
type CreateRequest struct {
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Type        Type       `json:"type"`
	Priority    Priority   `json:"priority"`
	Category    Category   `json:"category"`
	SenderID    string     `json:"sender_id"`
	SenderName  string     `json:"sender_name"`
	SenderRole  SenderRole `json:"sender_role"`
	RecipientID string     `json:"recipient_id"`

	ProjectID string `json:"project_id,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	FileID    string `json:"file_id,omitempty"`
	CommentID string `json:"comment_id,omitempty"`
	RoomID    string `json:"room_id,omitempty"`

	Actions   []Action   `json:"actions,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Classify maps a creation request to a fully-typed Notification. It is
// pure: no I/O, no dependency on recipient settings. Unknown enum values
// are errors, never silent defaults; only missing priority and category
// fall back (medium / general), matching how feature modules omit them.
func Classify(req CreateRequest, now time.Time) (*Notification, error) {
	if req.Title == "" {
		return nil, &ValidationError{Field: "title", Reason: "is required"}
	}
	if req.Message == "" {
		return nil, &ValidationError{Field: "message", Reason: "is required"}
	}
	if req.RecipientID == "" {
		return nil, &ValidationError{Field: "recipient_id", Reason: "is required"}
	}
	if !ValidType(req.Type) {
		return nil, &ValidationError{Field: "type", Reason: "is not a known notification type"}
	}

	priority := req.Priority
	if priority == "" {
		priority = PriorityMedium
	} else if !ValidPriority(priority) {
		return nil, &ValidationError{Field: "priority", Reason: "is not a known priority"}
	}

	category := req.Category
	if category == "" {
		category = CategoryGeneral
	} else if !ValidCategory(category) {
		return nil, &ValidationError{Field: "category", Reason: "is not a known category"}
	}

	if req.SenderRole != "" && !ValidSenderRole(req.SenderRole) {
		return nil, &ValidationError{Field: "sender_role", Reason: "must be admin or client"}
	}

	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, &ValidationError{Field: "expires_at", Reason: "must be in the future"}
	}

	return &Notification{
		ID:          uuid.New(),
		Title:       req.Title,
		Message:     req.Message,
		Type:        req.Type,
		Priority:    priority,
		Category:    category,
		SenderID:    req.SenderID,
		SenderName:  req.SenderName,
		SenderRole:  req.SenderRole,
		RecipientID: req.RecipientID,
		ProjectID:   req.ProjectID,
		TaskID:      req.TaskID,
		FileID:      req.FileID,
		CommentID:   req.CommentID,
		RoomID:      req.RoomID,
		CreatedAt:   now,
		ExpiresAt:   req.ExpiresAt,
		Actions:     req.Actions,
	}, nil
}
