package models

import (
	"encoding/json"
	"time"
)

// NotificationType tags the workflow event that produced a notification.
const (
	NotificationTypeProposalReviewed = "proposal_reviewed"
)

// Notification is one message delivered to one user. Immutable except for
// IsRead, which only ever transitions false to true.
type Notification struct {
	ID        string          `db:"id" json:"id"`
	UserID    string          `db:"user_id" json:"user_id"`
	Title     string          `db:"title" json:"title"`
	Message   string          `db:"message" json:"message"`
	Type      string          `db:"type" json:"type"`
	Data      json.RawMessage `db:"data" json:"data,omitempty"`
	IsRead    bool            `db:"is_read" json:"is_read"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// NotificationFilter narrows mailbox listing.
type NotificationFilter struct {
	UserID string
	IsRead *bool
	Limit  int
}

// NotificationEvent is a post-commit side effect emitted by a workflow
// transition. Delivery is asynchronous and must never fail the transition.
type NotificationEvent struct {
	UserID  string
	Title   string
	Message string
	Type    string
	Data    map[string]interface{}
}
