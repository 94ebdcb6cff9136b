package domain

import "time"

// Notification is a live event pushed to connected observers.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationRequest is the body of POST /api/notifications.
type NotificationRequest struct {
	UserID  string `json:"userId" validate:"max=255"`
	Type    string `json:"type" validate:"max=64"`
	Message string `json:"message" validate:"required,max=4096"`
}

// Notification types used for decision outcomes.
const (
	NotifyInfo    = "info"
	NotifyWarning = "warning"
	NotifyError   = "error"
	NotifySuccess = "success"
)
