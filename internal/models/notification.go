package models

import "time"

// NotificationType mirrors the request transition that produced the notice.
type NotificationType string

const (
	NotificationTypeApproved  NotificationType = "request_approved"
	NotificationTypeRejected  NotificationType = "request_rejected"
	NotificationTypeCancelled NotificationType = "request_cancelled"
)

// Notification is an in-app notice created on every request transition.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	RecipientID string           `db:"recipient_id" json:"recipient_id"`
	SenderID    string           `db:"sender_id" json:"sender_id"`
	Type        NotificationType `db:"type" json:"type"`
	RequestID   string           `db:"request_id" json:"request_id"`
	Title       string           `db:"title" json:"title"`
	Message     string           `db:"message" json:"message"`
	Status      RequestStatus    `db:"status" json:"status"`
	Read        bool             `db:"read" json:"read"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// ParentNotification is a store record awaiting out-of-band delivery to a
// student's parent. No outbound send happens from this service.
type ParentNotification struct {
	ID          string    `db:"id" json:"id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	RequestID   string    `db:"request_id" json:"request_id"`
	ParentPhone string    `db:"parent_phone" json:"parent_phone"`
	Message     string    `db:"message" json:"message"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
