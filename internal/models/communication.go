package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification types.
const (
	NotificationTypeInfo    = "info"
	NotificationTypeSuccess = "success"
	NotificationTypeError   = "error"
)

// Outbox statuses.
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessing = "processing"
	OutboxStatusDelivered  = "delivered"
	OutboxStatusFailed     = "failed"
)

// OutboxKindNotification marks outbox events that materialise a Notification.
const OutboxKindNotification = "notification"

// Community is a chat space scoped to a university, or to everyone when the
// university is UniversityGlobal.
type Community struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"size:120;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	University  string    `gorm:"size:255;index;not null" json:"university"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BeforeCreate assigns an identifier when the caller did not supply one.
func (c *Community) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Message is an immutable chat message inside a community. The ReplyTo* columns
// hold a snapshot of the message being answered, if any.
type Message struct {
	ID                string    `gorm:"primaryKey;size:36;index:idx_message_community_created,priority:3" json:"id"`
	CommunityID       string    `gorm:"size:36;not null;index:idx_message_community_created,priority:1" json:"community_id"`
	Text              string    `gorm:"type:text;not null" json:"text"`
	SenderID          string    `gorm:"size:36;index;not null" json:"sender_id"`
	SenderName        string    `gorm:"size:120" json:"sender_name"`
	SenderPhoto       string    `gorm:"size:512" json:"sender_photo"`
	ReplyToID         string    `gorm:"size:36" json:"reply_to_id"`
	ReplyToText       string    `gorm:"type:text" json:"reply_to_text"`
	ReplyToSenderName string    `gorm:"size:120" json:"reply_to_sender_name"`
	CreatedAt         time.Time `gorm:"index:idx_message_community_created,priority:2" json:"created_at"`
}

// BeforeCreate assigns an identifier when the caller did not supply one.
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Notification is addressed to a single recipient; only Read ever changes.
type Notification struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:36;not null;index:idx_notification_user_created,priority:1" json:"user_id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Message   string    `gorm:"type:text" json:"message"`
	Type      string    `gorm:"size:16;not null;default:info" json:"type"`
	Link      string    `gorm:"size:512" json:"link"`
	Read      bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time `gorm:"index:idx_notification_user_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns an identifier when the caller did not supply one.
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// OutboxEvent is a durable side effect awaiting delivery by the outbox worker.
type OutboxEvent struct {
	ID            string            `gorm:"primaryKey;size:36" json:"id"`
	Kind          string            `gorm:"size:32;not null" json:"kind"`
	Payload       datatypes.JSONMap `gorm:"type:json" json:"payload"`
	Status        string            `gorm:"size:16;not null;default:pending;index:idx_outbox_due,priority:1" json:"status"`
	Attempts      int               `gorm:"not null;default:0" json:"attempts"`
	LastError     string            `gorm:"type:text" json:"last_error"`
	NextAttemptAt time.Time         `gorm:"index:idx_outbox_due,priority:2" json:"next_attempt_at"`
	ClaimedBy     string            `gorm:"size:64" json:"claimed_by"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// BeforeCreate assigns an identifier and schedules the first attempt.
func (o *OutboxEvent) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = OutboxStatusPending
	}
	if o.NextAttemptAt.IsZero() {
		o.NextAttemptAt = time.Now().UTC()
	}
	return nil
}
