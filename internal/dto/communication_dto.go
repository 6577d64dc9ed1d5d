package dto

import (
	"time"

	"github.com/noah-isme/unigigs-api/internal/models"
)

// CommunityCreateRequest creates a chat community.
type CommunityCreateRequest struct {
	Name        string `json:"name" validate:"required,min=3,max=120"`
	Description string `json:"description" validate:"omitempty,max=1000"`
	University  string `json:"university" validate:"omitempty,max=255"`
}

// CommunityResponse is the serialized representation of a community.
type CommunityResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	University  string    `json:"university"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewCommunityResponse converts a model into a DTO.
func NewCommunityResponse(community models.Community) CommunityResponse {
	return CommunityResponse{
		ID:          community.ID,
		Name:        community.Name,
		Description: community.Description,
		University:  community.University,
		CreatedAt:   community.CreatedAt,
	}
}

// NewCommunityResponseSlice converts a slice of models into DTOs.
func NewCommunityResponseSlice(items []models.Community) []CommunityResponse {
	out := make([]CommunityResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewCommunityResponse(item))
	}
	return out
}

// MessageSendRequest represents the payload sent by clients to post a message.
type MessageSendRequest struct {
	Text      string `json:"text" validate:"required,min=1,max=4000"`
	ReplyToID string `json:"reply_to_id" validate:"omitempty,max=36"`
}

// MessageHistoryQuery pages backwards through a community's messages.
type MessageHistoryQuery struct {
	CommunityID string     `validate:"required,max=36"`
	Before      *time.Time `query:"before"`
	// BeforeID breaks ties between messages sharing the Before timestamp.
	BeforeID string `query:"before_id" validate:"omitempty,max=36"`
	Limit    int    `query:"limit" validate:"omitempty,min=1,max=200"`
}

// ReplySnapshot is the copy of the answered message embedded in a reply.
type ReplySnapshot struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	SenderName string `json:"sender_name"`
}

// MessageResponse is the serialized representation of a chat message.
type MessageResponse struct {
	ID          string         `json:"id"`
	CommunityID string         `json:"community_id"`
	Text        string         `json:"text"`
	SenderID    string         `json:"sender_id"`
	SenderName  string         `json:"sender_name"`
	SenderPhoto string         `json:"sender_photo,omitempty"`
	ReplyTo     *ReplySnapshot `json:"reply_to,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewMessageResponse converts a model into a DTO.
func NewMessageResponse(message models.Message) MessageResponse {
	response := MessageResponse{
		ID:          message.ID,
		CommunityID: message.CommunityID,
		Text:        message.Text,
		SenderID:    message.SenderID,
		SenderName:  message.SenderName,
		SenderPhoto: message.SenderPhoto,
		CreatedAt:   message.CreatedAt,
	}
	if message.ReplyToID != "" {
		response.ReplyTo = &ReplySnapshot{
			ID:         message.ReplyToID,
			Text:       message.ReplyToText,
			SenderName: message.ReplyToSenderName,
		}
	}
	return response
}

// NewMessageResponseSlice converts a slice of models into DTOs.
func NewMessageResponseSlice(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}

// MessageSnapshot is pushed to chat subscribers on every change.
type MessageSnapshot struct {
	Type        string            `json:"type"`
	CommunityID string            `json:"community_id"`
	Messages    []MessageResponse `json:"messages"`
}

// ChatFrame is a client websocket frame.
type ChatFrame struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	ReplyToID string `json:"reply_to_id"`
}

// ChatError is written back to a websocket client when a frame is rejected.
type ChatError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NotificationInput describes a notification to dispatch.
type NotificationInput struct {
	UserID  string `json:"user_id" validate:"required,max=36"`
	Title   string `json:"title" validate:"required,min=1,max=255"`
	Message string `json:"message" validate:"required,min=1,max=2000"`
	Type    string `json:"type" validate:"required,oneof=info success error"`
	Link    string `json:"link" validate:"omitempty,max=512"`
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Link      string    `json:"link,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// NewNotificationResponse converts a notification model to DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        model.ID,
		UserID:    model.UserID,
		Title:     model.Title,
		Message:   model.Message,
		Type:      model.Type,
		Link:      model.Link,
		Read:      model.Read,
		CreatedAt: model.CreatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

// NotificationSnapshot is pushed to notification subscribers on every change.
// UnreadCount is derived from the held set only.
type NotificationSnapshot struct {
	Notifications []NotificationResponse `json:"notifications"`
	UnreadCount   int                    `json:"unread_count"`
}

// NewNotificationSnapshot derives the unread count over the held set.
func NewNotificationSnapshot(items []models.Notification) NotificationSnapshot {
	snapshot := NotificationSnapshot{Notifications: NewNotificationResponseSlice(items)}
	for _, item := range items {
		if !item.Read {
			snapshot.UnreadCount++
		}
	}
	return snapshot
}
