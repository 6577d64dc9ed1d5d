package dto

import (
	"time"

	"github.com/noah-isme/unigigs-api/internal/models"
)

// ProfileUpdateRequest edits the mutable profile fields. University is not
// editable once derived at signup.
type ProfileUpdateRequest struct {
	DisplayName *string `json:"display_name" form:"display_name" validate:"omitempty,min=1,max=80"`
	Bio         *string `json:"bio" form:"bio" validate:"omitempty,max=1000"`
	Major       *string `json:"major" form:"major" validate:"omitempty,max=120"`
}

// SettingsUpdateRequest toggles user preferences.
type SettingsUpdateRequest struct {
	EmailNotifications *bool `json:"email_notifications"`
	PushNotifications  *bool `json:"push_notifications"`
	PublicProfile      *bool `json:"public_profile"`
	DarkMode           *bool `json:"dark_mode"`
}

// SettingsResponse exposes user preferences.
type SettingsResponse struct {
	EmailNotifications bool `json:"email_notifications"`
	PushNotifications  bool `json:"push_notifications"`
	PublicProfile      bool `json:"public_profile"`
	DarkMode           bool `json:"dark_mode"`
}

// ProfileResponse is the serialized representation of a user profile.
type ProfileResponse struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name"`
	University  string    `json:"university"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	Major       string    `json:"major,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProfileOverviewResponse lists the gigs a user posted and the applications they sent.
type ProfileOverviewResponse struct {
	Profile      ProfileResponse       `json:"profile"`
	Gigs         []GigResponse         `json:"gigs"`
	Applications []ApplicationResponse `json:"applications"`
}

// NewProfileResponse converts a model into a DTO. Email is only exposed to the owner.
func NewProfileResponse(user models.User, includeEmail bool) ProfileResponse {
	response := ProfileResponse{
		UID:         user.ID,
		DisplayName: user.DisplayName,
		University:  user.University,
		PhotoURL:    user.PhotoURL,
		Bio:         user.Bio,
		Major:       user.Major,
		CreatedAt:   user.CreatedAt,
	}
	if includeEmail {
		response.Email = user.Email
	}
	return response
}

// NewSettingsResponse converts a model into a DTO.
func NewSettingsResponse(user models.User) SettingsResponse {
	return SettingsResponse{
		EmailNotifications: user.EmailNotifications,
		PushNotifications:  user.PushNotifications,
		PublicProfile:      user.PublicProfile,
		DarkMode:           user.DarkMode,
	}
}

// PushSubscriptionRequest mirrors the browser PushSubscription JSON.
type PushSubscriptionRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url,max=1024"`
	Keys     struct {
		Auth   string `json:"auth" validate:"required,max=255"`
		P256dh string `json:"p256dh" validate:"required,max=255"`
	} `json:"keys"`
}

// PushUnsubscribeRequest removes a registered endpoint.
type PushUnsubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required,max=1024"`
}

// UploadResponse describes a stored blob.
type UploadResponse struct {
	URL       string `json:"url"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}
