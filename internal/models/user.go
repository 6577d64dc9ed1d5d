package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// University sentinels used when the email domain cannot identify an institution
// or when a community is shared across all institutions.
const (
	UniversityGlobal   = "Global"
	UniversityExternal = "External"
)

// Authentication providers recorded on AuthAccount.
const (
	ProviderPassword  = "password"
	ProviderGoogle    = "google"
	ProviderGitHub    = "github"
	ProviderMicrosoft = "microsoft"
)

// User is the profile record of a student, keyed by the auth identity uid.
type User struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"uid"`
	Email              string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	DisplayName        string    `gorm:"size:120" json:"display_name"`
	University         string    `gorm:"size:255;index;not null" json:"university"`
	PhotoURL           string    `gorm:"size:512" json:"photo_url"`
	Bio                string    `gorm:"type:text" json:"bio"`
	Major              string    `gorm:"size:120" json:"major"`
	FCMToken           string    `gorm:"size:1024" json:"-"`
	EmailNotifications bool      `gorm:"not null;default:true" json:"email_notifications"`
	PushNotifications  bool      `gorm:"not null;default:true" json:"push_notifications"`
	PublicProfile      bool      `gorm:"not null;default:true" json:"public_profile"`
	DarkMode           bool      `gorm:"not null;default:true" json:"dark_mode"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// BeforeCreate assigns an identifier when the caller did not supply one.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// AuthAccount is a sign-in identity owned by a user. Password accounts use the
// email as subject; social accounts use the provider's stable subject.
type AuthAccount struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"size:36;index;not null" json:"user_id"`
	Provider     string    `gorm:"size:32;not null;uniqueIndex:idx_auth_provider_subject" json:"provider"`
	Subject      string    `gorm:"size:255;not null;uniqueIndex:idx_auth_provider_subject" json:"subject"`
	Email        string    `gorm:"size:255" json:"email"`
	PasswordHash string    `gorm:"size:255" json:"-"`
	DisplayName  string    `gorm:"size:120" json:"display_name"`
	PhotoURL     string    `gorm:"size:512" json:"photo_url"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BeforeCreate assigns an identifier when the caller did not supply one.
func (a *AuthAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// PushSubscription is a browser web-push endpoint registered by a user.
type PushSubscription struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:36;index;not null" json:"user_id"`
	Endpoint  string    `gorm:"size:1024;uniqueIndex;not null" json:"endpoint"`
	Auth      string    `gorm:"size:255;not null" json:"-"`
	P256dh    string    `gorm:"size:255;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns an identifier when the caller did not supply one.
func (p *PushSubscription) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
