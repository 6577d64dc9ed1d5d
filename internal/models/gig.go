package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Gig statuses.
const (
	GigStatusOpen   = "open"
	GigStatusClosed = "closed"
)

// Application statuses. Pending is the only non-terminal state.
const (
	ApplicationStatusPending  = "pending"
	ApplicationStatusAccepted = "accepted"
	ApplicationStatusRejected = "rejected"
)

// Gig is a short-term task posted by a student for peers at the same university.
type Gig struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Payment     float64   `gorm:"not null" json:"payment"`
	PosterID    string    `gorm:"size:36;index;not null" json:"poster_id"`
	PosterName  string    `gorm:"size:120" json:"poster_name"`
	University  string    `gorm:"size:255;not null;index:idx_gig_listing,priority:1" json:"university"`
	Status      string    `gorm:"size:16;not null;default:open;index:idx_gig_listing,priority:2" json:"status"`
	CreatedAt   time.Time `gorm:"index:idx_gig_listing,priority:3" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BeforeCreate assigns an identifier when the caller did not supply one.
func (g *Gig) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

// IsOpen reports whether the gig still accepts applications.
func (g Gig) IsOpen() bool {
	return g.Status == GigStatusOpen
}

// Application is a student's request to perform a gig. The (gig, applicant)
// pair is unique at the store level.
type Application struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	GigID          string    `gorm:"size:36;not null;uniqueIndex:idx_application_gig_applicant" json:"gig_id"`
	ApplicantID    string    `gorm:"size:36;not null;uniqueIndex:idx_application_gig_applicant;index" json:"applicant_id"`
	ApplicantName  string    `gorm:"size:120" json:"applicant_name"`
	ApplicantEmail string    `gorm:"size:255" json:"applicant_email"`
	Status         string    `gorm:"size:16;not null;default:pending" json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BeforeCreate assigns an identifier when the caller did not supply one.
func (a *Application) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// SavedGig is a bookmark of a gig by a user.
type SavedGig struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:36;not null;uniqueIndex:idx_saved_gig_user_gig" json:"user_id"`
	GigID     string    `gorm:"size:36;not null;uniqueIndex:idx_saved_gig_user_gig" json:"gig_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate assigns an identifier when the caller did not supply one.
func (s *SavedGig) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
