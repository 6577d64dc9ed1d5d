package dto

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/noah-isme/unigigs-api/internal/models"
)

// Amount accepts a payment submitted either as a JSON number or as a form
// string; the service converts it to a numeric value.
type Amount string

// UnmarshalJSON accepts both `20` and `"20"`.
func (a *Amount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*a = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var raw string
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(raw))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return err
	}
	*a = Amount(number.String())
	return nil
}

// GigCreateRequest is the payload to post a new gig.
type GigCreateRequest struct {
	Title       string `json:"title" form:"title" validate:"required,min=3,max=255"`
	Description string `json:"description" form:"description" validate:"required,min=1,max=5000"`
	Payment     Amount `json:"payment" form:"payment" validate:"required"`
}

// GigListQuery pages through the open gigs of the actor's university.
type GigListQuery struct {
	Limit  int `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset int `query:"offset" validate:"omitempty,min=0"`
}

// GigResponse is the serialized representation of a gig.
type GigResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Payment     float64   `json:"payment"`
	PosterID    string    `json:"poster_id"`
	PosterName  string    `json:"poster_name"`
	University  string    `json:"university"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// GigDetailResponse adds the viewer-specific state shown on the details page.
type GigDetailResponse struct {
	Gig        GigResponse           `json:"gig"`
	HasApplied bool                  `json:"has_applied"`
	IsPoster   bool                  `json:"is_poster"`
	Saved      bool                  `json:"saved"`
	Applicants []ApplicationResponse `json:"applicants,omitempty"`
}

// NewGigResponse converts a model into a DTO.
func NewGigResponse(gig models.Gig) GigResponse {
	return GigResponse{
		ID:          gig.ID,
		Title:       gig.Title,
		Description: gig.Description,
		Payment:     gig.Payment,
		PosterID:    gig.PosterID,
		PosterName:  gig.PosterName,
		University:  gig.University,
		Status:      gig.Status,
		CreatedAt:   gig.CreatedAt,
	}
}

// NewGigResponseSlice converts a slice of models into DTOs.
func NewGigResponseSlice(gigs []models.Gig) []GigResponse {
	out := make([]GigResponse, 0, len(gigs))
	for _, gig := range gigs {
		out = append(out, NewGigResponse(gig))
	}
	return out
}

// ApplicationDecisionRequest moves a pending application to a terminal state.
type ApplicationDecisionRequest struct {
	Status string `json:"status" validate:"required,oneof=accepted rejected"`
}

// ApplicationResponse is the serialized representation of an application.
type ApplicationResponse struct {
	ID             string    `json:"id"`
	GigID          string    `json:"gig_id"`
	ApplicantID    string    `json:"applicant_id"`
	ApplicantName  string    `json:"applicant_name"`
	ApplicantEmail string    `json:"applicant_email"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	GigTitle       string    `json:"gig_title,omitempty"`
	GigPayment     *float64  `json:"gig_payment,omitempty"`
}

// NewApplicationResponse converts a model into a DTO.
func NewApplicationResponse(app models.Application) ApplicationResponse {
	return ApplicationResponse{
		ID:             app.ID,
		GigID:          app.GigID,
		ApplicantID:    app.ApplicantID,
		ApplicantName:  app.ApplicantName,
		ApplicantEmail: app.ApplicantEmail,
		Status:         app.Status,
		CreatedAt:      app.CreatedAt,
	}
}

// NewApplicationResponseSlice converts a slice of models into DTOs.
func NewApplicationResponseSlice(apps []models.Application) []ApplicationResponse {
	out := make([]ApplicationResponse, 0, len(apps))
	for _, app := range apps {
		out = append(out, NewApplicationResponse(app))
	}
	return out
}
