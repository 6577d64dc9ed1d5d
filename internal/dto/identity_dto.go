package dto

import "github.com/noah-isme/unigigs-api/internal/models"

// Identity is the authenticated actor passed explicitly to every service call.
// Auth fields come from the sign-in account; profile fields from the User record.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Provider    string `json:"provider,omitempty"`
	University  string `json:"university,omitempty"`
	Bio         string `json:"bio,omitempty"`
	Major       string `json:"major,omitempty"`
	HasProfile  bool   `json:"has_profile"`
}

// AuthIdentity builds the raw identity known to the auth service.
func AuthIdentity(account models.AuthAccount) Identity {
	return Identity{
		UID:         account.UserID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
		PhotoURL:    account.PhotoURL,
		Provider:    account.Provider,
	}
}

// MergeProfile overlays the User record on the auth identity. Non-empty record
// fields win on collision; a nil record leaves the auth identity untouched.
func MergeProfile(identity Identity, user *models.User) Identity {
	if user == nil {
		return identity
	}

	merged := identity
	merged.HasProfile = true
	if user.ID != "" {
		merged.UID = user.ID
	}
	if user.Email != "" {
		merged.Email = user.Email
	}
	if user.DisplayName != "" {
		merged.DisplayName = user.DisplayName
	}
	if user.PhotoURL != "" {
		merged.PhotoURL = user.PhotoURL
	}
	merged.University = user.University
	merged.Bio = user.Bio
	merged.Major = user.Major
	return merged
}
