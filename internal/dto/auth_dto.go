package dto

import "time"

// SignupRequest creates a password account for a university student.
type SignupRequest struct {
	Email       string `json:"email" form:"email" validate:"required,email,max=255"`
	Password    string `json:"password" form:"password" validate:"required,min=6,max=128"`
	DisplayName string `json:"display_name" form:"display_name" validate:"required,min=1,max=80"`
}

// LoginRequest authenticates a password account.
type LoginRequest struct {
	Email    string `json:"email" form:"email" validate:"required,email,max=255"`
	Password string `json:"password" form:"password" validate:"required,max=128"`
}

// RefreshRequest exchanges a refresh token for a new token pair.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest optionally carries the refresh token so it can be revoked too.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SocialProfile is the normalised profile returned by an OAuth provider.
type SocialProfile struct {
	Provider string
	Subject  string
	Email    string
	// EmailVerified is true only when the provider vouches for Email.
	EmailVerified bool
	DisplayName   string
	PhotoURL      string
}

// TokenPair carries freshly issued credentials.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// AuthResponse is returned by every sign-in flow.
type AuthResponse struct {
	Tokens  TokenPair `json:"tokens"`
	Session Identity  `json:"session"`
	Created bool      `json:"created"`
}

// SocialRedirectResponse exposes the provider consent URL for API clients that
// prefer not to follow redirects.
type SocialRedirectResponse struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}
