package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/unigigs-api/internal/dto"
)

// Token kinds carried in the "typ" claim.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

var (
	// ErrInvalidToken indicates the token failed signature, expiry or kind checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked indicates the token was explicitly logged out.
	ErrTokenRevoked = errors.New("token revoked")
)

// Claims is the JWT payload issued to authenticated users.
type Claims struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Photo    string `json:"picture,omitempty"`
	Provider string `json:"provider"`
	Kind     string `json:"typ"`
	jwt.RegisteredClaims
}

// UID returns the user identifier stored in the subject claim.
func (c Claims) UID() string {
	return c.Subject
}

// Identity converts the claims into the raw auth identity.
func (c Claims) Identity() dto.Identity {
	return dto.Identity{
		UID:         c.Subject,
		Email:       c.Email,
		DisplayName: c.Name,
		PhotoURL:    c.Photo,
		Provider:    c.Provider,
	}
}

// ExpiresAtTime returns the expiry or the zero time when absent.
func (c Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// TokenManager signs and verifies access and refresh tokens.
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

// NewTokenManager constructs a manager using HMAC-SHA256 secrets.
func NewTokenManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, issuer string) *TokenManager {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		issuer:        issuer,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a fresh access/refresh pair for the identity.
func (m *TokenManager) Issue(identity dto.Identity) (dto.TokenPair, error) {
	if strings.TrimSpace(identity.UID) == "" {
		return dto.TokenPair{}, fmt.Errorf("cannot issue token without subject")
	}

	now := m.now()
	accessExpiry := now.Add(m.accessTTL)
	refreshExpiry := now.Add(m.refreshTTL)

	access, err := m.sign(identity, TokenKindAccess, now, accessExpiry, m.accessSecret)
	if err != nil {
		return dto.TokenPair{}, err
	}
	refresh, err := m.sign(identity, TokenKindRefresh, now, refreshExpiry, m.refreshSecret)
	if err != nil {
		return dto.TokenPair{}, err
	}

	return dto.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

// ParseAccess verifies an access token.
func (m *TokenManager) ParseAccess(token string) (*Claims, error) {
	return m.parse(token, TokenKindAccess, m.accessSecret)
}

// ParseRefresh verifies a refresh token.
func (m *TokenManager) ParseRefresh(token string) (*Claims, error) {
	return m.parse(token, TokenKindRefresh, m.refreshSecret)
}

func (m *TokenManager) sign(identity dto.Identity, kind string, issuedAt, expiresAt time.Time, secret []byte) (string, error) {
	claims := Claims{
		Email:    identity.Email,
		Name:     identity.DisplayName,
		Photo:    identity.PhotoURL,
		Provider: identity.Provider,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UID,
			Issuer:    m.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

func (m *TokenManager) parse(token, kind string, secret []byte) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Kind != kind || claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
