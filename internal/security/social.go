package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/models"
)

const (
	googleUserInfoURL    = "https://www.googleapis.com/oauth2/v3/userinfo"
	githubUserInfoURL    = "https://api.github.com/user"
	microsoftUserInfoURL = "https://graph.microsoft.com/oidc/userinfo"
)

// ErrProviderProfile indicates the provider returned no usable profile.
var ErrProviderProfile = errors.New("provider profile unavailable")

// SocialProvider performs the authorization-code flow against one identity provider.
type SocialProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (dto.SocialProfile, error)
}

// SocialCredentials configures one provider.
type SocialCredentials struct {
	ClientID     string
	ClientSecret string
}

// SocialConfig lists the credentials of every supported provider.
type SocialConfig struct {
	BaseURL   string
	Google    SocialCredentials
	GitHub    SocialCredentials
	Microsoft SocialCredentials
}

// OAuthProvider is a SocialProvider backed by golang.org/x/oauth2.
type OAuthProvider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
}

// NewOAuthProvider wires an oauth2 configuration to a userinfo endpoint.
func NewOAuthProvider(name string, config *oauth2.Config, userInfoURL string) *OAuthProvider {
	return &OAuthProvider{name: name, config: config, userInfoURL: userInfoURL}
}

// NewSocialProviders builds the providers that have credentials configured.
func NewSocialProviders(cfg SocialConfig) map[string]SocialProvider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	callback := func(name string) string {
		return fmt.Sprintf("%s/api/v1/auth/social/%s/callback", base, name)
	}

	providers := make(map[string]SocialProvider)
	if cfg.Google.ClientID != "" {
		providers[models.ProviderGoogle] = NewOAuthProvider(models.ProviderGoogle, &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  callback(models.ProviderGoogle),
			Scopes:       []string{"openid", "email", "profile"},
		}, googleUserInfoURL)
	}
	if cfg.GitHub.ClientID != "" {
		providers[models.ProviderGitHub] = NewOAuthProvider(models.ProviderGitHub, &oauth2.Config{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  callback(models.ProviderGitHub),
			Scopes:       []string{"read:user", "user:email"},
		}, githubUserInfoURL)
	}
	if cfg.Microsoft.ClientID != "" {
		providers[models.ProviderMicrosoft] = NewOAuthProvider(models.ProviderMicrosoft, &oauth2.Config{
			ClientID:     cfg.Microsoft.ClientID,
			ClientSecret: cfg.Microsoft.ClientSecret,
			Endpoint:     microsoft.AzureADEndpoint("common"),
			RedirectURL:  callback(models.ProviderMicrosoft),
			Scopes:       []string{"openid", "email", "profile", "User.Read"},
		}, microsoftUserInfoURL)
	}
	return providers
}

// Name returns the provider key.
func (p *OAuthProvider) Name() string {
	return p.name
}

// AuthCodeURL returns the consent page URL.
func (p *OAuthProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the code for a token and fetches the provider profile.
func (p *OAuthProvider) Exchange(ctx context.Context, code string) (dto.SocialProfile, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return dto.SocialProfile{}, fmt.Errorf("exchange %s code: %w", p.name, err)
	}
	client := p.config.Client(ctx, token)

	body, err := p.fetch(ctx, client, p.userInfoURL)
	if err != nil {
		return dto.SocialProfile{}, err
	}

	profile, err := decodeProfile(p.name, body)
	if err != nil {
		return dto.SocialProfile{}, err
	}
	if profile.Subject == "" {
		return dto.SocialProfile{}, fmt.Errorf("%w: %s profile has no subject", ErrProviderProfile, p.name)
	}

	if p.name == models.ProviderGitHub {
		// The profile email is whatever the user chose to show; only the
		// emails endpoint says which address is verified.
		body, err := p.fetch(ctx, client, p.userInfoURL+"/emails")
		if err != nil {
			return profile, nil
		}
		if email, ok := primaryVerifiedEmail(body); ok {
			profile.Email, profile.EmailVerified = email, true
		}
	}
	return profile, nil
}

func (p *OAuthProvider) fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s profile: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrProviderProfile, p.name, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// claimBool decodes a JSON boolean claim some providers send as a string.
type claimBool bool

func (b *claimBool) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch value := raw.(type) {
	case bool:
		*b = claimBool(value)
	case string:
		*b = claimBool(strings.EqualFold(strings.TrimSpace(value), "true"))
	default:
		*b = false
	}
	return nil
}

type oidcUserInfo struct {
	Subject       string    `json:"sub"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	EmailVerified claimBool `json:"email_verified"`
	// Entra ID sets xms_edov when the tenant owns the email's domain.
	DomainVerified claimBool `json:"xms_edov"`
	Picture        string    `json:"picture"`
}

type githubUser struct {
	ID        json.Number `json:"id"`
	Login     string      `json:"login"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	AvatarURL string      `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func primaryVerifiedEmail(body []byte) (string, bool) {
	var emails []githubEmail
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", false
	}
	for _, entry := range emails {
		if entry.Primary && entry.Verified {
			return normalizeEmail(entry.Email), true
		}
	}
	return "", false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func decodeProfile(provider string, body []byte) (dto.SocialProfile, error) {
	if provider == models.ProviderGitHub {
		var user githubUser
		if err := json.Unmarshal(body, &user); err != nil {
			return dto.SocialProfile{}, fmt.Errorf("decode github profile: %w", err)
		}
		name := user.Name
		if name == "" {
			name = user.Login
		}
		return dto.SocialProfile{
			Provider:    provider,
			Subject:     user.ID.String(),
			Email:       normalizeEmail(user.Email),
			DisplayName: name,
			PhotoURL:    user.AvatarURL,
		}, nil
	}

	var info oidcUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return dto.SocialProfile{}, fmt.Errorf("decode %s profile: %w", provider, err)
	}
	verified := bool(info.EmailVerified)
	if provider == models.ProviderMicrosoft {
		verified = verified || bool(info.DomainVerified)
	}
	return dto.SocialProfile{
		Provider:      provider,
		Subject:       info.Subject,
		Email:         normalizeEmail(info.Email),
		EmailVerified: verified,
		DisplayName:   info.Name,
		PhotoURL:      info.Picture,
	}, nil
}
