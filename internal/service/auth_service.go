package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/models"
	"github.com/noah-isme/unigigs-api/internal/repository"
	"github.com/noah-isme/unigigs-api/internal/security"
)

const (
	anonymousDisplayName = "Anonymous"
	fallbackEmailDomain  = "example.com"
)

// AuthService is the session and identity provider.
type AuthService interface {
	Signup(ctx context.Context, req dto.SignupRequest) (dto.AuthResponse, error)
	Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error)
	SocialAuthURL(ctx context.Context, provider string) (string, error)
	SignInWithSocial(ctx context.Context, provider, code, state string) (dto.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (dto.AuthResponse, error)
	Logout(ctx context.Context, claims *security.Claims, refreshToken string) error
	// Authenticate verifies an access token and rejects revoked ones.
	Authenticate(ctx context.Context, accessToken string) (*security.Claims, error)
	// Session merges the stored profile over the auth identity.
	Session(ctx context.Context, identity dto.Identity) (dto.Identity, error)
	Providers() []string
}

// AuthDependencies groups the collaborators of the auth service.
type AuthDependencies struct {
	Accounts    repository.AuthAccountRepository
	Users       repository.UserRepository
	Tokens      *security.TokenManager
	Hasher      security.PasswordHasher
	Revocations security.RevocationStore
	States      security.StateStore
	Providers   map[string]security.SocialProvider
}

type authService struct {
	accounts    repository.AuthAccountRepository
	users       repository.UserRepository
	tokens      *security.TokenManager
	hasher      security.PasswordHasher
	revocations security.RevocationStore
	states      security.StateStore
	providers   map[string]security.SocialProvider
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewAuthService constructs the identity provider.
func NewAuthService(deps AuthDependencies, validate *validator.Validate, logger zerolog.Logger) AuthService {
	providers := deps.Providers
	if providers == nil {
		providers = map[string]security.SocialProvider{}
	}
	return &authService{
		accounts:    deps.Accounts,
		users:       deps.Users,
		tokens:      deps.Tokens,
		hasher:      deps.Hasher,
		revocations: deps.Revocations,
		states:      deps.States,
		providers:   providers,
		validator:   validate,
		logger:      logger.With().Str("component", "auth_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/unigigs-api/internal/service/auth"),
	}
}

// IsUniversityEmail reports whether the address belongs to a .edu domain.
func IsUniversityEmail(email string) bool {
	return strings.HasSuffix(normalizeEmail(email), ".edu")
}

// UniversityFromEmail returns the part after '@', or "External" when there is none.
func UniversityFromEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return models.UniversityExternal
	}
	return email[at+1:]
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *authService) Signup(ctx context.Context, req dto.SignupRequest) (dto.AuthResponse, error) {
	req.Email = normalizeEmail(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)

	if !IsUniversityEmail(req.Email) {
		return dto.AuthResponse{}, ErrNonUniversityEmail
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.AuthResponse{}, validationError(err)
	}

	ctx, span := s.tracer.Start(ctx, "auth.signup")
	defer span.End()

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return dto.AuthResponse{}, fmt.Errorf("hash password: %w", err)
	}

	uid := uuid.NewString()
	user := models.User{
		ID:          uid,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		University:  UniversityFromEmail(req.Email),
	}
	account := models.AuthAccount{
		UserID:       uid,
		Provider:     models.ProviderPassword,
		Subject:      req.Email,
		Email:        req.Email,
		PasswordHash: hash,
		DisplayName:  req.DisplayName,
	}

	if err := s.accounts.CreateWithUser(ctx, &account, &user); err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dto.AuthResponse{}, ErrEmailInUse
		}
		return dto.AuthResponse{}, writeError("create account", err)
	}

	s.logger.Info().Str("user_id", uid).Str("university", user.University).Msg("account created")
	return s.respond(dto.MergeProfile(dto.AuthIdentity(account), &user), true)
}

func (s *authService) Login(ctx context.Context, req dto.LoginRequest) (dto.AuthResponse, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return dto.AuthResponse{}, validationError(err)
	}

	account, err := s.accounts.FindByProviderSubject(ctx, models.ProviderPassword, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Debug().Str("email", maskEmail(req.Email)).Msg("sign-in rejected: unknown account")
			return dto.AuthResponse{}, ErrInvalidCredentials
		}
		return dto.AuthResponse{}, fmt.Errorf("load account: %w", err)
	}
	if !s.hasher.Compare(account.PasswordHash, req.Password) {
		s.logger.Debug().Str("email", maskEmail(req.Email)).Msg("sign-in rejected: wrong password")
		return dto.AuthResponse{}, ErrInvalidCredentials
	}

	identity, err := s.Session(ctx, dto.AuthIdentity(account))
	if err != nil {
		return dto.AuthResponse{}, err
	}
	return s.respond(identity, false)
}

func (s *authService) SocialAuthURL(ctx context.Context, provider string) (string, error) {
	p, ok := s.providers[strings.ToLower(provider)]
	if !ok {
		return "", ErrUnknownProvider
	}
	state, err := s.states.Issue(ctx, p.Name())
	if err != nil {
		return "", err
	}
	return p.AuthCodeURL(state), nil
}

func (s *authService) SignInWithSocial(ctx context.Context, provider, code, state string) (dto.AuthResponse, error) {
	p, ok := s.providers[strings.ToLower(provider)]
	if !ok {
		return dto.AuthResponse{}, ErrUnknownProvider
	}

	ctx, span := s.tracer.Start(ctx, "auth.social", trace.WithAttributes(attribute.String("auth.provider", p.Name())))
	defer span.End()

	if err := s.states.Consume(ctx, p.Name(), state); err != nil {
		if errors.Is(err, security.ErrInvalidState) {
			return dto.AuthResponse{}, ErrInvalidOAuthState
		}
		return dto.AuthResponse{}, err
	}
	if strings.TrimSpace(code) == "" {
		return dto.AuthResponse{}, fmt.Errorf("%w: authorization code missing", ErrAuth)
	}

	profile, err := p.Exchange(ctx, code)
	if err != nil {
		span.RecordError(err)
		s.logger.Warn().Err(err).Str("provider", p.Name()).Msg("social exchange failed")
		return dto.AuthResponse{}, fmt.Errorf("%w: %s sign-in failed", ErrAuth, p.Name())
	}
	if profile.Email != "" && !profile.EmailVerified {
		// An unverified address neither links accounts nor grants a university.
		s.logger.Info().Str("provider", p.Name()).Msg("ignoring unverified provider email")
		profile.Email = ""
	}

	account, err := s.findOrCreateSocialAccount(ctx, profile)
	if err != nil {
		return dto.AuthResponse{}, err
	}

	user := socialUser(account.UserID, profile)
	created, err := s.accounts.EnsureUser(ctx, &user)
	if err != nil {
		return dto.AuthResponse{}, writeError("create profile", err)
	}
	if created {
		s.logger.Info().Str("user_id", user.ID).Str("provider", p.Name()).Msg("profile created on first social sign-in")
	}

	return s.respond(dto.MergeProfile(dto.AuthIdentity(account), &user), created)
}

func (s *authService) findOrCreateSocialAccount(ctx context.Context, profile dto.SocialProfile) (models.AuthAccount, error) {
	account, err := s.accounts.FindByProviderSubject(ctx, profile.Provider, profile.Subject)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AuthAccount{}, fmt.Errorf("load account: %w", err)
	}

	uid := uuid.NewString()
	if profile.Email != "" && profile.EmailVerified {
		// Link to the existing profile that owns this verified email.
		if existing, err := s.users.FindByEmail(ctx, profile.Email); err == nil {
			uid = existing.ID
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return models.AuthAccount{}, fmt.Errorf("load user: %w", err)
		}
	}

	account = models.AuthAccount{
		UserID:      uid,
		Provider:    profile.Provider,
		Subject:     profile.Subject,
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		PhotoURL:    profile.PhotoURL,
	}
	if err := s.accounts.CreateWithUser(ctx, &account, nil); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return s.accounts.FindByProviderSubject(ctx, profile.Provider, profile.Subject)
		}
		return models.AuthAccount{}, writeError("create account", err)
	}
	return account, nil
}

func socialUser(uid string, profile dto.SocialProfile) models.User {
	email := profile.Email
	if email == "" {
		email = fmt.Sprintf("no-email-%s@%s", uid, fallbackEmailDomain)
	}
	name := strings.TrimSpace(profile.DisplayName)
	if name == "" {
		name = anonymousDisplayName
	}
	return models.User{
		ID:          uid,
		Email:       email,
		DisplayName: name,
		University:  UniversityFromEmail(email),
		PhotoURL:    profile.PhotoURL,
	}
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (dto.AuthResponse, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return dto.AuthResponse{}, ErrSessionInvalid
	}
	if err := s.ensureNotRevoked(ctx, claims); err != nil {
		return dto.AuthResponse{}, err
	}

	// Rotate: the presented refresh token cannot be used again.
	if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAtTime()); err != nil {
		s.logger.Warn().Err(err).Msg("failed to revoke rotated refresh token")
	}

	identity, err := s.Session(ctx, claims.Identity())
	if err != nil {
		return dto.AuthResponse{}, err
	}
	return s.respond(identity, false)
}

func (s *authService) Logout(ctx context.Context, claims *security.Claims, refreshToken string) error {
	if claims == nil {
		return ErrSessionInvalid
	}
	if err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAtTime()); err != nil {
		return writeError("revoke access token", err)
	}
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	refresh, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil || refresh.UID() != claims.UID() {
		// Nothing to revoke; the access token is already gone.
		return nil
	}
	if err := s.revocations.Revoke(ctx, refresh.ID, refresh.ExpiresAtTime()); err != nil {
		return writeError("revoke refresh token", err)
	}
	return nil
}

func (s *authService) Authenticate(ctx context.Context, accessToken string) (*security.Claims, error) {
	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	if err := s.ensureNotRevoked(ctx, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *authService) Session(ctx context.Context, identity dto.Identity) (dto.Identity, error) {
	user, err := s.users.FindByID(ctx, identity.UID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return identity, nil
		}
		return dto.Identity{}, fmt.Errorf("load profile: %w", err)
	}
	return dto.MergeProfile(identity, &user), nil
}

func (s *authService) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *authService) ensureNotRevoked(ctx context.Context, claims *security.Claims) error {
	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return ErrSessionInvalid
	}
	return nil
}

func (s *authService) respond(identity dto.Identity, created bool) (dto.AuthResponse, error) {
	tokens, err := s.tokens.Issue(identity)
	if err != nil {
		return dto.AuthResponse{}, fmt.Errorf("issue tokens: %w", err)
	}
	return dto.AuthResponse{Tokens: tokens, Session: identity, Created: created}, nil
}
