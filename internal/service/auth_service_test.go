package service

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/models"
	"github.com/noah-isme/unigigs-api/internal/security"
)

type stubProvider struct {
	name    string
	profile dto.SocialProfile
	err     error
	calls   int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) AuthCodeURL(state string) string {
	return "https://provider.test/authorize?state=" + url.QueryEscape(state)
}

func (p *stubProvider) Exchange(ctx context.Context, code string) (dto.SocialProfile, error) {
	p.calls++
	return p.profile, p.err
}

func newAuthService(t *testing.T, f *fixture, providers ...*stubProvider) (AuthService, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	social := map[string]security.SocialProvider{}
	for _, p := range providers {
		social[p.name] = p
	}

	svc := NewAuthService(AuthDependencies{
		Accounts:    f.accounts,
		Users:       f.users,
		Tokens:      security.NewTokenManager("access", "refresh", time.Hour, 24*time.Hour, "unigigs-test"),
		Hasher:      security.NewBcryptHasher(bcrypt.MinCost),
		Revocations: security.NewRedisRevocationStore(client, "test"),
		States:      security.NewRedisStateStore(client, "test"),
		Providers:   social,
	}, testValidator(), testLogger())
	return svc, mr
}

func stateFrom(t *testing.T, consentURL string) string {
	t.Helper()
	parsed, err := url.Parse(consentURL)
	require.NoError(t, err)
	return parsed.Query().Get("state")
}

func TestUniversityFromEmail(t *testing.T) {
	require.Equal(t, "mit.edu", UniversityFromEmail("ada@mit.edu"))
	require.Equal(t, models.UniversityExternal, UniversityFromEmail("no-at-sign"))
	require.Equal(t, models.UniversityExternal, UniversityFromEmail("trailing@"))
	require.True(t, IsUniversityEmail(" Ada@MIT.EDU "))
	require.False(t, IsUniversityEmail("ada@gmail.com"))
}

func TestSignupRejectsNonUniversityEmailBeforeStore(t *testing.T) {
	f := newFixture(t)
	svc, _ := newAuthService(t, f)

	_, err := svc.Signup(context.Background(), dto.SignupRequest{Email: "ada@gmail.com", Password: "secret1", DisplayName: "Ada"})
	require.ErrorIs(t, err, ErrNonUniversityEmail)
	require.ErrorIs(t, err, ErrValidation)

	var users, accounts int64
	require.NoError(t, f.db.Model(&models.User{}).Count(&users).Error)
	require.NoError(t, f.db.Model(&models.AuthAccount{}).Count(&accounts).Error)
	require.Zero(t, users)
	require.Zero(t, accounts)
}

func TestSignupCreatesExactlyOneProfile(t *testing.T) {
	f := newFixture(t)
	svc, _ := newAuthService(t, f)
	ctx := context.Background()

	resp, err := svc.Signup(ctx, dto.SignupRequest{Email: " Ada@Stanford.EDU ", Password: "secret1", DisplayName: "Ada"})
	require.NoError(t, err)
	require.True(t, resp.Created)
	require.Equal(t, "ada@stanford.edu", resp.Session.Email)
	require.Equal(t, "stanford.edu", resp.Session.University)
	require.True(t, resp.Session.HasProfile)
	require.NotEmpty(t, resp.Tokens.AccessToken)

	user, err := f.users.FindByID(ctx, resp.Session.UID)
	require.NoError(t, err)
	require.Equal(t, "stanford.edu", user.University)
	require.True(t, user.PublicProfile)

	_, err = svc.Signup(ctx, dto.SignupRequest{Email: "ada@stanford.edu", Password: "another1", DisplayName: "Other"})
	require.ErrorIs(t, err, ErrEmailInUse)
	require.ErrorIs(t, err, ErrAuth)
	require.ErrorIs(t, err, ErrConflict)

	var users int64
	require.NoError(t, f.db.Model(&models.User{}).Count(&users).Error)
	require.Equal(t, int64(1), users)
}

func TestSignupValidatesPassword(t *testing.T) {
	f := newFixture(t)
	svc, _ := newAuthService(t, f)

	_, err := svc.Signup(context.Background(), dto.SignupRequest{Email: "ada@mit.edu", Password: "123", DisplayName: "Ada"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	svc, _ := newAuthService(t, f)
	ctx := context.Background()

	created, err := svc.Signup(ctx, dto.SignupRequest{Email: "ada@mit.edu", Password: "secret1", DisplayName: "Ada"})
	require.NoError(t, err)

	resp, err := svc.Login(ctx, dto.LoginRequest{Email: "ADA@mit.edu", Password: "secret1"})
	require.NoError(t, err)
	require.False(t, resp.Created)
	require.Equal(t, created.Session.UID, resp.Session.UID)
	require.Equal(t, "mit.edu", resp.Session.University)

	_, err = svc.Login(ctx, dto.LoginRequest{Email: "ada@mit.edu", Password: "wrong-password"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, dto.LoginRequest{Email: "nobody@mit.edu", Password: "secret1"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSocialSignInCreatesProfileOnce(t *testing.T) {
	f := newFixture(t)
	github := &stubProvider{name: models.ProviderGitHub, profile: dto.SocialProfile{
		Provider: models.ProviderGitHub,
		Subject:  "42",
		PhotoURL: "https://avatars.test/42.png",
	}}
	svc, _ := newAuthService(t, f, github)
	ctx := context.Background()

	consent, err := svc.SocialAuthURL(ctx, "GitHub")
	require.NoError(t, err)
	state := stateFrom(t, consent)
	require.NotEmpty(t, state)

	first, err := svc.SignInWithSocial(ctx, "github", "code", state)
	require.NoError(t, err)
	require.True(t, first.Created)
	require.Equal(t, "Anonymous", first.Session.DisplayName)
	require.Equal(t, "no-email-"+first.Session.UID+"@example.com", first.Session.Email)
	require.Equal(t, "example.com", first.Session.University)
	require.Equal(t, "https://avatars.test/42.png", first.Session.PhotoURL)

	_, err = svc.SignInWithSocial(ctx, "github", "code", state)
	require.ErrorIs(t, err, ErrInvalidOAuthState, "state is single use")

	consent, err = svc.SocialAuthURL(ctx, "github")
	require.NoError(t, err)
	second, err := svc.SignInWithSocial(ctx, "github", "code", stateFrom(t, consent))
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.Session.UID, second.Session.UID)

	var users int64
	require.NoError(t, f.db.Model(&models.User{}).Count(&users).Error)
	require.Equal(t, int64(1), users)
}

func TestSocialSignInLinksExistingEmail(t *testing.T) {
	f := newFixture(t)
	google := &stubProvider{name: models.ProviderGoogle, profile: dto.SocialProfile{
		Provider:      models.ProviderGoogle,
		Subject:       "g-1",
		Email:         "ada@mit.edu",
		EmailVerified: true,
		DisplayName:   "Ada L.",
	}}
	svc, _ := newAuthService(t, f, google)
	ctx := context.Background()

	signup, err := svc.Signup(ctx, dto.SignupRequest{Email: "ada@mit.edu", Password: "secret1", DisplayName: "Ada"})
	require.NoError(t, err)

	consent, err := svc.SocialAuthURL(ctx, "google")
	require.NoError(t, err)
	resp, err := svc.SignInWithSocial(ctx, "google", "code", stateFrom(t, consent))
	require.NoError(t, err)
	require.False(t, resp.Created)
	require.Equal(t, signup.Session.UID, resp.Session.UID)
	require.Equal(t, "Ada", resp.Session.DisplayName, "profile fields win over the provider identity")
}

func TestSocialSignInIgnoresUnverifiedEmail(t *testing.T) {
	f := newFixture(t)
	tenant := &stubProvider{name: models.ProviderMicrosoft, profile: dto.SocialProfile{
		Provider:    models.ProviderMicrosoft,
		Subject:     "other-tenant-oid",
		Email:       "ada@mit.edu",
		DisplayName: "Not Ada",
	}}
	svc, _ := newAuthService(t, f, tenant)
	ctx := context.Background()

	victim, err := svc.Signup(ctx, dto.SignupRequest{Email: "ada@mit.edu", Password: "secret1", DisplayName: "Ada"})
	require.NoError(t, err)

	consent, err := svc.SocialAuthURL(ctx, "microsoft")
	require.NoError(t, err)
	resp, err := svc.SignInWithSocial(ctx, "microsoft", "code", stateFrom(t, consent))
	require.NoError(t, err)
	require.True(t, resp.Created)
	require.NotEqual(t, victim.Session.UID, resp.Session.UID)
	require.Equal(t, "no-email-"+resp.Session.UID+"@example.com", resp.Session.Email)
	require.NotEqual(t, "mit.edu", resp.Session.University)

	var account models.AuthAccount
	require.NoError(t, f.db.Where("provider = ? AND subject = ?", models.ProviderMicrosoft, "other-tenant-oid").First(&account).Error)
	require.Empty(t, account.Email)

	var owner models.User
	require.NoError(t, f.db.Where("email = ?", "ada@mit.edu").First(&owner).Error)
	require.Equal(t, victim.Session.UID, owner.ID)
	require.Equal(t, "Ada", owner.DisplayName)
}

func TestSocialSignInErrors(t *testing.T) {
	f := newFixture(t)
	broken := &stubProvider{name: models.ProviderMicrosoft, err: errors.New("boom")}
	svc, _ := newAuthService(t, f, broken)
	ctx := context.Background()

	_, err := svc.SocialAuthURL(ctx, "myspace")
	require.ErrorIs(t, err, ErrUnknownProvider)

	_, err = svc.SignInWithSocial(ctx, "microsoft", "code", "forged")
	require.ErrorIs(t, err, ErrInvalidOAuthState)
	require.Zero(t, broken.calls)

	consent, err := svc.SocialAuthURL(ctx, "microsoft")
	require.NoError(t, err)
	_, err = svc.SignInWithSocial(ctx, "microsoft", "code", stateFrom(t, consent))
	require.ErrorIs(t, err, ErrAuth)
	require.Equal(t, []string{models.ProviderMicrosoft}, svc.Providers())
}

func TestRefreshRotatesAndLogoutRevokes(t *testing.T) {
	f := newFixture(t)
	svc, _ := newAuthService(t, f)
	ctx := context.Background()

	signup, err := svc.Signup(ctx, dto.SignupRequest{Email: "ada@mit.edu", Password: "secret1", DisplayName: "Ada"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, signup.Tokens.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "mit.edu", refreshed.Session.University)

	_, err = svc.Refresh(ctx, signup.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionInvalid, "rotated refresh token cannot be reused")

	claims, err := svc.Authenticate(ctx, refreshed.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, signup.Session.UID, claims.UID())

	require.NoError(t, svc.Logout(ctx, claims, refreshed.Tokens.RefreshToken))

	_, err = svc.Authenticate(ctx, refreshed.Tokens.AccessToken)
	require.ErrorIs(t, err, ErrSessionInvalid)
	_, err = svc.Refresh(ctx, refreshed.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionInvalid)

	_, err = svc.Authenticate(ctx, "not-a-token")
	require.ErrorIs(t, err, ErrAuth)
}

func TestSessionMergesProfile(t *testing.T) {
	f := newFixture(t)
	svc, _ := newAuthService(t, f)
	ctx := context.Background()

	raw := dto.Identity{UID: "missing", Email: "x@mit.edu", DisplayName: "X"}
	session, err := svc.Session(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, raw, session, "no profile leaves the auth identity untouched")

	actor := f.student(t, "grace@mit.edu")
	_, err = f.users.Update(ctx, actor.UID, map[string]interface{}{"display_name": "Grace H.", "bio": "compilers"})
	require.NoError(t, err)

	session, err = svc.Session(ctx, dto.Identity{UID: actor.UID, Email: "grace@mit.edu", DisplayName: "grace"})
	require.NoError(t, err)
	require.Equal(t, "Grace H.", session.DisplayName)
	require.Equal(t, "compilers", session.Bio)
	require.Equal(t, "mit.edu", session.University)
	require.True(t, session.HasProfile)
}

func TestMaskEmail(t *testing.T) {
	require.Equal(t, "a***a@mit.edu", maskEmail(" Ada@MIT.edu "))
	require.Equal(t, "j***@mit.edu", maskEmail("jo@mit.edu"))
	require.Equal(t, "***", maskEmail("not-an-address"))
	require.Equal(t, "***", maskEmail("@mit.edu"))
	require.Empty(t, maskEmail(""))
}
