package router_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/unigigs-api/internal/config"
	"github.com/noah-isme/unigigs-api/internal/database"
	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/handler"
	"github.com/noah-isme/unigigs-api/internal/repository"
	"github.com/noah-isme/unigigs-api/internal/router"
	"github.com/noah-isme/unigigs-api/internal/security"
	"github.com/noah-isme/unigigs-api/internal/service"
)

const envelopeSchema = `{
  "type": "object",
  "required": ["success", "message"],
  "properties": {
    "success": {"type": "boolean"},
    "message": {"type": "string"},
    "data": {},
    "meta": {
      "type": "object",
      "required": ["limit", "offset", "count"],
      "properties": {
        "limit": {"type": "integer"},
        "offset": {"type": "integer"},
        "count": {"type": "integer", "minimum": 0}
      }
    },
    "details": {"type": "object"}
  },
  "additionalProperties": false
}`

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testAPI struct {
	app    *fiber.App
	worker *service.OutboxWorker
	schema *jsonschema.Schema
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	logger := zerolog.Nop()
	validate := validator.New(validator.WithRequiredStructEnabled())

	db, err := database.ConnectSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	users := repository.NewUserRepository(db)
	accounts := repository.NewAuthAccountRepository(db)
	gigRepo := repository.NewGigRepository(db)
	applicationRepo := repository.NewApplicationRepository(db)
	communityRepo := repository.NewCommunityRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	subscriptionRepo := repository.NewPushSubscriptionRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	auth := service.NewAuthService(service.AuthDependencies{
		Accounts:    accounts,
		Users:       users,
		Tokens:      security.NewTokenManager("access", "refresh", time.Hour, 24*time.Hour, "unigigs-test"),
		Hasher:      security.NewBcryptHasher(bcrypt.MinCost),
		Revocations: security.NewRedisRevocationStore(client, "test"),
		States:      security.NewRedisStateStore(client, "test"),
	}, validate, logger)

	notifications := service.NewNotificationService(notificationRepo, outboxRepo, nil, 100, validate, logger)
	gigs := service.NewGigService(gigRepo, applicationRepo, notifications, validate, logger)
	applications := service.NewApplicationService(applicationRepo, gigRepo, notifications, validate, logger)
	communities := service.NewCommunityService(communityRepo, true, validate, logger)
	chat := service.NewChatService(messageRepo, communities, nil, 200, validate, logger)
	push := service.NewPushService(subscriptionRepo, "vapid-public", validate, logger)
	profiles := service.NewProfileService(service.ProfileDependencies{
		Users:        users,
		Accounts:     accounts,
		Gigs:         gigs,
		Applications: applications,
	}, validate, logger)
	t.Cleanup(chat.Feed().Close)
	t.Cleanup(notifications.Feed().Close)

	worker := service.NewOutboxWorker(service.OutboxDependencies{
		Outbox:        outboxRepo,
		Notifications: notificationRepo,
		Users:         users,
		Subscriptions: subscriptionRepo,
		Feed:          notifications.Feed(),
	}, service.OutboxConfig{}, logger)

	cfg := config.Config{AppName: "UniGigs API", AppEnv: "test"}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	router.Register(app, cfg, router.Dependencies{
		AuthHandler:         handler.NewAuthHandler(auth, validate, logger),
		ProfileHandler:      handler.NewProfileHandler(profiles, gigs, push, logger),
		GigHandler:          handler.NewGigHandler(gigs, applications, logger),
		CommunityHandler:    handler.NewCommunityHandler(communities, chat, logger),
		NotificationHandler: handler.NewNotificationHandler(notifications, logger, 200*time.Millisecond),
		PushService:         push,
		Authenticator:       auth,
		SessionResolver:     auth,
		HealthChecks: map[string]handler.DependencyCheck{
			"database": func(ctx context.Context) error { return sqlDB.PingContext(ctx) },
			"redis":    func(ctx context.Context) error { return client.Ping(ctx).Err() },
		},
		OutboxBacklog: outboxRepo.CountByStatus,
	})

	compiler := jsonschema.NewCompiler()
	require.NoError(t, compiler.AddResource("envelope.json", strings.NewReader(envelopeSchema)))
	schema, err := compiler.Compile("envelope.json")
	require.NoError(t, err)

	return &testAPI{app: app, worker: worker, schema: schema}
}

// call performs a request and checks the body against the envelope schema.
func (a *testAPI) call(t *testing.T, method, target, token string, payload any) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var document any
	require.NoError(t, json.Unmarshal(raw, &document), string(raw))
	require.NoError(t, a.schema.Validate(document), string(raw))

	var body envelope
	require.NoError(t, json.Unmarshal(raw, &body))
	return resp.StatusCode, body
}

func (a *testAPI) signup(t *testing.T, email, name string) dto.AuthResponse {
	t.Helper()
	status, body := a.call(t, http.MethodPost, "/api/v1/auth/signup", "", dto.SignupRequest{
		Email:       email,
		Password:    "secret123",
		DisplayName: name,
	})
	require.Equal(t, fiber.StatusCreated, status, body.Message)

	var resp dto.AuthResponse
	require.NoError(t, json.Unmarshal(body.Data, &resp))
	require.NotEmpty(t, resp.Tokens.AccessToken)
	return resp
}

func decode[T any](t *testing.T, body envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(body.Data, &out))
	return out
}

func startServer(t *testing.T, app *fiber.App) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = app.Listener(listener)
	}()
	time.Sleep(50 * time.Millisecond)

	t.Cleanup(func() {
		_ = app.ShutdownWithTimeout(2 * time.Second)
		_ = listener.Close()
	})
	return listener.Addr().String()
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.call(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.True(t, body.Success)

	health := decode[handler.HealthResponse](t, body)
	require.Equal(t, "ok", health.Status)
	require.Equal(t, "UniGigs API", health.Service)
	require.Equal(t, map[string]string{"database": "ok", "redis": "ok"}, health.Dependencies)

	status, body = api.call(t, http.MethodGet, "/api/v1/push/vapid-public-key", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.JSONEq(t, `{"public_key":"vapid-public"}`, string(body.Data))

	resp, err := api.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	scraped, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(scraped), "go_goroutines")
}

func TestAuthFlow(t *testing.T) {
	api := newTestAPI(t)

	created := api.signup(t, "Ada@MIT.edu", "Ada")
	require.True(t, created.Created)
	require.Equal(t, "ada@mit.edu", created.Session.Email)
	require.Equal(t, "mit.edu", created.Session.University)

	status, body := api.call(t, http.MethodPost, "/api/v1/auth/signup", "", dto.SignupRequest{
		Email: "ada@mit.edu", Password: "secret123", DisplayName: "Ada again",
	})
	require.Equal(t, fiber.StatusConflict, status)
	require.False(t, body.Success)

	status, _ = api.call(t, http.MethodPost, "/api/v1/auth/signup", "", dto.SignupRequest{
		Email: "grace@gmail.com", Password: "secret123", DisplayName: "Grace",
	})
	require.Equal(t, fiber.StatusBadRequest, status)

	status, _ = api.call(t, http.MethodPost, "/api/v1/auth/login", "", dto.LoginRequest{Email: "ada@mit.edu", Password: "wrong-password"})
	require.Equal(t, fiber.StatusUnauthorized, status)

	status, body = api.call(t, http.MethodPost, "/api/v1/auth/login", "", dto.LoginRequest{Email: "ada@mit.edu", Password: "secret123"})
	require.Equal(t, fiber.StatusOK, status)
	login := decode[dto.AuthResponse](t, body)
	require.False(t, login.Created)

	status, body = api.call(t, http.MethodGet, "/api/v1/auth/session", login.Tokens.AccessToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	session := decode[dto.Identity](t, body)
	require.Equal(t, created.Session.UID, session.UID)
	require.Equal(t, "Ada", session.DisplayName)
	require.True(t, session.HasProfile)

	status, _ = api.call(t, http.MethodGet, "/api/v1/auth/session", "", nil)
	require.Equal(t, fiber.StatusUnauthorized, status)

	status, body = api.call(t, http.MethodPost, "/api/v1/auth/refresh", "", dto.RefreshRequest{RefreshToken: login.Tokens.RefreshToken})
	require.Equal(t, fiber.StatusOK, status)
	refreshed := decode[dto.AuthResponse](t, body)

	status, _ = api.call(t, http.MethodPost, "/api/v1/auth/logout", refreshed.Tokens.AccessToken, dto.LogoutRequest{RefreshToken: refreshed.Tokens.RefreshToken})
	require.Equal(t, fiber.StatusOK, status)

	status, _ = api.call(t, http.MethodGet, "/api/v1/auth/session", refreshed.Tokens.AccessToken, nil)
	require.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = api.call(t, http.MethodPost, "/api/v1/auth/refresh", "", dto.RefreshRequest{RefreshToken: refreshed.Tokens.RefreshToken})
	require.Equal(t, fiber.StatusUnauthorized, status)
}

func TestSocialSignInWithoutProviders(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.call(t, http.MethodGet, "/api/v1/auth/providers", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.JSONEq(t, `[]`, string(body.Data))

	status, body = api.call(t, http.MethodGet, "/api/v1/auth/social/github?redirect=false", "", nil)
	require.Equal(t, fiber.StatusBadRequest, status)
	require.False(t, body.Success)

	status, _ = api.call(t, http.MethodGet, "/api/v1/auth/social/github/callback?error=access_denied", "", nil)
	require.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = api.call(t, http.MethodGet, "/api/v1/auth/social/github/callback", "", nil)
	require.Equal(t, fiber.StatusBadRequest, status)
}

func TestGigMarketplaceFlow(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	poster := api.signup(t, "poster@mit.edu", "Poster")
	student := api.signup(t, "student@mit.edu", "Student")
	posterToken := poster.Tokens.AccessToken
	studentToken := student.Tokens.AccessToken

	status, _ := api.call(t, http.MethodGet, "/api/v1/gigs", "", nil)
	require.Equal(t, fiber.StatusUnauthorized, status)

	status, body := api.call(t, http.MethodPost, "/api/v1/gigs", posterToken, map[string]any{
		"title": "Tutor calculus", "description": "Two sessions a week", "payment": "25.50",
	})
	require.Equal(t, fiber.StatusCreated, status, body.Message)
	gig := decode[dto.GigResponse](t, body)
	require.Equal(t, 25.5, gig.Payment)
	require.Equal(t, "mit.edu", gig.University)

	status, body = api.call(t, http.MethodPost, "/api/v1/gigs", posterToken, map[string]any{
		"title": "Bad pay", "description": "nope", "payment": "free",
	})
	require.Equal(t, fiber.StatusBadRequest, status)
	require.False(t, body.Success)

	status, body = api.call(t, http.MethodGet, "/api/v1/gigs?limit=10", studentToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	listed := decode[[]dto.GigResponse](t, body)
	require.Len(t, listed, 1)

	status, _ = api.call(t, http.MethodPost, "/api/v1/gigs/"+gig.ID+"/applications", posterToken, nil)
	require.Equal(t, fiber.StatusForbidden, status)

	status, body = api.call(t, http.MethodPost, "/api/v1/gigs/"+gig.ID+"/applications", studentToken, nil)
	require.Equal(t, fiber.StatusCreated, status, body.Message)
	application := decode[dto.ApplicationResponse](t, body)
	require.Equal(t, "pending", application.Status)

	status, _ = api.call(t, http.MethodPost, "/api/v1/gigs/"+gig.ID+"/applications", studentToken, nil)
	require.Equal(t, fiber.StatusConflict, status)

	status, _ = api.call(t, http.MethodGet, "/api/v1/gigs/"+gig.ID+"/applications", studentToken, nil)
	require.Equal(t, fiber.StatusForbidden, status)

	status, body = api.call(t, http.MethodGet, "/api/v1/gigs/"+gig.ID+"/applications", posterToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Len(t, decode[[]dto.ApplicationResponse](t, body), 1)

	status, _ = api.call(t, http.MethodPatch, "/api/v1/applications/"+application.ID+"/status", posterToken, dto.ApplicationDecisionRequest{Status: "maybe"})
	require.Equal(t, fiber.StatusBadRequest, status)

	status, body = api.call(t, http.MethodPatch, "/api/v1/applications/"+application.ID+"/status", posterToken, dto.ApplicationDecisionRequest{Status: "accepted"})
	require.Equal(t, fiber.StatusOK, status, body.Message)
	require.Equal(t, "accepted", decode[dto.ApplicationResponse](t, body).Status)

	status, body = api.call(t, http.MethodGet, "/api/v1/gigs/"+gig.ID, studentToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	detail := decode[dto.GigDetailResponse](t, body)
	require.True(t, detail.HasApplied)
	require.Equal(t, "closed", detail.Gig.Status)

	status, body = api.call(t, http.MethodGet, "/api/v1/applications/mine", studentToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	mine := decode[[]dto.ApplicationResponse](t, body)
	require.Len(t, mine, 1)
	require.Equal(t, "Tutor calculus", mine[0].GigTitle)

	status, _ = api.call(t, http.MethodGet, "/api/v1/gigs/"+uuid.NewString(), studentToken, nil)
	require.Equal(t, fiber.StatusNotFound, status)

	_, err := api.worker.ProcessOnce(ctx)
	require.NoError(t, err)

	status, body = api.call(t, http.MethodGet, "/api/v1/notifications?limit=10", studentToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	inbox := decode[[]dto.NotificationResponse](t, body)
	require.Len(t, inbox, 1)
	require.False(t, inbox[0].Read)

	status, body = api.call(t, http.MethodPatch, "/api/v1/notifications/"+inbox[0].ID+"/read", studentToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.True(t, decode[dto.NotificationResponse](t, body).Read)

	status, _ = api.call(t, http.MethodPatch, "/api/v1/notifications/"+inbox[0].ID+"/read", posterToken, nil)
	require.Equal(t, fiber.StatusNotFound, status)

	status, body = api.call(t, http.MethodPost, "/api/v1/notifications/read-all", posterToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.JSONEq(t, `{"updated":1}`, string(body.Data))
}

func TestCommunityMessagesOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	member := api.signup(t, "ada@mit.edu", "Ada")
	token := member.Tokens.AccessToken

	status, body := api.call(t, http.MethodGet, "/api/v1/communities", token, nil)
	require.Equal(t, fiber.StatusOK, status)
	communities := decode[[]dto.CommunityResponse](t, body)
	require.Len(t, communities, 2)
	communityID := communities[0].ID

	status, body = api.call(t, http.MethodPost, "/api/v1/communities/"+communityID+"/messages", token, dto.MessageSendRequest{Text: "hello <script>x()</script>"})
	require.Equal(t, fiber.StatusCreated, status, body.Message)
	require.Equal(t, "hello", decode[dto.MessageResponse](t, body).Text)

	status, _ = api.call(t, http.MethodPost, "/api/v1/communities/"+communityID+"/messages", token, dto.MessageSendRequest{Text: "<script></script>"})
	require.Equal(t, fiber.StatusBadRequest, status)

	status, _ = api.call(t, http.MethodGet, "/api/v1/communities/"+communityID+"/messages?before=yesterday", token, nil)
	require.Equal(t, fiber.StatusBadRequest, status)

	status, body = api.call(t, http.MethodGet, "/api/v1/communities/"+communityID+"/messages?limit=5", token, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Len(t, decode[[]dto.MessageResponse](t, body), 1)

	status, body = api.call(t, http.MethodPost, "/api/v1/communities", token, dto.CommunityCreateRequest{Name: "Robotics", University: "stanford.edu"})
	require.Equal(t, fiber.StatusBadRequest, status)
	require.False(t, body.Success)
}

func TestChatWebSocketRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	member := api.signup(t, "ada@mit.edu", "Ada")
	token := member.Tokens.AccessToken

	_, body := api.call(t, http.MethodGet, "/api/v1/communities", token, nil)
	communityID := decode[[]dto.CommunityResponse](t, body)[0].ID

	addr := startServer(t, api.app)

	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	_, resp, err := dialer.Dial(fmt.Sprintf("ws://%s/api/v1/communities/%s/ws", addr, communityID), nil)
	require.Error(t, err)
	if resp != nil {
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	}

	conn, _, err := dialer.Dial(fmt.Sprintf("ws://%s/api/v1/communities/%s/ws?access_token=%s", addr, communityID, token), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var snapshot dto.MessageSnapshot
	require.NoError(t, conn.ReadJSON(&snapshot))
	require.Equal(t, "snapshot", snapshot.Type)
	require.Empty(t, snapshot.Messages)

	require.NoError(t, conn.WriteJSON(dto.ChatFrame{Type: "message", Text: "hi team"}))

	for {
		var frame dto.MessageSnapshot
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == "snapshot" && len(frame.Messages) == 1 {
			require.Equal(t, "hi team", frame.Messages[0].Text)
			require.Equal(t, member.Session.UID, frame.Messages[0].SenderID)
			break
		}
	}
}

func TestNotificationStreamDeliversSnapshot(t *testing.T) {
	api := newTestAPI(t)
	member := api.signup(t, "ada@mit.edu", "Ada")

	addr := startServer(t, api.app)

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/api/v1/notifications/stream?access_token=%s", addr, member.Tokens.AccessToken), nil)
	require.NoError(t, err)

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			var snapshot dto.NotificationSnapshot
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &snapshot))
			require.Zero(t, snapshot.UnreadCount)
			require.Empty(t, snapshot.Notifications)
			return
		}
	}
}

func TestProfileRoutes(t *testing.T) {
	api := newTestAPI(t)
	ada := api.signup(t, "ada@mit.edu", "Ada")
	grace := api.signup(t, "grace@stanford.edu", "Grace")

	status, body := api.call(t, http.MethodPatch, "/api/v1/me", ada.Tokens.AccessToken, map[string]any{"bio": "Robotics", "major": "EECS"})
	require.Equal(t, fiber.StatusOK, status, body.Message)

	status, body = api.call(t, http.MethodGet, "/api/v1/users/"+ada.Session.UID, grace.Tokens.AccessToken, nil)
	require.Equal(t, fiber.StatusOK, status)
	require.NotContains(t, string(body.Data), "ada@mit.edu")
	require.Contains(t, string(body.Data), "Robotics")

	status, _ = api.call(t, http.MethodGet, "/api/v1/users/"+uuid.NewString(), grace.Tokens.AccessToken, nil)
	require.Equal(t, fiber.StatusNotFound, status)

	status, body = api.call(t, http.MethodGet, "/api/v1/me/overview", ada.Tokens.AccessToken, nil)
	require.Equal(t, fiber.StatusOK, status, body.Message)

	status, _ = api.call(t, http.MethodPut, "/api/v1/me/push-subscriptions", ada.Tokens.AccessToken, map[string]any{"endpoint": "not a url"})
	require.Equal(t, fiber.StatusBadRequest, status)
}

func TestMalformedTokenIsRejectedBeforeHandlers(t *testing.T) {
	api := newTestAPI(t)

	status, body := api.call(t, http.MethodGet, "/api/v1/gigs/"+uuid.NewString()+"/applications", "garbage", nil)
	require.Equal(t, fiber.StatusUnauthorized, status)
	require.False(t, body.Success)
	require.Equal(t, "invalid token", body.Message)
}
