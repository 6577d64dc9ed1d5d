package service

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/unigigs-api/internal/database"
	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/models"
	"github.com/noah-isme/unigigs-api/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

type fixture struct {
	db            *gorm.DB
	users         repository.UserRepository
	accounts      repository.AuthAccountRepository
	gigs          repository.GigRepository
	applications  repository.ApplicationRepository
	communities   repository.CommunityRepository
	messages      repository.MessageRepository
	notifications repository.NotificationRepository
	subscriptions repository.PushSubscriptionRepository
	outbox        repository.OutboxRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.ConnectSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return &fixture{
		db:            db,
		users:         repository.NewUserRepository(db),
		accounts:      repository.NewAuthAccountRepository(db),
		gigs:          repository.NewGigRepository(db),
		applications:  repository.NewApplicationRepository(db),
		communities:   repository.NewCommunityRepository(db),
		messages:      repository.NewMessageRepository(db),
		notifications: repository.NewNotificationRepository(db),
		subscriptions: repository.NewPushSubscriptionRepository(db),
		outbox:        repository.NewOutboxRepository(db),
	}
}

// student creates a User record and returns the merged identity for it.
func (f *fixture) student(t *testing.T, email string) dto.Identity {
	t.Helper()
	name := strings.Split(email, "@")[0]
	user := models.User{Email: email, DisplayName: name, University: UniversityFromEmail(email)}
	require.NoError(t, f.db.Create(&user).Error)
	return dto.MergeProfile(dto.Identity{UID: user.ID, Email: email, Provider: models.ProviderPassword}, &user)
}

func (f *fixture) pendingOutbox(t *testing.T) []models.OutboxEvent {
	t.Helper()
	var events []models.OutboxEvent
	require.NoError(t, f.db.Where("status = ?", models.OutboxStatusPending).Order("created_at ASC").Find(&events).Error)
	return events
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	require.Eventually(t, condition, 2*time.Second, 10*time.Millisecond)
}
