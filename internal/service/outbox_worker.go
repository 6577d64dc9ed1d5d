package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/unigigs-api/internal/models"
	"github.com/noah-isme/unigigs-api/internal/observability"
	"github.com/noah-isme/unigigs-api/internal/realtime"
	"github.com/noah-isme/unigigs-api/internal/repository"
	"github.com/noah-isme/unigigs-api/pkg/webpush"
)

const (
	defaultOutboxPollInterval = time.Second
	defaultOutboxBaseBackoff  = 2 * time.Second
	defaultOutboxMaxBackoff   = 5 * time.Minute
	defaultOutboxMaxAttempts  = 8
	defaultOutboxBatchSize    = 50
	defaultOutboxStaleAfter   = 5 * time.Minute
)

// PushSender delivers browser push messages.
type PushSender interface {
	Send(ctx context.Context, sub webpush.Subscription, msg webpush.Message) error
}

// EmailSender delivers notification emails.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body, link string) error
}

// OutboxConfig tunes the outbox worker.
type OutboxConfig struct {
	PollInterval time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	MaxAttempts  int
	BatchSize    int
	StaleAfter   time.Duration
	// LinkBaseURL prefixes relative notification links in emails.
	LinkBaseURL string
}

// OutboxDependencies groups the collaborators of the outbox worker. Push and
// Email are optional.
type OutboxDependencies struct {
	Outbox        repository.OutboxRepository
	Notifications repository.NotificationRepository
	Users         repository.UserRepository
	Subscriptions repository.PushSubscriptionRepository
	Feed          *realtime.Feed[models.Notification]
	Push          PushSender
	Email         EmailSender
}

// OutboxWorker materialises queued notifications and fans them out to the
// recipient's feed, push subscriptions, and inbox.
type OutboxWorker struct {
	deps   OutboxDependencies
	cfg    OutboxConfig
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewOutboxWorker constructs a worker; zero config values take defaults.
func NewOutboxWorker(deps OutboxDependencies, cfg OutboxConfig, logger zerolog.Logger) *OutboxWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultOutboxPollInterval
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultOutboxBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultOutboxMaxBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultOutboxMaxAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultOutboxBatchSize
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultOutboxStaleAfter
	}
	return &OutboxWorker{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("component", "outbox_worker").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/unigigs-api/internal/service/outbox"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start polls the outbox in a goroutine until ctx is cancelled.
func (w *OutboxWorker) Start(ctx context.Context) {
	go w.Run(ctx)
}

// Run polls the outbox until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("outbox poll failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims one batch of due events and handles each of them. It
// returns the number of events claimed.
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (int, error) {
	now := w.now()
	events, err := w.deps.Outbox.Claim(ctx, uuid.NewString(), now, now.Add(-w.cfg.StaleAfter), w.cfg.BatchSize)
	if err != nil {
		return len(events), fmt.Errorf("claim outbox events: %w", err)
	}

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		w.handle(ctx, event)
	}
	return len(events), nil
}

// Backoff returns the delay before the given attempt number is retried.
func (w *OutboxWorker) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := w.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	if delay > w.cfg.MaxBackoff {
		return w.cfg.MaxBackoff
	}
	return delay
}

func (w *OutboxWorker) handle(ctx context.Context, event models.OutboxEvent) {
	ctx, span := w.tracer.Start(ctx, "outbox.handle", trace.WithAttributes(
		attribute.String("outbox.id", event.ID),
		attribute.String("outbox.kind", event.Kind),
		attribute.Int("outbox.attempts", event.Attempts),
	))
	defer span.End()

	logger := w.logger.With().Str("event_id", event.ID).Str("kind", event.Kind).Logger()

	var err error
	switch event.Kind {
	case models.OutboxKindNotification:
		err = w.deliverNotification(ctx, event, logger)
	default:
		err = fmt.Errorf("unknown outbox kind %q", event.Kind)
		w.fail(ctx, event, event.Attempts+1, err, logger)
		return
	}

	if err != nil {
		span.RecordError(err)
		w.retry(ctx, event, err, logger)
		return
	}

	if err := w.deps.Outbox.MarkDelivered(ctx, event.ID); err != nil {
		logger.Error().Err(err).Msg("failed to mark outbox event delivered")
		return
	}
	observability.OutboxEvents().WithLabelValues("delivered").Inc()
}

func (w *OutboxWorker) retry(ctx context.Context, event models.OutboxEvent, cause error, logger zerolog.Logger) {
	attempts := event.Attempts + 1
	if attempts >= w.cfg.MaxAttempts {
		w.fail(ctx, event, attempts, cause, logger)
		return
	}

	next := w.now().Add(w.Backoff(attempts))
	if err := w.deps.Outbox.MarkRetry(ctx, event.ID, attempts, next, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("failed to reschedule outbox event")
		return
	}
	observability.OutboxEvents().WithLabelValues("retry").Inc()
	logger.Warn().Err(cause).Int("attempts", attempts).Time("next_attempt_at", next).Msg("outbox event rescheduled")
}

func (w *OutboxWorker) fail(ctx context.Context, event models.OutboxEvent, attempts int, cause error, logger zerolog.Logger) {
	if err := w.deps.Outbox.MarkFailed(ctx, event.ID, attempts, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("failed to mark outbox event failed")
		return
	}
	observability.OutboxEvents().WithLabelValues("failed").Inc()
	logger.Error().Err(cause).Int("attempts", attempts).Msg("outbox event abandoned")
}

func (w *OutboxWorker) deliverNotification(ctx context.Context, event models.OutboxEvent, logger zerolog.Logger) error {
	input := notificationFromPayload(event.Payload)
	if input.UserID == "" || input.Title == "" {
		return errors.New("notification payload is incomplete")
	}
	if input.Type == "" {
		input.Type = models.NotificationTypeInfo
	}

	notification := models.Notification{
		ID:        event.ID,
		UserID:    input.UserID,
		Title:     input.Title,
		Message:   input.Message,
		Type:      input.Type,
		Link:      input.Link,
		CreatedAt: event.CreatedAt,
	}
	created, err := w.deps.Notifications.CreateOnce(ctx, &notification)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	if w.deps.Feed != nil {
		w.deps.Feed.Notify(ctx, input.UserID)
	}
	if !created {
		// Redelivery after a crash; out-of-band channels already ran.
		return nil
	}
	observability.Notifications().WithLabelValues(notification.Type).Inc()

	user, err := w.deps.Users.FindByID(ctx, input.UserID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn().Err(err).Msg("skipping out-of-band delivery")
		}
		return nil
	}

	if user.PushNotifications && w.deps.Push != nil && w.deps.Subscriptions != nil {
		w.sendPush(ctx, user, notification, logger)
	}
	if user.EmailNotifications && w.deps.Email != nil && deliverableEmail(user.Email) {
		w.sendEmail(ctx, user, notification, logger)
	}
	return nil
}

func (w *OutboxWorker) sendPush(ctx context.Context, user models.User, notification models.Notification, logger zerolog.Logger) {
	subscriptions, err := w.deps.Subscriptions.ListByUser(ctx, user.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load push subscriptions")
		return
	}

	msg := webpush.Message{Title: notification.Title, Body: notification.Message, Link: notification.Link}
	for _, sub := range subscriptions {
		err := w.deps.Push.Send(ctx, webpush.Subscription{Endpoint: sub.Endpoint, Auth: sub.Auth, P256dh: sub.P256dh}, msg)
		switch {
		case err == nil:
			observability.Deliveries().WithLabelValues("push", "sent").Inc()
		case errors.Is(err, webpush.ErrSubscriptionGone):
			observability.Deliveries().WithLabelValues("push", "gone").Inc()
			if err := w.deps.Subscriptions.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				logger.Warn().Err(err).Msg("failed to drop expired push subscription")
			}
		default:
			observability.Deliveries().WithLabelValues("push", "error").Inc()
			logger.Warn().Err(err).Msg("push delivery failed")
		}
	}
}

func (w *OutboxWorker) sendEmail(ctx context.Context, user models.User, notification models.Notification, logger zerolog.Logger) {
	link := notification.Link
	if link != "" && strings.HasPrefix(link, "/") && w.cfg.LinkBaseURL != "" {
		link = strings.TrimRight(w.cfg.LinkBaseURL, "/") + link
	}
	if err := w.deps.Email.Send(ctx, user.Email, notification.Title, notification.Message, link); err != nil {
		observability.Deliveries().WithLabelValues("email", "error").Inc()
		logger.Warn().Err(err).Str("email", maskEmail(user.Email)).Msg("email delivery failed")
		return
	}
	observability.Deliveries().WithLabelValues("email", "sent").Inc()
}

func deliverableEmail(email string) bool {
	return email != "" && !strings.HasSuffix(email, "@"+fallbackEmailDomain)
}
