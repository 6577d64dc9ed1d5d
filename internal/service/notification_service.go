package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/middleware"
	"github.com/noah-isme/unigigs-api/internal/models"
	"github.com/noah-isme/unigigs-api/internal/realtime"
	"github.com/noah-isme/unigigs-api/internal/repository"
)

const notificationFeedName = "notifications"

// NotificationService dispatches notifications and serves the recipient's inbox.
type NotificationService interface {
	// Dispatch enqueues a notification outside any caller transaction, for
	// writes that have already committed. Failures are logged, never returned.
	Dispatch(ctx context.Context, input dto.NotificationInput)
	// Event builds the outbox event for a notification so callers can enqueue it
	// inside their own transaction.
	Event(input dto.NotificationInput) (models.OutboxEvent, error)
	List(ctx context.Context, actor dto.Identity, limit, offset int) ([]dto.NotificationResponse, error)
	MarkRead(ctx context.Context, actor dto.Identity, id string) (dto.NotificationResponse, error)
	MarkAllRead(ctx context.Context, actor dto.Identity) (int64, error)
	Subscribe(ctx context.Context, actor dto.Identity, fn func(dto.NotificationSnapshot)) (*realtime.Subscription, error)
	// Feed exposes the per-user notification feed to the outbox worker.
	Feed() *realtime.Feed[models.Notification]
}

type notificationService struct {
	repo      repository.NotificationRepository
	outbox    repository.OutboxRepository
	feed      *realtime.Feed[models.Notification]
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewNotificationService constructs a notification service. The returned
// service owns a feed bound to bus; call Feed().Start to listen for remote changes.
func NewNotificationService(repo repository.NotificationRepository, outbox repository.OutboxRepository, bus realtime.Bus, window int, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	svc := &notificationService{
		repo:      repo,
		outbox:    outbox,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "notification_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/unigigs-api/internal/service/notification"),
	}
	svc.feed = realtime.NewFeed[models.Notification](notificationFeedName, window, svc.load, bus, logger)
	return svc
}

func (s *notificationService) Feed() *realtime.Feed[models.Notification] {
	return s.feed
}

func (s *notificationService) load(ctx context.Context, userID string, window int) ([]models.Notification, error) {
	return s.repo.ListByUser(ctx, userID, window, 0)
}

func (s *notificationService) Event(input dto.NotificationInput) (models.OutboxEvent, error) {
	input.Title = strings.TrimSpace(s.sanitizer.Sanitize(input.Title))
	input.Message = strings.TrimSpace(s.sanitizer.Sanitize(input.Message))
	input.Link = strings.TrimSpace(input.Link)
	if input.Type == "" {
		input.Type = models.NotificationTypeInfo
	}
	if err := s.validator.Struct(input); err != nil {
		return models.OutboxEvent{}, validationError(err)
	}
	return models.OutboxEvent{
		Kind:    models.OutboxKindNotification,
		Payload: notificationPayload(input),
	}, nil
}

func (s *notificationService) Dispatch(ctx context.Context, input dto.NotificationInput) {
	ctx, span := s.tracer.Start(ctx, "notification.dispatch", trace.WithAttributes(
		attribute.String("notification.type", input.Type),
	))
	defer span.End()

	logger := middleware.TraceFromContext(ctx).Logger(s.logger)
	event, err := s.Event(input)
	if err != nil {
		logger.Warn().Err(err).Str("recipient_id", input.UserID).Msg("notification dropped")
		return
	}
	if err := s.outbox.Enqueue(ctx, event); err != nil {
		span.RecordError(err)
		logger.Error().Err(err).Str("recipient_id", input.UserID).Msg("failed to enqueue notification")
	}
}

func (s *notificationService) List(ctx context.Context, actor dto.Identity, limit, offset int) ([]dto.NotificationResponse, error) {
	if limit <= 0 || limit > s.feed.Window() {
		limit = s.feed.Window()
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.repo.ListByUser(ctx, actor.UID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return dto.NewNotificationResponseSlice(items), nil
}

func (s *notificationService) MarkRead(ctx context.Context, actor dto.Identity, id string) (dto.NotificationResponse, error) {
	notification, err := s.repo.MarkRead(ctx, id, actor.UID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.NotificationResponse{}, ErrNotificationNotFound
		}
		return dto.NotificationResponse{}, writeError("mark notification read", err)
	}
	s.feed.Notify(ctx, actor.UID)
	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, actor dto.Identity) (int64, error) {
	updated, err := s.repo.MarkAllRead(ctx, actor.UID)
	if err != nil {
		return 0, writeError("mark notifications read", err)
	}
	if updated > 0 {
		s.feed.Notify(ctx, actor.UID)
	}
	return updated, nil
}

func (s *notificationService) Subscribe(ctx context.Context, actor dto.Identity, fn func(dto.NotificationSnapshot)) (*realtime.Subscription, error) {
	return s.feed.Subscribe(ctx, actor.UID, func(items []models.Notification) {
		fn(dto.NewNotificationSnapshot(items))
	})
}

func notificationPayload(input dto.NotificationInput) datatypes.JSONMap {
	return datatypes.JSONMap{
		"user_id": input.UserID,
		"title":   input.Title,
		"message": input.Message,
		"type":    input.Type,
		"link":    input.Link,
	}
}

func notificationFromPayload(payload datatypes.JSONMap) dto.NotificationInput {
	field := func(key string) string {
		value, _ := payload[key].(string)
		return value
	}
	return dto.NotificationInput{
		UserID:  field("user_id"),
		Title:   field("title"),
		Message: field("message"),
		Type:    field("type"),
		Link:    field("link"),
	}
}
