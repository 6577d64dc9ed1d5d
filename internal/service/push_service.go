package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/models"
	"github.com/noah-isme/unigigs-api/internal/repository"
)

// PushService registers browser push subscriptions.
type PushService interface {
	Register(ctx context.Context, actor dto.Identity, req dto.PushSubscriptionRequest) error
	Unregister(ctx context.Context, actor dto.Identity, req dto.PushUnsubscribeRequest) error
	PublicKey() string
}

type pushService struct {
	repo      repository.PushSubscriptionRepository
	publicKey string
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewPushService constructs the push subscription service.
func NewPushService(repo repository.PushSubscriptionRepository, publicKey string, validate *validator.Validate, logger zerolog.Logger) PushService {
	return &pushService{
		repo:      repo,
		publicKey: publicKey,
		validator: validate,
		logger:    logger.With().Str("component", "push_service").Logger(),
	}
}

func (s *pushService) Register(ctx context.Context, actor dto.Identity, req dto.PushSubscriptionRequest) error {
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if err := s.validator.Struct(req); err != nil {
		return validationError(err)
	}

	subscription := models.PushSubscription{
		UserID:   actor.UID,
		Endpoint: req.Endpoint,
		Auth:     req.Keys.Auth,
		P256dh:   req.Keys.P256dh,
	}
	if err := s.repo.Upsert(ctx, &subscription); err != nil {
		return writeError("register push subscription", err)
	}
	s.logger.Info().Str("user_id", actor.UID).Msg("push subscription registered")
	return nil
}

func (s *pushService) Unregister(ctx context.Context, actor dto.Identity, req dto.PushUnsubscribeRequest) error {
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if err := s.validator.Struct(req); err != nil {
		return validationError(err)
	}
	if err := s.repo.Delete(ctx, actor.UID, req.Endpoint); err != nil {
		return writeError("remove push subscription", err)
	}
	return nil
}

func (s *pushService) PublicKey() string {
	return s.publicKey
}
