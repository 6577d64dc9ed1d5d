package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/models"
	"github.com/noah-isme/unigigs-api/internal/repository"
)

// ApplicationService manages applications to gigs.
type ApplicationService interface {
	Apply(ctx context.Context, actor dto.Identity, gigID string) (dto.ApplicationResponse, error)
	HasApplied(ctx context.Context, actor dto.Identity, gigID string) (bool, error)
	ListForGig(ctx context.Context, actor dto.Identity, gigID string) ([]dto.ApplicationResponse, error)
	ListMine(ctx context.Context, actor dto.Identity) ([]dto.ApplicationResponse, error)
	Decide(ctx context.Context, actor dto.Identity, applicationID string, req dto.ApplicationDecisionRequest) (dto.ApplicationResponse, error)
}

type applicationService struct {
	applications  repository.ApplicationRepository
	gigs          repository.GigRepository
	notifications NotificationService
	validator     *validator.Validate
	logger        zerolog.Logger
	tracer        trace.Tracer
}

// NewApplicationService constructs the application service.
func NewApplicationService(applications repository.ApplicationRepository, gigs repository.GigRepository, notifications NotificationService, validate *validator.Validate, logger zerolog.Logger) ApplicationService {
	return &applicationService{
		applications:  applications,
		gigs:          gigs,
		notifications: notifications,
		validator:     validate,
		logger:        logger.With().Str("component", "application_service").Logger(),
		tracer:        otel.Tracer("github.com/noah-isme/unigigs-api/internal/service/application"),
	}
}

func (s *applicationService) Apply(ctx context.Context, actor dto.Identity, gigID string) (dto.ApplicationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "application.apply", trace.WithAttributes(attribute.String("gig.id", gigID)))
	defer span.End()

	gig, err := s.loadGig(ctx, gigID)
	if err != nil {
		return dto.ApplicationResponse{}, err
	}
	if gig.PosterID == actor.UID {
		return dto.ApplicationResponse{}, ErrOwnGig
	}
	if !gig.IsOpen() {
		return dto.ApplicationResponse{}, ErrGigClosed
	}

	exists, err := s.applications.Exists(ctx, gig.ID, actor.UID)
	if err != nil {
		return dto.ApplicationResponse{}, fmt.Errorf("check application: %w", err)
	}
	if exists {
		return dto.ApplicationResponse{}, ErrAlreadyApplied
	}

	application := models.Application{
		GigID:          gig.ID,
		ApplicantID:    actor.UID,
		ApplicantName:  actor.DisplayName,
		ApplicantEmail: actor.Email,
		Status:         models.ApplicationStatusPending,
	}

	outbox := s.notificationEvents(dto.NotificationInput{
		UserID:  gig.PosterID,
		Title:   "New applicant: " + gig.Title,
		Message: displayNameOr(actor.DisplayName, "Someone") + " applied to your gig.",
		Type:    models.NotificationTypeInfo,
		Link:    gigLink(gig.ID),
	})

	if err := s.applications.Create(ctx, &application, outbox...); err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return dto.ApplicationResponse{}, ErrAlreadyApplied
		}
		return dto.ApplicationResponse{}, writeError("create application", err)
	}

	s.logger.Info().Str("gig_id", gig.ID).Str("applicant_id", actor.UID).Msg("application submitted")
	return enrichApplication(application, gig), nil
}

func (s *applicationService) HasApplied(ctx context.Context, actor dto.Identity, gigID string) (bool, error) {
	exists, err := s.applications.Exists(ctx, gigID, actor.UID)
	if err != nil {
		return false, fmt.Errorf("check application: %w", err)
	}
	return exists, nil
}

func (s *applicationService) ListForGig(ctx context.Context, actor dto.Identity, gigID string) ([]dto.ApplicationResponse, error) {
	gig, err := s.loadGig(ctx, gigID)
	if err != nil {
		return nil, err
	}
	if gig.PosterID != actor.UID {
		return nil, ErrNotPoster
	}

	applications, err := s.applications.ListByGig(ctx, gig.ID)
	if err != nil {
		return nil, fmt.Errorf("list applicants: %w", err)
	}
	return dto.NewApplicationResponseSlice(applications), nil
}

func (s *applicationService) ListMine(ctx context.Context, actor dto.Identity) ([]dto.ApplicationResponse, error) {
	applications, err := s.applications.ListByApplicant(ctx, actor.UID)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	sort.SliceStable(applications, func(i, j int) bool {
		return applications[i].CreatedAt.After(applications[j].CreatedAt)
	})

	ids := make([]string, 0, len(applications))
	for _, application := range applications {
		ids = append(ids, application.GigID)
	}
	gigs, err := s.gigs.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load gigs: %w", err)
	}
	byID := make(map[string]models.Gig, len(gigs))
	for _, gig := range gigs {
		byID[gig.ID] = gig
	}

	out := make([]dto.ApplicationResponse, 0, len(applications))
	for _, application := range applications {
		if gig, ok := byID[application.GigID]; ok {
			out = append(out, enrichApplication(application, gig))
			continue
		}
		out = append(out, dto.NewApplicationResponse(application))
	}
	return out, nil
}

func (s *applicationService) Decide(ctx context.Context, actor dto.Identity, applicationID string, req dto.ApplicationDecisionRequest) (dto.ApplicationResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ApplicationResponse{}, ErrInvalidStatus
	}

	ctx, span := s.tracer.Start(ctx, "application.decide", trace.WithAttributes(
		attribute.String("application.id", applicationID),
		attribute.String("application.status", req.Status),
	))
	defer span.End()

	application, err := s.applications.FindByID(ctx, applicationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ApplicationResponse{}, ErrApplicationNotFound
		}
		return dto.ApplicationResponse{}, fmt.Errorf("load application: %w", err)
	}
	gig, err := s.loadGig(ctx, application.GigID)
	if err != nil {
		return dto.ApplicationResponse{}, err
	}
	if gig.PosterID != actor.UID {
		return dto.ApplicationResponse{}, ErrNotPoster
	}
	if application.Status != models.ApplicationStatusPending {
		return dto.ApplicationResponse{}, ErrInvalidTransition
	}

	notificationType := models.NotificationTypeError
	if req.Status == models.ApplicationStatusAccepted {
		notificationType = models.NotificationTypeSuccess
	}

	updated, err := s.applications.Decide(ctx, repository.Decision{
		ApplicationID: application.ID,
		Status:        req.Status,
		CloseGig:      req.Status == models.ApplicationStatusAccepted,
		Outbox: s.notificationEvents(dto.NotificationInput{
			UserID:  application.ApplicantID,
			Title:   "Application Update: " + gig.Title,
			Message: fmt.Sprintf("Your application has been %s.", req.Status),
			Type:    notificationType,
			Link:    gigLink(gig.ID),
		}),
	})
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, repository.ErrStateChanged):
			return dto.ApplicationResponse{}, ErrInvalidTransition
		case errors.Is(err, gorm.ErrRecordNotFound):
			return dto.ApplicationResponse{}, ErrApplicationNotFound
		}
		return dto.ApplicationResponse{}, writeError("decide application", err)
	}

	s.logger.Info().
		Str("application_id", updated.ID).
		Str("gig_id", gig.ID).
		Str("status", updated.Status).
		Msg("application decided")
	return enrichApplication(updated, gig), nil
}

// notificationEvents builds the outbox rows to enqueue with a write. An
// invalid notification is logged and dropped so it never blocks the write.
func (s *applicationService) notificationEvents(input dto.NotificationInput) []models.OutboxEvent {
	if s.notifications == nil {
		return nil
	}
	event, err := s.notifications.Event(input)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", input.UserID).Msg("notification dropped")
		return nil
	}
	return []models.OutboxEvent{event}
}

func (s *applicationService) loadGig(ctx context.Context, id string) (models.Gig, error) {
	gig, err := s.gigs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Gig{}, ErrGigNotFound
		}
		return models.Gig{}, fmt.Errorf("load gig: %w", err)
	}
	return gig, nil
}

func enrichApplication(application models.Application, gig models.Gig) dto.ApplicationResponse {
	response := dto.NewApplicationResponse(application)
	response.GigTitle = gig.Title
	payment := gig.Payment
	response.GigPayment = &payment
	return response
}

func gigLink(id string) string {
	return "/gigs/" + id
}

func displayNameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
