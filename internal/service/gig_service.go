package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/models"
	"github.com/noah-isme/unigigs-api/internal/repository"
)

// GigService manages gigs and bookmarks.
type GigService interface {
	Post(ctx context.Context, actor dto.Identity, req dto.GigCreateRequest) (dto.GigResponse, error)
	ListForUniversity(ctx context.Context, actor dto.Identity, query dto.GigListQuery) ([]dto.GigResponse, error)
	Get(ctx context.Context, actor dto.Identity, id string) (dto.GigDetailResponse, error)
	ListByPoster(ctx context.Context, posterID string) ([]dto.GigResponse, error)
	Close(ctx context.Context, actor dto.Identity, id string) (dto.GigResponse, error)
	Save(ctx context.Context, actor dto.Identity, id string) error
	Unsave(ctx context.Context, actor dto.Identity, id string) error
	ListSaved(ctx context.Context, actor dto.Identity) ([]dto.GigResponse, error)
}

type gigService struct {
	gigs          repository.GigRepository
	applications  repository.ApplicationRepository
	notifications NotificationService
	validator     *validator.Validate
	sanitizer     *bluemonday.Policy
	logger        zerolog.Logger
	tracer        trace.Tracer
}

// NewGigService constructs the gig service. notifications may be nil, in
// which case closing a gig tells nobody.
func NewGigService(gigs repository.GigRepository, applications repository.ApplicationRepository, notifications NotificationService, validate *validator.Validate, logger zerolog.Logger) GigService {
	return &gigService{
		gigs:          gigs,
		applications:  applications,
		notifications: notifications,
		validator:     validate,
		sanitizer:     bluemonday.StrictPolicy(),
		logger:        logger.With().Str("component", "gig_service").Logger(),
		tracer:        otel.Tracer("github.com/noah-isme/unigigs-api/internal/service/gig"),
	}
}

// ParsePayment converts a submitted amount ("20", 20, "12.5") to a number.
func ParsePayment(amount dto.Amount) (float64, error) {
	raw := strings.TrimSpace(string(amount))
	if raw == "" {
		return 0, ErrInvalidPayment
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, ErrInvalidPayment
	}
	return value, nil
}

func (s *gigService) Post(ctx context.Context, actor dto.Identity, req dto.GigCreateRequest) (dto.GigResponse, error) {
	if actor.University == "" {
		return dto.GigResponse{}, ErrProfileIncomplete
	}

	req.Title = strings.TrimSpace(s.sanitizer.Sanitize(req.Title))
	req.Description = strings.TrimSpace(s.sanitizer.Sanitize(req.Description))
	if err := s.validator.Struct(req); err != nil {
		return dto.GigResponse{}, validationError(err)
	}
	payment, err := ParsePayment(req.Payment)
	if err != nil {
		return dto.GigResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "gig.post", trace.WithAttributes(attribute.String("gig.university", actor.University)))
	defer span.End()

	gig := models.Gig{
		Title:       req.Title,
		Description: req.Description,
		Payment:     payment,
		PosterID:    actor.UID,
		PosterName:  actor.DisplayName,
		University:  actor.University,
		Status:      models.GigStatusOpen,
	}
	if err := s.gigs.Create(ctx, &gig); err != nil {
		span.RecordError(err)
		return dto.GigResponse{}, writeError("create gig", err)
	}

	s.logger.Info().Str("gig_id", gig.ID).Str("poster_id", actor.UID).Msg("gig posted")
	return dto.NewGigResponse(gig), nil
}

func (s *gigService) ListForUniversity(ctx context.Context, actor dto.Identity, query dto.GigListQuery) ([]dto.GigResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, validationError(err)
	}
	if actor.University == "" {
		return []dto.GigResponse{}, nil
	}

	gigs, err := s.gigs.ListOpenByUniversity(ctx, actor.University, query.Limit, query.Offset)
	if err != nil {
		return nil, fmt.Errorf("list gigs: %w", err)
	}
	sortNewestFirst(gigs)
	return dto.NewGigResponseSlice(gigs), nil
}

func (s *gigService) Get(ctx context.Context, actor dto.Identity, id string) (dto.GigDetailResponse, error) {
	gig, err := s.load(ctx, id)
	if err != nil {
		return dto.GigDetailResponse{}, err
	}

	detail := dto.GigDetailResponse{
		Gig:      dto.NewGigResponse(gig),
		IsPoster: gig.PosterID == actor.UID,
	}

	if detail.IsPoster {
		applicants, err := s.applications.ListByGig(ctx, gig.ID)
		if err != nil {
			return dto.GigDetailResponse{}, fmt.Errorf("list applicants: %w", err)
		}
		detail.Applicants = dto.NewApplicationResponseSlice(applicants)
	} else {
		applied, err := s.applications.Exists(ctx, gig.ID, actor.UID)
		if err != nil {
			return dto.GigDetailResponse{}, fmt.Errorf("check application: %w", err)
		}
		detail.HasApplied = applied
	}

	saved, err := s.gigs.IsSaved(ctx, actor.UID, gig.ID)
	if err != nil {
		return dto.GigDetailResponse{}, fmt.Errorf("check bookmark: %w", err)
	}
	detail.Saved = saved

	return detail, nil
}

func (s *gigService) ListByPoster(ctx context.Context, posterID string) ([]dto.GigResponse, error) {
	gigs, err := s.gigs.ListByPoster(ctx, posterID)
	if err != nil {
		return nil, fmt.Errorf("list posted gigs: %w", err)
	}
	sortNewestFirst(gigs)
	return dto.NewGigResponseSlice(gigs), nil
}

func (s *gigService) Close(ctx context.Context, actor dto.Identity, id string) (dto.GigResponse, error) {
	gig, err := s.load(ctx, id)
	if err != nil {
		return dto.GigResponse{}, err
	}
	if gig.PosterID != actor.UID {
		return dto.GigResponse{}, ErrNotPoster
	}
	if !gig.IsOpen() {
		return dto.NewGigResponse(gig), nil
	}

	if err := s.gigs.UpdateStatus(ctx, gig.ID, models.GigStatusClosed); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GigResponse{}, ErrGigNotFound
		}
		return dto.GigResponse{}, writeError("close gig", err)
	}
	gig.Status = models.GigStatusClosed
	s.logger.Info().Str("gig_id", gig.ID).Msg("gig closed")
	s.notifyPendingApplicants(ctx, gig)
	return dto.NewGigResponse(gig), nil
}

// notifyPendingApplicants tells applicants still waiting on a decision that
// the gig closed. The status change is already committed.
func (s *gigService) notifyPendingApplicants(ctx context.Context, gig models.Gig) {
	if s.notifications == nil {
		return
	}
	applications, err := s.applications.ListByGig(ctx, gig.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("gig_id", gig.ID).Msg("closed gig applicants not notified")
		return
	}
	for _, application := range applications {
		if application.Status != models.ApplicationStatusPending {
			continue
		}
		s.notifications.Dispatch(ctx, dto.NotificationInput{
			UserID:  application.ApplicantID,
			Title:   "Gig Closed",
			Message: fmt.Sprintf("%q is no longer accepting applications.", gig.Title),
			Type:    models.NotificationTypeInfo,
			Link:    gigLink(gig.ID),
		})
	}
}

func (s *gigService) Save(ctx context.Context, actor dto.Identity, id string) error {
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	if err := s.gigs.Save(ctx, actor.UID, id); err != nil {
		return writeError("save gig", err)
	}
	return nil
}

func (s *gigService) Unsave(ctx context.Context, actor dto.Identity, id string) error {
	if err := s.gigs.Unsave(ctx, actor.UID, id); err != nil {
		return writeError("unsave gig", err)
	}
	return nil
}

func (s *gigService) ListSaved(ctx context.Context, actor dto.Identity) ([]dto.GigResponse, error) {
	gigs, err := s.gigs.ListSaved(ctx, actor.UID)
	if err != nil {
		return nil, fmt.Errorf("list saved gigs: %w", err)
	}
	return dto.NewGigResponseSlice(gigs), nil
}

func (s *gigService) load(ctx context.Context, id string) (models.Gig, error) {
	gig, err := s.gigs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Gig{}, ErrGigNotFound
		}
		return models.Gig{}, fmt.Errorf("load gig: %w", err)
	}
	return gig, nil
}

// sortNewestFirst orders gigs by creation time, newest first, keeping the
// store's relative order for equal timestamps.
func sortNewestFirst(gigs []models.Gig) {
	sort.SliceStable(gigs, func(i, j int) bool {
		return gigs[i].CreatedAt.After(gigs[j].CreatedAt)
	})
}
