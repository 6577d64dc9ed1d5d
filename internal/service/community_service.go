package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/models"
	"github.com/noah-isme/unigigs-api/internal/repository"
)

// CommunityService lists and creates chat communities.
type CommunityService interface {
	List(ctx context.Context, actor dto.Identity) ([]dto.CommunityResponse, error)
	Get(ctx context.Context, actor dto.Identity, id string) (dto.CommunityResponse, error)
	Create(ctx context.Context, actor dto.Identity, req dto.CommunityCreateRequest) (dto.CommunityResponse, error)
	// Authorize loads a community the actor may read and post in.
	Authorize(ctx context.Context, actor dto.Identity, id string) (models.Community, error)
}

type communityService struct {
	repo      repository.CommunityRepository
	seed      bool
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewCommunityService constructs the community service. When seed is set, an
// actor whose university has no communities gets the default ones.
func NewCommunityService(repo repository.CommunityRepository, seed bool, validate *validator.Validate, logger zerolog.Logger) CommunityService {
	return &communityService{
		repo:      repo,
		seed:      seed,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "community_service").Logger(),
	}
}

func (s *communityService) List(ctx context.Context, actor dto.Identity) ([]dto.CommunityResponse, error) {
	scopes := visibleUniversities(actor)
	communities, err := s.repo.ListByUniversities(ctx, scopes)
	if err != nil {
		return nil, fmt.Errorf("list communities: %w", err)
	}

	if len(communities) == 0 && s.seed && actor.University != "" {
		if err := s.repo.CreateBatch(ctx, defaultCommunities(actor.University)); err != nil {
			// Another request may have seeded concurrently; re-query either way.
			s.logger.Warn().Err(err).Str("university", actor.University).Msg("community seeding failed")
		} else {
			s.logger.Info().Str("university", actor.University).Msg("default communities seeded")
		}
		communities, err = s.repo.ListByUniversities(ctx, scopes)
		if err != nil {
			return nil, fmt.Errorf("list communities: %w", err)
		}
	}

	return dto.NewCommunityResponseSlice(communities), nil
}

func (s *communityService) Get(ctx context.Context, actor dto.Identity, id string) (dto.CommunityResponse, error) {
	community, err := s.Authorize(ctx, actor, id)
	if err != nil {
		return dto.CommunityResponse{}, err
	}
	return dto.NewCommunityResponse(community), nil
}

func (s *communityService) Create(ctx context.Context, actor dto.Identity, req dto.CommunityCreateRequest) (dto.CommunityResponse, error) {
	req.Name = strings.TrimSpace(s.sanitizer.Sanitize(req.Name))
	req.Description = strings.TrimSpace(s.sanitizer.Sanitize(req.Description))
	req.University = strings.TrimSpace(req.University)
	if req.University == "" {
		req.University = actor.University
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.CommunityResponse{}, validationError(err)
	}
	if req.University == "" {
		return dto.CommunityResponse{}, ErrProfileIncomplete
	}
	if req.University != actor.University && req.University != models.UniversityGlobal {
		return dto.CommunityResponse{}, ErrInvalidUniversity
	}

	community := models.Community{
		Name:        req.Name,
		Description: req.Description,
		University:  req.University,
	}
	if err := s.repo.Create(ctx, &community); err != nil {
		return dto.CommunityResponse{}, writeError("create community", err)
	}

	s.logger.Info().Str("community_id", community.ID).Str("university", community.University).Msg("community created")
	return dto.NewCommunityResponse(community), nil
}

func (s *communityService) Authorize(ctx context.Context, actor dto.Identity, id string) (models.Community, error) {
	community, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Community{}, ErrCommunityNotFound
		}
		return models.Community{}, fmt.Errorf("load community: %w", err)
	}
	if community.University != models.UniversityGlobal && community.University != actor.University {
		return models.Community{}, ErrCommunityScope
	}
	return community, nil
}

func visibleUniversities(actor dto.Identity) []string {
	if actor.University == "" || actor.University == models.UniversityGlobal {
		return []string{models.UniversityGlobal}
	}
	return []string{actor.University, models.UniversityGlobal}
}

func defaultCommunities(university string) []models.Community {
	return []models.Community{
		{
			Name:        university + " General",
			Description: "General discussion for students.",
			University:  university,
		},
		{
			Name:        "Global Tech Talk",
			Description: "Discuss technology and coding.",
			University:  models.UniversityGlobal,
		},
	}
}
