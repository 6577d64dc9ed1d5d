package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/repository"
)

const profilePhotoPrefix = "profile_photos/"

// BlobStore persists uploaded files under a caller-chosen path.
type BlobStore interface {
	Put(ctx context.Context, path string, reader io.Reader) (string, error)
}

// Upload is a file received from a client.
type Upload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// ProfileService reads and edits user profiles and settings.
type ProfileService interface {
	Get(ctx context.Context, viewer dto.Identity, uid string) (dto.ProfileResponse, error)
	Update(ctx context.Context, actor dto.Identity, req dto.ProfileUpdateRequest, photo *Upload) (dto.ProfileResponse, error)
	Settings(ctx context.Context, actor dto.Identity) (dto.SettingsResponse, error)
	UpdateSettings(ctx context.Context, actor dto.Identity, req dto.SettingsUpdateRequest) (dto.SettingsResponse, error)
	Overview(ctx context.Context, actor dto.Identity) (dto.ProfileOverviewResponse, error)
}

type profileService struct {
	users        repository.UserRepository
	accounts     repository.AuthAccountRepository
	gigs         GigService
	applications ApplicationService
	blobs        BlobStore
	maxPhoto     int64
	validator    *validator.Validate
	sanitizer    *bluemonday.Policy
	logger       zerolog.Logger
	tracer       trace.Tracer
}

// ProfileDependencies groups the collaborators of the profile service. Blobs
// may be nil, in which case photo uploads fail.
type ProfileDependencies struct {
	Users         repository.UserRepository
	Accounts      repository.AuthAccountRepository
	Gigs          GigService
	Applications  ApplicationService
	Blobs         BlobStore
	MaxPhotoBytes int64
}

// NewProfileService constructs the profile service.
func NewProfileService(deps ProfileDependencies, validate *validator.Validate, logger zerolog.Logger) ProfileService {
	maxPhoto := deps.MaxPhotoBytes
	if maxPhoto <= 0 {
		maxPhoto = 5 << 20
	}
	return &profileService{
		users:        deps.Users,
		accounts:     deps.Accounts,
		gigs:         deps.Gigs,
		applications: deps.Applications,
		blobs:        deps.Blobs,
		maxPhoto:     maxPhoto,
		validator:    validate,
		sanitizer:    bluemonday.StrictPolicy(),
		logger:       logger.With().Str("component", "profile_service").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/unigigs-api/internal/service/profile"),
	}
}

func (s *profileService) Get(ctx context.Context, viewer dto.Identity, uid string) (dto.ProfileResponse, error) {
	user, err := s.users.FindByID(ctx, uid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ProfileResponse{}, ErrUserNotFound
		}
		return dto.ProfileResponse{}, fmt.Errorf("load profile: %w", err)
	}

	self := viewer.UID == user.ID
	if !self && !user.PublicProfile {
		return dto.ProfileResponse{}, ErrProfilePrivate
	}
	return dto.NewProfileResponse(user, self), nil
}

func (s *profileService) Update(ctx context.Context, actor dto.Identity, req dto.ProfileUpdateRequest, photo *Upload) (dto.ProfileResponse, error) {
	req.DisplayName = s.clean(req.DisplayName)
	req.Bio = s.clean(req.Bio)
	req.Major = s.clean(req.Major)
	if err := s.validator.Struct(req); err != nil {
		return dto.ProfileResponse{}, validationError(err)
	}

	ctx, span := s.tracer.Start(ctx, "profile.update")
	defer span.End()

	updates := map[string]interface{}{}
	if req.DisplayName != nil {
		updates["display_name"] = *req.DisplayName
	}
	if req.Bio != nil {
		updates["bio"] = *req.Bio
	}
	if req.Major != nil {
		updates["major"] = *req.Major
	}

	if photo != nil {
		url, err := s.storePhoto(ctx, actor.UID, photo)
		if err != nil {
			span.RecordError(err)
			return dto.ProfileResponse{}, err
		}
		updates["photo_url"] = url
	}

	user, err := s.users.Update(ctx, actor.UID, updates)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ProfileResponse{}, ErrUserNotFound
		}
		return dto.ProfileResponse{}, writeError("update profile", err)
	}

	// Keep the auth identity in step so sessions without a profile lookup agree.
	if err := s.accounts.UpdateProfile(ctx, user.ID, user.DisplayName, user.PhotoURL); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("failed to sync auth account profile")
	}

	s.logger.Info().Str("user_id", user.ID).Msg("profile updated")
	return dto.NewProfileResponse(user, true), nil
}

func (s *profileService) storePhoto(ctx context.Context, uid string, photo *Upload) (string, error) {
	if photo.Size > s.maxPhoto {
		return "", ErrUploadTooLarge
	}
	if s.blobs == nil {
		return "", writeError("upload photo", errors.New("blob store not configured"))
	}

	data, err := io.ReadAll(io.LimitReader(photo.Content, s.maxPhoto+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxPhoto {
		return "", ErrUploadTooLarge
	}
	if len(data) == 0 {
		return "", ErrUploadType
	}

	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", ErrUploadType
	}

	url, err := s.blobs.Put(ctx, profilePhotoPrefix+uid, bytes.NewReader(data))
	if err != nil {
		return "", writeError("upload photo", err)
	}
	return url, nil
}

func (s *profileService) Settings(ctx context.Context, actor dto.Identity) (dto.SettingsResponse, error) {
	user, err := s.users.FindByID(ctx, actor.UID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SettingsResponse{}, ErrUserNotFound
		}
		return dto.SettingsResponse{}, fmt.Errorf("load settings: %w", err)
	}
	return dto.NewSettingsResponse(user), nil
}

func (s *profileService) UpdateSettings(ctx context.Context, actor dto.Identity, req dto.SettingsUpdateRequest) (dto.SettingsResponse, error) {
	updates := map[string]interface{}{}
	if req.EmailNotifications != nil {
		updates["email_notifications"] = *req.EmailNotifications
	}
	if req.PushNotifications != nil {
		updates["push_notifications"] = *req.PushNotifications
	}
	if req.PublicProfile != nil {
		updates["public_profile"] = *req.PublicProfile
	}
	if req.DarkMode != nil {
		updates["dark_mode"] = *req.DarkMode
	}

	user, err := s.users.Update(ctx, actor.UID, updates)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SettingsResponse{}, ErrUserNotFound
		}
		return dto.SettingsResponse{}, writeError("update settings", err)
	}
	return dto.NewSettingsResponse(user), nil
}

func (s *profileService) Overview(ctx context.Context, actor dto.Identity) (dto.ProfileOverviewResponse, error) {
	user, err := s.users.FindByID(ctx, actor.UID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ProfileOverviewResponse{}, ErrUserNotFound
		}
		return dto.ProfileOverviewResponse{}, fmt.Errorf("load profile: %w", err)
	}

	gigs, err := s.gigs.ListByPoster(ctx, actor.UID)
	if err != nil {
		return dto.ProfileOverviewResponse{}, err
	}
	applications, err := s.applications.ListMine(ctx, actor)
	if err != nil {
		return dto.ProfileOverviewResponse{}, err
	}

	return dto.ProfileOverviewResponse{
		Profile:      dto.NewProfileResponse(user, true),
		Gigs:         gigs,
		Applications: applications,
	}, nil
}

func (s *profileService) clean(value *string) *string {
	if value == nil {
		return nil
	}
	cleaned := strings.TrimSpace(s.sanitizer.Sanitize(*value))
	return &cleaned
}
