package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/unigigs-api/internal/models"
)

// GigRepository persists gigs and bookmarks.
type GigRepository interface {
	Create(ctx context.Context, gig *models.Gig) error
	FindByID(ctx context.Context, id string) (models.Gig, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Gig, error)
	ListOpenByUniversity(ctx context.Context, university string, limit, offset int) ([]models.Gig, error)
	ListByPoster(ctx context.Context, posterID string) ([]models.Gig, error)
	UpdateStatus(ctx context.Context, id, status string) error
	Save(ctx context.Context, userID, gigID string) error
	Unsave(ctx context.Context, userID, gigID string) error
	IsSaved(ctx context.Context, userID, gigID string) (bool, error)
	ListSaved(ctx context.Context, userID string) ([]models.Gig, error)
}

type gigRepository struct {
	db *gorm.DB
}

// NewGigRepository constructs a repository backed by GORM.
func NewGigRepository(db *gorm.DB) GigRepository {
	return &gigRepository{db: db}
}

func (r *gigRepository) Create(ctx context.Context, gig *models.Gig) error {
	return r.db.WithContext(ctx).Create(gig).Error
}

func (r *gigRepository) FindByID(ctx context.Context, id string) (models.Gig, error) {
	var gig models.Gig
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&gig).Error; err != nil {
		return models.Gig{}, err
	}
	return gig, nil
}

func (r *gigRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Gig, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var gigs []models.Gig
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&gigs).Error; err != nil {
		return nil, err
	}
	return gigs, nil
}

func (r *gigRepository) ListOpenByUniversity(ctx context.Context, university string, limit, offset int) ([]models.Gig, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var gigs []models.Gig
	if err := r.db.WithContext(ctx).
		Where("university = ? AND status = ?", university, models.GigStatusOpen).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&gigs).Error; err != nil {
		return nil, err
	}
	return gigs, nil
}

func (r *gigRepository) ListByPoster(ctx context.Context, posterID string) ([]models.Gig, error) {
	var gigs []models.Gig
	if err := r.db.WithContext(ctx).
		Where("poster_id = ?", posterID).
		Order("created_at DESC").
		Find(&gigs).Error; err != nil {
		return nil, err
	}
	return gigs, nil
}

func (r *gigRepository) UpdateStatus(ctx context.Context, id, status string) error {
	result := r.db.WithContext(ctx).Model(&models.Gig{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gigRepository) Save(ctx context.Context, userID, gigID string) error {
	saved := models.SavedGig{UserID: userID, GigID: gigID}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}, {Name: "gig_id"}}, DoNothing: true}).
		Create(&saved).Error
}

func (r *gigRepository) Unsave(ctx context.Context, userID, gigID string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND gig_id = ?", userID, gigID).
		Delete(&models.SavedGig{}).Error
}

func (r *gigRepository) IsSaved(ctx context.Context, userID, gigID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.SavedGig{}).
		Where("user_id = ? AND gig_id = ?", userID, gigID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gigRepository) ListSaved(ctx context.Context, userID string) ([]models.Gig, error) {
	var gigs []models.Gig
	if err := r.db.WithContext(ctx).
		Joins("JOIN saved_gigs ON saved_gigs.gig_id = gigs.id").
		Where("saved_gigs.user_id = ?", userID).
		Order("saved_gigs.created_at DESC").
		Find(&gigs).Error; err != nil {
		return nil, err
	}
	return gigs, nil
}
