package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/unigigs-api/internal/models"
)

// ErrStateChanged indicates a conditional update matched no row because the
// record left the expected state concurrently.
var ErrStateChanged = errors.New("record state changed")

// Decision describes a pending application being moved to a terminal status.
type Decision struct {
	ApplicationID string
	Status        string
	CloseGig      bool
	Outbox        []models.OutboxEvent
}

// ApplicationRepository persists gig applications.
type ApplicationRepository interface {
	// Create stores the application and its outbox events atomically. A
	// duplicate (gig, applicant) pair surfaces as gorm.ErrDuplicatedKey.
	Create(ctx context.Context, application *models.Application, outbox ...models.OutboxEvent) error
	Exists(ctx context.Context, gigID, applicantID string) (bool, error)
	FindByID(ctx context.Context, id string) (models.Application, error)
	ListByGig(ctx context.Context, gigID string) ([]models.Application, error)
	ListByApplicant(ctx context.Context, applicantID string) ([]models.Application, error)
	Decide(ctx context.Context, decision Decision) (models.Application, error)
}

type applicationRepository struct {
	db *gorm.DB
}

// NewApplicationRepository constructs a repository backed by GORM.
func NewApplicationRepository(db *gorm.DB) ApplicationRepository {
	return &applicationRepository{db: db}
}

func (r *applicationRepository) Create(ctx context.Context, application *models.Application, outbox ...models.OutboxEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(application).Error; err != nil {
			return err
		}
		return enqueueOutbox(tx, outbox)
	})
}

func (r *applicationRepository) Exists(ctx context.Context, gigID, applicantID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Application{}).
		Where("gig_id = ? AND applicant_id = ?", gigID, applicantID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *applicationRepository) FindByID(ctx context.Context, id string) (models.Application, error) {
	var application models.Application
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&application).Error; err != nil {
		return models.Application{}, err
	}
	return application, nil
}

func (r *applicationRepository) ListByGig(ctx context.Context, gigID string) ([]models.Application, error) {
	var applications []models.Application
	if err := r.db.WithContext(ctx).
		Where("gig_id = ?", gigID).
		Order("created_at DESC").
		Find(&applications).Error; err != nil {
		return nil, err
	}
	return applications, nil
}

func (r *applicationRepository) ListByApplicant(ctx context.Context, applicantID string) ([]models.Application, error) {
	var applications []models.Application
	if err := r.db.WithContext(ctx).
		Where("applicant_id = ?", applicantID).
		Order("created_at DESC").
		Find(&applications).Error; err != nil {
		return nil, err
	}
	return applications, nil
}

func (r *applicationRepository) Decide(ctx context.Context, decision Decision) (models.Application, error) {
	var application models.Application
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Application{}).
			Where("id = ? AND status = ?", decision.ApplicationID, models.ApplicationStatusPending).
			Update("status", decision.Status)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrStateChanged
		}

		if err := tx.Where("id = ?", decision.ApplicationID).First(&application).Error; err != nil {
			return err
		}

		if decision.CloseGig {
			if err := tx.Model(&models.Gig{}).
				Where("id = ?", application.GigID).
				Update("status", models.GigStatusClosed).Error; err != nil {
				return err
			}
		}

		return enqueueOutbox(tx, decision.Outbox)
	})
	if err != nil {
		return models.Application{}, err
	}
	return application, nil
}

func enqueueOutbox(tx *gorm.DB, events []models.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	return tx.Create(&events).Error
}
