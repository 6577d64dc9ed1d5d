package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/unigigs-api/internal/models"
)

// PushSubscriptionRepository persists browser push endpoints.
type PushSubscriptionRepository interface {
	// Upsert stores the endpoint for the user and records it as the user's latest token.
	Upsert(ctx context.Context, subscription *models.PushSubscription) error
	Delete(ctx context.Context, userID, endpoint string) error
	DeleteByEndpoint(ctx context.Context, endpoint string) error
	ListByUser(ctx context.Context, userID string) ([]models.PushSubscription, error)
}

type pushSubscriptionRepository struct {
	db *gorm.DB
}

// NewPushSubscriptionRepository constructs a repository backed by GORM.
func NewPushSubscriptionRepository(db *gorm.DB) PushSubscriptionRepository {
	return &pushSubscriptionRepository{db: db}
}

func (r *pushSubscriptionRepository) Upsert(ctx context.Context, subscription *models.PushSubscription) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "auth", "p256dh", "updated_at"}),
		}).Create(subscription).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).
			Where("id = ?", subscription.UserID).
			Update("fcm_token", subscription.Endpoint).Error
	})
}

func (r *pushSubscriptionRepository) Delete(ctx context.Context, userID, endpoint string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND endpoint = ?", userID, endpoint).
			Delete(&models.PushSubscription{}).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).
			Where("id = ? AND fcm_token = ?", userID, endpoint).
			Update("fcm_token", "").Error
	})
}

func (r *pushSubscriptionRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	return r.db.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&models.PushSubscription{}).Error
}

func (r *pushSubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	var subscriptions []models.PushSubscription
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subscriptions).Error; err != nil {
		return nil, err
	}
	return subscriptions, nil
}
