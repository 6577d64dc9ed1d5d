package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/unigigs-api/internal/models"
)

// OutboxRepository stores durable side effects awaiting delivery.
type OutboxRepository interface {
	Enqueue(ctx context.Context, events ...models.OutboxEvent) error
	// Claim flips due events to processing under claimToken. Events stuck in
	// processing since before staleBefore are reclaimed.
	Claim(ctx context.Context, claimToken string, now, staleBefore time.Time, limit int) ([]models.OutboxEvent, error)
	MarkDelivered(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, attempts int, lastError string) error
	// CountByStatus reports how many events sit in each status.
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type outboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository constructs a repository backed by GORM.
func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Enqueue(ctx context.Context, events ...models.OutboxEvent) error {
	return enqueueOutbox(r.db.WithContext(ctx), events)
}

func (r *outboxRepository) Claim(ctx context.Context, claimToken string, now, staleBefore time.Time, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	db := r.db.WithContext(ctx)
	var candidates []models.OutboxEvent
	if err := db.
		Where("(status = ? AND next_attempt_at <= ?) OR (status = ? AND updated_at < ?)",
			models.OutboxStatusPending, now, models.OutboxStatusProcessing, staleBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	claimed := make([]models.OutboxEvent, 0, len(candidates))
	for _, event := range candidates {
		// Compare-and-set on the observed status and claim: only one worker wins.
		result := db.Model(&models.OutboxEvent{}).
			Where("id = ? AND status = ? AND claimed_by = ?", event.ID, event.Status, event.ClaimedBy).
			Updates(map[string]interface{}{
				"status":     models.OutboxStatusProcessing,
				"claimed_by": claimToken,
				"updated_at": now,
			})
		if result.Error != nil {
			return claimed, result.Error
		}
		if result.RowsAffected == 1 {
			event.Status = models.OutboxStatusProcessing
			event.ClaimedBy = claimToken
			event.UpdatedAt = now
			claimed = append(claimed, event)
		}
	}

	return claimed, nil
}

func (r *outboxRepository) MarkDelivered(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.OutboxStatusDelivered,
			"last_error": "",
		}).Error
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastError string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          models.OutboxStatusPending,
			"attempts":        attempts,
			"next_attempt_at": next,
			"last_error":      lastError,
			"claimed_by":      "",
		}).Error
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.OutboxStatusFailed,
			"attempts":   attempts,
			"last_error": lastError,
		}).Error
}

func (r *outboxRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
