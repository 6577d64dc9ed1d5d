package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/unigigs-api/internal/models"
)

// CommunityRepository persists chat communities.
type CommunityRepository interface {
	ListByUniversities(ctx context.Context, universities []string) ([]models.Community, error)
	FindByID(ctx context.Context, id string) (models.Community, error)
	Create(ctx context.Context, community *models.Community) error
	CreateBatch(ctx context.Context, communities []models.Community) error
}

type communityRepository struct {
	db *gorm.DB
}

// NewCommunityRepository constructs a repository backed by GORM.
func NewCommunityRepository(db *gorm.DB) CommunityRepository {
	return &communityRepository{db: db}
}

func (r *communityRepository) ListByUniversities(ctx context.Context, universities []string) ([]models.Community, error) {
	var communities []models.Community
	if err := r.db.WithContext(ctx).
		Where("university IN ?", universities).
		Order("name ASC").
		Find(&communities).Error; err != nil {
		return nil, err
	}
	return communities, nil
}

func (r *communityRepository) FindByID(ctx context.Context, id string) (models.Community, error) {
	var community models.Community
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&community).Error; err != nil {
		return models.Community{}, err
	}
	return community, nil
}

func (r *communityRepository) Create(ctx context.Context, community *models.Community) error {
	return r.db.WithContext(ctx).Create(community).Error
}

func (r *communityRepository) CreateBatch(ctx context.Context, communities []models.Community) error {
	if len(communities) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&communities).Error
}

// MessageRepository persists chat messages.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	FindByID(ctx context.Context, id string) (models.Message, error)
	// Latest returns the newest limit messages of a community in ascending order.
	Latest(ctx context.Context, communityID string, limit int) ([]models.Message, error)
	// ListBefore pages backwards from cursor, returning ascending order.
	ListBefore(ctx context.Context, communityID string, cursor MessageCursor, limit int) ([]models.Message, error)
}

// MessageCursor marks the oldest message a client already holds. Messages
// order by (CreatedAt, ID); without an ID every message at CreatedAt is skipped.
type MessageCursor struct {
	CreatedAt time.Time
	ID        string
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) FindByID(ctx context.Context, id string) (models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) Latest(ctx context.Context, communityID string, limit int) ([]models.Message, error) {
	return r.ListBefore(ctx, communityID, MessageCursor{}, limit)
}

func (r *messageRepository) ListBefore(ctx context.Context, communityID string, cursor MessageCursor, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := r.db.WithContext(ctx).Where("community_id = ?", communityID)
	switch {
	case cursor.CreatedAt.IsZero():
	case cursor.ID == "":
		query = query.Where("created_at < ?", cursor.CreatedAt)
	default:
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var messages []models.Message
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, err
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
