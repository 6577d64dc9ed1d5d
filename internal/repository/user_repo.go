package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/unigigs-api/internal/models"
)

// UserRepository persists User profile records.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.User, error)
	Update(ctx context.Context, id string, updates map[string]interface{}) (models.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository constructs a repository backed by GORM.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r *userRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// Update applies column updates given as a map so false booleans are written.
func (r *userRepository) Update(ctx context.Context, id string, updates map[string]interface{}) (models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&user).Error; err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).First(&user).Error
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// AuthAccountRepository persists sign-in identities.
type AuthAccountRepository interface {
	FindByProviderSubject(ctx context.Context, provider, subject string) (models.AuthAccount, error)
	// CreateWithUser stores the account and, when user is non-nil, its profile in one transaction.
	CreateWithUser(ctx context.Context, account *models.AuthAccount, user *models.User) error
	// EnsureUser creates the profile unless one already exists for user.ID.
	EnsureUser(ctx context.Context, user *models.User) (bool, error)
	UpdateProfile(ctx context.Context, userID, displayName, photoURL string) error
}

type authAccountRepository struct {
	db *gorm.DB
}

// NewAuthAccountRepository constructs a repository backed by GORM.
func NewAuthAccountRepository(db *gorm.DB) AuthAccountRepository {
	return &authAccountRepository{db: db}
}

func (r *authAccountRepository) FindByProviderSubject(ctx context.Context, provider, subject string) (models.AuthAccount, error) {
	var account models.AuthAccount
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		First(&account).Error; err != nil {
		return models.AuthAccount{}, err
	}
	return account, nil
}

func (r *authAccountRepository) CreateWithUser(ctx context.Context, account *models.AuthAccount, user *models.User) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if user != nil {
			if err := tx.Create(user).Error; err != nil {
				return err
			}
			account.UserID = user.ID
		}
		return tx.Create(account).Error
	})
}

func (r *authAccountRepository) EnsureUser(ctx context.Context, user *models.User) (bool, error) {
	var existing models.User
	err := r.db.WithContext(ctx).Where("id = ?", user.ID).First(&existing).Error
	if err == nil {
		*user = existing
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A concurrent sign-in created it first.
			return false, r.db.WithContext(ctx).Where("id = ?", user.ID).First(user).Error
		}
		return false, err
	}
	return true, nil
}

func (r *authAccountRepository) UpdateProfile(ctx context.Context, userID, displayName, photoURL string) error {
	updates := map[string]interface{}{}
	if displayName != "" {
		updates["display_name"] = displayName
	}
	if photoURL != "" {
		updates["photo_url"] = photoURL
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.AuthAccount{}).Where("user_id = ?", userID).Updates(updates).Error
}
