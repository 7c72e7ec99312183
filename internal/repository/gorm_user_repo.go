package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/parlorhq/parlor/internal/domain"
)

// GormUserRepository implements UserRepository using GORM.
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based user repository.
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// Create creates a new user.
func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	model := domain.UserToModel(user)
	result := r.db.WithContext(ctx).Create(model)
	if result.Error != nil {
		return r.handleError(result.Error)
	}

	user.CreatedAt = model.CreatedAt
	return nil
}

// GetByID retrieves a user by ID.
func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var model domain.UserModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// GetByUsername retrieves a user by username.
func (r *GormUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	var model domain.UserModel
	result := r.db.WithContext(ctx).First(&model, "username = ?", username)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// GetByAPIKey retrieves a user by API key.
func (r *GormUserRepository) GetByAPIKey(ctx context.Context, apiKey string) (*domain.User, error) {
	var model domain.UserModel
	result := r.db.WithContext(ctx).First(&model, "api_key = ?", apiKey)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// List retrieves all users ordered by creation time.
func (r *GormUserRepository) List(ctx context.Context) ([]*domain.User, error) {
	var models []domain.UserModel
	result := r.db.WithContext(ctx).Order("created_at ASC").Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}
	return toUsers(models), nil
}

// ListChatUsers retrieves all non-viewer users ordered by creation time.
func (r *GormUserRepository) ListChatUsers(ctx context.Context) ([]*domain.User, error) {
	var models []domain.UserModel
	result := r.db.WithContext(ctx).
		Where("role <> ?", string(domain.RoleViewer)).
		Order("created_at ASC").
		Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}
	return toUsers(models), nil
}

// ListByUsernames resolves users in bulk, keyed by username. Unknown
// usernames are simply absent from the result.
func (r *GormUserRepository) ListByUsernames(ctx context.Context, usernames []string) (map[string]*domain.User, error) {
	out := make(map[string]*domain.User, len(usernames))
	if len(usernames) == 0 {
		return out, nil
	}
	var models []domain.UserModel
	result := r.db.WithContext(ctx).Where("username IN ?", usernames).Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}
	for i := range models {
		u := models[i].ToDomain()
		out[u.Username] = u
	}
	return out, nil
}

// ListBotsByCreator retrieves bots created by the given username.
func (r *GormUserRepository) ListBotsByCreator(ctx context.Context, creator string) ([]*domain.User, error) {
	var models []domain.UserModel
	result := r.db.WithContext(ctx).
		Where("role = ? AND created_by = ?", string(domain.RoleBot), creator).
		Order("created_at ASC").
		Find(&models)
	if result.Error != nil {
		return nil, result.Error
	}
	return toUsers(models), nil
}

// Update persists every mutable field of the user.
func (r *GormUserRepository) Update(ctx context.Context, user *domain.User) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model domain.UserModel
		if err := tx.First(&model, "id = ?", user.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		updates := map[string]interface{}{
			"username":    user.Username,
			"api_key":     user.APIKey,
			"email":       user.Email,
			"webhook_url": user.WebhookURL,
			"logo":        user.Logo,
			"emoji":       user.Emoji,
			"role":        string(user.Role),
			"created_by":  user.CreatedBy,
		}
		if err := tx.Model(&domain.UserModel{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			return r.handleError(err)
		}
		return nil
	})
}

// Delete removes a user by username.
func (r *GormUserRepository) Delete(ctx context.Context, username string) error {
	result := r.db.WithContext(ctx).Delete(&domain.UserModel{}, "username = ?", username)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func toUsers(models []domain.UserModel) []*domain.User {
	users := make([]*domain.User, len(models))
	for i := range models {
		users[i] = models[i].ToDomain()
	}
	return users
}

// handleError converts database-specific errors to domain errors.
func (r *GormUserRepository) handleError(err error) error {
	errStr := err.Error()

	// PostgreSQL and SQLite unique constraint violations
	if strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "UNIQUE constraint") {
		return ErrUsernameExists
	}

	// MySQL unique constraint violation
	if strings.Contains(errStr, "Duplicate entry") {
		return ErrUsernameExists
	}

	return err
}
