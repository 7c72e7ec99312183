package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/parlorhq/parlor/internal/domain"
)

// GormConversationRepository implements ConversationRepository using GORM.
type GormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository creates a new GORM-based conversation
// repository.
func NewGormConversationRepository(db *gorm.DB) *GormConversationRepository {
	return &GormConversationRepository{db: db}
}

// Create creates a new conversation.
func (r *GormConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	model := domain.ConversationToModel(conv)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	conv.CreatedAt = model.CreatedAt
	return nil
}

// GetByID retrieves a conversation by ID.
func (r *GormConversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	var model domain.ConversationModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// List returns conversations newest first with the total count, scoped
// to the creator unless all is set.
func (r *GormConversationRepository) List(ctx context.Context, createdBy string, all bool, limit, offset int) ([]*domain.Conversation, int, error) {
	scope := func(q *gorm.DB) *gorm.DB {
		if !all {
			q = q.Where("created_by = ?", createdBy)
		}
		return q
	}

	var total int64
	err := scope(r.db.WithContext(ctx).Model(&domain.ConversationModel{})).Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var models []domain.ConversationModel
	err = scope(r.db.WithContext(ctx)).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	conversations := make([]*domain.Conversation, len(models))
	for i := range models {
		conversations[i] = models[i].ToDomain()
	}
	return conversations, int(total), nil
}

// Update persists the mutable fields of a conversation.
func (r *GormConversationRepository) Update(ctx context.Context, conv *domain.Conversation) error {
	model := domain.ConversationToModel(conv)
	result := r.db.WithContext(ctx).Model(&domain.ConversationModel{}).
		Where("id = ?", conv.ID).
		Updates(map[string]interface{}{
			"title":       model.Title,
			"description": model.Description,
			"message_ids": model.MessageIDs,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// Delete removes a conversation.
func (r *GormConversationRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&domain.ConversationModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}
