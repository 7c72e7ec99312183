package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parlorhq/parlor/internal/domain"
)

// GormMessageRepository implements MessageRepository using GORM. It owns
// both the messages table and the read_receipts table.
type GormMessageRepository struct {
	db           *gorm.DB
	historyLimit int
}

// NewGormMessageRepository creates a new GORM-based message repository.
// historyLimit caps the number of retained messages; zero disables
// pruning.
func NewGormMessageRepository(db *gorm.DB, historyLimit int) *GormMessageRepository {
	return &GormMessageRepository{db: db, historyLimit: historyLimit}
}

// Create persists the message and prunes the oldest rows beyond the
// retention limit. Receipts of pruned messages stay behind until the
// maintenance sweep collects them.
func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.MessageType == "" {
		if msg.IsDirect() {
			msg.MessageType = domain.MessageTypeDirect
		} else {
			msg.MessageType = domain.MessageTypeRoom
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(domain.MessageToModel(msg)).Error; err != nil {
			return err
		}
		return r.prune(tx)
	})
}

func (r *GormMessageRepository) prune(tx *gorm.DB) error {
	if r.historyLimit <= 0 {
		return nil
	}

	var count int64
	if err := tx.Model(&domain.MessageModel{}).Count(&count).Error; err != nil {
		return err
	}
	excess := int(count) - r.historyLimit
	if excess <= 0 {
		return nil
	}

	var ids []string
	err := tx.Model(&domain.MessageModel{}).
		Order("timestamp ASC").
		Limit(excess).
		Pluck("id", &ids).Error
	if err != nil {
		return err
	}
	return tx.Delete(&domain.MessageModel{}, "id IN ?", ids).Error
}

// GetByID retrieves a message by ID.
func (r *GormMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var model domain.MessageModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// roomScope filters to room messages, optionally after a timestamp.
func roomScope(q *gorm.DB, since *time.Time) *gorm.DB {
	q = q.Where("to_username = ''")
	if since != nil {
		q = q.Where("timestamp > ?", *since)
	}
	return q
}

// directScope filters to direct messages involving the user. viewerAll
// widens the result to every direct message system-wide.
func directScope(q *gorm.DB, username string, viewerAll bool, since *time.Time) *gorm.DB {
	q = q.Where("to_username <> ''")
	if !viewerAll {
		q = q.Where("to_username = ? OR from_username = ?", username, username)
	}
	if since != nil {
		q = q.Where("timestamp > ?", *since)
	}
	return q
}

// RoomMessages returns room messages newest first with the total count.
func (r *GormMessageRepository) RoomMessages(ctx context.Context, limit, offset int, since *time.Time) ([]*domain.Message, int, error) {
	var total int64
	err := roomScope(r.db.WithContext(ctx).Model(&domain.MessageModel{}), since).Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var models []domain.MessageModel
	err = roomScope(r.db.WithContext(ctx), since).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}
	return toMessages(models), int(total), nil
}

// DirectMessages returns direct messages involving the user newest
// first with the total count.
func (r *GormMessageRepository) DirectMessages(ctx context.Context, username string, viewerAll bool, limit, offset int, since *time.Time) ([]*domain.Message, int, error) {
	var total int64
	err := directScope(r.db.WithContext(ctx).Model(&domain.MessageModel{}), username, viewerAll, since).
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var models []domain.MessageModel
	err = directScope(r.db.WithContext(ctx), username, viewerAll, since).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}
	return toMessages(models), int(total), nil
}

// unreadScope joins receipts for the user and keeps messages with no
// receipt not authored by the user.
func unreadScope(q *gorm.DB, username string) *gorm.DB {
	return q.
		Joins("LEFT JOIN read_receipts ON read_receipts.message_id = messages.id AND read_receipts.username = ?", username).
		Where("read_receipts.message_id IS NULL").
		Where("messages.from_username <> ?", username)
}

// UnreadRoomMessages returns unread room messages newest first.
func (r *GormMessageRepository) UnreadRoomMessages(ctx context.Context, username string, limit, offset int) ([]*domain.Message, error) {
	var models []domain.MessageModel
	err := unreadScope(r.db.WithContext(ctx).Model(&domain.MessageModel{}), username).
		Where("messages.to_username = ''").
		Order("messages.timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toMessages(models), nil
}

// UnreadDirectMessages returns unread direct messages newest first.
func (r *GormMessageRepository) UnreadDirectMessages(ctx context.Context, username string, viewerAll bool, limit, offset int) ([]*domain.Message, error) {
	q := unreadScope(r.db.WithContext(ctx).Model(&domain.MessageModel{}), username).
		Where("messages.to_username <> ''")
	if !viewerAll {
		q = q.Where("messages.to_username = ? OR messages.from_username = ?", username, username)
	}

	var models []domain.MessageModel
	err := q.Order("messages.timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toMessages(models), nil
}

// UnreadCounts returns the unread triple for a user. The total is
// always the sum of the room and direct parts.
func (r *GormMessageRepository) UnreadCounts(ctx context.Context, username string, viewerAll bool) (domain.UnreadCounts, error) {
	var room int64
	err := unreadScope(r.db.WithContext(ctx).Model(&domain.MessageModel{}), username).
		Where("messages.to_username = ''").
		Count(&room).Error
	if err != nil {
		return domain.UnreadCounts{}, err
	}

	q := unreadScope(r.db.WithContext(ctx).Model(&domain.MessageModel{}), username).
		Where("messages.to_username <> ''")
	if !viewerAll {
		q = q.Where("messages.to_username = ? OR messages.from_username = ?", username, username)
	}
	var direct int64
	if err := q.Count(&direct).Error; err != nil {
		return domain.UnreadCounts{}, err
	}

	return domain.UnreadCounts{
		UnreadRoomMessages:   int(room),
		UnreadDirectMessages: int(direct),
		TotalUnread:          int(room) + int(direct),
	}, nil
}

// MarkRead records a read receipt, reporting whether a new receipt was
// created. Marking an already-read message is not an error.
func (r *GormMessageRepository) MarkRead(ctx context.Context, messageID, username string) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&domain.MessageModel{}).Where("id = ?", messageID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return ErrMessageNotFound
		}

		var receipts int64
		err := tx.Model(&domain.ReadReceiptModel{}).
			Where("message_id = ? AND username = ?", messageID, username).
			Count(&receipts).Error
		if err != nil {
			return err
		}
		if receipts > 0 {
			return nil
		}

		receipt := domain.ReadReceiptModel{
			MessageID: messageID,
			Username:  username,
			ReadAt:    time.Now().UTC(),
		}
		if err := tx.Create(&receipt).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

// MarkAllRead inserts receipts for every unread message visible to the
// user and returns the number inserted.
func (r *GormMessageRepository) MarkAllRead(ctx context.Context, username string, viewerAll bool) (int, error) {
	q := unreadScope(r.db.WithContext(ctx).Model(&domain.MessageModel{}), username)
	if !viewerAll {
		q = q.Where("messages.to_username = '' OR messages.to_username = ? OR messages.from_username = ?", username, username)
	}
	return r.insertReceipts(ctx, q, username)
}

// MarkRoomRead inserts receipts for every unread room message.
func (r *GormMessageRepository) MarkRoomRead(ctx context.Context, username string) (int, error) {
	q := unreadScope(r.db.WithContext(ctx).Model(&domain.MessageModel{}), username).
		Where("messages.to_username = ''")
	return r.insertReceipts(ctx, q, username)
}

// MarkDirectRead inserts receipts for every unread direct message from
// the given sender.
func (r *GormMessageRepository) MarkDirectRead(ctx context.Context, username, fromUsername string, viewerAll bool) (int, error) {
	q := unreadScope(r.db.WithContext(ctx).Model(&domain.MessageModel{}), username).
		Where("messages.to_username <> ''").
		Where("messages.from_username = ?", fromUsername)
	if !viewerAll {
		q = q.Where("messages.to_username = ?", username)
	}
	return r.insertReceipts(ctx, q, username)
}

func (r *GormMessageRepository) insertReceipts(ctx context.Context, q *gorm.DB, username string) (int, error) {
	var ids []string
	if err := q.Pluck("messages.id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	readAt := time.Now().UTC()
	receipts := make([]domain.ReadReceiptModel, len(ids))
	for i, id := range ids {
		receipts[i] = domain.ReadReceiptModel{MessageID: id, Username: username, ReadAt: readAt}
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&receipts).Error
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// UpdateContent replaces a message's content.
func (r *GormMessageRepository) UpdateContent(ctx context.Context, id, content string) error {
	result := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("id = ?", id).
		Update("content", content)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Delete removes a message. Its receipts stay behind until the
// maintenance sweep collects them.
func (r *GormMessageRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&domain.MessageModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MissingIDs reports which of the given message ids do not exist,
// preserving input order.
func (r *GormMessageRepository) MissingIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var found []string
	err := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error
	if err != nil {
		return nil, err
	}

	exists := make(map[string]bool, len(found))
	for _, id := range found {
		exists[id] = true
	}
	var missing []string
	for _, id := range ids {
		if !exists[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// DeleteOrphanReceipts removes receipts whose message no longer exists
// and returns the number removed.
func (r *GormMessageRepository) DeleteOrphanReceipts(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("message_id NOT IN (?)", r.db.Model(&domain.MessageModel{}).Select("id")).
		Delete(&domain.ReadReceiptModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func toMessages(models []domain.MessageModel) []*domain.Message {
	messages := make([]*domain.Message, len(models))
	for i := range models {
		messages[i] = models[i].ToDomain()
	}
	return messages
}
