package repository

import (
	"context"
	"errors"
	"time"

	"github.com/parlorhq/parlor/internal/domain"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUsernameExists       = errors.New("username already exists")
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationNotFound = errors.New("conversation not found")
)

// UserRepository defines the interface for user persistence.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*domain.User, error)
	// List returns every user ordered by creation time.
	List(ctx context.Context) ([]*domain.User, error)
	// ListChatUsers returns every non-viewer user.
	ListChatUsers(ctx context.Context) ([]*domain.User, error)
	// ListByUsernames resolves users in bulk for display decoration.
	ListByUsernames(ctx context.Context, usernames []string) (map[string]*domain.User, error)
	// ListBotsByCreator returns bots created by the given username.
	ListBotsByCreator(ctx context.Context, creator string) ([]*domain.User, error)
	// Update persists every mutable field of the user.
	Update(ctx context.Context, user *domain.User) error
	Delete(ctx context.Context, username string) error
}

// MessageRepository defines the interface for message and read-receipt
// persistence. History queries return messages newest first together
// with the total count matching the filter.
type MessageRepository interface {
	// Create persists the message and prunes the oldest rows beyond the
	// retention limit.
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	RoomMessages(ctx context.Context, limit, offset int, since *time.Time) ([]*domain.Message, int, error)
	// DirectMessages returns direct messages involving the user, or all
	// direct messages when viewerAll is set.
	DirectMessages(ctx context.Context, username string, viewerAll bool, limit, offset int, since *time.Time) ([]*domain.Message, int, error)
	UnreadRoomMessages(ctx context.Context, username string, limit, offset int) ([]*domain.Message, error)
	UnreadDirectMessages(ctx context.Context, username string, viewerAll bool, limit, offset int) ([]*domain.Message, error)
	UnreadCounts(ctx context.Context, username string, viewerAll bool) (domain.UnreadCounts, error)
	// MarkRead records a read receipt, reporting whether a new receipt
	// was created. Unknown message ids yield ErrMessageNotFound.
	MarkRead(ctx context.Context, messageID, username string) (bool, error)
	MarkAllRead(ctx context.Context, username string, viewerAll bool) (int, error)
	MarkRoomRead(ctx context.Context, username string) (int, error)
	MarkDirectRead(ctx context.Context, username, fromUsername string, viewerAll bool) (int, error)
	UpdateContent(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
	// MissingIDs reports which of the given message ids do not exist.
	MissingIDs(ctx context.Context, ids []string) ([]string, error)
	// DeleteOrphanReceipts removes receipts whose message is gone.
	DeleteOrphanReceipts(ctx context.Context) (int64, error)
}

// ConversationRepository defines the interface for conversation
// persistence.
type ConversationRepository interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)
	// List returns conversations newest first, scoped to the creator
	// unless all is set.
	List(ctx context.Context, createdBy string, all bool, limit, offset int) ([]*domain.Conversation, int, error)
	Update(ctx context.Context, conv *domain.Conversation) error
	Delete(ctx context.Context, id string) error
}
