package service

import (
	"context"
	"time"

	"github.com/parlorhq/parlor/internal/domain"
)

// ChatService defines the interface for message business logic.
type ChatService interface {
	// SendMessage validates, persists, and fans out a message. The
	// returned response is what the sender's confirmation carries.
	// Authorization and recipient checks run before persistence.
	SendMessage(ctx context.Context, sender *domain.User, req *domain.SendMessageRequest) (*domain.MessageResponse, error)
	RoomMessages(ctx context.Context, limit, offset int, since *time.Time) (*domain.PaginatedMessages, error)
	DirectMessages(ctx context.Context, user *domain.User, limit, offset int, since *time.Time) (*domain.PaginatedMessages, error)
	UnreadRoomMessages(ctx context.Context, user *domain.User, limit, offset int) ([]domain.MessageResponse, error)
	UnreadDirectMessages(ctx context.Context, user *domain.User, limit, offset int) ([]domain.MessageResponse, error)
	UnreadCounts(ctx context.Context, user *domain.User) (domain.UnreadCounts, error)
	// MarkRead records a read receipt and reports whether it was newly
	// created. A repeat mark is not an error. A newly created receipt
	// notifies the message author over live push.
	MarkRead(ctx context.Context, user *domain.User, messageID string) (bool, error)
	MarkAllRead(ctx context.Context, user *domain.User) (int, error)
	MarkRoomRead(ctx context.Context, user *domain.User) (int, error)
	MarkDirectRead(ctx context.Context, user *domain.User, fromUsername string) (int, error)
	GetMessage(ctx context.Context, id string) (*domain.MessageResponse, error)
	UpdateMessageContent(ctx context.Context, actor *domain.User, id, content string) (*domain.MessageResponse, error)
	DeleteMessage(ctx context.Context, actor *domain.User, id string) error
}

// UserService defines the interface for identity business logic.
type UserService interface {
	Register(ctx context.Context, req *domain.RegisterRequest) (*domain.UserResponse, error)
	Profile(ctx context.Context, username string) (*domain.PublicProfile, error)
	ListChatUsers(ctx context.Context) ([]domain.PublicProfile, error)
	OnlineUsers(ctx context.Context) ([]domain.PublicProfile, error)
	UpdateLogo(ctx context.Context, user *domain.User, logo *string) error
	UpdateWebhook(ctx context.Context, user *domain.User, webhookURL *string) error
	UpdateUsername(ctx context.Context, user *domain.User, newUsername string) (*domain.UserResponse, error)
	RegenerateAPIKey(ctx context.Context, user *domain.User) (string, error)
	CreateBot(ctx context.Context, creator *domain.User, req *domain.CreateBotRequest) (*domain.UserResponse, error)
	MyBots(ctx context.Context, creator *domain.User) ([]domain.UserResponse, error)
	UpdateBot(ctx context.Context, caller *domain.User, botUsername string, req *domain.UpdateBotRequest) (*domain.UserResponse, error)
	DeleteBot(ctx context.Context, caller *domain.User, botUsername string) error
	RegenerateBotAPIKey(ctx context.Context, caller *domain.User, botUsername string) (string, error)
	ListUsers(ctx context.Context) ([]domain.UserResponse, error)
	GetUser(ctx context.Context, username string) (*domain.UserResponse, error)
	AdminUpdateUser(ctx context.Context, actor *domain.User, username string, req *domain.AdminUpdateUserRequest) (*domain.UserResponse, error)
	AdminDeleteUser(ctx context.Context, actor *domain.User, username string) error
	AssignRole(ctx context.Context, actor *domain.User, username, roleName string) (*domain.UserResponse, error)
	// EnsureBootstrapAdmin creates the named admin user if it does not
	// exist yet, logging the generated API key once.
	EnsureBootstrapAdmin(ctx context.Context, username string) error
}

// ConversationService defines the interface for conversation business
// logic.
type ConversationService interface {
	Create(ctx context.Context, creator *domain.User, req *domain.CreateConversationRequest) (*domain.ConversationResponse, error)
	List(ctx context.Context, user *domain.User, limit, offset int) (*domain.PaginatedConversations, error)
	Get(ctx context.Context, user *domain.User, id string) (*domain.ConversationResponse, error)
	Update(ctx context.Context, user *domain.User, id string, req *domain.UpdateConversationRequest) (*domain.ConversationResponse, error)
	Delete(ctx context.Context, user *domain.User, id string) error
	// AdminDelete removes any conversation regardless of ownership.
	AdminDelete(ctx context.Context, actor *domain.User, id string) error
}
