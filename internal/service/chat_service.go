package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/parlorhq/parlor/internal/audit"
	"github.com/parlorhq/parlor/internal/domain"
	"github.com/parlorhq/parlor/internal/repository"
)

// MessageRouter fans persisted messages out to their delivery channels.
type MessageRouter interface {
	RouteRoom(ctx context.Context, response *domain.MessageResponse)
	RouteDirect(ctx context.Context, response *domain.MessageResponse, recipient *domain.User)
}

// ReceiptNotifier pushes read-receipt notifications at a user's live
// connections.
type ReceiptNotifier interface {
	SendToUser(ctx context.Context, username string, payload []byte) bool
}

// chatServiceImpl implements ChatService.
type chatServiceImpl struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	router   MessageRouter
	live     ReceiptNotifier
}

// NewChatService creates a new chat service.
func NewChatService(
	messages repository.MessageRepository,
	users repository.UserRepository,
	router MessageRouter,
	live ReceiptNotifier,
) ChatService {
	return &chatServiceImpl{
		messages: messages,
		users:    users,
		router:   router,
		live:     live,
	}
}

// SendMessage validates and persists a message, then hands it to the
// router. The permission and recipient checks run before persistence,
// so a rejected send leaves no message row behind. Delivery failures
// past this point never surface to the sender.
func (s *chatServiceImpl) SendMessage(ctx context.Context, sender *domain.User, req *domain.SendMessageRequest) (*domain.MessageResponse, error) {
	if req.Content == "" {
		return nil, ErrContentRequired
	}
	if utf8.RuneCountInString(req.Content) > domain.MaxContentLength {
		return nil, &UnprocessableError{Reason: fmt.Sprintf("Message content exceeds the maximum length of %d characters", domain.MaxContentLength)}
	}

	if req.ToUsername == "" {
		return s.sendRoom(ctx, sender, req.Content)
	}
	return s.sendDirect(ctx, sender, req.ToUsername, req.Content)
}

func (s *chatServiceImpl) sendRoom(ctx context.Context, sender *domain.User, content string) (*domain.MessageResponse, error) {
	if !sender.HasPermission(domain.PermSendRoomMessage) {
		return nil, errRoomSendDenied(sender.Role)
	}

	msg := &domain.Message{
		FromUsername: sender.Username,
		Content:      content,
		MessageType:  domain.MessageTypeRoom,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	resp := domain.NewMessageResponse(msg, sender, nil)
	s.router.RouteRoom(ctx, &resp)

	audit.LogWithTarget(ctx, audit.ActionSendMessage, sender.Username, msg.ID, "room message sent")
	return &resp, nil
}

func (s *chatServiceImpl) sendDirect(ctx context.Context, sender *domain.User, toUsername, content string) (*domain.MessageResponse, error) {
	if !sender.HasPermission(domain.PermSendDirectMessage) {
		return nil, errDirectSendDenied(sender.Role)
	}

	recipient, err := s.users.GetByUsername(ctx, toUsername)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, &NotFoundError{Resource: "User", ID: toUsername}
		}
		return nil, err
	}
	if recipient.IsViewer() {
		return nil, errViewerRecipient(recipient.Username)
	}
	if recipient.IsBot() {
		return nil, errBotRecipient(recipient.Username)
	}

	msg := &domain.Message{
		FromUsername: sender.Username,
		ToUsername:   toUsername,
		Content:      content,
		MessageType:  domain.MessageTypeDirect,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	resp := domain.NewMessageResponse(msg, sender, recipient)
	s.router.RouteDirect(ctx, &resp, recipient)

	audit.LogWithTarget(ctx, audit.ActionSendMessage, sender.Username, msg.ID, "direct message sent")
	return &resp, nil
}

// RoomMessages returns paginated room history, newest first.
func (s *chatServiceImpl) RoomMessages(ctx context.Context, limit, offset int, since *time.Time) (*domain.PaginatedMessages, error) {
	limit, offset = clampWindow(limit, offset)

	messages, total, err := s.messages.RoomMessages(ctx, limit, offset, since)
	if err != nil {
		return nil, err
	}

	responses, err := s.decorate(ctx, messages)
	if err != nil {
		return nil, err
	}

	return &domain.PaginatedMessages{
		Messages:   responses,
		Pagination: domain.NewPagination(total, offset, limit, len(messages)),
	}, nil
}

// DirectMessages returns paginated direct history for the user. Viewers
// see every direct message system-wide.
func (s *chatServiceImpl) DirectMessages(ctx context.Context, user *domain.User, limit, offset int, since *time.Time) (*domain.PaginatedMessages, error) {
	limit, offset = clampWindow(limit, offset)

	messages, total, err := s.messages.DirectMessages(ctx, user.Username, user.IsViewer(), limit, offset, since)
	if err != nil {
		return nil, err
	}

	responses, err := s.decorate(ctx, messages)
	if err != nil {
		return nil, err
	}

	return &domain.PaginatedMessages{
		Messages:   responses,
		Pagination: domain.NewPagination(total, offset, limit, len(messages)),
	}, nil
}

// UnreadRoomMessages returns room messages the user has not read,
// excluding their own.
func (s *chatServiceImpl) UnreadRoomMessages(ctx context.Context, user *domain.User, limit, offset int) ([]domain.MessageResponse, error) {
	limit, offset = clampWindow(limit, offset)

	messages, err := s.messages.UnreadRoomMessages(ctx, user.Username, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, messages)
}

// UnreadDirectMessages returns direct messages the user has not read.
func (s *chatServiceImpl) UnreadDirectMessages(ctx context.Context, user *domain.User, limit, offset int) ([]domain.MessageResponse, error) {
	limit, offset = clampWindow(limit, offset)

	messages, err := s.messages.UnreadDirectMessages(ctx, user.Username, user.IsViewer(), limit, offset)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, messages)
}

// UnreadCounts returns per-channel unread totals.
func (s *chatServiceImpl) UnreadCounts(ctx context.Context, user *domain.User) (domain.UnreadCounts, error) {
	return s.messages.UnreadCounts(ctx, user.Username, user.IsViewer())
}

// MarkRead records a read receipt for the message. A newly created
// receipt notifies the author's live connections; marking again is a
// no-op that still succeeds.
func (s *chatServiceImpl) MarkRead(ctx context.Context, user *domain.User, messageID string) (bool, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return false, &NotFoundError{Resource: "Message", ID: messageID}
		}
		return false, err
	}

	created, err := s.messages.MarkRead(ctx, messageID, user.Username)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return false, &NotFoundError{Resource: "Message", ID: messageID}
		}
		return false, err
	}

	if created && msg.FromUsername != user.Username {
		s.notifyAuthor(ctx, msg.FromUsername, messageID, user.Username)
	}
	return created, nil
}

// MarkAllRead marks every unread message visible to the user as read.
func (s *chatServiceImpl) MarkAllRead(ctx context.Context, user *domain.User) (int, error) {
	return s.messages.MarkAllRead(ctx, user.Username, user.IsViewer())
}

// MarkRoomRead marks every unread room message as read.
func (s *chatServiceImpl) MarkRoomRead(ctx context.Context, user *domain.User) (int, error) {
	return s.messages.MarkRoomRead(ctx, user.Username)
}

// MarkDirectRead marks unread direct messages from one sender as read.
func (s *chatServiceImpl) MarkDirectRead(ctx context.Context, user *domain.User, fromUsername string) (int, error) {
	return s.messages.MarkDirectRead(ctx, user.Username, fromUsername, user.IsViewer())
}

// GetMessage returns a single message by id.
func (s *chatServiceImpl) GetMessage(ctx context.Context, id string) (*domain.MessageResponse, error) {
	msg, err := s.messages.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return nil, &NotFoundError{Resource: "Message", ID: id}
		}
		return nil, err
	}

	responses, err := s.decorate(ctx, []*domain.Message{msg})
	if err != nil {
		return nil, err
	}
	return &responses[0], nil
}

// UpdateMessageContent replaces a message's content.
func (s *chatServiceImpl) UpdateMessageContent(ctx context.Context, actor *domain.User, id, content string) (*domain.MessageResponse, error) {
	if content == "" {
		return nil, ErrContentRequired
	}
	if utf8.RuneCountInString(content) > domain.MaxContentLength {
		return nil, &UnprocessableError{Reason: fmt.Sprintf("Message content exceeds the maximum length of %d characters", domain.MaxContentLength)}
	}

	if err := s.messages.UpdateContent(ctx, id, content); err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return nil, &NotFoundError{Resource: "Message", ID: id}
		}
		return nil, err
	}

	audit.LogWithTarget(ctx, audit.ActionUpdateMessage, actor.Username, id, "message content updated")
	return s.GetMessage(ctx, id)
}

// DeleteMessage removes a message. Read receipts referencing it are
// reclaimed later by the janitor sweep.
func (s *chatServiceImpl) DeleteMessage(ctx context.Context, actor *domain.User, id string) error {
	if err := s.messages.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return &NotFoundError{Resource: "Message", ID: id}
		}
		return err
	}

	audit.LogWithTarget(ctx, audit.ActionDeleteMessage, actor.Username, id, "message deleted")
	return nil
}

func (s *chatServiceImpl) notifyAuthor(ctx context.Context, author, messageID, readBy string) {
	payload, err := json.Marshal(domain.NewReadReceiptFrame(messageID, readBy))
	if err != nil {
		return
	}
	s.live.SendToUser(ctx, author, payload)
}

// decorate resolves sender and recipient display profiles in bulk.
func (s *chatServiceImpl) decorate(ctx context.Context, messages []*domain.Message) ([]domain.MessageResponse, error) {
	users, err := s.users.ListByUsernames(ctx, messageUsernames(messages))
	if err != nil {
		return nil, err
	}
	return domain.MessagesToResponses(messages, users), nil
}

func messageUsernames(messages []*domain.Message) []string {
	seen := make(map[string]bool, len(messages))
	names := make([]string, 0, len(messages))
	for _, m := range messages {
		if !seen[m.FromUsername] {
			seen[m.FromUsername] = true
			names = append(names, m.FromUsername)
		}
		if m.ToUsername != "" && !seen[m.ToUsername] {
			seen[m.ToUsername] = true
			names = append(names, m.ToUsername)
		}
	}
	return names
}

func clampWindow(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
