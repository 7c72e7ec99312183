package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/parlorhq/parlor/internal/domain"
	"github.com/parlorhq/parlor/internal/repository"
)

// conversationServiceImpl implements ConversationService.
type conversationServiceImpl struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
}

// NewConversationService creates a new conversation service.
func NewConversationService(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
) ConversationService {
	return &conversationServiceImpl{
		conversations: conversations,
		messages:      messages,
	}
}

// Create groups existing messages into a conversation. Every referenced
// message must exist.
func (s *conversationServiceImpl) Create(ctx context.Context, creator *domain.User, req *domain.CreateConversationRequest) (*domain.ConversationResponse, error) {
	if err := s.verifyMessageIDs(ctx, req.MessageIDs); err != nil {
		return nil, err
	}

	conv := &domain.Conversation{
		Title:       req.Title,
		Description: req.Description,
		MessageIDs:  req.MessageIDs,
		CreatedBy:   creator.Username,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}

	resp := conv.ToResponse()
	return &resp, nil
}

// List returns the caller's conversations, newest first. Viewers and
// admins see every conversation.
func (s *conversationServiceImpl) List(ctx context.Context, user *domain.User, limit, offset int) (*domain.PaginatedConversations, error) {
	limit, offset = clampWindow(limit, offset)

	all := user.IsViewer() || user.IsAdmin()
	conversations, total, err := s.conversations.List(ctx, user.Username, all, limit, offset)
	if err != nil {
		return nil, err
	}

	responses := make([]domain.ConversationResponse, len(conversations))
	for i, conv := range conversations {
		responses[i] = conv.ToResponse()
	}

	return &domain.PaginatedConversations{
		Conversations: responses,
		Pagination:    domain.NewPagination(total, offset, limit, len(conversations)),
	}, nil
}

// Get returns one conversation. Non-owners are rejected unless they are
// a viewer or an admin.
func (s *conversationServiceImpl) Get(ctx context.Context, user *domain.User, id string) (*domain.ConversationResponse, error) {
	conv, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.CreatedBy != user.Username && !user.IsViewer() && !user.IsAdmin() {
		return nil, &PermissionError{Reason: fmt.Sprintf("You don't have permission to view conversation %s", id)}
	}

	resp := conv.ToResponse()
	return &resp, nil
}

// Update changes a conversation's title, description, or message set.
// Only the owner or an admin may do this.
func (s *conversationServiceImpl) Update(ctx context.Context, user *domain.User, id string, req *domain.UpdateConversationRequest) (*domain.ConversationResponse, error) {
	conv, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.CreatedBy != user.Username && !user.IsAdmin() {
		return nil, &PermissionError{Reason: fmt.Sprintf("You don't have permission to update conversation %s", id)}
	}

	if req.MessageIDs != nil {
		if err := s.verifyMessageIDs(ctx, *req.MessageIDs); err != nil {
			return nil, err
		}
		conv.MessageIDs = *req.MessageIDs
	}
	if req.Title != nil {
		conv.Title = *req.Title
	}
	if req.Description != nil {
		conv.Description = *req.Description
	}

	if err := s.conversations.Update(ctx, conv); err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil, &NotFoundError{Resource: "Conversation", ID: id}
		}
		return nil, err
	}

	resp := conv.ToResponse()
	return &resp, nil
}

// Delete removes a conversation. Only the owner or an admin may do
// this. The referenced messages are untouched.
func (s *conversationServiceImpl) Delete(ctx context.Context, user *domain.User, id string) error {
	conv, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if conv.CreatedBy != user.Username && !user.IsAdmin() {
		return &PermissionError{Reason: fmt.Sprintf("You don't have permission to delete conversation %s", id)}
	}

	return s.remove(ctx, id)
}

// AdminDelete removes any conversation regardless of ownership. The
// admin gate sits on the route.
func (s *conversationServiceImpl) AdminDelete(ctx context.Context, actor *domain.User, id string) error {
	return s.remove(ctx, id)
}

func (s *conversationServiceImpl) remove(ctx context.Context, id string) error {
	if err := s.conversations.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return &NotFoundError{Resource: "Conversation", ID: id}
		}
		return err
	}
	return nil
}

func (s *conversationServiceImpl) find(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil, &NotFoundError{Resource: "Conversation", ID: id}
		}
		return nil, err
	}
	return conv, nil
}

func (s *conversationServiceImpl) verifyMessageIDs(ctx context.Context, ids []string) error {
	missing, err := s.messages.MissingIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &NotFoundError{Resource: "Message", ID: missing[0]}
	}
	return nil
}
