package domain

import (
	"time"
)

// Conversation is a curated, ordered collection of message ids with an
// optional title and description. Conversations reference messages, they
// do not copy them.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	MessageIDs  []string  `json:"message_ids"`
	CreatedBy   string    `json:"created_by_username"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateConversationRequest is the body for POST /conversations. Every
// referenced message must exist.
type CreateConversationRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	MessageIDs  []string `json:"message_ids" binding:"required"`
}

// UpdateConversationRequest is the body for PATCH /conversations/{id}.
type UpdateConversationRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	MessageIDs  *[]string `json:"message_ids"`
}

// ConversationResponse is the conversation shape on the wire. Title and
// description stay present as explicit nulls when unset.
type ConversationResponse struct {
	ID          string   `json:"id"`
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	MessageIDs  []string `json:"message_ids"`
	CreatedBy   string   `json:"created_by_username"`
	CreatedAt   string   `json:"created_at"`
}

// ToResponse converts the conversation to its wire shape.
func (c *Conversation) ToResponse() ConversationResponse {
	ids := c.MessageIDs
	if ids == nil {
		ids = []string{}
	}
	return ConversationResponse{
		ID:          c.ID,
		Title:       optional(c.Title),
		Description: optional(c.Description),
		MessageIDs:  ids,
		CreatedBy:   c.CreatedBy,
		CreatedAt:   c.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// PaginatedConversations is the envelope for conversation listings.
type PaginatedConversations struct {
	Conversations []ConversationResponse `json:"conversations"`
	Pagination    Pagination             `json:"pagination"`
}
