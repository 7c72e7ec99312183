package domain

import (
	"time"
)

// MessageType distinguishes room broadcasts, direct messages, and
// server-generated system notices.
type MessageType string

const (
	MessageTypeRoom   MessageType = "room"
	MessageTypeDirect MessageType = "direct"
	MessageTypeSystem MessageType = "system"
)

const (
	// MinContentLength and MaxContentLength bound message content.
	MinContentLength = 1
	MaxContentLength = 10000
)

// Message is a persisted chat message. ToUsername is empty for room
// broadcasts. Messages are immutable after persistence except for admin
// content edits and deletion.
type Message struct {
	ID           string      `json:"id"`
	FromUsername string      `json:"from_username"`
	ToUsername   string      `json:"to_username,omitempty"`
	Content      string      `json:"content"`
	MessageType  MessageType `json:"message_type"`
	Timestamp    time.Time   `json:"timestamp"`
}

// IsDirect reports whether the message targets a single recipient.
func (m *Message) IsDirect() bool {
	return m.ToUsername != ""
}

// SendMessageRequest is the body for POST /messages and the payload of a
// websocket "message" frame.
type SendMessageRequest struct {
	Content    string `json:"content" binding:"required,min=1,max=10000"`
	ToUsername string `json:"to_username"`
}

// AdminMessageUpdate is the body for PATCH /admin/messages/{id}.
type AdminMessageUpdate struct {
	Content string `json:"content" binding:"required,min=1,max=10000"`
}

// MessageResponse is the message shape on the wire. ToUsername stays
// null for room messages; timestamps serialize as ISO 8601. The
// from_user display fields are always present so clients can render the
// sender without an extra lookup.
type MessageResponse struct {
	ID            string      `json:"id"`
	FromUsername  string      `json:"from_username"`
	ToUsername    *string     `json:"to_username"`
	Content       string      `json:"content"`
	MessageType   MessageType `json:"message_type"`
	Timestamp     string      `json:"timestamp"`
	FromUserLogo  *string     `json:"from_user_logo"`
	FromUserEmoji *string     `json:"from_user_emoji"`
	FromUserBot   bool        `json:"from_user_bot"`
	ToUserLogo    *string     `json:"to_user_logo,omitempty"`
	ToUserEmoji   *string     `json:"to_user_emoji,omitempty"`
}

// NewMessageResponse converts the message to its wire shape, filling the
// display fields from the sender and recipient profiles when known.
func NewMessageResponse(m *Message, from, to *User) MessageResponse {
	resp := MessageResponse{
		ID:           m.ID,
		FromUsername: m.FromUsername,
		Content:      m.Content,
		MessageType:  m.MessageType,
		Timestamp:    m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if m.ToUsername != "" {
		to := m.ToUsername
		resp.ToUsername = &to
	}
	if from != nil {
		resp.FromUserLogo = optional(from.Logo)
		resp.FromUserEmoji = optional(from.Emoji)
		resp.FromUserBot = from.IsBot()
	}
	if to != nil {
		resp.ToUserLogo = optional(to.Logo)
		resp.ToUserEmoji = optional(to.Emoji)
	}
	return resp
}

// ToResponse converts the message to its wire shape without display
// metadata.
func (m *Message) ToResponse() MessageResponse {
	return NewMessageResponse(m, nil, nil)
}

// MessagesToResponses converts a slice of messages, preserving order and
// resolving display fields through the users map.
func MessagesToResponses(messages []*Message, users map[string]*User) []MessageResponse {
	out := make([]MessageResponse, len(messages))
	for i, m := range messages {
		out[i] = NewMessageResponse(m, users[m.FromUsername], users[m.ToUsername])
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Pagination describes the window a paginated query covered.
type Pagination struct {
	Total   int  `json:"total"`
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"has_more"`
}

// NewPagination computes pagination metadata for a window that returned
// the given number of rows out of total.
func NewPagination(total, offset, limit, returned int) Pagination {
	return Pagination{
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: offset+returned < total,
	}
}

// PaginatedMessages is the envelope for paginated history queries.
// Messages are ordered newest first.
type PaginatedMessages struct {
	Messages   []MessageResponse `json:"messages"`
	Pagination Pagination        `json:"pagination"`
}

// UnreadCounts reports unread totals per channel. TotalUnread is always
// the sum of the two parts.
type UnreadCounts struct {
	UnreadRoomMessages   int `json:"unread_room_messages"`
	UnreadDirectMessages int `json:"unread_direct_messages"`
	TotalUnread          int `json:"total_unread"`
}

// ReadReceipt records that a user has read a message. One row per
// (message, user) pair; marking twice never creates a second row.
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	Username  string    `json:"username"`
	ReadAt    time.Time `json:"read_at"`
}
