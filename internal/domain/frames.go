package domain

import (
	"time"
)

// WebSocket frame types from client. A frame without a type field is
// treated as FrameTypeMessage for backward compatibility.
const (
	FrameTypeMessage                 = "message"
	FrameTypePong                    = "pong"
	FrameTypeMarkRead                = "mark_read"
	FrameTypeMarkAllRead             = "mark_all_read"
	FrameTypeMarkRoomRead            = "mark_room_read"
	FrameTypeMarkDirectRead          = "mark_direct_read"
	FrameTypeGetUnreadCount          = "get_unread_count"
	FrameTypeGetMessages             = "get_messages"
	FrameTypeGetDirectMessages       = "get_direct_messages"
	FrameTypeGetUnreadMessages       = "get_unread_messages"
	FrameTypeGetUnreadDirectMessages = "get_unread_direct_messages"
	FrameTypeGetUsers                = "get_users"
	FrameTypeGetOnlineUsers          = "get_online_users"
	FrameTypeGetUserProfile          = "get_user_profile"
	FrameTypeDeleteMessage           = "delete_message"
	FrameTypeCreateConversation      = "create_conversation"
	FrameTypeGetConversations        = "get_conversations"
	FrameTypeGetConversation         = "get_conversation"
	FrameTypeUpdateConversation      = "update_conversation"
	FrameTypeDeleteConversation      = "delete_conversation"
)

// WebSocket frame types to client.
const (
	FrameTypePing                 = "ping"
	FrameTypeMessageSent          = "message_sent"
	FrameTypeError                = "error"
	FrameTypeReadReceipt          = "read_receipt"
	FrameTypeMarkedRead           = "marked_read"
	FrameTypeMarkedAllRead        = "marked_all_read"
	FrameTypeMarkedRoomRead       = "marked_room_read"
	FrameTypeMarkedDirectRead     = "marked_direct_read"
	FrameTypeUnreadCount          = "unread_count"
	FrameTypeMessages             = "messages"
	FrameTypeDirectMessages       = "direct_messages"
	FrameTypeUnreadMessages       = "unread_messages"
	FrameTypeUnreadDirectMessages = "unread_direct_messages"
	FrameTypeUsers                = "users"
	FrameTypeOnlineUsers          = "online_users"
	FrameTypeUserProfile          = "user_profile"
	FrameTypeMessageDeleted       = "message_deleted"
	FrameTypeConversationCreated  = "conversation_created"
	FrameTypeConversations        = "conversations"
	FrameTypeConversation         = "conversation"
	FrameTypeConversationUpdated  = "conversation_updated"
	FrameTypeConversationDeleted  = "conversation_deleted"
)

// BaseFrame carries only the discriminator; handlers re-unmarshal the
// raw frame into the typed payload for the dispatched type.
type BaseFrame struct {
	Type string `json:"type"`
}

// Client -> Server frames

type MessageFrame struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	ToUsername string `json:"to_username"`
}

type MarkReadFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type MarkDirectReadFrame struct {
	Type         string `json:"type"`
	FromUsername string `json:"from_username"`
}

type HistoryQueryFrame struct {
	Type   string `json:"type"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	Since  string `json:"since"`
}

type UserProfileQueryFrame struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type DeleteMessageFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type CreateConversationFrame struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	MessageIDs  []string `json:"message_ids"`
}

type ConversationQueryFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
}

type UpdateConversationFrame struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Title          *string   `json:"title"`
	Description    *string   `json:"description"`
	MessageIDs     *[]string `json:"message_ids"`
}

// Server -> Client frames

// PingFrame is the liveness probe pushed on the probe interval.
type PingFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// NewPingFrame builds a probe frame stamped with the current time.
func NewPingFrame() PingFrame {
	return PingFrame{
		Type:      FrameTypePing,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// MessageSentFrame confirms persistence to the sender.
type MessageSentFrame struct {
	Type    string          `json:"type"`
	Status  string          `json:"status"`
	Message MessageResponse `json:"message"`
}

// NewMessageSentFrame builds the confirmation for a persisted message.
func NewMessageSentFrame(msg MessageResponse) MessageSentFrame {
	return MessageSentFrame{
		Type:    FrameTypeMessageSent,
		Status:  "sent",
		Message: msg,
	}
}

// ErrorFrame reports a per-frame failure without closing the connection.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewErrorFrame builds an error frame.
func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: FrameTypeError, Error: message}
}

// ReadReceiptFrame notifies a message author that someone read it.
type ReadReceiptFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	ReadBy    string `json:"read_by"`
}

// NewReadReceiptFrame builds a read-receipt notification.
func NewReadReceiptFrame(messageID, readBy string) ReadReceiptFrame {
	return ReadReceiptFrame{
		Type:      FrameTypeReadReceipt,
		MessageID: messageID,
		ReadBy:    readBy,
	}
}

type MarkedReadFrame struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	MessageID string `json:"message_id,omitempty"`
}

type MarkedCountFrame struct {
	Type         string `json:"type"`
	Status       string `json:"status"`
	MarkedAsRead int    `json:"marked_as_read"`
}

type UnreadCountFrame struct {
	Type                 string `json:"type"`
	UnreadRoomMessages   int    `json:"unread_room_messages"`
	UnreadDirectMessages int    `json:"unread_direct_messages"`
	TotalUnread          int    `json:"total_unread"`
}

type MessageListFrame struct {
	Type       string            `json:"type"`
	Messages   []MessageResponse `json:"messages"`
	Pagination *Pagination       `json:"pagination,omitempty"`
}

type UserListFrame struct {
	Type  string          `json:"type"`
	Users []PublicProfile `json:"users"`
}

type UserProfileFrame struct {
	Type string        `json:"type"`
	User PublicProfile `json:"user"`
}

type MessageDeletedFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type ConversationFrame struct {
	Type         string               `json:"type"`
	Conversation ConversationResponse `json:"conversation"`
}

type ConversationListFrame struct {
	Type          string                 `json:"type"`
	Conversations []ConversationResponse `json:"conversations"`
	Pagination    Pagination             `json:"pagination"`
}

type ConversationDeletedFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}
