package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/parlorhq/parlor/internal/audit"
	"github.com/parlorhq/parlor/internal/auth"
	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/internal/domain"
	"github.com/parlorhq/parlor/internal/liveness"
	"github.com/parlorhq/parlor/internal/registry"
	"github.com/parlorhq/parlor/internal/service"
	"github.com/parlorhq/parlor/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler handles websocket sessions on GET /ws.
type WSHandler struct {
	chat          service.ChatService
	users         service.UserService
	conversations service.ConversationService
	registry      *registry.Registry
	monitor       *liveness.Monitor
	auth          *auth.AuthMiddleware
	cfg           config.WebSocketConfig
}

// NewWSHandler creates a new websocket handler.
func NewWSHandler(
	chat service.ChatService,
	users service.UserService,
	conversations service.ConversationService,
	reg *registry.Registry,
	monitor *liveness.Monitor,
	authMiddleware *auth.AuthMiddleware,
	cfg config.WebSocketConfig,
) *WSHandler {
	return &WSHandler{
		chat:          chat,
		users:         users,
		conversations: conversations,
		registry:      reg,
		monitor:       monitor,
		auth:          authMiddleware,
		cfg:           cfg,
	}
}

// RegisterRoutes registers the websocket route.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades the request and runs the session until the
// client disconnects or liveness kills the connection. Authentication
// happens after the upgrade so the client gets a close frame with a
// reason instead of a bare HTTP error.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	l := log.Ctx(c.Request.Context())

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	user, err := h.auth.Authenticate(c.Request.Context(), c.Request)
	if err != nil {
		audit.LogWithDetail(c.Request.Context(), audit.ActionAuthFailed, "", c.ClientIP(), "websocket auth failed")
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, auth.ErrInvalidCredentials.Error()))
		ws.Close()
		return
	}

	// The session outlives the HTTP request context once the socket is
	// hijacked, so the connection gets its own lifetime.
	conn := registry.NewConnection(context.Background(), user.Username, ws, h.cfg)
	h.registry.Connect(conn)
	h.monitor.Track(conn.Context(), user.Username, conn.ID)

	audit.LogWithTarget(conn.Context(), audit.ActionConnect, user.Username, conn.ID, "websocket connected")

	limiter := rate.NewLimiter(rate.Limit(h.cfg.RateLimit), h.cfg.RateBurst)

	go conn.WritePump()
	conn.ReadPump(func(frame []byte) {
		h.monitor.RecordActivity(user.Username, conn.ID)
		if !limiter.Allow() {
			conn.SendJSON(domain.NewErrorFrame("Rate limit exceeded"))
			return
		}
		h.handleFrame(conn, user, frame)
	})

	h.registry.Disconnect(user.Username, conn.ID)
	audit.LogWithTarget(context.Background(), audit.ActionDisconnect, user.Username, conn.ID, "websocket disconnected")
}

// handleFrame dispatches one inbound frame. A frame without a type field
// is treated as a message send for backward compatibility. Errors are
// reported as error frames; the connection stays open.
func (h *WSHandler) handleFrame(conn *registry.Connection, user *domain.User, raw []byte) {
	var base domain.BaseFrame
	if err := json.Unmarshal(raw, &base); err != nil {
		conn.SendJSON(domain.NewErrorFrame("Invalid message format"))
		return
	}
	if base.Type == "" {
		base.Type = domain.FrameTypeMessage
	}

	ctx := conn.Context()

	switch base.Type {
	case domain.FrameTypeMessage:
		h.handleSend(ctx, conn, user, raw)
	case domain.FrameTypePong:
		h.monitor.RecordProbeAck(user.Username, conn.ID)
	case domain.FrameTypeMarkRead:
		h.handleMarkRead(ctx, conn, user, raw)
	case domain.FrameTypeMarkAllRead:
		h.handleMarkAllRead(ctx, conn, user)
	case domain.FrameTypeMarkRoomRead:
		h.handleMarkRoomRead(ctx, conn, user)
	case domain.FrameTypeMarkDirectRead:
		h.handleMarkDirectRead(ctx, conn, user, raw)
	case domain.FrameTypeGetUnreadCount:
		h.handleUnreadCount(ctx, conn, user)
	case domain.FrameTypeGetMessages:
		h.handleGetMessages(ctx, conn, user, raw, false)
	case domain.FrameTypeGetDirectMessages:
		h.handleGetMessages(ctx, conn, user, raw, true)
	case domain.FrameTypeGetUnreadMessages:
		h.handleGetUnread(ctx, conn, user, raw, false)
	case domain.FrameTypeGetUnreadDirectMessages:
		h.handleGetUnread(ctx, conn, user, raw, true)
	case domain.FrameTypeGetUsers:
		h.handleGetUsers(ctx, conn)
	case domain.FrameTypeGetOnlineUsers:
		h.handleGetOnlineUsers(ctx, conn)
	case domain.FrameTypeGetUserProfile:
		h.handleGetUserProfile(ctx, conn, raw)
	case domain.FrameTypeDeleteMessage:
		h.handleDeleteMessage(ctx, conn, user, raw)
	case domain.FrameTypeCreateConversation:
		h.handleCreateConversation(ctx, conn, user, raw)
	case domain.FrameTypeGetConversations:
		h.handleGetConversations(ctx, conn, user, raw)
	case domain.FrameTypeGetConversation:
		h.handleGetConversation(ctx, conn, user, raw)
	case domain.FrameTypeUpdateConversation:
		h.handleUpdateConversation(ctx, conn, user, raw)
	case domain.FrameTypeDeleteConversation:
		h.handleDeleteConversation(ctx, conn, user, raw)
	default:
		conn.SendJSON(domain.NewErrorFrame("Unknown message type"))
	}
}

func (h *WSHandler) handleSend(ctx context.Context, conn *registry.Connection, user *domain.User, raw []byte) {
	var frame domain.MessageFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		conn.SendJSON(domain.NewErrorFrame("Invalid message format"))
		return
	}

	req := domain.SendMessageRequest{
		Content:    frame.Content,
		ToUsername: frame.ToUsername,
	}
	msg, err := h.chat.SendMessage(ctx, user, &req)
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.NewMessageSentFrame(*msg))
}

func (h *WSHandler) handleMarkRead(ctx context.Context, conn *registry.Connection, user *domain.User, raw []byte) {
	var frame domain.MarkReadFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.MessageID == "" {
		conn.SendJSON(domain.NewErrorFrame("Missing message_id field"))
		return
	}

	if _, err := h.chat.MarkRead(ctx, user, frame.MessageID); err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.MarkedReadFrame{
		Type:      domain.FrameTypeMarkedRead,
		Status:    "success",
		MessageID: frame.MessageID,
	})
}

func (h *WSHandler) handleMarkAllRead(ctx context.Context, conn *registry.Connection, user *domain.User) {
	marked, err := h.chat.MarkAllRead(ctx, user)
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.MarkedCountFrame{
		Type:         domain.FrameTypeMarkedAllRead,
		Status:       "success",
		MarkedAsRead: marked,
	})
}

func (h *WSHandler) handleMarkRoomRead(ctx context.Context, conn *registry.Connection, user *domain.User) {
	marked, err := h.chat.MarkRoomRead(ctx, user)
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.MarkedCountFrame{
		Type:         domain.FrameTypeMarkedRoomRead,
		Status:       "success",
		MarkedAsRead: marked,
	})
}

func (h *WSHandler) handleMarkDirectRead(ctx context.Context, conn *registry.Connection, user *domain.User, raw []byte) {
	var frame domain.MarkDirectReadFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.FromUsername == "" {
		conn.SendJSON(domain.NewErrorFrame("Missing username field"))
		return
	}

	marked, err := h.chat.MarkDirectRead(ctx, user, frame.FromUsername)
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.MarkedCountFrame{
		Type:         domain.FrameTypeMarkedDirectRead,
		Status:       "success",
		MarkedAsRead: marked,
	})
}

func (h *WSHandler) handleUnreadCount(ctx context.Context, conn *registry.Connection, user *domain.User) {
	counts, err := h.chat.UnreadCounts(ctx, user)
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.UnreadCountFrame{
		Type:                 domain.FrameTypeUnreadCount,
		UnreadRoomMessages:   counts.UnreadRoomMessages,
		UnreadDirectMessages: counts.UnreadDirectMessages,
		TotalUnread:          counts.TotalUnread,
	})
}

func (h *WSHandler) handleGetMessages(ctx context.Context, conn *registry.Connection, user *domain.User, raw []byte, direct bool) {
	var frame domain.HistoryQueryFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		conn.SendJSON(domain.NewErrorFrame("Invalid message format"))
		return
	}

	since, err := parseSince(frame.Since)
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(errInvalidTimestamp))
		return
	}
	limit, offset := frameWindow(frame.Limit, frame.Offset)

	var page *domain.PaginatedMessages
	frameType := domain.FrameTypeMessages
	if direct {
		frameType = domain.FrameTypeDirectMessages
		page, err = h.chat.DirectMessages(ctx, user, limit, offset, since)
	} else {
		page, err = h.chat.RoomMessages(ctx, limit, offset, since)
	}
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.MessageListFrame{
		Type:       frameType,
		Messages:   page.Messages,
		Pagination: &page.Pagination,
	})
}

func (h *WSHandler) handleGetUnread(ctx context.Context, conn *registry.Connection, user *domain.User, raw []byte, direct bool) {
	var frame domain.HistoryQueryFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		conn.SendJSON(domain.NewErrorFrame("Invalid message format"))
		return
	}
	limit, offset := frameWindow(frame.Limit, frame.Offset)

	var messages []domain.MessageResponse
	var err error
	frameType := domain.FrameTypeUnreadMessages
	if direct {
		frameType = domain.FrameTypeUnreadDirectMessages
		messages, err = h.chat.UnreadDirectMessages(ctx, user, limit, offset)
	} else {
		messages, err = h.chat.UnreadRoomMessages(ctx, user, limit, offset)
	}
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.MessageListFrame{
		Type:     frameType,
		Messages: messages,
	})
}

func (h *WSHandler) handleGetUsers(ctx context.Context, conn *registry.Connection) {
	profiles, err := h.users.ListChatUsers(ctx)
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.UserListFrame{Type: domain.FrameTypeUsers, Users: profiles})
}

func (h *WSHandler) handleGetOnlineUsers(ctx context.Context, conn *registry.Connection) {
	profiles, err := h.users.OnlineUsers(ctx)
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.UserListFrame{Type: domain.FrameTypeOnlineUsers, Users: profiles})
}

func (h *WSHandler) handleGetUserProfile(ctx context.Context, conn *registry.Connection, raw []byte) {
	var frame domain.UserProfileQueryFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Username == "" {
		conn.SendJSON(domain.NewErrorFrame("Missing username field"))
		return
	}

	profile, err := h.users.Profile(ctx, frame.Username)
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.UserProfileFrame{Type: domain.FrameTypeUserProfile, User: *profile})
}

func (h *WSHandler) handleDeleteMessage(ctx context.Context, conn *registry.Connection, user *domain.User, raw []byte) {
	var frame domain.DeleteMessageFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.MessageID == "" {
		conn.SendJSON(domain.NewErrorFrame("Missing message_id field"))
		return
	}

	if !user.HasPermission(domain.PermAdminMessages) {
		conn.SendJSON(domain.NewErrorFrame(auth.PermissionDeniedMessage(user, domain.PermAdminMessages)))
		return
	}

	if err := h.chat.DeleteMessage(ctx, user, frame.MessageID); err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.MessageDeletedFrame{
		Type:      domain.FrameTypeMessageDeleted,
		MessageID: frame.MessageID,
	})
}

func (h *WSHandler) handleCreateConversation(ctx context.Context, conn *registry.Connection, user *domain.User, raw []byte) {
	var frame domain.CreateConversationFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		conn.SendJSON(domain.NewErrorFrame("Invalid message format"))
		return
	}

	req := domain.CreateConversationRequest{
		Title:       frame.Title,
		Description: frame.Description,
		MessageIDs:  frame.MessageIDs,
	}
	conversation, err := h.conversations.Create(ctx, user, &req)
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.ConversationFrame{
		Type:         domain.FrameTypeConversationCreated,
		Conversation: *conversation,
	})
}

func (h *WSHandler) handleGetConversations(ctx context.Context, conn *registry.Connection, user *domain.User, raw []byte) {
	var frame domain.ConversationQueryFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		conn.SendJSON(domain.NewErrorFrame("Invalid message format"))
		return
	}
	limit, offset := frameWindow(frame.Limit, frame.Offset)

	page, err := h.conversations.List(ctx, user, limit, offset)
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.ConversationListFrame{
		Type:          domain.FrameTypeConversations,
		Conversations: page.Conversations,
		Pagination:    page.Pagination,
	})
}

func (h *WSHandler) handleGetConversation(ctx context.Context, conn *registry.Connection, user *domain.User, raw []byte) {
	var frame domain.ConversationQueryFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.ConversationID == "" {
		conn.SendJSON(domain.NewErrorFrame("Missing conversation_id field"))
		return
	}

	conversation, err := h.conversations.Get(ctx, user, frame.ConversationID)
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.ConversationFrame{
		Type:         domain.FrameTypeConversation,
		Conversation: *conversation,
	})
}

func (h *WSHandler) handleUpdateConversation(ctx context.Context, conn *registry.Connection, user *domain.User, raw []byte) {
	var frame domain.UpdateConversationFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.ConversationID == "" {
		conn.SendJSON(domain.NewErrorFrame("Missing conversation_id field"))
		return
	}

	req := domain.UpdateConversationRequest{
		Title:       frame.Title,
		Description: frame.Description,
		MessageIDs:  frame.MessageIDs,
	}
	conversation, err := h.conversations.Update(ctx, user, frame.ConversationID, &req)
	if err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.ConversationFrame{
		Type:         domain.FrameTypeConversationUpdated,
		Conversation: *conversation,
	})
}

func (h *WSHandler) handleDeleteConversation(ctx context.Context, conn *registry.Connection, user *domain.User, raw []byte) {
	var frame domain.ConversationQueryFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.ConversationID == "" {
		conn.SendJSON(domain.NewErrorFrame("Missing conversation_id field"))
		return
	}

	if err := h.conversations.Delete(ctx, user, frame.ConversationID); err != nil {
		conn.SendJSON(domain.NewErrorFrame(frameErrorText(err)))
		return
	}
	conn.SendJSON(domain.ConversationDeletedFrame{
		Type:           domain.FrameTypeConversationDeleted,
		ConversationID: frame.ConversationID,
	})
}

// frameWindow clamps a frame's pagination window the same way the HTTP
// query parameters are clamped.
func frameWindow(limit, offset int) (int, int) {
	if limit < 1 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
