package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/parlorhq/parlor/internal/auth"
	"github.com/parlorhq/parlor/internal/domain"
	"github.com/parlorhq/parlor/pkg/response"
)

const errInvalidTimestamp = "Invalid timestamp format. Use ISO 8601 format."

// SendMessage handles POST /messages.
func (h *Handler) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.chat.SendMessage(ctx, user, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Created(c, msg)
}

// ListRoomMessages handles GET /messages.
func (h *Handler) ListRoomMessages(c *gin.Context) {
	ctx := c.Request.Context()

	limit, offset := paginationWindow(c)
	since, err := parseSince(c.Query("since"))
	if err != nil {
		response.BadRequest(c, errInvalidTimestamp)
		return
	}

	page, err := h.chat.RoomMessages(ctx, limit, offset, since)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, page)
}

// ListDirectMessages handles GET /messages/direct.
func (h *Handler) ListDirectMessages(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	limit, offset := paginationWindow(c)
	since, err := parseSince(c.Query("since"))
	if err != nil {
		response.BadRequest(c, errInvalidTimestamp)
		return
	}

	page, err := h.chat.DirectMessages(ctx, user, limit, offset, since)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, page)
}

// ListUnreadRoomMessages handles GET /messages/unread.
func (h *Handler) ListUnreadRoomMessages(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	limit, offset := paginationWindow(c)
	messages, err := h.chat.UnreadRoomMessages(ctx, user, limit, offset)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, messages)
}

// ListUnreadDirectMessages handles GET /messages/direct/unread.
func (h *Handler) ListUnreadDirectMessages(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	limit, offset := paginationWindow(c)
	messages, err := h.chat.UnreadDirectMessages(ctx, user, limit, offset)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, messages)
}

// UnreadCount handles GET /messages/unread/count.
func (h *Handler) UnreadCount(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	counts, err := h.chat.UnreadCounts(ctx, user)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, counts)
}

// MarkMessageRead handles POST /messages/{id}/read. Marking a message
// twice is not an error.
func (h *Handler) MarkMessageRead(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	if _, err := h.chat.MarkRead(ctx, user, c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	response.NoContent(c)
}

// MarkAllRead handles POST /messages/mark-all-read.
func (h *Handler) MarkAllRead(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	marked, err := h.chat.MarkAllRead(ctx, user)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"marked_as_read": marked})
}
