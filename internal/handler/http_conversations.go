package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/parlorhq/parlor/internal/auth"
	"github.com/parlorhq/parlor/internal/domain"
	"github.com/parlorhq/parlor/pkg/log"
	"github.com/parlorhq/parlor/pkg/response"
)

// CreateConversation handles POST /conversations.
func (h *Handler) CreateConversation(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	var req domain.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	conversation, err := h.conversations.Create(ctx, user, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Created(c, conversation)
}

// ListConversations handles GET /conversations. Owners see their own;
// viewers and admins see everything.
func (h *Handler) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	limit, offset := paginationWindow(c)
	page, err := h.conversations.List(ctx, user, limit, offset)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, page)
}

// GetConversation handles GET /conversations/{id}.
func (h *Handler) GetConversation(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	conversation, err := h.conversations.Get(ctx, user, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, conversation)
}

// UpdateConversation handles PATCH /conversations/{id}.
func (h *Handler) UpdateConversation(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	var req domain.UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	conversation, err := h.conversations.Update(ctx, user, c.Param("id"), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, conversation)
}

// DeleteConversation handles DELETE /conversations/{id}. Messages
// referenced by the conversation are not touched.
func (h *Handler) DeleteConversation(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	if err := h.conversations.Delete(ctx, user, c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	response.NoContent(c)
}

// ConnectionToken handles GET /centrifugo/connection-token. Clients use
// the token to subscribe to the mirror stream directly.
func (h *Handler) ConnectionToken(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	if h.tokens == nil {
		response.ServiceUnavailable(c, "Mirror connections are not configured")
		return
	}

	token, err := h.tokens.ConnectionToken(user.Username)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("mint connection token")
		response.InternalError(c, "Internal server error")
		return
	}
	response.Success(c, gin.H{
		"token": token,
		"url":   h.mirrorURL,
		"user":  user.Username,
	})
}
