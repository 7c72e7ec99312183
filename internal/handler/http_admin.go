package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/parlorhq/parlor/internal/auth"
	"github.com/parlorhq/parlor/internal/domain"
	"github.com/parlorhq/parlor/internal/liveness"
	"github.com/parlorhq/parlor/pkg/response"
)

// AdminListUsers handles GET /admin/users. Full profiles, API keys
// included.
func (h *Handler) AdminListUsers(c *gin.Context) {
	ctx := c.Request.Context()

	users, err := h.users.ListUsers(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, users)
}

// AdminGetUser handles GET /admin/users/{username}.
func (h *Handler) AdminGetUser(c *gin.Context) {
	ctx := c.Request.Context()

	user, err := h.users.GetUser(ctx, c.Param("username"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, user)
}

// AdminUpdateUser handles PATCH /admin/users/{username}.
func (h *Handler) AdminUpdateUser(c *gin.Context) {
	ctx := c.Request.Context()
	actor, _ := auth.CurrentUser(c)

	var req domain.AdminUpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	updated, err := h.users.AdminUpdateUser(ctx, actor, c.Param("username"), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, updated)
}

// AdminDeleteUser handles DELETE /admin/users/{username}.
func (h *Handler) AdminDeleteUser(c *gin.Context) {
	ctx := c.Request.Context()
	actor, _ := auth.CurrentUser(c)
	username := c.Param("username")

	if err := h.users.AdminDeleteUser(ctx, actor, username); err != nil {
		respondServiceError(c, err)
		return
	}
	response.NoContent(c)
}

// AdminAssignRole handles PATCH /admin/users/{username}/role.
func (h *Handler) AdminAssignRole(c *gin.Context) {
	ctx := c.Request.Context()
	actor, _ := auth.CurrentUser(c)

	var req domain.AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	updated, err := h.users.AssignRole(ctx, actor, c.Param("username"), req.Role)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"username": updated.Username,
		"role":     updated.Role,
		"message":  fmt.Sprintf("Successfully assigned role '%s' to user '%s'", updated.Role, updated.Username),
	})
}

// AdminGetMessage handles GET /admin/messages/{id}.
func (h *Handler) AdminGetMessage(c *gin.Context) {
	ctx := c.Request.Context()

	msg, err := h.chat.GetMessage(ctx, c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, msg)
}

// AdminUpdateMessage handles PATCH /admin/messages/{id}.
func (h *Handler) AdminUpdateMessage(c *gin.Context) {
	ctx := c.Request.Context()
	actor, _ := auth.CurrentUser(c)

	var req domain.AdminMessageUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msg, err := h.chat.UpdateMessageContent(ctx, actor, c.Param("id"), req.Content)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, msg)
}

// AdminDeleteMessage handles DELETE /admin/messages/{id}.
func (h *Handler) AdminDeleteMessage(c *gin.Context) {
	ctx := c.Request.Context()
	actor, _ := auth.CurrentUser(c)
	id := c.Param("id")

	if err := h.chat.DeleteMessage(ctx, actor, id); err != nil {
		respondServiceError(c, err)
		return
	}
	response.NoContent(c)
}

// AdminDeleteConversation handles DELETE /admin/conversations/{id}.
func (h *Handler) AdminDeleteConversation(c *gin.Context) {
	ctx := c.Request.Context()
	actor, _ := auth.CurrentUser(c)

	if err := h.conversations.AdminDelete(ctx, actor, c.Param("id")); err != nil {
		respondServiceError(c, err)
		return
	}
	response.NoContent(c)
}

// AdminConnectionStats handles GET /admin/websocket/connections. Stats
// come from the liveness monitor, one record per tracked connection; a
// username query narrows the list to that user's connections while the
// totals stay registry-wide.
func (h *Handler) AdminConnectionStats(c *gin.Context) {
	var stats []liveness.ConnectionStats
	if username := c.Query("username"); username != "" {
		stats = h.monitor.UserStats(username)
	} else {
		stats = h.monitor.Stats()
	}
	response.Success(c, gin.H{
		"total_users":       h.registry.TotalUsers(),
		"total_connections": h.registry.TotalConnections(),
		"connections":       stats,
	})
}
