package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parlorhq/parlor/internal/auth"
	"github.com/parlorhq/parlor/internal/domain"
	"github.com/parlorhq/parlor/pkg/response"
)

// Register handles POST /register. Bot accounts are rejected here and
// pointed at the bot endpoint instead.
func (h *Handler) Register(c *gin.Context) {
	ctx := c.Request.Context()

	var req domain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	user, err := h.users.Register(ctx, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Created(c, user)
}

// ListLogos handles GET /logos.
func (h *Handler) ListLogos(c *gin.Context) {
	response.Success(c, domain.AvailableLogos)
}

// Health handles GET /health. The body is unenveloped so load balancer
// probes can match on it directly.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// ListChatUsers handles GET /users. Viewers are excluded because they
// cannot participate in chat.
func (h *Handler) ListChatUsers(c *gin.Context) {
	ctx := c.Request.Context()

	profiles, err := h.users.ListChatUsers(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, profiles)
}

// OnlineUsers handles GET /users/online.
func (h *Handler) OnlineUsers(c *gin.Context) {
	ctx := c.Request.Context()

	profiles, err := h.users.OnlineUsers(ctx)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, profiles)
}

// Me handles GET /users/me. The caller sees their own full profile
// including the API key.
func (h *Handler) Me(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	response.Success(c, user.ToResponse())
}

// GetProfile handles GET /users/{username}.
func (h *Handler) GetProfile(c *gin.Context) {
	ctx := c.Request.Context()

	profile, err := h.users.Profile(ctx, c.Param("username"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, profile)
}

// UpdateMyLogo handles PATCH /users/me/logo. A null logo clears it.
func (h *Handler) UpdateMyLogo(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	var req domain.UpdateLogoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.users.UpdateLogo(ctx, user, req.Logo); err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"message": "Logo updated successfully",
		"logo":    stringOrEmpty(req.Logo),
	})
}

// UpdateMyWebhook handles PATCH /users/me/webhook. A null URL clears it.
func (h *Handler) UpdateMyWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	var req domain.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.users.UpdateWebhook(ctx, user, req.WebhookURL); err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"message":     "Webhook URL updated successfully",
		"webhook_url": stringOrEmpty(req.WebhookURL),
	})
}

// UpdateMyUsername handles PATCH /users/me/username.
func (h *Handler) UpdateMyUsername(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	var req domain.UpdateUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	updated, err := h.users.UpdateUsername(ctx, user, req.Username)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, updated)
}

// RegenerateMyAPIKey handles POST /users/me/regenerate-api-key. The old
// key stops working immediately.
func (h *Handler) RegenerateMyAPIKey(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	key, err := h.users.RegenerateAPIKey(ctx, user)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"message": "API key regenerated successfully",
		"api_key": key,
	})
}

// CreateBot handles POST /bots.
func (h *Handler) CreateBot(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	var req domain.CreateBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	bot, err := h.users.CreateBot(ctx, user, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Created(c, bot)
}

// MyBots handles GET /bots/me.
func (h *Handler) MyBots(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	bots, err := h.users.MyBots(ctx, user)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, bots)
}

// UpdateBot handles PATCH /bots/{username}. Only the creator or an
// admin may update a bot.
func (h *Handler) UpdateBot(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	var req domain.UpdateBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	bot, err := h.users.UpdateBot(ctx, user, c.Param("username"), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, bot)
}

// DeleteBot handles DELETE /bots/{username}.
func (h *Handler) DeleteBot(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	if err := h.users.DeleteBot(ctx, user, c.Param("username")); err != nil {
		respondServiceError(c, err)
		return
	}
	response.NoContent(c)
}

// RegenerateBotAPIKey handles POST /bots/{username}/regenerate-api-key.
func (h *Handler) RegenerateBotAPIKey(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := auth.CurrentUser(c)

	key, err := h.users.RegenerateBotAPIKey(ctx, user, c.Param("username"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"message": "API key regenerated successfully",
		"api_key": key,
	})
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
