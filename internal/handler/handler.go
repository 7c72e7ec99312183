package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parlorhq/parlor/internal/auth"
	"github.com/parlorhq/parlor/internal/domain"
	"github.com/parlorhq/parlor/internal/liveness"
	"github.com/parlorhq/parlor/internal/mirror"
	"github.com/parlorhq/parlor/internal/registry"
	"github.com/parlorhq/parlor/internal/service"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// Handler handles HTTP requests for the chat API.
type Handler struct {
	chat          service.ChatService
	users         service.UserService
	conversations service.ConversationService
	registry      *registry.Registry
	monitor       *liveness.Monitor
	tokens        *mirror.TokenManager
	mirrorURL     string
	auth          *auth.AuthMiddleware
}

// NewHandler creates a new HTTP handler. tokens may be nil when mirror
// connection tokens are not configured.
func NewHandler(
	chat service.ChatService,
	users service.UserService,
	conversations service.ConversationService,
	reg *registry.Registry,
	monitor *liveness.Monitor,
	tokens *mirror.TokenManager,
	mirrorURL string,
	authMiddleware *auth.AuthMiddleware,
) *Handler {
	return &Handler{
		chat:          chat,
		users:         users,
		conversations: conversations,
		registry:      reg,
		monitor:       monitor,
		tokens:        tokens,
		mirrorURL:     mirrorURL,
		auth:          authMiddleware,
	}
}

// RegisterRoutes registers all HTTP routes. Paths are unversioned to
// stay compatible with existing clients.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/register", h.Register)
	r.GET("/logos", h.ListLogos)
	r.GET("/health", h.Health)

	authed := r.Group("", h.auth.RequireAuth())
	{
		messages := authed.Group("/messages")
		{
			messages.POST("", h.SendMessage)
			messages.GET("", h.ListRoomMessages)
			messages.GET("/direct", h.ListDirectMessages)
			messages.GET("/unread", h.ListUnreadRoomMessages)
			messages.GET("/direct/unread", h.ListUnreadDirectMessages)
			messages.GET("/unread/count", h.UnreadCount)
			messages.POST("/mark-all-read", h.MarkAllRead)
			messages.POST("/:id/read", h.MarkMessageRead)
		}

		users := authed.Group("/users")
		{
			users.GET("", h.ListChatUsers)
			users.GET("/online", h.OnlineUsers)
			users.GET("/me", h.Me)
			users.PATCH("/me/logo", h.auth.RequirePermission(domain.PermUpdateOwnProfile), h.UpdateMyLogo)
			users.PATCH("/me/webhook", h.auth.RequirePermission(domain.PermUpdateOwnProfile), h.UpdateMyWebhook)
			users.PATCH("/me/username", h.auth.RequirePermission(domain.PermUpdateOwnProfile), h.UpdateMyUsername)
			users.POST("/me/regenerate-api-key", h.auth.RequirePermission(domain.PermUpdateOwnProfile), h.RegenerateMyAPIKey)
			users.GET("/:username", h.GetProfile)
		}

		bots := authed.Group("/bots")
		{
			bots.POST("", h.auth.RequirePermission(domain.PermCreateBot), h.CreateBot)
			bots.GET("/me", h.MyBots)
			bots.PATCH("/:username", h.UpdateBot)
			bots.DELETE("/:username", h.DeleteBot)
			bots.POST("/:username/regenerate-api-key", h.RegenerateBotAPIKey)
		}

		conversations := authed.Group("/conversations")
		{
			conversations.POST("", h.CreateConversation)
			conversations.GET("", h.ListConversations)
			conversations.GET("/:id", h.GetConversation)
			conversations.PATCH("/:id", h.UpdateConversation)
			conversations.DELETE("/:id", h.DeleteConversation)
		}

		authed.GET("/centrifugo/connection-token", h.ConnectionToken)

		admin := authed.Group("/admin", h.auth.RequireAdmin())
		{
			admin.GET("/users", h.AdminListUsers)
			admin.GET("/users/:username", h.AdminGetUser)
			admin.PATCH("/users/:username", h.AdminUpdateUser)
			admin.DELETE("/users/:username", h.AdminDeleteUser)
			admin.PATCH("/users/:username/role", h.AdminAssignRole)
			admin.GET("/messages/:id", h.AdminGetMessage)
			admin.PATCH("/messages/:id", h.AdminUpdateMessage)
			admin.DELETE("/messages/:id", h.AdminDeleteMessage)
			admin.DELETE("/conversations/:id", h.AdminDeleteConversation)
			admin.GET("/websocket/connections", h.AdminConnectionStats)
		}
	}
}

// queryInt parses an integer query parameter, falling back to def on a
// missing or malformed value.
func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// paginationWindow reads limit/offset query parameters and clamps them
// to a sane window.
func paginationWindow(c *gin.Context) (limit, offset int) {
	return frameWindow(queryInt(c, "limit", defaultHistoryLimit), queryInt(c, "offset", 0))
}

// parseSince parses an ISO 8601 timestamp filter. Timestamps without a
// zone are treated as UTC. An empty value means no filter.
func parseSince(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", raw, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
