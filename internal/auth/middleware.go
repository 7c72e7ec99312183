package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/parlorhq/parlor/internal/audit"
	"github.com/parlorhq/parlor/internal/domain"
	"github.com/parlorhq/parlor/internal/repository"
	"github.com/parlorhq/parlor/pkg/log"
	"github.com/parlorhq/parlor/pkg/response"
)

const (
	CurrentUserKey = "current_user"

	apiKeyHeader  = "X-API-Key"
	apiKeyQuery   = "api_key"
	authHeaderKey = "Authorization"
	bearerPrefix  = "Bearer "
)

// ErrInvalidCredentials is returned when no presented credential maps
// to a user.
var ErrInvalidCredentials = errors.New("Invalid or missing authentication credentials")

// AuthMiddleware authenticates requests by API key. Keys arrive via the
// X-API-Key header, an Authorization bearer value, or (for websocket
// clients that cannot set headers) the api_key query parameter.
type AuthMiddleware struct {
	users repository.UserRepository
}

// NewAuthMiddleware creates the middleware around the user store.
func NewAuthMiddleware(users repository.UserRepository) *AuthMiddleware {
	return &AuthMiddleware{users: users}
}

// Authenticate resolves the request's credential to a user.
func (m *AuthMiddleware) Authenticate(ctx context.Context, r *http.Request) (*domain.User, error) {
	apiKey := ExtractAPIKey(r)
	if apiKey == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := m.users.GetByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return user, nil
}

// RequireAuth validates the API key and stashes the user in the
// context.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := m.Authenticate(c.Request.Context(), c.Request)
		if err != nil {
			if !errors.Is(err, ErrInvalidCredentials) {
				log.Ctx(c.Request.Context()).Error().Err(err).Msg("authentication lookup failed")
			}
			audit.LogWithDetail(c.Request.Context(), audit.ActionAuthFailed, "", c.ClientIP(), "authentication failed")
			c.Header("WWW-Authenticate", "Bearer")
			response.Unauthorized(c, ErrInvalidCredentials.Error())
			c.Abort()
			return
		}

		c.Set(CurrentUserKey, user)
		c.Set(log.FieldUsername, user.Username)
		c.Next()
	}
}

// RequireAdmin gates a route on the admin_system permission. Must run
// after RequireAuth.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			response.Unauthorized(c, ErrInvalidCredentials.Error())
			c.Abort()
			return
		}
		if !user.HasPermission(domain.PermAdminSystem) {
			response.Forbidden(c, "Admin privileges required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequirePermission gates a route on one permission. Must run after
// RequireAuth.
func (m *AuthMiddleware) RequirePermission(permission domain.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			response.Unauthorized(c, ErrInvalidCredentials.Error())
			c.Abort()
			return
		}
		if !user.HasPermission(permission) {
			response.Forbidden(c, PermissionDeniedMessage(user, permission))
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentUser extracts the authenticated user from the gin context.
func CurrentUser(c *gin.Context) (*domain.User, bool) {
	v, exists := c.Get(CurrentUserKey)
	if !exists {
		return nil, false
	}
	user, ok := v.(*domain.User)
	return user, ok
}

// PermissionDeniedMessage formats the standard denial text for a user
// missing a permission.
func PermissionDeniedMessage(user *domain.User, permission domain.Permission) string {
	return fmt.Sprintf("Permission '%s' required. Your role '%s' does not have this permission.",
		permission, user.Role)
}

// ExtractAPIKey pulls the API key from the request, checking the query
// parameter, the X-API-Key header, then the Authorization bearer value.
func ExtractAPIKey(r *http.Request) string {
	if key := r.URL.Query().Get(apiKeyQuery); key != "" {
		return key
	}
	if key := r.Header.Get(apiKeyHeader); key != "" {
		return key
	}
	if auth := r.Header.Get(authHeaderKey); strings.HasPrefix(auth, bearerPrefix) {
		return strings.TrimPrefix(auth, bearerPrefix)
	}
	return ""
}
