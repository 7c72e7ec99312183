package domain

import (
	"time"
)

// AvailableLogos is the closed list of logo filenames users may choose from.
var AvailableLogos = []string{
	"claude-color.png",
	"deepseek-color.png",
	"gemini-color.png",
	"gemma-color.png",
	"grok.png",
	"kimi-color.png",
	"mistral-color.png",
	"openai.png",
	"qwen-color.png",
}

// IsAvailableLogo reports whether the logo filename is in the published list.
func IsAvailableLogo(logo string) bool {
	for _, l := range AvailableLogos {
		if l == logo {
			return true
		}
	}
	return false
}

// User represents a registered identity. Role is the single source of
// truth for capabilities; the admin/viewer/bot booleans exposed over the
// API are derived from it.
type User struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	APIKey     string    `json:"-"`
	Email      string    `json:"email,omitempty"`
	WebhookURL string    `json:"webhook_url,omitempty"`
	Logo       string    `json:"logo,omitempty"`
	Emoji      string    `json:"emoji,omitempty"`
	Role       Role      `json:"role"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// IsViewer reports whether the user holds the viewer role.
func (u *User) IsViewer() bool { return u.Role == RoleViewer }

// IsBot reports whether the user holds the bot role.
func (u *User) IsBot() bool { return u.Role == RoleBot }

// HasPermission consults the role permission table.
func (u *User) HasPermission(p Permission) bool {
	return u.Role.HasPermission(p)
}

// RegisterRequest is the body for POST /register. The legacy admin and
// viewer booleans map onto a role when no explicit role is given. Bot
// registrations are rejected here and directed to POST /bots.
type RegisterRequest struct {
	Username   string `json:"username" binding:"required,min=1,max=50"`
	WebhookURL string `json:"webhook_url"`
	Logo       string `json:"logo"`
	Emoji      string `json:"emoji" binding:"omitempty,max=10"`
	Role       string `json:"role"`
	Admin      bool   `json:"admin"`
	Viewer     bool   `json:"viewer"`
	Bot        bool   `json:"bot"`
}

// EffectiveRole resolves the requested role, letting the explicit role
// field win over the legacy booleans.
func (r *RegisterRequest) EffectiveRole() (Role, error) {
	if r.Role != "" {
		return ParseRole(r.Role)
	}
	switch {
	case r.Bot:
		return RoleBot, nil
	case r.Admin:
		return RoleAdmin, nil
	case r.Viewer:
		return RoleViewer, nil
	default:
		return RoleMember, nil
	}
}

// CreateBotRequest is the body for POST /bots.
type CreateBotRequest struct {
	Username string `json:"username" binding:"required,min=1,max=50"`
	Emoji    string `json:"emoji" binding:"required"`
}

// UpdateBotRequest is the body for PATCH /bots/{username}.
type UpdateBotRequest struct {
	Emoji      *string `json:"emoji"`
	WebhookURL *string `json:"webhook_url"`
}

// UpdateLogoRequest is the body for PATCH /users/me/logo. A null logo
// clears the current one.
type UpdateLogoRequest struct {
	Logo *string `json:"logo"`
}

// UpdateWebhookRequest is the body for PATCH /users/me/webhook.
type UpdateWebhookRequest struct {
	WebhookURL *string `json:"webhook_url"`
}

// UpdateUsernameRequest is the body for PATCH /users/me/username.
type UpdateUsernameRequest struct {
	Username string `json:"username" binding:"required,min=1,max=50"`
}

// AdminUpdateUserRequest is the body for PATCH /admin/users/{username}.
// An explicit role wins over the legacy booleans.
type AdminUpdateUserRequest struct {
	Email      *string `json:"email"`
	WebhookURL *string `json:"webhook_url"`
	Logo       *string `json:"logo"`
	Emoji      *string `json:"emoji" binding:"omitempty,max=10"`
	Role       *string `json:"role"`
	Admin      *bool   `json:"admin"`
	Viewer     *bool   `json:"viewer"`
	Bot        *bool   `json:"bot"`
}

// AssignRoleRequest is the body for PATCH /admin/users/{username}/role.
type AssignRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UserResponse is the full profile returned to the user themselves and
// to admins. Nullable fields stay present as explicit nulls; the
// booleans are derived from Role.
type UserResponse struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	APIKey     string  `json:"api_key"`
	Email      *string `json:"email"`
	WebhookURL *string `json:"webhook_url"`
	Logo       *string `json:"logo"`
	Emoji      *string `json:"emoji"`
	Role       Role    `json:"role"`
	Admin      bool    `json:"admin"`
	Viewer     bool    `json:"viewer"`
	Bot        bool    `json:"bot"`
	CreatedBy  *string `json:"created_by,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// PublicProfile is the profile shape visible to other users. It never
// carries the API key, email, webhook URL, or creation time.
type PublicProfile struct {
	Username string  `json:"username"`
	Logo     *string `json:"logo"`
	Emoji    *string `json:"emoji"`
	Role     Role    `json:"role"`
	Admin    bool    `json:"admin"`
	Viewer   bool    `json:"viewer"`
	Bot      bool    `json:"bot"`
}

// ToResponse converts the user to the full profile shape, including the
// API key.
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:         u.ID,
		Username:   u.Username,
		APIKey:     u.APIKey,
		Email:      optional(u.Email),
		WebhookURL: optional(u.WebhookURL),
		Logo:       optional(u.Logo),
		Emoji:      optional(u.Emoji),
		Role:       u.Role,
		Admin:      u.IsAdmin(),
		Viewer:     u.IsViewer(),
		Bot:        u.IsBot(),
		CreatedBy:  optional(u.CreatedBy),
		CreatedAt:  u.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// ToPublicProfile converts the user to the shape visible to other users.
func (u *User) ToPublicProfile() PublicProfile {
	return PublicProfile{
		Username: u.Username,
		Logo:     optional(u.Logo),
		Emoji:    optional(u.Emoji),
		Role:     u.Role,
		Admin:    u.IsAdmin(),
		Viewer:   u.IsViewer(),
		Bot:      u.IsBot(),
	}
}
