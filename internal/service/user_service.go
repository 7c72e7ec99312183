package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/parlorhq/parlor/internal/audit"
	"github.com/parlorhq/parlor/internal/auth"
	"github.com/parlorhq/parlor/internal/domain"
	"github.com/parlorhq/parlor/internal/repository"
	"github.com/parlorhq/parlor/pkg/log"
)

// OnlineSource reports which usernames currently hold a live
// connection.
type OnlineSource interface {
	OnlineUsernames() []string
}

// userServiceImpl implements UserService.
type userServiceImpl struct {
	users    repository.UserRepository
	presence OnlineSource
}

// NewUserService creates a new user service.
func NewUserService(users repository.UserRepository, presence OnlineSource) UserService {
	return &userServiceImpl{
		users:    users,
		presence: presence,
	}
}

// Register creates a new identity and issues its API key. Bots are
// created through CreateBot, never here.
func (s *userServiceImpl) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.UserResponse, error) {
	role, err := req.EffectiveRole()
	if err != nil {
		return nil, errInvalidRole(req.Role)
	}
	if role == domain.RoleBot {
		return nil, &ValidationError{Reason: "Bots cannot be created via /register. Use POST /bots instead."}
	}
	if req.Logo != "" && !domain.IsAvailableLogo(req.Logo) {
		return nil, errInvalidLogo()
	}

	user := &domain.User{
		Username:   req.Username,
		APIKey:     auth.GenerateAPIKey(),
		WebhookURL: req.WebhookURL,
		Logo:       req.Logo,
		Emoji:      req.Emoji,
		Role:       role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUsernameExists) {
			return nil, errUsernameTaken(req.Username)
		}
		return nil, err
	}

	audit.LogWithDetail(ctx, audit.ActionRegister, user.Username, string(role), "user registered")
	resp := user.ToResponse()
	return &resp, nil
}

// Profile returns the public profile for a username.
func (s *userServiceImpl) Profile(ctx context.Context, username string) (*domain.PublicProfile, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, &NotFoundError{Resource: "User", ID: username}
		}
		return nil, err
	}
	profile := user.ToPublicProfile()
	return &profile, nil
}

// ListChatUsers returns every user that can take part in the room,
// which excludes viewers.
func (s *userServiceImpl) ListChatUsers(ctx context.Context) ([]domain.PublicProfile, error) {
	users, err := s.users.ListChatUsers(ctx)
	if err != nil {
		return nil, err
	}
	return publicProfiles(users), nil
}

// OnlineUsers returns the public profiles of users holding at least one
// live connection.
func (s *userServiceImpl) OnlineUsers(ctx context.Context) ([]domain.PublicProfile, error) {
	online := s.presence.OnlineUsernames()
	if len(online) == 0 {
		return []domain.PublicProfile{}, nil
	}

	byName, err := s.users.ListByUsernames(ctx, online)
	if err != nil {
		return nil, err
	}

	profiles := make([]domain.PublicProfile, 0, len(online))
	for _, username := range online {
		if user, ok := byName[username]; ok {
			profiles = append(profiles, user.ToPublicProfile())
		}
	}
	return profiles, nil
}

// UpdateLogo sets or clears the user's logo.
func (s *userServiceImpl) UpdateLogo(ctx context.Context, user *domain.User, logo *string) error {
	next := ""
	if logo != nil {
		next = *logo
	}
	if next != "" && !domain.IsAvailableLogo(next) {
		return errInvalidLogo()
	}

	user.Logo = next
	return s.updateUser(ctx, user)
}

// UpdateWebhook sets or clears the user's webhook URL.
func (s *userServiceImpl) UpdateWebhook(ctx context.Context, user *domain.User, webhookURL *string) error {
	next := ""
	if webhookURL != nil {
		next = *webhookURL
	}

	user.WebhookURL = next
	return s.updateUser(ctx, user)
}

// UpdateUsername renames the user. The old name becomes free again and
// history keeps referring to the name messages were sent under.
func (s *userServiceImpl) UpdateUsername(ctx context.Context, user *domain.User, newUsername string) (*domain.UserResponse, error) {
	previous := user.Username
	user.Username = newUsername
	if err := s.users.Update(ctx, user); err != nil {
		user.Username = previous
		if errors.Is(err, repository.ErrUsernameExists) {
			return nil, errUsernameTaken(newUsername)
		}
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, &NotFoundError{Resource: "User", ID: previous}
		}
		return nil, err
	}

	audit.LogWithDetail(ctx, audit.ActionAdminUpdate, previous, newUsername, "username changed")
	resp := user.ToResponse()
	return &resp, nil
}

// RegenerateAPIKey rotates the user's API key, invalidating the old
// one immediately.
func (s *userServiceImpl) RegenerateAPIKey(ctx context.Context, user *domain.User) (string, error) {
	user.APIKey = auth.GenerateAPIKey()
	if err := s.updateUser(ctx, user); err != nil {
		return "", err
	}
	return user.APIKey, nil
}

// CreateBot registers a bot identity owned by the caller.
func (s *userServiceImpl) CreateBot(ctx context.Context, creator *domain.User, req *domain.CreateBotRequest) (*domain.UserResponse, error) {
	bot := &domain.User{
		Username:  req.Username,
		APIKey:    auth.GenerateAPIKey(),
		Emoji:     req.Emoji,
		Role:      domain.RoleBot,
		CreatedBy: creator.Username,
	}
	if err := s.users.Create(ctx, bot); err != nil {
		if errors.Is(err, repository.ErrUsernameExists) {
			return nil, errUsernameTaken(req.Username)
		}
		return nil, err
	}

	audit.LogWithTarget(ctx, audit.ActionCreateBot, creator.Username, bot.Username, "bot created")
	resp := bot.ToResponse()
	return &resp, nil
}

// MyBots returns the bots created by the caller.
func (s *userServiceImpl) MyBots(ctx context.Context, creator *domain.User) ([]domain.UserResponse, error) {
	bots, err := s.users.ListBotsByCreator(ctx, creator.Username)
	if err != nil {
		return nil, err
	}

	responses := make([]domain.UserResponse, len(bots))
	for i, bot := range bots {
		responses[i] = bot.ToResponse()
	}
	return responses, nil
}

// UpdateBot changes a bot's emoji or webhook URL. Only the creator or
// an admin may do this.
func (s *userServiceImpl) UpdateBot(ctx context.Context, caller *domain.User, botUsername string, req *domain.UpdateBotRequest) (*domain.UserResponse, error) {
	bot, err := s.getBot(ctx, botUsername)
	if err != nil {
		return nil, err
	}
	if bot.CreatedBy != caller.Username && !caller.IsAdmin() {
		return nil, &PermissionError{Reason: fmt.Sprintf("You don't have permission to update bot %s", botUsername)}
	}

	if req.Emoji != nil {
		bot.Emoji = *req.Emoji
	}
	if req.WebhookURL != nil {
		bot.WebhookURL = *req.WebhookURL
	}
	if err := s.updateUser(ctx, bot); err != nil {
		return nil, err
	}

	resp := bot.ToResponse()
	return &resp, nil
}

// DeleteBot removes a bot. Only the creator or an admin may do this.
func (s *userServiceImpl) DeleteBot(ctx context.Context, caller *domain.User, botUsername string) error {
	bot, err := s.getBot(ctx, botUsername)
	if err != nil {
		return err
	}
	if bot.CreatedBy != caller.Username && !caller.IsAdmin() {
		return &PermissionError{Reason: fmt.Sprintf("You don't have permission to delete bot %s", botUsername)}
	}

	if err := s.users.Delete(ctx, bot.Username); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return &NotFoundError{Resource: "Bot", ID: botUsername}
		}
		return err
	}

	audit.LogWithTarget(ctx, audit.ActionAdminDelete, caller.Username, botUsername, "bot deleted")
	return nil
}

// RegenerateBotAPIKey rotates a bot's API key. Only the creator or an
// admin may do this.
func (s *userServiceImpl) RegenerateBotAPIKey(ctx context.Context, caller *domain.User, botUsername string) (string, error) {
	bot, err := s.getBot(ctx, botUsername)
	if err != nil {
		return "", err
	}
	if bot.CreatedBy != caller.Username && !caller.IsAdmin() {
		return "", &PermissionError{Reason: fmt.Sprintf("You don't have permission to update bot %s", botUsername)}
	}

	bot.APIKey = auth.GenerateAPIKey()
	if err := s.updateUser(ctx, bot); err != nil {
		return "", err
	}
	return bot.APIKey, nil
}

// ListUsers returns every user with full profile fields.
func (s *userServiceImpl) ListUsers(ctx context.Context) ([]domain.UserResponse, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}

	responses := make([]domain.UserResponse, len(users))
	for i, user := range users {
		responses[i] = user.ToResponse()
	}
	return responses, nil
}

// GetUser returns one user's full profile.
func (s *userServiceImpl) GetUser(ctx context.Context, username string) (*domain.UserResponse, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, &NotFoundError{Resource: "User", ID: username}
		}
		return nil, err
	}
	resp := user.ToResponse()
	return &resp, nil
}

// AdminUpdateUser applies profile and role changes to any user. A bot
// may not carry a logo, so switching a user to the bot role and setting
// a logo in the same request is rejected.
func (s *userServiceImpl) AdminUpdateUser(ctx context.Context, actor *domain.User, username string, req *domain.AdminUpdateUserRequest) (*domain.UserResponse, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, &NotFoundError{Resource: "User", ID: username}
		}
		return nil, err
	}

	role, err := resolveAdminRole(user.Role, req)
	if err != nil {
		return nil, err
	}
	if role == domain.RoleBot && req.Logo != nil && *req.Logo != "" {
		return nil, &UnprocessableError{Reason: "Bots can only use emoji for avatars"}
	}

	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.WebhookURL != nil {
		user.WebhookURL = *req.WebhookURL
	}
	if req.Logo != nil {
		if *req.Logo != "" && !domain.IsAvailableLogo(*req.Logo) {
			return nil, errInvalidLogo()
		}
		user.Logo = *req.Logo
	}
	if req.Emoji != nil {
		user.Emoji = *req.Emoji
	}
	user.Role = role

	if err := s.updateUser(ctx, user); err != nil {
		return nil, err
	}

	audit.LogWithTarget(ctx, audit.ActionAdminUpdate, actor.Username, username, "user updated by admin")
	resp := user.ToResponse()
	return &resp, nil
}

// AdminDeleteUser removes any user.
func (s *userServiceImpl) AdminDeleteUser(ctx context.Context, actor *domain.User, username string) error {
	if err := s.users.Delete(ctx, username); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return &NotFoundError{Resource: "User", ID: username}
		}
		return err
	}

	audit.LogWithTarget(ctx, audit.ActionAdminDelete, actor.Username, username, "user deleted by admin")
	return nil
}

// AssignRole replaces a user's role.
func (s *userServiceImpl) AssignRole(ctx context.Context, actor *domain.User, username, roleName string) (*domain.UserResponse, error) {
	role, err := domain.ParseRole(roleName)
	if err != nil {
		return nil, errInvalidRole(roleName)
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, &NotFoundError{Resource: "User", ID: username}
		}
		return nil, err
	}

	user.Role = role
	if err := s.updateUser(ctx, user); err != nil {
		return nil, err
	}

	audit.LogWithDetail(ctx, audit.ActionAssignRole, actor.Username, fmt.Sprintf("%s=%s", username, role), "role assigned")
	resp := user.ToResponse()
	return &resp, nil
}

// EnsureBootstrapAdmin creates the configured admin account on first
// startup. The generated API key is logged exactly once; there is no
// other way to retrieve it.
func (s *userServiceImpl) EnsureBootstrapAdmin(ctx context.Context, username string) error {
	if username == "" {
		return nil
	}

	_, err := s.users.GetByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}

	admin := &domain.User{
		Username: username,
		APIKey:   auth.GenerateAPIKey(),
		Role:     domain.RoleAdmin,
	}
	if err := s.users.Create(ctx, admin); err != nil {
		return err
	}

	l := log.Ctx(ctx)
	l.Warn().
		Str(log.FieldUsername, username).
		Str("api_key", admin.APIKey).
		Msg("bootstrap admin created; store this API key now, it will not be shown again")
	return nil
}

func (s *userServiceImpl) getBot(ctx context.Context, botUsername string) (*domain.User, error) {
	bot, err := s.users.GetByUsername(ctx, botUsername)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, &NotFoundError{Resource: "Bot", ID: botUsername}
		}
		return nil, err
	}
	if !bot.IsBot() {
		return nil, &NotFoundError{Resource: "Bot", ID: botUsername}
	}
	return bot, nil
}

func (s *userServiceImpl) updateUser(ctx context.Context, user *domain.User) error {
	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return &NotFoundError{Resource: "User", ID: user.Username}
		}
		return err
	}
	return nil
}

// resolveAdminRole maps an admin update request onto a role. An
// explicit role field wins; otherwise the legacy booleans take effect,
// with a false value for the user's current role dropping them back to
// member.
func resolveAdminRole(current domain.Role, req *domain.AdminUpdateUserRequest) (domain.Role, error) {
	if req.Role != nil {
		role, err := domain.ParseRole(*req.Role)
		if err != nil {
			return "", errInvalidRole(*req.Role)
		}
		return role, nil
	}

	role := current
	if req.Bot != nil {
		if *req.Bot {
			role = domain.RoleBot
		} else if role == domain.RoleBot {
			role = domain.RoleMember
		}
	}
	if req.Admin != nil {
		if *req.Admin {
			role = domain.RoleAdmin
		} else if role == domain.RoleAdmin {
			role = domain.RoleMember
		}
	}
	if req.Viewer != nil {
		if *req.Viewer {
			role = domain.RoleViewer
		} else if role == domain.RoleViewer {
			role = domain.RoleMember
		}
	}
	return role, nil
}

func publicProfiles(users []*domain.User) []domain.PublicProfile {
	profiles := make([]domain.PublicProfile, len(users))
	for i, user := range users {
		profiles[i] = user.ToPublicProfile()
	}
	return profiles
}
