package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor/internal/domain"
	"github.com/parlorhq/parlor/internal/repository"
)

type fakePresence struct {
	online []string
}

func (f *fakePresence) OnlineUsernames() []string { return f.online }

type userFixture struct {
	svc      UserService
	users    repository.UserRepository
	presence *fakePresence
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()

	users := repository.NewGormUserRepository(newTestDB(t))
	presence := &fakePresence{}
	return &userFixture{
		svc:      NewUserService(users, presence),
		users:    users,
		presence: presence,
	}
}

func (f *userFixture) seed(t *testing.T, username string, role domain.Role) *domain.User {
	t.Helper()
	user := &domain.User{
		Username: username,
		APIKey:   "key-" + username,
		Role:     role,
	}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

func TestUserService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("DefaultsToMember", func(t *testing.T) {
		f := newUserFixture(t)

		resp, err := f.svc.Register(ctx, &domain.RegisterRequest{Username: "alice"})
		require.NoError(t, err)

		assert.Equal(t, "alice", resp.Username)
		assert.Equal(t, domain.RoleMember, resp.Role)
		assert.False(t, resp.Admin)
		assert.False(t, resp.Viewer)
		assert.False(t, resp.Bot)
		assert.Len(t, resp.APIKey, 64)
		assert.NotEmpty(t, resp.ID)
	})

	t.Run("ExplicitRoleWinsOverBooleans", func(t *testing.T) {
		f := newUserFixture(t)

		resp, err := f.svc.Register(ctx, &domain.RegisterRequest{
			Username: "watcher",
			Role:     "viewer",
			Admin:    true,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.RoleViewer, resp.Role)
		assert.True(t, resp.Viewer)
		assert.False(t, resp.Admin)
	})

	t.Run("LegacyBooleans", func(t *testing.T) {
		f := newUserFixture(t)

		admin, err := f.svc.Register(ctx, &domain.RegisterRequest{Username: "root", Admin: true})
		require.NoError(t, err)
		assert.Equal(t, domain.RoleAdmin, admin.Role)

		viewer, err := f.svc.Register(ctx, &domain.RegisterRequest{Username: "watcher", Viewer: true})
		require.NoError(t, err)
		assert.Equal(t, domain.RoleViewer, viewer.Role)
	})

	t.Run("BotsRedirectedToBotEndpoint", func(t *testing.T) {
		f := newUserFixture(t)

		_, err := f.svc.Register(ctx, &domain.RegisterRequest{Username: "robo", Bot: true})
		var invalid *ValidationError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "Bots cannot be created via /register. Use POST /bots instead.", invalid.Error())

		_, err = f.svc.Register(ctx, &domain.RegisterRequest{Username: "robo", Role: "bot"})
		require.ErrorAs(t, err, &invalid)

		_, lookupErr := f.users.GetByUsername(ctx, "robo")
		assert.ErrorIs(t, lookupErr, repository.ErrUserNotFound)
	})

	t.Run("InvalidRole", func(t *testing.T) {
		f := newUserFixture(t)

		_, err := f.svc.Register(ctx, &domain.RegisterRequest{Username: "alice", Role: "superuser"})
		var unprocessable *UnprocessableError
		require.ErrorAs(t, err, &unprocessable)
		assert.Equal(t, "Invalid role 'superuser'. Valid roles: admin, member, viewer, bot", unprocessable.Error())
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		f := newUserFixture(t)
		f.seed(t, "alice", domain.RoleMember)

		_, err := f.svc.Register(ctx, &domain.RegisterRequest{Username: "alice"})
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "Username alice already exists", conflict.Error())
	})

	t.Run("InvalidLogo", func(t *testing.T) {
		f := newUserFixture(t)

		_, err := f.svc.Register(ctx, &domain.RegisterRequest{Username: "alice", Logo: "mascot.gif"})
		var unprocessable *UnprocessableError
		require.ErrorAs(t, err, &unprocessable)
		assert.Contains(t, unprocessable.Error(), "Logo must be one of: ")
		assert.Contains(t, unprocessable.Error(), "claude-color.png")
	})

	t.Run("ProfileFieldsStored", func(t *testing.T) {
		f := newUserFixture(t)

		resp, err := f.svc.Register(ctx, &domain.RegisterRequest{
			Username:   "alice",
			Logo:       "openai.png",
			Emoji:      "🎨",
			WebhookURL: "https://example.com/hook",
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Logo)
		assert.Equal(t, "openai.png", *resp.Logo)
		require.NotNil(t, resp.Emoji)
		assert.Equal(t, "🎨", *resp.Emoji)
		require.NotNil(t, resp.WebhookURL)
		assert.Equal(t, "https://example.com/hook", *resp.WebhookURL)
	})
}

func TestUserService_Profiles(t *testing.T) {
	ctx := context.Background()

	t.Run("PublicProfile", func(t *testing.T) {
		f := newUserFixture(t)
		bot := f.seed(t, "helper_bot", domain.RoleBot)
		bot.Emoji = "🤖"
		require.NoError(t, f.users.Update(ctx, bot))

		profile, err := f.svc.Profile(ctx, "helper_bot")
		require.NoError(t, err)
		assert.Equal(t, "helper_bot", profile.Username)
		assert.Equal(t, domain.RoleBot, profile.Role)
		assert.True(t, profile.Bot)
		require.NotNil(t, profile.Emoji)
		assert.Equal(t, "🤖", *profile.Emoji)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		f := newUserFixture(t)

		_, err := f.svc.Profile(ctx, "ghost")
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "User ghost not found", notFound.Error())
	})

	t.Run("ChatUsersExcludeViewers", func(t *testing.T) {
		f := newUserFixture(t)
		f.seed(t, "alice", domain.RoleMember)
		f.seed(t, "watcher", domain.RoleViewer)
		f.seed(t, "helper_bot", domain.RoleBot)

		profiles, err := f.svc.ListChatUsers(ctx)
		require.NoError(t, err)

		names := make([]string, len(profiles))
		for i, p := range profiles {
			names[i] = p.Username
		}
		assert.ElementsMatch(t, []string{"alice", "helper_bot"}, names)
	})

	t.Run("OnlineUsersFollowPresenceOrder", func(t *testing.T) {
		f := newUserFixture(t)
		f.seed(t, "alice", domain.RoleMember)
		f.seed(t, "bob", domain.RoleMember)
		f.presence.online = []string{"bob", "ghost", "alice"}

		profiles, err := f.svc.OnlineUsers(ctx)
		require.NoError(t, err)
		require.Len(t, profiles, 2)
		assert.Equal(t, "bob", profiles[0].Username)
		assert.Equal(t, "alice", profiles[1].Username)
	})

	t.Run("NobodyOnline", func(t *testing.T) {
		f := newUserFixture(t)
		f.seed(t, "alice", domain.RoleMember)

		profiles, err := f.svc.OnlineUsers(ctx)
		require.NoError(t, err)
		assert.NotNil(t, profiles)
		assert.Empty(t, profiles)
	})
}

func TestUserService_SelfService(t *testing.T) {
	ctx := context.Background()

	t.Run("UpdateLogo", func(t *testing.T) {
		f := newUserFixture(t)
		alice := f.seed(t, "alice", domain.RoleMember)

		logo := "gemini-color.png"
		require.NoError(t, f.svc.UpdateLogo(ctx, alice, &logo))
		stored, err := f.users.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "gemini-color.png", stored.Logo)

		require.NoError(t, f.svc.UpdateLogo(ctx, alice, nil))
		stored, err = f.users.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, stored.Logo)

		bad := "mascot.gif"
		err = f.svc.UpdateLogo(ctx, alice, &bad)
		var unprocessable *UnprocessableError
		assert.ErrorAs(t, err, &unprocessable)
	})

	t.Run("UpdateWebhook", func(t *testing.T) {
		f := newUserFixture(t)
		alice := f.seed(t, "alice", domain.RoleMember)

		url := "https://example.com/hook"
		require.NoError(t, f.svc.UpdateWebhook(ctx, alice, &url))
		stored, err := f.users.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, url, stored.WebhookURL)

		require.NoError(t, f.svc.UpdateWebhook(ctx, alice, nil))
		stored, err = f.users.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, stored.WebhookURL)
	})

	t.Run("UpdateUsernameFreesOldName", func(t *testing.T) {
		f := newUserFixture(t)
		alice := f.seed(t, "alice", domain.RoleMember)

		resp, err := f.svc.UpdateUsername(ctx, alice, "alicia")
		require.NoError(t, err)
		assert.Equal(t, "alicia", resp.Username)

		// The API key keeps resolving to the renamed account.
		byKey, err := f.users.GetByAPIKey(ctx, "key-alice")
		require.NoError(t, err)
		assert.Equal(t, "alicia", byKey.Username)

		// The old name is free for a new registration.
		_, err = f.svc.Register(ctx, &domain.RegisterRequest{Username: "alice"})
		require.NoError(t, err)
	})

	t.Run("UpdateUsernameConflict", func(t *testing.T) {
		f := newUserFixture(t)
		alice := f.seed(t, "alice", domain.RoleMember)
		f.seed(t, "bob", domain.RoleMember)

		_, err := f.svc.UpdateUsername(ctx, alice, "bob")
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "Username bob already exists", conflict.Error())
		assert.Equal(t, "alice", alice.Username)
	})

	t.Run("RegenerateAPIKeyInvalidatesOld", func(t *testing.T) {
		f := newUserFixture(t)
		alice := f.seed(t, "alice", domain.RoleMember)

		key, err := f.svc.RegenerateAPIKey(ctx, alice)
		require.NoError(t, err)
		assert.Len(t, key, 64)
		assert.NotEqual(t, "key-alice", key)

		_, err = f.users.GetByAPIKey(ctx, "key-alice")
		assert.ErrorIs(t, err, repository.ErrUserNotFound)

		byKey, err := f.users.GetByAPIKey(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "alice", byKey.Username)
	})
}

func TestUserService_Bots(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateSetsOwnershipAndRole", func(t *testing.T) {
		f := newUserFixture(t)
		alice := f.seed(t, "alice", domain.RoleMember)

		resp, err := f.svc.CreateBot(ctx, alice, &domain.CreateBotRequest{Username: "buddy_bot", Emoji: "🤖"})
		require.NoError(t, err)

		assert.Equal(t, domain.RoleBot, resp.Role)
		assert.True(t, resp.Bot)
		require.NotNil(t, resp.CreatedBy)
		assert.Equal(t, "alice", *resp.CreatedBy)
		assert.Len(t, resp.APIKey, 64)
	})

	t.Run("CreateConflict", func(t *testing.T) {
		f := newUserFixture(t)
		alice := f.seed(t, "alice", domain.RoleMember)

		_, err := f.svc.CreateBot(ctx, alice, &domain.CreateBotRequest{Username: "alice", Emoji: "🤖"})
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "Username alice already exists", conflict.Error())
	})

	t.Run("MyBotsOnlyListsOwn", func(t *testing.T) {
		f := newUserFixture(t)
		alice := f.seed(t, "alice", domain.RoleMember)
		bob := f.seed(t, "bob", domain.RoleMember)

		_, err := f.svc.CreateBot(ctx, alice, &domain.CreateBotRequest{Username: "alice_bot", Emoji: "🅰️"})
		require.NoError(t, err)
		_, err = f.svc.CreateBot(ctx, bob, &domain.CreateBotRequest{Username: "bob_bot", Emoji: "🅱️"})
		require.NoError(t, err)

		bots, err := f.svc.MyBots(ctx, alice)
		require.NoError(t, err)
		require.Len(t, bots, 1)
		assert.Equal(t, "alice_bot", bots[0].Username)
	})

	t.Run("UpdateByCreator", func(t *testing.T) {
		f := newUserFixture(t)
		alice := f.seed(t, "alice", domain.RoleMember)
		_, err := f.svc.CreateBot(ctx, alice, &domain.CreateBotRequest{Username: "buddy_bot", Emoji: "🤖"})
		require.NoError(t, err)

		emoji := "✨"
		resp, err := f.svc.UpdateBot(ctx, alice, "buddy_bot", &domain.UpdateBotRequest{Emoji: &emoji})
		require.NoError(t, err)
		require.NotNil(t, resp.Emoji)
		assert.Equal(t, "✨", *resp.Emoji)
	})

	t.Run("UpdateByStrangerDenied", func(t *testing.T) {
		f := newUserFixture(t)
		alice := f.seed(t, "alice", domain.RoleMember)
		mallory := f.seed(t, "mallory", domain.RoleMember)
		_, err := f.svc.CreateBot(ctx, alice, &domain.CreateBotRequest{Username: "buddy_bot", Emoji: "🤖"})
		require.NoError(t, err)

		emoji := "😈"
		_, err = f.svc.UpdateBot(ctx, mallory, "buddy_bot", &domain.UpdateBotRequest{Emoji: &emoji})
		var denied *PermissionError
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, "You don't have permission to update bot buddy_bot", denied.Error())
	})

	t.Run("AdminMayUpdateAnyBot", func(t *testing.T) {
		f := newUserFixture(t)
		alice := f.seed(t, "alice", domain.RoleMember)
		admin := f.seed(t, "root", domain.RoleAdmin)
		_, err := f.svc.CreateBot(ctx, alice, &domain.CreateBotRequest{Username: "buddy_bot", Emoji: "🤖"})
		require.NoError(t, err)

		emoji := "🛠️"
		_, err = f.svc.UpdateBot(ctx, admin, "buddy_bot", &domain.UpdateBotRequest{Emoji: &emoji})
		require.NoError(t, err)
	})

	t.Run("DeleteGates", func(t *testing.T) {
		f := newUserFixture(t)
		alice := f.seed(t, "alice", domain.RoleMember)
		mallory := f.seed(t, "mallory", domain.RoleMember)
		_, err := f.svc.CreateBot(ctx, alice, &domain.CreateBotRequest{Username: "buddy_bot", Emoji: "🤖"})
		require.NoError(t, err)

		err = f.svc.DeleteBot(ctx, mallory, "buddy_bot")
		var denied *PermissionError
		require.ErrorAs(t, err, &denied)
		assert.Equal(t, "You don't have permission to delete bot buddy_bot", denied.Error())

		require.NoError(t, f.svc.DeleteBot(ctx, alice, "buddy_bot"))
		_, err = f.users.GetByUsername(ctx, "buddy_bot")
		assert.ErrorIs(t, err, repository.ErrUserNotFound)
	})

	t.Run("RegenerateKeyGates", func(t *testing.T) {
		f := newUserFixture(t)
		alice := f.seed(t, "alice", domain.RoleMember)
		mallory := f.seed(t, "mallory", domain.RoleMember)
		created, err := f.svc.CreateBot(ctx, alice, &domain.CreateBotRequest{Username: "buddy_bot", Emoji: "🤖"})
		require.NoError(t, err)

		_, err = f.svc.RegenerateBotAPIKey(ctx, mallory, "buddy_bot")
		var denied *PermissionError
		require.ErrorAs(t, err, &denied)

		key, err := f.svc.RegenerateBotAPIKey(ctx, alice, "buddy_bot")
		require.NoError(t, err)
		assert.NotEqual(t, created.APIKey, key)

		_, err = f.users.GetByAPIKey(ctx, created.APIKey)
		assert.ErrorIs(t, err, repository.ErrUserNotFound)
	})

	t.Run("HumanTargetIsNotABot", func(t *testing.T) {
		f := newUserFixture(t)
		alice := f.seed(t, "alice", domain.RoleMember)
		f.seed(t, "bob", domain.RoleMember)

		emoji := "🤖"
		_, err := f.svc.UpdateBot(ctx, alice, "bob", &domain.UpdateBotRequest{Emoji: &emoji})
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "Bot bob not found", notFound.Error())
	})
}

func TestUserService_Admin(t *testing.T) {
	ctx := context.Background()

	t.Run("UpdateProfileAndRole", func(t *testing.T) {
		f := newUserFixture(t)
		admin := f.seed(t, "root", domain.RoleAdmin)
		f.seed(t, "alice", domain.RoleMember)

		role := "viewer"
		email := "alice@example.com"
		resp, err := f.svc.AdminUpdateUser(ctx, admin, "alice", &domain.AdminUpdateUserRequest{
			Role:  &role,
			Email: &email,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.RoleViewer, resp.Role)
		assert.True(t, resp.Viewer)
		require.NotNil(t, resp.Email)
		assert.Equal(t, "alice@example.com", *resp.Email)
	})

	t.Run("LegacyBotFlagWithEmoji", func(t *testing.T) {
		f := newUserFixture(t)
		admin := f.seed(t, "root", domain.RoleAdmin)
		f.seed(t, "alice", domain.RoleMember)

		isBot := true
		emoji := "🔄"
		resp, err := f.svc.AdminUpdateUser(ctx, admin, "alice", &domain.AdminUpdateUserRequest{
			Bot:   &isBot,
			Emoji: &emoji,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.RoleBot, resp.Role)
		assert.True(t, resp.Bot)
		require.NotNil(t, resp.Emoji)
		assert.Equal(t, "🔄", *resp.Emoji)
	})

	t.Run("BotWithLogoRejected", func(t *testing.T) {
		f := newUserFixture(t)
		admin := f.seed(t, "root", domain.RoleAdmin)
		f.seed(t, "alice", domain.RoleMember)

		isBot := true
		logo := "openai.png"
		_, err := f.svc.AdminUpdateUser(ctx, admin, "alice", &domain.AdminUpdateUserRequest{
			Bot:  &isBot,
			Logo: &logo,
		})
		var unprocessable *UnprocessableError
		require.ErrorAs(t, err, &unprocessable)
		assert.Equal(t, "Bots can only use emoji for avatars", unprocessable.Error())

		// The rejected update leaves the user untouched.
		stored, lookupErr := f.users.GetByUsername(ctx, "alice")
		require.NoError(t, lookupErr)
		assert.Equal(t, domain.RoleMember, stored.Role)
	})

	t.Run("ClearingCurrentRoleFlagDropsToMember", func(t *testing.T) {
		f := newUserFixture(t)
		admin := f.seed(t, "root", domain.RoleAdmin)
		f.seed(t, "second", domain.RoleAdmin)

		notAdmin := false
		resp, err := f.svc.AdminUpdateUser(ctx, admin, "second", &domain.AdminUpdateUserRequest{Admin: &notAdmin})
		require.NoError(t, err)
		assert.Equal(t, domain.RoleMember, resp.Role)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		f := newUserFixture(t)
		admin := f.seed(t, "root", domain.RoleAdmin)

		_, err := f.svc.AdminUpdateUser(ctx, admin, "ghost", &domain.AdminUpdateUserRequest{})
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "User ghost not found", notFound.Error())
	})

	t.Run("AssignRoleRoundTrip", func(t *testing.T) {
		f := newUserFixture(t)
		admin := f.seed(t, "root", domain.RoleAdmin)
		f.seed(t, "alice", domain.RoleMember)

		for _, role := range []domain.Role{domain.RoleAdmin, domain.RoleViewer, domain.RoleBot, domain.RoleMember} {
			resp, err := f.svc.AssignRole(ctx, admin, "alice", string(role))
			require.NoError(t, err)
			assert.Equal(t, role, resp.Role)
		}
	})

	t.Run("AssignInvalidRole", func(t *testing.T) {
		f := newUserFixture(t)
		admin := f.seed(t, "root", domain.RoleAdmin)
		f.seed(t, "alice", domain.RoleMember)

		_, err := f.svc.AssignRole(ctx, admin, "alice", "superuser")
		var unprocessable *UnprocessableError
		require.ErrorAs(t, err, &unprocessable)
		assert.Equal(t, "Invalid role 'superuser'. Valid roles: admin, member, viewer, bot", unprocessable.Error())
	})

	t.Run("AssignRoleUnknownUser", func(t *testing.T) {
		f := newUserFixture(t)
		admin := f.seed(t, "root", domain.RoleAdmin)

		_, err := f.svc.AssignRole(ctx, admin, "ghost", "member")
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("DeleteUser", func(t *testing.T) {
		f := newUserFixture(t)
		admin := f.seed(t, "root", domain.RoleAdmin)
		f.seed(t, "alice", domain.RoleMember)

		require.NoError(t, f.svc.AdminDeleteUser(ctx, admin, "alice"))

		err := f.svc.AdminDeleteUser(ctx, admin, "alice")
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "User alice not found", notFound.Error())
	})
}

func TestUserService_EnsureBootstrapAdmin(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatesAdminOnce", func(t *testing.T) {
		f := newUserFixture(t)

		require.NoError(t, f.svc.EnsureBootstrapAdmin(ctx, "root"))

		admin, err := f.users.GetByUsername(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, domain.RoleAdmin, admin.Role)
		assert.Len(t, admin.APIKey, 64)

		// A second startup leaves the existing account alone.
		require.NoError(t, f.svc.EnsureBootstrapAdmin(ctx, "root"))
		again, err := f.users.GetByUsername(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, admin.APIKey, again.APIKey)
	})

	t.Run("DisabledWhenUnset", func(t *testing.T) {
		f := newUserFixture(t)

		require.NoError(t, f.svc.EnsureBootstrapAdmin(ctx, ""))
		users, err := f.users.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, users)
	})
}
