package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor/internal/domain"
)

const wsReadWait = 2 * time.Second

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, server *httptest.Server, apiKey string) *wsClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	if apiKey != "" {
		url += "?api_key=" + apiKey
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(v interface{}) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(v))
}

// read returns the next frame as loosely typed JSON.
func (c *wsClient) read() map[string]json.RawMessage {
	c.t.Helper()

	c.conn.SetReadDeadline(time.Now().Add(wsReadWait))
	_, payload, err := c.conn.ReadMessage()
	require.NoError(c.t, err)

	var frame map[string]json.RawMessage
	require.NoError(c.t, json.Unmarshal(payload, &frame))
	return frame
}

func (c *wsClient) readInto(out interface{}) {
	c.t.Helper()

	c.conn.SetReadDeadline(time.Now().Add(wsReadWait))
	_, payload, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	require.NoError(c.t, json.Unmarshal(payload, out))
}

func frameString(t *testing.T, frame map[string]json.RawMessage, key string) string {
	t.Helper()
	raw, ok := frame[key]
	require.True(t, ok, "frame missing %q: %v", key, frame)
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

// expectSilence asserts that no frame arrives within the window.
func (c *wsClient) expectSilence(d time.Duration) {
	c.t.Helper()

	c.conn.SetReadDeadline(time.Now().Add(d))
	_, payload, err := c.conn.ReadMessage()
	require.Error(c.t, err, "expected no frame, got %s", payload)

	netErr, ok := err.(net.Error)
	require.True(c.t, ok, "expected timeout, got %v", err)
	assert.True(c.t, netErr.Timeout())
}

func (f *apiFixture) waitOnline(t *testing.T, username string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.registry.IsOnline(username)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketRejectsBadCredentials(t *testing.T) {
	f := newAPIFixture(t)
	server := httptest.NewServer(f.engine)
	defer server.Close()

	client := dialWS(t, server, "")

	client.conn.SetReadDeadline(time.Now().Add(wsReadWait))
	_, _, err := client.conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "Invalid or missing authentication credentials", closeErr.Text)
}

func TestWebSocketRoomBroadcast(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "alice", domain.RoleMember)
	f.seedUser(t, "bob", domain.RoleMember)
	server := httptest.NewServer(f.engine)
	defer server.Close()

	alice := dialWS(t, server, "key-alice")
	bob := dialWS(t, server, "key-bob")
	f.waitOnline(t, "alice")
	f.waitOnline(t, "bob")

	// No type field: legacy clients send bare content frames.
	alice.send(map[string]string{"content": "hello everyone"})

	var confirmation domain.MessageSentFrame
	alice.readInto(&confirmation)
	assert.Equal(t, domain.FrameTypeMessageSent, confirmation.Type)
	assert.Equal(t, "sent", confirmation.Status)
	assert.Equal(t, "hello everyone", confirmation.Message.Content)
	assert.Equal(t, "alice", confirmation.Message.FromUsername)

	var received domain.MessageResponse
	bob.readInto(&received)
	assert.Equal(t, "hello everyone", received.Content)
	assert.Equal(t, "alice", received.FromUsername)
	assert.Equal(t, domain.MessageTypeRoom, received.MessageType)

	// The sender must not get their own broadcast back.
	alice.expectSilence(200 * time.Millisecond)
}

func TestWebSocketDirectMessage(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "alice", domain.RoleMember)
	f.seedUser(t, "bob", domain.RoleMember)
	f.seedUser(t, "carol", domain.RoleMember)
	server := httptest.NewServer(f.engine)
	defer server.Close()

	alice := dialWS(t, server, "key-alice")
	bob := dialWS(t, server, "key-bob")
	carol := dialWS(t, server, "key-carol")
	f.waitOnline(t, "alice")
	f.waitOnline(t, "bob")
	f.waitOnline(t, "carol")

	alice.send(domain.MessageFrame{Type: domain.FrameTypeMessage, Content: "psst", ToUsername: "bob"})

	var confirmation domain.MessageSentFrame
	alice.readInto(&confirmation)
	require.NotNil(t, confirmation.Message.ToUsername)
	assert.Equal(t, "bob", *confirmation.Message.ToUsername)

	var received domain.MessageResponse
	bob.readInto(&received)
	assert.Equal(t, "psst", received.Content)
	assert.Equal(t, domain.MessageTypeDirect, received.MessageType)

	carol.expectSilence(200 * time.Millisecond)
}

func TestWebSocketFanoutToAllConnections(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "alice", domain.RoleMember)
	f.seedUser(t, "bob", domain.RoleMember)
	server := httptest.NewServer(f.engine)
	defer server.Close()

	first := dialWS(t, server, "key-alice")
	second := dialWS(t, server, "key-alice")
	bob := dialWS(t, server, "key-bob")
	f.waitOnline(t, "alice")
	f.waitOnline(t, "bob")
	require.Eventually(t, func() bool {
		return f.registry.TotalConnections() == 3
	}, 2*time.Second, 10*time.Millisecond)

	bob.send(domain.MessageFrame{Content: "for alice", ToUsername: "alice"})

	var confirmation domain.MessageSentFrame
	bob.readInto(&confirmation)

	var fromFirst, fromSecond domain.MessageResponse
	first.readInto(&fromFirst)
	second.readInto(&fromSecond)
	assert.Equal(t, "for alice", fromFirst.Content)
	assert.Equal(t, fromFirst.ID, fromSecond.ID)
}

func TestWebSocketFrameValidation(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "alice", domain.RoleMember)
	server := httptest.NewServer(f.engine)
	defer server.Close()

	alice := dialWS(t, server, "key-alice")
	f.waitOnline(t, "alice")

	t.Run("UnknownType", func(t *testing.T) {
		alice.send(map[string]string{"type": "teleport"})
		frame := alice.read()
		assert.Equal(t, "error", frameString(t, frame, "type"))
		assert.Equal(t, "Unknown message type", frameString(t, frame, "error"))
	})

	t.Run("MissingContent", func(t *testing.T) {
		alice.send(map[string]string{"type": "message"})
		frame := alice.read()
		assert.Equal(t, "Missing content field", frameString(t, frame, "error"))
	})

	t.Run("MarkReadNeedsID", func(t *testing.T) {
		alice.send(map[string]string{"type": "mark_read"})
		frame := alice.read()
		assert.Equal(t, "Missing message_id field", frameString(t, frame, "error"))
	})

	t.Run("ProfileNeedsUsername", func(t *testing.T) {
		alice.send(map[string]string{"type": "get_user_profile"})
		frame := alice.read()
		assert.Equal(t, "Missing username field", frameString(t, frame, "error"))
	})

	t.Run("BadSinceRejected", func(t *testing.T) {
		alice.send(map[string]string{"type": "get_messages", "since": "yesterday"})
		frame := alice.read()
		assert.Equal(t, "Invalid timestamp format. Use ISO 8601 format.", frameString(t, frame, "error"))
	})

	t.Run("UnknownRecipient", func(t *testing.T) {
		alice.send(domain.MessageFrame{Content: "hi", ToUsername: "ghost"})
		frame := alice.read()
		assert.Equal(t, "User ghost not found", frameString(t, frame, "error"))
	})

	t.Run("ConnectionSurvivesErrors", func(t *testing.T) {
		alice.send(map[string]string{"type": "get_unread_count"})
		var counts domain.UnreadCountFrame
		alice.readInto(&counts)
		assert.Equal(t, domain.FrameTypeUnreadCount, counts.Type)
	})
}

func TestWebSocketQueries(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "alice", domain.RoleMember)
	f.seedUser(t, "bob", domain.RoleMember)
	f.seedUser(t, "watcher", domain.RoleViewer)
	server := httptest.NewServer(f.engine)
	defer server.Close()

	alice := dialWS(t, server, "key-alice")
	bob := dialWS(t, server, "key-bob")
	f.waitOnline(t, "alice")
	f.waitOnline(t, "bob")

	alice.send(map[string]string{"content": "query fodder"})
	var confirmation domain.MessageSentFrame
	alice.readInto(&confirmation)
	messageID := confirmation.Message.ID

	var broadcast domain.MessageResponse
	bob.readInto(&broadcast)

	t.Run("GetMessages", func(t *testing.T) {
		bob.send(map[string]interface{}{"type": "get_messages", "limit": 10})
		var list domain.MessageListFrame
		bob.readInto(&list)
		assert.Equal(t, domain.FrameTypeMessages, list.Type)
		require.Len(t, list.Messages, 1)
		assert.Equal(t, "query fodder", list.Messages[0].Content)
		require.NotNil(t, list.Pagination)
		assert.Equal(t, 1, list.Pagination.Total)
	})

	t.Run("GetUnreadMessages", func(t *testing.T) {
		bob.send(map[string]string{"type": "get_unread_messages"})
		var list domain.MessageListFrame
		bob.readInto(&list)
		assert.Equal(t, domain.FrameTypeUnreadMessages, list.Type)
		require.Len(t, list.Messages, 1)
		assert.Nil(t, list.Pagination)
	})

	t.Run("MarkReadNotifiesAuthor", func(t *testing.T) {
		bob.send(domain.MarkReadFrame{Type: domain.FrameTypeMarkRead, MessageID: messageID})

		var marked domain.MarkedReadFrame
		bob.readInto(&marked)
		assert.Equal(t, domain.FrameTypeMarkedRead, marked.Type)
		assert.Equal(t, "success", marked.Status)
		assert.Equal(t, messageID, marked.MessageID)

		var receipt domain.ReadReceiptFrame
		alice.readInto(&receipt)
		assert.Equal(t, domain.FrameTypeReadReceipt, receipt.Type)
		assert.Equal(t, messageID, receipt.MessageID)
		assert.Equal(t, "bob", receipt.ReadBy)
	})

	t.Run("RepeatMarkIsSilentForAuthor", func(t *testing.T) {
		bob.send(domain.MarkReadFrame{Type: domain.FrameTypeMarkRead, MessageID: messageID})
		var marked domain.MarkedReadFrame
		bob.readInto(&marked)
		assert.Equal(t, "success", marked.Status)

		alice.expectSilence(200 * time.Millisecond)
	})

	t.Run("MarkAllRead", func(t *testing.T) {
		bob.send(map[string]string{"type": "mark_all_read"})
		var counted domain.MarkedCountFrame
		bob.readInto(&counted)
		assert.Equal(t, domain.FrameTypeMarkedAllRead, counted.Type)
		assert.Equal(t, "success", counted.Status)
		assert.Zero(t, counted.MarkedAsRead)
	})

	t.Run("GetUsersExcludesViewers", func(t *testing.T) {
		bob.send(map[string]string{"type": "get_users"})
		var list domain.UserListFrame
		bob.readInto(&list)
		assert.Equal(t, domain.FrameTypeUsers, list.Type)

		names := make([]string, 0, len(list.Users))
		for _, u := range list.Users {
			names = append(names, u.Username)
		}
		assert.ElementsMatch(t, []string{"alice", "bob"}, names)
	})

	t.Run("GetOnlineUsers", func(t *testing.T) {
		bob.send(map[string]string{"type": "get_online_users"})
		var list domain.UserListFrame
		bob.readInto(&list)
		assert.Equal(t, domain.FrameTypeOnlineUsers, list.Type)

		names := make([]string, 0, len(list.Users))
		for _, u := range list.Users {
			names = append(names, u.Username)
		}
		assert.ElementsMatch(t, []string{"alice", "bob"}, names)
	})

	t.Run("GetUserProfile", func(t *testing.T) {
		bob.send(domain.UserProfileQueryFrame{Type: domain.FrameTypeGetUserProfile, Username: "alice"})
		var profile domain.UserProfileFrame
		bob.readInto(&profile)
		assert.Equal(t, domain.FrameTypeUserProfile, profile.Type)
		assert.Equal(t, "alice", profile.User.Username)
	})
}

func TestWebSocketPermissions(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "alice", domain.RoleMember)
	f.seedUser(t, "watcher", domain.RoleViewer)
	f.seedUser(t, "root", domain.RoleAdmin)
	server := httptest.NewServer(f.engine)
	defer server.Close()

	alice := dialWS(t, server, "key-alice")
	watcher := dialWS(t, server, "key-watcher")
	rootConn := dialWS(t, server, "key-root")
	f.waitOnline(t, "alice")
	f.waitOnline(t, "watcher")
	f.waitOnline(t, "root")

	alice.send(map[string]string{"content": "target practice"})
	var confirmation domain.MessageSentFrame
	alice.readInto(&confirmation)
	messageID := confirmation.Message.ID

	// Broadcast reaches everyone but the sender, viewers included.
	var seen domain.MessageResponse
	watcher.readInto(&seen)
	rootConn.readInto(&seen)

	t.Run("ViewerCannotSend", func(t *testing.T) {
		watcher.send(map[string]string{"content": "let me talk"})
		frame := watcher.read()
		assert.Equal(t, "Role 'viewer' does not have permission to send room messages", frameString(t, frame, "error"))
	})

	t.Run("MemberCannotDeleteMessages", func(t *testing.T) {
		alice.send(domain.DeleteMessageFrame{Type: domain.FrameTypeDeleteMessage, MessageID: messageID})
		frame := alice.read()
		assert.Equal(t,
			"Permission 'admin_messages' required. Your role 'member' does not have this permission.",
			frameString(t, frame, "error"))
	})

	t.Run("AdminDeletesMessages", func(t *testing.T) {
		rootConn.send(domain.DeleteMessageFrame{Type: domain.FrameTypeDeleteMessage, MessageID: messageID})
		var deleted domain.MessageDeletedFrame
		rootConn.readInto(&deleted)
		assert.Equal(t, domain.FrameTypeMessageDeleted, deleted.Type)
		assert.Equal(t, messageID, deleted.MessageID)
	})
}

func TestWebSocketConversations(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "alice", domain.RoleMember)
	server := httptest.NewServer(f.engine)
	defer server.Close()

	alice := dialWS(t, server, "key-alice")
	f.waitOnline(t, "alice")

	alice.send(map[string]string{"content": "worth keeping"})
	var confirmation domain.MessageSentFrame
	alice.readInto(&confirmation)

	var conversationID string

	t.Run("Create", func(t *testing.T) {
		alice.send(domain.CreateConversationFrame{
			Type:       domain.FrameTypeCreateConversation,
			Title:      "a keeper",
			MessageIDs: []string{confirmation.Message.ID},
		})
		var created domain.ConversationFrame
		alice.readInto(&created)
		assert.Equal(t, domain.FrameTypeConversationCreated, created.Type)
		require.NotNil(t, created.Conversation.Title)
		assert.Equal(t, "a keeper", *created.Conversation.Title)
		conversationID = created.Conversation.ID
	})

	t.Run("List", func(t *testing.T) {
		alice.send(map[string]string{"type": "get_conversations"})
		var list domain.ConversationListFrame
		alice.readInto(&list)
		assert.Equal(t, domain.FrameTypeConversations, list.Type)
		require.Len(t, list.Conversations, 1)
		assert.Equal(t, 1, list.Pagination.Total)
	})

	t.Run("Update", func(t *testing.T) {
		title := "renamed"
		alice.send(domain.UpdateConversationFrame{
			Type:           domain.FrameTypeUpdateConversation,
			ConversationID: conversationID,
			Title:          &title,
		})
		var updated domain.ConversationFrame
		alice.readInto(&updated)
		assert.Equal(t, domain.FrameTypeConversationUpdated, updated.Type)
		require.NotNil(t, updated.Conversation.Title)
		assert.Equal(t, "renamed", *updated.Conversation.Title)
	})

	t.Run("MissingIDRejected", func(t *testing.T) {
		alice.send(map[string]string{"type": "get_conversation"})
		frame := alice.read()
		assert.Equal(t, "Missing conversation_id field", frameString(t, frame, "error"))
	})

	t.Run("Delete", func(t *testing.T) {
		alice.send(domain.ConversationQueryFrame{
			Type:           domain.FrameTypeDeleteConversation,
			ConversationID: conversationID,
		})
		var deleted domain.ConversationDeletedFrame
		alice.readInto(&deleted)
		assert.Equal(t, domain.FrameTypeConversationDeleted, deleted.Type)
		assert.Equal(t, conversationID, deleted.ConversationID)
	})
}

func TestWebSocketConnectionLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "alice", domain.RoleMember)
	f.seedUser(t, "root", domain.RoleAdmin)
	server := httptest.NewServer(f.engine)
	defer server.Close()

	alice := dialWS(t, server, "key-alice")
	f.waitOnline(t, "alice")

	t.Run("StatsSeeTheConnection", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/admin/websocket/connections", "key-root", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var stats struct {
			TotalUsers       int `json:"total_users"`
			TotalConnections int `json:"total_connections"`
			Connections      []struct {
				Username     string `json:"username"`
				ConnectionID string `json:"connection_id"`
				IsHealthy    bool   `json:"is_healthy"`
			} `json:"connections"`
		}
		decodeData(t, w, &stats)
		assert.Equal(t, 1, stats.TotalUsers)
		assert.Equal(t, 1, stats.TotalConnections)
		require.Len(t, stats.Connections, 1)
		assert.Equal(t, "alice", stats.Connections[0].Username)
		assert.True(t, stats.Connections[0].IsHealthy)
	})

	t.Run("StatsFilterByUsername", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/admin/websocket/connections?username=alice", "key-root", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var stats struct {
			Connections []struct {
				Username string `json:"username"`
			} `json:"connections"`
		}
		decodeData(t, w, &stats)
		require.Len(t, stats.Connections, 1)
		assert.Equal(t, "alice", stats.Connections[0].Username)

		w = f.do(t, http.MethodGet, "/admin/websocket/connections?username=nobody", "key-root", nil)
		require.Equal(t, http.StatusOK, w.Code)
		decodeData(t, w, &stats)
		assert.Empty(t, stats.Connections)
	})

	t.Run("DisconnectPrunesEverything", func(t *testing.T) {
		alice.conn.Close()

		require.Eventually(t, func() bool {
			return !f.registry.IsOnline("alice")
		}, 2*time.Second, 10*time.Millisecond)
		require.Eventually(t, func() bool {
			return f.monitor.TrackedConnections() == 0
		}, 2*time.Second, 10*time.Millisecond)
	})
}
