package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor/internal/config"
)

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		SendTimeout:    200 * time.Millisecond,
		WriteWait:      time.Second,
		MaxMessageSize: 65536,
	}
}

// newSocketPair upgrades a real websocket over an httptest server and
// returns both ends.
func newSocketPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-serverConns:
	case <-time.After(time.Second):
		t.Fatal("server side of socket pair never arrived")
	}
	return server, client
}

// newLiveConnection builds a Connection with its write pump running and
// hands back the client end for assertions.
func newLiveConnection(t *testing.T, username string) (*Connection, *websocket.Conn) {
	t.Helper()

	server, client := newSocketPair(t)
	conn := NewConnection(context.Background(), username, server, testWSConfig())
	go conn.WritePump()
	t.Cleanup(conn.Close)
	return conn, client
}

func readFrame(t *testing.T, client *websocket.Conn) []byte {
	t.Helper()

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	return data
}

func assertNoFrame(t *testing.T, client *websocket.Conn) {
	t.Helper()

	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := client.ReadMessage()
	require.Error(t, err)
}

// disconnectRecorder captures the hook invocations a registry makes.
type disconnectRecorder struct {
	mu    sync.Mutex
	seen  [][2]string
	count int
}

func (r *disconnectRecorder) hook(username, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, [2]string{username, connectionID})
	r.count++
}

func (r *disconnectRecorder) has(username, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pair := range r.seen {
		if pair[0] == username && pair[1] == connectionID {
			return true
		}
	}
	return false
}

func TestConnection_Pumps(t *testing.T) {
	t.Run("WritePumpDeliversQueuedPayloads", func(t *testing.T) {
		conn, client := newLiveConnection(t, "alice")

		require.NoError(t, conn.SendJSON(map[string]string{"type": "ping"}))

		var frame map[string]string
		require.NoError(t, json.Unmarshal(readFrame(t, client), &frame))
		assert.Equal(t, "ping", frame["type"])
	})

	t.Run("ReadPumpDispatchesInArrivalOrder", func(t *testing.T) {
		conn, client := newLiveConnection(t, "alice")

		frames := make(chan []byte, 3)
		go conn.ReadPump(func(data []byte) {
			frames <- data
		})

		for _, payload := range []string{"one", "two", "three"} {
			require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(payload)))
		}

		for _, want := range []string{"one", "two", "three"} {
			select {
			case got := <-frames:
				assert.Equal(t, want, string(got))
			case <-time.After(time.Second):
				t.Fatalf("frame %q never dispatched", want)
			}
		}
	})

	t.Run("ReadPumpExitsWhenPeerCloses", func(t *testing.T) {
		conn, client := newLiveConnection(t, "alice")

		done := make(chan struct{})
		go func() {
			conn.ReadPump(func([]byte) {})
			close(done)
		}()

		client.Close()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("read pump did not exit after peer close")
		}
		select {
		case <-conn.Context().Done():
		case <-time.After(time.Second):
			t.Fatal("connection context not cancelled after read pump exit")
		}
	})

	t.Run("SendAfterCloseFails", func(t *testing.T) {
		conn, _ := newLiveConnection(t, "alice")
		conn.Close()

		err := conn.Send([]byte("late"), 50*time.Millisecond)
		assert.ErrorIs(t, err, ErrConnectionClosed)
	})

	t.Run("SendTimesOutWhenQueueIsStuck", func(t *testing.T) {
		server, _ := newSocketPair(t)
		ctx, cancel := context.WithCancel(context.Background())
		conn := &Connection{
			ID:       uuid.New().String(),
			Username: "alice",
			conn:     server,
			send:     make(chan []byte),
			ctx:      ctx,
			cancel:   cancel,
			cfg:      testWSConfig(),
		}
		t.Cleanup(conn.Close)

		err := conn.Send([]byte("blocked"), 50*time.Millisecond)
		assert.ErrorIs(t, err, ErrSendTimeout)
	})
}

func TestRegistry_ConnectDisconnect(t *testing.T) {
	r := NewRegistry(200 * time.Millisecond)
	rec := &disconnectRecorder{}
	r.SetOnDisconnect(rec.hook)

	alice1, _ := newLiveConnection(t, "alice")
	alice2, _ := newLiveConnection(t, "alice")
	bob, _ := newLiveConnection(t, "bob")
	r.Connect(alice1)
	r.Connect(alice2)
	r.Connect(bob)

	t.Run("TracksUsersAndConnections", func(t *testing.T) {
		assert.Equal(t, 2, r.TotalUsers())
		assert.Equal(t, 3, r.TotalConnections())
		assert.True(t, r.IsOnline("alice"))
		assert.True(t, r.IsOnline("bob"))
		assert.False(t, r.IsOnline("carol"))
		assert.ElementsMatch(t, []string{"alice", "bob"}, r.OnlineUsernames())
	})

	t.Run("DisconnectRemovesOnlyThatConnection", func(t *testing.T) {
		r.Disconnect("alice", alice1.ID)

		assert.True(t, r.IsOnline("alice"))
		assert.Equal(t, 2, r.TotalConnections())
		assert.True(t, rec.has("alice", alice1.ID))

		select {
		case <-alice1.Context().Done():
		case <-time.After(time.Second):
			t.Fatal("disconnect did not cancel the connection context")
		}
		select {
		case <-alice2.Context().Done():
			t.Fatal("disconnect cancelled a sibling connection")
		default:
		}
	})

	t.Run("UnknownPairIsNoOp", func(t *testing.T) {
		before := rec.count
		r.Disconnect("carol", alice1.ID)
		r.Disconnect("alice", "no-such-connection")

		assert.Equal(t, 2, r.TotalConnections())
		assert.Equal(t, before, rec.count)
	})

	t.Run("LastConnectionTakesUserOffline", func(t *testing.T) {
		r.Disconnect("alice", alice2.ID)

		assert.False(t, r.IsOnline("alice"))
		assert.ElementsMatch(t, []string{"bob"}, r.OnlineUsernames())
	})
}

func TestRegistry_SendToUser(t *testing.T) {
	r := NewRegistry(200 * time.Millisecond)

	alice1Conn, alice1 := newLiveConnection(t, "alice")
	alice2Conn, alice2 := newLiveConnection(t, "alice")
	r.Connect(alice1Conn)
	r.Connect(alice2Conn)

	t.Run("ReachesEveryConnectionOfTheUser", func(t *testing.T) {
		ok := r.SendToUser(context.Background(), "alice", []byte(`{"type":"ping"}`))
		assert.True(t, ok)

		assert.JSONEq(t, `{"type":"ping"}`, string(readFrame(t, alice1)))
		assert.JSONEq(t, `{"type":"ping"}`, string(readFrame(t, alice2)))
	})

	t.Run("OfflineUserReportsFalse", func(t *testing.T) {
		ok := r.SendToUser(context.Background(), "nobody", []byte("hello"))
		assert.False(t, ok)
	})
}

func TestRegistry_SendToConnection(t *testing.T) {
	r := NewRegistry(200 * time.Millisecond)

	alice1Conn, alice1 := newLiveConnection(t, "alice")
	alice2Conn, alice2 := newLiveConnection(t, "alice")
	r.Connect(alice1Conn)
	r.Connect(alice2Conn)

	t.Run("ReachesOnlyTheNamedConnection", func(t *testing.T) {
		err := r.SendToConnection("alice", alice1Conn.ID, []byte(`{"type":"ping"}`))
		require.NoError(t, err)

		assert.JSONEq(t, `{"type":"ping"}`, string(readFrame(t, alice1)))
		assertNoFrame(t, alice2)
	})

	t.Run("UnknownConnectionErrs", func(t *testing.T) {
		err := r.SendToConnection("alice", "no-such-id", []byte("hello"))
		assert.ErrorIs(t, err, ErrConnectionNotFound)

		err = r.SendToConnection("nobody", alice2Conn.ID, []byte("hello"))
		assert.ErrorIs(t, err, ErrConnectionNotFound)
	})
}

func TestRegistry_Broadcast(t *testing.T) {
	r := NewRegistry(200 * time.Millisecond)

	alice1Conn, alice1 := newLiveConnection(t, "alice")
	alice2Conn, alice2 := newLiveConnection(t, "alice")
	bobConn, bob := newLiveConnection(t, "bob")
	carolConn, carol := newLiveConnection(t, "carol")
	r.Connect(alice1Conn)
	r.Connect(alice2Conn)
	r.Connect(bobConn)
	r.Connect(carolConn)

	t.Run("SkipsTheExcludedUsername", func(t *testing.T) {
		delivered := r.Broadcast(context.Background(), []byte("room update"), "alice")
		assert.Equal(t, 2, delivered)

		assert.Equal(t, "room update", string(readFrame(t, bob)))
		assert.Equal(t, "room update", string(readFrame(t, carol)))
		assertNoFrame(t, alice1)
		assertNoFrame(t, alice2)
	})

	t.Run("SurvivorsKeepReceivingAfterADisconnect", func(t *testing.T) {
		r.Disconnect("alice", alice1Conn.ID)

		delivered := r.Broadcast(context.Background(), []byte("second update"), "bob")
		assert.Equal(t, 2, delivered)

		assert.Equal(t, "second update", string(readFrame(t, alice2)))
		assert.Equal(t, "second update", string(readFrame(t, carol)))
		assertNoFrame(t, bob)
	})
}

func TestRegistry_FanoutPrunesStuckConnections(t *testing.T) {
	r := NewRegistry(100 * time.Millisecond)
	rec := &disconnectRecorder{}
	r.SetOnDisconnect(rec.hook)

	// A connection with no write pump and no queue space never accepts
	// a payload.
	stuckServer, _ := newSocketPair(t)
	stuckCtx, stuckCancel := context.WithCancel(context.Background())
	stuck := &Connection{
		ID:       uuid.New().String(),
		Username: "bob",
		conn:     stuckServer,
		send:     make(chan []byte),
		ctx:      stuckCtx,
		cancel:   stuckCancel,
		cfg:      testWSConfig(),
	}
	carolConn, carol := newLiveConnection(t, "carol")
	r.Connect(stuck)
	r.Connect(carolConn)

	delivered := r.Broadcast(context.Background(), []byte("hello"), "alice")

	assert.Equal(t, 1, delivered)
	assert.Equal(t, "hello", string(readFrame(t, carol)))

	assert.False(t, r.IsOnline("bob"), "stuck connection should be pruned")
	assert.True(t, r.IsOnline("carol"))
	assert.True(t, rec.has("bob", stuck.ID))

	select {
	case <-stuck.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("pruned connection was not closed")
	}
}

type fakeHealthReporter struct {
	healthy bool
}

func (f *fakeHealthReporter) IsHealthy(username, connectionID string) bool {
	return f.healthy
}

func TestRegistry_IsHealthy(t *testing.T) {
	r := NewRegistry(200 * time.Millisecond)
	conn, _ := newLiveConnection(t, "alice")
	r.Connect(conn)

	t.Run("UnknownConnectionIsUnhealthy", func(t *testing.T) {
		assert.False(t, r.IsHealthy("alice", "missing"))
		assert.False(t, r.IsHealthy("bob", conn.ID))
	})

	t.Run("RegisteredCountsHealthyWithoutMonitor", func(t *testing.T) {
		assert.True(t, r.IsHealthy("alice", conn.ID))
	})

	t.Run("DelegatesToTheMonitor", func(t *testing.T) {
		r.SetHealthReporter(&fakeHealthReporter{healthy: false})
		assert.False(t, r.IsHealthy("alice", conn.ID))

		r.SetHealthReporter(&fakeHealthReporter{healthy: true})
		assert.True(t, r.IsHealthy("alice", conn.ID))
	})
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(200 * time.Millisecond)
	rec := &disconnectRecorder{}
	r.SetOnDisconnect(rec.hook)

	alice, _ := newLiveConnection(t, "alice")
	bob, _ := newLiveConnection(t, "bob")
	r.Connect(alice)
	r.Connect(bob)

	r.CloseAll()

	assert.Equal(t, 0, r.TotalConnections())
	assert.Equal(t, 0, r.TotalUsers())
	assert.True(t, rec.has("alice", alice.ID))
	assert.True(t, rec.has("bob", bob.ID))

	for _, conn := range []*Connection{alice, bob} {
		select {
		case <-conn.Context().Done():
		case <-time.After(time.Second):
			t.Fatal("close all left a connection context alive")
		}
	}
}
