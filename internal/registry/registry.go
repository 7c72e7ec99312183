package registry

import (
	"context"
	"sync"
	"time"

	"github.com/parlorhq/parlor/pkg/log"
)

// HealthReporter answers whether a tracked connection is still live.
// The liveness monitor implements it.
type HealthReporter interface {
	IsHealthy(username, connectionID string) bool
}

// Registry tracks every open connection keyed by username. One user may
// be connected from several clients at once; each connection is tracked
// and torn down independently.
type Registry struct {
	mu          sync.RWMutex
	connections map[string][]*Connection

	sendTimeout time.Duration
	health      HealthReporter

	onDisconnect func(username, connectionID string)
}

// NewRegistry builds an empty registry. sendTimeout bounds how long a
// delivery may wait on a single connection's queue before the
// connection is considered stuck and dropped.
func NewRegistry(sendTimeout time.Duration) *Registry {
	return &Registry{
		connections: make(map[string][]*Connection),
		sendTimeout: sendTimeout,
	}
}

// SetHealthReporter wires the liveness monitor in after construction.
func (r *Registry) SetHealthReporter(h HealthReporter) {
	r.health = h
}

// SetOnDisconnect registers a hook invoked after a connection is
// removed, on every removal path including forced drops.
func (r *Registry) SetOnDisconnect(hook func(username, connectionID string)) {
	r.onDisconnect = hook
}

// Connect registers a connection under its username.
func (r *Registry) Connect(conn *Connection) {
	r.mu.Lock()
	r.connections[conn.Username] = append(r.connections[conn.Username], conn)
	total := len(r.connections[conn.Username])
	r.mu.Unlock()

	log.L().Info().
		Str(log.FieldUsername, conn.Username).
		Str(log.FieldConnectionID, conn.ID).
		Int("user_connections", total).
		Msg("connection registered")
}

// Disconnect removes one connection and closes it. Removing a username
// and connection pair that is not registered is a no-op, so racing
// teardown paths are safe.
func (r *Registry) Disconnect(username, connectionID string) {
	r.mu.Lock()
	conns, ok := r.connections[username]
	if !ok {
		r.mu.Unlock()
		return
	}

	var removed *Connection
	for i, c := range conns {
		if c.ID == connectionID {
			removed = c
			r.connections[username] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(r.connections[username]) == 0 {
		delete(r.connections, username)
	}
	r.mu.Unlock()

	if removed == nil {
		return
	}

	removed.Close()
	if r.onDisconnect != nil {
		r.onDisconnect(username, connectionID)
	}

	log.L().Info().
		Str(log.FieldUsername, username).
		Str(log.FieldConnectionID, connectionID).
		Msg("connection removed")
}

// IsOnline reports whether the user has at least one open connection.
func (r *Registry) IsOnline(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[username]) > 0
}

// OnlineUsernames lists every username with at least one connection.
func (r *Registry) OnlineUsernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connections))
	for username := range r.connections {
		names = append(names, username)
	}
	return names
}

// IsHealthy reports connection health as seen by the liveness monitor.
// Without a monitor wired in, a registered connection counts as healthy.
func (r *Registry) IsHealthy(username, connectionID string) bool {
	r.mu.RLock()
	found := false
	for _, c := range r.connections[username] {
		if c.ID == connectionID {
			found = true
			break
		}
	}
	r.mu.RUnlock()

	if !found {
		return false
	}
	if r.health == nil {
		return true
	}
	return r.health.IsHealthy(username, connectionID)
}

// IsUserHealthy reports whether the user has at least one healthy
// connection.
func (r *Registry) IsUserHealthy(username string) bool {
	r.mu.RLock()
	conns := append([]*Connection(nil), r.connections[username]...)
	r.mu.RUnlock()

	for _, c := range conns {
		if r.health == nil {
			return true
		}
		if r.health.IsHealthy(username, c.ID) {
			return true
		}
	}
	return false
}

// TotalUsers counts usernames with at least one connection.
func (r *Registry) TotalUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// TotalConnections counts open connections across all users.
func (r *Registry) TotalConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.connections {
		total += len(conns)
	}
	return total
}

// SendToUser delivers payload to every connection the user holds,
// reporting true once at least one accepted it. Connections that refuse
// the payload within the send timeout are dropped so one stuck client
// cannot wedge the user's other sessions.
func (r *Registry) SendToUser(ctx context.Context, username string, payload []byte) bool {
	r.mu.RLock()
	conns := append([]*Connection(nil), r.connections[username]...)
	r.mu.RUnlock()

	if len(conns) == 0 {
		return false
	}
	return r.fanout(ctx, conns, payload) > 0
}

// SendToConnection delivers payload to one specific connection. The
// liveness monitor probes individual connections through this, so a
// user's healthy sessions are never pinged on behalf of a stale one.
func (r *Registry) SendToConnection(username, connectionID string, payload []byte) error {
	r.mu.RLock()
	var target *Connection
	for _, c := range r.connections[username] {
		if c.ID == connectionID {
			target = c
			break
		}
	}
	r.mu.RUnlock()

	if target == nil {
		return ErrConnectionNotFound
	}
	return target.Send(payload, r.sendTimeout)
}

// Broadcast delivers payload to every connection of every online user
// except excludeUsername. It reports how many connections accepted it.
func (r *Registry) Broadcast(ctx context.Context, payload []byte, excludeUsername string) int {
	r.mu.RLock()
	var conns []*Connection
	for username, userConns := range r.connections {
		if username == excludeUsername {
			continue
		}
		conns = append(conns, userConns...)
	}
	r.mu.RUnlock()

	return r.fanout(ctx, conns, payload)
}

// CloseAll tears down every connection, for shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Connection, 0)
	for _, conns := range r.connections {
		all = append(all, conns...)
	}
	r.connections = make(map[string][]*Connection)
	r.mu.Unlock()

	for _, c := range all {
		c.Close()
		if r.onDisconnect != nil {
			r.onDisconnect(c.Username, c.ID)
		}
	}
}

// fanout pushes payload at each connection concurrently and prunes the
// ones that fail, so a single slow socket delays nobody else.
func (r *Registry) fanout(ctx context.Context, conns []*Connection, payload []byte) int {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		failed    []*Connection
	)

	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			default:
			}

			if err := c.Send(payload, r.sendTimeout); err != nil {
				mu.Lock()
				failed = append(failed, c)
				mu.Unlock()

				log.L().Warn().
					Str(log.FieldUsername, c.Username).
					Str(log.FieldConnectionID, c.ID).
					Err(err).
					Msg("dropping unresponsive connection")
				return
			}

			mu.Lock()
			delivered++
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	for _, c := range failed {
		r.Disconnect(c.Username, c.ID)
	}

	return delivered
}
