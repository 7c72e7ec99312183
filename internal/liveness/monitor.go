package liveness

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/pkg/log"
)

// ConnectionStats is the health snapshot of one tracked connection, as
// exposed by the admin connections endpoint.
type ConnectionStats struct {
	Username             string  `json:"username"`
	ConnectionID         string  `json:"connection_id"`
	LastActivity         string  `json:"last_activity"`
	LastPong             string  `json:"last_pong"`
	SecondsSinceActivity float64 `json:"seconds_since_activity"`
	SecondsSincePong     float64 `json:"seconds_since_pong"`
	IsHealthy            bool    `json:"is_healthy"`
}

type entry struct {
	username     string
	connectionID string
	lastActivity time.Time
	lastPong     time.Time
	cancel       context.CancelFunc
}

// Monitor probes every tracked connection on an interval and kills the
// ones that go quiet. Probes are application-level ping frames pushed
// through the normal send path; any inbound frame counts as activity,
// so a connection only has to answer pings when it is otherwise idle.
type Monitor struct {
	cfg   config.LivenessConfig
	probe func(username, connectionID string) error
	kill  func(username, connectionID string)

	mu      sync.RWMutex
	entries map[string]*entry

	now func() time.Time
}

// NewMonitor builds a monitor. probe sends a ping frame to one
// connection; kill force-disconnects one connection. Both are called
// from the monitor's own goroutines.
func NewMonitor(cfg config.LivenessConfig, probe func(username, connectionID string) error, kill func(username, connectionID string)) *Monitor {
	return &Monitor{
		cfg:     cfg,
		probe:   probe,
		kill:    kill,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Track starts monitoring a connection. Its probe loop lives under ctx,
// so cancelling the connection's context stops monitoring too.
func (m *Monitor) Track(ctx context.Context, username, connectionID string) {
	loopCtx, cancel := context.WithCancel(ctx)
	now := m.now()

	m.mu.Lock()
	if prev, ok := m.entries[connectionID]; ok {
		prev.cancel()
	}
	m.entries[connectionID] = &entry{
		username:     username,
		connectionID: connectionID,
		lastActivity: now,
		lastPong:     now,
		cancel:       cancel,
	}
	m.mu.Unlock()

	go m.loop(loopCtx, username, connectionID)

	log.L().Debug().
		Str(log.FieldUsername, username).
		Str(log.FieldConnectionID, connectionID).
		Msg("liveness tracking started")
}

// Untrack stops monitoring a connection. Unknown connections are a
// no-op so this is safe on every teardown path.
func (m *Monitor) Untrack(username, connectionID string) {
	m.mu.Lock()
	e, ok := m.entries[connectionID]
	if ok && e.username == username {
		e.cancel()
		delete(m.entries, connectionID)
	}
	m.mu.Unlock()

	if ok {
		log.L().Debug().
			Str(log.FieldUsername, username).
			Str(log.FieldConnectionID, connectionID).
			Msg("liveness tracking stopped")
	}
}

// RecordActivity marks the connection as alive right now. Called for
// every inbound frame.
func (m *Monitor) RecordActivity(username, connectionID string) {
	m.touch(username, connectionID, false)
}

// RecordProbeAck marks a pong answer, which also counts as activity.
func (m *Monitor) RecordProbeAck(username, connectionID string) {
	m.touch(username, connectionID, true)
}

func (m *Monitor) touch(username, connectionID string, pong bool) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[connectionID]
	if !ok || e.username != username {
		return
	}
	e.lastActivity = now
	if pong {
		e.lastPong = now
	}
}

// IsHealthy reports whether the connection showed activity within the
// staleness threshold. Untracked connections are unhealthy.
func (m *Monitor) IsHealthy(username, connectionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[connectionID]
	if !ok || e.username != username {
		return false
	}
	return m.now().Sub(e.lastActivity) < m.cfg.StalenessThreshold
}

// Stats reports every tracked connection, ordered by username then
// connection id so the admin endpoint output is stable.
func (m *Monitor) Stats() []ConnectionStats {
	return m.stats("")
}

// UserStats reports one record per tracked connection of the user. An
// untracked user yields an empty slice, not nil-vs-found semantics.
func (m *Monitor) UserStats(username string) []ConnectionStats {
	return m.stats(username)
}

func (m *Monitor) stats(username string) []ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	stats := make([]ConnectionStats, 0, len(m.entries))
	for _, e := range m.entries {
		if username != "" && e.username != username {
			continue
		}
		sinceActivity := now.Sub(e.lastActivity)
		stats = append(stats, ConnectionStats{
			Username:             e.username,
			ConnectionID:         e.connectionID,
			LastActivity:         e.lastActivity.UTC().Format(time.RFC3339Nano),
			LastPong:             e.lastPong.UTC().Format(time.RFC3339Nano),
			SecondsSinceActivity: sinceActivity.Seconds(),
			SecondsSincePong:     now.Sub(e.lastPong).Seconds(),
			IsHealthy:            sinceActivity < m.cfg.StalenessThreshold,
		})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Username != stats[j].Username {
			return stats[i].Username < stats[j].Username
		}
		return stats[i].ConnectionID < stats[j].ConnectionID
	})
	return stats
}

// TrackedConnections counts connections currently monitored.
func (m *Monitor) TrackedConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Stop cancels every probe loop, for shutdown.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.entries {
		e.cancel()
		delete(m.entries, id)
	}
}

// loop probes one connection until it goes stale, fails a probe, or is
// untracked. Stale connections are killed, never silently forgotten.
func (m *Monitor) loop(ctx context.Context, username, connectionID string) {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			m.mu.RLock()
			e, ok := m.entries[connectionID]
			var idle time.Duration
			if ok {
				idle = m.now().Sub(e.lastActivity)
			}
			m.mu.RUnlock()

			if !ok {
				return
			}

			if idle > m.cfg.StalenessThreshold {
				log.L().Warn().
					Str(log.FieldUsername, username).
					Str(log.FieldConnectionID, connectionID).
					Dur("idle", idle).
					Msg("connection is stale, disconnecting")
				m.kill(username, connectionID)
				return
			}

			if err := m.probe(username, connectionID); err != nil {
				log.L().Warn().
					Str(log.FieldUsername, username).
					Str(log.FieldConnectionID, connectionID).
					Err(err).
					Msg("probe failed, disconnecting")
				m.kill(username, connectionID)
				return
			}
		}
	}
}
