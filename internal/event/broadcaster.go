// Package event delivers the live push stream: connection registry, per-worker
// deduplication, heartbeats, reconnect catch-up, and the SSE and WebSocket
// transports.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crewline/crewline/internal/eventbus"
)

// Conn is one live push connection. Send must not block indefinitely; a
// returned error evicts the connection.
type Conn interface {
	Send(ev eventbus.Event) error
}

type connection struct {
	// id is a ULID, so the lexicographically largest id per worker is the
	// newest connection.
	id       string
	userID   string
	workerID string
	conn     Conn
}

// Broadcaster routes events to live connections. Actionable kinds (a step
// ready to claim, an approval request) are deduplicated to the newest
// connection per logical worker so a worker with several tabs or processes
// acts once; everything else goes to every connection of the user.
type Broadcaster struct {
	mu    sync.RWMutex
	conns map[string]*connection
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{conns: make(map[string]*connection)}
}

// Register adds a connection and returns its id for Unregister.
func (b *Broadcaster) Register(userID, workerID string, c Conn) string {
	id := ulid.Make().String()
	b.mu.Lock()
	b.conns[id] = &connection{id: id, userID: userID, workerID: workerID, conn: c}
	b.mu.Unlock()
	return id
}

func (b *Broadcaster) Unregister(connID string) {
	b.mu.Lock()
	delete(b.conns, connID)
	b.mu.Unlock()
}

// ConnectionCount reports live connections.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// SendToUser delivers ev to the user's connections, applying the actionable
// dedup rule. Dead connections are evicted immediately.
func (b *Broadcaster) SendToUser(userID string, ev eventbus.Event) {
	b.mu.RLock()
	var targets []*connection
	if ev.Kind.Actionable() {
		newest := map[string]*connection{}
		for _, c := range b.conns {
			if c.userID != userID {
				continue
			}
			if cur, ok := newest[c.workerID]; !ok || c.id > cur.id {
				newest[c.workerID] = c
			}
		}
		for _, c := range newest {
			targets = append(targets, c)
		}
	} else {
		for _, c := range b.conns {
			if c.userID == userID {
				targets = append(targets, c)
			}
		}
	}
	b.mu.RUnlock()

	b.deliver(targets, ev)
}

// Broadcast delivers an unaddressed event to every live connection.
func (b *Broadcaster) Broadcast(ev eventbus.Event) {
	b.mu.RLock()
	targets := make([]*connection, 0, len(b.conns))
	for _, c := range b.conns {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	b.deliver(targets, ev)
}

func (b *Broadcaster) deliver(targets []*connection, ev eventbus.Event) {
	var dead []string
	for _, c := range targets {
		if err := c.conn.Send(ev); err != nil {
			dead = append(dead, c.id)
		}
	}
	if len(dead) == 0 {
		return
	}
	b.mu.Lock()
	for _, id := range dead {
		delete(b.conns, id)
	}
	b.mu.Unlock()
}

// HeartbeatInterval keeps idle connections alive through intermediary
// timeouts.
const HeartbeatInterval = 30 * time.Second

// StartHeartbeat pings every connection on the interval until ctx ends.
func (b *Broadcaster) StartHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = HeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Broadcast(eventbus.Event{
				ID:        ulid.Make().String(),
				Kind:      eventbus.KindPing,
				CreatedAt: time.Now(),
			})
		}
	}
}

// Dispatch consumes the bus and routes each event: addressed events go
// through the dedup rules, unaddressed ones to everyone.
func (b *Broadcaster) Dispatch(ctx context.Context, bus *eventbus.Bus) {
	id, events := bus.Subscribe(128)
	defer bus.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.UserID != "" {
				b.SendToUser(ev.UserID, ev)
			} else {
				b.Broadcast(ev)
			}
		}
	}
}
