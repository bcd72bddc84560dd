package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies an event on the bus and on the client-facing stream.
type Kind string

const (
	KindTaskCreated       Kind = "task:created"
	KindTaskUpdated       Kind = "task:updated"
	KindTaskDecomposed    Kind = "task:decomposed"
	KindStepReady         Kind = "step:ready"
	KindStepAssigned      Kind = "step:assigned"
	KindStepCompleted     Kind = "step:completed"
	KindApprovalRequested Kind = "approval:requested"
	KindApprovalGranted   Kind = "approval:granted"
	KindApprovalRejected  Kind = "approval:rejected"
	KindStepAppealed      Kind = "step:appealed"
	KindAppealResolved    Kind = "appeal:resolved"
	KindWorkflowChanged   Kind = "workflow:changed"
	KindChatIncoming      Kind = "chat:incoming"
	KindPing              Kind = "ping"
)

// Actionable reports whether an event of this kind tells a worker to act.
// Actionable events are deduplicated per worker identity on delivery so a
// worker with several live connections does not claim the same step twice.
func (k Kind) Actionable() bool {
	switch k {
	case KindStepReady, KindStepAssigned, KindApprovalRequested:
		return true
	}
	return false
}

// Event is the record flowing through the in-process bus and out to
// subscribed clients. UserID, when set, addresses the event to one user;
// empty means every subscriber may see it.
type Event struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"type"`
	UserID    string            `json:"-"`
	TaskID    string            `json:"taskId,omitempty"`
	StepID    string            `json:"stepId,omitempty"`
	Title     string            `json:"title,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Bus is an in-process pub/sub fan-out. Subscribers receive every published
// event on a buffered channel; a slow subscriber loses events rather than
// blocking publishers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan Event),
	}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan Event) {
	id := ulid.Make().String()
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
		}
	}
}

// PublishNew stamps a fresh event with a ULID and publish time.
func (b *Bus) PublishNew(kind Kind, event Event) {
	event.ID = ulid.Make().String()
	event.Kind = kind
	event.CreatedAt = time.Now()
	b.Publish(event)
}
