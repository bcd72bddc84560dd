package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crewline/crewline/internal/eventbus"
)

// Dispatcher persists a bell notification for the event kinds a user should
// be able to find again after the live stream moved on.
type Dispatcher struct {
	repo Repository
	bus  *eventbus.Bus
}

func NewDispatcher(repo Repository, bus *eventbus.Bus) *Dispatcher {
	return &Dispatcher{repo: repo, bus: bus}
}

// Start consumes the bus until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	id, events := d.bus.Subscribe(64)
	defer d.bus.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev eventbus.Event) {
	title, body := render(ev)
	if title == "" || ev.UserID == "" {
		return
	}
	n := &Notification{
		ID:        ulid.Make().String(),
		UserID:    ev.UserID,
		Kind:      string(ev.Kind),
		Title:     title,
		Body:      body,
		TaskID:    ev.TaskID,
		StepID:    ev.StepID,
		CreatedAt: time.Now(),
	}
	if err := d.repo.Create(ctx, n); err != nil {
		slog.WarnContext(ctx, "failed to persist notification", "kind", ev.Kind, "error", err)
	}
}

// render maps an event to notification text. An empty title means the kind
// is not persisted.
func render(ev eventbus.Event) (title, body string) {
	switch ev.Kind {
	case eventbus.KindStepReady:
		return "A step is ready for you", fmt.Sprintf("%q can start now.", ev.Title)
	case eventbus.KindApprovalRequested:
		return "Approval requested", fmt.Sprintf("%q is waiting for your review.", ev.Title)
	case eventbus.KindApprovalRejected:
		reason := ev.Meta["reason"]
		return "Your submission was rejected", fmt.Sprintf("%q was sent back: %s", ev.Title, reason)
	case eventbus.KindStepAppealed:
		return "Rejection appealed", fmt.Sprintf("%q: %s", ev.Title, ev.Meta["appeal"])
	case eventbus.KindAppealResolved:
		body := fmt.Sprintf("The appeal on %q was %s.", ev.Title, ev.Meta["decision"])
		if note := ev.Meta["note"]; note != "" {
			body += " " + note
		}
		return "Appeal resolved", body
	case eventbus.KindTaskUpdated:
		if ev.Meta["status"] == "done" {
			return "Task completed", fmt.Sprintf("%q is done.", ev.Title)
		}
		return "", ""
	default:
		return "", ""
	}
}
