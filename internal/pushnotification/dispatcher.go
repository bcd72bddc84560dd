package pushnotification

import (
	"context"
	"fmt"

	"github.com/crewline/crewline/internal/eventbus"
)

// Dispatcher forwards the events worth interrupting someone over to Web
// Push: a step becoming ready and an approval waiting on a human.
type Dispatcher struct {
	sender *Sender
	bus    *eventbus.Bus
}

func NewDispatcher(sender *Sender, bus *eventbus.Bus) *Dispatcher {
	return &Dispatcher{sender: sender, bus: bus}
}

func (d *Dispatcher) Start(ctx context.Context) {
	if !d.sender.Configured() {
		return
	}
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
			if payload := payloadFor(ev); payload != nil && ev.UserID != "" {
				d.sender.SendToUser(ctx, ev.UserID, payload)
			}
		}
	}
}

func payloadFor(ev eventbus.Event) *Payload {
	switch ev.Kind {
	case eventbus.KindStepReady:
		return &Payload{
			Title: "A step is ready",
			Body:  fmt.Sprintf("%q can start now.", ev.Title),
			Tag:   "step-" + ev.StepID,
		}
	case eventbus.KindApprovalRequested:
		return &Payload{
			Title: "Approval requested",
			Body:  fmt.Sprintf("%q is waiting for your review.", ev.Title),
			Tag:   "approval-" + ev.StepID,
		}
	default:
		return nil
	}
}
