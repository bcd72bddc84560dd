package message

import "context"

type Repository interface {
	Create(ctx context.Context, m *Message) error
	Get(ctx context.Context, id string) (*Message, error)
	// ListByUser returns every message sent by or addressed to the user,
	// oldest first.
	ListByUser(ctx context.Context, userID string) ([]*Message, error)
	// PendingFor returns pending messages addressed to the user with an id
	// greater than afterID. Message ids are ULIDs, so the id order is the
	// creation order and afterID doubles as a resume marker.
	PendingFor(ctx context.Context, userID, afterID string) ([]*Message, error)
	Update(ctx context.Context, m *Message) error
}
