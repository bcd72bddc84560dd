package pushsubscription

import "context"

type Repository interface {
	Create(ctx context.Context, s *Subscription) error
	List(ctx context.Context) ([]*Subscription, error)
	ListByUser(ctx context.Context, userID string) ([]*Subscription, error)
	// GetByEndpoint deduplicates re-registrations of the same browser.
	GetByEndpoint(ctx context.Context, endpoint string) (*Subscription, error)
	Delete(ctx context.Context, id string) error
}
