package agent

import "context"

type Repository interface {
	Create(ctx context.Context, a *Agent) error
	Get(ctx context.Context, id string) (*Agent, error)
	// GetByUserID resolves the agent identity behind a user account, if any.
	GetByUserID(ctx context.Context, userID string) (*Agent, error)
	List(ctx context.Context) ([]*Agent, error)
	Update(ctx context.Context, a *Agent) error
	Delete(ctx context.Context, id string) error
}
