package token

import "context"

type Repository interface {
	Create(ctx context.Context, t *APIToken) error
	Get(ctx context.Context, id string) (*APIToken, error)
	// GetByHash looks a token up by the SHA-256 hash of its plaintext secret.
	GetByHash(ctx context.Context, hash string) (*APIToken, error)
	ListByUserID(ctx context.Context, userID string) ([]*APIToken, error)
	Update(ctx context.Context, t *APIToken) error
	Delete(ctx context.Context, id string) error
}
