package task

import "context"

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	WorkspaceID string
	Status      Status
}

type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, filter ListFilter) ([]*Task, error)
	Update(ctx context.Context, t *Task) error
	// UpdateIfStatus applies mutate only when the stored task still has the
	// expected status. It returns false when the guard fails, so a status
	// transition driven by it can happen at most once.
	UpdateIfStatus(ctx context.Context, id string, expected Status, mutate func(*Task)) (*Task, bool, error)
	Delete(ctx context.Context, id string) error
}
