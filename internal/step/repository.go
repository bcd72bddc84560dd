package step

import "context"

// Repository persists steps and their submission history. UpdateIfStatus is
// the conditional-update primitive every racing transition is built on.
type Repository interface {
	Create(ctx context.Context, s *Step) error
	// CreateMany persists a batch of new steps, used by task creation and
	// decompose expansion.
	CreateMany(ctx context.Context, steps []*Step) error
	Get(ctx context.Context, id string) (*Step, error)
	ListByTaskID(ctx context.Context, taskID string) ([]*Step, error)
	Update(ctx context.Context, s *Step) error
	// UpdateIfStatus loads the step, checks its status against expected and,
	// only on a match, applies mutate and writes the result. The check and
	// the write are atomic against other UpdateIfStatus callers; ok=false
	// reports a lost race, not an error.
	UpdateIfStatus(ctx context.Context, id string, expected Status, mutate func(*Step)) (*Step, bool, error)
	// InsertRenumbered shifts every step of the task with order greater than
	// afterOrder up by one and persists s with order afterOrder+1, as one
	// unit no concurrent conditional update can interleave with.
	InsertRenumbered(ctx context.Context, taskID string, afterOrder int, s *Step) error
	Delete(ctx context.Context, id string) error

	CreateSubmission(ctx context.Context, sub *Submission) error
	ListSubmissions(ctx context.Context, stepID string) ([]*Submission, error)
	UpdateSubmission(ctx context.Context, sub *Submission) error
}
