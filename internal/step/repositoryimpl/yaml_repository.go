package repositoryimpl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crewline/crewline/internal/step"
	"github.com/crewline/crewline/pkg/cerr"
	"github.com/crewline/crewline/pkg/storage"
)

const (
	stepsPrefix       = "steps"
	submissionsPrefix = "submissions"
)

// YAMLRepository persists one YAML file per step. A repository-level mutex
// serializes the read-modify-write cycles of UpdateIfStatus and
// InsertRenumbered; the process is the single logical scheduler, so this is
// the store's atomic conditional update.
type YAMLRepository struct {
	storage storage.Storage
	mu      sync.Mutex
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", stepsPrefix, id)
}

func submissionPath(stepID, id string) string {
	return fmt.Sprintf("%s/%s/%s.yaml", submissionsPrefix, stepID, id)
}

func (r *YAMLRepository) Create(ctx context.Context, s *step.Step) error {
	exists, err := r.storage.Exists(ctx, path(s.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("step", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "step already exists", nil)
	}
	return r.write(ctx, s)
}

func (r *YAMLRepository) CreateMany(ctx context.Context, steps []*step.Step) error {
	for _, s := range steps {
		if err := r.Create(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*step.Step, error) {
	return r.read(ctx, path(id))
}

func (r *YAMLRepository) read(ctx context.Context, p string) (*step.Step, error) {
	data, err := r.storage.Read(ctx, p)
	if err != nil {
		return nil, cerr.WrapStorageReadError("step", err)
	}
	var s step.Step
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal step: %w", err))
	}
	return &s, nil
}

func (r *YAMLRepository) ListByTaskID(ctx context.Context, taskID string) ([]*step.Step, error) {
	paths, err := r.storage.List(ctx, stepsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("steps", err)
	}
	var steps []*step.Step
	for _, p := range paths {
		s, err := r.read(ctx, p)
		if err != nil {
			continue
		}
		if s.TaskID != taskID {
			continue
		}
		steps = append(steps, s)
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Order != steps[j].Order {
			return steps[i].Order < steps[j].Order
		}
		return steps[i].ID < steps[j].ID
	})
	return steps, nil
}

func (r *YAMLRepository) Update(ctx context.Context, s *step.Step) error {
	exists, err := r.storage.Exists(ctx, path(s.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("step", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "step not found", nil)
	}
	return r.write(ctx, s)
}

func (r *YAMLRepository) UpdateIfStatus(ctx context.Context, id string, expected step.Status, mutate func(*step.Step)) (*step.Step, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if s.Status != expected {
		return s, false, nil
	}
	mutate(s)
	s.UpdatedAt = time.Now()
	if err := r.write(ctx, s); err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (r *YAMLRepository) InsertRenumbered(ctx context.Context, taskID string, afterOrder int, s *step.Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, err := r.ListByTaskID(ctx, taskID)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.Order <= afterOrder {
			continue
		}
		e.Order++
		e.UpdatedAt = time.Now()
		if err := r.write(ctx, e); err != nil {
			return err
		}
	}
	s.Order = afterOrder + 1
	return r.write(ctx, s)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("step", err)
	}
	return nil
}

func (r *YAMLRepository) write(ctx context.Context, s *step.Step) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal step: %w", err))
	}
	if err := r.storage.Write(ctx, path(s.ID), data); err != nil {
		return cerr.WrapStorageWriteError("step", err)
	}
	return nil
}

func (r *YAMLRepository) CreateSubmission(ctx context.Context, sub *step.Submission) error {
	return r.writeSubmission(ctx, sub)
}

func (r *YAMLRepository) ListSubmissions(ctx context.Context, stepID string) ([]*step.Submission, error) {
	paths, err := r.storage.List(ctx, fmt.Sprintf("%s/%s", submissionsPrefix, stepID))
	if err != nil {
		return nil, cerr.WrapStorageReadError("submissions", err)
	}
	sort.Strings(paths)
	var subs []*step.Submission
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var sub step.Submission
		if err := yaml.Unmarshal(data, &sub); err != nil {
			continue
		}
		subs = append(subs, &sub)
	}
	return subs, nil
}

func (r *YAMLRepository) UpdateSubmission(ctx context.Context, sub *step.Submission) error {
	return r.writeSubmission(ctx, sub)
}

func (r *YAMLRepository) writeSubmission(ctx context.Context, sub *step.Submission) error {
	data, err := yaml.Marshal(sub)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal submission: %w", err))
	}
	if err := r.storage.Write(ctx, submissionPath(sub.StepID, sub.ID), data); err != nil {
		return cerr.WrapStorageWriteError("submission", err)
	}
	return nil
}
