package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/crewline/crewline/internal/agent"
	"github.com/crewline/crewline/pkg/cerr"
	"github.com/crewline/crewline/pkg/storage"
)

const agentsPrefix = "agents"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", agentsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, a *agent.Agent) error {
	exists, err := r.storage.Exists(ctx, path(a.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("agent", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "agent already exists", nil)
	}
	return r.write(ctx, a)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*agent.Agent, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("agent", err)
	}
	var a agent.Agent
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal agent: %w", err))
	}
	return &a, nil
}

func (r *YAMLRepository) GetByUserID(ctx context.Context, userID string) (*agent.Agent, error) {
	agents, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if a.UserID == userID {
			return a, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "agent not found", nil)
}

func (r *YAMLRepository) List(ctx context.Context) ([]*agent.Agent, error) {
	paths, err := r.storage.List(ctx, agentsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("agents", err)
	}
	sort.Strings(paths)
	var agents []*agent.Agent
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var a agent.Agent
		if err := yaml.Unmarshal(data, &a); err != nil {
			continue
		}
		agents = append(agents, &a)
	}
	return agents, nil
}

func (r *YAMLRepository) Update(ctx context.Context, a *agent.Agent) error {
	exists, err := r.storage.Exists(ctx, path(a.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("agent", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "agent not found", nil)
	}
	return r.write(ctx, a)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("agent", err)
	}
	return nil
}

func (r *YAMLRepository) write(ctx context.Context, a *agent.Agent) error {
	data, err := yaml.Marshal(a)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal agent: %w", err))
	}
	if err := r.storage.Write(ctx, path(a.ID), data); err != nil {
		return cerr.WrapStorageWriteError("agent", err)
	}
	return nil
}
