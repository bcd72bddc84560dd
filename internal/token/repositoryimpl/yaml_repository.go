package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/crewline/crewline/internal/token"
	"github.com/crewline/crewline/pkg/cerr"
	"github.com/crewline/crewline/pkg/storage"
)

const tokensPrefix = "tokens"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", tokensPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, t *token.APIToken) error {
	exists, err := r.storage.Exists(ctx, path(t.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("token", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "token already exists", nil)
	}
	return r.write(ctx, t)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*token.APIToken, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("token", err)
	}
	var t token.APIToken
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal token: %w", err))
	}
	return &t, nil
}

func (r *YAMLRepository) GetByHash(ctx context.Context, hash string) (*token.APIToken, error) {
	tokens, err := r.list(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		if t.Hash == hash {
			return t, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "token not found", nil)
}

func (r *YAMLRepository) ListByUserID(ctx context.Context, userID string) ([]*token.APIToken, error) {
	tokens, err := r.list(ctx)
	if err != nil {
		return nil, err
	}
	var out []*token.APIToken
	for _, t := range tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *YAMLRepository) list(ctx context.Context) ([]*token.APIToken, error) {
	paths, err := r.storage.List(ctx, tokensPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("tokens", err)
	}
	sort.Strings(paths)
	var tokens []*token.APIToken
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var t token.APIToken
		if err := yaml.Unmarshal(data, &t); err != nil {
			continue
		}
		tokens = append(tokens, &t)
	}
	return tokens, nil
}

func (r *YAMLRepository) Update(ctx context.Context, t *token.APIToken) error {
	exists, err := r.storage.Exists(ctx, path(t.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("token", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "token not found", nil)
	}
	return r.write(ctx, t)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("token", err)
	}
	return nil
}

func (r *YAMLRepository) write(ctx context.Context, t *token.APIToken) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal token: %w", err))
	}
	if err := r.storage.Write(ctx, path(t.ID), data); err != nil {
		return cerr.WrapStorageWriteError("token", err)
	}
	return nil
}
