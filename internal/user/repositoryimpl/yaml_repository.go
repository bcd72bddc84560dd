package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/crewline/crewline/internal/user"
	"github.com/crewline/crewline/pkg/cerr"
	"github.com/crewline/crewline/pkg/storage"
)

const usersPrefix = "users"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", usersPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, u *user.User) error {
	exists, err := r.storage.Exists(ctx, path(u.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("user", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "user already exists", nil)
	}
	return r.write(ctx, u)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*user.User, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("user", err)
	}
	var u user.User
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal user: %w", err))
	}
	return &u, nil
}

func (r *YAMLRepository) List(ctx context.Context) ([]*user.User, error) {
	paths, err := r.storage.List(ctx, usersPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("users", err)
	}
	sort.Strings(paths)
	var users []*user.User
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var u user.User
		if err := yaml.Unmarshal(data, &u); err != nil {
			continue
		}
		users = append(users, &u)
	}
	return users, nil
}

func (r *YAMLRepository) Update(ctx context.Context, u *user.User) error {
	exists, err := r.storage.Exists(ctx, path(u.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("user", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "user not found", nil)
	}
	return r.write(ctx, u)
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("user", err)
	}
	return nil
}

func (r *YAMLRepository) write(ctx context.Context, u *user.User) error {
	data, err := yaml.Marshal(u)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal user: %w", err))
	}
	if err := r.storage.Write(ctx, path(u.ID), data); err != nil {
		return cerr.WrapStorageWriteError("user", err)
	}
	return nil
}
