package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/crewline/crewline/internal/notification"
	"github.com/crewline/crewline/pkg/cerr"
	"github.com/crewline/crewline/pkg/storage"
)

const notificationsPrefix = "notifications"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", notificationsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, n *notification.Notification) error {
	exists, err := r.storage.Exists(ctx, path(n.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("notification", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "notification already exists", nil)
	}
	return r.write(ctx, n)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*notification.Notification, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("notification", err)
	}
	var n notification.Notification
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal notification: %w", err))
	}
	return &n, nil
}

func (r *YAMLRepository) ListByUser(ctx context.Context, userID string) ([]*notification.Notification, error) {
	paths, err := r.storage.List(ctx, notificationsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("notifications", err)
	}
	sort.Strings(paths)
	var notifications []*notification.Notification
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var n notification.Notification
		if err := yaml.Unmarshal(data, &n); err != nil {
			continue
		}
		if n.UserID != userID {
			continue
		}
		notifications = append(notifications, &n)
	}
	// Newest first for the bell.
	sort.SliceStable(notifications, func(i, j int) bool {
		return notifications[i].ID > notifications[j].ID
	})
	return notifications, nil
}

func (r *YAMLRepository) Update(ctx context.Context, n *notification.Notification) error {
	exists, err := r.storage.Exists(ctx, path(n.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("notification", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "notification not found", nil)
	}
	return r.write(ctx, n)
}

func (r *YAMLRepository) write(ctx context.Context, n *notification.Notification) error {
	data, err := yaml.Marshal(n)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal notification: %w", err))
	}
	if err := r.storage.Write(ctx, path(n.ID), data); err != nil {
		return cerr.WrapStorageWriteError("notification", err)
	}
	return nil
}
