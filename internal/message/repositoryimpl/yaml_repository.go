package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/crewline/crewline/internal/message"
	"github.com/crewline/crewline/pkg/cerr"
	"github.com/crewline/crewline/pkg/storage"
)

const messagesPrefix = "messages"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", messagesPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, m *message.Message) error {
	exists, err := r.storage.Exists(ctx, path(m.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("message", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "message already exists", nil)
	}
	return r.write(ctx, m)
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*message.Message, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("message", err)
	}
	var m message.Message
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal message: %w", err))
	}
	return &m, nil
}

func (r *YAMLRepository) list(ctx context.Context, keep func(*message.Message) bool) ([]*message.Message, error) {
	paths, err := r.storage.List(ctx, messagesPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("messages", err)
	}
	sort.Strings(paths)
	var messages []*message.Message
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var m message.Message
		if err := yaml.Unmarshal(data, &m); err != nil {
			continue
		}
		if keep(&m) {
			messages = append(messages, &m)
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].ID < messages[j].ID
	})
	return messages, nil
}

func (r *YAMLRepository) ListByUser(ctx context.Context, userID string) ([]*message.Message, error) {
	return r.list(ctx, func(m *message.Message) bool {
		return m.FromUserID == userID || m.ToUserID == userID
	})
}

func (r *YAMLRepository) PendingFor(ctx context.Context, userID, afterID string) ([]*message.Message, error) {
	return r.list(ctx, func(m *message.Message) bool {
		return m.ToUserID == userID && m.Status == message.StatusPending && m.ID > afterID
	})
}

func (r *YAMLRepository) Update(ctx context.Context, m *message.Message) error {
	exists, err := r.storage.Exists(ctx, path(m.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("message", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "message not found", nil)
	}
	return r.write(ctx, m)
}

func (r *YAMLRepository) write(ctx context.Context, m *message.Message) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal message: %w", err))
	}
	if err := r.storage.Write(ctx, path(m.ID), data); err != nil {
		return cerr.WrapStorageWriteError("message", err)
	}
	return nil
}
