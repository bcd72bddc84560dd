package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/crewline/internal/agent"
	agentrepo "github.com/crewline/crewline/internal/agent/repositoryimpl"
	"github.com/crewline/crewline/internal/eventbus"
	"github.com/crewline/crewline/internal/server"
	"github.com/crewline/crewline/internal/step"
	steprepo "github.com/crewline/crewline/internal/step/repositoryimpl"
	taskrepo "github.com/crewline/crewline/internal/task/repositoryimpl"
	"github.com/crewline/crewline/internal/user"
	"github.com/crewline/crewline/pkg/cerr"
	"github.com/crewline/crewline/pkg/storage"
)

type taskFixture struct {
	router http.Handler
	agents agent.Repository
	steps  step.Repository
	bus    *eventbus.Bus
	caller *user.User
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	agents := agentrepo.NewYAMLRepository(store)
	tasks := taskrepo.NewYAMLRepository(store)
	steps := steprepo.NewYAMLRepository(store)
	bus := eventbus.New()
	service := step.NewService(steps, tasks, agents, bus)
	ts := server.NewTaskServer(tasks, agents, steps, service, bus)

	f := &taskFixture{
		agents: agents,
		steps:  steps,
		bus:    bus,
		caller: &user.User{ID: "creator", Name: "Creator", Role: user.RoleMember},
	}

	r := chi.NewRouter()
	r.Use(cerr.NewJSONResponseChiMiddleware())
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(user.ContextWith(req.Context(), f.caller)))
		})
	})
	r.Post("/api/tasks", ts.Create)
	r.Get("/api/tasks", ts.List)
	r.Get("/api/tasks/{taskID}", ts.Get)
	f.router = r
	return f
}

func (f *taskFixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateTaskWithStepsActivatesFirst(t *testing.T) {
	f := newTaskFixture(t)
	_, events := f.bus.Subscribe(16)

	rec := f.post(t, "/api/tasks", map[string]any{
		"title": "Ship the feature",
		"steps": []map[string]any{
			{"title": "Design", "assigneeId": "worker-1"},
			{"title": "Implement", "assigneeId": "worker-2"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Task struct {
			ID     string `json:"id"`
			Mode   string `json:"mode"`
			Status string `json:"status"`
		} `json:"task"`
		Steps []struct {
			Order      int    `json:"order"`
			Title      string `json:"title"`
			AssigneeID string `json:"assigneeId"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "solo", resp.Task.Mode)
	assert.Equal(t, "open", resp.Task.Status)
	require.Len(t, resp.Steps, 2)
	assert.Equal(t, 1, resp.Steps[0].Order)
	assert.Equal(t, "Design", resp.Steps[0].Title)
	assert.Equal(t, 2, resp.Steps[1].Order)

	persisted, err := f.steps.ListByTaskID(context.Background(), resp.Task.ID)
	require.NoError(t, err)
	require.Len(t, persisted, 2)
	assert.Equal(t, step.StatusPending, persisted[0].Status)

	// Publishing happens inside the handler, so by now the buffer holds
	// everything. Only the first step is announced; the second waits behind
	// the barrier.
	var ready []eventbus.Event
	sawCreated := false
	for drained := false; !drained; {
		select {
		case ev := <-events:
			switch ev.Kind {
			case eventbus.KindStepReady:
				ready = append(ready, ev)
			case eventbus.KindTaskCreated:
				sawCreated = true
			}
		default:
			drained = true
		}
	}
	assert.True(t, sawCreated)
	require.Len(t, ready, 1)
	assert.Equal(t, "worker-1", ready[0].UserID)
}

func TestCreateTeamTaskPrependsDecompose(t *testing.T) {
	f := newTaskFixture(t)
	require.NoError(t, f.agents.Create(context.Background(), &agent.Agent{
		ID:     ulid.Make().String(),
		UserID: "lead-agent",
		Name:   "Lead",
		Status: agent.StatusOnline,
		IsMain: true,
	}))

	rec := f.post(t, "/api/tasks", map[string]any{
		"title": "Migrate the database",
		"mode":  "team",
		"steps": []map[string]any{
			{"title": "Verify", "assigneeId": "worker-1"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Task struct {
			ID string `json:"id"`
		} `json:"task"`
		Steps []struct {
			Order      int    `json:"order"`
			Type       string `json:"type"`
			Title      string `json:"title"`
			AssigneeID string `json:"assigneeId"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Steps, 2)
	assert.Equal(t, 1, resp.Steps[0].Order)
	assert.Equal(t, "decompose", resp.Steps[0].Type)
	assert.Equal(t, "lead-agent", resp.Steps[0].AssigneeID, "decompose goes to the main agent")
	assert.Equal(t, "Verify", resp.Steps[1].Title)
	assert.Equal(t, 2, resp.Steps[1].Order)
}

func TestCreateTaskValidation(t *testing.T) {
	f := newTaskFixture(t)

	rec := f.post(t, "/api/tasks", map[string]any{"description": "no title"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var we struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &we))
	assert.Equal(t, "invalid_argument", we.Code)

	rec = f.post(t, "/api/tasks", map[string]any{"title": "x", "mode": "swarm"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskReturnsSteps(t *testing.T) {
	f := newTaskFixture(t)
	rec := f.post(t, "/api/tasks", map[string]any{
		"title": "Small chore",
		"steps": []map[string]any{{"title": "Do it", "assigneeId": "worker-1"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var created struct {
		Task struct {
			ID string `json:"id"`
		} `json:"task"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/"+created.Task.ID, nil)
	got := httptest.NewRecorder()
	f.router.ServeHTTP(got, req)
	require.Equal(t, http.StatusOK, got.Code)

	var resp struct {
		Task struct {
			Title string `json:"title"`
		} `json:"task"`
		Steps []json.RawMessage `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &resp))
	assert.Equal(t, "Small chore", resp.Task.Title)
	assert.Len(t, resp.Steps, 1)
}
