package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/crewline/crewline/internal/agent"
	"github.com/crewline/crewline/internal/eventbus"
	"github.com/crewline/crewline/internal/step"
	"github.com/crewline/crewline/internal/task"
	"github.com/crewline/crewline/internal/user"
	"github.com/crewline/crewline/pkg/cerr"
	"github.com/crewline/crewline/pkg/jsonlist"
)

// TaskServer handles the task endpoints. It lives outside the task package
// because creation spans tasks and their initial workflow.
type TaskServer struct {
	tasks   task.Repository
	agents  agent.Repository
	steps   step.Repository
	service *step.Service
	bus     *eventbus.Bus
}

func NewTaskServer(tasks task.Repository, agents agent.Repository, steps step.Repository, service *step.Service, bus *eventbus.Bus) *TaskServer {
	return &TaskServer{tasks: tasks, agents: agents, steps: steps, service: service, bus: bus}
}

type assigneeSpec struct {
	UserID string            `json:"userId"`
	Type   step.AssigneeType `json:"type"`
}

type stepSpec struct {
	Title            string              `json:"title"`
	Description      string              `json:"description"`
	Type             step.Type           `json:"type"`
	AssigneeID       string              `json:"assigneeId"`
	Assignees        []assigneeSpec      `json:"assignees"`
	RequiresApproval bool                `json:"requiresApproval"`
	CompletionMode   step.CompletionMode `json:"completionMode"`
	ParallelGroup    *string             `json:"parallelGroup"`
	Inputs           jsonlist.Strings    `json:"inputs"`
	Outputs          jsonlist.Strings    `json:"outputs"`
	Skills           jsonlist.Strings    `json:"skills"`
}

type createTaskRequest struct {
	WorkspaceID string     `json:"workspaceId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Mode        task.Mode  `json:"mode"`
	Steps       []stepSpec `json:"steps"`
}

func (s *TaskServer) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, ok := user.FromContext(ctx)
	if !ok {
		cerr.SetNewJSONError(ctx, cerr.Unauthenticated, "authentication required", nil)
		return
	}
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Title == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "title is required", nil)
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = task.ModeSolo
	}
	if mode != task.ModeSolo && mode != task.ModeTeam {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "mode must be solo or team", nil)
		return
	}

	now := time.Now()
	t := &task.Task{
		ID:          ulid.Make().String(),
		WorkspaceID: req.WorkspaceID,
		CreatorID:   u.ID,
		Title:       req.Title,
		Description: req.Description,
		Mode:        mode,
		Status:      task.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}

	steps, err := s.buildInitialSteps(ctx, t, req.Steps, now)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if len(steps) > 0 {
		if err := s.steps.CreateMany(ctx, steps); err != nil {
			cerr.SetJSONError(ctx, err)
			return
		}
		s.service.ActivateSteps(ctx, t, step.StartableSteps(steps))
	}

	s.bus.PublishNew(eventbus.KindTaskCreated, eventbus.Event{
		TaskID: t.ID,
		Title:  t.Title,
	})
	cerr.SetJSONResponse(ctx, map[string]any{"task": t, "steps": steps})
}

// buildInitialSteps materializes the requested workflow. Team mode gets a
// decompose step at order 1 so the workflow starts by planning itself; the
// requested steps follow it.
func (s *TaskServer) buildInitialSteps(ctx context.Context, t *task.Task, specs []stepSpec, now time.Time) ([]*step.Step, error) {
	var steps []*step.Step
	order := 1
	if t.Mode == task.ModeTeam {
		d := &step.Step{
			ID:               ulid.Make().String(),
			TaskID:           t.ID,
			Order:            order,
			Status:           step.StatusPending,
			Type:             step.TypeDecompose,
			Title:            "Decompose task",
			Description:      "Break the task down into steps for the team.",
			RequiresApproval: true,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if main := s.mainAgent(ctx); main != nil {
			d.AssigneeID = main.UserID
			d.Assignees = []step.Assignee{{UserID: main.UserID, Type: step.AssigneeAutomated, Status: step.AssigneePending}}
		}
		steps = append(steps, d)
		order++
	}
	for _, spec := range specs {
		if spec.Title == "" {
			return nil, cerr.NewError(cerr.InvalidArgument, "every step needs a title", nil)
		}
		st := &step.Step{
			ID:               ulid.Make().String(),
			TaskID:           t.ID,
			Order:            order,
			ParallelGroup:    spec.ParallelGroup,
			Status:           step.StatusPending,
			Type:             spec.Type,
			Title:            spec.Title,
			Description:      spec.Description,
			AssigneeID:       spec.AssigneeID,
			RequiresApproval: spec.RequiresApproval,
			CompletionMode:   spec.CompletionMode,
			Inputs:           spec.Inputs,
			Outputs:          spec.Outputs,
			Skills:           spec.Skills,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if st.Type == "" {
			st.Type = step.TypeTask
		}
		for _, a := range spec.Assignees {
			st.Assignees = append(st.Assignees, step.Assignee{
				UserID: a.UserID,
				Type:   s.assigneeType(ctx, a.UserID, a.Type),
				Status: step.AssigneePending,
			})
		}
		if st.AssigneeID != "" && st.AssigneeFor(st.AssigneeID) == nil {
			st.Assignees = append(st.Assignees, step.Assignee{
				UserID: st.AssigneeID,
				Type:   s.assigneeType(ctx, st.AssigneeID, ""),
				Status: step.AssigneePending,
			})
		}
		if st.AssigneeID == "" && len(st.Assignees) > 0 {
			st.AssigneeID = st.Assignees[0].UserID
		}
		steps = append(steps, st)
		order++
	}
	return steps, nil
}

// assigneeType defaults from the worker registry: users with a registered
// agent identity are automated assignees unless the request says otherwise.
func (s *TaskServer) assigneeType(ctx context.Context, userID string, explicit step.AssigneeType) step.AssigneeType {
	if explicit != "" {
		return explicit
	}
	if a, err := s.agents.GetByUserID(ctx, userID); err == nil && a != nil {
		return step.AssigneeAutomated
	}
	return step.AssigneeHuman
}

func (s *TaskServer) mainAgent(ctx context.Context) *agent.Agent {
	agents, err := s.agents.List(ctx)
	if err != nil {
		return nil
	}
	for _, a := range agents {
		if a.IsMain {
			return a
		}
	}
	if len(agents) > 0 {
		return agents[0]
	}
	return nil
}

func (s *TaskServer) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := task.ListFilter{
		WorkspaceID: r.URL.Query().Get("workspace_id"),
		Status:      task.Status(r.URL.Query().Get("status")),
	}
	tasks, err := s.tasks.List(ctx, filter)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"tasks": tasks})
}

func (s *TaskServer) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.tasks.Get(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	steps, err := s.steps.ListByTaskID(ctx, t.ID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, map[string]any{"task": t, "steps": steps})
}
