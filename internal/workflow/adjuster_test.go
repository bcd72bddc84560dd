package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/crewline/internal/agent"
	agentrepo "github.com/crewline/crewline/internal/agent/repositoryimpl"
	"github.com/crewline/crewline/internal/step"
	steprepo "github.com/crewline/crewline/internal/step/repositoryimpl"
	"github.com/crewline/crewline/internal/task"
	"github.com/crewline/crewline/internal/workflow"
	"github.com/crewline/crewline/pkg/storage"
)

type fakeCapability struct {
	response string
	err      error
}

func (f *fakeCapability) Execute(_ context.Context, _ string) (string, error) {
	return f.response, f.err
}

func seedWorkflow(t *testing.T) (step.Repository, *task.Task, []*step.Step) {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	steps := steprepo.NewYAMLRepository(store)
	ctx := context.Background()

	tk := &task.Task{ID: ulid.Make().String(), CreatorID: "creator", Title: "task", Status: task.StatusOpen}
	var created []*step.Step
	for i, title := range []string{"analyze", "build", "verify"} {
		s := &step.Step{
			ID: ulid.Make().String(), TaskID: tk.ID, Order: i + 1,
			Status: step.StatusPending, Type: step.TypeTask, Title: title,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
		require.NoError(t, steps.Create(ctx, s))
		created = append(created, s)
	}
	created[0].Status = step.StatusDone
	created[0].Result = "analysis output"
	require.NoError(t, steps.Update(ctx, created[0]))
	return steps, tk, created
}

func TestAdjusterFailOpen(t *testing.T) {
	for name, capability := range map[string]step.Capability{
		"no capability":      nil,
		"capability error":   &fakeCapability{err: errors.New("unreachable")},
		"malformed response": &fakeCapability{response: "I think the plan is fine, thanks for asking"},
	} {
		t.Run(name, func(t *testing.T) {
			steps, tk, created := seedWorkflow(t)
			a := workflow.NewAdjuster(capability, steps, time.Second)
			assert.Zero(t, a.AdjustAfterCompletion(context.Background(), tk, created, created[0]))

			// The graph is untouched.
			remaining, err := steps.ListByTaskID(context.Background(), tk.ID)
			require.NoError(t, err)
			require.Len(t, remaining, 3)
		})
	}
}

func TestAdjusterEmptyArrayMeansPlanHolds(t *testing.T) {
	steps, tk, created := seedWorkflow(t)
	a := workflow.NewAdjuster(&fakeCapability{response: "[]"}, steps, time.Second)
	assert.Zero(t, a.AdjustAfterCompletion(context.Background(), tk, created, created[0]))
}

func TestAdjusterInsertRenumbers(t *testing.T) {
	steps, tk, created := seedWorkflow(t)
	response := `[{"type":"insert_step","anchorOrder":1,"title":"review analysis","description":"added after the fact"}]`
	a := workflow.NewAdjuster(&fakeCapability{response: response}, steps, time.Second)

	assert.Equal(t, 1, a.AdjustAfterCompletion(context.Background(), tk, created, created[0]))

	all, err := steps.ListByTaskID(context.Background(), tk.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	byOrder := map[int]string{}
	for _, s := range all {
		byOrder[s.Order] = s.Title
	}
	assert.Equal(t, "analyze", byOrder[1])
	assert.Equal(t, "review analysis", byOrder[2])
	assert.Equal(t, "build", byOrder[3])
	assert.Equal(t, "verify", byOrder[4])
}

func TestAdjusterSkipAndModify(t *testing.T) {
	steps, tk, created := seedWorkflow(t)
	response := `[
		{"type":"skip_step","targetStepId":"` + created[2].ID + `","reason":"covered by analysis"},
		{"type":"modify_step","targetStepId":"` + created[1].ID + `","title":"build v2"}
	]`
	a := workflow.NewAdjuster(&fakeCapability{response: response}, steps, time.Second)

	assert.Equal(t, 2, a.AdjustAfterCompletion(context.Background(), tk, created, created[0]))

	skipped, err := steps.Get(context.Background(), created[2].ID)
	require.NoError(t, err)
	assert.Equal(t, step.StatusSkipped, skipped.Status)
	assert.Equal(t, "covered by analysis", skipped.SkipReason)

	modified, err := steps.Get(context.Background(), created[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "build v2", modified.Title)
}

func TestAdjusterOneFailureDoesNotAbortOthers(t *testing.T) {
	steps, tk, created := seedWorkflow(t)
	response := `[
		{"type":"modify_step","targetStepId":"missing-step","title":"nope"},
		{"type":"skip_step","targetStepId":"` + created[2].ID + `","reason":"still applied"}
	]`
	a := workflow.NewAdjuster(&fakeCapability{response: response}, steps, time.Second)

	assert.Equal(t, 1, a.AdjustAfterCompletion(context.Background(), tk, created, created[0]))

	skipped, err := steps.Get(context.Background(), created[2].ID)
	require.NoError(t, err)
	assert.Equal(t, step.StatusSkipped, skipped.Status)
}

func TestDecomposerExpandResolvesAgents(t *testing.T) {
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	agents := agentrepo.NewYAMLRepository(store)
	ctx := context.Background()
	require.NoError(t, agents.Create(ctx, &agent.Agent{
		ID: ulid.Make().String(), UserID: "scout-user", Name: "Scout",
		Status: agent.StatusOnline, CreatedAt: time.Now(),
	}))

	tk := &task.Task{ID: "t1", Title: "task"}
	finished := &step.Step{
		ID: "d1", TaskID: "t1", Order: 1, Type: step.TypeDecompose, Status: step.StatusDone,
		Result: `[{"title":"research","assignee":"scout"},{"title":"untargeted"}]`,
	}
	existing := []*step.Step{finished}

	d := workflow.NewDecomposer(agents)
	newSteps, err := d.Expand(ctx, tk, finished, existing)
	require.NoError(t, err)
	require.Len(t, newSteps, 2)

	assert.Equal(t, 2, newSteps[0].Order, "expansion appends after the current max order")
	assert.Equal(t, 3, newSteps[1].Order)
	assert.Equal(t, "scout-user", newSteps[0].AssigneeID, "assignee name resolves case-insensitively")
	require.Len(t, newSteps[0].Assignees, 1)
	assert.Equal(t, step.AssigneeAutomated, newSteps[0].Assignees[0].Type)
	assert.Empty(t, newSteps[1].AssigneeID, "unknown assignee stays unassigned")
}
