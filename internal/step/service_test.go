package step_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewline/crewline/internal/agent"
	agentrepo "github.com/crewline/crewline/internal/agent/repositoryimpl"
	"github.com/crewline/crewline/internal/eventbus"
	"github.com/crewline/crewline/internal/step"
	steprepo "github.com/crewline/crewline/internal/step/repositoryimpl"
	"github.com/crewline/crewline/internal/task"
	taskrepo "github.com/crewline/crewline/internal/task/repositoryimpl"
	"github.com/crewline/crewline/pkg/cerr"
	"github.com/crewline/crewline/pkg/storage"
)

type fixture struct {
	service *step.Service
	steps   step.Repository
	tasks   task.Repository
	agents  agent.Repository
	bus     *eventbus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	f := &fixture{
		steps:  steprepo.NewYAMLRepository(store),
		tasks:  taskrepo.NewYAMLRepository(store),
		agents: agentrepo.NewYAMLRepository(store),
		bus:    eventbus.New(),
	}
	f.service = step.NewService(f.steps, f.tasks, f.agents, f.bus)
	return f
}

func (f *fixture) createTask(t *testing.T, creatorID string) *task.Task {
	t.Helper()
	tk := &task.Task{
		ID:        ulid.Make().String(),
		CreatorID: creatorID,
		Title:     "ship the feature",
		Mode:      task.ModeSolo,
		Status:    task.StatusOpen,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, f.tasks.Create(context.Background(), tk))
	return tk
}

func (f *fixture) createStep(t *testing.T, taskID string, order int, mutate func(*step.Step)) *step.Step {
	t.Helper()
	st := &step.Step{
		ID:        ulid.Make().String(),
		TaskID:    taskID,
		Order:     order,
		Status:    step.StatusPending,
		Type:      step.TypeTask,
		Title:     "step",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if mutate != nil {
		mutate(st)
	}
	require.NoError(t, f.steps.Create(context.Background(), st))
	return st
}

func TestClaimIsExclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	st := f.createStep(t, tk.ID, 1, nil)

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan string, workers)
	for i := 0; i < workers; i++ {
		workerID := ulid.Make().String()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := f.service.Claim(ctx, st.ID, workerID); err == nil && ok {
				wins <- workerID
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	got, err := f.steps.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, step.StatusInProgress, got.Status)
	assert.Equal(t, winners[0], got.AssigneeID)
	require.NotNil(t, got.StartedAt)
}

func TestClaimAssignedStepByOtherWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	st := f.createStep(t, tk.ID, 1, func(s *step.Step) {
		s.AssigneeID = "owner"
		s.Assignees = []step.Assignee{{UserID: "owner", Status: step.AssigneePending}}
	})

	_, _, err := f.service.Claim(ctx, st.ID, "intruder")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
}

func TestClaimOrphanedAutomatedAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	st := f.createStep(t, tk.ID, 1, func(s *step.Step) {
		s.AssigneeID = "ghost"
		s.Assignees = []step.Assignee{{UserID: "ghost", Type: step.AssigneeAutomated, Status: step.AssigneePending}}
	})

	// No agent record behind the automated assignee: a quiet refusal.
	_, ok, err := f.service.Claim(ctx, st.ID, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.steps.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, step.StatusPending, got.Status)
}

func TestSubmitAutoApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	st := f.createStep(t, tk.ID, 1, nil)

	_, ok, err := f.service.Claim(ctx, st.ID, "worker")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := f.service.Submit(ctx, st.ID, "worker", step.SubmitInput{Result: "all green"})
	require.NoError(t, err)
	assert.Equal(t, step.StatusDone, got.Status)
	assert.Equal(t, "all green", got.Result)
	require.NotNil(t, got.ApprovedAt)
	require.NotNil(t, got.CompletedAt)
}

func TestSubmitRequiresInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	st := f.createStep(t, tk.ID, 1, nil)

	_, err := f.service.Submit(ctx, st.ID, "worker", step.SubmitInput{Result: "too eager"})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
}

func TestApprovalFlowWithRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	st := f.createStep(t, tk.ID, 1, func(s *step.Step) {
		s.RequiresApproval = true
	})

	_, ok, err := f.service.Claim(ctx, st.ID, "worker")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := f.service.Submit(ctx, st.ID, "worker", step.SubmitInput{Result: "first draft"})
	require.NoError(t, err)
	require.Equal(t, step.StatusWaitingApproval, got.Status)
	require.NotNil(t, got.ReviewStartedAt)

	got, err = f.service.Reject(ctx, st.ID, "creator", "missing tests")
	require.NoError(t, err)
	assert.Equal(t, step.StatusPending, got.Status)
	assert.Equal(t, 1, got.RejectionCount)
	assert.Equal(t, "missing tests", got.RejectionReason)
	assert.Equal(t, "first draft", got.Result, "prior result must survive a rejection")
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.ReviewStartedAt)

	// Second attempt goes through.
	_, ok, err = f.service.Claim(ctx, st.ID, "worker")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.service.Submit(ctx, st.ID, "worker", step.SubmitInput{Result: "second draft"})
	require.NoError(t, err)

	got, err = f.service.Approve(ctx, st.ID, "creator")
	require.NoError(t, err)
	assert.Equal(t, step.StatusDone, got.Status)
	assert.Equal(t, "creator", got.ApprovedBy)

	subs, err := f.service.Submissions(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, subs, 2)
}

func TestApproveByStranger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	st := f.createStep(t, tk.ID, 1, func(s *step.Step) {
		s.RequiresApproval = true
	})
	_, ok, err := f.service.Claim(ctx, st.ID, "worker")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.service.Submit(ctx, st.ID, "worker", step.SubmitInput{Result: "draft"})
	require.NoError(t, err)

	_, err = f.service.Approve(ctx, st.ID, "stranger")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
}

func TestCompletionModeAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	st := f.createStep(t, tk.ID, 1, func(s *step.Step) {
		s.AssigneeID = "alice"
		s.CompletionMode = step.CompletionAll
		s.Assignees = []step.Assignee{
			{UserID: "alice", Status: step.AssigneePending},
			{UserID: "bob", Status: step.AssigneePending},
		}
	})

	_, ok, err := f.service.Claim(ctx, st.ID, "alice")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := f.service.Submit(ctx, st.ID, "alice", step.SubmitInput{Result: "alice part"})
	require.NoError(t, err)
	assert.Equal(t, step.StatusInProgress, got.Status, "one of two submissions must not complete the step")
	assert.Equal(t, step.AssigneeSubmitted, got.AssigneeFor("alice").Status)
	assert.Equal(t, step.AssigneePending, got.AssigneeFor("bob").Status)

	got, err = f.service.Submit(ctx, st.ID, "bob", step.SubmitInput{Result: "bob part"})
	require.NoError(t, err)
	assert.Equal(t, step.StatusDone, got.Status)
	assert.Contains(t, got.Result, "alice part")
	assert.Contains(t, got.Result, "bob part")
}

func TestTaskCompletesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	st := f.createStep(t, tk.ID, 1, func(s *step.Step) {
		s.RequiresApproval = true
		s.Summary = "shipped"
	})

	_, ok, err := f.service.Claim(ctx, st.ID, "worker")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.service.Submit(ctx, st.ID, "worker", step.SubmitInput{Result: "done"})
	require.NoError(t, err)
	_, err = f.service.Approve(ctx, st.ID, "creator")
	require.NoError(t, err)

	got, err := f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusDone, got.Status)
	require.NotNil(t, got.CompletedAt)
	firstCompletion := *got.CompletedAt

	// A retried approve loses the status check and must not rerun the task
	// transition.
	_, err = f.service.Approve(ctx, st.ID, "creator")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.Aborted))

	got, err = f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, firstCompletion, *got.CompletedAt)
}

func TestApproveSchedulesDownstream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	first := f.createStep(t, tk.ID, 1, func(s *step.Step) {
		s.RequiresApproval = true
	})
	f.createStep(t, tk.ID, 2, func(s *step.Step) {
		s.AssigneeID = "next-worker"
	})

	_, events := f.bus.Subscribe(32)

	_, ok, err := f.service.Claim(ctx, first.ID, "worker")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.service.Submit(ctx, first.ID, "worker", step.SubmitInput{Result: "done"})
	require.NoError(t, err)
	_, err = f.service.Approve(ctx, first.ID, "creator")
	require.NoError(t, err)

	var readyFor []string
	for {
		select {
		case ev := <-events:
			if ev.Kind == eventbus.KindStepReady {
				readyFor = append(readyFor, ev.UserID)
			}
			continue
		default:
		}
		break
	}
	assert.Contains(t, readyFor, "next-worker")
}

func TestSkip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	st := f.createStep(t, tk.ID, 1, nil)

	_, err := f.service.Skip(ctx, st.ID, "not-the-creator", "irrelevant")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

	got, err := f.service.Skip(ctx, st.ID, "creator", "obsoleted by upstream change")
	require.NoError(t, err)
	assert.Equal(t, step.StatusSkipped, got.Status)
	assert.Equal(t, "obsoleted by upstream change", got.SkipReason)

	// A fully skipped task counts as complete.
	gotTask, err := f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, gotTask.Status)
}

func TestMySteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	blocked := "worker"
	f.createStep(t, tk.ID, 1, func(s *step.Step) {
		s.AssigneeID = blocked
		s.Title = "first"
	})
	f.createStep(t, tk.ID, 2, func(s *step.Step) {
		s.AssigneeID = blocked
		s.Title = "second"
	})

	mine, err := f.service.MySteps(ctx, blocked)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	byTitle := map[string]bool{}
	for _, m := range mine {
		byTitle[m.Title] = m.Startable
	}
	assert.True(t, byTitle["first"], "leading step must be startable")
	assert.False(t, byTitle["second"], "step behind a pending barrier must not be startable")
}

func TestAppealUpheldReopensReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	st := f.createStep(t, tk.ID, 1, func(s *step.Step) {
		s.RequiresApproval = true
	})

	_, ok, err := f.service.Claim(ctx, st.ID, "worker")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.service.Submit(ctx, st.ID, "worker", step.SubmitInput{Result: "draft"})
	require.NoError(t, err)
	_, err = f.service.Reject(ctx, st.ID, "creator", "too short")
	require.NoError(t, err)

	_, events := f.bus.Subscribe(32)

	got, err := f.service.Appeal(ctx, st.ID, "worker", "the brief asked for a short answer")
	require.NoError(t, err)
	assert.Equal(t, step.AppealPending, got.AppealStatus)
	assert.Equal(t, "the brief asked for a short answer", got.AppealText)
	require.NotNil(t, got.AppealedAt)
	assert.Equal(t, step.StatusPending, got.Status, "an open appeal must not move the step")

	ev := <-events
	assert.Equal(t, eventbus.KindStepAppealed, ev.Kind)
	assert.Equal(t, "creator", ev.UserID)
	assert.Equal(t, "the brief asked for a short answer", ev.Meta["appeal"])

	// Only one appeal may be open at a time.
	_, err = f.service.Appeal(ctx, st.ID, "worker", "again")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	got, err = f.service.ResolveAppeal(ctx, st.ID, "creator", step.AppealUpheld, "fair point")
	require.NoError(t, err)
	assert.Equal(t, step.AppealUpheld, got.AppealStatus)
	assert.Equal(t, "fair point", got.AppealNote)
	require.NotNil(t, got.AppealResolvedAt)
	assert.Equal(t, step.StatusWaitingApproval, got.Status, "upholding must put the step back under review")
	assert.Equal(t, "draft", got.Result, "the contested result must survive the appeal")

	ev = <-events
	assert.Equal(t, eventbus.KindAppealResolved, ev.Kind)
	assert.Equal(t, "worker", ev.UserID)
	assert.Equal(t, "upheld", ev.Meta["decision"])

	got, err = f.service.Approve(ctx, st.ID, "creator")
	require.NoError(t, err)
	assert.Equal(t, step.StatusDone, got.Status)
}

func TestAppealDismissedCountsAsRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	st := f.createStep(t, tk.ID, 1, func(s *step.Step) {
		s.RequiresApproval = true
	})

	_, ok, err := f.service.Claim(ctx, st.ID, "worker")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.service.Submit(ctx, st.ID, "worker", step.SubmitInput{Result: "draft"})
	require.NoError(t, err)
	_, err = f.service.Reject(ctx, st.ID, "creator", "wrong direction")
	require.NoError(t, err)
	_, err = f.service.Appeal(ctx, st.ID, "worker", "the direction came from the ticket")
	require.NoError(t, err)

	// Resolution is the creator's call alone.
	_, err = f.service.ResolveAppeal(ctx, st.ID, "worker", step.AppealDismissed, "")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))

	_, err = f.service.ResolveAppeal(ctx, st.ID, "creator", "maybe", "")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))

	got, err := f.service.ResolveAppeal(ctx, st.ID, "creator", step.AppealDismissed, "ticket was amended")
	require.NoError(t, err)
	assert.Equal(t, step.AppealDismissed, got.AppealStatus)
	assert.Equal(t, step.StatusPending, got.Status)
	assert.Equal(t, 2, got.RejectionCount, "a dismissed appeal counts as one more rejection")

	// Nothing left to resolve.
	_, err = f.service.ResolveAppeal(ctx, st.ID, "creator", step.AppealUpheld, "")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	// The worker may file a fresh appeal against the dismissal.
	got, err = f.service.Appeal(ctx, st.ID, "worker", "amendment landed after my submission")
	require.NoError(t, err)
	assert.Equal(t, step.AppealPending, got.AppealStatus)
}

func TestAppealRequiresRejectedStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	st := f.createStep(t, tk.ID, 1, func(s *step.Step) {
		s.AssigneeID = "worker"
	})

	_, err := f.service.Appeal(ctx, st.ID, "worker", "preemptive")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))

	_, err = f.service.Appeal(ctx, st.ID, "stranger", "any")
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
}

func TestConcurrentFinalStepsCompleteTaskOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.createTask(t, "creator")
	group := "wrap-up"
	a := f.createStep(t, tk.ID, 1, func(s *step.Step) {
		s.ParallelGroup = &group
		s.AssigneeID = "alice"
	})
	b := f.createStep(t, tk.ID, 1, func(s *step.Step) {
		s.ParallelGroup = &group
		s.AssigneeID = "bob"
	})

	_, ok, err := f.service.Claim(ctx, a.ID, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = f.service.Claim(ctx, b.ID, "bob")
	require.NoError(t, err)
	require.True(t, ok)

	_, events := f.bus.Subscribe(64)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.service.Submit(ctx, a.ID, "alice", step.SubmitInput{Result: "alice done"})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := f.service.Submit(ctx, b.ID, "bob", step.SubmitInput{Result: "bob done"})
		assert.NoError(t, err)
	}()
	wg.Wait()

	got, err := f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, task.StatusDone, got.Status)

	doneEvents := 0
	for {
		select {
		case ev := <-events:
			if ev.Kind == eventbus.KindTaskUpdated && ev.Meta["status"] == "done" {
				doneEvents++
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, doneEvents, "both racing completions passing the guard would publish twice")
}
