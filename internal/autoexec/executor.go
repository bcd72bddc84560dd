package autoexec

import (
	"context"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/crewline/crewline/internal/agent"
	"github.com/crewline/crewline/internal/step"
	"github.com/crewline/crewline/internal/task"
	"github.com/crewline/crewline/pkg/panicerr"
)

// DefaultTimeout bounds one execution-capability call.
const DefaultTimeout = 120 * time.Second

// Executor drives steps assigned to automated workers through
// claim -> prompt -> execute -> submit. Invocations are fire-and-forget and
// individually supervised; a skipped step is a silent no-op, never an error.
type Executor struct {
	enabled    bool
	capability step.Capability
	timeout    time.Duration
	service    *step.Service
	steps      step.Repository
	tasks      task.Repository
	agents     agent.Repository
	guard      *Guard
	wg         conc.WaitGroup
}

func New(service *step.Service, steps step.Repository, tasks task.Repository, agents agent.Repository, guard *Guard, capability step.Capability, enabled bool, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		enabled:    enabled,
		capability: capability,
		timeout:    timeout,
		service:    service,
		steps:      steps,
		tasks:      tasks,
		agents:     agents,
		guard:      guard,
	}
}

// TryAutoExecute spawns one supervised execution attempt and returns
// immediately. The scheduling caller never waits on the outcome.
func (e *Executor) TryAutoExecute(taskID, stepID string) {
	if !e.enabled || e.capability == nil {
		return
	}
	e.wg.Go(func() {
		fn := panicerr.Safe(func() error {
			return e.execute(context.Background(), taskID, stepID)
		})
		if err := fn(); err != nil {
			slog.Error("auto-execution failed", "task_id", taskID, "step_id", stepID, "error", err)
		}
	})
}

// Wait drains in-flight executions, used on shutdown.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) execute(ctx context.Context, taskID, stepID string) error {
	st, err := e.steps.Get(ctx, stepID)
	if err != nil {
		return err
	}
	if st.Status != step.StatusPending {
		return nil
	}
	workerID, automated := e.resolveWorker(ctx, st)
	if !automated {
		return nil
	}

	if !e.guard.TryAcquire() {
		// At capacity: the step stays pending and is retried on the next
		// scheduling trigger.
		return nil
	}
	defer e.guard.Release()

	claimed, ok, err := e.service.Claim(ctx, stepID, workerID)
	if err != nil || !ok {
		return err
	}

	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	prior, err := e.priorDoneSteps(ctx, taskID, claimed.Order)
	if err != nil {
		return err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	started := time.Now()
	result, err := e.capability.Execute(execCtx, BuildPrompt(t, claimed, prior))
	if err != nil {
		// The step stays in_progress for human takeover.
		slog.Warn("execution capability failed", "step_id", stepID, "error", err)
		return nil
	}

	if _, err := e.service.Submit(ctx, stepID, workerID, step.SubmitInput{
		Result:     result,
		DurationMs: time.Since(started).Milliseconds(),
	}); err != nil {
		return err
	}
	return nil
}

// resolveWorker decides whether the step belongs to an automated worker and
// under which user identity to act. The per-assignee type wins when present;
// otherwise a registered agent behind the assigned user marks it automated.
func (e *Executor) resolveWorker(ctx context.Context, st *step.Step) (string, bool) {
	if st.AssigneeID == "" {
		return "", false
	}
	if row := st.AssigneeFor(st.AssigneeID); row != nil && row.Type != "" {
		return st.AssigneeID, row.Type == step.AssigneeAutomated
	}
	ag, err := e.agents.GetByUserID(ctx, st.AssigneeID)
	if err != nil || ag == nil {
		return "", false
	}
	return st.AssigneeID, true
}

func (e *Executor) priorDoneSteps(ctx context.Context, taskID string, beforeOrder int) ([]*step.Step, error) {
	all, err := e.steps.ListByTaskID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var prior []*step.Step
	for _, s := range all {
		if s.Order < beforeOrder && s.Status == step.StatusDone {
			prior = append(prior, s)
		}
	}
	return prior, nil
}
