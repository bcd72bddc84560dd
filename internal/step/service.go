package step

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crewline/crewline/internal/agent"
	"github.com/crewline/crewline/internal/eventbus"
	"github.com/crewline/crewline/internal/task"
	"github.com/crewline/crewline/pkg/cerr"
)

// Capability is the opaque execution backend. It is treated as unreliable
// and slow; callers bound it with their own timeout.
type Capability interface {
	Execute(ctx context.Context, prompt string) (string, error)
}

// Summarizer produces a short summary of a result text. Best-effort: an
// empty string with a nil error is a normal outcome.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Adjuster inspects a just-completed step and may rewrite the not-yet-started
// remainder of the task. Fail-open: it returns how many adjustments were
// applied and never blocks completion.
type Adjuster interface {
	AdjustAfterCompletion(ctx context.Context, t *task.Task, steps []*Step, finished *Step) int
}

// Decomposer expands a completed decompose step's result into new sibling
// steps and builds the prompt used to generate that result.
type Decomposer interface {
	Expand(ctx context.Context, t *task.Task, finished *Step, steps []*Step) ([]*Step, error)
	Prompt(t *task.Task, agents []*agent.Agent) string
}

// AutoExecutor is invoked fire-and-forget whenever a step becomes startable.
type AutoExecutor interface {
	TryAutoExecute(taskID, stepID string)
}

// Service drives every step state transition: claim, submit, approve,
// reject, skip, and the downstream scheduling each completed step triggers.
type Service struct {
	steps  Repository
	tasks  task.Repository
	agents agent.Repository
	bus    *eventbus.Bus

	summarizer  Summarizer
	adjuster    Adjuster
	decomposer  Decomposer
	autoExec    AutoExecutor
	capability  Capability
	execTimeout time.Duration
}

func NewService(steps Repository, tasks task.Repository, agents agent.Repository, bus *eventbus.Bus) *Service {
	return &Service{
		steps:       steps,
		tasks:       tasks,
		agents:      agents,
		bus:         bus,
		execTimeout: 120 * time.Second,
	}
}

func (s *Service) SetSummarizer(sum Summarizer)    { s.summarizer = sum }
func (s *Service) SetAdjuster(a Adjuster)          { s.adjuster = a }
func (s *Service) SetDecomposer(d Decomposer)      { s.decomposer = d }
func (s *Service) SetAutoExecutor(ae AutoExecutor) { s.autoExec = ae }

func (s *Service) SetCapability(c Capability, timeout time.Duration) {
	s.capability = c
	if timeout > 0 {
		s.execTimeout = timeout
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Step, error) {
	return s.steps.Get(ctx, id)
}

func (s *Service) ListByTaskID(ctx context.Context, taskID string) ([]*Step, error) {
	return s.steps.ListByTaskID(ctx, taskID)
}

func (s *Service) Submissions(ctx context.Context, stepID string) ([]*Submission, error) {
	return s.steps.ListSubmissions(ctx, stepID)
}

// ActivateSteps announces each startable step to its assignees and hands it
// to the auto-executor without waiting for the outcome.
func (s *Service) ActivateSteps(ctx context.Context, t *task.Task, startable []*Step) {
	for _, st := range startable {
		for _, userID := range assigneeUserIDs(st) {
			s.bus.PublishNew(eventbus.KindStepReady, eventbus.Event{
				UserID: userID,
				TaskID: t.ID,
				StepID: st.ID,
				Title:  st.Title,
			})
		}
		if s.autoExec != nil {
			s.autoExec.TryAutoExecute(t.ID, st.ID)
		}
	}
}

func assigneeUserIDs(st *Step) []string {
	seen := map[string]bool{}
	var ids []string
	if st.AssigneeID != "" {
		seen[st.AssigneeID] = true
		ids = append(ids, st.AssigneeID)
	}
	for _, a := range st.Assignees {
		if !seen[a.UserID] {
			seen[a.UserID] = true
			ids = append(ids, a.UserID)
		}
	}
	return ids
}

// Claim attempts the atomic pending-to-in_progress transition for workerID.
// ok=false without an error means the race was lost or the assignment is
// orphaned; the caller must not proceed but nothing is wrong.
func (s *Service) Claim(ctx context.Context, stepID, workerID string) (*Step, bool, error) {
	st, err := s.steps.Get(ctx, stepID)
	if err != nil {
		return nil, false, err
	}
	if st.AssigneeID != "" && !st.AuthorizedSubmitter(workerID) {
		return nil, false, cerr.NewError(cerr.PermissionDenied, "step is assigned to another worker", nil)
	}
	if row := st.AssigneeFor(workerID); row != nil && row.Type == AssigneeAutomated {
		if _, err := s.agents.GetByUserID(ctx, workerID); err != nil {
			// Orphaned automated assignment: refuse quietly.
			return nil, false, nil
		}
	}

	now := time.Now()
	updated, ok, err := s.steps.UpdateIfStatus(ctx, stepID, StatusPending, func(st *Step) {
		st.Status = StatusInProgress
		st.StartedAt = &now
		if st.AssigneeID == "" {
			st.AssigneeID = workerID
		}
		if row := st.AssigneeFor(workerID); row != nil {
			row.Status = AssigneeInProgress
		} else {
			st.Assignees = append(st.Assignees, Assignee{UserID: workerID, Status: AssigneeInProgress})
		}
	})
	if err != nil || !ok {
		return updated, false, err
	}

	s.setAgentStatus(ctx, workerID, agent.StatusWorking)
	s.bus.PublishNew(eventbus.KindStepAssigned, eventbus.Event{
		UserID: workerID,
		TaskID: updated.TaskID,
		StepID: updated.ID,
		Title:  updated.Title,
	})
	return updated, true, nil
}

// setAgentStatus is a best-effort availability flip; failures are logged and
// swallowed because availability is advisory.
func (s *Service) setAgentStatus(ctx context.Context, userID string, status agent.Status) {
	ag, err := s.agents.GetByUserID(ctx, userID)
	if err != nil || ag == nil {
		return
	}
	ag.Status = status
	if err := s.agents.Update(ctx, ag); err != nil {
		slog.WarnContext(ctx, "failed to update agent availability", "agent_id", ag.ID, "error", err)
	}
}

// SubmitInput carries one worker's submission.
type SubmitInput struct {
	Result     string
	Summary    string
	DurationMs int64
}

// Submit records a worker's result. With completionMode=all and outstanding
// co-assignees the step stays in_progress and only the caller's sub-status
// advances; otherwise the step transitions to waiting_approval or, when no
// approval is required, straight to done.
func (s *Service) Submit(ctx context.Context, stepID, workerID string, in SubmitInput) (*Step, error) {
	st, err := s.steps.Get(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if st.Status != StatusInProgress {
		return nil, cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("step is %s, not in_progress", st.Status), nil)
	}
	if !st.AuthorizedSubmitter(workerID) {
		return nil, cerr.NewError(cerr.PermissionDenied, "not an assignee of this step", nil)
	}

	summary := in.Summary
	if summary == "" && s.summarizer != nil {
		if generated, err := s.summarizer.Summarize(ctx, in.Result); err == nil {
			summary = generated
		}
	}

	automated := s.isAutomated(ctx, st, workerID)
	now := time.Now()
	var completed bool
	updated, ok, err := s.steps.UpdateIfStatus(ctx, stepID, StatusInProgress, func(st *Step) {
		row := st.AssigneeFor(workerID)
		if row == nil {
			st.Assignees = append(st.Assignees, Assignee{UserID: workerID})
			row = &st.Assignees[len(st.Assignees)-1]
		}
		row.Status = AssigneeSubmitted
		row.Result = in.Result

		if st.CompletionMode == CompletionAll && !allSubmitted(st) {
			return
		}
		completed = true
		st.Result = combinedResult(st, in.Result)
		st.Summary = summary
		if automated {
			st.AgentDurationMs += in.DurationMs
		} else {
			st.HumanDurationMs += in.DurationMs
		}
		if st.RequiresApproval {
			st.Status = StatusWaitingApproval
			st.ReviewStartedAt = &now
		} else {
			st.Status = StatusDone
			st.CompletedAt = &now
			st.ApprovedAt = &now
			for i := range st.Assignees {
				st.Assignees[i].Status = AssigneeDone
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.NewError(cerr.Aborted, "step already handled", nil)
	}

	sub := &Submission{
		ID:          ulid.Make().String(),
		StepID:      stepID,
		SubmitterID: workerID,
		Result:      in.Result,
		Summary:     summary,
		DurationMs:  in.DurationMs,
		CreatedAt:   now,
	}
	if err := s.steps.CreateSubmission(ctx, sub); err != nil {
		slog.WarnContext(ctx, "failed to record submission", "step_id", stepID, "error", err)
	}

	s.setAgentStatus(ctx, workerID, agent.StatusOnline)
	if !completed {
		return updated, nil
	}

	t, err := s.tasks.Get(ctx, updated.TaskID)
	if err != nil {
		return nil, err
	}
	switch updated.Status {
	case StatusWaitingApproval:
		s.bus.PublishNew(eventbus.KindApprovalRequested, eventbus.Event{
			UserID: t.CreatorID,
			TaskID: t.ID,
			StepID: updated.ID,
			Title:  updated.Title,
		})
	case StatusDone:
		s.publishCompleted(t, updated)
		s.afterCompletion(ctx, t, updated)
	}
	return updated, nil
}

func allSubmitted(st *Step) bool {
	for _, a := range st.Assignees {
		if a.Status != AssigneeSubmitted && a.Status != AssigneeDone {
			return false
		}
	}
	return len(st.Assignees) > 0
}

// combinedResult aggregates per-assignee results for all-mode steps and
// passes the single result through otherwise.
func combinedResult(st *Step, latest string) string {
	if st.CompletionMode != CompletionAll || len(st.Assignees) < 2 {
		return latest
	}
	parts := make([]string, 0, len(st.Assignees))
	for _, a := range st.Assignees {
		if a.Result != "" {
			parts = append(parts, a.Result)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func (s *Service) isAutomated(ctx context.Context, st *Step, workerID string) bool {
	if row := st.AssigneeFor(workerID); row != nil && row.Type != "" {
		return row.Type == AssigneeAutomated
	}
	ag, err := s.agents.GetByUserID(ctx, workerID)
	return err == nil && ag != nil
}

// Approve finalizes a waiting_approval step. Only the task creator or the
// step's assignee may approve. A retried approve loses the status check and
// reports Aborted, so the downstream effects run exactly once.
func (s *Service) Approve(ctx context.Context, stepID, approverID string) (*Step, error) {
	st, err := s.steps.Get(ctx, stepID)
	if err != nil {
		return nil, err
	}
	t, err := s.tasks.Get(ctx, st.TaskID)
	if err != nil {
		return nil, err
	}
	if approverID != t.CreatorID && !st.AuthorizedSubmitter(approverID) {
		return nil, cerr.NewError(cerr.PermissionDenied, "only the task creator or an assignee may approve", nil)
	}

	now := time.Now()
	updated, ok, err := s.steps.UpdateIfStatus(ctx, stepID, StatusWaitingApproval, func(st *Step) {
		st.Status = StatusDone
		st.ApprovedAt = &now
		st.CompletedAt = &now
		st.ApprovedBy = approverID
		for i := range st.Assignees {
			st.Assignees[i].Status = AssigneeDone
		}
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.NewError(cerr.Aborted, "step already handled", nil)
	}

	s.reviewLatestSubmission(ctx, stepID, ReviewApproved)
	for _, userID := range assigneeUserIDs(updated) {
		s.bus.PublishNew(eventbus.KindApprovalGranted, eventbus.Event{
			UserID: userID,
			TaskID: t.ID,
			StepID: updated.ID,
			Title:  updated.Title,
		})
	}
	s.publishCompleted(t, updated)
	s.afterCompletion(ctx, t, updated)
	return updated, nil
}

// Reject sends a waiting_approval step back to pending. The status is reused
// on purpose: rejectionCount and rejectionReason carry the history, timing
// fields reset for the next attempt, and the produced result is kept so a
// retry can build on it.
func (s *Service) Reject(ctx context.Context, stepID, approverID, reason string) (*Step, error) {
	st, err := s.steps.Get(ctx, stepID)
	if err != nil {
		return nil, err
	}
	t, err := s.tasks.Get(ctx, st.TaskID)
	if err != nil {
		return nil, err
	}
	if approverID != t.CreatorID && !st.AuthorizedSubmitter(approverID) {
		return nil, cerr.NewError(cerr.PermissionDenied, "only the task creator or an assignee may reject", nil)
	}

	now := time.Now()
	updated, ok, err := s.steps.UpdateIfStatus(ctx, stepID, StatusWaitingApproval, func(st *Step) {
		st.Status = StatusPending
		st.RejectionCount++
		st.RejectionReason = reason
		st.RejectedAt = &now
		st.StartedAt = nil
		st.CompletedAt = nil
		st.ReviewStartedAt = nil
		for i := range st.Assignees {
			st.Assignees[i].Status = AssigneePending
		}
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.NewError(cerr.Aborted, "step already handled", nil)
	}

	s.reviewLatestSubmission(ctx, stepID, ReviewRejected)
	for _, userID := range assigneeUserIDs(updated) {
		s.bus.PublishNew(eventbus.KindApprovalRejected, eventbus.Event{
			UserID: userID,
			TaskID: t.ID,
			StepID: updated.ID,
			Title:  updated.Title,
			Meta:   map[string]string{"reason": reason},
		})
	}
	// The step is eligible again; re-announce and let the auto-executor retry.
	s.ActivateSteps(ctx, t, []*Step{updated})
	return updated, nil
}

// Appeal lets an assignee push back against a rejection. The step stays
// pending while the appeal is open; only the task creator can resolve it.
func (s *Service) Appeal(ctx context.Context, stepID, workerID, text string) (*Step, error) {
	st, err := s.steps.Get(ctx, stepID)
	if err != nil {
		return nil, err
	}
	t, err := s.tasks.Get(ctx, st.TaskID)
	if err != nil {
		return nil, err
	}
	if !st.AuthorizedSubmitter(workerID) {
		return nil, cerr.NewError(cerr.PermissionDenied, "only an assignee may appeal", nil)
	}
	if st.Status != StatusPending || st.RejectedAt == nil {
		return nil, cerr.NewError(cerr.FailedPrecondition, "only a rejected step can be appealed", nil)
	}
	if st.AppealStatus == AppealPending {
		return nil, cerr.NewError(cerr.FailedPrecondition, "an appeal is already pending", nil)
	}

	now := time.Now()
	updated, ok, err := s.steps.UpdateIfStatus(ctx, stepID, StatusPending, func(st *Step) {
		st.AppealText = text
		st.AppealStatus = AppealPending
		st.AppealNote = ""
		st.AppealedAt = &now
		st.AppealResolvedAt = nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.NewError(cerr.Aborted, "step already handled", nil)
	}

	s.bus.PublishNew(eventbus.KindStepAppealed, eventbus.Event{
		UserID: t.CreatorID,
		TaskID: t.ID,
		StepID: updated.ID,
		Title:  updated.Title,
		Meta:   map[string]string{"appeal": text, "worker": workerID},
	})
	return updated, nil
}

// ResolveAppeal is the creator's ruling on an open appeal. Upholding it puts
// the step back under review as if it had just been submitted; dismissing it
// leaves the step pending and counts as another rejection.
func (s *Service) ResolveAppeal(ctx context.Context, stepID, callerID string, decision AppealStatus, note string) (*Step, error) {
	if decision != AppealUpheld && decision != AppealDismissed {
		return nil, cerr.NewError(cerr.InvalidArgument, "decision must be upheld or dismissed", nil)
	}
	st, err := s.steps.Get(ctx, stepID)
	if err != nil {
		return nil, err
	}
	t, err := s.tasks.Get(ctx, st.TaskID)
	if err != nil {
		return nil, err
	}
	if callerID != t.CreatorID {
		return nil, cerr.NewError(cerr.PermissionDenied, "only the task creator may resolve an appeal", nil)
	}
	if st.AppealStatus != AppealPending {
		return nil, cerr.NewError(cerr.FailedPrecondition, "no appeal is pending", nil)
	}

	now := time.Now()
	updated, ok, err := s.steps.UpdateIfStatus(ctx, stepID, StatusPending, func(st *Step) {
		st.AppealStatus = decision
		st.AppealNote = note
		st.AppealResolvedAt = &now
		if decision == AppealUpheld {
			st.Status = StatusWaitingApproval
			st.ReviewStartedAt = &now
		} else {
			st.RejectionCount++
		}
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.NewError(cerr.Aborted, "step already handled", nil)
	}

	for _, userID := range assigneeUserIDs(updated) {
		s.bus.PublishNew(eventbus.KindAppealResolved, eventbus.Event{
			UserID: userID,
			TaskID: t.ID,
			StepID: updated.ID,
			Title:  updated.Title,
			Meta:   map[string]string{"decision": string(decision), "note": note},
		})
	}
	return updated, nil
}

// Skip is the explicit task-owner override that marks a not-yet-done step
// skipped. A skipped barrier unblocks its downstream the same way done does.
func (s *Service) Skip(ctx context.Context, stepID, callerID, reason string) (*Step, error) {
	st, err := s.steps.Get(ctx, stepID)
	if err != nil {
		return nil, err
	}
	t, err := s.tasks.Get(ctx, st.TaskID)
	if err != nil {
		return nil, err
	}
	if callerID != t.CreatorID {
		return nil, cerr.NewError(cerr.PermissionDenied, "only the task creator may skip a step", nil)
	}
	if st.Status.Resolved() {
		return nil, cerr.NewError(cerr.FailedPrecondition, fmt.Sprintf("step is already %s", st.Status), nil)
	}

	now := time.Now()
	// Conditioning on the status just read keeps this race-safe: a concurrent
	// transition changes the status and fails the check.
	updated, ok, err := s.steps.UpdateIfStatus(ctx, stepID, st.Status, func(st *Step) {
		st.Status = StatusSkipped
		st.SkipReason = reason
		st.CompletedAt = &now
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, cerr.NewError(cerr.Aborted, "step already handled", nil)
	}

	s.bus.PublishNew(eventbus.KindWorkflowChanged, eventbus.Event{
		UserID: t.CreatorID,
		TaskID: t.ID,
		StepID: updated.ID,
		Title:  updated.Title,
	})
	s.afterCompletion(ctx, t, updated)
	return updated, nil
}

// ExecuteDecompose claims a pending decompose step, generates the breakdown
// with the execution capability and submits it in one call.
func (s *Service) ExecuteDecompose(ctx context.Context, stepID, callerID string) (*Step, error) {
	if s.capability == nil || s.decomposer == nil {
		return nil, cerr.NewError(cerr.FailedPrecondition, "execution capability is not configured", nil)
	}
	st, err := s.steps.Get(ctx, stepID)
	if err != nil {
		return nil, err
	}
	if st.Type != TypeDecompose {
		return nil, cerr.NewError(cerr.FailedPrecondition, "step is not a decompose step", nil)
	}
	t, err := s.tasks.Get(ctx, st.TaskID)
	if err != nil {
		return nil, err
	}
	if _, ok, err := s.Claim(ctx, stepID, callerID); err != nil {
		return nil, err
	} else if !ok {
		return nil, cerr.NewError(cerr.Aborted, "step already handled", nil)
	}

	agents, err := s.agents.List(ctx)
	if err != nil {
		agents = nil
	}
	execCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()
	started := time.Now()
	result, err := s.capability.Execute(execCtx, s.decomposer.Prompt(t, agents))
	if err != nil {
		// Left in_progress for human takeover.
		return nil, cerr.NewError(cerr.Unavailable, "decompose generation failed", err)
	}
	return s.Submit(ctx, stepID, callerID, SubmitInput{
		Result:     result,
		DurationMs: time.Since(started).Milliseconds(),
	})
}

func (s *Service) publishCompleted(t *task.Task, st *Step) {
	s.bus.PublishNew(eventbus.KindStepCompleted, eventbus.Event{
		UserID: t.CreatorID,
		TaskID: t.ID,
		StepID: st.ID,
		Title:  st.Title,
	})
}

func (s *Service) reviewLatestSubmission(ctx context.Context, stepID, outcome string) {
	subs, err := s.steps.ListSubmissions(ctx, stepID)
	if err != nil || len(subs) == 0 {
		return
	}
	latest := subs[len(subs)-1]
	latest.ReviewOutcome = outcome
	if err := s.steps.UpdateSubmission(ctx, latest); err != nil {
		slog.WarnContext(ctx, "failed to record review outcome", "step_id", stepID, "error", err)
	}
}

// afterCompletion runs everything a resolved step triggers: decompose
// expansion, the advisory workflow adjuster, downstream scheduling, and the
// task-done check.
func (s *Service) afterCompletion(ctx context.Context, t *task.Task, finished *Step) {
	if finished.Type == TypeDecompose && finished.Status == StatusDone && s.decomposer != nil {
		s.expandDecomposition(ctx, t, finished)
	}

	steps, err := s.steps.ListByTaskID(ctx, t.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list steps after completion", "task_id", t.ID, "error", err)
		return
	}

	if s.adjuster != nil && finished.Type != TypeDecompose {
		if applied := s.adjuster.AdjustAfterCompletion(ctx, t, steps, finished); applied > 0 {
			s.bus.PublishNew(eventbus.KindWorkflowChanged, eventbus.Event{
				UserID: t.CreatorID,
				TaskID: t.ID,
				StepID: finished.ID,
				Title:  finished.Title,
			})
			if steps, err = s.steps.ListByTaskID(ctx, t.ID); err != nil {
				slog.ErrorContext(ctx, "failed to reload steps after adjustment", "task_id", t.ID, "error", err)
				return
			}
		}
	}

	s.ActivateSteps(ctx, t, NextStepsAfterCompletion(steps, finished))
	s.maybeCompleteTask(ctx, t, steps)
}

func (s *Service) expandDecomposition(ctx context.Context, t *task.Task, finished *Step) {
	steps, err := s.steps.ListByTaskID(ctx, t.ID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list steps for expansion", "task_id", t.ID, "error", err)
		return
	}
	newSteps, err := s.decomposer.Expand(ctx, t, finished, steps)
	if err != nil {
		slog.WarnContext(ctx, "decompose expansion failed", "task_id", t.ID, "step_id", finished.ID, "error", err)
		return
	}
	if len(newSteps) == 0 {
		return
	}
	if err := s.steps.CreateMany(ctx, newSteps); err != nil {
		slog.ErrorContext(ctx, "failed to persist expanded steps", "task_id", t.ID, "error", err)
		return
	}
	s.bus.PublishNew(eventbus.KindTaskDecomposed, eventbus.Event{
		UserID: t.CreatorID,
		TaskID: t.ID,
		StepID: finished.ID,
		Title:  t.Title,
		Meta:   map[string]string{"steps": fmt.Sprintf("%d", len(newSteps))},
	})
}

// maybeCompleteTask marks the task done once every step has resolved. The
// summary is generated best-effort from the steps' own summaries.
func (s *Service) maybeCompleteTask(ctx context.Context, t *task.Task, steps []*Step) {
	if t.Status != task.StatusOpen || len(steps) == 0 {
		return
	}
	for _, st := range steps {
		if !st.Status.Resolved() {
			return
		}
	}
	now := time.Now()
	summary := s.taskSummary(ctx, t, steps)
	// Conditional on the open status so two steps resolving concurrently
	// cannot both complete the task.
	fresh, ok, err := s.tasks.UpdateIfStatus(ctx, t.ID, task.StatusOpen, func(t *task.Task) {
		t.Status = task.StatusDone
		t.CompletedAt = &now
		t.Summary = summary
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to complete task", "task_id", t.ID, "error", err)
		return
	}
	if !ok {
		return
	}
	s.bus.PublishNew(eventbus.KindTaskUpdated, eventbus.Event{
		UserID: fresh.CreatorID,
		TaskID: fresh.ID,
		Title:  fresh.Title,
		Meta:   map[string]string{"status": string(task.StatusDone)},
	})
}

func (s *Service) taskSummary(ctx context.Context, t *task.Task, steps []*Step) string {
	var parts []string
	for _, st := range steps {
		if st.Status == StatusDone && st.Summary != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", st.Title, st.Summary))
		}
	}
	joined := strings.Join(parts, "\n")
	if joined == "" {
		return ""
	}
	if s.summarizer != nil {
		if generated, err := s.summarizer.Summarize(ctx, joined); err == nil && generated != "" {
			return generated
		}
	}
	return joined
}

// AssignedStep is one entry of the "what can I do now" query.
type AssignedStep struct {
	*Step
	TaskTitle string `json:"taskTitle"`
	Startable bool   `json:"startable"`
}

// MySteps returns the caller's pending and in_progress steps across open
// tasks, each annotated with whether the scheduler would let it start now.
func (s *Service) MySteps(ctx context.Context, userID string) ([]AssignedStep, error) {
	tasks, err := s.tasks.List(ctx, task.ListFilter{Status: task.StatusOpen})
	if err != nil {
		return nil, err
	}
	var out []AssignedStep
	for _, t := range tasks {
		steps, err := s.steps.ListByTaskID(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		startable := map[string]bool{}
		for _, st := range CurrentlyStartable(steps) {
			startable[st.ID] = true
		}
		for _, st := range steps {
			if st.Status != StatusPending && st.Status != StatusInProgress {
				continue
			}
			if !st.AuthorizedSubmitter(userID) {
				continue
			}
			out = append(out, AssignedStep{Step: st, TaskTitle: t.Title, Startable: startable[st.ID]})
		}
	}
	return out, nil
}
