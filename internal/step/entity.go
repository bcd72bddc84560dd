package step

import "time"

type Status string

const (
	StatusPending         Status = "pending"
	StatusInProgress      Status = "in_progress"
	StatusWaitingApproval Status = "waiting_approval"
	StatusDone            Status = "done"
	StatusSkipped         Status = "skipped"
)

// Resolved reports whether the status no longer blocks downstream steps.
func (s Status) Resolved() bool {
	return s == StatusDone || s == StatusSkipped
}

type Type string

const (
	TypeTask      Type = "task"
	TypeDecompose Type = "decompose"
	TypeMeeting   Type = "meeting"
)

type CompletionMode string

const (
	// CompletionAny completes the step on the first submission.
	CompletionAny CompletionMode = "any"
	// CompletionAll waits until every assignee has submitted.
	CompletionAll CompletionMode = "all"
)

// AppealStatus tracks a worker's push-back against a rejection. Empty means
// no appeal was ever filed.
type AppealStatus string

const (
	AppealPending   AppealStatus = "pending"
	AppealUpheld    AppealStatus = "upheld"
	AppealDismissed AppealStatus = "dismissed"
)

type AssigneeType string

const (
	AssigneeHuman     AssigneeType = "human"
	AssigneeAutomated AssigneeType = "agent"
)

type AssigneeStatus string

const (
	AssigneePending    AssigneeStatus = "pending"
	AssigneeInProgress AssigneeStatus = "in_progress"
	AssigneeSubmitted  AssigneeStatus = "submitted"
	AssigneeDone       AssigneeStatus = "done"
)

// Assignee is one worker's slice of a step. Assignee rows are embedded in the
// step record so a step update and its assignee updates land in one write.
type Assignee struct {
	UserID string         `yaml:"user_id" json:"userId"`
	Type   AssigneeType   `yaml:"type,omitempty" json:"type,omitempty"`
	Status AssigneeStatus `yaml:"status" json:"status"`
	Result string         `yaml:"result,omitempty" json:"result,omitempty"`
}

// Step is one unit of work within a task's ordered workflow. Order defines
// the sequential axis; steps sharing a non-empty ParallelGroup may run
// concurrently with each other, while a step with no group is a barrier that
// nothing after it may pass until it resolves.
type Step struct {
	ID               string         `yaml:"id" json:"id"`
	TaskID           string         `yaml:"task_id" json:"taskId"`
	Order            int            `yaml:"order" json:"order"`
	ParallelGroup    *string        `yaml:"parallel_group,omitempty" json:"parallelGroup,omitempty"`
	Status           Status         `yaml:"status" json:"status"`
	Type             Type           `yaml:"type" json:"type"`
	Title            string         `yaml:"title" json:"title"`
	Description      string         `yaml:"description,omitempty" json:"description,omitempty"`
	AssigneeID       string         `yaml:"assignee_id,omitempty" json:"assigneeId,omitempty"`
	Assignees        []Assignee     `yaml:"assignees,omitempty" json:"assignees,omitempty"`
	RequiresApproval bool           `yaml:"requires_approval" json:"requiresApproval"`
	CompletionMode   CompletionMode `yaml:"completion_mode,omitempty" json:"completionMode,omitempty"`
	Inputs           []string       `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs          []string       `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Skills           []string       `yaml:"skills,omitempty" json:"skills,omitempty"`
	Result           string         `yaml:"result,omitempty" json:"result,omitempty"`
	Summary          string         `yaml:"summary,omitempty" json:"summary,omitempty"`
	RejectionCount   int            `yaml:"rejection_count" json:"rejectionCount"`
	RejectionReason  string         `yaml:"rejection_reason,omitempty" json:"rejectionReason,omitempty"`
	SkipReason       string         `yaml:"skip_reason,omitempty" json:"skipReason,omitempty"`
	AppealText       string         `yaml:"appeal_text,omitempty" json:"appealText,omitempty"`
	AppealStatus     AppealStatus   `yaml:"appeal_status,omitempty" json:"appealStatus,omitempty"`
	AppealNote       string         `yaml:"appeal_note,omitempty" json:"appealNote,omitempty"`
	AppealedAt       *time.Time     `yaml:"appealed_at,omitempty" json:"appealedAt,omitempty"`
	AppealResolvedAt *time.Time     `yaml:"appeal_resolved_at,omitempty" json:"appealResolvedAt,omitempty"`
	ApprovedBy       string         `yaml:"approved_by,omitempty" json:"approvedBy,omitempty"`
	AgentDurationMs  int64          `yaml:"agent_duration_ms,omitempty" json:"agentDurationMs,omitempty"`
	HumanDurationMs  int64          `yaml:"human_duration_ms,omitempty" json:"humanDurationMs,omitempty"`
	StartedAt        *time.Time     `yaml:"started_at,omitempty" json:"startedAt,omitempty"`
	CompletedAt      *time.Time     `yaml:"completed_at,omitempty" json:"completedAt,omitempty"`
	ReviewStartedAt  *time.Time     `yaml:"review_started_at,omitempty" json:"reviewStartedAt,omitempty"`
	ApprovedAt       *time.Time     `yaml:"approved_at,omitempty" json:"approvedAt,omitempty"`
	RejectedAt       *time.Time     `yaml:"rejected_at,omitempty" json:"rejectedAt,omitempty"`
	CreatedAt        time.Time      `yaml:"created_at" json:"createdAt"`
	UpdatedAt        time.Time      `yaml:"updated_at" json:"updatedAt"`
}

// AssigneeFor returns the embedded assignee row for a user, or nil.
func (s *Step) AssigneeFor(userID string) *Assignee {
	for i := range s.Assignees {
		if s.Assignees[i].UserID == userID {
			return &s.Assignees[i]
		}
	}
	return nil
}

// AuthorizedSubmitter reports whether a user may submit work for this step:
// the primary assignee or any embedded assignee row.
func (s *Step) AuthorizedSubmitter(userID string) bool {
	if s.AssigneeID == userID {
		return true
	}
	return s.AssigneeFor(userID) != nil
}

// Submission is the append-only record of one worker's attempt at a step.
// Rejections never delete submissions; the step's rejection counter and the
// submission review outcome carry the history.
type Submission struct {
	ID            string    `yaml:"id" json:"id"`
	StepID        string    `yaml:"step_id" json:"stepId"`
	SubmitterID   string    `yaml:"submitter_id" json:"submitterId"`
	Result        string    `yaml:"result" json:"result"`
	Summary       string    `yaml:"summary,omitempty" json:"summary,omitempty"`
	DurationMs    int64     `yaml:"duration_ms,omitempty" json:"durationMs,omitempty"`
	ReviewOutcome string    `yaml:"review_outcome,omitempty" json:"reviewOutcome,omitempty"`
	CreatedAt     time.Time `yaml:"created_at" json:"createdAt"`
}

const (
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)
