package task

import "time"

type Mode string

const (
	ModeSolo Mode = "solo"
	ModeTeam Mode = "team"
)

type Status string

const (
	StatusOpen Status = "open"
	StatusDone Status = "done"
)

// Task owns an ordered collection of steps. It transitions to done when every
// owned step is done or skipped.
type Task struct {
	ID          string     `yaml:"id" json:"id"`
	WorkspaceID string     `yaml:"workspace_id" json:"workspaceId"`
	CreatorID   string     `yaml:"creator_id" json:"creatorId"`
	Title       string     `yaml:"title" json:"title"`
	Description string     `yaml:"description" json:"description"`
	Mode        Mode       `yaml:"mode" json:"mode"`
	Status      Status     `yaml:"status" json:"status"`
	Summary     string     `yaml:"summary,omitempty" json:"summary,omitempty"`
	CreatedAt   time.Time  `yaml:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `yaml:"updated_at" json:"updatedAt"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty" json:"completedAt,omitempty"`
}
