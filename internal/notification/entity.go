package notification

import "time"

// Notification is a persisted bell item, unlike the live event stream which
// is fire-and-forget.
type Notification struct {
	ID        string    `yaml:"id" json:"id"`
	UserID    string    `yaml:"user_id" json:"userId"`
	Kind      string    `yaml:"kind" json:"kind"`
	Title     string    `yaml:"title" json:"title"`
	Body      string    `yaml:"body,omitempty" json:"body,omitempty"`
	TaskID    string    `yaml:"task_id,omitempty" json:"taskId,omitempty"`
	StepID    string    `yaml:"step_id,omitempty" json:"stepId,omitempty"`
	Read      bool      `yaml:"read" json:"read"`
	CreatedAt time.Time `yaml:"created_at" json:"createdAt"`
}
