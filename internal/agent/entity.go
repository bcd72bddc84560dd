package agent

import "time"

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusWorking Status = "working"
)

// Agent is the automated-worker identity behind a user account. A step whose
// assignee has a registered Agent is eligible for auto-execution.
type Agent struct {
	ID           string    `yaml:"id" json:"id"`
	UserID       string    `yaml:"user_id" json:"userId"`
	Name         string    `yaml:"name" json:"name"`
	Emoji        string    `yaml:"emoji" json:"emoji"`
	Status       Status    `yaml:"status" json:"status"`
	Capabilities []string  `yaml:"capabilities" json:"capabilities"`
	IsMain       bool      `yaml:"is_main" json:"isMain"`
	CreatedAt    time.Time `yaml:"created_at" json:"createdAt"`
}
