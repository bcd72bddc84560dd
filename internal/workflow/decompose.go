package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crewline/crewline/internal/agent"
	"github.com/crewline/crewline/internal/step"
	"github.com/crewline/crewline/internal/task"
	"github.com/crewline/crewline/pkg/jsonlist"
)

// Draft is one step spec inside a decompose step's result.
type Draft struct {
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Assignee         string           `json:"assignee"`
	RequiresApproval bool             `json:"requiresApproval"`
	ParallelGroup    *string          `json:"parallelGroup"`
	Inputs           jsonlist.Strings `json:"inputs"`
	Outputs          jsonlist.Strings `json:"outputs"`
	Skills           jsonlist.Strings `json:"skills"`
}

// ParseDrafts extracts the step drafts from a decompose result, tolerating
// markdown fences around the JSON. An unparseable result is an error: unlike
// the adjuster, expansion is not advisory.
func ParseDrafts(result string) ([]Draft, error) {
	var drafts []Draft
	if err := json.Unmarshal([]byte(ExtractJSON(result)), &drafts); err != nil {
		return nil, fmt.Errorf("failed to parse decompose result: %w", err)
	}
	for i, d := range drafts {
		if d.Title == "" {
			return nil, fmt.Errorf("decompose draft %d has no title", i)
		}
	}
	return drafts, nil
}

// Decomposer turns a completed decompose step into new sibling steps.
type Decomposer struct {
	agents agent.Repository
}

func NewDecomposer(agents agent.Repository) *Decomposer {
	return &Decomposer{agents: agents}
}

// Expand parses the finished step's result and builds the new steps appended
// after the task's current maximum order, so expansion can never retroactively
// unblock an already-computed schedule.
func (d *Decomposer) Expand(ctx context.Context, t *task.Task, finished *step.Step, steps []*step.Step) ([]*step.Step, error) {
	drafts, err := ParseDrafts(finished.Result)
	if err != nil {
		return nil, err
	}
	agents, err := d.agents.List(ctx)
	if err != nil {
		agents = nil
	}
	byName := make(map[string]*agent.Agent, len(agents))
	for _, a := range agents {
		byName[strings.ToLower(a.Name)] = a
	}

	now := time.Now()
	order := step.MaxOrder(steps)
	newSteps := make([]*step.Step, 0, len(drafts))
	for _, draft := range drafts {
		order++
		s := &step.Step{
			ID:               ulid.Make().String(),
			TaskID:           t.ID,
			Order:            order,
			ParallelGroup:    draft.ParallelGroup,
			Status:           step.StatusPending,
			Type:             step.TypeTask,
			Title:            draft.Title,
			Description:      draft.Description,
			RequiresApproval: draft.RequiresApproval,
			Inputs:           draft.Inputs,
			Outputs:          draft.Outputs,
			Skills:           draft.Skills,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if ag, ok := byName[strings.ToLower(draft.Assignee)]; ok && draft.Assignee != "" {
			s.AssigneeID = ag.UserID
			s.Assignees = []step.Assignee{{
				UserID: ag.UserID,
				Type:   step.AssigneeAutomated,
				Status: step.AssigneePending,
			}}
		}
		newSteps = append(newSteps, s)
	}
	return newSteps, nil
}

// Prompt builds the generation prompt for a decompose step, advertising the
// workspace agents and their capabilities so work lands on whoever can do it.
func (d *Decomposer) Prompt(t *task.Task, agents []*agent.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Break the task %q into concrete steps.\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "Task description: %s\n", t.Description)
	}
	if len(agents) > 0 {
		b.WriteString("\nAvailable workers:\n")
		for _, a := range agents {
			caps := "general"
			if len(a.Capabilities) > 0 {
				caps = strings.Join(a.Capabilities, ", ")
			}
			fmt.Fprintf(&b, "- %s (%s)\n", a.Name, caps)
		}
	}
	b.WriteString(`
Respond with a JSON array of steps. Each step:
{"title":"...","description":"...","assignee":"worker name or empty","requiresApproval":true|false,"parallelGroup":"label or null","inputs":[],"outputs":[],"skills":[]}
Order the array by execution order. Steps sharing a parallelGroup label run concurrently. Output only the JSON array.
`)
	return b.String()
}
