// Package workflow mutates the remaining step graph at runtime: the advisory
// adjuster reacting to completed steps, and the expansion of decompose steps
// into concrete work.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/crewline/crewline/internal/step"
	"github.com/crewline/crewline/internal/task"
)

// Adjustment is one graph mutation proposed by the inspection.
type Adjustment struct {
	Type         string `json:"type"`
	AnchorOrder  int    `json:"anchorOrder,omitempty"`
	TargetStepID string `json:"targetStepId,omitempty"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

const (
	AdjustInsert = "insert_step"
	AdjustModify = "modify_step"
	AdjustSkip   = "skip_step"
)

// Adjuster inspects a just-completed step and may rewrite the not-yet-started
// remainder of its task. It is advisory and fail-open: any inability to
// produce a decision is a silent "no adjustments", never an error that blocks
// scheduling.
type Adjuster struct {
	capability step.Capability
	steps      step.Repository
	timeout    time.Duration
}

func NewAdjuster(capability step.Capability, steps step.Repository, timeout time.Duration) *Adjuster {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Adjuster{capability: capability, steps: steps, timeout: timeout}
}

// AdjustAfterCompletion runs Check then Apply and reports how many
// adjustments were applied.
func (a *Adjuster) AdjustAfterCompletion(ctx context.Context, t *task.Task, steps []*step.Step, finished *step.Step) int {
	adjustments, ok := a.Check(ctx, t, steps, finished)
	if !ok {
		return 0
	}
	return a.Apply(ctx, t, steps, adjustments)
}

// Check asks the capability whether the finished step's actual result still
// matches the plan. ok=false covers every non-answer: no capability, nothing
// downstream to adjust, transport failure, malformed response.
func (a *Adjuster) Check(ctx context.Context, t *task.Task, steps []*step.Step, finished *step.Step) ([]Adjustment, bool) {
	if a.capability == nil {
		return nil, false
	}
	downstream := notYetStarted(steps, finished.Order)
	if len(downstream) == 0 {
		return nil, false
	}

	checkCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	raw, err := a.capability.Execute(checkCtx, a.checkPrompt(t, finished, downstream))
	if err != nil {
		slog.DebugContext(ctx, "workflow check unavailable", "task_id", t.ID, "error", err)
		return nil, false
	}

	var adjustments []Adjustment
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &adjustments); err != nil {
		slog.DebugContext(ctx, "workflow check returned malformed adjustments", "task_id", t.ID, "error", err)
		return nil, false
	}
	return adjustments, true
}

// Apply executes the adjustments one by one. Each is transactional on its
// own; a failing adjustment is logged and skipped without undoing the ones
// already applied.
func (a *Adjuster) Apply(ctx context.Context, t *task.Task, steps []*step.Step, adjustments []Adjustment) int {
	applied := 0
	for _, adj := range adjustments {
		var err error
		switch adj.Type {
		case AdjustInsert:
			err = a.applyInsert(ctx, t, steps, adj)
		case AdjustModify:
			err = a.applyModify(ctx, steps, adj)
		case AdjustSkip:
			err = a.applySkip(ctx, steps, adj)
		default:
			err = fmt.Errorf("unknown adjustment type %q", adj.Type)
		}
		if err != nil {
			slog.WarnContext(ctx, "adjustment not applied", "task_id", t.ID, "type", adj.Type, "error", err)
			continue
		}
		applied++
	}
	return applied
}

func (a *Adjuster) applyInsert(ctx context.Context, t *task.Task, steps []*step.Step, adj Adjustment) error {
	if adj.Title == "" {
		return fmt.Errorf("insert without a title")
	}
	anchor := adj.AnchorOrder
	if anchor <= 0 {
		anchor = step.MaxOrder(steps)
	}
	now := time.Now()
	return a.steps.InsertRenumbered(ctx, t.ID, anchor, &step.Step{
		ID:          ulid.Make().String(),
		TaskID:      t.ID,
		Status:      step.StatusPending,
		Type:        step.TypeTask,
		Title:       adj.Title,
		Description: adj.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func (a *Adjuster) applyModify(ctx context.Context, steps []*step.Step, adj Adjustment) error {
	target := findStep(steps, adj.TargetStepID)
	if target == nil {
		return fmt.Errorf("target step %q not found", adj.TargetStepID)
	}
	// Only a not-yet-started step may be rewritten.
	_, ok, err := a.steps.UpdateIfStatus(ctx, target.ID, step.StatusPending, func(s *step.Step) {
		if adj.Title != "" {
			s.Title = adj.Title
		}
		if adj.Description != "" {
			s.Description = adj.Description
		}
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("step %q already started", target.ID)
	}
	return nil
}

func (a *Adjuster) applySkip(ctx context.Context, steps []*step.Step, adj Adjustment) error {
	target := findStep(steps, adj.TargetStepID)
	if target == nil {
		return fmt.Errorf("target step %q not found", adj.TargetStepID)
	}
	now := time.Now()
	_, ok, err := a.steps.UpdateIfStatus(ctx, target.ID, step.StatusPending, func(s *step.Step) {
		s.Status = step.StatusSkipped
		s.SkipReason = adj.Reason
		s.CompletedAt = &now
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("step %q already started", target.ID)
	}
	return nil
}

func (a *Adjuster) checkPrompt(t *task.Task, finished *step.Step, downstream []*step.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A step of the task %q just completed.\n", t.Title)
	fmt.Fprintf(&b, "Step: %q\n", finished.Title)
	if len(finished.Outputs) > 0 {
		fmt.Fprintf(&b, "Expected outputs: %s\n", strings.Join(finished.Outputs, ", "))
	}
	fmt.Fprintf(&b, "Actual result:\n%s\n", finished.Result)
	b.WriteString("\nRemaining not-yet-started steps:\n")
	for _, s := range downstream {
		fmt.Fprintf(&b, "- id=%s order=%d title=%q\n", s.ID, s.Order, s.Title)
	}
	b.WriteString(`
Does the actual result change what should happen next? Respond with a JSON array of adjustments (empty array if the plan still holds). Each adjustment is one of:
{"type":"insert_step","anchorOrder":N,"title":"...","description":"..."}
{"type":"modify_step","targetStepId":"...","title":"...","description":"..."}
{"type":"skip_step","targetStepId":"...","reason":"..."}
Output only the JSON array.
`)
	return b.String()
}

func notYetStarted(steps []*step.Step, afterOrder int) []*step.Step {
	var out []*step.Step
	for _, s := range steps {
		if s.Order > afterOrder && s.Status == step.StatusPending {
			out = append(out, s)
		}
	}
	return out
}

func findStep(steps []*step.Step, id string) *step.Step {
	for _, s := range steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// ExtractJSON strips markdown code fences and surrounding prose from a model
// response, keeping the outermost JSON array or object.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return s
	}
	var closer byte = ']'
	if s[start] == '{' {
		closer = '}'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return s[start:]
	}
	return s[start : end+1]
}
