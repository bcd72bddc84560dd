package step

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func group(label string) *string {
	return &label
}

func mkStep(id string, order int, parallelGroup *string, status Status) *Step {
	return &Step{
		ID:            id,
		TaskID:        "task",
		Order:         order,
		ParallelGroup: parallelGroup,
		Status:        status,
		Type:          TypeTask,
		Title:         id,
	}
}

func ids(steps []*Step) []string {
	var out []string
	for _, s := range steps {
		out = append(out, s.ID)
	}
	return out
}

func TestStartableSteps(t *testing.T) {
	t.Run("empty list", func(t *testing.T) {
		assert.Empty(t, StartableSteps(nil))
	})

	t.Run("leading barrier starts alone", func(t *testing.T) {
		steps := []*Step{
			mkStep("s1", 1, nil, StatusPending),
			mkStep("s2", 2, group("A"), StatusPending),
			mkStep("s3", 3, group("A"), StatusPending),
		}
		assert.Equal(t, []string{"s1"}, ids(StartableSteps(steps)))
	})

	t.Run("leading grouped run starts together", func(t *testing.T) {
		steps := []*Step{
			mkStep("s1", 1, group("A"), StatusPending),
			mkStep("s2", 2, group("A"), StatusPending),
			mkStep("s3", 3, nil, StatusPending),
			mkStep("s4", 4, group("B"), StatusPending),
		}
		assert.Equal(t, []string{"s1", "s2"}, ids(StartableSteps(steps)))
	})

	t.Run("distinct leading groups start together", func(t *testing.T) {
		steps := []*Step{
			mkStep("s1", 1, group("A"), StatusPending),
			mkStep("s2", 2, group("B"), StatusPending),
			mkStep("s3", 3, nil, StatusPending),
		}
		assert.Equal(t, []string{"s1", "s2"}, ids(StartableSteps(steps)))
	})

	t.Run("input order does not matter", func(t *testing.T) {
		steps := []*Step{
			mkStep("s3", 3, nil, StatusPending),
			mkStep("s1", 1, group("A"), StatusPending),
			mkStep("s2", 2, group("A"), StatusPending),
		}
		assert.Equal(t, []string{"s1", "s2"}, ids(StartableSteps(steps)))
	})
}

func TestNextStepsAfterCompletion(t *testing.T) {
	// The canonical workflow: a barrier, a two-member parallel group, then a
	// final barrier.
	build := func() []*Step {
		return []*Step{
			mkStep("s1", 1, nil, StatusDone),
			mkStep("s2", 2, group("A"), StatusPending),
			mkStep("s3", 3, group("A"), StatusPending),
			mkStep("s4", 4, nil, StatusPending),
		}
	}

	t.Run("barrier completion unblocks the group", func(t *testing.T) {
		steps := build()
		assert.Equal(t, []string{"s2", "s3"}, ids(NextStepsAfterCompletion(steps, steps[0])))
	})

	t.Run("half-finished group unblocks nothing", func(t *testing.T) {
		steps := build()
		steps[1].Status = StatusDone
		assert.Empty(t, NextStepsAfterCompletion(steps, steps[1]))
	})

	t.Run("last group member unblocks past the group", func(t *testing.T) {
		steps := build()
		steps[1].Status = StatusDone
		steps[2].Status = StatusDone
		assert.Equal(t, []string{"s4"}, ids(NextStepsAfterCompletion(steps, steps[2])))
	})

	t.Run("skipped sibling counts as resolved", func(t *testing.T) {
		steps := build()
		steps[1].Status = StatusSkipped
		steps[2].Status = StatusDone
		assert.Equal(t, []string{"s4"}, ids(NextStepsAfterCompletion(steps, steps[2])))
	})

	t.Run("single-member group behaves like a normal step", func(t *testing.T) {
		steps := []*Step{
			mkStep("s1", 1, group("A"), StatusDone),
			mkStep("s2", 2, nil, StatusPending),
		}
		assert.Equal(t, []string{"s2"}, ids(NextStepsAfterCompletion(steps, steps[0])))
	})

	t.Run("already started downstream steps are not re-activated", func(t *testing.T) {
		steps := build()
		steps[1].Status = StatusDone
		steps[2].Status = StatusDone
		steps[3].Status = StatusInProgress
		assert.Empty(t, NextStepsAfterCompletion(steps, steps[2]))
	})
}

func TestCurrentlyStartable(t *testing.T) {
	steps := []*Step{
		mkStep("s1", 1, nil, StatusDone),
		mkStep("s2", 2, group("A"), StatusPending),
		mkStep("s3", 3, group("A"), StatusInProgress),
		mkStep("s4", 4, nil, StatusPending),
	}
	// s2 is startable, s3 is already running, s4 waits behind the group.
	assert.Equal(t, []string{"s2"}, ids(CurrentlyStartable(steps)))
}

// genSteps draws a random workflow: orders 1..n, each step either a barrier
// or a member of a small set of group labels, with a random status.
func genSteps(t *rapid.T) []*Step {
	n := rapid.IntRange(0, 12).Draw(t, "n")
	statuses := []Status{StatusPending, StatusInProgress, StatusWaitingApproval, StatusDone, StatusSkipped}
	steps := make([]*Step, 0, n)
	for i := 0; i < n; i++ {
		var pg *string
		if rapid.Bool().Draw(t, fmt.Sprintf("grouped%d", i)) {
			pg = group(rapid.SampledFrom([]string{"A", "B", "C"}).Draw(t, fmt.Sprintf("label%d", i)))
		}
		status := rapid.SampledFrom(statuses).Draw(t, fmt.Sprintf("status%d", i))
		steps = append(steps, mkStep(fmt.Sprintf("s%d", i), i+1, pg, status))
	}
	return steps
}

func TestStartableSteps_NeverPassesABarrier(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		steps := genSteps(t)
		firstBarrier := -1
		for _, s := range sortByOrder(steps) {
			if s.ParallelGroup == nil {
				firstBarrier = s.Order
				break
			}
		}
		for _, s := range StartableSteps(steps) {
			if firstBarrier >= 0 && s.Order > firstBarrier {
				t.Fatalf("step %s (order %d) returned past barrier at order %d", s.ID, s.Order, firstBarrier)
			}
		}
	})
}

func TestNextStepsAfterCompletion_GroupBarrierProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		steps := genSteps(t)
		var grouped []*Step
		for _, s := range steps {
			if s.ParallelGroup != nil {
				grouped = append(grouped, s)
			}
		}
		if len(grouped) == 0 {
			t.Skip("no grouped steps drawn")
		}
		finished := rapid.SampledFrom(grouped).Draw(t, "finished")

		next := NextStepsAfterCompletion(steps, finished)
		if len(next) == 0 {
			return
		}
		// Non-empty result requires every sibling in the group resolved.
		for _, s := range steps {
			if s.ID == finished.ID || s.ParallelGroup == nil || *s.ParallelGroup != *finished.ParallelGroup {
				continue
			}
			require.True(t, s.Status.Resolved(),
				"unblocked while sibling %s is still %s", s.ID, s.Status)
		}
	})
}

func TestNextStepsAfterCompletion_OnlyPendingReturned(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		steps := genSteps(t)
		if len(steps) == 0 {
			t.Skip("empty workflow drawn")
		}
		finished := rapid.SampledFrom(steps).Draw(t, "finished")
		for _, s := range NextStepsAfterCompletion(steps, finished) {
			require.Equal(t, StatusPending, s.Status)
			require.Greater(t, s.Order, finished.Order)
		}
	})
}

func TestMaxOrder(t *testing.T) {
	assert.Equal(t, 0, MaxOrder(nil))
	steps := []*Step{
		mkStep("s1", 3, nil, StatusPending),
		mkStep("s2", 7, nil, StatusPending),
		mkStep("s3", 5, nil, StatusPending),
	}
	assert.Equal(t, 7, MaxOrder(steps))
}
