package step

import "sort"

// sortByOrder returns a copy of steps sorted by order ascending. Ties keep
// their input order.
func sortByOrder(steps []*Step) []*Step {
	sorted := make([]*Step, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})
	return sorted
}

// StartableSteps computes which of the given steps may start now. The steps
// are considered in order: a leading step with no parallel group is a barrier
// and is the only startable step; otherwise every leading step carrying a
// parallel group label is startable, up to but not including the first
// barrier. Distinct group labels at the leading position all start together;
// nothing past an unresolved barrier is ever returned.
func StartableSteps(steps []*Step) []*Step {
	if len(steps) == 0 {
		return nil
	}
	sorted := sortByOrder(steps)
	if sorted[0].ParallelGroup == nil {
		return sorted[:1]
	}
	var startable []*Step
	for _, s := range sorted {
		if s.ParallelGroup == nil {
			break
		}
		startable = append(startable, s)
	}
	return startable
}

// NextStepsAfterCompletion computes which steps become startable once
// finished resolves. For a barrier step the startable set is recomputed over
// the pending steps after it. For a grouped step nothing unblocks until every
// sibling sharing the label has resolved; then the recomputation starts after
// the group's highest order.
func NextStepsAfterCompletion(steps []*Step, finished *Step) []*Step {
	horizon := finished.Order
	if finished.ParallelGroup != nil {
		group := *finished.ParallelGroup
		for _, s := range steps {
			if s.ParallelGroup == nil || *s.ParallelGroup != group {
				continue
			}
			if s.ID != finished.ID && !s.Status.Resolved() {
				return nil
			}
			if s.Order > horizon {
				horizon = s.Order
			}
		}
	}
	var candidates []*Step
	for _, s := range steps {
		if s.Order > horizon && s.Status == StatusPending {
			candidates = append(candidates, s)
		}
	}
	return StartableSteps(candidates)
}

// CurrentlyStartable filters a task's full step list down to the pending
// steps that may start right now: the leading run of unresolved steps,
// intersected with status pending. Used by the "what can I do now" query.
func CurrentlyStartable(steps []*Step) []*Step {
	var unresolved []*Step
	for _, s := range steps {
		if !s.Status.Resolved() {
			unresolved = append(unresolved, s)
		}
	}
	var startable []*Step
	for _, s := range StartableSteps(unresolved) {
		if s.Status == StatusPending {
			startable = append(startable, s)
		}
	}
	return startable
}

// MaxOrder returns the highest order among steps, or 0 for an empty list.
// Decompose expansion and adjuster insertion always append after this, so a
// new step can never retroactively unblock anything.
func MaxOrder(steps []*Step) int {
	max := 0
	for _, s := range steps {
		if s.Order > max {
			max = s.Order
		}
	}
	return max
}
