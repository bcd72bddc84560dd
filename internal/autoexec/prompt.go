package autoexec

import (
	"fmt"
	"strings"

	"github.com/crewline/crewline/internal/step"
	"github.com/crewline/crewline/internal/task"
)

// maxPriorOutputChars caps how much of each prior step's output goes into the
// prompt, so long-running tasks do not blow up the context window.
const maxPriorOutputChars = 2000

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[truncated]"
}

// BuildPrompt assembles the execution prompt from the task, the step and the
// outputs of every earlier step already done. A retry after rejection carries
// the rejection reason with an explicit instruction to address it.
func BuildPrompt(t *task.Task, st *step.Step, priorDone []*step.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are working on the task %q.\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "Task description: %s\n", t.Description)
	}
	fmt.Fprintf(&b, "\nYour current step is %q.\n", st.Title)
	if st.Description != "" {
		fmt.Fprintf(&b, "Step description: %s\n", st.Description)
	}
	if len(st.Inputs) > 0 {
		fmt.Fprintf(&b, "Declared inputs: %s\n", strings.Join(st.Inputs, ", "))
	}
	if len(st.Outputs) > 0 {
		fmt.Fprintf(&b, "Expected outputs: %s\n", strings.Join(st.Outputs, ", "))
	}
	if len(st.Skills) > 0 {
		fmt.Fprintf(&b, "Relevant skills: %s\n", strings.Join(st.Skills, ", "))
	}

	if len(priorDone) > 0 {
		b.WriteString("\nResults of the steps completed so far:\n")
		for _, prior := range priorDone {
			out := prior.Result
			if prior.Summary != "" {
				out = prior.Summary + "\n" + out
			}
			fmt.Fprintf(&b, "\n## %s\n%s\n", prior.Title, truncate(out, maxPriorOutputChars))
		}
	}

	if st.RejectionCount > 0 && st.RejectionReason != "" {
		fmt.Fprintf(&b, "\nA previous attempt at this step was rejected with the reason: %q.\n", st.RejectionReason)
		if st.Result != "" {
			fmt.Fprintf(&b, "The rejected result was:\n%s\n", truncate(st.Result, maxPriorOutputChars))
		}
		b.WriteString("Address the rejection reason explicitly in your new result.\n")
	}

	b.WriteString("\nProduce the step's result now. Respond with the result content only.\n")
	return b.String()
}
