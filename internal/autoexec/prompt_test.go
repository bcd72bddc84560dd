package autoexec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crewline/crewline/internal/step"
	"github.com/crewline/crewline/internal/task"
)

func TestBuildPromptIncludesStepAndTaskContext(t *testing.T) {
	tk := &task.Task{Title: "launch checklist", Description: "prepare the release"}
	st := &step.Step{
		Title:       "write release notes",
		Description: "cover every user-facing change",
		Inputs:      []string{"changelog"},
		Outputs:     []string{"notes.md"},
		Skills:      []string{"writing"},
	}
	prompt := BuildPrompt(tk, st, nil)

	assert.Contains(t, prompt, "launch checklist")
	assert.Contains(t, prompt, "prepare the release")
	assert.Contains(t, prompt, "write release notes")
	assert.Contains(t, prompt, "changelog")
	assert.Contains(t, prompt, "notes.md")
	assert.Contains(t, prompt, "writing")
	assert.NotContains(t, prompt, "rejected")
}

func TestBuildPromptTruncatesPriorOutputs(t *testing.T) {
	long := strings.Repeat("x", maxPriorOutputChars+500)
	prior := []*step.Step{
		{Title: "research", Result: long, Status: step.StatusDone},
	}
	prompt := BuildPrompt(&task.Task{Title: "t"}, &step.Step{Title: "s"}, prior)

	assert.Contains(t, prompt, "[truncated]")
	assert.NotContains(t, prompt, long)
	assert.Contains(t, prompt, long[:maxPriorOutputChars])
}

func TestBuildPromptCarriesRejectionReason(t *testing.T) {
	st := &step.Step{
		Title:           "implement feature",
		RejectionCount:  1,
		RejectionReason: "tests are missing",
		Result:          "previous attempt",
	}
	prompt := BuildPrompt(&task.Task{Title: "t"}, st, nil)

	assert.Contains(t, prompt, "tests are missing")
	assert.Contains(t, prompt, "previous attempt")
	assert.Contains(t, prompt, "Address the rejection reason")
}
