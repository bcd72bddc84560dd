package llm

import (
	"context"
	"fmt"
	"strings"
)

// minSummarizableChars skips summarization for results short enough to read
// directly.
const minSummarizableChars = 200

// Summarizer condenses result texts with a fast model. Every failure mode is
// a normal empty outcome; a summary is never worth failing an operation over.
type Summarizer struct {
	capability Capability
}

func NewSummarizer(capability Capability) *Summarizer {
	return &Summarizer{capability: capability}
}

func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	if s.capability == nil || len(text) < minSummarizableChars {
		return "", nil
	}
	prompt := fmt.Sprintf(
		"Summarize the following work result in 1-2 plain sentences. Output only the summary.\n\n%s",
		text,
	)
	summary, err := s.capability.Execute(ctx, prompt)
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(summary), nil
}
