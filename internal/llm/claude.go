package llm

import (
	"context"
	"fmt"
	"strings"

	claudeagent "github.com/kazz187/claude-agent-sdk-go"
)

// Claude runs prompts through the local Claude Code CLI. Each Execute is a
// single independent turn in the configured working directory.
type Claude struct {
	workDir string
}

func NewClaude(workDir string) *Claude {
	if workDir == "" {
		workDir = "."
	}
	return &Claude{workDir: workDir}
}

func (c *Claude) Execute(ctx context.Context, prompt string) (string, error) {
	maxTurns := 1
	opts := &claudeagent.ClaudeAgentOptions{
		SystemPrompt: "You are an autonomous worker completing one workflow step. Respond with the step's result content only.",
		Cwd:          c.workDir,
		MaxTurns:     &maxTurns,
	}
	result, err := claudeagent.RunQuerySync(ctx, prompt, opts)
	if err != nil {
		return "", fmt.Errorf("claude query failed: %w", err)
	}
	if result.Result == nil {
		return "", fmt.Errorf("claude query returned no result")
	}
	return strings.TrimSpace(result.Result.Result), nil
}
