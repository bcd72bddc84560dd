// Package llm provides the execution capability behind automatic step
// execution: an OpenAI-compatible chat backend and a Claude Code backend.
package llm

import (
	"context"
	"fmt"

	"github.com/crewline/crewline/internal/config"
)

// Capability executes one prompt and returns the generated text. It is slow
// and unreliable; callers bound it with a context timeout and decide their
// own failure policy.
type Capability interface {
	Execute(ctx context.Context, prompt string) (string, error)
}

// New builds the configured capability, or nil when the backend has no
// credentials so auto-execution degrades to a no-op.
func New(env *config.ExecutorEnv) (Capability, error) {
	switch env.Backend {
	case "openai":
		if env.OpenAIAPIKey == "" {
			return nil, nil
		}
		return NewOpenAI(env.OpenAIBaseURL, env.OpenAIAPIKey, env.ExecutionModel), nil
	case "claude":
		return NewClaude(env.ClaudeWorkDir), nil
	default:
		return nil, fmt.Errorf("unknown executor backend %q", env.Backend)
	}
}
