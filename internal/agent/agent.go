// Package agent defines the interface for invoking AI agents and
// provides concrete adapters for CLI-based and API-based invocation.
// The orchestrator treats the agent as opaque: it hands over a prompt
// and later inspects only the working tree and commit history.
package agent

import (
	"context"
	"fmt"

	"github.com/imkarma/swarm/internal/config"
)

// Request contains everything an agent needs for one invocation.
type Request struct {
	Prompt     string // The full composed prompt
	WorkDir    string // Working directory (the loop's worktree)
	TimeoutSec int    // Max execution time
	Cheap      bool   // Use the cheap execution profile
}

// Response is what we get back from an agent.
type Response struct {
	Output   string  // Agent's text output
	ExitCode int     // 0 = success, non-zero = failure
	Duration float64 // Execution time in seconds
	Error    error   // Any execution error
}

// Runner is the interface that all agent adapters implement.
type Runner interface {
	// Run executes the agent with the given request and returns the response.
	Run(ctx context.Context, req Request) (*Response, error)

	// Name returns a label for log messages.
	Name() string
}

// NewRunner creates the appropriate runner based on agent config.
func NewRunner(name string, cfg config.Agent) (Runner, error) {
	switch cfg.Mode {
	case "cli":
		return NewCLIRunner(name, cfg), nil
	case "api":
		return NewAPIRunner(name, cfg)
	default:
		return nil, fmt.Errorf("unknown agent mode: %s", cfg.Mode)
	}
}
