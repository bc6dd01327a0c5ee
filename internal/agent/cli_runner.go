package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/imkarma/swarm/internal/config"
)

// CLIRunner spawns an external CLI process (claude, gemini, codex, etc.)
// and passes the prompt as the final argument.
type CLIRunner struct {
	name string
	cfg  config.Agent
}

// NewCLIRunner creates a runner that spawns CLI processes.
func NewCLIRunner(name string, cfg config.Agent) *CLIRunner {
	return &CLIRunner{name: name, cfg: cfg}
}

func (r *CLIRunner) Name() string { return r.name }

// Run spawns the CLI agent process with the prompt.
//
// The request's Cheap flag selects between the default and cheap
// argument profiles. The agent runs in the loop's worktree so it has
// access to the project files and its commits land on the loop branch.
func (r *CLIRunner) Run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	args := r.cfg.ProfileArgs(req.Cheap)
	args = append(args, req.Prompt)

	timeout := time.Duration(r.cfg.DefaultTimeout()) * time.Second
	if req.TimeoutSec > 0 {
		timeout = time.Duration(req.TimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.Cmd, args...)
	cmd.Dir = req.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	resp := &Response{
		Output:   stdout.String(),
		Duration: time.Since(start).Seconds(),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			resp.Error = fmt.Errorf("agent %s timed out after %ds", r.name, int(timeout.Seconds()))
			resp.ExitCode = -1
			return resp, resp.Error
		}

		if exitErr, ok := err.(*exec.ExitError); ok {
			resp.ExitCode = exitErr.ExitCode()
		} else {
			resp.ExitCode = -1
		}

		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			resp.Error = fmt.Errorf("agent %s exited with code %d: %s", r.name, resp.ExitCode, stderrStr)
		} else {
			resp.Error = fmt.Errorf("agent %s exited with code %d: %w", r.name, resp.ExitCode, err)
		}

		// Still return the response — partial output may be useful.
		return resp, nil
	}

	resp.ExitCode = 0
	return resp, nil
}

// CLIAvailable checks if the CLI command exists in PATH.
func CLIAvailable(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}
