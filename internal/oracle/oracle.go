// Package oracle runs the external quality pipeline (format, types,
// lint, tests) and reduces its output to pass/fail plus a structured
// report extracted from the diagnostic log.
package oracle

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/imkarma/swarm/internal/config"
)

// Result is the outcome of one oracle invocation.
type Result struct {
	Passed   bool
	Output   string // combined stdout+stderr diagnostic log
	Duration float64
	TimedOut bool
}

// Oracle invokes the configured validation commands in one workspace.
type Oracle struct {
	cfg     config.Validate
	workDir string
}

// New creates an oracle bound to a workspace.
func New(cfg config.Validate, workDir string) *Oracle {
	return &Oracle{cfg: cfg, workDir: workDir}
}

// Run executes the full validation pipeline.
func (o *Oracle) Run(ctx context.Context) *Result {
	return o.invoke(ctx, o.cfg.Cmd, o.cfg.Args)
}

// RunPartial executes the faster partial pipeline, falling back to the
// full pipeline when no partial command is configured.
func (o *Oracle) RunPartial(ctx context.Context) *Result {
	if o.cfg.PartialCmd == "" {
		return o.Run(ctx)
	}
	return o.invoke(ctx, o.cfg.PartialCmd, o.cfg.PartialArgs)
}

func (o *Oracle) invoke(ctx context.Context, name string, args []string) *Result {
	start := time.Now()

	timeout := time.Duration(o.cfg.DefaultTimeout()) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = o.workDir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()

	res := &Result{
		Output:   out.String(),
		Duration: time.Since(start).Seconds(),
	}
	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		return res
	}
	res.Passed = err == nil
	return res
}
