package oracle

import (
	"context"
	"strings"
	"testing"

	"github.com/imkarma/swarm/internal/config"
)

func TestRun_PassAndFail(t *testing.T) {
	dir := t.TempDir()

	pass := New(config.Validate{Cmd: "sh", Args: []string{"-c", "echo all good"}}, dir)
	res := pass.Run(context.Background())
	if !res.Passed {
		t.Errorf("expected pass, got %+v", res)
	}
	if !strings.Contains(res.Output, "all good") {
		t.Errorf("output not captured: %q", res.Output)
	}

	fail := New(config.Validate{Cmd: "sh", Args: []string{"-c", "echo 2 problems >&2; exit 1"}}, dir)
	res = fail.Run(context.Background())
	if res.Passed {
		t.Error("expected failure")
	}
	if !strings.Contains(res.Output, "2 problems") {
		t.Errorf("stderr not captured: %q", res.Output)
	}
}

func TestRun_TimeoutFails(t *testing.T) {
	o := New(config.Validate{Cmd: "sleep", Args: []string{"5"}, TimeoutSec: 1}, t.TempDir())

	res := o.Run(context.Background())
	if res.Passed {
		t.Error("a timed-out pipeline must not pass")
	}
	if !res.TimedOut {
		t.Error("expected TimedOut to be set")
	}
}

func TestRunPartial_FallsBackToFull(t *testing.T) {
	dir := t.TempDir()

	// No partial command configured: the full pipeline runs instead.
	o := New(config.Validate{Cmd: "sh", Args: []string{"-c", "echo full"}}, dir)
	res := o.RunPartial(context.Background())
	if !strings.Contains(res.Output, "full") {
		t.Errorf("expected fallback to the full pipeline, got %q", res.Output)
	}

	o = New(config.Validate{
		Cmd: "sh", Args: []string{"-c", "echo full"},
		PartialCmd: "sh", PartialArgs: []string{"-c", "echo partial"},
	}, dir)
	res = o.RunPartial(context.Background())
	if !strings.Contains(res.Output, "partial") {
		t.Errorf("expected the partial pipeline, got %q", res.Output)
	}
}
