// Package judge implements the optional LLM-based winner selection.
// The judge ranks completed workspaces qualitatively; when it is
// disabled, unavailable, or returns garbage, the caller falls back to
// the deterministic score.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/imkarma/swarm/internal/agent"
	"github.com/imkarma/swarm/internal/config"
	"github.com/imkarma/swarm/internal/score"
)

// ErrUnavailable signals that no usable judge verdict could be
// obtained and the deterministic score must decide.
var ErrUnavailable = errors.New("judge unavailable")

// maxExcerptBytes bounds the per-candidate diff excerpt so the prompt
// stays within a single model context.
const maxExcerptBytes = 4000

// Candidate is one completed workspace presented to the judge.
type Candidate struct {
	Snapshot       score.Snapshot
	CommitSubjects []string
	DiffExcerpt    string // truncated diff of the candidate branch against base
}

// Decision is the judge's verdict.
type Decision struct {
	Winner int    `json:"winner"` // workspace index
	Reason string `json:"reason"`
}

// Selector asks an agent to pick the best candidate.
type Selector struct {
	cfg    config.Judge
	runner agent.Runner
}

// NewSelector builds a Selector from judge config. Returns an error
// when the judge agent cannot be constructed.
func NewSelector(cfg config.Judge) (*Selector, error) {
	runner, err := agent.NewRunner("judge", cfg.Agent)
	if err != nil {
		return nil, fmt.Errorf("judge agent: %w", err)
	}
	return &Selector{cfg: cfg, runner: runner}, nil
}

// NewSelectorWithRunner builds a Selector around an existing runner.
func NewSelectorWithRunner(cfg config.Judge, runner agent.Runner) *Selector {
	return &Selector{cfg: cfg, runner: runner}
}

// Decide asks the judge to pick a winner among the candidates. The
// returned error wraps ErrUnavailable whenever the verdict cannot be
// trusted, including when the candidate count exceeds the judge's
// limit, so callers can always fall back to the score.
func (s *Selector) Decide(ctx context.Context, candidates []Candidate) (*Decision, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrUnavailable)
	}
	if len(candidates) > s.cfg.DefaultMaxWorkers() {
		return nil, fmt.Errorf("%w: %d candidates exceeds judge limit %d",
			ErrUnavailable, len(candidates), s.cfg.DefaultMaxWorkers())
	}

	resp, err := s.runner.Run(ctx, agent.Request{
		Prompt:     BuildPrompt(candidates),
		TimeoutSec: s.cfg.DefaultTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, resp.Error)
	}

	decision, err := ParseDecision(resp.Output)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !validWinner(decision.Winner, candidates) {
		return nil, fmt.Errorf("%w: verdict names unknown workspace %d", ErrUnavailable, decision.Winner)
	}
	return decision, nil
}

func validWinner(winner int, candidates []Candidate) bool {
	for _, c := range candidates {
		if c.Snapshot.WorkspaceIndex == winner {
			return true
		}
	}
	return false
}

// BuildPrompt composes the comparison prompt: per-candidate metrics,
// commit history, and a bounded diff excerpt, followed by strict
// output instructions.
func BuildPrompt(candidates []Candidate) string {
	var b strings.Builder

	b.WriteString("You are judging parallel implementations of the same backlog.\n")
	b.WriteString("Each candidate below is one workspace's final state.\n\n")

	for _, c := range candidates {
		snap := c.Snapshot
		fmt.Fprintf(&b, "## Workspace %d\n", snap.WorkspaceIndex)
		fmt.Fprintf(&b, "- stories passed: %d/%d\n", snap.StoriesPassed, snap.StoriesTotal)
		fmt.Fprintf(&b, "- test files: %d, coverage: %.1f%%\n", snap.TestFileCount, snap.CoveragePct)
		fmt.Fprintf(&b, "- lint: %d, type errors: %d, warnings: %d\n",
			snap.LintViolations, snap.TypeErrors, snap.TypeWarnings)
		fmt.Fprintf(&b, "- churn: %d lines, validation passed: %v\n", snap.CodeChurn, snap.ValidationPassed)

		if len(c.CommitSubjects) > 0 {
			b.WriteString("\nCommits:\n")
			for _, subj := range c.CommitSubjects {
				fmt.Fprintf(&b, "  %s\n", subj)
			}
		}
		if c.DiffExcerpt != "" {
			b.WriteString("\nDiff excerpt:\n```\n")
			b.WriteString(truncate(c.DiffExcerpt, maxExcerptBytes))
			b.WriteString("\n```\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Pick the workspace with the best code quality, test discipline,\n")
	b.WriteString("and completeness. Respond with ONLY a JSON object, no prose:\n")
	b.WriteString(`{"winner": <workspace number>, "reason": "<one sentence>"}` + "\n")

	return b.String()
}

// ParseDecision extracts the strict JSON verdict from agent output.
// Agents often wrap the JSON in prose or code fences, so we locate the
// first object containing a "winner" key.
func ParseDecision(output string) (*Decision, error) {
	raw := extractJSON(output)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in judge output")
	}

	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("parse verdict: %w", err)
	}
	if d.Winner <= 0 {
		return nil, fmt.Errorf("verdict missing winner")
	}
	return &d, nil
}

// extractJSON returns the first balanced {...} block in the text.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
