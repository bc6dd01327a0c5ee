// Package prompt composes the text handed to the coding agent: fixed
// workflow instructions, the story being worked on, accumulated
// cross-run learnings, and any pending human-authored requests.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/imkarma/swarm/internal/backlog"
)

// Files read from the workspace, when present.
const (
	LearningsFile = ".swarm/learnings.md"
	RequestsFile  = ".swarm/requests.md"
)

// Builder constructs agent prompts for one workspace.
type Builder struct {
	workDir string
}

// New creates a prompt builder rooted at the given workspace.
func New(workDir string) *Builder {
	return &Builder{workDir: workDir}
}

// StoryPrompt builds the prompt for one story's implementation pass.
func (b *Builder) StoryPrompt(s *backlog.Story) string {
	var parts []string

	parts = append(parts, header)
	parts = append(parts, storySection(s))

	if learnings := b.readFile(LearningsFile); learnings != "" {
		parts = append(parts, "## Learnings from previous runs\n"+learnings)
	}
	if requests := b.readFile(RequestsFile); requests != "" {
		parts = append(parts, "## Pending requests from the team\n"+requests)
	}

	parts = append(parts, workflow)

	return strings.Join(parts, "\n\n")
}

// FixPrompt builds the prompt for one fix-retry round, embedding the
// raw diagnostic output from the last failed validation.
func (b *Builder) FixPrompt(s *backlog.Story, diagnostics string, round, maxRounds int) string {
	var parts []string

	parts = append(parts, header)
	parts = append(parts, storySection(s))
	parts = append(parts, fmt.Sprintf("## Validation failed (fix attempt %d of %d)\n"+
		"The quality checks failed with the output below. Fix the reported "+
		"problems only; do not start new work.\n\n```\n%s\n```",
		round, maxRounds, strings.TrimSpace(diagnostics)))
	parts = append(parts, "Commit your fix when the checks pass.")

	return strings.Join(parts, "\n\n")
}

func storySection(s *backlog.Story) string {
	var sb strings.Builder

	sb.WriteString("## Story\n")
	sb.WriteString(fmt.Sprintf("**%s: %s**\n", s.ID, s.Title))

	if s.Description != "" {
		sb.WriteString(fmt.Sprintf("\n### Description\n%s\n", s.Description))
	}
	if len(s.Acceptance) > 0 {
		sb.WriteString("\n### Acceptance criteria\n")
		for _, a := range s.Acceptance {
			sb.WriteString("- " + a + "\n")
		}
	}

	return sb.String()
}

// readFile returns the trimmed content of a workspace file, or "".
func (b *Builder) readFile(rel string) string {
	data, err := os.ReadFile(filepath.Join(b.workDir, rel))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

const header = `# You are a Software Developer
You are implementing one story from a backlog. Work only on this story.
The project's quality checks will run after you finish; your work is
accepted only when they pass.`

const workflow = `## Workflow (mandatory)
1. Write failing tests for the acceptance criteria first. Commit them
   with a message starting with "test:".
2. Implement until the tests pass. Commit with a message starting with
   "feat:" or "fix:".
3. Make small commits as you go; never leave the tree uncommitted.
Do not mark the story complete yourself — the orchestrator does that
after validation.`
