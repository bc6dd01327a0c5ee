package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/imkarma/swarm/internal/backlog"
)

func testStory() *backlog.Story {
	return &backlog.Story{
		ID:          "US-003",
		Title:       "Add health endpoint",
		Description: "Expose GET /healthz returning 200.",
		Acceptance:  []string{"returns 200", "responds within 100ms"},
	}
}

func TestStoryPrompt_ContainsStoryDetails(t *testing.T) {
	b := New(t.TempDir())
	p := b.StoryPrompt(testStory())

	for _, want := range []string{"US-003", "Add health endpoint", "returns 200", `"test:"`} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestStoryPrompt_IncludesLearningsAndRequests(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, ".swarm"), 0755)
	os.WriteFile(filepath.Join(dir, LearningsFile), []byte("- the linter hates unused imports\n"), 0644)
	os.WriteFile(filepath.Join(dir, RequestsFile), []byte("- please keep handlers in one file\n"), 0644)

	p := New(dir).StoryPrompt(testStory())

	if !strings.Contains(p, "linter hates unused imports") {
		t.Error("prompt missing learnings")
	}
	if !strings.Contains(p, "handlers in one file") {
		t.Error("prompt missing pending requests")
	}
}

func TestStoryPrompt_SkipsMissingFiles(t *testing.T) {
	p := New(t.TempDir()).StoryPrompt(testStory())

	if strings.Contains(p, "Learnings from previous runs") {
		t.Error("should not include learnings section when file is absent")
	}
	if strings.Contains(p, "Pending requests") {
		t.Error("should not include requests section when file is absent")
	}
}

func TestFixPrompt_EmbedsDiagnostics(t *testing.T) {
	b := New(t.TempDir())
	p := b.FixPrompt(testStory(), "FAIL: TestHealth (0.01s)\n    want 200, got 500\n", 2, 3)

	if !strings.Contains(p, "want 200, got 500") {
		t.Error("fix prompt missing diagnostics")
	}
	if !strings.Contains(p, "fix attempt 2 of 3") {
		t.Error("fix prompt missing round counter")
	}
	if !strings.Contains(p, "US-003") {
		t.Error("fix prompt missing story context")
	}
}
