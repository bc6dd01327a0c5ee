package backlog

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func twoStories() *Backlog {
	return &Backlog{Stories: []Story{
		{ID: "US-001", Title: "First"},
		{ID: "US-002", Title: "Second", DependsOn: []string{"US-001"}},
	}}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "backlog.yaml"))
	if err == nil {
		t.Fatal("expected error for missing backlog")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backlog.yaml")

	b := twoStories()
	if err := b.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Stories) != 2 {
		t.Fatalf("expected 2 stories, got %d", len(got.Stories))
	}
	if got.Stories[1].DependsOn[0] != "US-001" {
		t.Errorf("dependency lost in round trip: %v", got.Stories[1].DependsOn)
	}
}

func TestSave_RefusesInvalidDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backlog.yaml")

	b := &Backlog{Stories: []Story{
		{ID: "a", Title: "A", DependsOn: []string{"a"}},
	}}
	if err := b.Save(path); err == nil {
		t.Fatal("expected error for self-dependent story")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("invalid backlog must not be written to disk")
	}
}

func TestValidate_DuplicateID(t *testing.T) {
	b := &Backlog{Stories: []Story{
		{ID: "x", Title: "One"},
		{ID: "x", Title: "Two"},
	}}
	if err := b.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestValidate_UnknownDependency(t *testing.T) {
	b := &Backlog{Stories: []Story{
		{ID: "x", Title: "One", DependsOn: []string{"ghost"}},
	}}
	if err := b.Validate(); err == nil || !strings.Contains(err.Error(), "unknown") {
		t.Fatalf("expected unknown dependency error, got %v", err)
	}
}

func TestValidate_Cycle(t *testing.T) {
	b := &Backlog{Stories: []Story{
		{ID: "a", Title: "A", DependsOn: []string{"c"}},
		{ID: "b", Title: "B", DependsOn: []string{"a"}},
		{ID: "c", Title: "C", DependsOn: []string{"b"}},
	}}
	if err := b.Validate(); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestNext_RespectsDeclaredOrder(t *testing.T) {
	b := twoStories()

	s := b.Next()
	if s == nil || s.ID != "US-001" {
		t.Fatalf("expected US-001 first, got %v", s)
	}
}

func TestNext_SkipsBlockedStory(t *testing.T) {
	b := &Backlog{Stories: []Story{
		{ID: "a", Title: "A", DependsOn: []string{"c"}},
		{ID: "b", Title: "B"},
		{ID: "c", Title: "C"},
	}}

	// "a" is declared first but depends on "c", which hasn't passed.
	s := b.Next()
	if s == nil || s.ID != "b" {
		t.Fatalf("expected b, got %v", s)
	}
}

func TestNext_NilWhenComplete(t *testing.T) {
	b := twoStories()
	b.MarkPassed("US-001", time.Now())
	b.MarkPassed("US-002", time.Now())

	if s := b.Next(); s != nil {
		t.Fatalf("expected nil for complete backlog, got %s", s.ID)
	}
	if !b.Complete() {
		t.Error("Complete should report true")
	}
}

// TestNext_OnlySelectsSatisfiedStories is a property test over random
// DAGs: whatever story Next picks, all of its dependencies must already
// have passed.
// TestNext_OnlySelectsSatisfiedStories drains random DAG-shaped
// backlogs and checks every selection against a reference walk. The
// declared order is shuffled independently of the dependency order, so
// dependencies routinely point at later-declared stories and the
// gating actually has to block.
func TestNext_OnlySelectsSatisfiedStories(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 200; trial++ {
		n := 2 + rng.Intn(12)

		// Stories are wired acyclically along a hidden order, then
		// declared in a different random order.
		hidden := rng.Perm(n)
		id := func(i int) string { return string(rune('a' + i)) }
		deps := make(map[int][]string, n)
		for pos := 1; pos < n; pos++ {
			for prev := 0; prev < pos; prev++ {
				if rng.Intn(3) == 0 {
					deps[hidden[pos]] = append(deps[hidden[pos]], id(hidden[prev]))
				}
			}
		}

		b := &Backlog{}
		for _, i := range rng.Perm(n) {
			b.Stories = append(b.Stories, Story{
				ID:        id(i),
				Title:     "story",
				DependsOn: deps[i],
			})
		}
		if err := b.Validate(); err != nil {
			t.Fatalf("trial %d: generated backlog invalid: %v", trial, err)
		}

		for steps := 0; ; steps++ {
			if steps > n {
				t.Fatalf("trial %d: drain did not terminate", trial)
			}
			next := b.Next()
			if next == nil {
				break
			}
			if next.Passes {
				t.Fatalf("trial %d: Next returned a passed story %s", trial, next.ID)
			}
			for _, dep := range next.DependsOn {
				if !b.Get(dep).Passes {
					t.Fatalf("trial %d: Next returned %s with unsatisfied dependency %s", trial, next.ID, dep)
				}
			}
			// It must also be the first selectable story in declared
			// order.
			for i := range b.Stories {
				s := &b.Stories[i]
				if s.ID == next.ID {
					break
				}
				if s.Passes {
					continue
				}
				ready := true
				for _, dep := range s.DependsOn {
					if !b.Get(dep).Passes {
						ready = false
						break
					}
				}
				if ready {
					t.Fatalf("trial %d: Next returned %s but %s was selectable earlier", trial, next.ID, s.ID)
				}
			}
			if err := b.MarkPassed(next.ID, time.Now()); err != nil {
				t.Fatalf("trial %d: mark passed: %v", trial, err)
			}
		}

		// A DAG always drains completely.
		if !b.Complete() {
			t.Fatalf("trial %d: backlog did not drain: %+v", trial, b.Remaining())
		}
	}
}

func TestMarkPassed(t *testing.T) {
	b := twoStories()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := b.MarkPassed("US-001", at); err != nil {
		t.Fatalf("MarkPassed: %v", err)
	}

	s := b.Get("US-001")
	if !s.Passes {
		t.Error("expected passes=true")
	}
	if s.CompletedAt == nil || !s.CompletedAt.Equal(at) {
		t.Errorf("expected completed_at %v, got %v", at, s.CompletedAt)
	}

	if err := b.MarkPassed("nope", at); err == nil {
		t.Error("expected error for unknown story")
	}
}

func TestRemaining(t *testing.T) {
	b := twoStories()
	b.MarkPassed("US-001", time.Now())

	rem := b.Remaining()
	if len(rem) != 1 || rem[0].ID != "US-002" {
		t.Fatalf("expected [US-002], got %v", rem)
	}

	passed, total := b.Counts()
	if passed != 1 || total != 2 {
		t.Errorf("expected 1/2, got %d/%d", passed, total)
	}
}
