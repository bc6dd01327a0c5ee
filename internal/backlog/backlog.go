// Package backlog defines the story backlog document and its lifecycle.
// The backlog is a single YAML file; every mutation rewrites the whole
// document through a temp file + rename so a crash mid-write can never
// leave a half-written backlog behind.
package backlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissing means no backlog document exists at the given path.
var ErrMissing = errors.New("backlog not found")

// Story is one unit of work with acceptance criteria and dependencies.
type Story struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description,omitempty"`
	Acceptance  []string   `yaml:"acceptance,omitempty"`
	DependsOn   []string   `yaml:"depends_on,omitempty"`
	Passes      bool       `yaml:"passes"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty"`
}

// Backlog is the ordered collection of stories for one workspace.
type Backlog struct {
	Stories []Story `yaml:"stories"`
}

// Load reads and validates the backlog document at the given path.
func Load(path string) (*Backlog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return nil, fmt.Errorf("read backlog: %w", err)
	}

	var b Backlog
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse backlog: %w", err)
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Save atomically replaces the backlog document at the given path.
// The new document is validated first; an invalid backlog is never
// written to disk.
func (b *Backlog) Save(path string) error {
	if err := b.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal backlog: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".backlog-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp backlog: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp backlog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp backlog: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace backlog: %w", err)
	}
	return nil
}

// Validate checks that story IDs are unique, every dependency refers to
// a known story, and the dependency relation is acyclic.
func (b *Backlog) Validate() error {
	if len(b.Stories) == 0 {
		return fmt.Errorf("backlog has no stories")
	}

	byID := make(map[string]*Story, len(b.Stories))
	for i := range b.Stories {
		s := &b.Stories[i]
		if s.ID == "" {
			return fmt.Errorf("story %d has no id", i+1)
		}
		if s.Title == "" {
			return fmt.Errorf("story %s has no title", s.ID)
		}
		if _, dup := byID[s.ID]; dup {
			return fmt.Errorf("duplicate story id %s", s.ID)
		}
		byID[s.ID] = s
	}

	for i := range b.Stories {
		for _, dep := range b.Stories[i].DependsOn {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("story %s depends on unknown story %s", b.Stories[i].ID, dep)
			}
		}
	}

	if cycle := b.findCycle(byID); cycle != "" {
		return fmt.Errorf("dependency cycle through story %s", cycle)
	}
	return nil
}

// findCycle runs a three-color DFS over the dependency relation and
// returns the id of a story on a cycle, or "" if the graph is acyclic.
func (b *Backlog) findCycle(byID map[string]*Story) string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(b.Stories))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, dep := range byID[id].DependsOn {
			switch color[dep] {
			case gray:
				return dep
			case white:
				if c := visit(dep); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}

	for i := range b.Stories {
		if color[b.Stories[i].ID] == white {
			if c := visit(b.Stories[i].ID); c != "" {
				return c
			}
		}
	}
	return ""
}

// Next returns the first story (in declared order) that has not passed
// and whose every dependency has passed, or nil if no story is
// currently selectable.
func (b *Backlog) Next() *Story {
	passed := make(map[string]bool, len(b.Stories))
	for i := range b.Stories {
		if b.Stories[i].Passes {
			passed[b.Stories[i].ID] = true
		}
	}

	for i := range b.Stories {
		s := &b.Stories[i]
		if s.Passes {
			continue
		}
		ready := true
		for _, dep := range s.DependsOn {
			if !passed[dep] {
				ready = false
				break
			}
		}
		if ready {
			return s
		}
	}
	return nil
}

// Get returns the story with the given id, or nil.
func (b *Backlog) Get(id string) *Story {
	for i := range b.Stories {
		if b.Stories[i].ID == id {
			return &b.Stories[i]
		}
	}
	return nil
}

// MarkPassed sets passes=true and the completion timestamp on a story.
func (b *Backlog) MarkPassed(id string, at time.Time) error {
	s := b.Get(id)
	if s == nil {
		return fmt.Errorf("story %s not found", id)
	}
	s.Passes = true
	at = at.UTC()
	s.CompletedAt = &at
	return nil
}

// Remaining returns all stories that have not passed, in declared order.
func (b *Backlog) Remaining() []Story {
	var out []Story
	for _, s := range b.Stories {
		if !s.Passes {
			out = append(out, s)
		}
	}
	return out
}

// Counts returns (passed, total).
func (b *Backlog) Counts() (int, int) {
	passed := 0
	for _, s := range b.Stories {
		if s.Passes {
			passed++
		}
	}
	return passed, len(b.Stories)
}

// Complete reports whether every story has passed.
func (b *Backlog) Complete() bool {
	passed, total := b.Counts()
	return passed == total
}
