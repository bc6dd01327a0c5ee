// Package score turns a workspace's final artifacts into a
// deterministic numeric score and picks the best workspace of a run.
package score

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// Snapshot is the metrics summary produced once per workspace after
// its worker exits.
type Snapshot struct {
	WorkspaceIndex   int     `json:"workspace_index"`
	StoriesPassed    int     `json:"stories_passed"`
	StoriesTotal     int     `json:"stories_total"`
	TestFileCount    int     `json:"test_file_count"`
	CoveragePct      float64 `json:"coverage_pct"`
	LintViolations   int     `json:"lint_violations"`
	TypeErrors       int     `json:"type_errors"`
	TypeWarnings     int     `json:"type_warnings"`
	CodeChurn        int     `json:"code_churn"`
	ValidationPassed bool    `json:"validation_passed"`
	Score            int     `json:"score"`
}

// Compute derives the score from a snapshot's raw metrics:
//
//	base     = stories_passed*10 + test_file_count + 50 if validation passed
//	coverage = floor(coverage_pct / 2)
//	penalty  = lint*2 + type_errors*5 + type_warnings + floor(churn/100)
//	score    = max(0, base + coverage - penalty)
func Compute(s Snapshot) int {
	base := s.StoriesPassed*10 + s.TestFileCount
	if s.ValidationPassed {
		base += 50
	}

	coverage := int(s.CoveragePct) / 2
	penalty := s.LintViolations*2 + s.TypeErrors*5 + s.TypeWarnings + s.CodeChurn/100

	score := base + coverage - penalty
	if score < 0 {
		score = 0
	}
	return score
}

// Finalize fills in the derived score.
func (s *Snapshot) Finalize() {
	s.Score = Compute(*s)
}

// Complete reports whether every story in this workspace passed.
func (s Snapshot) Complete() bool {
	return s.StoriesTotal > 0 && s.StoriesPassed == s.StoriesTotal
}

// SelectBest returns the index (into snaps) of the highest-scoring
// snapshot. Ties resolve to the earliest entry, so with snapshots
// ordered by workspace index the lowest index wins. Returns -1 for an
// empty slice.
func SelectBest(snaps []Snapshot) int {
	best := -1
	for i, s := range snaps {
		if best == -1 || Compute(s) > Compute(snaps[best]) {
			best = i
		}
	}
	return best
}

// CountTestFiles walks a workspace and counts test files across the
// common conventions (_test.go, test_*.py, *_test.py, *.spec.ts, ...).
// Hidden directories and vendored deps are skipped.
func CountTestFiles(root string) int {
	count := 0
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && path != root {
				return filepath.SkipDir
			}
			switch name {
			case "node_modules", "vendor", "__pycache__":
				return filepath.SkipDir
			}
			return nil
		}
		if isTestFile(name) {
			count++
		}
		return nil
	})
	return count
}

func isTestFile(name string) bool {
	switch {
	case strings.HasSuffix(name, "_test.go"),
		strings.HasSuffix(name, "_test.py"),
		strings.HasPrefix(name, "test_") && strings.HasSuffix(name, ".py"):
		return true
	}
	for _, suffix := range []string{".test.js", ".test.ts", ".spec.js", ".spec.ts"} {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
