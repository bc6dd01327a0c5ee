package agent

import (
	"regexp"
	"strings"
)

// Complexity is the execution profile chosen for a story.
type Complexity int

const (
	// ComplexityDefault runs the agent with its full profile.
	ComplexityDefault Complexity = iota
	// ComplexityDocs is documentation-only work.
	ComplexityDocs
	// ComplexityTrivial is a small mechanical fix.
	ComplexityTrivial
)

func (c Complexity) String() string {
	switch c {
	case ComplexityDocs:
		return "docs"
	case ComplexityTrivial:
		return "trivial"
	default:
		return "default"
	}
}

// Cheap reports whether this complexity class should use the cheap
// execution profile.
func (c Complexity) Cheap() bool {
	return c != ComplexityDefault
}

var (
	docsPattern = regexp.MustCompile(`(?i)\b(documentation|docs?|readme|changelog|comment|docstring)\b`)

	trivialPattern = regexp.MustCompile(`(?i)\b(typo|rename|lint|formatting|whitespace|bump|version string|one[- ]lin(e|er))\b`)
)

// Classify inspects a story's title and description and picks the
// execution profile. Docs wins over trivial when both match: a typo fix
// in a README is still documentation-only work.
func Classify(title, description string) Complexity {
	text := title + "\n" + description

	if docsPattern.MatchString(text) && !mentionsCode(text) {
		return ComplexityDocs
	}
	if trivialPattern.MatchString(text) {
		return ComplexityTrivial
	}
	return ComplexityDefault
}

// mentionsCode guards the docs classification: a story that talks about
// implementing or testing something is not documentation-only even if
// it also mentions docs.
func mentionsCode(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range []string{"implement", "refactor", "test", "endpoint", "function", "api call", "bug"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
