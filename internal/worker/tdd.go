package worker

import "strings"

// Verdict classifies one iteration's commit history.
type Verdict int

const (
	// VerdictOK means the commits satisfy the workflow.
	VerdictOK Verdict = iota
	// VerdictRetry means the agent produced no commits at all. The
	// story stays available; the iteration is consumed but the outcome
	// is treated as transient.
	VerdictRetry
	// VerdictFail means commits exist but violate the workflow.
	VerdictFail
)

func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "ok"
	case VerdictRetry:
		return "retry"
	default:
		return "fail"
	}
}

// VerifyCommits checks an iteration's commit subjects (oldest first)
// against the test-first workflow: at least two commits, a "test:"
// commit and an implementation commit ("feat:" or "fix:"), in that
// order. The very first story of a workspace is exempt, since project
// scaffolding has nothing to test against yet.
func VerifyCommits(subjects []string, exempt bool) Verdict {
	if len(subjects) == 0 {
		return VerdictRetry
	}
	if exempt {
		return VerdictOK
	}
	if len(subjects) < 2 {
		return VerdictFail
	}

	testIdx, implIdx := -1, -1
	for i, s := range subjects {
		subject := strings.TrimSpace(s)
		if testIdx == -1 && strings.HasPrefix(subject, "test:") {
			testIdx = i
		}
		if implIdx == -1 && (strings.HasPrefix(subject, "feat:") || strings.HasPrefix(subject, "fix:")) {
			implIdx = i
		}
	}

	if testIdx == -1 || implIdx == -1 {
		return VerdictFail
	}
	if implIdx < testIdx {
		return VerdictFail
	}
	return VerdictOK
}
