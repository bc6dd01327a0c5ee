package oracle

import (
	"regexp"
	"strconv"
	"strings"
)

// Report is the structured view of an oracle diagnostic log.
type Report struct {
	CoveragePct    float64
	LintViolations int
	TypeErrors     int
	TypeWarnings   int
	TestFailures   int
}

// Problems is the total error count used to decide whether a fix round
// needs the full agent profile instead of the cheap one.
func (r Report) Problems() int {
	return r.LintViolations + r.TypeErrors + r.TestFailures
}

var (
	// "coverage: 85.2% of statements" (go test) or
	// "TOTAL   412   62   85%" (coverage.py).
	coverageRe = regexp.MustCompile(`(?im)(?:^TOTAL\s.*?|coverage:?\s*)(\d+(?:\.\d+)?)%`)

	// "src/app.py:12:1: E302 expected 2 blank lines" (ruff/flake8) or
	// "file.go:10:2: ineffectual assignment" style lint lines.
	lintLineRe = regexp.MustCompile(`(?m)^\S+:\d+:\d+:\s+\S`)

	// mypy-style "file.py:33: error: ..." / "file.py:40: warning: ...".
	typeErrorRe   = regexp.MustCompile(`(?m):\d+(?::\d+)?:\s+error:`)
	typeWarningRe = regexp.MustCompile(`(?m):\d+(?::\d+)?:\s+warning:`)

	// "FAILED tests/test_x.py::test_y" (pytest) or "--- FAIL: TestY" (go).
	testFailRe = regexp.MustCompile(`(?m)^(?:FAILED\s|--- FAIL:)`)
)

// ParseReport extracts structured metrics from a raw diagnostic log.
// The patterns cover the common pipelines (pytest/coverage/ruff/mypy
// and the go toolchain); anything unrecognized simply counts as zero.
func ParseReport(output string) Report {
	var r Report

	if m := coverageRe.FindStringSubmatch(output); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			r.CoveragePct = v
		}
	}

	r.TypeErrors = len(typeErrorRe.FindAllString(output, -1))
	r.TypeWarnings = len(typeWarningRe.FindAllString(output, -1))
	r.TestFailures = len(testFailRe.FindAllString(output, -1))

	// Lint lines also match the type-checker shape when the column is
	// present; subtract the typed matches that carry columns so a mypy
	// error with a column is not double-counted as lint.
	lint := len(lintLineRe.FindAllString(output, -1))
	typedWithColumn := 0
	for _, line := range strings.Split(output, "\n") {
		if lintLineRe.MatchString(line) && (strings.Contains(line, " error:") || strings.Contains(line, " warning:")) {
			typedWithColumn++
		}
	}
	lint -= typedWithColumn
	if lint < 0 {
		lint = 0
	}
	r.LintViolations = lint

	return r
}
