package oracle

import "testing"

const pytestLog = `============================= test session starts ==============================
collected 24 items

tests/test_pipeline.py ....F...                                          [ 33%]
tests/test_report.py ................                                    [100%]

=================================== FAILURES ===================================
FAILED tests/test_pipeline.py::test_retry_budget - AssertionError: 4 != 3

---------- coverage: platform linux, python 3.12 ----------
Name                Stmts   Miss  Cover
---------------------------------------
src/pipeline.py       120     18    85%
src/report.py          80      4    95%
---------------------------------------
TOTAL                 200     22    89%
`

const mypyLog = `src/pipeline.py:33: error: Argument 1 to "score" has incompatible type "str"
src/pipeline.py:40: warning: unused "type: ignore" comment
src/report.py:12: error: Missing return statement
Found 2 errors in 2 files (checked 14 source files)
`

const ruffLog = `src/app.py:12:1: E302 expected 2 blank lines, got 1
src/app.py:40:80: E501 line too long (92 > 88)
src/util.py:3:8: F401 'os' imported but unused
Found 3 errors.
`

const goLog = `--- FAIL: TestHealth (0.01s)
    handler_test.go:22: want 200, got 500
FAIL
coverage: 71.4% of statements
ok      example.com/pkg 0.412s
`

func TestParseReport_Pytest(t *testing.T) {
	r := ParseReport(pytestLog)

	if r.CoveragePct != 89 {
		t.Errorf("expected coverage 89, got %v", r.CoveragePct)
	}
	if r.TestFailures != 1 {
		t.Errorf("expected 1 test failure, got %d", r.TestFailures)
	}
	if r.TypeErrors != 0 || r.LintViolations != 0 {
		t.Errorf("pytest log should have no type/lint findings, got %d/%d", r.TypeErrors, r.LintViolations)
	}
}

func TestParseReport_Mypy(t *testing.T) {
	r := ParseReport(mypyLog)

	if r.TypeErrors != 2 {
		t.Errorf("expected 2 type errors, got %d", r.TypeErrors)
	}
	if r.TypeWarnings != 1 {
		t.Errorf("expected 1 type warning, got %d", r.TypeWarnings)
	}
	if r.LintViolations != 0 {
		t.Errorf("mypy findings must not count as lint, got %d", r.LintViolations)
	}
}

func TestParseReport_Ruff(t *testing.T) {
	r := ParseReport(ruffLog)

	if r.LintViolations != 3 {
		t.Errorf("expected 3 lint violations, got %d", r.LintViolations)
	}
	if r.TypeErrors != 0 {
		t.Errorf("expected 0 type errors, got %d", r.TypeErrors)
	}
}

func TestParseReport_Go(t *testing.T) {
	r := ParseReport(goLog)

	if r.CoveragePct != 71.4 {
		t.Errorf("expected coverage 71.4, got %v", r.CoveragePct)
	}
	if r.TestFailures != 1 {
		t.Errorf("expected 1 test failure, got %d", r.TestFailures)
	}
}

func TestParseReport_CombinedLog(t *testing.T) {
	r := ParseReport(pytestLog + "\n" + mypyLog + "\n" + ruffLog)

	if r.Problems() != 1+2+3 {
		t.Errorf("expected 6 problems, got %d", r.Problems())
	}
}

func TestParseReport_EmptyLog(t *testing.T) {
	r := ParseReport("")

	if r.CoveragePct != 0 || r.Problems() != 0 || r.TypeWarnings != 0 {
		t.Errorf("empty log should produce a zero report, got %+v", r)
	}
}
