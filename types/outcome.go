package types

import (
	"regexp"
	"strconv"
)

// ExitCodeMarker is the machine-parsable marker every run script must emit
// as its final line: EXIT_CODE=<int>. The validator extracts the test
// outcome from captured output via this marker only.
const ExitCodeMarker = "EXIT_CODE="

var exitCodeRe = regexp.MustCompile(`EXIT_CODE=(\d+)`)

// ExtractExitCode returns the exit code from the marker line in captured
// output. The second return is false when no marker is present.
func ExtractExitCode(output string) (int, bool) {
	m := exitCodeRe.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

// ExecOutcome is the ternary outcome of one sandbox execution.
type ExecOutcome string

const (
	// ExecPass means the run script reported exit code 0.
	ExecPass ExecOutcome = "pass"
	// ExecFail means the run script reported a non-zero exit code
	// attributable to test logic.
	ExecFail ExecOutcome = "fail"
	// ExecError means the sandbox could not produce a test verdict:
	// build failure, timeout, crash, or a missing exit-code marker.
	ExecError ExecOutcome = "error"
)

// DiagnosticTag distinguishes error outcomes so the feedback router can
// pick the right stage to retry.
type DiagnosticTag string

const (
	// DiagNone marks a validation attempt without an error diagnostic.
	DiagNone DiagnosticTag = ""
	// DiagBuildError marks a sandbox image build failure.
	DiagBuildError DiagnosticTag = "build_error"
	// DiagTimeout marks a build or run that exceeded its wall-clock budget.
	DiagTimeout DiagnosticTag = "timeout"
	// DiagRuntimeCrash marks a crash or missing exit-code marker at runtime.
	DiagRuntimeCrash DiagnosticTag = "runtime_crash"
	// DiagAssertion marks a run that executed tests but asserted wrong.
	DiagAssertion DiagnosticTag = "assertion"
	// DiagWeakTest marks a FAIL2PASS test that also passed under a
	// non-gold edit during the minimal-fix check.
	DiagWeakTest DiagnosticTag = "weak_test"
	// DiagNoFailPre marks a PASS2PASS attempt: the test does not fail
	// on the unfixed tree.
	DiagNoFailPre DiagnosticTag = "no_fail_pre"
)

// Classification is the pre-fix x post-fix test-outcome class.
type Classification string

const (
	// Fail2Pass: the test fails before the fix and passes after it.
	Fail2Pass Classification = "FAIL2PASS"
	// Pass2Pass: the test passes both times; it does not exercise the bug.
	Pass2Pass Classification = "PASS2PASS"
	// Fail2Fail: the test fails both times, or either run errored.
	Fail2Fail Classification = "FAIL2FAIL"
	// Pass2Fail: the test passes before the fix and fails after it.
	Pass2Fail Classification = "PASS2FAIL"
)

// Classify derives the classification from the two execution outcomes.
// The table is deterministic; an error on either run forces FAIL2FAIL
// (the caller carries the distinguishing diagnostic tag).
func Classify(pre, post ExecOutcome) Classification {
	if pre == ExecError || post == ExecError {
		return Fail2Fail
	}
	switch {
	case pre == ExecFail && post == ExecPass:
		return Fail2Pass
	case pre == ExecPass && post == ExecPass:
		return Pass2Pass
	case pre == ExecFail && post == ExecFail:
		return Fail2Fail
	default:
		return Pass2Fail
	}
}

// OutcomeFromExitCode maps a marker exit code to an execution outcome.
func OutcomeFromExitCode(code int, found bool) ExecOutcome {
	if !found {
		return ExecError
	}
	if code == 0 {
		return ExecPass
	}
	return ExecFail
}
