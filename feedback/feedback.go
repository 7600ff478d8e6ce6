// Package feedback turns a validation result into the next action of
// the synthesis loop: accept the bundle, retry a specific stage with a
// hint, or fail terminally.
package feedback

import (
	"fmt"
	"strings"

	"github.com/evalfactory/evalfactory/types"
)

// Action is the routed next step.
type Action int

const (
	// ActionAccept terminates the loop with an accepted bundle.
	ActionAccept Action = iota
	// ActionRetry reruns one stage with a hint, consuming a round.
	ActionRetry
	// ActionFail terminates the loop without acceptance.
	ActionFail
)

// Decision is the routing verdict for one validation attempt.
type Decision struct {
	Action Action
	// Stage is the stage to regenerate. Set only for ActionRetry.
	Stage types.Stage
	// Hint is the feedback handed to the retried generator.
	Hint string
	// Reason tags terminal failures. Set only for ActionFail.
	Reason types.FailureReason
}

// excerptLines bounds how much captured output rides along in a hint.
const excerptLines = 50

// Route maps a validation result onto the next action. Round budgeting
// is the caller's concern; Route only decides direction.
//
// PASS2FAIL is terminal: a fix that breaks the test signals a broken
// bundle no single-stage retry can repair.
func Route(res *types.ValidationResult) Decision {
	if res.Classification == types.Pass2Fail {
		return Decision{Action: ActionFail, Reason: types.FailRegression}
	}
	if res.Classification == types.Fail2Pass && res.Diagnostic == types.DiagNone {
		return Decision{Action: ActionAccept}
	}

	switch res.Diagnostic {
	case types.DiagBuildError:
		return Decision{
			Action: ActionRetry,
			Stage:  types.StageEnv,
			Hint: "The environment image failed to build. Fix the environment specification.\n" +
				"Build log:\n" + Excerpt(res.BuildLog),
		}
	case types.DiagTimeout:
		if res.BuildLog != "" {
			return Decision{
				Action: ActionRetry,
				Stage:  types.StageEnv,
				Hint: "The environment image build exceeded its time budget. " +
					"Produce a leaner specification that installs only what the tests need.",
			}
		}
		return Decision{
			Action: ActionRetry,
			Stage:  types.StageRun,
			Hint: "The test run exceeded its time budget. Narrow the run script to the " +
				"tests relevant to the issue.\nOutput tail:\n" + Excerpt(errorLog(res)),
		}
	case types.DiagRuntimeCrash:
		return Decision{
			Action: ActionRetry,
			Stage:  types.StageRun,
			Hint: "The run script crashed or never reported an exit-code marker. " +
				"The script must end by echoing EXIT_CODE=<status of the test command>.\n" +
				"Output tail:\n" + Excerpt(errorLog(res)),
		}
	case types.DiagNoFailPre:
		return Decision{
			Action: ActionRetry,
			Stage:  types.StageTest,
			Hint: "The test does not fail before the fix. Exercise the buggy behavior so the " +
				"test fails on the unfixed code and passes only once the fix is applied.",
		}
	case types.DiagWeakTest:
		return Decision{
			Action: ActionRetry,
			Stage:  types.StageTest,
			Hint: "The test passes under a trivial non-gold edit, so it does not discriminate " +
				"the fix. Tighten the assertions until only the real fix makes it pass.",
		}
	case types.DiagAssertion:
		return Decision{
			Action: ActionRetry,
			Stage:  types.StageTest,
			Hint: "The test fails even with the fix applied. Its assertions do not match the " +
				"fixed behavior.\nPost-fix output tail:\n" + Excerpt(res.Post.Log),
		}
	}

	// Unclassified residue (e.g. FAIL2FAIL without a diagnostic) retries
	// the test stage, the most common culprit.
	return Decision{
		Action: ActionRetry,
		Stage:  types.StageTest,
		Hint: fmt.Sprintf("Validation classified the attempt as %s.\nPre output tail:\n%s",
			res.Classification, Excerpt(res.Pre.Log)),
	}
}

// Excerpt returns the last excerptLines lines of captured output.
func Excerpt(log string) string {
	log = strings.TrimRight(log, "\n")
	if log == "" {
		return "(no output captured)"
	}
	lines := strings.Split(log, "\n")
	if len(lines) <= excerptLines {
		return log
	}
	return strings.Join(lines[len(lines)-excerptLines:], "\n")
}

// errorLog picks the log of whichever execution errored.
func errorLog(res *types.ValidationResult) string {
	if res.Pre.Outcome == types.ExecError {
		return res.Pre.Log
	}
	return res.Post.Log
}
