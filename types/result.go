package types

import "time"

// ExecutionReport captures one sandbox execution of the run script.
type ExecutionReport struct {
	// Outcome is the ternary execution outcome.
	Outcome ExecOutcome `json:"outcome"`
	// ExitCode is the marker exit code; meaningful only when MarkerFound.
	ExitCode int `json:"exit_code"`
	// MarkerFound reports whether the EXIT_CODE marker was present.
	MarkerFound bool `json:"marker_found"`
	// TimedOut reports whether the execution hit its wall-clock budget.
	TimedOut bool `json:"timed_out,omitempty"`
	// Log is the captured (possibly truncated) combined output.
	Log string `json:"log,omitempty"`
	// Duration is the wall-clock execution time.
	Duration time.Duration `json:"duration_ns"`
}

// ValidationResult is produced per validation attempt.
type ValidationResult struct {
	// Pre is the pre-fix execution (test patch applied, fix absent).
	Pre ExecutionReport `json:"pre"`
	// Post is the post-fix execution (test patch and fix patch applied).
	Post ExecutionReport `json:"post"`
	// Classification derives from Pre and Post outcomes.
	Classification Classification `json:"classification"`
	// Diagnostic distinguishes error paths (build_error, timeout,
	// runtime_crash) and assertion-level failures.
	Diagnostic DiagnosticTag `json:"diagnostic,omitempty"`
	// BuildLog is the sandbox build log excerpt when the build failed.
	BuildLog string `json:"build_log,omitempty"`
	// MinimalFixChecked reports whether the minimal-fix check ran.
	MinimalFixChecked bool `json:"minimal_fix_checked"`
	// MinimalFixPassed is true when the test kept failing under every
	// non-gold edit. Meaningful only when MinimalFixChecked.
	MinimalFixPassed bool `json:"minimal_fix_passed"`
}

// RecordStatus is the terminal status of a processed instance.
type RecordStatus string

const (
	// StatusAccepted marks a validated FAIL2PASS instance.
	StatusAccepted RecordStatus = "accepted"
	// StatusFailed marks an instance that terminated without acceptance.
	StatusFailed RecordStatus = "failed"
)

// FailureReason tags a failed terminal record.
type FailureReason string

const (
	// FailRoundLimit: the round counter reached the configured limit.
	FailRoundLimit FailureReason = "round_limit_exceeded"
	// FailRegression: PASS2FAIL observed; the fix appears to break the
	// test. Never retried.
	FailRegression FailureReason = "regression"
	// FailGeneration: a generator stage returned no usable artifact and
	// the budget ran out before recovery.
	FailGeneration FailureReason = "generation_failure"
)

// ResultRecord is the durable per-instance output, appended to the result
// store exactly once per processing attempt and never mutated afterwards.
type ResultRecord struct {
	// InstanceID identifies the task instance.
	InstanceID string `json:"instance_id"`
	// Repo is the repository identifier.
	Repo string `json:"repo"`
	// Status is the terminal status.
	Status RecordStatus `json:"status"`
	// Reason tags failed records; empty for accepted ones.
	Reason FailureReason `json:"reason,omitempty"`
	// Bundle is the final artifact bundle.
	Bundle ArtifactBundle `json:"bundle"`
	// Validation is the final validation result, when one was produced.
	Validation *ValidationResult `json:"validation,omitempty"`
	// Rounds is the number of rounds consumed.
	Rounds int `json:"rounds"`
	// FinishedAt is the terminal timestamp (UTC).
	FinishedAt time.Time `json:"finished_at"`
}

// Accepted reports whether the record reached ACCEPT.
func (r *ResultRecord) Accepted() bool {
	return r != nil && r.Status == StatusAccepted
}
