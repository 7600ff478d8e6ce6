package types

import "errors"

// Failure taxonomy. The first five are recovered locally within the
// per-instance loop via feedback routing; ErrInfrastructure is fatal to the
// run and must abort rather than be retried per instance.
var (
	// ErrGenerationFailure: a generator stage returned no usable artifact.
	ErrGenerationFailure = errors.New("generator returned no usable artifact")
	// ErrSandboxBuild: the sandbox image build failed.
	ErrSandboxBuild = errors.New("sandbox build failed")
	// ErrSandboxTimeout: a sandbox build or run exceeded its budget.
	ErrSandboxTimeout = errors.New("sandbox operation timed out")
	// ErrSandboxCrash: the sandbox crashed at runtime.
	ErrSandboxCrash = errors.New("sandbox crashed")
	// ErrRegression: the fix itself appears to break behavior (PASS2FAIL).
	ErrRegression = errors.New("fix regresses the candidate test")
	// ErrRoundLimit: the instance exceeded its round budget.
	ErrRoundLimit = errors.New("round limit exceeded")
	// ErrInfrastructure: the sandbox backend itself is unreachable.
	ErrInfrastructure = errors.New("sandbox backend unreachable")
)
