package types

// Stage identifies one artifact-producing step of the synthesis loop.
type Stage string

const (
	// StageContext gathers repository context for the other stages.
	StageContext Stage = "context"
	// StageTest authors the regression test patch.
	StageTest Stage = "test"
	// StageEnv authors the environment specification (Dockerfile).
	StageEnv Stage = "env"
	// StageRun authors the run script (eval.sh).
	StageRun Stage = "run"
	// StageValidate executes the candidate artifacts in the sandbox.
	// It is a pseudo-stage: it never produces an artifact.
	StageValidate Stage = "validate"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageContext, StageTest, StageEnv, StageRun, StageValidate:
		return true
	}
	return false
}

// GeneratorStages lists the artifact-producing stages in canonical
// dependency order: context -> test -> env -> run.
func GeneratorStages() []Stage {
	return []Stage{StageContext, StageTest, StageEnv, StageRun}
}
