package types

// ArtifactBundle holds the per-instance artifacts accumulated across stages.
// Each field is independently produced or overwritten by its generator stage;
// an empty string means the artifact is absent. The bundle is owned
// exclusively by the orchestrator for the lifetime of one instance.
type ArtifactBundle struct {
	// Context is the gathered repository context fed to later stages.
	Context string `json:"context,omitempty"`
	// TestPatch is the regression test diff (pre-existing or generated).
	TestPatch string `json:"test_patch,omitempty"`
	// EnvironmentSpec is the Dockerfile content.
	EnvironmentSpec string `json:"environment_spec,omitempty"`
	// RunScript is the eval script content. It must terminate with an
	// EXIT_CODE=<int> marker line when executed.
	RunScript string `json:"run_script,omitempty"`
}

// Has reports whether the artifact produced by the given stage is present.
// StageValidate produces no artifact and always reports false.
func (b *ArtifactBundle) Has(s Stage) bool {
	return b.Get(s) != ""
}

// Get returns the artifact produced by the given stage, or "".
func (b *ArtifactBundle) Get(s Stage) string {
	if b == nil {
		return ""
	}
	switch s {
	case StageContext:
		return b.Context
	case StageTest:
		return b.TestPatch
	case StageEnv:
		return b.EnvironmentSpec
	case StageRun:
		return b.RunScript
	}
	return ""
}

// Set stores the artifact for the given stage, overwriting any prior value.
func (b *ArtifactBundle) Set(s Stage, artifact string) {
	switch s {
	case StageContext:
		b.Context = artifact
	case StageTest:
		b.TestPatch = artifact
	case StageEnv:
		b.EnvironmentSpec = artifact
	case StageRun:
		b.RunScript = artifact
	}
}

// Clear removes the artifact for the given stage so its generator re-runs.
func (b *ArtifactBundle) Clear(s Stage) {
	b.Set(s, "")
}

// Complete reports whether every validation input artifact is present.
// Context is an intermediate and not required for validation itself.
func (b *ArtifactBundle) Complete() bool {
	return b.Has(StageTest) && b.Has(StageEnv) && b.Has(StageRun)
}
