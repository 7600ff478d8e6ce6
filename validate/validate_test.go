package validate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/evalfactory/evalfactory/sandbox"
	"github.com/evalfactory/evalfactory/types"
)

const fixPatch = `--- a/widget/core.go
+++ b/widget/core.go
@@ -1,3 +1,3 @@
-bad
+good
--- a/widget/util.go
+++ b/widget/util.go
@@ -1,3 +1,3 @@
-bad
+good
`

func testInstance() *types.TaskInstance {
	return &types.TaskInstance{
		Repo:       "acme/widget",
		InstanceID: "acme__widget-100",
		BaseCommit: "deadbeef",
		FixPatch:   fixPatch,
	}
}

func testBundle() *types.ArtifactBundle {
	return &types.ArtifactBundle{
		Context:         "repo summary",
		TestPatch:       "--- a/widget/core_test.go\n+++ b/widget/core_test.go\n",
		EnvironmentSpec: "FROM ubuntu:22.04\nWORKDIR /testbed\n",
		RunScript:       "go test ./...",
	}
}

func newValidator(engine sandbox.Engine, minFix int) *Validator {
	return New(engine, nil, Options{
		BuildTimeout: time.Minute,
		RunTimeout:   time.Minute,
		MinFixEdits:  minFix,
	})
}

func TestValidate_Fail2Pass(t *testing.T) {
	engine := &sandbox.FakeEngine{
		RunResults: []*sandbox.RunResult{
			{Output: "test output\nEXIT_CODE=1\n"}, // pre
			{Output: "test output\nEXIT_CODE=0\n"}, // post
			{Output: "EXIT_CODE=1\n"},              // minfix 0
			{Output: "EXIT_CODE=1\n"},              // minfix 1
		},
	}
	v := newValidator(engine, 2)

	res, err := v.Validate(context.Background(), testInstance(), testBundle(), t.TempDir())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.Classification != types.Fail2Pass {
		t.Errorf("classification = %v", res.Classification)
	}
	if res.Diagnostic != types.DiagNone {
		t.Errorf("diagnostic = %v", res.Diagnostic)
	}
	if !res.MinimalFixChecked || !res.MinimalFixPassed {
		t.Errorf("minimal fix: checked=%v passed=%v", res.MinimalFixChecked, res.MinimalFixPassed)
	}
	if len(engine.Builds) != 1 {
		t.Errorf("builds = %d, want 1", len(engine.Builds))
	}
	if len(engine.Runs) != 4 {
		t.Errorf("runs = %d, want 4", len(engine.Runs))
	}
}

func TestValidate_ImageCacheAcrossRounds(t *testing.T) {
	engine := &sandbox.FakeEngine{
		RunResults: []*sandbox.RunResult{
			{Output: "EXIT_CODE=1\n"},
			{Output: "EXIT_CODE=1\n"},
			{Output: "EXIT_CODE=1\n"},
			{Output: "EXIT_CODE=0\n"},
		},
	}
	v := newValidator(engine, 0)

	inst, bundle := testInstance(), testBundle()
	dir := t.TempDir()
	if _, err := v.Validate(context.Background(), inst, bundle, dir); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Validate(context.Background(), inst, bundle, dir); err != nil {
		t.Fatal(err)
	}
	if len(engine.Builds) != 1 {
		t.Errorf("builds = %d, want 1 (second round must reuse the image)", len(engine.Builds))
	}
}

func TestValidate_BuildFailure(t *testing.T) {
	engine := &sandbox.FakeEngine{
		BuildFunc: func(_ context.Context, in sandbox.BuildInput) (*sandbox.BuildResult, error) {
			return &sandbox.BuildResult{Tag: in.Tag, Log: "Step 3/7: apt-get install\nE: package not found"},
				types.ErrSandboxBuild
		},
	}
	v := newValidator(engine, 0)

	res, err := v.Validate(context.Background(), testInstance(), testBundle(), t.TempDir())
	if err != nil {
		t.Fatalf("build failure must not surface as an error: %v", err)
	}
	if res.Classification != types.Fail2Fail {
		t.Errorf("classification = %v", res.Classification)
	}
	if res.Diagnostic != types.DiagBuildError {
		t.Errorf("diagnostic = %v", res.Diagnostic)
	}
	if !strings.Contains(res.BuildLog, "package not found") {
		t.Errorf("build log missing: %q", res.BuildLog)
	}
	if len(engine.Runs) != 0 {
		t.Error("nothing should run after a failed build")
	}
}

func TestValidate_InfrastructureFailure(t *testing.T) {
	engine := &sandbox.FakeEngine{
		BuildFunc: func(context.Context, sandbox.BuildInput) (*sandbox.BuildResult, error) {
			return nil, types.ErrInfrastructure
		},
	}
	v := newValidator(engine, 0)

	if _, err := v.Validate(context.Background(), testInstance(), testBundle(), t.TempDir()); err == nil {
		t.Fatal("infrastructure failure must surface as an error")
	}
}

func TestValidate_RunTimeout(t *testing.T) {
	engine := &sandbox.FakeEngine{
		RunResults: []*sandbox.RunResult{
			{Output: "partial output", TimedOut: true},
			{Output: "EXIT_CODE=0\n"},
		},
		RunErrs: []error{types.ErrSandboxTimeout, nil},
	}
	v := newValidator(engine, 0)

	res, err := v.Validate(context.Background(), testInstance(), testBundle(), t.TempDir())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.Classification != types.Fail2Fail {
		t.Errorf("classification = %v", res.Classification)
	}
	if res.Diagnostic != types.DiagTimeout {
		t.Errorf("diagnostic = %v", res.Diagnostic)
	}
}

func TestValidate_MissingMarker(t *testing.T) {
	engine := &sandbox.FakeEngine{
		RunResults: []*sandbox.RunResult{
			{Output: "segmentation fault\n"},
			{Output: "EXIT_CODE=0\n"},
		},
	}
	v := newValidator(engine, 0)

	res, err := v.Validate(context.Background(), testInstance(), testBundle(), t.TempDir())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.Classification != types.Fail2Fail {
		t.Errorf("classification = %v", res.Classification)
	}
	if res.Diagnostic != types.DiagRuntimeCrash {
		t.Errorf("diagnostic = %v", res.Diagnostic)
	}
}

func TestValidate_WeakTestUnderSeededEdit(t *testing.T) {
	engine := &sandbox.FakeEngine{
		RunResults: []*sandbox.RunResult{
			{Output: "EXIT_CODE=1\n"}, // pre
			{Output: "EXIT_CODE=0\n"}, // post
			{Output: "EXIT_CODE=0\n"}, // minfix passes: weak test
		},
	}
	v := newValidator(engine, 2)

	res, err := v.Validate(context.Background(), testInstance(), testBundle(), t.TempDir())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.Classification != types.Fail2Pass {
		t.Errorf("classification = %v", res.Classification)
	}
	if !res.MinimalFixChecked || res.MinimalFixPassed {
		t.Errorf("minimal fix: checked=%v passed=%v", res.MinimalFixChecked, res.MinimalFixPassed)
	}
	if res.Diagnostic != types.DiagWeakTest {
		t.Errorf("diagnostic = %v", res.Diagnostic)
	}
}

func TestValidate_MinimalFixSingleFileRunsAllEdits(t *testing.T) {
	engine := &sandbox.FakeEngine{
		RunResults: []*sandbox.RunResult{
			{Output: "EXIT_CODE=1\n"}, // pre
			{Output: "EXIT_CODE=0\n"}, // post
			{Output: "EXIT_CODE=1\n"}, // minfix 0
			{Output: "EXIT_CODE=1\n"}, // minfix 1
			{Output: "EXIT_CODE=1\n"}, // minfix 2
		},
	}
	v := newValidator(engine, 3)

	inst := testInstance()
	inst.FixPatch = "--- a/widget/core.go\n+++ b/widget/core.go\n@@ -1,3 +1,3 @@\n-bad\n+good\n"

	res, err := v.Validate(context.Background(), inst, testBundle(), t.TempDir())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !res.MinimalFixChecked || !res.MinimalFixPassed {
		t.Errorf("minimal fix: checked=%v passed=%v", res.MinimalFixChecked, res.MinimalFixPassed)
	}
	// A fix touching one file still gets the full configured edit count.
	if len(engine.Runs) != 5 {
		t.Errorf("runs = %d, want 5 (pre, post, 3 seeded edits)", len(engine.Runs))
	}
}

func TestValidate_Pass2Pass(t *testing.T) {
	engine := &sandbox.FakeEngine{
		RunResults: []*sandbox.RunResult{
			{Output: "EXIT_CODE=0\n"},
			{Output: "EXIT_CODE=0\n"},
		},
	}
	v := newValidator(engine, 0)

	res, err := v.Validate(context.Background(), testInstance(), testBundle(), t.TempDir())
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.Classification != types.Pass2Pass {
		t.Errorf("classification = %v", res.Classification)
	}
	if res.Diagnostic != types.DiagNoFailPre {
		t.Errorf("diagnostic = %v", res.Diagnostic)
	}
}

func TestValidator_Cleanup(t *testing.T) {
	engine := &sandbox.FakeEngine{
		RunResults: []*sandbox.RunResult{
			{Output: "EXIT_CODE=1\n"},
			{Output: "EXIT_CODE=0\n"},
		},
	}
	v := newValidator(engine, 0)

	if _, err := v.Validate(context.Background(), testInstance(), testBundle(), t.TempDir()); err != nil {
		t.Fatal(err)
	}
	v.Cleanup(context.Background())
	if len(engine.RemovedImages) != 1 {
		t.Errorf("removed %d images, want 1", len(engine.RemovedImages))
	}
}
