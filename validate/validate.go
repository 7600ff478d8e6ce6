// Package validate runs the two-phase sandbox evaluation of an artifact
// bundle and classifies the test's behavior around the gold fix.
package validate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/evalfactory/evalfactory/log"
	"github.com/evalfactory/evalfactory/metrics"
	"github.com/evalfactory/evalfactory/sandbox"
	"github.com/evalfactory/evalfactory/types"
)

// Options configures a Validator.
type Options struct {
	// BuildTimeout bounds each image build.
	BuildTimeout time.Duration
	// RunTimeout bounds each harness run.
	RunTimeout time.Duration
	// Platform is the sandbox target platform.
	Platform string
	// KeepImages disables image cleanup, for debugging.
	KeepImages bool
	// MinFixEdits is the number of non-gold edits the minimal-fix check
	// seeds. Zero disables the check.
	MinFixEdits int
	// Metrics receives sandbox counters. Nil is fine.
	Metrics *metrics.Collector
}

// Validator builds sandbox images and executes the pre/post harness.
// Images are cached by environment-specification digest, so unchanged
// specifications across retry rounds rebuild nothing.
type Validator struct {
	engine sandbox.Engine
	logger *log.Logger
	opts   Options

	mu     sync.Mutex
	images map[string]string // env spec digest -> image tag
}

// New creates a Validator on the given sandbox engine.
func New(engine sandbox.Engine, logger *log.Logger, opts Options) *Validator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Validator{
		engine: engine,
		logger: logger,
		opts:   opts,
		images: make(map[string]string),
	}
}

// Validate executes the bundle against the instance and classifies the
// outcome. hostDir is a per-instance scratch directory shared with the
// sandbox. Only infrastructure failures surface as errors; everything
// the synthesis loop can react to is encoded in the result.
func (v *Validator) Validate(ctx context.Context, inst *types.TaskInstance, bundle *types.ArtifactBundle, hostDir string) (*types.ValidationResult, error) {
	result := &types.ValidationResult{}

	tag, buildLog, err := v.ensureImage(ctx, inst, bundle.EnvironmentSpec)
	if err != nil {
		if errors.Is(err, types.ErrInfrastructure) {
			return nil, err
		}
		result.Pre.Outcome = types.ExecError
		result.Post.Outcome = types.ExecError
		result.Classification = types.Fail2Fail
		result.BuildLog = truncateLog(buildLog)
		if errors.Is(err, types.ErrSandboxTimeout) {
			result.Diagnostic = types.DiagTimeout
			v.opts.Metrics.IncTimeout()
		} else {
			result.Diagnostic = types.DiagBuildError
		}
		v.logger.Warn("sandbox build failed", map[string]any{
			"instance_id": inst.InstanceID,
			"diagnostic":  string(result.Diagnostic),
		})
		return result, nil
	}

	if err := v.writeInputs(hostDir, inst, bundle); err != nil {
		return nil, fmt.Errorf("%w: prepare work directory: %v", types.ErrInfrastructure, err)
	}

	pre, err := v.runHarness(ctx, tag, hostDir, "pre", []string{testPatchFile}, nil)
	if err != nil {
		return nil, err
	}
	result.Pre = *pre

	post, err := v.runHarness(ctx, tag, hostDir, "post", []string{testPatchFile, fixPatchFile}, nil)
	if err != nil {
		return nil, err
	}
	result.Post = *post

	result.Classification = types.Classify(result.Pre.Outcome, result.Post.Outcome)
	result.Diagnostic = diagnose(result)

	if result.Classification == types.Fail2Pass && v.opts.MinFixEdits > 0 {
		if err := v.minimalFixCheck(ctx, tag, hostDir, inst, result); err != nil {
			return nil, err
		}
	}

	v.opts.Metrics.IncClassification(string(result.Classification))
	v.logger.Info("validation complete", map[string]any{
		"instance_id":    inst.InstanceID,
		"classification": string(result.Classification),
		"diagnostic":     string(result.Diagnostic),
	})
	return result, nil
}

// ensureImage builds the environment image unless an identical
// specification was already built for this validator.
func (v *Validator) ensureImage(ctx context.Context, inst *types.TaskInstance, envSpec string) (string, string, error) {
	digest := specDigest(envSpec)

	v.mu.Lock()
	if tag, ok := v.images[digest]; ok {
		v.mu.Unlock()
		v.logger.Debug("reusing cached image", map[string]any{
			"instance_id": inst.InstanceID,
			"tag":         tag,
		})
		return tag, "", nil
	}
	v.mu.Unlock()

	tag := fmt.Sprintf("evalfactory/%s:%s", sanitizeTag(inst.InstanceID), digest[:12])
	v.opts.Metrics.IncImageBuild()
	res, err := v.engine.Build(ctx, sandbox.BuildInput{
		Dockerfile: envSpec,
		Tag:        tag,
		Platform:   v.opts.Platform,
		Timeout:    v.opts.BuildTimeout,
	})
	buildLog := ""
	if res != nil {
		buildLog = res.Log
	}
	if err != nil {
		v.opts.Metrics.IncBuildFailure()
		return "", buildLog, err
	}

	v.mu.Lock()
	v.images[digest] = tag
	v.mu.Unlock()
	return tag, buildLog, nil
}

// runHarness executes one harness configuration and reports the outcome.
func (v *Validator) runHarness(ctx context.Context, image, hostDir, name string, patches, extraCmds []string) (*types.ExecutionReport, error) {
	v.opts.Metrics.IncHarnessRun()
	res, err := v.engine.Run(ctx, sandbox.RunInput{
		Image:   image,
		HostDir: hostDir,
		Script:  harnessScript(patches, extraCmds),
		Name:    name,
		Timeout: v.opts.RunTimeout,
	})
	if err != nil {
		if errors.Is(err, types.ErrInfrastructure) {
			return nil, err
		}
		report := &types.ExecutionReport{Outcome: types.ExecError}
		if res != nil {
			report.Log = truncateLog(res.Output)
			report.Duration = res.Duration
			report.TimedOut = res.TimedOut
		}
		if errors.Is(err, types.ErrSandboxTimeout) {
			report.TimedOut = true
		}
		if report.TimedOut {
			v.opts.Metrics.IncTimeout()
		}
		return report, nil
	}

	code, found := types.ExtractExitCode(res.Output)
	return &types.ExecutionReport{
		Outcome:     types.OutcomeFromExitCode(code, found),
		ExitCode:    code,
		MarkerFound: found,
		Log:         truncateLog(res.Output),
		Duration:    res.Duration,
	}, nil
}

// minimalFixCheck reruns the pre-fix harness with trivial non-gold edits
// seeded into the tree. The test must keep failing; a pass means it does
// not discriminate the real fix.
func (v *Validator) minimalFixCheck(ctx context.Context, image, hostDir string, inst *types.TaskInstance, result *types.ValidationResult) error {
	files := types.ChangedFiles(inst.FixPatch)
	seeds := seedEditCommands(files, v.opts.MinFixEdits)
	if len(seeds) == 0 {
		return nil
	}

	result.MinimalFixChecked = true
	result.MinimalFixPassed = true

	for i, seed := range seeds {
		name := fmt.Sprintf("minfix-%d", i)
		report, err := v.runHarness(ctx, image, hostDir, name, []string{testPatchFile}, []string{seed})
		if err != nil {
			return err
		}
		if report.Outcome == types.ExecPass {
			result.MinimalFixPassed = false
			result.Diagnostic = types.DiagWeakTest
			v.logger.Warn("test passed under non-gold edit", map[string]any{
				"instance_id": inst.InstanceID,
				"seed":        seed,
			})
			return nil
		}
	}
	return nil
}

// writeInputs places the run script and both patches in the shared work
// directory.
func (v *Validator) writeInputs(hostDir string, inst *types.TaskInstance, bundle *types.ArtifactBundle) error {
	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		return err
	}
	files := map[string]string{
		runScriptFile: bundle.RunScript,
		testPatchFile: bundle.TestPatch,
		fixPatchFile:  inst.FixPatch,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(hostDir, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup removes every cached image. No-op when KeepImages is set.
func (v *Validator) Cleanup(ctx context.Context) {
	if v.opts.KeepImages {
		return
	}
	v.mu.Lock()
	tags := make([]string, 0, len(v.images))
	for digest, tag := range v.images {
		tags = append(tags, tag)
		delete(v.images, digest)
	}
	v.mu.Unlock()

	for _, tag := range tags {
		if err := v.engine.RemoveImage(ctx, tag); err != nil {
			v.logger.Warn("image cleanup failed", map[string]any{"tag": tag, "error": err.Error()})
		}
	}
}

// diagnose maps a classification with its execution reports onto the
// diagnostic tag the feedback router consumes.
func diagnose(r *types.ValidationResult) types.DiagnosticTag {
	if r.Pre.Outcome == types.ExecError || r.Post.Outcome == types.ExecError {
		bad := r.Pre
		if bad.Outcome != types.ExecError {
			bad = r.Post
		}
		if bad.TimedOut {
			return types.DiagTimeout
		}
		return types.DiagRuntimeCrash
	}
	switch r.Classification {
	case types.Pass2Pass:
		return types.DiagNoFailPre
	case types.Fail2Fail:
		return types.DiagAssertion
	default:
		return types.DiagNone
	}
}

// specDigest is the cache key for an environment specification.
func specDigest(envSpec string) string {
	sum := sha256.Sum256([]byte(envSpec))
	return hex.EncodeToString(sum[:])
}

// sanitizeTag lowercases an instance identifier into a valid image
// repository name.
func sanitizeTag(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
