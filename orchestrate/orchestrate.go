// Package orchestrate drives the per-instance synthesis loop: stage
// generation, sandbox validation, feedback routing, and terminal record
// persistence.
package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/evalfactory/evalfactory/archive"
	"github.com/evalfactory/evalfactory/config"
	"github.com/evalfactory/evalfactory/feedback"
	"github.com/evalfactory/evalfactory/log"
	"github.com/evalfactory/evalfactory/mempool"
	"github.com/evalfactory/evalfactory/metrics"
	"github.com/evalfactory/evalfactory/stage"
	"github.com/evalfactory/evalfactory/store"
	"github.com/evalfactory/evalfactory/types"
	"github.com/evalfactory/evalfactory/validate"
)

// Orchestrator processes task instances end to end. Safe for concurrent
// Process calls; per-instance state never leaves the call.
type Orchestrator struct {
	cfg       *config.Config
	registry  *stage.Registry
	validator *validate.Validator
	pool      mempool.Pool
	results   *store.JSONL
	uploader  *archive.Uploader
	collector *metrics.Collector
}

// New wires an orchestrator. uploader may be nil when archiving is
// disabled.
func New(cfg *config.Config, registry *stage.Registry, validator *validate.Validator, pool mempool.Pool, results *store.JSONL, uploader *archive.Uploader, collector *metrics.Collector) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		validator: validator,
		pool:      pool,
		results:   results,
		uploader:  uploader,
		collector: collector,
	}
}

// Process runs one instance to a terminal record.
//
// Instances already present in the result store are returned as-is
// unless force refresh is configured; the store, not in-process state,
// carries idempotence across interrupted batches. Only infrastructure
// failures return an error; every domain-level outcome lands in a
// record.
func (o *Orchestrator) Process(ctx context.Context, inst *types.TaskInstance) (*types.ResultRecord, error) {
	if err := inst.Validate(); err != nil {
		return nil, err
	}

	if !o.cfg.ForceRefresh {
		if rec, ok := o.results.Get(inst.InstanceID); ok {
			o.collector.IncInstanceSkipped()
			return rec, nil
		}
	}

	logger := log.NewLogger(inst.InstanceID, inst.Repo)
	o.collector.IncInstanceStarted()

	conv := types.NewConversationState(o.cfg.Rounds)
	bundle := &types.ArtifactBundle{}
	hints := make(map[types.Stage]string)

	// A usable pre-existing test patch skips test generation entirely.
	if !inst.NeedsTestGeneration() {
		bundle.Set(types.StageTest, inst.TestPatch)
		logger.Info("using pre-existing test patch", map[string]any{
			"files": len(inst.TestFiles()),
		})
	}

	o.seedFromPool(ctx, inst, bundle, logger)

	workDir := filepath.Join(o.cfg.WorkDir, inst.InstanceID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create work directory: %v", types.ErrInfrastructure, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := o.attempt(ctx, inst, bundle, conv, hints, workDir, logger)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return o.finish(ctx, inst, rec, logger)
		}
	}
}

// attempt runs one round: fill missing artifacts, validate, route.
// Returns a non-nil record on a terminal outcome; (nil, nil) means
// another round should run.
func (o *Orchestrator) attempt(ctx context.Context, inst *types.TaskInstance, bundle *types.ArtifactBundle, conv *types.ConversationState, hints map[types.Stage]string, workDir string, logger *log.Logger) (*types.ResultRecord, error) {
	roundLog := logger.WithRound(conv.Round)

	for _, s := range o.registry.Order() {
		if bundle.Has(s) {
			continue
		}
		gen, ok := o.registry.Generator(s)
		if !ok {
			continue
		}
		hint := hints[s]
		delete(hints, s)

		roundLog.Info("generating artifact", map[string]any{
			"stage":    string(s),
			"has_hint": hint != "",
		})
		artifact, err := gen.Generate(ctx, inst, bundle, hint)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, types.ErrGenerationFailure) {
				return nil, err
			}
			conv.Record(s, hint, "generation failed: "+err.Error())
			roundLog.Warn("stage generation failed", map[string]any{
				"stage": string(s),
				"error": err.Error(),
			})
			if !conv.Advance() {
				return o.terminalRecord(inst, types.StatusFailed, types.FailGeneration, bundle, nil, conv), nil
			}
			return nil, nil
		}
		bundle.Set(s, artifact)
		conv.Record(s, hint, "artifact produced")
	}

	if !bundle.Complete() {
		// A registry without all generator stages cannot make progress.
		return nil, fmt.Errorf("artifact bundle incomplete after generation for %s", inst.InstanceID)
	}

	result, err := o.validator.Validate(ctx, inst, bundle, workDir)
	if err != nil {
		return nil, err
	}

	decision := feedback.Route(result)
	switch decision.Action {
	case feedback.ActionAccept:
		return o.terminalRecord(inst, types.StatusAccepted, "", bundle, result, conv), nil

	case feedback.ActionFail:
		return o.terminalRecord(inst, types.StatusFailed, decision.Reason, bundle, result, conv), nil

	default:
		conv.Record(decision.Stage, decision.Hint, string(result.Classification))
		o.collector.IncStageRetry()
		roundLog.Info("routing retry", map[string]any{
			"stage":          string(decision.Stage),
			"classification": string(result.Classification),
			"diagnostic":     string(result.Diagnostic),
		})
		if !conv.Advance() {
			return o.terminalRecord(inst, types.StatusFailed, types.FailRoundLimit, bundle, result, conv), nil
		}
		bundle.Clear(decision.Stage)
		hints[decision.Stage] = decision.Hint
		return nil, nil
	}
}

// seedFromPool applies a memory pool hit for the instance's repository
// version. Seeded artifacts make the first round skip env and run
// generation.
func (o *Orchestrator) seedFromPool(ctx context.Context, inst *types.TaskInstance, bundle *types.ArtifactBundle, logger *log.Logger) {
	if o.pool == nil {
		return
	}
	fp := types.Fingerprint(inst.Repo, inst.Version)
	entry, ok, err := o.pool.Lookup(ctx, fp)
	if err != nil {
		// Pool trouble degrades to a miss; synthesis still works.
		logger.Warn("memory pool lookup failed", map[string]any{"error": err.Error()})
		o.collector.IncPoolMiss()
		return
	}
	if !ok {
		o.collector.IncPoolMiss()
		return
	}

	bundle.Set(types.StageEnv, entry.EnvironmentSpec)
	bundle.Set(types.StageRun, entry.RunScript)
	o.collector.IncPoolHit()
	logger.Info("seeded artifacts from memory pool", map[string]any{
		"fingerprint": fp,
		"origin":      entry.InstanceID,
	})
}

// terminalRecord assembles the durable record for a finished instance.
func (o *Orchestrator) terminalRecord(inst *types.TaskInstance, status types.RecordStatus, reason types.FailureReason, bundle *types.ArtifactBundle, validation *types.ValidationResult, conv *types.ConversationState) *types.ResultRecord {
	// The round counter is 0-based; one attempt has run beyond it unless
	// the budget-exhausting Advance already counted the final attempt.
	rounds := conv.Round + 1
	if conv.Exhausted() {
		rounds = conv.Round
	}
	return &types.ResultRecord{
		InstanceID: inst.InstanceID,
		Repo:       inst.Repo,
		Status:     status,
		Reason:     reason,
		Bundle:     *bundle,
		Validation: validation,
		Rounds:     rounds,
		FinishedAt: time.Now().UTC(),
	}
}

// finish persists a terminal record: output directory, result store,
// pool write-through, and optional archive upload.
func (o *Orchestrator) finish(ctx context.Context, inst *types.TaskInstance, rec *types.ResultRecord, logger *log.Logger) (*types.ResultRecord, error) {
	o.collector.AddRounds(rec.Rounds)
	if rec.Accepted() {
		o.collector.IncInstanceAccepted()
	} else {
		o.collector.IncInstanceFailed()
	}

	if err := o.writeOutputs(inst, rec); err != nil {
		return nil, fmt.Errorf("%w: write outputs for %s: %v", types.ErrInfrastructure, inst.InstanceID, err)
	}

	if err := o.results.Append(rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Force refresh reprocessed a stored instance; the original
			// record stays authoritative in the append-only store.
			logger.Warn("record already stored, keeping original", nil)
		} else {
			return nil, fmt.Errorf("%w: persist record: %v", types.ErrInfrastructure, err)
		}
	}

	if rec.Accepted() && o.pool != nil {
		fp := types.Fingerprint(inst.Repo, inst.Version)
		entry := &mempool.Entry{
			Repo:            inst.Repo,
			Version:         inst.Version,
			EnvironmentSpec: rec.Bundle.EnvironmentSpec,
			RunScript:       rec.Bundle.RunScript,
			InstanceID:      inst.InstanceID,
			CreatedAt:       time.Now().UTC(),
		}
		if err := o.pool.Commit(ctx, fp, entry); err != nil {
			logger.Warn("memory pool commit failed", map[string]any{"error": err.Error()})
		}
	}

	if rec.Accepted() && o.uploader != nil {
		if err := o.uploader.Upload(ctx, rec); err != nil {
			logger.Warn("archive upload failed", map[string]any{"error": err.Error()})
		}
	}

	logger.Info("instance finished", map[string]any{
		"status": string(rec.Status),
		"reason": string(rec.Reason),
		"rounds": rec.Rounds,
	})
	return rec, nil
}

// writeOutputs materializes the record under <output>/<instance-id>/.
func (o *Orchestrator) writeOutputs(inst *types.TaskInstance, rec *types.ResultRecord) error {
	dir := filepath.Join(o.cfg.OutputDir, inst.InstanceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	statusJSON, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	files := map[string][]byte{
		"status.json": statusJSON,
	}
	if rec.Bundle.EnvironmentSpec != "" {
		files["Dockerfile"] = []byte(rec.Bundle.EnvironmentSpec)
	}
	if rec.Bundle.RunScript != "" {
		files["eval.sh"] = []byte(rec.Bundle.RunScript)
	}
	if rec.Bundle.TestPatch != "" {
		files["test.patch"] = []byte(rec.Bundle.TestPatch)
	}
	if rec.Validation != nil {
		if rec.Validation.Pre.Log != "" {
			files["test_output_prev_apply.txt"] = []byte(rec.Validation.Pre.Log)
		}
		if rec.Validation.Post.Log != "" {
			files["test_output.txt"] = []byte(rec.Validation.Post.Log)
		}
		if rec.Validation.BuildLog != "" {
			files["build.log"] = []byte(rec.Validation.BuildLog)
		}
	}

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Close releases sandbox resources held across instances.
func (o *Orchestrator) Close(ctx context.Context) {
	o.validator.Cleanup(ctx)
}
