package orchestrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/evalfactory/evalfactory/config"
	"github.com/evalfactory/evalfactory/mempool"
	"github.com/evalfactory/evalfactory/metrics"
	"github.com/evalfactory/evalfactory/sandbox"
	"github.com/evalfactory/evalfactory/stage"
	"github.com/evalfactory/evalfactory/store"
	"github.com/evalfactory/evalfactory/types"
	"github.com/evalfactory/evalfactory/validate"
)

// scriptedGen returns canned artifacts, one per call, repeating the last.
type scriptedGen struct {
	stage     types.Stage
	inputs    []types.Stage
	artifacts []string
	errs      []error

	mu    sync.Mutex
	calls int
	hints []string
}

func (g *scriptedGen) Stage() types.Stage    { return g.stage }
func (g *scriptedGen) Inputs() []types.Stage { return g.inputs }

func (g *scriptedGen) Generate(_ context.Context, _ *types.TaskInstance, _ *types.ArtifactBundle, hint string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	g.hints = append(g.hints, hint)

	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if len(g.artifacts) == 0 {
		return string(g.stage) + " artifact", nil
	}
	if i >= len(g.artifacts) {
		i = len(g.artifacts) - 1
	}
	return g.artifacts[i], nil
}

func (g *scriptedGen) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fixture struct {
	cfg       *config.Config
	engine    *sandbox.FakeEngine
	gens      map[types.Stage]*scriptedGen
	pool      mempool.Pool
	results   *store.JSONL
	collector *metrics.Collector
	orch      *Orchestrator
}

func newFixture(t *testing.T, rounds int, engine *sandbox.FakeEngine) *fixture {
	t.Helper()

	gens := map[types.Stage]*scriptedGen{
		types.StageContext: {stage: types.StageContext},
		types.StageTest:    {stage: types.StageTest, inputs: []types.Stage{types.StageContext}, artifacts: []string{"--- a/widget/core_test.go\n"}},
		types.StageEnv:     {stage: types.StageEnv, inputs: []types.Stage{types.StageContext}, artifacts: []string{"FROM ubuntu:22.04\nWORKDIR /testbed\n"}},
		types.StageRun:     {stage: types.StageRun, inputs: []types.Stage{types.StageTest, types.StageEnv}, artifacts: []string{"go test ./..."}},
	}
	registry, err := stage.NewRegistry(
		gens[types.StageContext], gens[types.StageTest], gens[types.StageEnv], gens[types.StageRun],
	)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Workers:   2,
		Rounds:    rounds,
		OutputDir: filepath.Join(t.TempDir(), "output"),
		WorkDir:   filepath.Join(t.TempDir(), "work"),
	}

	results, err := store.Open(filepath.Join(t.TempDir(), "results.jsonl"))
	if err != nil {
		t.Fatal(err)
	}

	collector := metrics.NewCollector("scripted", "test-batch")
	validator := validate.New(engine, nil, validate.Options{
		BuildTimeout: time.Minute,
		RunTimeout:   time.Minute,
		Metrics:      collector,
	})
	pool := mempool.NewMemory()

	return &fixture{
		cfg:       cfg,
		engine:    engine,
		gens:      gens,
		pool:      pool,
		results:   results,
		collector: collector,
		orch:      New(cfg, registry, validator, pool, results, nil, collector),
	}
}

// engineByName routes harness outcomes by script name prefix.
func engineByName(outcomes map[string]string) *sandbox.FakeEngine {
	return &sandbox.FakeEngine{
		RunFunc: func(_ context.Context, in sandbox.RunInput) (*sandbox.RunResult, error) {
			for prefix, output := range outcomes {
				if in.Name == prefix {
					return &sandbox.RunResult{Output: output}, nil
				}
			}
			return &sandbox.RunResult{Output: "EXIT_CODE=0\n"}, nil
		},
	}
}

func instance(id string) *types.TaskInstance {
	return &types.TaskInstance{
		Repo:       "acme/widget",
		InstanceID: id,
		BaseCommit: "deadbeef",
		FixPatch:   "--- a/widget/core.go\n+++ b/widget/core.go\n",
		Version:    "1.4",
	}
}

func TestProcess_AcceptsFail2Pass(t *testing.T) {
	engine := engineByName(map[string]string{
		"pre":  "EXIT_CODE=1\n",
		"post": "EXIT_CODE=0\n",
	})
	fx := newFixture(t, 5, engine)

	rec, err := fx.orch.Process(context.Background(), instance("acme__widget-1"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !rec.Accepted() {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Rounds != 1 {
		t.Errorf("rounds = %d, want 1", rec.Rounds)
	}
	if rec.Validation.Classification != types.Fail2Pass {
		t.Errorf("classification = %v", rec.Validation.Classification)
	}

	// Every generator ran exactly once.
	for s, g := range fx.gens {
		if g.callCount() != 1 {
			t.Errorf("stage %s called %d times, want 1", s, g.callCount())
		}
	}

	// Record persisted.
	if !fx.results.Has("acme__widget-1") {
		t.Error("record not stored")
	}

	// Pool write-through.
	entry, ok, _ := fx.pool.Lookup(context.Background(), types.Fingerprint("acme/widget", "1.4"))
	if !ok {
		t.Fatal("pool not seeded after accept")
	}
	if entry.InstanceID != "acme__widget-1" {
		t.Errorf("pool origin = %q", entry.InstanceID)
	}

	// Output directory materialized.
	outDir := filepath.Join(fx.cfg.OutputDir, "acme__widget-1")
	for _, name := range []string{"status.json", "Dockerfile", "eval.sh", "test.patch", "test_output_prev_apply.txt", "test_output.txt"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}
}

func TestProcess_SkipsStoredInstance(t *testing.T) {
	engine := engineByName(map[string]string{"pre": "EXIT_CODE=1\n", "post": "EXIT_CODE=0\n"})
	fx := newFixture(t, 5, engine)

	inst := instance("acme__widget-2")
	if _, err := fx.orch.Process(context.Background(), inst); err != nil {
		t.Fatal(err)
	}
	genCalls := fx.gens[types.StageContext].callCount()

	rec, err := fx.orch.Process(context.Background(), inst)
	if err != nil {
		t.Fatalf("second Process failed: %v", err)
	}
	if !rec.Accepted() {
		t.Error("skip must return the stored record")
	}
	if fx.gens[types.StageContext].callCount() != genCalls {
		t.Error("skipped instance must not regenerate")
	}
	if fx.collector.Snapshot().InstancesSkipped != 1 {
		t.Error("skip not counted")
	}
}

func TestProcess_RetriesTestStageThenAccepts(t *testing.T) {
	// First attempt: the test passes without the fix. After the test
	// stage regenerates, the test fails pre and passes post.
	var mu sync.Mutex
	attempt := 0
	engine := &sandbox.FakeEngine{
		RunFunc: func(_ context.Context, in sandbox.RunInput) (*sandbox.RunResult, error) {
			mu.Lock()
			defer mu.Unlock()
			if in.Name == "pre" {
				attempt++
				if attempt == 1 {
					return &sandbox.RunResult{Output: "EXIT_CODE=0\n"}, nil
				}
				return &sandbox.RunResult{Output: "EXIT_CODE=1\n"}, nil
			}
			return &sandbox.RunResult{Output: "EXIT_CODE=0\n"}, nil
		},
	}
	fx := newFixture(t, 5, engine)

	rec, err := fx.orch.Process(context.Background(), instance("acme__widget-3"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !rec.Accepted() {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Rounds != 2 {
		t.Errorf("rounds = %d, want 2", rec.Rounds)
	}
	if fx.gens[types.StageTest].callCount() != 2 {
		t.Errorf("test stage called %d times, want 2", fx.gens[types.StageTest].callCount())
	}
	// The retried stage received a hint.
	hints := fx.gens[types.StageTest].hints
	if len(hints) != 2 || hints[0] != "" || hints[1] == "" {
		t.Errorf("hints = %q", hints)
	}
	// Untouched stages did not regenerate.
	if fx.gens[types.StageEnv].callCount() != 1 {
		t.Errorf("env stage called %d times, want 1", fx.gens[types.StageEnv].callCount())
	}
}

func TestProcess_RoundLimit(t *testing.T) {
	// Test passes both runs every round: it never fails before the fix.
	engine := engineByName(map[string]string{"pre": "EXIT_CODE=0\n", "post": "EXIT_CODE=0\n"})
	fx := newFixture(t, 2, engine)

	rec, err := fx.orch.Process(context.Background(), instance("acme__widget-4"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if rec.Status != types.StatusFailed {
		t.Fatalf("status = %v", rec.Status)
	}
	if rec.Reason != types.FailRoundLimit {
		t.Errorf("reason = %v", rec.Reason)
	}
	if rec.Rounds != 2 {
		t.Errorf("rounds = %d, want 2", rec.Rounds)
	}
	if !fx.results.Has("acme__widget-4") {
		t.Error("failed record must also be stored")
	}
}

func TestProcess_RegressionIsTerminal(t *testing.T) {
	engine := engineByName(map[string]string{"pre": "EXIT_CODE=0\n", "post": "EXIT_CODE=1\n"})
	fx := newFixture(t, 5, engine)

	rec, err := fx.orch.Process(context.Background(), instance("acme__widget-5"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if rec.Status != types.StatusFailed || rec.Reason != types.FailRegression {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Rounds != 1 {
		t.Errorf("regression must not retry, rounds = %d", rec.Rounds)
	}
}

func TestProcess_GenerationFailureExhaustsBudget(t *testing.T) {
	engine := engineByName(nil)
	fx := newFixture(t, 2, engine)

	failing := fx.gens[types.StageContext]
	failing.errs = []error{
		fmt.Errorf("%w: backend exited 2", types.ErrGenerationFailure),
		fmt.Errorf("%w: backend exited 2", types.ErrGenerationFailure),
	}

	rec, err := fx.orch.Process(context.Background(), instance("acme__widget-6"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if rec.Status != types.StatusFailed || rec.Reason != types.FailGeneration {
		t.Fatalf("record = %+v", rec)
	}
}

func TestProcess_PoolSeedSkipsEnvAndRun(t *testing.T) {
	engine := engineByName(map[string]string{"pre": "EXIT_CODE=1\n", "post": "EXIT_CODE=0\n"})
	fx := newFixture(t, 5, engine)

	fp := types.Fingerprint("acme/widget", "1.4")
	seed := &mempool.Entry{
		Repo:            "acme/widget",
		Version:         "1.4",
		EnvironmentSpec: "FROM ubuntu:22.04\nWORKDIR /testbed\n",
		RunScript:       "go test ./...",
		InstanceID:      "acme__widget-0",
	}
	if err := fx.pool.Commit(context.Background(), fp, seed); err != nil {
		t.Fatal(err)
	}

	rec, err := fx.orch.Process(context.Background(), instance("acme__widget-7"))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !rec.Accepted() {
		t.Fatalf("record = %+v", rec)
	}
	if fx.gens[types.StageEnv].callCount() != 0 {
		t.Error("env stage should be seeded from the pool")
	}
	if fx.gens[types.StageRun].callCount() != 0 {
		t.Error("run stage should be seeded from the pool")
	}
	if fx.collector.Snapshot().PoolHits != 1 {
		t.Error("pool hit not counted")
	}
}

func TestProcess_PreExistingTestPatch(t *testing.T) {
	engine := engineByName(map[string]string{"pre": "EXIT_CODE=1\n", "post": "EXIT_CODE=0\n"})
	fx := newFixture(t, 5, engine)

	inst := instance("acme__widget-8")
	inst.TestPatch = "--- a/t1_test.go\n--- a/t2_test.go\n--- a/t3_test.go\n"

	rec, err := fx.orch.Process(context.Background(), inst)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !rec.Accepted() {
		t.Fatalf("record = %+v", rec)
	}
	if fx.gens[types.StageTest].callCount() != 0 {
		t.Error("test stage must not run when the instance carries a usable test patch")
	}
	if rec.Bundle.TestPatch != inst.TestPatch {
		t.Error("bundle must carry the pre-existing test patch")
	}
}

func TestProcessAll(t *testing.T) {
	var mu sync.Mutex
	engine := &sandbox.FakeEngine{
		RunFunc: func(_ context.Context, in sandbox.RunInput) (*sandbox.RunResult, error) {
			mu.Lock()
			defer mu.Unlock()
			// Instances under /batch-fail/ regress; the rest accept.
			if in.Name == "pre" {
				return &sandbox.RunResult{Output: "EXIT_CODE=1\n"}, nil
			}
			return &sandbox.RunResult{Output: "EXIT_CODE=0\n"}, nil
		},
	}
	fx := newFixture(t, 3, engine)

	instances := []*types.TaskInstance{
		instance("batch-1"),
		instance("batch-2"),
		instance("batch-3"),
	}

	res := fx.orch.ProcessAll(context.Background(), instances)
	if res.Accepted != 3 || res.Failed != 0 || res.Errored != 0 {
		t.Fatalf("batch = %+v", res)
	}
	if !res.Ok() {
		t.Error("Ok() = false for an all-accepted batch")
	}
	if len(res.Records) != 3 {
		t.Errorf("records = %d", len(res.Records))
	}
	if fx.results.Len() != 3 {
		t.Errorf("stored = %d", fx.results.Len())
	}
}
