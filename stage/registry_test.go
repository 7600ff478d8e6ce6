package stage

import (
	"context"
	"testing"

	"github.com/evalfactory/evalfactory/types"
)

// staticGen is a canned generator for registry tests.
type staticGen struct {
	stage    types.Stage
	inputs   []types.Stage
	artifact string
}

func (g *staticGen) Stage() types.Stage    { return g.stage }
func (g *staticGen) Inputs() []types.Stage { return g.inputs }
func (g *staticGen) Generate(context.Context, *types.TaskInstance, *types.ArtifactBundle, string) (string, error) {
	return g.artifact, nil
}

func TestNewRegistry_Order(t *testing.T) {
	r, err := NewRegistry(
		&staticGen{stage: types.StageRun, inputs: []types.Stage{types.StageTest, types.StageEnv}},
		&staticGen{stage: types.StageEnv, inputs: []types.Stage{types.StageContext}},
		&staticGen{stage: types.StageContext},
		&staticGen{stage: types.StageTest, inputs: []types.Stage{types.StageContext}},
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	order := r.Order()
	if len(order) != 4 {
		t.Fatalf("order has %d stages, want 4", len(order))
	}
	pos := make(map[types.Stage]int, len(order))
	for i, s := range order {
		pos[s] = i
	}
	if pos[types.StageContext] > pos[types.StageTest] || pos[types.StageContext] > pos[types.StageEnv] {
		t.Errorf("context must precede test and env: %v", order)
	}
	if pos[types.StageRun] != 3 {
		t.Errorf("run must come last: %v", order)
	}
}

func TestNewRegistry_IsolatedStage(t *testing.T) {
	r, err := NewRegistry(
		&staticGen{stage: types.StageContext},
		&staticGen{stage: types.StageEnv},
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if got := r.Order(); len(got) != 2 {
		t.Errorf("order = %v, want both stages", got)
	}
}

func TestNewRegistry_Errors(t *testing.T) {
	tests := []struct {
		name string
		gens []Generator
	}{
		{
			"duplicate stage",
			[]Generator{
				&staticGen{stage: types.StageContext},
				&staticGen{stage: types.StageContext},
			},
		},
		{
			"unregistered dependency",
			[]Generator{
				&staticGen{stage: types.StageTest, inputs: []types.Stage{types.StageContext}},
			},
		},
		{
			"cycle",
			[]Generator{
				&staticGen{stage: types.StageTest, inputs: []types.Stage{types.StageEnv}},
				&staticGen{stage: types.StageEnv, inputs: []types.Stage{types.StageTest}},
			},
		},
		{
			"invalid stage",
			[]Generator{&staticGen{stage: types.Stage("bogus")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.gens...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRegistry_Ready(t *testing.T) {
	r, err := NewRegistry(
		&staticGen{stage: types.StageContext},
		&staticGen{stage: types.StageTest, inputs: []types.Stage{types.StageContext}},
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	bundle := &types.ArtifactBundle{}
	if !r.Ready(types.StageContext, bundle) {
		t.Error("context should be ready with an empty bundle")
	}
	if r.Ready(types.StageTest, bundle) {
		t.Error("test should not be ready before context artifact exists")
	}

	bundle.Set(types.StageContext, "repo summary")
	if !r.Ready(types.StageTest, bundle) {
		t.Error("test should be ready once context artifact exists")
	}
}
