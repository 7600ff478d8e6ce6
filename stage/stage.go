// Package stage defines the synthesis stages that produce the artifact
// bundle for a task instance, and the registry that orders them.
//
// Each stage transforms the instance plus previously produced artifacts
// into one new artifact. Stages declare the artifacts they consume, and
// the registry derives a deterministic execution order from those
// declarations.
package stage

import (
	"context"

	"github.com/evalfactory/evalfactory/types"
)

// Generator produces one artifact of the bundle.
type Generator interface {
	// Stage identifies the artifact this generator produces.
	Stage() types.Stage

	// Inputs lists the stages whose artifacts must exist before this
	// generator can run.
	Inputs() []types.Stage

	// Generate produces the artifact content. The hint carries routed
	// feedback from a prior failed validation, empty on the first
	// attempt. A failure is reported as types.ErrGenerationFailure.
	Generate(ctx context.Context, inst *types.TaskInstance, bundle *types.ArtifactBundle, hint string) (string, error)
}

// Request is the JSON payload handed to a generator backend.
type Request struct {
	Stage    types.Stage           `json:"stage"`
	Instance *types.TaskInstance   `json:"instance"`
	Bundle   *types.ArtifactBundle `json:"bundle"`
	Hint     string                `json:"hint,omitempty"`
}

// Response is the JSON payload a generator backend returns.
type Response struct {
	Artifact string `json:"artifact"`
	Error    string `json:"error,omitempty"`
}
