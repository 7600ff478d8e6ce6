package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/evalfactory/evalfactory/types"
)

// CommandGenerator runs an external backend command to produce one
// artifact. The request is written to the command's stdin as JSON and
// the response is read from stdout as JSON. A nonzero exit or a
// response carrying an error is a generation failure.
type CommandGenerator struct {
	stage   types.Stage
	inputs  []types.Stage
	command string
	args    []string
	timeout time.Duration
}

// NewCommandGenerator creates a generator for one stage backed by an
// external command. The stage name is appended to the argument list so
// a single backend binary can serve every stage.
func NewCommandGenerator(s types.Stage, inputs []types.Stage, command string, args []string, timeout time.Duration) *CommandGenerator {
	return &CommandGenerator{
		stage:   s,
		inputs:  inputs,
		command: command,
		args:    append(append([]string{}, args...), string(s)),
		timeout: timeout,
	}
}

func (g *CommandGenerator) Stage() types.Stage    { return g.stage }
func (g *CommandGenerator) Inputs() []types.Stage { return g.inputs }

// Generate implements Generator.
func (g *CommandGenerator) Generate(ctx context.Context, inst *types.TaskInstance, bundle *types.ArtifactBundle, hint string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req := Request{
		Stage:    g.stage,
		Instance: inst,
		Bundle:   bundle,
		Hint:     hint,
	}
	input, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", g.stage, err)
	}

	cmd := exec.CommandContext(ctx, g.command, g.args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %s backend timed out after %s",
				types.ErrGenerationFailure, g.stage, g.timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: %s backend exited %d: %s",
				types.ErrGenerationFailure, g.stage, exitErr.ExitCode(),
				strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("%w: run %s backend: %v", types.ErrGenerationFailure, g.stage, err)
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("%w: decode %s response: %v", types.ErrGenerationFailure, g.stage, err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: %s backend: %s", types.ErrGenerationFailure, g.stage, resp.Error)
	}
	if strings.TrimSpace(resp.Artifact) == "" {
		return "", fmt.Errorf("%w: %s backend returned an empty artifact", types.ErrGenerationFailure, g.stage)
	}
	return resp.Artifact, nil
}

// NewCommandRegistry wires a command backend into the standard four
// generator stages and returns the ordered registry.
func NewCommandRegistry(command string, args []string, timeout time.Duration) (*Registry, error) {
	return NewRegistry(
		NewCommandGenerator(types.StageContext, nil, command, args, timeout),
		NewCommandGenerator(types.StageTest, []types.Stage{types.StageContext}, command, args, timeout),
		NewCommandGenerator(types.StageEnv, []types.Stage{types.StageContext}, command, args, timeout),
		NewCommandGenerator(types.StageRun, []types.Stage{types.StageTest, types.StageEnv}, command, args, timeout),
	)
}

var _ Generator = (*CommandGenerator)(nil)
