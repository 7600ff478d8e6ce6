package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/evalfactory/evalfactory/types"
)

// stopTimeout is the grace period for stopping a container at teardown.
const stopTimeout = 10 * time.Second

// DockerEngine is the Docker-backed Engine implementation.
type DockerEngine struct {
	cli *client.Client
}

// NewDockerEngine creates an engine on the default Docker client.
// An unreachable daemon surfaces as an infrastructure failure.
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: create docker client: %v", types.ErrInfrastructure, err)
	}
	return &DockerEngine{cli: cli}, nil
}

// Close releases the Docker client connection.
func (e *DockerEngine) Close() error {
	if e.cli != nil {
		return e.cli.Close()
	}
	return nil
}

// Build implements Engine. The environment specification is amended with
// an essentials layer and optional GitHub token auth before building.
func (e *DockerEngine) Build(ctx context.Context, in BuildInput) (*BuildResult, error) {
	start := time.Now()

	if in.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.Timeout)
		defer cancel()
	}

	dockerfile := EnsureEssentials(in.Dockerfile)
	dockerfile, token := InjectGitHubToken(dockerfile)

	buildCtx, err := buildContext(dockerfile)
	if err != nil {
		return nil, fmt.Errorf("pack build context: %w", err)
	}

	opts := build.ImageBuildOptions{
		Tags:        []string{in.Tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
		NoCache:     true,
		Platform:    in.Platform,
	}
	if token != "" {
		opts.BuildArgs = map[string]*string{"GITHUB_TOKEN": &token}
	}

	resp, err := e.cli.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &BuildResult{Tag: in.Tag, Duration: time.Since(start)},
				fmt.Errorf("%w: build exceeded %s", types.ErrSandboxTimeout, in.Timeout)
		}
		if client.IsErrConnectionFailed(err) {
			return nil, fmt.Errorf("%w: %v", types.ErrInfrastructure, err)
		}
		return &BuildResult{Tag: in.Tag, Duration: time.Since(start)},
			fmt.Errorf("%w: %v", types.ErrSandboxBuild, err)
	}
	defer func() { _ = resp.Body.Close() }()

	buildLog, buildErr := drainBuildStream(resp.Body)
	result := &BuildResult{Tag: in.Tag, Log: buildLog, Duration: time.Since(start)}

	if buildErr != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("%w: build exceeded %s", types.ErrSandboxTimeout, in.Timeout)
		}
		return result, fmt.Errorf("%w: %v", types.ErrSandboxBuild, buildErr)
	}
	return result, nil
}

// buildStreamChunk is one JSON object of the image build output stream.
type buildStreamChunk struct {
	Stream      string `json:"stream"`
	ErrorDetail *struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

// drainBuildStream consumes the build output stream, accumulating the log.
// An errorDetail chunk terminates the build with that message.
func drainBuildStream(r io.Reader) (string, error) {
	var log strings.Builder
	dec := json.NewDecoder(r)
	for {
		var chunk buildStreamChunk
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return log.String(), nil
			}
			return log.String(), fmt.Errorf("decode build stream: %w", err)
		}
		if chunk.Stream != "" {
			log.WriteString(chunk.Stream)
		}
		if chunk.ErrorDetail != nil {
			msg := chunk.ErrorDetail.Message
			log.WriteString("Error: " + msg + "\n")
			return log.String(), errors.New(msg)
		}
	}
}

// Run implements Engine. It writes the harness script into HostDir, runs
// it in a fresh container with HostDir mounted at /work, and tears the
// container down before returning.
func (e *DockerEngine) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	start := time.Now()

	scriptName := in.Name
	if scriptName == "" {
		scriptName = "harness"
	}
	scriptFile := scriptName + ".sh"
	if err := os.WriteFile(filepath.Join(in.HostDir, scriptFile), []byte(in.Script), 0o755); err != nil {
		return nil, fmt.Errorf("write harness script: %w", err)
	}

	runCtx := ctx
	if in.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, in.Timeout)
		defer cancel()
	}

	name := fmt.Sprintf("evalfactory-%s-%s", scriptName, uuid.New().String()[:8])
	created, err := e.cli.ContainerCreate(runCtx,
		&container.Config{
			Image: in.Image,
			Cmd:   []string{"/bin/bash", "/work/" + scriptFile},
		},
		&container.HostConfig{
			Binds: []string{workBind(in.HostDir)},
		},
		nil, nil, name)
	if err != nil {
		if client.IsErrConnectionFailed(err) {
			return nil, fmt.Errorf("%w: %v", types.ErrInfrastructure, err)
		}
		return nil, fmt.Errorf("%w: create container: %v", types.ErrSandboxCrash, err)
	}
	containerID := created.ID

	// Teardown must run on every exit path, with a context that survives
	// cancellation of the run context.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		e.removeContainer(cleanupCtx, containerID)
	}()

	if err := e.cli.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("%w: start container: %v", types.ErrSandboxCrash, err)
	}

	waitCh, waitErrCh := e.cli.ContainerWait(runCtx, containerID, container.WaitConditionNotRunning)
	select {
	case <-runCtx.Done():
		output := e.collectLogs(ctx, containerID)
		return &RunResult{Output: output, TimedOut: true, Duration: time.Since(start)},
			fmt.Errorf("%w: run exceeded %s", types.ErrSandboxTimeout, in.Timeout)
	case err := <-waitErrCh:
		if runCtx.Err() != nil {
			output := e.collectLogs(ctx, containerID)
			return &RunResult{Output: output, TimedOut: true, Duration: time.Since(start)},
				fmt.Errorf("%w: run exceeded %s", types.ErrSandboxTimeout, in.Timeout)
		}
		return nil, fmt.Errorf("%w: wait for container: %v", types.ErrSandboxCrash, err)
	case <-waitCh:
	}

	output := e.collectLogs(ctx, containerID)
	return &RunResult{Output: output, Duration: time.Since(start)}, nil
}

// collectLogs fetches the combined demuxed container output, best effort.
func (e *DockerEngine) collectLogs(ctx context.Context, containerID string) string {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	rc, err := e.cli.ContainerLogs(logCtx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return ""
	}
	defer func() { _ = rc.Close() }()

	var out strings.Builder
	// Streams are multiplexed because the container runs without a TTY.
	_, _ = stdcopy.StdCopy(&out, &out, bufio.NewReader(rc))
	return out.String()
}

// removeContainer stops and force-removes a container with its volumes.
// Idempotent: a missing container is not an error.
func (e *DockerEngine) removeContainer(ctx context.Context, containerID string) {
	if containerID == "" {
		return
	}
	timeout := int(stopTimeout.Seconds())
	_ = e.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	err := e.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		// Removal failure is unactionable here; the next run uses a
		// fresh name so a stale container cannot collide.
		_ = err
	}
}

// workBind mounts the host work directory read-only at /work. The
// harness only reads scripts and patches from the mount; seeded edits
// and patch application happen inside the repository checkout.
func workBind(hostDir string) string {
	return hostDir + ":/work:ro"
}

// RemoveImage implements Engine.
func (e *DockerEngine) RemoveImage(ctx context.Context, tag string) error {
	if tag == "" {
		return nil
	}
	_, err := e.cli.ImageRemove(ctx, tag, image.RemoveOptions{Force: true, PruneChildren: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove image %s: %w", tag, err)
	}
	return nil
}

// Verify DockerEngine implements Engine.
var _ Engine = (*DockerEngine)(nil)
