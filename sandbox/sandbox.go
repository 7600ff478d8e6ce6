// Package sandbox builds isolated, reproducible execution environments
// from an environment specification and runs commands inside them.
//
// The Engine owns no state beyond one invocation: every Run gets a fresh
// container, and containers are always torn down on every exit path.
package sandbox

import (
	"context"
	"time"
)

// BuildInput configures one image build.
type BuildInput struct {
	// Dockerfile is the environment specification content.
	Dockerfile string
	// Tag is the image tag to produce.
	Tag string
	// Platform is the target platform (e.g. linux/amd64).
	Platform string
	// Timeout bounds the build wall-clock time. Zero means no bound.
	Timeout time.Duration
}

// BuildResult reports one image build.
type BuildResult struct {
	// Tag is the built image tag.
	Tag string
	// Log is the captured build output.
	Log string
	// Duration is the build wall-clock time.
	Duration time.Duration
}

// RunInput configures one script execution inside a built image.
type RunInput struct {
	// Image is the image tag to run in.
	Image string
	// HostDir is a host directory bind-mounted read-only at /work.
	// The harness script and patch files live here.
	HostDir string
	// Script is the harness script content, written to HostDir and
	// executed as /bin/bash /work/<name>.
	Script string
	// Name distinguishes script files within HostDir (e.g. "pre", "post").
	Name string
	// Timeout bounds the run wall-clock time. Zero means no bound.
	Timeout time.Duration
}

// RunResult reports one script execution.
type RunResult struct {
	// Output is the combined captured stdout+stderr.
	Output string
	// TimedOut reports whether the run hit its wall-clock budget.
	TimedOut bool
	// Duration is the run wall-clock time.
	Duration time.Duration
}

// Engine abstracts the sandbox backend for testing.
type Engine interface {
	// Build produces an image from the environment specification.
	// On build failure the returned result still carries the build log.
	Build(ctx context.Context, in BuildInput) (*BuildResult, error)

	// Run executes a harness script in a fresh container of the image.
	// The container is removed before Run returns, on every path.
	Run(ctx context.Context, in RunInput) (*RunResult, error)

	// RemoveImage deletes a built image. Not-found is not an error.
	RemoveImage(ctx context.Context, tag string) error

	// Close releases backend resources.
	Close() error
}
