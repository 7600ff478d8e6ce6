package sandbox

import (
	"context"
	"sync"
)

// FakeEngine is an in-memory Engine for tests. Responses are scripted
// per call in FIFO order; a nil queue entry falls back to the default.
type FakeEngine struct {
	mu sync.Mutex

	// BuildFunc, when set, handles Build calls.
	BuildFunc func(ctx context.Context, in BuildInput) (*BuildResult, error)
	// RunFunc, when set, handles Run calls.
	RunFunc func(ctx context.Context, in RunInput) (*RunResult, error)

	// RunResults are returned in order when RunFunc is unset.
	RunResults []*RunResult
	// RunErrs pair with RunResults by index.
	RunErrs []error

	// Builds records every Build input.
	Builds []BuildInput
	// Runs records every Run input.
	Runs []RunInput
	// RemovedImages records RemoveImage tags.
	RemovedImages []string
	// Closed reports whether Close was called.
	Closed bool

	runIdx int
}

func (f *FakeEngine) Build(ctx context.Context, in BuildInput) (*BuildResult, error) {
	f.mu.Lock()
	f.Builds = append(f.Builds, in)
	fn := f.BuildFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, in)
	}
	return &BuildResult{Tag: in.Tag, Log: "fake build ok"}, nil
}

func (f *FakeEngine) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	f.mu.Lock()
	f.Runs = append(f.Runs, in)
	fn := f.RunFunc
	var res *RunResult
	var err error
	if fn == nil {
		if f.runIdx < len(f.RunResults) {
			res = f.RunResults[f.runIdx]
		}
		if f.runIdx < len(f.RunErrs) {
			err = f.RunErrs[f.runIdx]
		}
		f.runIdx++
	}
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, in)
	}
	if res == nil && err == nil {
		res = &RunResult{Output: "EXIT_CODE=0\n"}
	}
	return res, err
}

func (f *FakeEngine) RemoveImage(_ context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RemovedImages = append(f.RemovedImages, tag)
	return nil
}

func (f *FakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

var _ Engine = (*FakeEngine)(nil)
