// Package types defines core domain types for the evalfactory engine.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MinTestPatchFiles is the structural threshold below which a pre-existing
// test patch is considered too small and test generation is triggered.
const MinTestPatchFiles = 3

var (
	diffModifiedFileRe = regexp.MustCompile(`(?m)^--- a/(.*)$`)
	diffNewFileRe      = regexp.MustCompile(`--- /dev/null\n\+\+\+ b/(.*)`)
)

// TaskInstance is the immutable input record for one issue-resolution task.
// It is produced by the external collection process and read-only to the
// engine. Identity is (Repo, InstanceID).
type TaskInstance struct {
	// Repo is the repository identifier (owner/name).
	Repo string `json:"repo" yaml:"repo"`
	// InstanceID uniquely identifies the task instance.
	InstanceID string `json:"instance_id" yaml:"instance_id"`
	// BaseCommit is the full commit identifier the fix applies to.
	BaseCommit string `json:"base_commit" yaml:"base_commit"`
	// FixPatch is the unified diff resolving the issue, excluding test files.
	FixPatch string `json:"patch" yaml:"patch"`
	// TestPatch is the unified diff of pre-existing test changes, if any.
	TestPatch string `json:"test_patch" yaml:"test_patch"`
	// ProblemStatement is the issue title and body text.
	ProblemStatement string `json:"problem_statement" yaml:"problem_statement"`
	// HintsText is the pre-fix discussion text.
	HintsText string `json:"hints_text" yaml:"hints_text"`
	// CreatedAt is the issue creation timestamp (RFC 3339).
	CreatedAt string `json:"created_at" yaml:"created_at"`
	// Version is the package/version string of the repository at BaseCommit.
	Version string `json:"version" yaml:"version"`
}

// Validate checks the fields required for processing.
func (t *TaskInstance) Validate() error {
	if t == nil {
		return errors.New("task instance is nil")
	}
	if t.Repo == "" {
		return errors.New("repo is required")
	}
	if t.InstanceID == "" {
		return errors.New("instance_id is required")
	}
	if t.BaseCommit == "" {
		return fmt.Errorf("instance %s: base_commit is required", t.InstanceID)
	}
	if strings.TrimSpace(t.FixPatch) == "" {
		return fmt.Errorf("instance %s: fix patch is empty", t.InstanceID)
	}
	return nil
}

// TestFiles returns the file paths touched by the pre-existing test patch:
// modified/deleted files via the "--- a/..." header, then newly added files
// via the "/dev/null" header, in patch order without dedup.
func (t *TaskInstance) TestFiles() []string {
	return ChangedFiles(t.TestPatch)
}

// NeedsTestGeneration reports whether a regression test must be generated:
// the test patch is empty or touches fewer than MinTestPatchFiles files.
func (t *TaskInstance) NeedsTestGeneration() bool {
	if strings.TrimSpace(t.TestPatch) == "" {
		return true
	}
	return len(t.TestFiles()) < MinTestPatchFiles
}

// ChangedFiles extracts file paths from a unified diff. Old paths come from
// "--- a/<path>" headers; added files come from the "/dev/null" pattern.
func ChangedFiles(patch string) []string {
	if patch == "" {
		return nil
	}
	var files []string
	for _, m := range diffModifiedFileRe.FindAllStringSubmatch(patch, -1) {
		files = append(files, strings.TrimSpace(m[1]))
	}
	for _, m := range diffNewFileRe.FindAllStringSubmatch(patch, -1) {
		files = append(files, strings.TrimSpace(m[1]))
	}
	return files
}
