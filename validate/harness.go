package validate

import (
	"fmt"
	"strings"
)

// Patch file names written into the shared work directory.
const (
	testPatchFile = "test.patch"
	fixPatchFile  = "fix.patch"
	runScriptFile = "run_tests.sh"
)

// applyPatchFn is the shell function every harness script carries. A
// clean git apply is preferred; patch(1) with fuzz is the fallback for
// patches generated against slightly drifted context. Exit code 3 marks
// an unapplicable patch, distinct from any test exit code the run
// script can report.
const applyPatchFn = `apply_patch() {
  pf="/work/$1"
  if git apply --whitespace=nowarn "$pf" 2>/dev/null; then
    return 0
  fi
  echo ">>> git apply failed for $1, falling back to patch(1)"
  if patch --batch --fuzz=5 -p1 -i "$pf"; then
    return 0
  fi
  echo ">>> patch application failed: $1"
  exit 3
}`

// harnessScript composes the script executed inside the sandbox. The
// container starts in the repository checkout (the environment
// specification's WORKDIR). Patches apply in order, optional extra
// commands mutate the tree, then the run script executes in a subshell
// so its exit status always reaches the marker line.
func harnessScript(patches []string, extraCmds []string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	b.WriteString("set -uo pipefail\n\n")
	b.WriteString("git config --global --add safe.directory \"$(pwd)\" 2>/dev/null || true\n\n")
	b.WriteString(applyPatchFn)
	b.WriteString("\n\n")

	for _, p := range patches {
		fmt.Fprintf(&b, "apply_patch %q\n", p)
	}
	for _, cmd := range extraCmds {
		b.WriteString(cmd)
		b.WriteString("\n")
	}

	b.WriteString("\nbash /work/" + runScriptFile + "\n")
	b.WriteString("echo \"EXIT_CODE=$?\"\n")
	return b.String()
}

// seedEditCommands produces the trivial tree mutations for the
// minimal-fix check: whitespace appended to files the fix patch
// touches. A test that passes under one of these edits does not
// actually require the fix. Each of the edits commands is distinct
// (growing amounts of padding, cycling over the touched files), so a
// single-file fix still yields the full configured count.
func seedEditCommands(files []string, edits int) []string {
	if edits <= 0 || len(files) == 0 {
		return nil
	}
	cmds := make([]string, 0, edits)
	for i := 0; i < edits; i++ {
		f := files[i%len(files)]
		pad := strings.Repeat(`\n`, i/len(files)+1)
		cmds = append(cmds, fmt.Sprintf("printf '%s' >> %q || true", pad, f))
	}
	return cmds
}
