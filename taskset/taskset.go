// Package taskset loads task instances from JSONL files produced by the
// collection pipeline.
package taskset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/evalfactory/evalfactory/types"
)

// Load reads every instance from a JSONL file, one JSON object per
// line. Blank lines are skipped; malformed lines and invalid instances
// fail the whole load so a corrupted task file never half-runs.
func Load(path string) ([]*types.TaskInstance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open task file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var instances []*types.TaskInstance
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var inst types.TaskInstance
		if err := json.Unmarshal(line, &inst); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, lineNo, err)
		}
		if err := inst.Validate(); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, lineNo, err)
		}
		if seen[inst.InstanceID] {
			return nil, fmt.Errorf("%s line %d: duplicate instance %s", path, lineNo, inst.InstanceID)
		}
		seen[inst.InstanceID] = true
		instances = append(instances, &inst)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read task file %s: %w", path, err)
	}
	return instances, nil
}

// Filter keeps only the instances whose id is in ids. Unknown ids are
// an error so a typo in a filter never silently shrinks the batch.
// An empty filter keeps everything.
func Filter(instances []*types.TaskInstance, ids []string) ([]*types.TaskInstance, error) {
	if len(ids) == 0 {
		return instances, nil
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			want[id] = true
		}
	}

	var out []*types.TaskInstance
	for _, inst := range instances {
		if want[inst.InstanceID] {
			out = append(out, inst)
			delete(want, inst.InstanceID)
		}
	}
	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for id := range want {
			missing = append(missing, id)
		}
		return nil, fmt.Errorf("unknown instance ids: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// LoadIDFile reads instance ids from a text file, one per line.
// Blank lines and lines starting with # are skipped.
func LoadIDFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open id file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read id file %s: %w", path, err)
	}
	return ids, nil
}
