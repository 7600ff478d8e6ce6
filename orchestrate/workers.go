package orchestrate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/evalfactory/evalfactory/types"
)

// BatchResult aggregates one batch execution.
type BatchResult struct {
	// Records holds the terminal record of each processed instance,
	// keyed by instance id. Skipped instances carry their stored record.
	Records map[string]*types.ResultRecord
	// Accepted is the number of accepted instances, skips included.
	Accepted int64
	// Failed is the number of terminally failed instances, skips included.
	Failed int64
	// Errored is the number of instances aborted by infrastructure errors.
	Errored int64
	// Errors holds the per-instance infrastructure errors.
	Errors []error
}

// Ok reports whether every instance in the batch ended accepted.
func (r *BatchResult) Ok() bool {
	return r.Failed == 0 && r.Errored == 0
}

// ProcessAll fans instances out over a bounded worker pool. Instance
// order in the result is deterministic; execution order is not.
func (o *Orchestrator) ProcessAll(ctx context.Context, instances []*types.TaskInstance) *BatchResult {
	workers := o.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	result := &BatchResult{Records: make(map[string]*types.ResultRecord, len(instances))}
	var accepted, failed, errored atomic.Int64

	var mu sync.Mutex // guards result.Records and result.Errors

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, inst := range instances {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			result.Accepted = accepted.Load()
			result.Failed = failed.Load()
			result.Errored = errored.Load()
			return result
		}

		wg.Add(1)
		go func(inst *types.TaskInstance) {
			defer wg.Done()
			defer func() { <-sem }()

			rec, err := o.Process(ctx, inst)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errored.Add(1)
				result.Errors = append(result.Errors, fmt.Errorf("%s: %w", inst.InstanceID, err))
				return
			}
			result.Records[inst.InstanceID] = rec
			if rec.Accepted() {
				accepted.Add(1)
			} else {
				failed.Add(1)
			}
		}(inst)
	}

	wg.Wait()
	result.Accepted = accepted.Load()
	result.Failed = failed.Load()
	result.Errored = errored.Load()
	return result
}

// FailureReasons tallies failed records by reason, sorted by reason name.
func (r *BatchResult) FailureReasons() []string {
	counts := make(map[string]int)
	for _, rec := range r.Records {
		if rec.Status == types.StatusFailed {
			counts[string(rec.Reason)]++
		}
	}
	reasons := make([]string, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	out := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		out = append(out, fmt.Sprintf("%s: %d", reason, counts[reason]))
	}
	return out
}
