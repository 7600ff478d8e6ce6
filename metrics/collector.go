// Package metrics provides per-batch metrics collection.
//
// The Collector accumulates counters during a single batch run. It is a
// leaf package with no internal dependencies. All increment methods are
// nil-receiver safe, so callers never need to guard instrumentation.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of the batch counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Instance lifecycle
	InstancesStarted  int64
	InstancesAccepted int64
	InstancesFailed   int64
	InstancesSkipped  int64

	// Sandbox
	ImageBuilds   int64
	BuildFailures int64
	HarnessRuns   int64
	Timeouts      int64

	// Memory pool
	PoolHits   int64
	PoolMisses int64

	// Synthesis
	RoundsConsumed int64
	StageRetries   int64

	// Classifications by name
	Classifications map[string]int64

	// Dimensions (informational, set at construction)
	Backend string
	BatchID string
}

// Collector accumulates metrics during a single batch.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	instancesStarted  int64
	instancesAccepted int64
	instancesFailed   int64
	instancesSkipped  int64

	imageBuilds   int64
	buildFailures int64
	harnessRuns   int64
	timeouts      int64

	poolHits   int64
	poolMisses int64

	roundsConsumed int64
	stageRetries   int64

	classifications map[string]int64

	backend string
	batchID string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(backend, batchID string) *Collector {
	return &Collector{
		classifications: make(map[string]int64),
		backend:         backend,
		batchID:         batchID,
	}
}

// --- Instance lifecycle ---

// IncInstanceStarted records an instance entering the loop.
func (c *Collector) IncInstanceStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.instancesStarted++
	c.mu.Unlock()
}

// IncInstanceAccepted records an accepted instance.
func (c *Collector) IncInstanceAccepted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.instancesAccepted++
	c.mu.Unlock()
}

// IncInstanceFailed records a terminally failed instance.
func (c *Collector) IncInstanceFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.instancesFailed++
	c.mu.Unlock()
}

// IncInstanceSkipped records an instance skipped by idempotence.
func (c *Collector) IncInstanceSkipped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.instancesSkipped++
	c.mu.Unlock()
}

// --- Sandbox ---

// IncImageBuild records one image build attempt.
func (c *Collector) IncImageBuild() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.imageBuilds++
	c.mu.Unlock()
}

// IncBuildFailure records one failed image build.
func (c *Collector) IncBuildFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.buildFailures++
	c.mu.Unlock()
}

// IncHarnessRun records one harness execution.
func (c *Collector) IncHarnessRun() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.harnessRuns++
	c.mu.Unlock()
}

// IncTimeout records a build or run exceeding its budget.
func (c *Collector) IncTimeout() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.timeouts++
	c.mu.Unlock()
}

// --- Memory pool ---

// IncPoolHit records a pool lookup that seeded artifacts.
func (c *Collector) IncPoolHit() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.poolHits++
	c.mu.Unlock()
}

// IncPoolMiss records a pool lookup miss.
func (c *Collector) IncPoolMiss() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.poolMisses++
	c.mu.Unlock()
}

// --- Synthesis ---

// AddRounds records the rounds one instance consumed.
func (c *Collector) AddRounds(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.roundsConsumed += int64(n)
	c.mu.Unlock()
}

// IncStageRetry records one routed stage retry.
func (c *Collector) IncStageRetry() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stageRetries++
	c.mu.Unlock()
}

// IncClassification records a validation classification by name.
func (c *Collector) IncClassification(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.classifications[name]++
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Classifications: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	classifications := make(map[string]int64, len(c.classifications))
	for k, v := range c.classifications {
		classifications[k] = v
	}

	return Snapshot{
		InstancesStarted:  c.instancesStarted,
		InstancesAccepted: c.instancesAccepted,
		InstancesFailed:   c.instancesFailed,
		InstancesSkipped:  c.instancesSkipped,
		ImageBuilds:       c.imageBuilds,
		BuildFailures:     c.buildFailures,
		HarnessRuns:       c.harnessRuns,
		Timeouts:          c.timeouts,
		PoolHits:          c.poolHits,
		PoolMisses:        c.poolMisses,
		RoundsConsumed:    c.roundsConsumed,
		StageRetries:      c.stageRetries,
		Classifications:   classifications,
		Backend:           c.backend,
		BatchID:           c.batchID,
	}
}
