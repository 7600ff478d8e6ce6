package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("stagegen", "batch-001")

	c.IncInstanceStarted()
	c.IncInstanceAccepted()
	c.IncInstanceFailed()
	c.IncInstanceFailed()
	c.IncInstanceSkipped()
	c.IncImageBuild()
	c.IncBuildFailure()
	c.IncHarnessRun()
	c.IncHarnessRun()
	c.IncHarnessRun()
	c.IncTimeout()
	c.IncPoolHit()
	c.IncPoolMiss()
	c.IncPoolMiss()
	c.AddRounds(3)
	c.AddRounds(2)
	c.IncStageRetry()
	c.IncClassification("FAIL2PASS")
	c.IncClassification("FAIL2PASS")
	c.IncClassification("PASS2PASS")

	s := c.Snapshot()

	if s.InstancesStarted != 1 {
		t.Errorf("InstancesStarted = %d, want 1", s.InstancesStarted)
	}
	if s.InstancesAccepted != 1 {
		t.Errorf("InstancesAccepted = %d, want 1", s.InstancesAccepted)
	}
	if s.InstancesFailed != 2 {
		t.Errorf("InstancesFailed = %d, want 2", s.InstancesFailed)
	}
	if s.InstancesSkipped != 1 {
		t.Errorf("InstancesSkipped = %d, want 1", s.InstancesSkipped)
	}
	if s.ImageBuilds != 1 || s.BuildFailures != 1 {
		t.Errorf("builds = %d/%d", s.ImageBuilds, s.BuildFailures)
	}
	if s.HarnessRuns != 3 {
		t.Errorf("HarnessRuns = %d, want 3", s.HarnessRuns)
	}
	if s.Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", s.Timeouts)
	}
	if s.PoolHits != 1 || s.PoolMisses != 2 {
		t.Errorf("pool = %d/%d", s.PoolHits, s.PoolMisses)
	}
	if s.RoundsConsumed != 5 {
		t.Errorf("RoundsConsumed = %d, want 5", s.RoundsConsumed)
	}
	if s.StageRetries != 1 {
		t.Errorf("StageRetries = %d, want 1", s.StageRetries)
	}
	if s.Classifications["FAIL2PASS"] != 2 {
		t.Errorf("FAIL2PASS = %d, want 2", s.Classifications["FAIL2PASS"])
	}
	if s.Backend != "stagegen" || s.BatchID != "batch-001" {
		t.Errorf("dimensions = %q/%q", s.Backend, s.BatchID)
	}
}

func TestCollector_NilReceiverSafe(t *testing.T) {
	var c *Collector

	// None of these may panic.
	c.IncInstanceStarted()
	c.IncInstanceAccepted()
	c.IncInstanceFailed()
	c.IncInstanceSkipped()
	c.IncImageBuild()
	c.IncBuildFailure()
	c.IncHarnessRun()
	c.IncTimeout()
	c.IncPoolHit()
	c.IncPoolMiss()
	c.AddRounds(1)
	c.IncStageRetry()
	c.IncClassification("FAIL2PASS")

	s := c.Snapshot()
	if s.InstancesStarted != 0 {
		t.Errorf("nil collector snapshot not zero: %+v", s)
	}
	if s.Classifications == nil {
		t.Error("nil collector snapshot must carry a usable map")
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("stagegen", "batch-002")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncInstanceStarted()
			c.IncHarnessRun()
			c.IncClassification("FAIL2PASS")
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.InstancesStarted != 50 || s.HarnessRuns != 50 {
		t.Errorf("counters = %d/%d, want 50/50", s.InstancesStarted, s.HarnessRuns)
	}
	if s.Classifications["FAIL2PASS"] != 50 {
		t.Errorf("FAIL2PASS = %d, want 50", s.Classifications["FAIL2PASS"])
	}

	// Snapshot maps are copies.
	s.Classifications["FAIL2PASS"] = 0
	if c.Snapshot().Classifications["FAIL2PASS"] != 50 {
		t.Error("snapshot leaked internal map")
	}
}
