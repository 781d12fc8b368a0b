package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorRecordsCompletionsAndLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.Submitted(0)

	if _, _, ok := c.LatencyStats(0); ok {
		t.Fatalf("expected no latency stats before any completion")
	}

	c.Completed(0, true, 10)
	c.Completed(0, false, 20)
	c.Timeout(1, 5)
	c.URCDispatched(0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected registered metric families")
	}

	mean, stddev, ok := c.LatencyStats(0)
	if !ok {
		t.Fatalf("expected Completed to have recorded latency on port 0")
	}
	if mean != 15 {
		t.Fatalf("unexpected mean: %v", mean)
	}
	if stddev <= 0 {
		t.Fatalf("expected positive stddev, got %v", stddev)
	}

	if _, _, ok := c.LatencyStats(1); !ok {
		t.Fatalf("expected Timeout to have recorded latency on port 1")
	}
}
