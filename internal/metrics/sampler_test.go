package metrics

import "testing"

func TestSamplerProducesBoundedCPUUsage(t *testing.T) {
	s := NewSampler()

	sample := s.Sample()

	if sample.CPUUsage < 0 || sample.CPUUsage > 1 {
		t.Fatalf("expected cpu usage in [0,1], got %f", sample.CPUUsage)
	}

	if sample.GoroutineCount <= 0 {
		t.Fatal("expected at least one goroutine counted")
	}
}
