package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCollector_CollectWithNoJobs(t *testing.T) {
	c := NewCollector(nil)
	ch := make(chan prometheus.Metric, 32)
	done := make(chan struct{})
	go func() {
		c.Collect(ch)
		close(done)
	}()

	count := 0
	for {
		select {
		case <-ch:
			count++
		case <-done:
			for len(ch) > 0 {
				<-ch
				count++
			}
			if count == 0 {
				t.Fatal("expected baseline metrics even with no jobs recorded")
			}
			return
		}
	}
}

func TestCollector_JobLifecycle(t *testing.T) {
	c := NewCollector(nil)
	c.JobStarted()
	c.AddBytesSent(1024)
	c.AddRawBytes(4096)
	c.AddKeysVisited(10)
	c.IncHeartbeats()
	c.JobEnded(true, 50*time.Millisecond)

	if c.jobsActive != 0 {
		t.Errorf("jobsActive = %d, want 0 after JobEnded", c.jobsActive)
	}
	if c.jobsTotal != 1 {
		t.Errorf("jobsTotal = %d, want 1", c.jobsTotal)
	}
	if c.jobsFailed != 0 {
		t.Errorf("jobsFailed = %d, want 0 for a successful job", c.jobsFailed)
	}

	var m dto.Metric
	if err := c.jobDuration.WithLabelValues("success").(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.Histogram.GetSampleCount() != 1 {
		t.Errorf("histogram sample count = %d, want 1", m.Histogram.GetSampleCount())
	}
}

func TestCollector_JobFailure(t *testing.T) {
	c := NewCollector(nil)
	c.JobStarted()
	c.JobEnded(false, 10*time.Millisecond)
	if c.jobsFailed != 1 {
		t.Errorf("jobsFailed = %d, want 1", c.jobsFailed)
	}
}
