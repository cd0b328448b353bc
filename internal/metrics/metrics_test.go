package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCounterIncrements(t *testing.T) {
	r := NewRegistry(prometheus.NewRegistry())
	c := r.Counter("test_counter_total", "topic", "x")
	c.Inc()
	c.Add(2)

	// Re-fetching the same name+labels must return the same underlying
	// series rather than a fresh zeroed one.
	c2 := r.Counter("test_counter_total", "topic", "x")
	c2.Inc()
	if c.(promCounter).c != c2.(promCounter).c {
		t.Fatalf("expected re-fetched counter to share the original series")
	}
}

func TestAveragerTracksMean(t *testing.T) {
	r := NewRegistry(prometheus.NewRegistry())
	a := r.Averager("test_avg")
	a.Observe(2)
	a.Observe(4)
	if got := a.Read(); got != 3 {
		t.Fatalf("expected mean 3, got %v", got)
	}
}
