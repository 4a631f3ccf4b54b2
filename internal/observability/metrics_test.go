package observability

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsCountersConcurrent(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Add(BroadcastsDelivered, 2)
			m.RecordRequest("/api/tickets", "GET", 200, time.Millisecond)
		}()
	}
	wg.Wait()

	if got := m.Counter(BroadcastsDelivered); got != 100 {
		t.Fatalf("delivered = %d, want 100", got)
	}
	snap := m.Snapshot()
	if snap.Requests["/api/tickets|GET|200"] != 50 {
		t.Fatalf("requests = %v", snap.Requests)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Add(BroadcastsDropped, 1)
	m.RecordError("/x", "GET", "NOT_FOUND")
	if m.Counter(BroadcastsDropped) != 0 {
		t.Fatal("nil metrics should report zero")
	}
}
