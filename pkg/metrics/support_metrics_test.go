package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyTracker_Window(t *testing.T) {
	tr := NewLatencyTracker(4)
	for i := 1; i <= 6; i++ {
		tr.Record(time.Duration(i) * time.Millisecond)
	}
	st := tr.Stats()
	assert.Equal(t, int64(6), st.Count)
	assert.Equal(t, 4, st.Samples)
	assert.Equal(t, 6.0, st.MaxMS)
	// window holds 3,4,5,6
	assert.Equal(t, 4.5, st.AvgMS)
	assert.Equal(t, 4.0, st.P50MS)
}

func TestLatencyTracker_Empty(t *testing.T) {
	assert.Equal(t, LatencyStats{}, NewLatencyTracker(0).Stats())
}

func TestLatencyRegistry_Concurrent(t *testing.T) {
	r := NewLatencyRegistry(10)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "GET /a"
			if i%2 == 0 {
				key = "GET /b"
			}
			r.Record(key, time.Millisecond)
		}(i)
	}
	wg.Wait()

	all := r.All()
	assert.Len(t, all, 2)
	assert.Equal(t, int64(10), all["GET /a"].Count)
}

func TestPoolStats_Assess(t *testing.T) {
	tests := []struct {
		inUse, max int
		want       PoolHealthStatus
	}{
		{1, 10, PoolHealthy},
		{8, 10, PoolDegraded},
		{10, 10, PoolUnhealthy},
		{5, 0, PoolHealthy},
	}
	for _, tt := range tests {
		got := PoolStats{InUse: tt.inUse, Max: tt.max}.Assess()
		assert.Equal(t, tt.want, got.Health)
	}
}
