package connection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStats_Counters(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	stats := NewStats(start)

	stats.RecordSent(120, start.Add(time.Second))
	stats.RecordSent(80, start.Add(2*time.Second))
	stats.RecordReceived(200, start.Add(3*time.Second))

	snap := stats.Snapshot()
	assert.Equal(t, start, snap.ConnectedAt)
	assert.Equal(t, start.Add(3*time.Second), snap.LastActivity)
	assert.Equal(t, int64(2), snap.MessagesSent)
	assert.Equal(t, int64(1), snap.MessagesReceived)
	assert.Equal(t, int64(200), snap.BytesSent)
	assert.Equal(t, int64(200), snap.BytesReceived)
}

func TestStats_Touch(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	stats := NewStats(start)

	later := start.Add(45 * time.Second)
	stats.Touch(later)

	snap := stats.Snapshot()
	assert.Equal(t, later, snap.LastActivity)
	assert.Equal(t, int64(0), snap.MessagesSent)
}

func TestStats_ConcurrentUpdates(t *testing.T) {
	start := time.Now().UTC()
	stats := NewStats(start)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			stats.RecordSent(10, time.Now().UTC())
		}()
		go func() {
			defer wg.Done()
			stats.RecordReceived(20, time.Now().UTC())
		}()
	}
	wg.Wait()

	snap := stats.Snapshot()
	assert.Equal(t, int64(50), snap.MessagesSent)
	assert.Equal(t, int64(50), snap.MessagesReceived)
	assert.Equal(t, int64(500), snap.BytesSent)
	assert.Equal(t, int64(1000), snap.BytesReceived)
}
