package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPruneOlder(t *testing.T) {
	now := time.Now()
	times := []time.Time{
		now.Add(-3 * time.Minute),
		now.Add(-90 * time.Second),
		now.Add(-10 * time.Second),
	}

	recent := pruneOlder(times, now.Add(-time.Minute))
	assert.Len(t, recent, 1)
	assert.Equal(t, times[2], recent[0])

	assert.Empty(t, pruneOlder(nil, now))
}

func TestSweepInterval(t *testing.T) {
	// Короткие окна не должны крутить чистку чаще раза в минуту
	assert.Equal(t, time.Minute, sweepInterval(time.Second))
	assert.Equal(t, 5*time.Minute, sweepInterval(time.Minute))
}

func TestRateLimiter_RefusedRequestNotCounted(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Close()

	assert.True(t, rl.Allow("u1"))
	assert.True(t, rl.Allow("u1"))

	// Отклонённые запросы не раздувают окно
	for i := 0; i < 5; i++ {
		assert.False(t, rl.Allow("u1"))
	}
	rl.mu.Lock()
	assert.Len(t, rl.seen["u1"], 2)
	rl.mu.Unlock()
}
