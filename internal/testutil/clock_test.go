package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_NowStepsOneSecond(t *testing.T) {
	clock := NewDeterministicClock()

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), clock.Now())
}

func TestDeterministicClock_IndependentClocksAgree(t *testing.T) {
	a, b := NewDeterministicClock(), NewDeterministicClock()
	for range 10 {
		assert.Equal(t, a.Now(), b.Now())
	}
}

func TestDeterministicClock_ConcurrentNowIsUnique(t *testing.T) {
	clock := NewDeterministicClock()
	const workers, calls = 20, 50

	var (
		mu   sync.Mutex
		seen = make(map[time.Time]bool)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range calls {
				ts := clock.Now()
				mu.Lock()
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*calls)
	assert.True(t, seen[Epoch])
	assert.True(t, seen[Epoch.Add(time.Duration(workers*calls-1)*time.Second)])
}
