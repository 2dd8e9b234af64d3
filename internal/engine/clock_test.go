package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memberprop/internal/model"
)

func TestClock_NextStartsAtOne(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
}

func TestClock_ConcurrentBatchesGetUniqueNumbers(t *testing.T) {
	c := NewClock()
	const n = 50

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := c.Next()
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	assert.True(t, seen[1])
	assert.True(t, seen[n])
	assert.Equal(t, int64(n+1), c.Next())
}

func TestChangeMembers_StampsBatchNumbers(t *testing.T) {
	f := newFixture(t)
	f.users("u1", "u2")
	f.groups("g1")

	first, err := f.engine.AddMembers(f.ctx, "g1", map[string]model.Role{"u1": model.RoleGroupMember})
	require.NoError(t, err)
	second, err := f.engine.AddMembers(f.ctx, "g1", map[string]model.Role{"u2": model.RoleGroupMember})
	require.NoError(t, err)

	assert.Equal(t, first.Batch+1, second.Batch)
}
