package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_Run(t *testing.T) {
	for _, parallelism := range []int{0, 1, 3, -1} {
		pool := New(parallelism)
		results := make([]int, 50)
		pool.Run(len(results), func(i int) { results[i] = i * i })
		for i, r := range results {
			require.Equalf(t, i*i, r, "parallelism=%d, task #%d", parallelism, i)
		}
	}

	var nilPool *Pool
	assert.False(t, nilPool.IsEnabled())
	var order []int
	nilPool.Run(3, func(i int) { order = append(order, i) })
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestPool_Limit(t *testing.T) {
	const maxParallelism = 2
	pool := New(maxParallelism)
	var running, maxRunning atomic.Int32
	var mu sync.Mutex
	pool.Run(20, func(int) {
		n := running.Add(1)
		mu.Lock()
		if n > maxRunning.Load() {
			maxRunning.Store(n)
		}
		mu.Unlock()
		for range 1000 {
			_ = n * n
		}
		running.Add(-1)
	})
	assert.LessOrEqual(t, int(maxRunning.Load()), maxParallelism)
	assert.GreaterOrEqual(t, int(maxRunning.Load()), 1)
	assert.Equal(t, int32(0), running.Load())
}

func TestPool_Disabled(t *testing.T) {
	pool := New(0)
	assert.False(t, pool.IsEnabled())
	assert.False(t, pool.IsUnlimited())
	ran := false
	pool.WaitToStart(func() { ran = true })
	assert.True(t, ran, "disabled pool must run tasks inline")

	assert.True(t, New(-1).IsUnlimited())
	assert.Greater(t, NewNumCPU().MaxParallelism(), 0)
}
