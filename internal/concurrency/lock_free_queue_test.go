package concurrency

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockFreeQueueBounded(t *testing.T) {
	q := NewLockFreeQueue[int](3)
	for i := 0; i < 4; i++ {
		require.True(t, q.Enqueue(i))
	}
	assert.False(t, q.Enqueue(99), "full")
	assert.Equal(t, 4, q.Len())

	for i := 0; i < 4; i++ {
		v, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Dequeue()
	assert.False(t, ok)
	assert.Zero(t, q.Len())
}

func TestLockFreeQueueConcurrent(t *testing.T) {
	const producers, per = 8, 1000
	q := NewLockFreeQueue[int](producers * per)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				for !q.Enqueue(p*per + i) {
				}
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool, producers*per)
	for {
		v, ok := q.Dequeue()
		if !ok {
			break
		}
		seen[v] = true
	}
	assert.Len(t, seen, producers*per)
}

func TestNextPowerOfTwo(t *testing.T) {
	for in, want := range map[int]int{-1: 1, 0: 1, 1: 1, 2: 2, 3: 4, 64: 64, 65: 128} {
		assert.Equal(t, want, NextPowerOfTwo(in), "input %d", in)
	}
}
