package handle_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-xmsgr/api"
	"github.com/momentics/hioload-xmsgr/internal/handle"
)

type counted struct {
	refs atomic.Int32
}

func (c *counted) TryRef() bool {
	for {
		n := c.refs.Load()
		if n <= 0 {
			return false
		}
		if c.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func TestRegisterResolve(t *testing.T) {
	tbl := handle.NewTable[*counted](3)
	c := &counted{}
	c.refs.Store(1)

	tok := tbl.Register(c)
	require.NotZero(t, tok)

	got, ok := tbl.Resolve(tok)
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.EqualValues(t, 2, c.refs.Load())

	_, ok = tbl.Resolve(0)
	assert.False(t, ok)
	_, ok = tbl.Resolve(tok + 1000)
	assert.False(t, ok)
}

func TestResolveFailsForDyingReferent(t *testing.T) {
	tbl := handle.NewTable[*counted](0)
	c := &counted{}
	tok := tbl.Register(c)

	_, ok := tbl.Resolve(tok)
	assert.False(t, ok, "zero refcount must not resolve")

	_, ok = tbl.Peek(tok)
	assert.True(t, ok)

	tbl.Delete(tok)
	_, ok = tbl.Peek(tok)
	assert.False(t, ok)
	assert.Zero(t, tbl.Len())
}

func TestTokensAreUnique(t *testing.T) {
	tbl := handle.NewTable[*counted](8)
	var mu sync.Mutex
	seen := make(map[api.Token]struct{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				tok := tbl.Register(&counted{})
				mu.Lock()
				seen[tok] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1600)
	assert.Equal(t, 1600, tbl.Len())

	n := 0
	tbl.Range(func(api.Token, *counted) { n++ })
	assert.Equal(t, 1600, n)
}
