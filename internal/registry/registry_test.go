package registry_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-xmsgr/internal/registry"
)

type member struct {
	key  string
	refs atomic.Int32
}

func (m *member) PeerKey() (string, bool) { return m.key, m.key != "" }
func (m *member) Ref()                    { m.refs.Add(1) }

func insert(t *testing.T, r *registry.Registry[*member], m *member) {
	t.Helper()
	got, created, err := r.LookupOrCreate(m.key, func() (*member, error) { return m, nil })
	require.NoError(t, err)
	require.True(t, created)
	require.Same(t, m, got)
}

func TestAppendAndIndex(t *testing.T) {
	r := registry.New[*member]()
	passive := &member{}
	require.True(t, r.Append(passive))
	assert.False(t, r.Append(passive))
	assert.Equal(t, 1, r.Len())
	assert.Zero(t, r.IndexLen())

	assert.False(t, r.TryIndex(passive), "no peer key yet")
	passive.key = "10.0.0.1:6800/1"
	assert.True(t, r.TryIndex(passive))
	assert.True(t, r.TryIndex(passive))

	other := &member{key: passive.key}
	r.Append(other)
	assert.False(t, r.TryIndex(other))

	got, ok := r.Lookup(passive.key)
	require.True(t, ok)
	assert.Same(t, passive, got)
	assert.EqualValues(t, 1, passive.refs.Load())
}

func TestRemoveKeepsForeignIndexEntry(t *testing.T) {
	r := registry.New[*member]()
	a := &member{key: "k"}
	b := &member{key: "k"}
	insert(t, r, a)
	r.Append(b)

	assert.True(t, r.Remove(b))
	assert.True(t, r.Indexed("k"), "b must not unbind a's key")
	assert.False(t, r.Remove(b))

	assert.True(t, r.Remove(a))
	assert.False(t, r.Indexed("k"))
	assert.Zero(t, r.Len())
}

func TestLookupOrCreateOnce(t *testing.T) {
	r := registry.New[*member]()
	var creates atomic.Int32
	var wg sync.WaitGroup
	results := make([]*member, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, _, err := r.LookupOrCreate("peer", func() (*member, error) {
				creates.Add(1)
				return &member{key: "peer"}, nil
			})
			assert.NoError(t, err)
			results[i] = m
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, creates.Load())
	for _, m := range results {
		assert.Same(t, results[0], m)
	}
	assert.EqualValues(t, 32, results[0].refs.Load())
	assert.Equal(t, 1, r.Len())
}

func TestLookupOrCreateError(t *testing.T) {
	r := registry.New[*member]()
	boom := errors.New("boom")
	_, created, err := r.LookupOrCreate("x", func() (*member, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, created)
	assert.Zero(t, r.Len())
}

func TestConcurrentRemoveIsAtomic(t *testing.T) {
	r := registry.New[*member]()
	ms := make([]*member, 100)
	for i := range ms {
		ms[i] = &member{key: string(rune('a' + i%26)) + string(rune('0'+i/26))}
		insert(t, r, ms[i])
	}
	var wg sync.WaitGroup
	for i := range ms {
		wg.Add(2)
		go func(m *member) { defer wg.Done(); r.Remove(m) }(ms[i])
		go func(m *member) {
			defer wg.Done()
			// A reader never sees an indexed member missing from the sequence.
			if _, ok := r.Lookup(m.key); ok {
				_ = r.Snapshot()
			}
		}(ms[i])
	}
	wg.Wait()
	assert.Zero(t, r.Len())
	assert.Zero(t, r.IndexLen())
}

func TestDrainPreservesOrder(t *testing.T) {
	r := registry.New[*member]()
	a, b, c := &member{}, &member{key: "b"}, &member{}
	r.Append(a)
	insert(t, r, b)
	r.Append(c)
	assert.Equal(t, []*member{a, b, c}, r.Snapshot())
	assert.Equal(t, []*member{a, b, c}, r.Drain())
	assert.Zero(t, r.Len())
	assert.False(t, r.Indexed("b"))
}
