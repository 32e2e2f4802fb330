// File: internal/handle/table.go
// Package handle maps opaque transport tokens back to live objects.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sharded, thread-safe token table. Transports carry a Token instead of a
// pointer; callbacks resolve it here and only get an object back while it
// can still be referenced.

package handle

import (
	"encoding/binary"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-xmsgr/api"
)

// Referent is an object whose reference can be taken conditionally.
type Referent interface {
	// TryRef takes a reference unless the object is already being destroyed.
	TryRef() bool
}

// Table issues tokens and resolves them to referents.
type Table[T Referent] struct {
	shards []*shard[T]
	mask   uint64
	next   atomic.Uint64
}

type shard[T Referent] struct {
	mu      sync.RWMutex
	entries map[api.Token]T
}

// NewTable constructs a table with shardCount shards, rounded up to a
// power of two.
func NewTable[T Referent](shardCount int) *Table[T] {
	if shardCount <= 0 {
		shardCount = 16
	}
	n := nextPowerOfTwo(uint64(shardCount))
	shards := make([]*shard[T], n)
	for i := range shards {
		shards[i] = &shard[T]{entries: make(map[api.Token]T)}
	}
	return &Table[T]{shards: shards, mask: n - 1}
}

func (t *Table[T]) shard(tok api.Token) *shard[T] {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(tok))
	h := fnv.New64a()
	h.Write(b[:])
	return t.shards[h.Sum64()&t.mask]
}

// Register stores v and returns its token. Tokens are never zero and never
// reused within a table.
func (t *Table[T]) Register(v T) api.Token {
	tok := api.Token(t.next.Add(1))
	sh := t.shard(tok)
	sh.mu.Lock()
	sh.entries[tok] = v
	sh.mu.Unlock()
	return tok
}

// Resolve returns the referent for tok with a reference taken. It fails for
// the zero token, unknown tokens and referents past their last reference.
func (t *Table[T]) Resolve(tok api.Token) (T, bool) {
	var zero T
	if tok == 0 {
		return zero, false
	}
	sh := t.shard(tok)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.entries[tok]
	if !ok || !v.TryRef() {
		return zero, false
	}
	return v, true
}

// Peek returns the referent without taking a reference.
func (t *Table[T]) Peek(tok api.Token) (T, bool) {
	sh := t.shard(tok)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.entries[tok]
	return v, ok
}

// Delete forgets tok. Later resolutions fail.
func (t *Table[T]) Delete(tok api.Token) {
	sh := t.shard(tok)
	sh.mu.Lock()
	delete(sh.entries, tok)
	sh.mu.Unlock()
}

// Len counts live tokens.
func (t *Table[T]) Len() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Range applies fn to every registered referent.
func (t *Table[T]) Range(fn func(api.Token, T)) {
	for _, sh := range t.shards {
		sh.mu.RLock()
		for tok, v := range sh.entries {
			fn(tok, v)
		}
		sh.mu.RUnlock()
	}
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}
